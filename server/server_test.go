package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/autoagent/autoagent"
	"github.com/martinemde/autoagent/observability"
	"github.com/martinemde/autoagent/registry"
	"github.com/martinemde/autoagent/unifiedllm"
)

const doneReply = `**Status analysis:** 1+1 is 2
**Completion assessment:** 100%
**Task status:** COMPLETED`

type cannedAdapter struct{ text string }

func (a cannedAdapter) Name() string { return "canned" }

func (a cannedAdapter) Complete(_ context.Context, _ unifiedllm.Request) (*unifiedllm.Response, error) {
	return &unifiedllm.Response{
		Message:      unifiedllm.AssistantMessage(a.text),
		FinishReason: unifiedllm.FinishReason{Reason: "stop"},
	}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clients, err := registry.NewClientRegistry(
		[]registry.ClientConfig{{ID: "canned", Provider: "canned"}},
		registry.WithAdapterFactory(func(registry.ClientConfig) (unifiedllm.ProviderAdapter, error) {
			return cannedAdapter{text: doneReply}, nil
		}),
	)
	require.NoError(t, err)
	t.Cleanup(clients.Close)

	flows, err := registry.NewStaticFlowRepository(map[string]map[string]string{
		"agent-1": {"TaskAnalyzer": "canned", "ResponseAssistant": "canned"},
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics("autoagent", reg)
	require.NoError(t, err)

	orch := autoagent.NewOrchestrator(clients, flows, autoagent.WithMetrics(metrics))
	engine := autoagent.NewEngine(orch, autoagent.DefaultEngineConfig(), nil)
	return New(engine, Config{CORSOrigins: []string{"*"}, Gatherer: reg}, nil)
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/auto_agent", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func frames(t *testing.T, body string) []autoagent.ProgressEvent {
	t.Helper()
	var out []autoagent.ProgressEvent
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		require.True(t, strings.HasPrefix(frame, "data: "), frame)
		var e autoagent.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &e))
		out = append(out, e)
	}
	return out
}

func TestAutoAgentStreamsRun(t *testing.T) {
	s := newTestServer(t)
	rec := post(t, s, `{"aiAgentId":"agent-1","message":"1+1 equals?","sessionId":"sess-1","maxStep":3}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "sess-1", rec.Header().Get("X-Session-ID"))

	events := frames(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, autoagent.EventComplete, last.Type)
	assert.True(t, last.Completed)

	var answers int
	for _, e := range events[:len(events)-1] {
		assert.False(t, e.Terminal())
		assert.Equal(t, "sess-1", e.SessionID)
		if e.SubType == autoagent.SubFinalAnswer {
			answers++
		}
	}
	assert.Equal(t, 1, answers)
}

func TestAutoAgentAssignsSessionID(t *testing.T) {
	s := newTestServer(t)
	rec := post(t, s, `{"aiAgentId":"agent-1","message":"hi","maxStep":1}`)

	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("X-Session-ID")
	require.NotEmpty(t, id)
	for _, e := range frames(t, rec.Body.String()) {
		assert.Equal(t, id, e.SessionID)
	}
}

func TestAutoAgentRejectsBadBody(t *testing.T) {
	s := newTestServer(t)
	for name, body := range map[string]string{
		"not json":      `{"aiAgentId":`,
		"no message":    `{"aiAgentId":"agent-1","maxStep":2}`,
		"zero max step": `{"aiAgentId":"agent-1","message":"hi","maxStep":0}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(t, s, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestAutoAgentUnknownAgentEndsWithErrorFrame(t *testing.T) {
	s := newTestServer(t)
	rec := post(t, s, `{"aiAgentId":"nobody","message":"hi","maxStep":2}`)

	require.Equal(t, http.StatusOK, rec.Code)
	events := frames(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, autoagent.EventError, events[0].Type)
}

func TestHealthAndSessions(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","active_sessions":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agent/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/agent/sessions/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	post(t, s, `{"aiAgentId":"agent-1","message":"hi","sessionId":"m1","maxStep":1}`)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autoagent_runs_total{outcome="completed"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/agent/auto_agent", nil)
	req.Header.Set("Origin", "http://ui.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	// Origin must differ from the request host or cors treats it as same-origin.
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	s.config.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
