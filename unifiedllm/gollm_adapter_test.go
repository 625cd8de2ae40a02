package unifiedllm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
)

func TestGollmAdapterName(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic"} {
		adapter, err := NewGollmAdapter(provider, "test-key-not-real")
		if err != nil {
			t.Logf("skipping %s adapter creation (expected without real key): %v", provider, err)
			continue
		}
		if adapter.Name() != provider {
			t.Errorf("expected name %q, got %q", provider, adapter.Name())
		}
	}
}

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	tests := []struct {
		errMsg string
		check  func(error) bool
		want   string
	}{
		{"401 Unauthorized", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }, "AuthenticationError"},
		{"invalid api key", func(e error) bool { _, ok := e.(*AuthenticationError); return ok }, "AuthenticationError"},
		{"403 Forbidden", func(e error) bool { _, ok := e.(*AccessDeniedError); return ok }, "AccessDeniedError"},
		{"404 not found", func(e error) bool { _, ok := e.(*NotFoundError); return ok }, "NotFoundError"},
		{"429 rate limit exceeded", func(e error) bool { _, ok := e.(*RateLimitError); return ok }, "RateLimitError"},
		{"context length exceeded", func(e error) bool { _, ok := e.(*ContextLengthError); return ok }, "ContextLengthError"},
		{"500 internal server error", func(e error) bool { _, ok := e.(*ServerError); return ok }, "ServerError"},
		{"upstream returned 503", func(e error) bool { _, ok := e.(*ServerError); return ok }, "ServerError"},
		{"timeout waiting for response", func(e error) bool { _, ok := e.(*RequestTimeoutError); return ok }, "RequestTimeoutError"},
		{"dial tcp: connection refused", func(e error) bool { _, ok := e.(*NetworkError); return ok }, "NetworkError"},
		{"content filter triggered", func(e error) bool { _, ok := e.(*ContentFilterError); return ok }, "ContentFilterError"},
		{"something unknown", func(e error) bool { _, ok := e.(*ProviderError); return ok }, "ProviderError"},
	}

	for _, tt := range tests {
		err := adapter.translateError(errForMsg(tt.errMsg))
		if err == nil {
			t.Errorf("expected non-nil error for %q", tt.errMsg)
			continue
		}
		if !tt.check(err) {
			t.Errorf("for %q: expected %s, got %T", tt.errMsg, tt.want, err)
		}
	}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
func errForMsg(msg string) error     { return &simpleError{msg: msg} }

func TestGollmAdapterSupportsToolChoice(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	for _, mode := range []string{"auto", "none", "required", "named"} {
		if !adapter.SupportsToolChoice(mode) {
			t.Errorf("expected %s to be supported", mode)
		}
	}
	if adapter.SupportsToolChoice("invalid") {
		t.Error("expected invalid to not be supported")
	}

	local := &GollmAdapter{provider: "ollama"}
	if local.SupportsToolChoice("named") {
		t.Error("expected named to not be supported for ollama")
	}
}

func TestParseToolCalls(t *testing.T) {
	text := `I'll write the file now. {"tool_calls": [{"name": "write_file", "arguments": {"path": "a.md"}}]}`
	calls := parseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].Name != "write_file" {
		t.Errorf("expected write_file, got %q", calls[0].Name)
	}
	if cleaned := removeToolCallJSON(text, calls); cleaned != "I'll write the file now." {
		t.Errorf("unexpected cleaned text %q", cleaned)
	}

	bare := `[{"name": "notify", "arguments": {}}]`
	if calls := parseToolCalls(bare); len(calls) != 1 || calls[0].Name != "notify" {
		t.Errorf("expected bare array to parse, got %+v", calls)
	}

	if calls := parseToolCalls("plain answer"); len(calls) != 0 {
		t.Errorf("expected no tool calls, got %+v", calls)
	}
}

func TestBuildResponseFinishReason(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4o"}

	resp := adapter.buildResponse(Request{}, "just text")
	if resp.FinishReason.Reason != "stop" || resp.Text() != "just text" {
		t.Errorf("unexpected plain response: %+v", resp)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("expected default model, got %q", resp.Model)
	}

	resp = adapter.buildResponse(Request{}, `[{"name": "notify", "arguments": {}}]`)
	if resp.FinishReason.Reason != "tool_calls" || len(resp.ToolCalls()) != 1 {
		t.Errorf("expected tool call response, got %+v", resp)
	}
}

func TestEstimateTokens(t *testing.T) {
	req := Request{
		Messages: []Message{
			UserMessage("Hello world, this is a test message."),
		},
	}
	if tokens := estimateTokens(req); tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
	if tokens := estimateTokens(Request{}); tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}

type slowGenerator struct {
	delay  time.Duration
	active *int32
	peak   *int32
}

func (g *slowGenerator) Generate(ctx context.Context, _ *gollm.Prompt, _ ...llm.GenerateOption) (string, error) {
	n := atomic.AddInt32(g.active, 1)
	defer atomic.AddInt32(g.active, -1)
	for {
		p := atomic.LoadInt32(g.peak)
		if n <= p || atomic.CompareAndSwapInt32(g.peak, p, n) {
			break
		}
	}
	select {
	case <-time.After(g.delay):
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newSlowAdapter(t *testing.T, delay time.Duration) (*GollmAdapter, *int32, *int32) {
	t.Helper()
	var active, peak, built int32
	factory := func(...gollm.ConfigOption) (generator, error) {
		atomic.AddInt32(&built, 1)
		return &slowGenerator{delay: delay, active: &active, peak: &peak}, nil
	}
	adapter, err := NewGollmAdapter("openai", "test-key-not-real", withGeneratorFactory(factory))
	if err != nil {
		t.Fatalf("NewGollmAdapter: %v", err)
	}
	return adapter, &peak, &built
}

func TestGollmAdapterCompletesConcurrently(t *testing.T) {
	adapter, peak, _ := newSlowAdapter(t, 300*time.Millisecond)

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("four calls took %v, expected them to overlap", elapsed)
	}
	if got := atomic.LoadInt32(peak); got < 2 {
		t.Errorf("expected overlapping Generate calls, peak concurrency was %d", got)
	}
}

func TestGollmAdapterHonorsDeadlineWhileOthersRun(t *testing.T) {
	adapter, _, _ := newSlowAdapter(t, 300*time.Millisecond)

	go func() {
		_, _ = adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("slow")}})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := adapter.Complete(ctx, Request{Messages: []Message{UserMessage("fast")}})
	if err == nil {
		t.Fatal("expected a deadline error")
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("deadline call returned after %v", elapsed)
	}
	var timeout *RequestTimeoutError
	if !errors.As(err, &timeout) {
		t.Errorf("expected RequestTimeoutError, got %T: %v", err, err)
	}
}

func TestGollmAdapterCachesPerGenerationSettings(t *testing.T) {
	adapter, _, built := newSlowAdapter(t, 0)
	if got := atomic.LoadInt32(built); got != 1 {
		t.Fatalf("expected default instance at construction, built %d", got)
	}

	temp := 0.9
	reqs := []Request{
		{},
		{Model: adapter.model},
		{Model: "other-model"},
		{Temperature: &temp},
		{Temperature: &temp},
	}
	for _, req := range reqs {
		if _, err := adapter.Complete(context.Background(), req); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	if got := atomic.LoadInt32(built); got != 3 {
		t.Errorf("expected 3 instances, built %d", got)
	}
}

func TestGollmAdapterFactoryErrorIsConfiguration(t *testing.T) {
	factory := func(...gollm.ConfigOption) (generator, error) {
		return nil, errors.New("unknown provider")
	}
	_, err := NewGollmAdapter("nope", "", withGeneratorFactory(factory))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
}
