package autoagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedRegistry blocks every call until release is closed.
type gatedRegistry struct {
	*scriptedRegistry
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRegistry) Invoke(ctx context.Context, handle ClientHandle, prompt string, opts CallOptions) (string, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.scriptedRegistry.Invoke(ctx, handle, prompt, opts)
}

func completingRegistry() *scriptedRegistry {
	return newScriptedRegistry().
		on(RoleTaskAnalyzer, reply{text: doneAnalysis}).
		on(RoleResponseAssistant, reply{text: "2"})
}

// runInBackground runs req on its own goroutine and reports the result.
func runInBackground(engine *Engine, req TaskRequest, sink Sink) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(context.Background(), req, sink)
		done <- err
	}()
	return done
}

func TestEngineAssignsSessionID(t *testing.T) {
	engine := NewEngine(newTestOrchestrator(completingRegistry(), allRoles()), DefaultEngineConfig(), nil)
	engine.newID = func() string { return "generated-id" }

	req := request(3)
	req.SessionID = ""
	sink := &recordingSink{}

	id, err := engine.Run(context.Background(), req, sink)
	require.NoError(t, err)
	assert.Equal(t, "generated-id", id)
	for _, e := range sink.all() {
		assert.Equal(t, "generated-id", e.SessionID)
	}
	assert.Empty(t, engine.ActiveSessions())
}

func TestEngineRejectsDuplicateSession(t *testing.T) {
	gate := &gatedRegistry{
		scriptedRegistry: completingRegistry(),
		entered:          make(chan struct{}, 1),
		release:          make(chan struct{}),
	}
	engine := NewEngine(newTestOrchestrator(gate.scriptedRegistry, allRoles()), DefaultEngineConfig(), nil)
	engine.orchestrator.registry = gate

	done := runInBackground(engine, request(3), &recordingSink{})
	<-gate.entered
	assert.Equal(t, []string{"sess-1"}, engine.ActiveSessions())

	dup := &recordingSink{}
	_, err := engine.Run(context.Background(), request(3), dup)
	require.ErrorIs(t, err, ErrSessionActive)
	assertSingleTerminal(t, dup, EventError)

	close(gate.release)
	require.NoError(t, <-done)
}

func TestEngineCancel(t *testing.T) {
	gate := &gatedRegistry{
		scriptedRegistry: completingRegistry(),
		entered:          make(chan struct{}, 1),
		release:          make(chan struct{}),
	}
	orch := newTestOrchestrator(gate.scriptedRegistry, allRoles())
	orch.registry = gate
	engine := NewEngine(orch, DefaultEngineConfig(), nil)
	sink := &recordingSink{}

	done := runInBackground(engine, request(3), sink)
	<-gate.entered
	assert.True(t, engine.Cancel("sess-1"))
	assert.False(t, engine.Cancel("unknown"))

	err := <-done
	require.Error(t, err)
	assertSingleTerminal(t, sink, EventError)
}

func TestEngineSessionTimeout(t *testing.T) {
	gate := &gatedRegistry{
		scriptedRegistry: completingRegistry(),
		entered:          make(chan struct{}, 1),
		release:          make(chan struct{}),
	}
	orch := newTestOrchestrator(gate.scriptedRegistry, allRoles())
	orch.registry = gate
	engine := NewEngine(orch, EngineConfig{MaxConcurrentRuns: 1, SessionTimeout: 20 * time.Millisecond}, nil)
	sink := &recordingSink{}

	_, err := engine.Run(context.Background(), request(3), sink)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assertSingleTerminal(t, sink, EventError)
}

func TestEngineLimitsConcurrency(t *testing.T) {
	gate := &gatedRegistry{
		scriptedRegistry: completingRegistry(),
		entered:          make(chan struct{}, 1),
		release:          make(chan struct{}),
	}
	orch := newTestOrchestrator(gate.scriptedRegistry, allRoles())
	orch.registry = gate
	engine := NewEngine(orch, EngineConfig{MaxConcurrentRuns: 1}, nil)

	first := runInBackground(engine, request(3), &recordingSink{})
	<-gate.entered

	second := request(3)
	second.SessionID = "sess-2"
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sink := &recordingSink{}
	_, err := engine.Run(ctx, second, sink)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assertSingleTerminal(t, sink, EventError)

	close(gate.release)
	require.NoError(t, <-first)
}
