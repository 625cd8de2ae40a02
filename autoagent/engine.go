package autoagent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/martinemde/autoagent/observability"
)

// EngineConfig bounds how many runs execute at once and for how long.
type EngineConfig struct {
	MaxConcurrentRuns int64         `mapstructure:"max_concurrent_runs"`
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
}

// DefaultEngineConfig returns 16 concurrent runs and a 30 minute timeout.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{MaxConcurrentRuns: 16, SessionTimeout: 30 * time.Minute}
}

// ErrSessionActive is returned when a session ID is already running.
var ErrSessionActive = errors.New("session already active")

// Engine runs sessions on an Orchestrator with a concurrency limit, a
// session timeout and cancellation by session ID.
type Engine struct {
	orchestrator *Orchestrator
	config       EngineConfig
	sem          *semaphore.Weighted
	logger       *observability.Logger
	newID        func() string

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewEngine creates an Engine.
func NewEngine(orchestrator *Orchestrator, config EngineConfig, logger *observability.Logger) *Engine {
	if config.MaxConcurrentRuns <= 0 {
		config.MaxConcurrentRuns = DefaultEngineConfig().MaxConcurrentRuns
	}
	return &Engine{
		orchestrator: orchestrator,
		config:       config,
		sem:          semaphore.NewWeighted(config.MaxConcurrentRuns),
		logger:       observability.OrNop(logger).Component("engine"),
		newID:        func() string { return uuid.New().String() },
		active:       make(map[string]context.CancelFunc),
	}
}

// Run executes req synchronously. A missing session ID is replaced with a
// new one, which is returned.
func (e *Engine) Run(ctx context.Context, req TaskRequest, sink Sink) (string, error) {
	if req.SessionID == "" {
		req.SessionID = e.newID()
	}
	return req.SessionID, e.run(ctx, req, sink)
}

func (e *Engine) run(ctx context.Context, req TaskRequest, sink Sink) error {
	logger := e.logger.With("session_id", req.SessionID)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		err = fmt.Errorf("waiting for a run slot: %w", err)
		e.reject(req, sink, err)
		return err
	}
	defer e.sem.Release(1)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.config.SessionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.config.SessionTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if !e.register(req.SessionID, cancel) {
		err := fmt.Errorf("%w: %s", ErrSessionActive, req.SessionID)
		e.reject(req, sink, err)
		return err
	}
	defer e.unregister(req.SessionID)

	logger.Debug("session started", "agent_id", req.AgentID)
	err := e.orchestrator.Run(runCtx, req, sink)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("session timed out", "timeout", e.config.SessionTimeout)
	}
	return err
}

// reject reports a run that never reached the orchestrator.
func (e *Engine) reject(req TaskRequest, sink Sink, err error) {
	ev := &emitter{sink: sink, sessionID: req.SessionID, logger: e.logger, now: e.orchestrator.now}
	ev.fail(1, err)
}

func (e *Engine) register(sessionID string, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.active[sessionID]; exists {
		return false
	}
	e.active[sessionID] = cancel
	return true
}

func (e *Engine) unregister(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, sessionID)
}

// Cancel stops an active session at its next call boundary.
func (e *Engine) Cancel(sessionID string) bool {
	e.mu.Lock()
	cancel, ok := e.active[sessionID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveSessions returns the IDs of running sessions, sorted.
func (e *Engine) ActiveSessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
