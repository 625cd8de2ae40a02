package autoagent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/martinemde/autoagent/unifiedllm"
)

// reply is one scripted response; a nil err with empty text is an empty
// model answer.
type reply struct {
	text string
	err  error
}

type invocation struct {
	role   Role
	prompt string
	opts   CallOptions
}

// scriptedRegistry returns queued replies per role. The last reply of a
// queue repeats once the queue drains. Client IDs are role names.
type scriptedRegistry struct {
	mu          sync.Mutex
	replies     map[Role][]reply
	calls       []invocation
	tools       []unifiedllm.Tool
	structured  bool
	resolveErr  error
	resolveTool error
	// beforeReply runs after a call is recorded and before its reply.
	beforeReply func(Role)
}

func newScriptedRegistry() *scriptedRegistry {
	return &scriptedRegistry{replies: make(map[Role][]reply)}
}

func (s *scriptedRegistry) on(role Role, replies ...reply) *scriptedRegistry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[role] = append(s.replies[role], replies...)
	return s
}

func (s *scriptedRegistry) ResolveClient(_ context.Context, role Role, clientID string) (ClientHandle, error) {
	if s.resolveErr != nil {
		return ClientHandle{}, s.resolveErr
	}
	return ClientHandle{ClientID: clientID, Model: "test-model", StructuredOutput: s.structured}, nil
}

func (s *scriptedRegistry) ResolveTools(_ context.Context, _ ClientHandle) ([]unifiedllm.Tool, error) {
	return s.tools, s.resolveTool
}

func (s *scriptedRegistry) Invoke(ctx context.Context, handle ClientHandle, prompt string, opts CallOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role := Role(handle.ClientID)
	s.calls = append(s.calls, invocation{role: role, prompt: prompt, opts: opts})
	if s.beforeReply != nil {
		s.beforeReply(role)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	queue := s.replies[role]
	if len(queue) == 0 {
		return "", errors.New("no scripted reply for " + string(role))
	}
	next := queue[0]
	if len(queue) > 1 {
		s.replies[role] = queue[1:]
	}
	return next.text, next.err
}

func (s *scriptedRegistry) callsFor(role Role) []invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invocation
	for _, c := range s.calls {
		if c.role == role {
			out = append(out, c)
		}
	}
	return out
}

// staticFlows binds every listed role to a client named after it.
type staticFlows struct {
	roles []Role
	err   error
}

func allRoles() staticFlows { return staticFlows{roles: Roles()} }

func (f staticFlows) LoadRoleClientMap(_ context.Context, _ string) (map[Role]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := make(map[Role]string, len(f.roles))
	for _, r := range f.roles {
		m[r] = string(r)
	}
	return m, nil
}

// recordingSink keeps every event; failWith makes Emit fail after recording.
type recordingSink struct {
	mu       sync.Mutex
	events   []ProgressEvent
	failWith error
}

func (s *recordingSink) Emit(e ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.failWith
}

func (s *recordingSink) all() []ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProgressEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) of(typ EventType, subType string) []ProgressEvent {
	var out []ProgressEvent
	for _, e := range s.all() {
		if e.Type == typ && (subType == "" || e.SubType == subType) {
			out = append(out, e)
		}
	}
	return out
}

// instantRetry retries three times without sleeping.
func instantRetry() unifiedllm.RetryPolicy {
	p := unifiedllm.DefaultRetryPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newTestOrchestrator(reg *scriptedRegistry, flows FlowConfigRepository, opts ...OrchestratorOption) *Orchestrator {
	base := []OrchestratorOption{
		WithRetryPolicy(instantRetry()),
		WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }),
	}
	return NewOrchestrator(reg, flows, append(base, opts...)...)
}

const (
	continueAnalysis = `**Status analysis:** work is still in progress
**History evaluation:** partial results so far
**Next step strategy:** keep working on the request
**Completion assessment:** 40%
**Task status:** CONTINUE`

	doneAnalysis = `**Status analysis:** the answer is known
**Next step strategy:** none
**Completion assessment:** 100%
**Task status:** COMPLETED`

	executionReply = `**Execution target:** answer the request
**Execution process:** worked it out
**Execution result:** result is ready
**Quality check:** looks right`

	optimizeSupervision = `**Quality assessment:** acceptable
**Issues:** could be clearer
**Suggestions:** tighten the wording
**Quality score:** 70
**Pass:** OPTIMIZE`

	passSupervision = `**Quality assessment:** correct
**Issues:** none
**Suggestions:** none
**Quality score:** 95
**Pass:** PASS`
)

func request(maxSteps int) TaskRequest {
	return TaskRequest{AgentID: "agent-1", Message: "1+1 equals?", SessionID: "sess-1", MaxSteps: maxSteps}
}
