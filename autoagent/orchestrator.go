package autoagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/martinemde/autoagent/observability"
	"github.com/martinemde/autoagent/unifiedllm"
)

// State is a node of the run state machine.
type State string

const (
	StateInit      State = "INIT"
	StateAnalyze   State = "ANALYZE"
	StateExecute   State = "EXECUTE"
	StateSupervise State = "SUPERVISE"
	StateSummarize State = "SUMMARIZE"
	StateDone      State = "DONE"
)

// stateHandler runs one state and returns the next one.
type stateHandler func(ctx context.Context, r *run) (State, error)

// run carries everything one execution needs. It is never shared.
type run struct {
	req    TaskRequest
	state  *ExecutionState
	events *emitter
	logger *observability.Logger
}

// Orchestrator drives runs through the state table. One Orchestrator serves
// any number of concurrent runs; per-run state lives in ExecutionState.
type Orchestrator struct {
	registry AgentClientRegistry
	flows    FlowConfigRepository

	parser      ResponseParser
	structured  ResponseParser
	stages      StageOptions
	retry       unifiedllm.RetryPolicy
	stallWindow int

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time

	handlers map[State]stateHandler
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = observability.OrNop(l) }
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithRetryPolicy sets the retry policy applied to every reasoning call.
func WithRetryPolicy(p unifiedllm.RetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.retry = p }
}

// WithStageOptions sets the per-stage call defaults.
func WithStageOptions(s StageOptions) OrchestratorOption {
	return func(o *Orchestrator) { o.stages = s }
}

// WithParser sets the parser for free-text output. JSON output from
// structured clients falls back to it.
func WithParser(p ResponseParser) OrchestratorOption {
	return func(o *Orchestrator) { o.parser = p }
}

// WithStallWindow sets how many identical trailing executions count as a
// stall. Values below 2 disable detection.
func WithStallWindow(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.stallWindow = n }
}

// WithClock sets the clock used for event timestamps.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator builds an Orchestrator over the given collaborators.
func NewOrchestrator(registry AgentClientRegistry, flows FlowConfigRepository, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		flows:       flows,
		parser:      HeuristicParser{},
		stages:      DefaultStageOptions(),
		retry:       unifiedllm.DefaultRetryPolicy(),
		stallWindow: defaultStallWindow,
		logger:      observability.NopLogger(),
		tracer:      observability.NopTracer(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Component("orchestrator")
	o.structured = JSONParser{Fallback: o.parser}
	o.handlers = map[State]stateHandler{
		StateInit:      o.initialize,
		StateAnalyze:   o.analyze,
		StateExecute:   o.execute,
		StateSupervise: o.supervise,
		StateSummarize: o.summarize,
	}
	return o
}

// Run executes req to completion, streaming progress to sink. The stream
// always ends with exactly one complete or error event. The returned error
// is the one reported in the error event.
func (o *Orchestrator) Run(ctx context.Context, req TaskRequest, sink Sink) error {
	_, err := o.drive(ctx, req, sink)
	return err
}

func (o *Orchestrator) drive(ctx context.Context, req TaskRequest, sink Sink) (_ *ExecutionState, err error) {
	ctx = observability.ContextWithSessionID(ctx, req.SessionID)
	ctx, span := o.tracer.Start(ctx, "autoagent.run",
		attribute.String(observability.AttrAgentID, req.AgentID),
		attribute.Int("autoagent.max_steps", req.MaxSteps),
	)
	defer func() { observability.EndSpan(span, err) }()

	logger := o.logger.WithContext(ctx).With("agent_id", req.AgentID)
	r := &run{
		req:   req,
		state: NewExecutionState(req),
		events: &emitter{
			sink:      sink,
			sessionID: req.SessionID,
			logger:    logger,
			metrics:   o.metrics,
			now:       o.now,
		},
		logger: logger,
	}

	if verr := req.Validate(); verr != nil {
		err = fmt.Errorf("invalid task request: %w", verr)
		r.events.fail(r.state.CurrentStep, err)
		return r.state, err
	}

	o.metrics.RunStarted()
	logger.Info("run started", "max_steps", req.MaxSteps)

	current := StateInit
	for current != StateDone {
		if cerr := ctx.Err(); cerr != nil {
			err = fmt.Errorf("run aborted before %s: %w", current, cerr)
			break
		}
		handler, ok := o.handlers[current]
		if !ok {
			err = fmt.Errorf("no handler for state %s", current)
			break
		}

		stage := strings.ToLower(string(current))
		started := time.Now()
		stageCtx, stageSpan := o.tracer.Start(ctx, "autoagent."+stage,
			attribute.String(observability.AttrStage, stage),
			attribute.Int(observability.AttrStep, r.state.CurrentStep),
		)
		next, herr := handler(stageCtx, r)
		observability.EndSpan(stageSpan, herr)
		o.metrics.ObserveStage(stage, time.Since(started))
		if herr != nil {
			err = herr
			break
		}

		logger.Debug("state transition", "from", string(current), "to", string(next), "step", r.state.CurrentStep)
		current = next
	}

	if err != nil {
		r.events.fail(r.state.CurrentStep, err)
		o.metrics.RunFinished("error", len(r.state.History))
		logger.Error("run aborted", "step", r.state.CurrentStep, "error", err)
		return r.state, err
	}

	outcome := "incomplete"
	if r.state.Completed {
		outcome = "completed"
	}
	o.metrics.RunFinished(outcome, len(r.state.History))
	logger.Info("run finished", "outcome", outcome, "steps", len(r.state.History))
	return r.state, nil
}

// initialize resolves the role handles for the agent.
func (o *Orchestrator) initialize(ctx context.Context, r *run) (State, error) {
	agentID := r.req.AgentID
	clientIDs, err := o.flows.LoadRoleClientMap(ctx, agentID)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return "", err
		}
		e := newConfigurationError(agentID, "", "load flow config for agent %q", agentID)
		e.Cause = err
		return "", e
	}
	if len(clientIDs) == 0 {
		return "", newConfigurationError(agentID, "", "no role clients configured for agent %q", agentID)
	}

	for role := range clientIDs {
		if !role.Valid() {
			r.logger.Warn("ignoring unknown role in flow config", "role", string(role))
		}
	}
	for _, role := range Roles() {
		clientID, ok := clientIDs[role]
		if !ok {
			continue
		}
		handle, err := o.registry.ResolveClient(ctx, role, clientID)
		if err != nil {
			e := newConfigurationError(agentID, role, "resolve client %q for role %s", clientID, role)
			e.Cause = err
			return "", e
		}
		r.state.RoleClients[role] = handle
	}
	if len(r.state.RoleClients) == 0 {
		return "", newConfigurationError(agentID, "", "no known roles configured for agent %q", agentID)
	}

	r.logger.Debug("role clients resolved", "roles", fmt.Sprint(r.state.RoleClients.Roles()))
	return StateAnalyze, nil
}

// handle returns the client bound to role or a ConfigurationError.
func (o *Orchestrator) handle(r *run, role Role) (ClientHandle, error) {
	h, ok := r.state.RoleClients.Lookup(role)
	if !ok {
		return ClientHandle{}, newConfigurationError(r.req.AgentID, role, "no client configured for role %s", role)
	}
	return h, nil
}

// callOptions builds the options for one stage call, asking structured
// clients for schema-constrained output.
func (o *Orchestrator) callOptions(r *run, handle ClientHandle, stage StageOption, schema map[string]interface{}) CallOptions {
	opts := stage.callOptions(handle, r.req.SessionID)
	if handle.StructuredOutput && schema != nil {
		opts.ResponseFormat = &unifiedllm.ResponseFormat{Type: "json_schema", JSONSchema: schema, Strict: true}
	}
	return opts
}

func (o *Orchestrator) parserFor(handle ClientHandle) ResponseParser {
	if handle.StructuredOutput {
		return o.structured
	}
	return o.parser
}

// invoke performs one reasoning call for role under the retry policy.
func (o *Orchestrator) invoke(ctx context.Context, r *run, role Role, stage, prompt string, opts CallOptions) (string, error) {
	handle, err := o.handle(r, role)
	if err != nil {
		return "", err
	}

	policy := o.retry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		r.logger.Warn("retrying reasoning call",
			"role", string(role), "stage", stage, "attempt", attempt, "delay", delay, "error", err)
		o.metrics.RecordRetry(string(role))
		if o.retry.OnRetry != nil {
			o.retry.OnRetry(err, attempt, delay)
		}
	}

	started := time.Now()
	text, err := unifiedllm.Retry(ctx, policy, func(ctx context.Context) (string, error) {
		return o.registry.Invoke(ctx, handle, prompt, opts)
	})
	o.metrics.RecordCall(string(role), err)
	if err != nil {
		var (
			cfgErr    *ConfigurationError
			sdkCfgErr *unifiedllm.ConfigurationError
		)
		if errors.As(err, &cfgErr) {
			return "", err
		}
		if errors.As(err, &sdkCfgErr) {
			e := newConfigurationError(r.req.AgentID, role, "client %q for role %s is misconfigured", handle.ClientID, role)
			e.Cause = err
			return "", e
		}
		return "", &FatalCallError{
			SDKError: unifiedllm.SDKError{Message: fmt.Sprintf("%s call failed", role), Cause: err},
			Role:     role,
			Stage:    stage,
		}
	}

	r.logger.Debug("reasoning call finished",
		"role", string(role), "stage", stage, "duration", time.Since(started), "chars", len(text))
	return text, nil
}

// softFail logs and counts a parse ambiguity. Other errors are ignored.
func (o *Orchestrator) softFail(r *run, stage string, err error) {
	var amb *ParseAmbiguityError
	if err == nil || !errors.As(err, &amb) {
		return
	}
	r.logger.Warn("ambiguous model output", "stage", stage, "step", r.state.CurrentStep, "error", err)
	o.metrics.RecordParseAmbiguity(stage)
}
