package autoagent

import (
	"context"
	"strings"
)

const executorLabel = "precise execution"

// execute carries out the analyzer's strategy, with tools when the
// executor's client has any bound.
func (o *Orchestrator) execute(ctx context.Context, r *run) (State, error) {
	st := r.state
	step := st.CurrentStep
	r.events.stepStart(step, executorLabel)

	handle, err := o.handle(r, RolePrecisionExecutor)
	if err != nil {
		return "", err
	}

	strategy := st.Value(scratchAnalysis)
	if strings.TrimSpace(strategy) == "" {
		r.logger.Warn("empty analysis, using default execution strategy", "step", step)
		strategy = defaultExecuteTask
	}

	tools, err := o.registry.ResolveTools(ctx, handle)
	if err != nil {
		e := newConfigurationError(r.req.AgentID, RolePrecisionExecutor, "resolve tools for client %q", handle.ClientID)
		e.Cause = err
		return "", e
	}

	opts := o.callOptions(r, handle, o.stages.Executor, executionSchema)
	opts.Tools = tools
	if len(tools) > 0 {
		r.logger.Debug("executor call with tools", "step", step, "tools", len(tools))
	}

	text, err := o.invoke(ctx, r, RolePrecisionExecutor, "executor", executionPrompt(strategy, len(tools) > 0), opts)
	if err != nil {
		return "", err
	}

	r.events.section(EventExecution, SubExecutionProcess, step, strings.TrimSpace(text))
	execution, perr := o.parserFor(handle).ParseExecution(text)
	o.softFail(r, "executor", perr)
	for _, s := range execution.Sections {
		// The full text already went out as the process section.
		if s.SubType == SubExecutionProcess {
			continue
		}
		r.events.section(EventExecution, s.SubType, step, s.Content)
	}

	st.SetValue(scratchExecution, text)
	st.AppendDraft(StepRecord{
		Step:      step,
		Analysis:  condense(strategy, draftFieldLimit),
		Execution: condense(text, draftFieldLimit),
	})

	r.events.stepComplete(step, executorLabel)
	return StateSupervise, nil
}
