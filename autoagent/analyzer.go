package autoagent

import "context"

const analyzerLabel = "task analysis"

// analyze assesses progress, decides completion and proposes the next
// strategy.
func (o *Orchestrator) analyze(ctx context.Context, r *run) (State, error) {
	st := r.state
	step := st.CurrentStep
	r.events.stepStart(step, analyzerLabel)

	handle, err := o.handle(r, RoleTaskAnalyzer)
	if err != nil {
		return "", err
	}

	stalled := detectStall(st.History, o.stallWindow)
	if stalled {
		r.logger.Warn("execution stalled, asking analyzer to change approach", "step", step)
	}

	opts := o.callOptions(r, handle, o.stages.Analyzer, analysisSchema)
	text, err := o.invoke(ctx, r, RoleTaskAnalyzer, "analyzer", analysisPrompt(r.req, st, stalled), opts)
	if err != nil {
		return "", err
	}

	analysis, perr := o.parserFor(handle).ParseAnalysis(text)
	o.softFail(r, "analyzer", perr)
	for _, s := range analysis.Sections {
		r.events.section(EventAnalysis, s.SubType, step, s.Content)
	}

	st.SetValue(scratchAnalysis, text)
	if analysis.Completed {
		st.Completed = true
	}
	r.logger.Info("analysis finished",
		"step", step,
		"completed", analysis.Completed,
		"signal", string(analysis.Signal),
		"completion_percent", analysis.CompletionPercent,
	)

	r.events.stepComplete(step, analyzerLabel)
	if st.Done() {
		return StateSummarize, nil
	}
	return StateExecute, nil
}
