package autoagent

import (
	"context"
	"fmt"
	"strings"
)

const supervisorLabel = "quality supervision"

const supervisionSkipped = "supervision skipped: the execution produced no result"

// supervise grades the execution, applies the verdict and advances the step.
func (o *Orchestrator) supervise(ctx context.Context, r *run) (State, error) {
	st := r.state
	step := st.CurrentStep
	r.events.stepStart(step, supervisorLabel)

	execution := st.Value(scratchExecution)
	supervision := supervisionSkipped
	if strings.TrimSpace(execution) == "" {
		r.logger.Warn("empty execution result, skipping supervision", "step", step)
		r.events.section(EventSupervision, SubAssessment, step, supervisionSkipped)
	} else {
		handle, err := o.handle(r, RoleQualitySupervisor)
		if err != nil {
			return "", err
		}
		opts := o.callOptions(r, handle, o.stages.Supervisor, supervisionSchema)
		text, err := o.invoke(ctx, r, RoleQualitySupervisor, "supervisor", supervisionPrompt(r.req, execution), opts)
		if err != nil {
			return "", err
		}
		supervision = text

		r.events.section(EventSupervision, SubAssessment, step, strings.TrimSpace(text))
		result, perr := o.parserFor(handle).ParseSupervision(text)
		if perr == nil && result.Verdict == VerdictUnknown {
			perr = newParseAmbiguity("supervisor", "no verdict in supervisor output")
		}
		o.softFail(r, "supervisor", perr)

		for _, s := range result.Sections {
			if s.SubType == SubIssues || s.SubType == SubSuggestions {
				r.events.section(EventSupervision, s.SubType, step, s.Content)
			}
		}
		if result.Score >= 0 {
			r.events.section(EventSupervision, SubScore, step, fmt.Sprintf("quality score: %d", result.Score))
		}
		if result.Verdict != VerdictUnknown {
			r.events.section(EventSupervision, SubPass, step, "verdict: "+string(result.Verdict))
		}
		o.applyVerdict(r, result.Verdict)
	}

	st.SetValue(scratchSupervision, supervision)
	st.MergeRecord(StepRecord{
		Step:        step,
		Analysis:    condense(st.Value(scratchAnalysis), mergedFieldLimit),
		Execution:   condense(execution, mergedFieldLimit),
		Supervision: condense(supervision, mergedFieldLimit),
	})

	r.events.stepComplete(step, supervisorLabel)
	st.CurrentStep++
	if st.Done() {
		return StateSummarize, nil
	}
	return StateAnalyze, nil
}

func (o *Orchestrator) applyVerdict(r *run, verdict Verdict) {
	st := r.state
	switch verdict {
	case VerdictPass:
		st.Completed = true
	case VerdictFail:
		st.CurrentTask = retryTask
	case VerdictOptimize:
		st.CurrentTask = refineTask
	default:
		r.logger.Debug("no supervisor verdict, continuing", "step", st.CurrentStep)
		return
	}
	r.logger.Info("supervision verdict", "step", st.CurrentStep, "verdict", string(verdict))
}
