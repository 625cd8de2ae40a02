package autoagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const summaryLabel = "execution summary"

// answerMarkers flag history lines that likely carry a result.
var answerMarkers = []string{"result", "answer", "=", "suggestion", "plan"}

// summarize emits the overview and either the final answer or the
// incomplete report, then closes the stream. A cancelled run ends here
// with an error instead of complete.
func (o *Orchestrator) summarize(ctx context.Context, r *run) (State, error) {
	st := r.state
	step := st.CurrentStep
	r.events.stepStart(step, summaryLabel)

	r.events.section(EventSummary, SubSummaryOverview, step, summaryOverview(st))
	if st.Completed {
		if err := o.finalAnswer(ctx, r); err != nil {
			return "", err
		}
	} else {
		r.events.section(EventSummary, SubIncompleteReport, step, incompleteReport(r.req, st))
	}

	r.events.stepComplete(step, summaryLabel)
	r.events.complete(step)
	return StateDone, nil
}

// finalAnswer asks the best available role for a direct answer, then a
// different bound role, then falls back to scanning the history. It only
// returns an error when the run was cancelled.
func (o *Orchestrator) finalAnswer(ctx context.Context, r *run) error {
	st := r.state
	step := st.CurrentStep
	prompt := finalAnswerPrompt(r.req, st.HistoryText())

	role, handle, ok := st.RoleClients.First(RoleResponseAssistant)
	if !ok {
		r.events.section(EventSummary, SubFinalAnswer, step, localAnswer(r.req, st))
		return nil
	}

	answer, err := o.invoke(ctx, r, role, "summary", prompt, o.callOptions(r, handle, o.stages.FinalAnswer, nil))
	if err == nil && strings.TrimSpace(answer) != "" {
		r.events.section(EventSummary, SubFinalAnswer, step, strings.TrimSpace(answer))
		return nil
	}
	if err != nil {
		if runCancelled(ctx, err) {
			return fmt.Errorf("final answer: %w", err)
		}
		r.logger.Warn("final answer call failed", "role", string(role), "error", err)
		r.events.section(EventSummary, SubSummaryError, step, "final answer generation failed: "+err.Error())
	}

	if fallback, ok := fallbackRole(st.RoleClients, role); ok {
		fallbackHandle, _ := st.RoleClients.Lookup(fallback)
		answer, err = o.invoke(ctx, r, fallback, "summary", prompt, o.callOptions(r, fallbackHandle, o.stages.Fallback, nil))
		if err == nil && strings.TrimSpace(answer) != "" {
			r.events.section(EventSummary, SubFinalAnswer, step, strings.TrimSpace(answer))
			return nil
		}
		if err != nil {
			if runCancelled(ctx, err) {
				return fmt.Errorf("fallback answer: %w", err)
			}
			r.logger.Warn("fallback answer call failed", "role", string(fallback), "error", err)
			r.events.section(EventSummary, SubSummaryError, step, "fallback answer generation failed: "+err.Error())
		}
	}

	r.events.section(EventSummary, SubFinalAnswer, step, localAnswer(r.req, st))
	return nil
}

// fallbackRole picks the first bound role other than primary.
func fallbackRole(roles RoleClientMap, primary Role) (Role, bool) {
	for _, candidate := range roles.Roles() {
		if candidate != primary {
			return candidate, true
		}
	}
	return "", false
}

func runCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func summaryOverview(st *ExecutionState) string {
	executed := st.ExecutedSteps()
	status := "incomplete (step budget exhausted)"
	efficiency := float64(executed) / float64(max(1, st.MaxSteps)) * 100
	if st.Completed {
		status = "completed"
		efficiency = 100
	}

	roles := make([]string, 0, len(st.RoleClients))
	for _, role := range st.RoleClients.Roles() {
		roles = append(roles, string(role))
	}

	var b strings.Builder
	b.WriteString("## Execution summary\n\n")
	fmt.Fprintf(&b, "- **Executed steps:** %d\n", executed)
	fmt.Fprintf(&b, "- **Max steps:** %d\n", st.MaxSteps)
	fmt.Fprintf(&b, "- **Status:** %s\n", status)
	fmt.Fprintf(&b, "- **Efficiency:** %.1f%%\n", efficiency)
	fmt.Fprintf(&b, "- **Roles used:** %s\n", strings.Join(roles, ", "))
	return b.String()
}

func incompleteReport(req TaskRequest, st *ExecutionState) string {
	var b strings.Builder
	b.WriteString("## Task status\n\n")
	fmt.Fprintf(&b, "### Your request\n**%s**\n\n", req.Message)
	b.WriteString("### Progress\n")
	fmt.Fprintf(&b, "- **Steps:** %d/%d\n", st.ExecutedSteps(), st.MaxSteps)
	b.WriteString("- **Status:** stopped because the step budget was exhausted before the task completed\n\n")
	if len(st.History) > 0 {
		b.WriteString("### Work done\nThe request was worked on, but the step budget ran out before a complete answer.\n\n")
	} else {
		b.WriteString("### Work done\nThe step budget ran out before the request could be worked on.\n\n")
	}
	b.WriteString("### Suggestions\n")
	b.WriteString("- **Raise the step budget**: allow 10 or more steps\n")
	b.WriteString("- **Narrow the request**: split a complex request into smaller, specific ones\n")
	b.WriteString("- **Retry**: ask again with a higher step limit\n")
	return b.String()
}

// localAnswer builds an answer from history lines that look like results.
func localAnswer(req TaskRequest, st *ExecutionState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## About your request: %s\n\n", req.Message)

	history := st.HistoryText()
	if strings.TrimSpace(history) == "" {
		b.WriteString("No execution record is available for this request. Please try again.")
		return b.String()
	}

	found := false
	for _, raw := range strings.Split(history, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "=== ") || !hasAnswerMarker(line) {
			continue
		}
		if !found {
			b.WriteString("**Results:**\n")
			found = true
		}
		b.WriteString("- " + line + "\n")
	}
	if !found {
		b.WriteString("The request was analyzed; see the execution events above for details.")
	}
	return b.String()
}

func hasAnswerMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range answerMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
