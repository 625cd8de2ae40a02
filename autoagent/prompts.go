package autoagent

import (
	"fmt"
	"strings"
)

const (
	firstRunMarker     = "[first run]"
	defaultExecuteTask = "execute the current task step"
	retryTask          = "re-execute the task according to supervisor suggestions"
	refineTask         = "optimize the result according to supervisor suggestions"
	stallNote          = "**Note:** the last executions produced the same result. Change approach instead of repeating it."
	promptHistoryLines = 400
)

func analysisPrompt(req TaskRequest, st *ExecutionState, stalled bool) string {
	history := st.HistoryText()
	if strings.TrimSpace(history) == "" {
		history = firstRunMarker
	}
	var note string
	if stalled {
		note = "\n" + stallNote + "\n"
	}
	return fmt.Sprintf(`**Original request:** %s
**Current step:** step %d (max %d)
**Execution history:**
%s
**Current task:** %s
%s
Analyze the current task status, evaluate progress and plan the next step.

**Important:**
- If the request is already satisfied, completion is 100%% and the task status must be COMPLETED
- If more work is needed, output CONTINUE
- Simple tasks (such as 1+1) are COMPLETED once the correct answer is known

**Output strictly in this format:**
**Status analysis:**
[detailed analysis of how far the task has progressed]
**History evaluation:**
[quality and effect of the work done so far]
**Next step strategy:**
[concrete plan for the next step]
**Completion assessment:** [0-100]%%
**Task status:** [CONTINUE/COMPLETED]

**Note:** if completion is 100%%, the task status must be COMPLETED!
`, req.Message, st.CurrentStep, st.MaxSteps, truncateLines(history, promptHistoryLines), st.CurrentTask, note)
}

func executionPrompt(strategy string, withTools bool) string {
	tools := "- No tools are attached to this step; work from the strategy and your own knowledge"
	if withTools {
		tools = `- Tools are attached to this step. Call them to create files, publish content or send notifications
- Do not only describe the process; actually call the tool the strategy needs
- Report the real file paths, URLs and message identifiers the tools return`
	}
	return fmt.Sprintf(`**Analyst strategy:** %s
**Instruction:** carry out the concrete task step described by the strategy above.

**Tools:**
%s

**Requirements:**
1. Follow the strategy exactly and do not skip steps
2. Return real results only; placeholders such as "[link here]" or example URLs are forbidden
3. Every claimed result must be verifiable

**Output strictly in this format:**
**Execution target:**
[the concrete goal of this step]
**Execution process:**
[the detailed steps taken, including the tools called and their parameters]
**Execution result:**
[the concrete outcome, including real file paths and URLs]
**Quality check:**
[self-assessment of the result, confirming tool calls succeeded]
`, strategy, tools)
}

func supervisionPrompt(req TaskRequest, execution string) string {
	return fmt.Sprintf(`**Original request:** %s
**Execution result:** %s
**Supervision:** assess the quality of the execution result, identify problems and suggest improvements.

**Output strictly in this format:**
**Quality assessment:**
[overall quality of the execution result]
**Issues:**
[problems and shortcomings found]
**Suggestions:**
[concrete improvements]
**Quality score:** [0-100]
**Pass:** [PASS/FAIL/OPTIMIZE]
`, req.Message, execution)
}

func finalAnswerPrompt(req TaskRequest, history string) string {
	reference := "Answer from general knowledge."
	if strings.TrimSpace(history) != "" {
		reference = "Work done on the request so far:\n" + truncateLines(history, promptHistoryLines)
	}
	return fmt.Sprintf(`# Request
%s

# Task
Answer the request directly with a clear, accurate and useful answer.

# Reference
%s

# Tool results
If any tool was called while working on the request, the answer must include what it returned:
- published content: the real URL
- created files: the real file path
- notifications: the delivery status or message identifier
- any other tool: its actual return value
Placeholders and example links are forbidden.

# Other requirements
1. Answer the request itself; do not describe internal steps or analysis
2. For calculations, give the result and a short explanation
3. For advice, give concrete and practical options
4. Keep the answer concise; use a list when it covers several points
5. If a complete answer is not possible, say so and why

Answer now:
`, req.Message, reference)
}
