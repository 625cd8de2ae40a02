package autoagent

import (
	"fmt"
	"strings"
)

// TaskRequest is the immutable input of one run.
type TaskRequest struct {
	AgentID   string `json:"aiAgentId"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	MaxSteps  int    `json:"maxStep"`
	ExtParams string `json:"extParams,omitempty"`
}

// Validate checks the fields a run cannot start without. SessionID may be
// empty; Engine assigns one.
func (r TaskRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.AgentID) == "":
		return fmt.Errorf("aiAgentId is required")
	case strings.TrimSpace(r.Message) == "":
		return fmt.Errorf("message is required")
	case r.MaxSteps < 1:
		return fmt.Errorf("maxStep must be at least 1, got %d", r.MaxSteps)
	}
	return nil
}

// StepRecord is the condensed record of one loop iteration.
type StepRecord struct {
	Step        int    `json:"step"`
	Analysis    string `json:"analysis"`
	Execution   string `json:"execution"`
	Supervision string `json:"supervision,omitempty"`
}

func (r StepRecord) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== step %d ===\n", r.Step)
	fmt.Fprintf(&b, "[analysis] %s\n", r.Analysis)
	fmt.Fprintf(&b, "[execution] %s\n", r.Execution)
	if r.Supervision != "" {
		fmt.Fprintf(&b, "[supervision] %s\n", r.Supervision)
	}
	return b.String()
}

// Scratch keys handed from one stage to the next.
const (
	scratchAnalysis    = "analysisResult"
	scratchExecution   = "executionResult"
	scratchSupervision = "supervisionResult"
)

// ExecutionState is the mutable state of one run. It is owned by a single
// goroutine and discarded when the run ends.
type ExecutionState struct {
	CurrentStep int
	MaxSteps    int
	Completed   bool
	CurrentTask string
	History     []StepRecord
	RoleClients RoleClientMap

	scratch map[string]string
}

// NewExecutionState creates the state for req, starting at step 1.
func NewExecutionState(req TaskRequest) *ExecutionState {
	return &ExecutionState{
		CurrentStep: 1,
		MaxSteps:    req.MaxSteps,
		CurrentTask: req.Message,
		RoleClients: RoleClientMap{},
		scratch:     make(map[string]string),
	}
}

// Exhausted reports whether the step budget is spent.
func (s *ExecutionState) Exhausted() bool {
	return s.CurrentStep > s.MaxSteps
}

// Done reports whether the loop must stop and summarize.
func (s *ExecutionState) Done() bool {
	return s.Completed || s.Exhausted()
}

// Value returns a scratch value.
func (s *ExecutionState) Value(key string) string {
	return s.scratch[key]
}

// SetValue stores a scratch value.
func (s *ExecutionState) SetValue(key, value string) {
	if s.scratch == nil {
		s.scratch = make(map[string]string)
	}
	s.scratch[key] = value
}

// AppendDraft appends the executor's partial record for the current step.
// A draft already present for the step is replaced.
func (s *ExecutionState) AppendDraft(rec StepRecord) {
	s.putRecord(rec)
}

// MergeRecord replaces the current step's draft with the complete record,
// keeping exactly one record per iteration.
func (s *ExecutionState) MergeRecord(rec StepRecord) {
	s.putRecord(rec)
}

func (s *ExecutionState) putRecord(rec StepRecord) {
	if n := len(s.History); n > 0 && s.History[n-1].Step == rec.Step {
		s.History[n-1] = rec
		return
	}
	s.History = append(s.History, rec)
}

// HistoryText renders the history for prompts. It is empty on the first run.
func (s *ExecutionState) HistoryText() string {
	var b strings.Builder
	for _, rec := range s.History {
		b.WriteString(rec.String())
	}
	return b.String()
}

// ExecutedSteps is the number of iterations reported in summaries; it is
// never below 1.
func (s *ExecutionState) ExecutedSteps() int {
	return max(1, s.CurrentStep-1)
}
