package autoagent

import (
	"time"

	"github.com/martinemde/autoagent/observability"
	"github.com/martinemde/autoagent/unifiedllm"
)

// EventType identifies the phase that produced a ProgressEvent.
type EventType string

const (
	EventAnalysis     EventType = "analysis"
	EventExecution    EventType = "execution"
	EventSupervision  EventType = "supervision"
	EventSummary      EventType = "summary"
	EventError        EventType = "error"
	EventComplete     EventType = "complete"
	EventStepStart    EventType = "step_start"
	EventStepComplete EventType = "step_complete"
)

// Event subtypes.
const (
	SubAnalysisStatus     = "analysis_status"
	SubAnalysisHistory    = "analysis_history"
	SubAnalysisStrategy   = "analysis_strategy"
	SubAnalysisProgress   = "analysis_progress"
	SubAnalysisTaskStatus = "analysis_task_status"

	SubExecutionTarget  = "execution_target"
	SubExecutionProcess = "execution_process"
	SubExecutionResult  = "execution_result"
	SubExecutionQuality = "execution_quality"

	SubAssessment  = "assessment"
	SubIssues      = "issues"
	SubSuggestions = "suggestions"
	SubScore       = "score"
	SubPass        = "pass"

	SubSummaryOverview  = "summary_overview"
	SubFinalAnswer      = "final_answer"
	SubIncompleteReport = "incomplete_report"
	SubSummaryError     = "error"
)

// ProgressEvent is one streamed unit of run progress.
type ProgressEvent struct {
	Type      EventType `json:"type"`
	SubType   string    `json:"subType,omitempty"`
	Step      int       `json:"step"`
	Content   string    `json:"content"`
	Completed bool      `json:"completed"`
	Timestamp int64     `json:"timestamp"`
	SessionID string    `json:"sessionId"`
}

// Terminal reports whether the event closes the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Sink receives the events of one session in emission order.
// Implementations must serialize concurrent writes.
type Sink interface {
	Emit(event ProgressEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event ProgressEvent) error

func (f SinkFunc) Emit(event ProgressEvent) error { return f(event) }

// emitter stamps events for one session and absorbs sink failures.
type emitter struct {
	sink      Sink
	sessionID string
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func (e *emitter) emit(typ EventType, subType string, step int, content string, completed bool) {
	if e.sink == nil {
		return
	}
	event := ProgressEvent{
		Type:      typ,
		SubType:   subType,
		Step:      step,
		Content:   content,
		Completed: completed,
		Timestamp: e.now().UnixMilli(),
		SessionID: e.sessionID,
	}
	if err := e.sink.Emit(event); err != nil {
		serr := &SinkError{
			SDKError:  unifiedllm.SDKError{Message: "emit progress event", Cause: err},
			EventType: typ,
		}
		e.logger.Error("sink write failed", "event_type", string(typ), "sub_type", subType, "error", serr)
		e.metrics.RecordSinkFailure()
	}
}

func (e *emitter) section(typ EventType, subType string, step int, content string) {
	if content == "" {
		return
	}
	e.emit(typ, subType, step, content, false)
}

func (e *emitter) stepStart(step int, label string) {
	e.emit(EventStepStart, "", step, "starting: "+label, false)
}

func (e *emitter) stepComplete(step int, label string) {
	e.emit(EventStepComplete, "", step, "finished: "+label, false)
}

func (e *emitter) complete(step int) {
	e.emit(EventComplete, "", step, "run complete", true)
}

func (e *emitter) fail(step int, err error) {
	e.emit(EventError, "", step, err.Error(), false)
}
