package stream

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/martinemde/autoagent/autoagent"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// ConsoleSink renders events for a terminal. With AnswerOnly set, only the
// final answer, the incomplete report and errors are printed.
type ConsoleSink struct {
	w          io.Writer
	AnswerOnly bool

	mu sync.Mutex
}

var _ autoagent.Sink = (*ConsoleSink)(nil)

// NewConsoleSink writes to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Emit prints one event.
func (c *ConsoleSink) Emit(e autoagent.ProgressEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.AnswerOnly {
		switch {
		case e.Type == autoagent.EventError:
		case e.SubType == autoagent.SubFinalAnswer, e.SubType == autoagent.SubIncompleteReport:
			_, err := fmt.Fprintln(c.w, e.Content)
			return err
		default:
			return nil
		}
	}

	var line string
	switch e.Type {
	case autoagent.EventStepStart, autoagent.EventStepComplete:
		line = gray(fmt.Sprintf("[step %d] %s", e.Step, e.Content))
	case autoagent.EventAnalysis:
		line = fmt.Sprintf("%s %s", blue(label(e)), e.Content)
	case autoagent.EventExecution:
		line = fmt.Sprintf("%s %s", cyan(label(e)), e.Content)
	case autoagent.EventSupervision:
		line = fmt.Sprintf("%s %s", yellow(label(e)), e.Content)
	case autoagent.EventSummary:
		if e.SubType == autoagent.SubSummaryError {
			line = fmt.Sprintf("%s %s", red(label(e)), e.Content)
		} else {
			line = fmt.Sprintf("%s\n%s", bold(label(e)), e.Content)
		}
	case autoagent.EventComplete:
		line = green(fmt.Sprintf("✓ %s", e.Content))
	case autoagent.EventError:
		line = red(fmt.Sprintf("✗ %s", e.Content))
	default:
		line = fmt.Sprintf("%s %s", label(e), e.Content)
	}
	_, err := fmt.Fprintln(c.w, strings.TrimRight(line, "\n"))
	return err
}

func label(e autoagent.ProgressEvent) string {
	if e.SubType == "" {
		return fmt.Sprintf("[%s]", e.Type)
	}
	return fmt.Sprintf("[%s/%s]", e.Type, e.SubType)
}
