package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/autoagent/autoagent"
)

func event(typ autoagent.EventType, sub, content string) autoagent.ProgressEvent {
	return autoagent.ProgressEvent{
		Type:      typ,
		SubType:   sub,
		Step:      1,
		Content:   content,
		Completed: typ == autoagent.EventComplete,
		Timestamp: 1_700_000_000_000,
		SessionID: "sess-1",
	}
}

func TestSSESinkFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)
	sink := NewSSESink(rec)

	require.NoError(t, sink.Emit(event(autoagent.EventAnalysis, autoagent.SubAnalysisStatus, "thinking")))
	require.NoError(t, sink.Emit(event(autoagent.EventComplete, "", "run complete")))
	assert.True(t, sink.Closed())
	assert.ErrorIs(t, sink.Emit(event(autoagent.EventAnalysis, "", "late")), ErrClosed)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 2)
	require.True(t, strings.HasPrefix(frames[0], "data: "))

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first))
	assert.Equal(t, "analysis", first["type"])
	assert.Equal(t, "analysis_status", first["subType"])
	assert.Equal(t, "sess-1", first["sessionId"])
	assert.EqualValues(t, 1, first["step"])
	assert.Equal(t, false, first["completed"])

	var last autoagent.ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[1], "data: ")), &last))
	assert.True(t, last.Completed)
	assert.Equal(t, autoagent.EventComplete, last.Type)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSSESinkWriteError(t *testing.T) {
	err := NewSSESink(failingWriter{}).Emit(event(autoagent.EventAnalysis, "", "x"))
	assert.ErrorContains(t, err, "broken pipe")
}

func TestConsoleSink(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	require.NoError(t, sink.Emit(event(autoagent.EventStepStart, "", "starting: task analysis")))
	require.NoError(t, sink.Emit(event(autoagent.EventSupervision, autoagent.SubScore, "quality score: 90")))
	require.NoError(t, sink.Emit(event(autoagent.EventComplete, "", "run complete")))

	assert.Equal(t, "[step 1] starting: task analysis\n[supervision/score] quality score: 90\n✓ run complete\n", buf.String())
}

func TestConsoleSinkAnswerOnly(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	sink.AnswerOnly = true
	require.NoError(t, sink.Emit(event(autoagent.EventAnalysis, autoagent.SubAnalysisStatus, "hidden")))
	require.NoError(t, sink.Emit(event(autoagent.EventSummary, autoagent.SubFinalAnswer, "2")))
	require.NoError(t, sink.Emit(event(autoagent.EventError, "", "boom")))

	assert.Equal(t, "2\n✗ boom\n", buf.String())
}
