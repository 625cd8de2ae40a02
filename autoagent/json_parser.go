package autoagent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Schemas requested from clients with structured output enabled.
var (
	analysisSchema = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"status_analysis":    map[string]interface{}{"type": "string"},
			"history_evaluation": map[string]interface{}{"type": "string"},
			"next_step_strategy": map[string]interface{}{"type": "string"},
			"completion_percent": map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 100},
			"task_status":        map[string]interface{}{"type": "string", "enum": []string{"CONTINUE", "COMPLETED"}},
		},
		"required": []string{"status_analysis", "next_step_strategy", "completion_percent", "task_status"},
	}
	executionSchema = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target":        map[string]interface{}{"type": "string"},
			"process":       map[string]interface{}{"type": "string"},
			"result":        map[string]interface{}{"type": "string"},
			"quality_check": map[string]interface{}{"type": "string"},
		},
		"required": []string{"target", "process", "result"},
	}
	supervisionSchema = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"quality_assessment": map[string]interface{}{"type": "string"},
			"issues":             map[string]interface{}{"type": "string"},
			"suggestions":        map[string]interface{}{"type": "string"},
			"quality_score":      map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 100},
			"verdict":            map[string]interface{}{"type": "string", "enum": []string{"PASS", "FAIL", "OPTIMIZE"}},
		},
		"required": []string{"quality_assessment", "quality_score", "verdict"},
	}
)

type analysisJSON struct {
	StatusAnalysis    string      `json:"status_analysis"`
	HistoryEvaluation string      `json:"history_evaluation"`
	NextStepStrategy  string      `json:"next_step_strategy"`
	CompletionPercent flexibleInt `json:"completion_percent"`
	TaskStatus        string      `json:"task_status"`
}

type executionJSON struct {
	Target       string `json:"target"`
	Process      string `json:"process"`
	Result       string `json:"result"`
	QualityCheck string `json:"quality_check"`
}

type supervisionJSON struct {
	QualityAssessment string      `json:"quality_assessment"`
	Issues            string      `json:"issues"`
	Suggestions       string      `json:"suggestions"`
	QualityScore      flexibleInt `json:"quality_score"`
	Verdict           string      `json:"verdict"`
}

// flexibleInt accepts 85, "85" and "85%".
type flexibleInt struct {
	Value int
	Set   bool
}

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse %q as integer: %w", s, err)
	}
	f.Value, f.Set = int(n), true
	return nil
}

// JSONParser decodes schema-constrained output, repairing near-JSON first.
// Output that still does not decode is handed to Fallback.
type JSONParser struct {
	Fallback ResponseParser
}

var _ ResponseParser = JSONParser{}

func (p JSONParser) fallback() ResponseParser {
	if p.Fallback == nil {
		return HeuristicParser{}
	}
	return p.Fallback
}

func (p JSONParser) ParseAnalysis(text string) (Analysis, error) {
	var v analysisJSON
	if err := decodeRepaired(text, &v); err != nil {
		return p.fallback().ParseAnalysis(text)
	}

	a := Analysis{CompletionPercent: -1, TaskStatus: strings.ToUpper(strings.TrimSpace(v.TaskStatus))}
	if v.CompletionPercent.Set {
		a.CompletionPercent = v.CompletionPercent.Value
	}
	a.Sections = nonEmpty(
		Section{SubAnalysisStatus, v.StatusAnalysis},
		Section{SubAnalysisHistory, v.HistoryEvaluation},
		Section{SubAnalysisStrategy, v.NextStepStrategy},
	)

	// The completion rules run over a canonical rendering of the fields.
	var decision strings.Builder
	if a.CompletionPercent >= 0 {
		progress := fmt.Sprintf("completion assessment: %d%%", a.CompletionPercent)
		a.Sections = append(a.Sections, Section{SubAnalysisProgress, progress})
		decision.WriteString(progress + "\n")
	}
	if a.TaskStatus != "" {
		status := "task status: " + a.TaskStatus
		a.Sections = append(a.Sections, Section{SubAnalysisTaskStatus, status})
		decision.WriteString(status + "\n")
	}
	decision.WriteString(v.StatusAnalysis)
	a.Completed, a.Signal = DecideCompletion(decision.String())

	if len(a.Sections) == 0 {
		return p.fallback().ParseAnalysis(text)
	}
	return a, nil
}

func (p JSONParser) ParseExecution(text string) (Execution, error) {
	var v executionJSON
	if err := decodeRepaired(text, &v); err != nil {
		return p.fallback().ParseExecution(text)
	}
	e := Execution{Sections: nonEmpty(
		Section{SubExecutionTarget, v.Target},
		Section{SubExecutionProcess, v.Process},
		Section{SubExecutionResult, v.Result},
		Section{SubExecutionQuality, v.QualityCheck},
	)}
	if len(e.Sections) == 0 {
		return p.fallback().ParseExecution(text)
	}
	return e, nil
}

func (p JSONParser) ParseSupervision(text string) (Supervision, error) {
	var v supervisionJSON
	if err := decodeRepaired(text, &v); err != nil {
		return p.fallback().ParseSupervision(text)
	}
	s := Supervision{Score: -1}
	if v.QualityScore.Set {
		s.Score = v.QualityScore.Value
	}
	s.Sections = nonEmpty(
		Section{SubAssessment, v.QualityAssessment},
		Section{SubIssues, v.Issues},
		Section{SubSuggestions, v.Suggestions},
	)
	switch verdict := Verdict(strings.ToUpper(strings.TrimSpace(v.Verdict))); verdict {
	case VerdictPass, VerdictFail, VerdictOptimize:
		s.Verdict = verdict
	default:
		return s, newParseAmbiguity("supervisor", "unrecognized verdict %q", v.Verdict)
	}
	return s, nil
}

// decodeRepaired extracts the outermost JSON object in text, repairs it and
// decodes it into v.
func decodeRepaired(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 {
		return fmt.Errorf("no JSON object in output")
	}
	candidate := text[start:]
	if end > start {
		candidate = text[start : end+1]
	}
	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("repair JSON output: %w", err)
	}
	return json.Unmarshal([]byte(repaired), v)
}

func nonEmpty(sections ...Section) []Section {
	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		s.Content = strings.TrimSpace(s.Content)
		if s.Content != "" {
			out = append(out, s)
		}
	}
	return out
}
