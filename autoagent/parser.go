package autoagent

import (
	"regexp"
	"strconv"
	"strings"
)

// Section is one labelled block of model output.
type Section struct {
	SubType string
	Content string
}

// Analysis is the parsed output of the analyzer.
type Analysis struct {
	Sections          []Section
	CompletionPercent int // -1 when absent
	TaskStatus        string
	Completed         bool
	Signal            CompletionSignal
}

// Execution is the parsed output of the executor.
type Execution struct {
	Sections []Section
}

// Verdict is the supervisor's decision.
type Verdict string

const (
	VerdictPass     Verdict = "PASS"
	VerdictFail     Verdict = "FAIL"
	VerdictOptimize Verdict = "OPTIMIZE"
	VerdictUnknown  Verdict = ""
)

// Supervision is the parsed output of the supervisor.
type Supervision struct {
	Sections []Section
	Score    int // -1 when absent
	Verdict  Verdict
}

// ResponseParser turns stage output into structured results. A non-nil
// *ParseAmbiguityError accompanies a best-effort result and is never fatal.
type ResponseParser interface {
	ParseAnalysis(text string) (Analysis, error)
	ParseExecution(text string) (Execution, error)
	ParseSupervision(text string) (Supervision, error)
}

type sectionLabel struct {
	marker  string
	subType string
}

var analysisLabels = []sectionLabel{
	{"status analysis:", SubAnalysisStatus},
	{"history evaluation:", SubAnalysisHistory},
	{"next step strategy:", SubAnalysisStrategy},
	{"completion assessment:", SubAnalysisProgress},
	{"task status:", SubAnalysisTaskStatus},
}

var executionLabels = []sectionLabel{
	{"execution target:", SubExecutionTarget},
	{"execution process:", SubExecutionProcess},
	{"execution result:", SubExecutionResult},
	{"quality check:", SubExecutionQuality},
}

var supervisionLabels = []sectionLabel{
	{"quality assessment:", SubAssessment},
	{"issues:", SubIssues},
	{"suggestions:", SubSuggestions},
	{"quality score:", SubScore},
	{"pass:", SubPass},
}

var (
	percentRe = regexp.MustCompile(`(\d{1,3})\s*%`)
	scoreRe   = regexp.MustCompile(`(?i)score[^:\n]*:\s*(?:\*\*\s*)?(\d{1,3})`)
	verdictRe = regexp.MustCompile(`(?i)(?:pass|verdict)[^:\n]*:\s*(?:\*\*\s*)?\[?\s*(PASS|FAIL|OPTIMIZE)\b\s*\]?(?:\*\*)?[\s.!]*$`)
)

// normalizeLabel lowercases a line and strips markdown emphasis so labels
// like "**Next-Step Strategy:**" match.
func normalizeLabel(line string) string {
	line = strings.ToLower(line)
	line = strings.NewReplacer("*", "", "#", "", "-", " ", "_", " ").Replace(line)
	return strings.Join(strings.Fields(line), " ")
}

// splitSections walks text line by line and groups content under the most
// recent label. Text on the label line after the colon belongs to the section.
func splitSections(text string, labels []sectionLabel) []Section {
	var (
		sections []Section
		current  string
		body     strings.Builder
	)
	flush := func() {
		if current != "" {
			if content := strings.TrimSpace(body.String()); content != "" {
				sections = append(sections, Section{SubType: current, Content: content})
			}
		}
		body.Reset()
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		norm := normalizeLabel(line)
		if label, ok := matchLabel(norm, labels); ok {
			flush()
			current = label.subType
			if rest := afterColon(line); rest != "" {
				body.WriteString(rest)
				body.WriteString("\n")
			}
			continue
		}
		if current != "" {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	return sections
}

func matchLabel(norm string, labels []sectionLabel) (sectionLabel, bool) {
	for _, l := range labels {
		idx := strings.Index(norm, l.marker)
		// Labels open a line; "task status:" inside prose does not count.
		if idx >= 0 && idx <= 8 {
			return l, true
		}
	}
	return sectionLabel{}, false
}

// afterColon returns the text following the first colon, without markdown
// emphasis markers.
func afterColon(line string) string {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(line[idx+1:])
	rest = strings.TrimSpace(strings.Trim(rest, "*"))
	return rest
}

func sectionContent(sections []Section, subType string) string {
	for _, s := range sections {
		if s.SubType == subType {
			return s.Content
		}
	}
	return ""
}

// HeuristicParser reads labelled free-text output.
type HeuristicParser struct{}

var _ ResponseParser = HeuristicParser{}

func (HeuristicParser) ParseAnalysis(text string) (Analysis, error) {
	a := Analysis{CompletionPercent: -1}
	a.Sections = splitSections(text, analysisLabels)
	a.Completed, a.Signal = DecideCompletion(text)

	if progress := sectionContent(a.Sections, SubAnalysisProgress); progress != "" {
		if m := percentRe.FindStringSubmatch(progress); m != nil {
			a.CompletionPercent, _ = strconv.Atoi(m[1])
		}
	}
	a.TaskStatus = strings.ToUpper(firstWord(sectionContent(a.Sections, SubAnalysisTaskStatus)))

	if len(a.Sections) == 0 {
		a.Sections = []Section{{SubType: SubAnalysisStatus, Content: strings.TrimSpace(text)}}
		return a, newParseAmbiguity("analyzer", "no labelled sections in analyzer output")
	}
	return a, nil
}

func (HeuristicParser) ParseExecution(text string) (Execution, error) {
	e := Execution{Sections: splitSections(text, executionLabels)}
	if len(e.Sections) == 0 {
		return e, newParseAmbiguity("executor", "no labelled sections in executor output")
	}
	return e, nil
}

func (HeuristicParser) ParseSupervision(text string) (Supervision, error) {
	s := Supervision{Score: -1}
	s.Sections = splitSections(text, supervisionLabels)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if s.Score < 0 {
			if m := scoreRe.FindStringSubmatch(line); m != nil {
				s.Score, _ = strconv.Atoi(m[1])
			}
		}
		if s.Verdict == VerdictUnknown {
			if m := verdictRe.FindStringSubmatch(line); m != nil {
				s.Verdict = Verdict(strings.ToUpper(m[1]))
			}
		}
	}

	if s.Verdict == VerdictUnknown {
		return s, newParseAmbiguity("supervisor", "no PASS, FAIL or OPTIMIZE verdict in supervisor output")
	}
	return s, nil
}

func firstWord(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "*[]`")
	if fields := strings.Fields(s); len(fields) > 0 {
		return strings.Trim(fields[0], "*[]`.,")
	}
	return ""
}
