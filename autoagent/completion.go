package autoagent

import (
	"regexp"
	"strings"
)

var (
	zeroCompletionRe = regexp.MustCompile(`(?i)(?:completion|progress)[^:\n]*:\s*(?:\*\*\s*)?0\s*%`)
	fullCompletionRe = regexp.MustCompile(`(?:^|[^\d.])100\s*%`)
	statusDoneRe     = regexp.MustCompile(`(?i:(?:task\s+)?status)\s*:\s*(?:\*\*\s*)?COMPLETED\b`)
)

// doneSignals are phrases that only appear when the model considers the
// whole task finished.
var doneSignals = []string{
	"task finished",
	"overall task completed",
	"user task completed",
	"main task completed",
	"all objectives completed",
	"no further action needed",
	"task objective fully achieved",
	"stop subsequent steps",
}

// CompletionSignal names the rule that decided a completion check.
type CompletionSignal string

const (
	SignalZeroProgress CompletionSignal = "zero_progress"
	SignalFullProgress CompletionSignal = "full_progress"
	SignalStatusToken  CompletionSignal = "status_completed"
	SignalDonePhrase   CompletionSignal = "done_phrase"
	SignalNone         CompletionSignal = "none"
)

// DecideCompletion applies the completion rules to analyzer output, in
// priority order:
//
//  1. an explicit 0% completion marker means not completed
//  2. any 100% marker means completed, even beside a CONTINUE token
//  3. a completed status token means completed
//  4. an explicit "fully done" phrase means completed
//  5. otherwise not completed
func DecideCompletion(text string) (bool, CompletionSignal) {
	switch {
	case zeroCompletionRe.MatchString(text):
		return false, SignalZeroProgress
	case fullCompletionRe.MatchString(text):
		return true, SignalFullProgress
	case statusDoneRe.MatchString(text):
		return true, SignalStatusToken
	}
	lower := strings.ToLower(text)
	for _, phrase := range doneSignals {
		if strings.Contains(lower, phrase) {
			return true, SignalDonePhrase
		}
	}
	return false, SignalNone
}
