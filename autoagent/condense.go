package autoagent

import (
	"fmt"
	"strings"
)

// Condensed field limits for history records.
const (
	draftFieldLimit  = 200
	mergedFieldLimit = 150
)

const emptyField = "no content"

// condense trims s to at most limit runes, appending "..." when cut.
func condense(s string, limit int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return emptyField
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// truncateLines keeps the first and last lines of s when it has more than
// maxLines lines.
func truncateLines(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return s
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}
