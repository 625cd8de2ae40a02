package autoagent

import (
	"crypto/sha256"
	"fmt"
)

// defaultStallWindow is how many trailing records must repeat before the
// analyzer is told to change approach.
const defaultStallWindow = 3

func executionSignature(rec StepRecord) string {
	h := sha256.Sum256([]byte(rec.Execution))
	return fmt.Sprintf("%x", h[:8])
}

// detectStall reports whether the last window records repeat a pattern of
// length 1, 2 or 3 in their execution text.
func detectStall(history []StepRecord, window int) bool {
	if window < 2 || len(history) < window {
		return false
	}
	sigs := make([]string, window)
	for i, rec := range history[len(history)-window:] {
		sigs[i] = executionSignature(rec)
	}

	for patternLen := 1; patternLen <= 3 && patternLen < window; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		allMatch := true
		for i := patternLen; i < window && allMatch; i++ {
			if sigs[i] != sigs[i%patternLen] {
				allMatch = false
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
