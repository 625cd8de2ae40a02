package autoagent

import (
	"fmt"

	"github.com/martinemde/autoagent/unifiedllm"
)

// ConfigurationError reports a missing role mapping, client or tool binding.
// It aborts a run before the loop starts.
type ConfigurationError struct {
	unifiedllm.SDKError
	AgentID string
	Role    Role
}

func newConfigurationError(agentID string, role Role, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		SDKError: unifiedllm.SDKError{Message: fmt.Sprintf(format, args...)},
		AgentID:  agentID,
		Role:     role,
	}
}

// FatalCallError is a reasoning call that failed after retries were
// exhausted, or with an error that is not retryable. It aborts the run and
// SUMMARIZE is skipped.
type FatalCallError struct {
	unifiedllm.SDKError
	Role  Role
	Stage string
}

// ParseAmbiguityError marks model output that could not be parsed cleanly.
// Stages log it and continue with best-effort results.
type ParseAmbiguityError struct {
	unifiedllm.SDKError
	Stage string
}

func newParseAmbiguity(stage, format string, args ...any) *ParseAmbiguityError {
	return &ParseAmbiguityError{
		SDKError: unifiedllm.SDKError{Message: fmt.Sprintf(format, args...)},
		Stage:    stage,
	}
}

// SinkError wraps a failed event write. It never ends a run.
type SinkError struct {
	unifiedllm.SDKError
	EventType EventType
}
