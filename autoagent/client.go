package autoagent

import (
	"context"
	"time"

	"github.com/martinemde/autoagent/unifiedllm"
)

// CallOptions parameterize one reasoning call. Zero values defer to the
// client's configured defaults.
type CallOptions struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	Tools          []unifiedllm.Tool
	Timeout        time.Duration
	ResponseFormat *unifiedllm.ResponseFormat
	Metadata       map[string]string
}

// AgentClientRegistry resolves role handles and performs reasoning calls.
// Implementations must be safe for concurrent use across runs.
type AgentClientRegistry interface {
	// ResolveClient returns the handle for clientID bound to role.
	ResolveClient(ctx context.Context, role Role, clientID string) (ClientHandle, error)

	// ResolveTools returns the tools bound to a client. An empty result means
	// the call runs without tools.
	ResolveTools(ctx context.Context, handle ClientHandle) ([]unifiedllm.Tool, error)

	// Invoke runs one reasoning call and returns the model's text.
	Invoke(ctx context.Context, handle ClientHandle, prompt string, opts CallOptions) (string, error)
}

// FlowConfigRepository maps an agent to the client ID configured per role.
type FlowConfigRepository interface {
	LoadRoleClientMap(ctx context.Context, agentID string) (map[Role]string, error)
}

// StageOption holds the call defaults for one stage.
type StageOption struct {
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// StageOptions holds per-stage call defaults.
type StageOptions struct {
	Analyzer    StageOption `mapstructure:"analyzer"`
	Executor    StageOption `mapstructure:"executor"`
	Supervisor  StageOption `mapstructure:"supervisor"`
	FinalAnswer StageOption `mapstructure:"final_answer"`
	Fallback    StageOption `mapstructure:"fallback"`
}

// DefaultStageOptions returns the built-in per-stage defaults.
func DefaultStageOptions() StageOptions {
	return StageOptions{
		Analyzer:    StageOption{MaxTokens: 2000, Temperature: 0.3},
		Executor:    StageOption{MaxTokens: 4000, Temperature: 0.5},
		Supervisor:  StageOption{MaxTokens: 3000, Temperature: 0.2},
		FinalAnswer: StageOption{MaxTokens: 3000, Temperature: 0.3},
		Fallback:    StageOption{MaxTokens: 2000, Temperature: 0.3},
	}
}

func (o StageOption) callOptions(handle ClientHandle, sessionID string) CallOptions {
	return CallOptions{
		Model:       handle.Model,
		MaxTokens:   o.MaxTokens,
		Temperature: o.Temperature,
		Metadata:    map[string]string{"session_id": sessionID},
	}
}
