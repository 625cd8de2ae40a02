package registry

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ClientConfig describes one reasoning client.
type ClientConfig struct {
	ID               string        `mapstructure:"id" yaml:"id"`
	Provider         string        `mapstructure:"provider" yaml:"provider"`
	Model            string        `mapstructure:"model" yaml:"model"`
	APIKey           string        `mapstructure:"api_key" yaml:"api_key"`
	APIKeyEnv        string        `mapstructure:"api_key_env" yaml:"api_key_env"`
	MaxTokens        int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature      float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	Tools            []string      `mapstructure:"tools" yaml:"tools"`
	StructuredOutput bool          `mapstructure:"structured_output" yaml:"structured_output"`
}

// Default call timeouts. Tool-augmented calls run several rounds.
const (
	DefaultCallTimeout = 2 * time.Minute
	DefaultToolTimeout = 10 * time.Minute
)

// Validate checks the fields a client cannot be built without.
func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("client id is required")
	}
	if strings.TrimSpace(c.Provider) == "" {
		return fmt.Errorf("client %q: provider is required", c.ID)
	}
	if c.Timeout < 0 || c.ToolTimeout < 0 {
		return fmt.Errorf("client %q: timeouts must not be negative", c.ID)
	}
	return nil
}

// ResolvedAPIKey returns APIKey, or the value of APIKeyEnv when APIKey is
// empty. An empty result lets the provider library read its own variable.
func (c ClientConfig) ResolvedAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

func (c ClientConfig) callTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultCallTimeout
}

func (c ClientConfig) toolTimeout() time.Duration {
	if c.ToolTimeout > 0 {
		return c.ToolTimeout
	}
	return DefaultToolTimeout
}
