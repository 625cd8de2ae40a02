package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  addr: ":9090"
  session_timeout: 5m
logging:
  level: debug
  format: json
retry:
  max_attempts: 4
  base_delay: 1s
defaults:
  executor:
    max_tokens: 8000
clients:
  - id: analyzer
    provider: openai
    model: gpt-4o
    api_key_env: OPENAI_API_KEY
    timeout: 90s
    structured_output: true
  - id: executor
    provider: anthropic
    model: claude-sonnet-4-5
    tool_timeout: 15m
    tools: [read_file, write_file]
flows:
  agent-1:
    TaskAnalyzer: analyzer
    PrecisionExecutor: executor
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.SessionTimeout)
	assert.EqualValues(t, 16, cfg.Server.MaxConcurrentRuns, "default survives a partial section")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	policy := cfg.Retry.Policy()
	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, time.Second, policy.BaseDelay)
	assert.Equal(t, 30*time.Second, policy.MaxDelay)
	assert.InDelta(t, 2.0, policy.Multiplier, 1e-9)

	assert.Equal(t, 8000, cfg.Defaults.Executor.MaxTokens)
	assert.InDelta(t, 0.5, cfg.Defaults.Executor.Temperature, 1e-9)
	assert.Equal(t, 2000, cfg.Defaults.Analyzer.MaxTokens)

	require.Len(t, cfg.Clients, 2)
	assert.Equal(t, 90*time.Second, cfg.Clients[0].Timeout)
	assert.True(t, cfg.Clients[0].StructuredOutput)
	assert.Equal(t, 15*time.Minute, cfg.Clients[1].ToolTimeout)
	assert.Equal(t, []string{"read_file", "write_file"}, cfg.Clients[1].Tools)

	require.Contains(t, cfg.Flows, "agent-1")
	assert.Len(t, cfg.Flows["agent-1"], 2)

	engine := cfg.Server.Engine()
	assert.Equal(t, 5*time.Minute, engine.SessionTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTOAGENT_SERVER_ADDR", ":7070")
	t.Setenv("AUTOAGENT_LOGGING_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestLoadWithoutDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, Default().Defaults, cfg.Defaults)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Retry.MaxAttempts = 0
	cfg.Flows = map[string]map[string]string{"agent-1": {"planner": "missing"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "retry.max_attempts")
	assert.ErrorContains(t, err, "unknown role")
	assert.ErrorContains(t, err, `client "missing" is not configured`)
}

func TestLoadRejectsUnknownFlowClient(t *testing.T) {
	_, err := Load(writeConfig(t, `
flows:
  agent-1:
    TaskAnalyzer: ghost
`))
	assert.ErrorContains(t, err, "ghost")
}
