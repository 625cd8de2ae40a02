// Package config loads autoagent settings from a YAML file and AUTOAGENT_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/martinemde/autoagent/autoagent"
	"github.com/martinemde/autoagent/observability"
	"github.com/martinemde/autoagent/registry"
	"github.com/martinemde/autoagent/unifiedllm"
)

// EnvPrefix prefixes every environment override, e.g. AUTOAGENT_SERVER_ADDR.
const EnvPrefix = "AUTOAGENT"

// DefaultFile is read when no path is given.
const DefaultFile = "autoagent.yaml"

// Config holds all configuration.
type Config struct {
	Server   ServerConfig                 `mapstructure:"server"`
	Logging  observability.LogConfig      `mapstructure:"logging"`
	Tracing  observability.TracingConfig  `mapstructure:"tracing"`
	Retry    RetryConfig                  `mapstructure:"retry"`
	Defaults autoagent.StageOptions       `mapstructure:"defaults"`
	Clients  []registry.ClientConfig      `mapstructure:"clients"`
	Flows    map[string]map[string]string `mapstructure:"flows"`
	// FlowFile, when set, replaces Flows with a file re-read on every run.
	FlowFile string `mapstructure:"flow_file"`
}

// ServerConfig holds HTTP and session settings.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	MaxConcurrentRuns int64         `mapstructure:"max_concurrent_runs"`
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	StallWindow       int           `mapstructure:"stall_window"`
}

// RetryConfig configures the backoff around every reasoning call.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      bool          `mapstructure:"jitter"`
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() unifiedllm.RetryPolicy {
	return unifiedllm.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Multiplier:  r.Multiplier,
		Jitter:      r.Jitter,
	}
}

// Engine returns the session limits for autoagent.NewEngine.
func (s ServerConfig) Engine() autoagent.EngineConfig {
	return autoagent.EngineConfig{MaxConcurrentRuns: s.MaxConcurrentRuns, SessionTimeout: s.SessionTimeout}
}

// Default returns the built-in configuration.
func Default() *Config {
	engine := autoagent.DefaultEngineConfig()
	retry := unifiedllm.DefaultRetryPolicy()
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			CORSOrigins:       []string{"*"},
			MaxConcurrentRuns: engine.MaxConcurrentRuns,
			SessionTimeout:    engine.SessionTimeout,
			ShutdownTimeout:   10 * time.Second,
			StallWindow:       3,
		},
		Logging: observability.LogConfig{Level: "info", Format: "text"},
		Tracing: observability.TracingConfig{
			OTLPEndpoint: "localhost:4318",
			SampleRate:   1.0,
			ServiceName:  "autoagent",
		},
		Retry: RetryConfig{
			MaxAttempts: retry.MaxAttempts,
			BaseDelay:   retry.BaseDelay,
			MaxDelay:    retry.MaxDelay,
			Multiplier:  retry.Multiplier,
		},
		Defaults: autoagent.DefaultStageOptions(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.max_concurrent_runs", d.Server.MaxConcurrentRuns)
	v.SetDefault("server.session_timeout", d.Server.SessionTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.stall_window", d.Server.StallWindow)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.jitter", false)

	for name, stage := range map[string]autoagent.StageOption{
		"analyzer":     d.Defaults.Analyzer,
		"executor":     d.Defaults.Executor,
		"supervisor":   d.Defaults.Supervisor,
		"final_answer": d.Defaults.FinalAnswer,
		"fallback":     d.Defaults.Fallback,
	} {
		v.SetDefault("defaults."+name+".max_tokens", stage.MaxTokens)
		v.SetDefault("defaults."+name+".temperature", stage.Temperature)
	}
}

// Load reads path (or DefaultFile when path is empty) and applies
// environment overrides. A missing default file is not an error; a missing
// explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.MaxConcurrentRuns < 1 {
		errs = append(errs, fmt.Errorf("server.max_concurrent_runs must be at least 1"))
	}
	if c.Server.SessionTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.session_timeout must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("retry delays must not be negative"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be between 0 and 1"))
	}

	ids := make(map[string]bool, len(c.Clients))
	for _, client := range c.Clients {
		if err := client.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if ids[client.ID] {
			errs = append(errs, fmt.Errorf("duplicate client id %q", client.ID))
		}
		ids[client.ID] = true
	}
	for agentID, bindings := range c.Flows {
		for role, clientID := range bindings {
			if _, err := autoagent.ParseRole(role); err != nil {
				errs = append(errs, fmt.Errorf("flows.%s: %w", agentID, err))
			}
			if !ids[clientID] {
				errs = append(errs, fmt.Errorf("flows.%s.%s: client %q is not configured", agentID, role, clientID))
			}
		}
	}
	return errors.Join(errs...)
}
