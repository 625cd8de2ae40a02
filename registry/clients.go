package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/martinemde/autoagent/autoagent"
	"github.com/martinemde/autoagent/observability"
	"github.com/martinemde/autoagent/unifiedllm"
)

const defaultClientCacheSize = 32

// AdapterFactory builds the provider adapter behind one client.
type AdapterFactory func(cfg ClientConfig) (unifiedllm.ProviderAdapter, error)

// GollmAdapterFactory builds clients on gollm.
func GollmAdapterFactory(cfg ClientConfig) (unifiedllm.ProviderAdapter, error) {
	opts := []unifiedllm.GollmAdapterOption{unifiedllm.WithModel(cfg.Model)}
	if cfg.MaxTokens > 0 {
		opts = append(opts, unifiedllm.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, unifiedllm.WithTemperature(cfg.Temperature))
	}
	return unifiedllm.NewGollmAdapter(cfg.Provider, cfg.ResolvedAPIKey(), opts...)
}

// ClientRegistry implements autoagent.AgentClientRegistry over configured
// clients. Built clients are cached by ID and closed on eviction.
type ClientRegistry struct {
	configs map[string]ClientConfig
	tools   *ToolRegistry
	factory AdapterFactory
	logger  *observability.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, *unifiedllm.Client]
}

var _ autoagent.AgentClientRegistry = (*ClientRegistry)(nil)

// ClientRegistryOption configures a ClientRegistry.
type ClientRegistryOption func(*clientRegistryOptions)

type clientRegistryOptions struct {
	tools     *ToolRegistry
	factory   AdapterFactory
	logger    *observability.Logger
	cacheSize int
}

// WithTools sets the tool registry client tool names resolve against.
func WithTools(tools *ToolRegistry) ClientRegistryOption {
	return func(o *clientRegistryOptions) { o.tools = tools }
}

// WithAdapterFactory replaces GollmAdapterFactory.
func WithAdapterFactory(f AdapterFactory) ClientRegistryOption {
	return func(o *clientRegistryOptions) { o.factory = f }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *observability.Logger) ClientRegistryOption {
	return func(o *clientRegistryOptions) { o.logger = l }
}

// WithCacheSize bounds how many built clients stay open.
func WithCacheSize(n int) ClientRegistryOption {
	return func(o *clientRegistryOptions) { o.cacheSize = n }
}

// NewClientRegistry validates clients and creates a registry over them.
// Clients are built lazily on first use.
func NewClientRegistry(clients []ClientConfig, opts ...ClientRegistryOption) (*ClientRegistry, error) {
	o := clientRegistryOptions{factory: GollmAdapterFactory, cacheSize: defaultClientCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tools == nil {
		o.tools = NewToolRegistry()
	}
	if o.cacheSize <= 0 {
		o.cacheSize = defaultClientCacheSize
	}

	configs := make(map[string]ClientConfig, len(clients))
	for _, c := range clients {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := configs[c.ID]; dup {
			return nil, fmt.Errorf("duplicate client id %q", c.ID)
		}
		configs[c.ID] = c
	}

	logger := observability.OrNop(o.logger).Component("client_registry")
	cache, err := lru.NewWithEvict[string, *unifiedllm.Client](o.cacheSize, func(id string, c *unifiedllm.Client) {
		if err := c.Close(); err != nil {
			logger.Warn("closing evicted client", "client_id", id, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create client cache: %w", err)
	}

	return &ClientRegistry{
		configs: configs,
		tools:   o.tools,
		factory: o.factory,
		logger:  logger,
		cache:   cache,
	}, nil
}

// ResolveClient builds (or reuses) the client bound to role and returns its
// handle. Unknown IDs and build failures are configuration errors.
func (r *ClientRegistry) ResolveClient(_ context.Context, role autoagent.Role, clientID string) (autoagent.ClientHandle, error) {
	cfg, ok := r.configs[clientID]
	if !ok {
		return autoagent.ClientHandle{}, configErr(fmt.Sprintf("client %q is not configured", clientID), nil)
	}
	if _, err := r.client(cfg); err != nil {
		return autoagent.ClientHandle{}, err
	}
	r.logger.Debug("client resolved", "role", string(role), "client_id", clientID, "model", cfg.Model)
	return autoagent.ClientHandle{ClientID: cfg.ID, Model: cfg.Model, StructuredOutput: cfg.StructuredOutput}, nil
}

// ResolveTools returns the tools configured for the handle's client.
func (r *ClientRegistry) ResolveTools(_ context.Context, handle autoagent.ClientHandle) ([]unifiedllm.Tool, error) {
	cfg, ok := r.configs[handle.ClientID]
	if !ok {
		return nil, configErr(fmt.Sprintf("client %q is not configured", handle.ClientID), nil)
	}
	tools, err := r.tools.Lookup(cfg.Tools)
	if err != nil {
		return nil, configErr(fmt.Sprintf("client %q", cfg.ID), err)
	}
	return tools, nil
}

// Invoke runs one tool-aware call and returns the response text. Calls with
// tools are bounded by the client's tool timeout, others by its call timeout,
// unless opts.Timeout is set.
func (r *ClientRegistry) Invoke(ctx context.Context, handle autoagent.ClientHandle, prompt string, opts autoagent.CallOptions) (string, error) {
	cfg, ok := r.configs[handle.ClientID]
	if !ok {
		return "", configErr(fmt.Sprintf("client %q is not configured", handle.ClientID), nil)
	}
	client, err := r.client(cfg)
	if err != nil {
		return "", err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = cfg.callTimeout()
		if len(opts.Tools) > 0 {
			timeout = cfg.toolTimeout()
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gen := unifiedllm.GenerateOptions{
		Model:          opts.Model,
		Prompt:         prompt,
		Provider:       cfg.Provider,
		Tools:          opts.Tools,
		ResponseFormat: opts.ResponseFormat,
		Metadata:       opts.Metadata,
	}
	if gen.Model == "" {
		gen.Model = cfg.Model
	}
	if opts.MaxTokens > 0 {
		gen.MaxTokens = unifiedllm.Int(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		gen.Temperature = unifiedllm.Float64(opts.Temperature)
	}

	started := time.Now()
	result, err := unifiedllm.Generate(callCtx, client, gen)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", &unifiedllm.RequestTimeoutError{SDKError: unifiedllm.SDKError{
				Message: fmt.Sprintf("client %q exceeded %s", cfg.ID, timeout),
				Cause:   err,
			}}
		}
		return "", err
	}
	r.logger.Debug("call finished",
		"client_id", cfg.ID, "rounds", result.Rounds, "tool_calls", len(result.ToolCalls),
		"total_tokens", result.TotalUsage.TotalTokens, "duration", time.Since(started))
	return result.Text, nil
}

// Close closes every cached client.
func (r *ClientRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
}

func (r *ClientRegistry) client(cfg ClientConfig) (*unifiedllm.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache.Get(cfg.ID); ok {
		return c, nil
	}

	adapter, err := r.factory(cfg)
	if err != nil {
		return nil, configErr(fmt.Sprintf("build client %q", cfg.ID), err)
	}
	c := unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.Provider),
		unifiedllm.WithMiddleware(unifiedllm.TimeoutMiddleware(cfg.callTimeout())),
	)
	r.cache.Add(cfg.ID, c)
	r.logger.Info("client built", "client_id", cfg.ID, "provider", cfg.Provider,
		"model", cfg.Model, "api_key", observability.SanitizeAPIKey(cfg.ResolvedAPIKey()))
	return c, nil
}

func configErr(msg string, cause error) error {
	return &unifiedllm.ConfigurationError{SDKError: unifiedllm.SDKError{Message: msg, Cause: cause}}
}
