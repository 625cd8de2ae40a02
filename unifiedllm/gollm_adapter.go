package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
)

// generator is the part of gollm.LLM the adapter calls.
type generator interface {
	Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error)
}

type generatorFactory func(opts ...gollm.ConfigOption) (generator, error)

func newGollmGenerator(opts ...gollm.ConfigOption) (generator, error) {
	return gollm.NewLLM(opts...)
}

// generationKey identifies the per-call settings baked into a gollm.LLM.
type generationKey struct {
	model       string
	temperature float64
	maxTokens   int
}

// GollmAdapter wraps gollm.LLM instances and implements ProviderAdapter.
// gollm.LLM carries its options per instance, so the adapter keeps one
// instance per generationKey and never mutates a shared one. Generate
// runs without holding the adapter lock.
type GollmAdapter struct {
	provider string
	model    string
	defaults generationKey
	baseOpts []gollm.ConfigOption
	factory  generatorFactory

	mu         sync.Mutex
	generators map[generationKey]generator
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
	factory     generatorFactory
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

func withGeneratorFactory(f generatorFactory) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.factory = f
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		apiKey:      apiKey,
		maxTokens:   4096,
		temperature: 0.5,
		factory:     newGollmGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := DefaultModel(provider); info != nil {
			model = info.ID
		} else {
			model = "gpt-4o"
		}
	}

	baseOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetMaxRetries(0), // Retries belong to the caller.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		baseOpts = append(baseOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	baseOpts = append(baseOpts, cfg.extraOpts...)

	a := &GollmAdapter{
		provider:   provider,
		model:      model,
		defaults:   generationKey{model: model, temperature: cfg.temperature, maxTokens: cfg.maxTokens},
		baseOpts:   baseOpts,
		factory:    cfg.factory,
		generators: make(map[generationKey]generator),
	}
	// Build the default instance now so bad configuration fails here.
	if _, err := a.generatorFor(a.defaults); err != nil {
		return nil, err
	}
	return a, nil
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, a.translateError(err)
	}
	prompt := a.translateRequest(req)

	gen, err := a.generatorFor(a.keyFor(req))
	if err != nil {
		return nil, err
	}

	text, err := gen.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text), nil
}

// keyFor overlays request-level parameters on the adapter defaults.
func (a *GollmAdapter) keyFor(req Request) generationKey {
	key := a.defaults
	if req.Model != "" {
		key.model = req.Model
	}
	if req.Temperature != nil {
		key.temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		key.maxTokens = *req.MaxTokens
	}
	return key
}

// generatorFor returns the cached instance for key, creating it on first use.
func (a *GollmAdapter) generatorFor(key generationKey) (generator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen, ok := a.generators[key]; ok {
		return gen, nil
	}

	opts := make([]gollm.ConfigOption, 0, len(a.baseOpts)+3)
	opts = append(opts,
		gollm.SetModel(key.model),
		gollm.SetMaxTokens(key.maxTokens),
		gollm.SetTemperature(key.temperature),
	)
	opts = append(opts, a.baseOpts...)

	gen, err := a.factory(opts...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("create gollm LLM for provider %s model %s", a.provider, key.model),
			Cause:   err,
		}}
	}
	if a.generators == nil {
		a.generators = make(map[generationKey]generator)
	}
	a.generators[key] = gen
	return gen, nil
}

// SupportsToolChoice reports whether the adapter supports a particular tool choice mode.
func (a *GollmAdapter) SupportsToolChoice(mode string) bool {
	switch mode {
	case "auto", "none", "required":
		return true
	case "named":
		return a.provider != "ollama"
	default:
		return false
	}
}

// translateRequest flattens the conversation into a single gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt string
	var userParts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.TextContent() + "\n"
		case RoleUser:
			userParts = append(userParts, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				userParts = append(userParts, "[Assistant]: "+text)
			}
			for _, call := range msg.ToolCalls() {
				userParts = append(userParts, fmt.Sprintf("[Tool Call %s]: %s %s", call.ID, call.Name, string(call.Arguments)))
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				var content string
				_ = json.Unmarshal(part.ToolResult.Content, &content)
				if content == "" {
					content = string(part.ToolResult.Content)
				}
				prefix := "[Tool Result]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error]"
				}
				userParts = append(userParts, prefix+": "+content)
			}
		}
	}

	promptText := strings.Join(userParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))

		mode := "auto"
		if req.ToolChoice != nil && a.SupportsToolChoice(req.ToolChoice.Mode) {
			mode = req.ToolChoice.Mode
		}
		promptOpts = append(promptOpts, gollm.WithToolChoice(mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// buildResponse constructs a unified Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	var contentParts []ContentPart
	toolCalls := parseToolCalls(text)
	if cleaned := removeToolCallJSON(text, toolCalls); cleaned != "" {
		contentParts = append(contentParts, TextPart(cleaned))
	}
	for i := range toolCalls {
		contentParts = append(contentParts, ContentPart{Kind: ContentToolCall, ToolCall: &toolCalls[i]})
	}
	if len(contentParts) == 0 {
		contentParts = []ContentPart{TextPart(text)}
	}

	finishReason := FinishReason{Reason: "stop", Raw: "stop"}
	if len(toolCalls) > 0 {
		finishReason = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	input := estimateTokens(req)
	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message: Message{
			Role:    RoleAssistant,
			Content: contentParts,
		},
		FinishReason: finishReason,
		Usage: Usage{
			// gollm doesn't expose usage; estimate from text length.
			InputTokens:  input,
			OutputTokens: len(text) / 4,
			TotalTokens:  input + len(text)/4,
		},
	}
}

var toolCallMarkers = []string{`{"tool_calls"`, `[{"name"`}

// parseToolCalls extracts tool calls that gollm returns embedded in the
// response text, either as {"tool_calls": [...]} or as a bare array.
func parseToolCalls(text string) []ToolCallData {
	type rawCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var raws []rawCall
	if start := strings.Index(text, toolCallMarkers[0]); start != -1 {
		var wrapped struct {
			ToolCalls []rawCall `json:"tool_calls"`
		}
		dec := json.NewDecoder(strings.NewReader(text[start:]))
		if err := dec.Decode(&wrapped); err == nil {
			raws = wrapped.ToolCalls
		}
	} else if start := strings.Index(text, toolCallMarkers[1]); start != -1 {
		dec := json.NewDecoder(strings.NewReader(text[start:]))
		_ = dec.Decode(&raws)
	}

	var calls []ToolCallData
	for _, rc := range raws {
		if rc.Name == "" {
			continue
		}
		calls = append(calls, ToolCallData{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: rc.Arguments,
			Type:      "function",
		})
	}
	return calls
}

// removeToolCallJSON strips the parsed tool call JSON from the text.
func removeToolCallJSON(text string, calls []ToolCallData) string {
	if len(calls) == 0 {
		return text
	}
	result := text
	for _, marker := range toolCallMarkers {
		if idx := strings.Index(result, marker); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

var statusCodePattern = regexp.MustCompile(`\b([45]\d\d)\b`)

// translateError converts a gollm error into the unified error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key") || strings.Contains(msgLower, "invalid key"):
		return ErrorFromStatusCode(401, msg, a.provider, err)
	case strings.Contains(msgLower, "forbidden"):
		return ErrorFromStatusCode(403, msg, a.provider, err)
	case strings.Contains(msgLower, "rate limit"):
		return ErrorFromStatusCode(429, msg, a.provider, err)
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return ErrorFromStatusCode(413, msg, a.provider, err)
	case strings.Contains(msgLower, "internal server"):
		return ErrorFromStatusCode(500, msg, a.provider, err)
	case strings.Contains(msgLower, "content filter") || strings.Contains(msgLower, "safety"):
		return &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider,
		}}
	case strings.Contains(msgLower, "timeout") || strings.Contains(msgLower, "deadline exceeded"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "connection refused") || strings.Contains(msgLower, "no such host") || strings.Contains(msgLower, "connection reset"):
		return &NetworkError{SDKError: SDKError{Message: msg, Cause: err}}
	}

	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return ErrorFromStatusCode(code, msg, a.provider, err)
	}

	// Wrap as a generic provider error (retryable by default).
	return &ProviderError{
		SDKError:  SDKError{Message: msg, Cause: err},
		Provider:  a.provider,
		Retryable: true,
	}
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			if part.Kind == ContentText {
				total += len(part.Text) / 4
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
