// Package unifiedllm is the reasoning-call layer used by the agent engine. It
// wraps the gollm library (github.com/teilomillet/gollm) behind a small
// provider-agnostic Client.
//
// # Layers
//
//   - ProviderAdapter: one backend (GollmAdapter is the production one)
//   - Client: provider routing and middleware (TimeoutMiddleware bounds a call)
//   - Generate: one tool-aware call, looping while the model requests tools
//   - Retry: bounded exponential backoff over retryable errors
//
// # Usage
//
//	adapter, _ := unifiedllm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"),
//	    unifiedllm.WithModel("gpt-4o"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.TimeoutMiddleware(2*time.Minute)),
//	)
//
//	result, err := unifiedllm.Retry(ctx, unifiedllm.DefaultRetryPolicy(),
//	    func(ctx context.Context) (*unifiedllm.GenerateResult, error) {
//	        return unifiedllm.Generate(ctx, client, unifiedllm.GenerateOptions{
//	            Prompt:      "1+1 equals?",
//	            Temperature: unifiedllm.Float64(0.3),
//	        })
//	    })
//
// # Errors
//
// Provider failures are translated into typed errors (RateLimitError,
// ServerError, NetworkError, RequestTimeoutError, ...). IsRetryable decides
// which of them Retry will absorb; it walks wrapped chains.
package unifiedllm
