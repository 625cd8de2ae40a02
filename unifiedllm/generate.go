package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultMaxToolRounds bounds the tool loop in Generate.
const DefaultMaxToolRounds = 8

// GenerateOptions configures one tool-aware reasoning call.
type GenerateOptions struct {
	Model          string
	Prompt         string
	System         string
	Provider       string
	Tools          []Tool
	ToolChoice     *ToolChoice
	MaxToolRounds  int
	ResponseFormat *ResponseFormat
	Temperature    *float64
	MaxTokens      *int
	Metadata       map[string]string
}

// GenerateResult is the outcome of Generate.
type GenerateResult struct {
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Rounds      int
	TotalUsage  Usage
	Response    Response
}

// ToolCall is a tool invocation extracted from a model response.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Generate sends the prompt through client and, while the model keeps asking
// for tools that have Execute handlers, runs them and feeds the results back.
// It does not retry; callers wrap it with Retry.
func Generate(ctx context.Context, client *Client, opts GenerateOptions) (*GenerateResult, error) {
	if client == nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "generate requires a client"}}
	}

	rounds := opts.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}

	system := opts.System
	if opts.ResponseFormat != nil && opts.ResponseFormat.JSONSchema != nil && !client.SupportsStructuredOutput(opts.Provider) {
		system += SchemaInstruction(opts.ResponseFormat.JSONSchema)
	}

	var conversation []Message
	if system != "" {
		conversation = append(conversation, SystemMessage(system))
	}
	conversation = append(conversation, UserMessage(opts.Prompt))

	toolMap := make(map[string]Tool, len(opts.Tools))
	hasActiveTools := false
	for _, t := range opts.Tools {
		toolMap[t.Name] = t
		if t.Execute != nil {
			hasActiveTools = true
		}
	}

	result := &GenerateResult{}
	for round := 0; round < rounds; round++ {
		resp, err := client.Complete(ctx, Request{
			Model:          opts.Model,
			Messages:       conversation,
			Provider:       opts.Provider,
			Tools:          opts.Tools,
			ToolChoice:     opts.ToolChoice,
			ResponseFormat: opts.ResponseFormat,
			Temperature:    opts.Temperature,
			MaxTokens:      opts.MaxTokens,
			Metadata:       opts.Metadata,
		})
		if err != nil {
			return nil, err
		}

		result.Rounds = round + 1
		result.Response = *resp
		result.Text = resp.Text()
		result.TotalUsage = result.TotalUsage.Add(resp.Usage)

		calls := resp.ToolCalls()
		if len(calls) == 0 || resp.FinishReason.Reason != "tool_calls" || !hasActiveTools {
			break
		}

		toolCalls := make([]ToolCall, len(calls))
		for i, c := range calls {
			toolCalls[i] = ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
		}
		toolResults := executeToolsConcurrently(toolMap, toolCalls)
		result.ToolCalls = append(result.ToolCalls, toolCalls...)
		result.ToolResults = append(result.ToolResults, toolResults...)

		conversation = append(conversation, resp.Message)
		for _, tr := range toolResults {
			contentBytes, _ := json.Marshal(tr.Content)
			conversation = append(conversation, ToolResultMessage(tr.ToolCallID, string(contentBytes), tr.IsError))
		}
	}

	return result, nil
}

// SchemaInstruction renders a JSON schema as a system prompt suffix for
// providers without native structured output.
func SchemaInstruction(schema map[string]interface{}) string {
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")
	return fmt.Sprintf(
		"\nYou must respond with valid JSON matching this schema:\n```json\n%s\n```\nRespond ONLY with the JSON object, no other text.",
		string(schemaJSON),
	)
}

// executeToolsConcurrently executes all tool calls in parallel.
func executeToolsConcurrently(toolMap map[string]Tool, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc ToolCall) {
			defer wg.Done()

			tool, ok := toolMap[tc.Name]
			if !ok || tool.Execute == nil {
				results[idx] = ToolResult{
					ToolCallID: tc.ID,
					Content:    fmt.Sprintf("Unknown tool: %s", tc.Name),
					IsError:    true,
				}
				return
			}

			output, err := tool.Execute(tc.Arguments)
			if err != nil {
				results[idx] = ToolResult{
					ToolCallID: tc.ID,
					Content:    fmt.Sprintf("Tool execution error: %v", err),
					IsError:    true,
				}
				return
			}

			results[idx] = ToolResult{ToolCallID: tc.ID, Content: output}
		}(i, call)
	}

	wg.Wait()
	return results
}
