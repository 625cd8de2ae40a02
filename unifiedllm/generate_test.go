package unifiedllm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// scriptedAdapter returns queued responses in order.
type scriptedAdapter struct {
	responses []*Response
	requests  []Request
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	s.requests = append(s.requests, req)
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func toolCallResponse(name, args string) *Response {
	return &Response{
		Message: Message{Role: RoleAssistant, Content: []ContentPart{
			ToolCallPart("call_1", name, json.RawMessage(args)),
		}},
		FinishReason: FinishReason{Reason: "tool_calls"},
	}
}

func textResponse(text string) *Response {
	return &Response{
		Message:      AssistantMessage(text),
		FinishReason: FinishReason{Reason: "stop"},
		Usage:        Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3},
	}
}

func TestGenerateWithoutTools(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*Response{textResponse("2")}}
	client := NewClient(WithProvider("scripted", adapter))

	result, err := Generate(context.Background(), client, GenerateOptions{
		Prompt: "1+1?",
		System: "be terse",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "2" {
		t.Errorf("expected %q, got %q", "2", result.Text)
	}
	if result.Rounds != 1 {
		t.Errorf("expected 1 round, got %d", result.Rounds)
	}
	msgs := adapter.requests[0].Messages
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[1].Role != RoleUser {
		t.Errorf("expected system+user messages, got %+v", msgs)
	}
}

func TestGenerateRunsToolLoop(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*Response{
		toolCallResponse("write_file", `{"path":"/tmp/a.md"}`),
		textResponse("wrote /tmp/a.md"),
	}}
	client := NewClient(WithProvider("scripted", adapter))

	var gotArgs string
	tool := Tool{
		Name: "write_file",
		Execute: func(args json.RawMessage) (interface{}, error) {
			gotArgs = string(args)
			return "ok", nil
		},
	}

	result, err := Generate(context.Background(), client, GenerateOptions{
		Prompt: "write it",
		Tools:  []Tool{tool},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotArgs != `{"path":"/tmp/a.md"}` {
		t.Errorf("expected tool args to be forwarded, got %q", gotArgs)
	}
	if result.Rounds != 2 {
		t.Errorf("expected 2 rounds, got %d", result.Rounds)
	}
	if result.Text != "wrote /tmp/a.md" {
		t.Errorf("unexpected final text %q", result.Text)
	}
	if len(result.ToolResults) != 1 || result.ToolResults[0].IsError {
		t.Errorf("expected one successful tool result, got %+v", result.ToolResults)
	}
	second := adapter.requests[1].Messages
	if second[len(second)-1].Role != RoleTool {
		t.Errorf("expected tool result fed back, got role %q", second[len(second)-1].Role)
	}
}

func TestGenerateStopsAtRoundBudget(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*Response{toolCallResponse("loop", `{}`)}}
	client := NewClient(WithProvider("scripted", adapter))

	tool := Tool{Name: "loop", Execute: func(json.RawMessage) (interface{}, error) { return "again", nil }}
	result, err := Generate(context.Background(), client, GenerateOptions{
		Prompt:        "go",
		Tools:         []Tool{tool},
		MaxToolRounds: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rounds != 3 {
		t.Errorf("expected 3 rounds, got %d", result.Rounds)
	}
}

func TestGenerateUnknownToolIsReportedToModel(t *testing.T) {
	results := executeToolsConcurrently(map[string]Tool{}, []ToolCall{{ID: "c1", Name: "missing"}})
	if !results[0].IsError {
		t.Error("expected unknown tool to produce an error result")
	}
}

func TestGenerateAddsSchemaInstructionWithoutNativeSupport(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*Response{textResponse(`{"verdict":"PASS"}`)}}
	client := NewClient(WithProvider("scripted", adapter))

	_, err := Generate(context.Background(), client, GenerateOptions{
		Prompt: "grade",
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: map[string]interface{}{"type": "object"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	system := adapter.requests[0].Messages[0]
	if system.Role != RoleSystem || !strings.Contains(system.TextContent(), "valid JSON") {
		t.Errorf("expected schema instruction in system prompt, got %+v", system)
	}
}

func TestGenerateRequiresClient(t *testing.T) {
	_, err := Generate(context.Background(), nil, GenerateOptions{Prompt: "x"})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}
