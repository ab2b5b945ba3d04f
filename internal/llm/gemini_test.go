package llm

import (
	"context"
	"errors"
	"testing"
)

func TestGeminiMissingKey(t *testing.T) {
	for _, key := range []string{"", "NULL"} {
		client := NewGeminiClient(key, nil)
		_, err := client.Chat(context.Background(), "gemini-2.5-flash", []Message{{Role: "user", Content: "hi"}}, nil)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("key %q: err = %v, want ConfigurationError", key, err)
		}
	}
}

func TestConvertToGemini(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are AutoYou."},
		{Role: "user", Content: "save a note"},
		{Role: "assistant", ToolCalls: []ToolCall{{
			ID:       "create_note",
			Function: FunctionCall{Name: "create_note", Arguments: map[string]any{"title": "x"}},
		}}},
		{Role: "tool", ToolCallID: "create_note", ToolName: "create_note", Content: `{"id":1}`},
		{Role: "assistant", Content: "Saved it."},
	}

	contents, system := convertToGemini(messages)

	if system == nil || system.Parts[0].Text != "You are AutoYou." {
		t.Fatalf("system instruction = %+v", system)
	}
	if len(contents) != 4 {
		t.Fatalf("got %d contents, want 4", len(contents))
	}

	if contents[0].Role != "user" || contents[0].Parts[0].Text != "save a note" {
		t.Errorf("first content = %+v", contents[0])
	}

	fc := contents[1].Parts[0].FunctionCall
	if contents[1].Role != "model" || fc == nil || fc.Name != "create_note" {
		t.Errorf("tool call content = %+v", contents[1])
	}

	fr := contents[2].Parts[0].FunctionResponse
	if contents[2].Role != "user" || fr == nil || fr.Name != "create_note" {
		t.Errorf("tool result content = %+v", contents[2])
	}
	if fr.Response["result"] != `{"id":1}` {
		t.Errorf("tool result payload = %v", fr.Response)
	}

	if contents[3].Role != "model" || contents[3].Parts[0].Text != "Saved it." {
		t.Errorf("final content = %+v", contents[3])
	}
}

func TestConvertToolsToGemini(t *testing.T) {
	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "search_notes",
			"description": "Full-text search over notes",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
	}}

	got := convertToolsToGemini(tools)
	if len(got) != 1 || len(got[0].FunctionDeclarations) != 1 {
		t.Fatalf("got %+v", got)
	}
	decl := got[0].FunctionDeclarations[0]
	if decl.Name != "search_notes" || decl.Description == "" || decl.Parameters == nil {
		t.Errorf("declaration = %+v", decl)
	}

	if convertToolsToGemini(nil) != nil {
		t.Error("nil tools should produce nil declarations")
	}
}

func TestConvertFromGemini(t *testing.T) {
	gr := &geminiResponse{}
	gr.Candidates = []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	}{{
		Content: geminiContent{
			Role: "model",
			Parts: []geminiPart{
				{Text: "Looking that up. "},
				{FunctionCall: &geminiFunctionCall{Name: "search_notes", Args: map[string]any{"query": "milk"}}},
			},
		},
		FinishReason: "STOP",
	}}
	gr.UsageMetadata.PromptTokenCount = 20
	gr.UsageMetadata.CandidatesTokenCount = 8

	resp := convertFromGemini(gr, "gemini-2.5-flash")
	if resp.Message.Content != "Looking that up. " {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Name != "search_notes" {
		t.Errorf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.InputTokens != 20 || resp.OutputTokens != 8 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}
