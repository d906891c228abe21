package core

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRole_Valid(t *testing.T) {
	for _, r := range Roles {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	for _, r := range []Role{"tool", "function", "developer", "", "USER"} {
		if r.Valid() {
			t.Errorf("%q should be invalid", r)
		}
	}
}

func TestChatRequest_CloneIsDeep(t *testing.T) {
	orig := &ChatRequest{
		Model:       "gpt-4o",
		Messages:    []ChatMessage{{Role: RoleUser, Content: "hi"}},
		Temperature: Float64Ptr(0.5),
		MaxTokens:   IntPtr(10),
	}

	clone := orig.Clone()
	clone.Messages[0].Content = "changed"
	*clone.Temperature = 1.5
	*clone.MaxTokens = 99

	if orig.Messages[0].Content != "hi" {
		t.Errorf("clone shares messages with original")
	}
	if *orig.Temperature != 0.5 || *orig.MaxTokens != 10 {
		t.Errorf("clone shares optional fields with original")
	}

	var nilReq *ChatRequest
	if nilReq.Clone() != nil {
		t.Errorf("Clone() of nil should be nil")
	}
}

func TestChatRequest_JSONOmitsUnsetOptionals(t *testing.T) {
	raw, err := json.Marshal(ChatRequest{Model: "m", Messages: []ChatMessage{{Role: RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"temperature", "max_tokens", "stream", "conversation_id"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("%s should be omitted", key)
		}
	}
}

func TestStreamChunk_JSONFieldNames(t *testing.T) {
	raw, err := json.Marshal(StreamChunk{Sequence: 3, Text: "abc", IsFinal: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"sequence_number":3,"text":"abc","is_final":true}`
	if string(raw) != want {
		t.Errorf("got %s, want %s", raw, want)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
	ctx = WithRequestID(ctx, "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want req-123", got)
	}
}
