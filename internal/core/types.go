package core

import "slices"

// Role is a canonical chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Roles lists every canonical role in declaration order.
var Roles = []Role{RoleSystem, RoleUser, RoleAssistant}

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// ChatMessage represents a single message in the chat
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents the incoming chat completion request.
// Temperature and MaxTokens are optional; nil means "vendor default".
type ChatRequest struct {
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`

	// ConversationID is consumed by the transport layer to persist the
	// exchange. Adapters ignore it.
	ConversationID string `json:"conversation_id,omitempty"`
}

// Clone returns a deep copy of the request so callers and adapters never
// share mutable state.
func (r *ChatRequest) Clone() *ChatRequest {
	if r == nil {
		return nil
	}
	out := &ChatRequest{
		Model:          r.Model,
		Stream:         r.Stream,
		ConversationID: r.ConversationID,
	}
	if r.Temperature != nil {
		t := *r.Temperature
		out.Temperature = &t
	}
	if r.MaxTokens != nil {
		m := *r.MaxTokens
		out.MaxTokens = &m
	}
	if r.Messages != nil {
		out.Messages = make([]ChatMessage, len(r.Messages))
		copy(out.Messages, r.Messages)
	}
	return out
}

// ChatResponse is produced once per non-streaming request.
type ChatResponse struct {
	Content    string `json:"content"`
	TokensUsed *int   `json:"tokens_used,omitempty"`
	Model      string `json:"model,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

// StreamChunk is one ordered piece of a streamed reply. The final chunk has
// IsFinal set and may carry the token total if the vendor reported one.
type StreamChunk struct {
	Sequence   uint64 `json:"sequence_number"`
	Text       string `json:"text"`
	IsFinal    bool   `json:"is_final"`
	TokensUsed *int   `json:"tokens_used,omitempty"`
}

// ProviderDescriptor is one entry of an aggregated model catalog.
type ProviderDescriptor struct {
	Name   string   `json:"provider_name"`
	Models []string `json:"models"`
}

// Delta is a single decoded event from a vendor stream.
type Delta struct {
	Text string
	// Done marks the vendor's explicit end-of-stream event.
	Done       bool
	TokensUsed *int
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }
