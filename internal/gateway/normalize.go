package gateway

import (
	"fmt"
	"math"
	"strings"

	"llmgateway/internal/core"
)

// Canonical temperature bounds. Adapters clamp further when a vendor's range is narrower.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Normalize validates req and returns a canonical copy. The caller's request
// is never modified. Checks run in a fixed order (messages, each role,
// temperature, max_tokens, model) and the first failure is reported.
func Normalize(req *core.ChatRequest) (*core.ChatRequest, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, core.NewInvalidRequestError("messages", "messages must not be empty")
	}

	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return nil, core.NewInvalidRequestError("messages",
				fmt.Sprintf("messages[%d].role: unsupported role %q (expected system, user or assistant)", i, msg.Role))
		}
	}

	if t := req.Temperature; t != nil {
		if math.IsNaN(*t) || *t < MinTemperature || *t > MaxTemperature {
			return nil, core.NewInvalidRequestError("temperature",
				fmt.Sprintf("temperature must be between %.1f and %.1f", MinTemperature, MaxTemperature))
		}
	}

	if m := req.MaxTokens; m != nil && *m <= 0 {
		return nil, core.NewInvalidRequestError("max_tokens", "max_tokens must be a positive integer")
	}

	out := req.Clone()
	out.Model = strings.TrimSpace(out.Model)
	if out.Model == "" {
		return nil, core.NewInvalidRequestError("model", "model is required")
	}
	return out, nil
}
