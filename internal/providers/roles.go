package providers

import (
	"fmt"

	"llmgateway/internal/core"
)

// RoleMap is a vendor's role vocabulary. An empty System means the vendor has
// no system role and the adapter lifts system messages into a dedicated field.
type RoleMap struct {
	System    string
	User      string
	Assistant string
}

// OpenAIRoles is the vocabulary shared by OpenAI and OpenAI-compatible vendors.
var OpenAIRoles = RoleMap{System: "system", User: "user", Assistant: "assistant"}

// ToVendor maps a canonical role to the vendor's name for it.
func (m RoleMap) ToVendor(r core.Role) (string, error) {
	var v string
	switch r {
	case core.RoleSystem:
		v = m.System
	case core.RoleUser:
		v = m.User
	case core.RoleAssistant:
		v = m.Assistant
	}
	if v == "" {
		return "", fmt.Errorf("role %q has no vendor equivalent", r)
	}
	return v, nil
}

// FromVendor maps a vendor role name back to the canonical role.
func (m RoleMap) FromVendor(v string) (core.Role, error) {
	switch {
	case v == "":
	case v == m.System:
		return core.RoleSystem, nil
	case v == m.User:
		return core.RoleUser, nil
	case v == m.Assistant:
		return core.RoleAssistant, nil
	}
	return "", fmt.Errorf("unknown vendor role %q", v)
}
