// Package llm is the boundary to the language-model policy: given a system
// preamble, an ordered transcript and a tool catalog it returns either text or
// tool invocations.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrPolicyUnavailable wraps transport failures, non-2xx answers, malformed
// bodies and deadline expiry.
var ErrPolicyUnavailable = errors.New("policy unavailable")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant turns that requested tools
	ToolCallID string     // tool-result turns
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSpec advertises one tool. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}

type Response struct {
	Text      string
	ToolCalls []ToolCall
}

type Policy interface {
	Decide(ctx context.Context, req Request) (*Response, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, req Request) (*Response, error)

func (f PolicyFunc) Decide(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }
