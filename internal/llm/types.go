// Package llm is the generation provider contract: plain generation and
// streaming generation with interleaved tool calls.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a generation request.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// Name is the tool name on RoleTool messages.
	Name string `json:"name,omitempty"`
}

// ToolCall is a model's request to run one tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object
}

// Param describes one tool parameter.
type Param struct {
	Type        string   `json:"type"` // string, integer, number, boolean
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolSchema declares a tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	Params      map[string]Param
	Required    []string
}

type TokenKind string

const (
	TokenText   TokenKind = "text"
	TokenStatus TokenKind = "status"
)

const (
	StatusToolStart = "tool_start"
	StatusToolDone  = "tool_done"
)

// Status reports tool progress during generation.
type Status struct {
	Action string
	Tool   string
	Index  int // 1-based position within the round
	Total  int
}

// Token is one element of a generation stream.
type Token struct {
	Kind   TokenKind
	Text   string
	Status *Status
}

// ExecuteFunc runs a tool call and returns the text fed back to the model.
type ExecuteFunc func(ctx context.Context, call ToolCall) string

// Generator produces a complete response. The feedback classifier only
// needs this half of the contract.
type Generator interface {
	Generate(ctx context.Context, msgs []Message) (string, error)
}

// Provider is a full generation backend.
type Provider interface {
	Generator
	StreamWithTools(ctx context.Context, msgs []Message, tools []ToolSchema, exec ExecuteFunc) iter.Seq2[Token, error]
}

// ErrRateLimited matches any provider rate-limit error via errors.Is.
var ErrRateLimited = errors.New("provider rate limited")

// RateLimitError is returned when a provider answers HTTP 429.
type RateLimitError struct {
	Status int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.Status)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
