package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role
	Content string
	// ToolCalls are the calls requested by an assistant message.
	ToolCalls []ToolCall
	// ToolName names the function a tool message answers.
	ToolName string
}

// ToolCall is a function call requested by the engine.
type ToolCall struct {
	Function  string
	Arguments map[string]any
}

// ToolSpec describes a callable function to the engine.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatRequest is one engine round.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolSpec
}

// ChatResponse is the engine's answer to a round.
type ChatResponse struct {
	Message   Message
	EvalCount int
}

// Engine produces the next assistant message for a conversation.
type Engine interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Pinger is implemented by engines that can check their availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EngineError reports a failed engine round.
type EngineError struct {
	Iteration int
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("inference failed in round %d: %v", e.Iteration, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
