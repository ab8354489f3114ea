package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"switchboard/internal/toolcall"
	"switchboard/pkg/logging"
)

// DefaultMaxIterations bounds the engine rounds of one turn.
const DefaultMaxIterations = 5

// TruncatedAnswer is returned when a turn hits the iteration bound before the
// engine produced any text.
const TruncatedAnswer = "I'm sorry, I couldn't finish that request. Could you try rephrasing it?"

// functionSeparator joins server and tool into an engine function name.
const functionSeparator = "__"

// Invoker performs tool calls. toolcall.Requester implements it.
type Invoker interface {
	Invoke(ctx context.Context, target toolcall.Target, args map[string]any, opts ...toolcall.CallOption) toolcall.Outcome
}

var _ Invoker = (*toolcall.Requester)(nil)

// Tool is a tool the engine may call.
type Tool struct {
	Target      toolcall.Target
	Description string
	Parameters  json.RawMessage
}

// FunctionName is the name under which the tool is offered to the engine.
func (t Tool) FunctionName() string {
	return t.Target.Server + functionSeparator + t.Target.Tool
}

// ToolCallRecord describes one tool call made during a turn.
type ToolCallRecord struct {
	Target   toolcall.Target
	Failure  string
	Duration time.Duration
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	Text       string
	Iterations int
	ToolCalls  []ToolCallRecord
	// Truncated is set when the iteration bound ended the turn.
	Truncated bool
	// Messages is the turn context as it was sent in the last round, plus
	// the final assistant message.
	Messages []Message
}

// Loop runs the bounded engine/tool cycle of a turn.
type Loop struct {
	engine        Engine
	invoker       Invoker
	maxIterations int
	toolTimeout   time.Duration
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	MaxIterations int
	// ToolTimeout overrides the requester's default deadline per call.
	ToolTimeout time.Duration
}

// NewLoop creates a Loop.
func NewLoop(engine Engine, invoker Invoker, cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		engine:        engine,
		invoker:       invoker,
		maxIterations: cfg.MaxIterations,
		toolTimeout:   cfg.ToolTimeout,
	}
}

// MaxIterations returns the configured bound.
func (l *Loop) MaxIterations() int {
	return l.maxIterations
}

// Run drives the engine for one turn starting from conversation. The
// iteration counter starts at zero on every call. Tool failures are fed back
// to the engine as text; only engine failures and cancellation end the turn
// with an error.
func (l *Loop) Run(ctx context.Context, conversation []Message, tools []Tool) (TurnResult, error) {
	msgs := append([]Message(nil), conversation...)

	specs := make([]ToolSpec, 0, len(tools))
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		name := t.FunctionName()
		byName[name] = t
		specs = append(specs, ToolSpec{Name: name, Description: t.Description, Parameters: t.Parameters})
	}

	var result TurnResult
	var lastText string

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		result.Iterations = iteration

		resp, err := l.engine.Chat(ctx, ChatRequest{Messages: msgs, Tools: specs})
		if err != nil {
			result.Messages = msgs
			return result, &EngineError{Iteration: iteration, Err: err}
		}

		reply := resp.Message
		reply.Role = RoleAssistant
		if text := strings.TrimSpace(reply.Content); text != "" {
			lastText = text
		}
		msgs = append(msgs, reply)

		if len(reply.ToolCalls) == 0 {
			result.Text = strings.TrimSpace(reply.Content)
			result.Messages = msgs
			return result, nil
		}

		// Results requested in the last round could never be read.
		if iteration == l.maxIterations {
			break
		}

		logging.Info("Reasoning", "Round %d requested %d tool call(s)", iteration, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			if err := ctx.Err(); err != nil {
				result.Messages = msgs
				return result, err
			}
			msg, record := l.call(ctx, byName, call)
			if record != nil {
				result.ToolCalls = append(result.ToolCalls, *record)
			}
			msgs = append(msgs, msg)
		}
	}

	logging.Warn("Reasoning", "Reached max tool calling iterations (%d)", l.maxIterations)
	result.Truncated = true
	result.Text = lastText
	if result.Text == "" {
		result.Text = TruncatedAnswer
	}
	result.Messages = msgs
	return result, nil
}

func (l *Loop) call(ctx context.Context, tools map[string]Tool, call ToolCall) (Message, *ToolCallRecord) {
	tool, ok := tools[call.Function]
	if !ok {
		logging.Warn("Reasoning", "Engine requested unknown tool %s", call.Function)
		return Message{
			Role:     RoleTool,
			ToolName: call.Function,
			Content:  fmt.Sprintf("error: unknown tool %s", call.Function),
		}, nil
	}

	var opts []toolcall.CallOption
	if l.toolTimeout > 0 {
		opts = append(opts, toolcall.WithTimeout(l.toolTimeout))
	}
	outcome := l.invoker.Invoke(ctx, tool.Target, call.Arguments, opts...)

	record := &ToolCallRecord{Target: tool.Target, Duration: outcome.Duration}
	if outcome.Failure != nil {
		record.Failure = outcome.Failure.Reason
	}
	return Message{Role: RoleTool, ToolName: call.Function, Content: outcome.Text()}, record
}
