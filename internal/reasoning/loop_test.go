package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/toolcall"
)

// scriptedEngine answers each round with the next scripted response and
// records the requests it saw.
type scriptedEngine struct {
	mu        sync.Mutex
	responses []ChatResponse
	err       error
	requests  []ChatRequest
}

func (e *scriptedEngine) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.err != nil {
		return ChatResponse{}, e.err
	}
	if len(e.responses) == 0 {
		return ChatResponse{Message: Message{Role: RoleAssistant, Content: "done"}}, nil
	}
	resp := e.responses[0]
	e.responses = e.responses[1:]
	return resp, nil
}

func (e *scriptedEngine) rounds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

// callTool returns an assistant response requesting one tool call.
func callTool(function string, args map[string]any) ChatResponse {
	return ChatResponse{Message: Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{Function: function, Arguments: args}},
	}}
}

func answer(text string) ChatResponse {
	return ChatResponse{Message: Message{Role: RoleAssistant, Content: text}}
}

type fakeInvoker struct {
	mu      sync.Mutex
	calls   []toolcall.Target
	args    []map[string]any
	respond func(target toolcall.Target, args map[string]any) toolcall.Outcome
}

func (f *fakeInvoker) Invoke(_ context.Context, target toolcall.Target, args map[string]any, _ ...toolcall.CallOption) toolcall.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	f.args = append(f.args, args)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(target, args)
	}
	return toolcall.Outcome{Target: target, Value: json.RawMessage(`"ok"`), Duration: time.Millisecond}
}

var coreTools = []Tool{
	{Target: toolcall.Target{Server: "core", Tool: "add"}, Description: "Add two numbers"},
	{Target: toolcall.Target{Server: "core", Tool: "echo"}, Description: "Echo text"},
}

func TestLoop_AnswerWithoutTools(t *testing.T) {
	engine := &scriptedEngine{responses: []ChatResponse{answer("  Hello there.  ")}}
	invoker := &fakeInvoker{}
	loop := NewLoop(engine, invoker, LoopConfig{})

	result, err := loop.Run(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, coreTools)
	require.NoError(t, err)

	assert.Equal(t, "Hello there.", result.Text)
	assert.Equal(t, 1, result.Iterations)
	assert.False(t, result.Truncated)
	assert.Empty(t, invoker.calls)

	require.Len(t, engine.requests, 1)
	var names []string
	for _, spec := range engine.requests[0].Tools {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"core__add", "core__echo"}, names)
}

func TestLoop_ToolResultFedBack(t *testing.T) {
	engine := &scriptedEngine{responses: []ChatResponse{
		callTool("core__add", map[string]any{"a": 2.0, "b": 3.0}),
		answer("The sum is 5."),
	}}
	invoker := &fakeInvoker{respond: func(target toolcall.Target, _ map[string]any) toolcall.Outcome {
		return toolcall.Outcome{Target: target, Value: json.RawMessage(`5`)}
	}}
	loop := NewLoop(engine, invoker, LoopConfig{})

	result, err := loop.Run(context.Background(), []Message{{Role: RoleUser, Content: "what is 2+3"}}, coreTools)
	require.NoError(t, err)

	assert.Equal(t, "The sum is 5.", result.Text)
	assert.Equal(t, 2, result.Iterations)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, toolcall.Target{Server: "core", Tool: "add"}, result.ToolCalls[0].Target)
	assert.Empty(t, result.ToolCalls[0].Failure)
	assert.Equal(t, map[string]any{"a": 2.0, "b": 3.0}, invoker.args[0])

	// Second round sees the assistant call and the tool answer.
	require.Len(t, engine.requests, 2)
	second := engine.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, RoleAssistant, second[1].Role)
	assert.Equal(t, Message{Role: RoleTool, ToolName: "core__add", Content: "5"}, second[2])
}

func TestLoop_ChainedCalls(t *testing.T) {
	engine := &scriptedEngine{responses: []ChatResponse{
		callTool("core__echo", map[string]any{"text": "one"}),
		callTool("core__echo", map[string]any{"text": "two"}),
		answer("Both done."),
	}}
	invoker := &fakeInvoker{}
	loop := NewLoop(engine, invoker, LoopConfig{})

	result, err := loop.Run(context.Background(), []Message{{Role: RoleUser, Content: "go"}}, coreTools)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Iterations)
	assert.Len(t, result.ToolCalls, 2)
	assert.Equal(t, "Both done.", result.Text)
}

func TestLoop_IterationBound(t *testing.T) {
	var responses []ChatResponse
	for i := 0; i < 10; i++ {
		resp := callTool("core__echo", map[string]any{"text": "again"})
		if i == 1 {
			resp.Message.Content = "Still working on it."
		}
		responses = append(responses, resp)
	}
	engine := &scriptedEngine{responses: responses}
	invoker := &fakeInvoker{}
	loop := NewLoop(engine, invoker, LoopConfig{MaxIterations: 3})

	result, err := loop.Run(context.Background(), []Message{{Role: RoleUser, Content: "loop forever"}}, coreTools)
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 3, engine.rounds())
	// The calls requested in the final round are not executed.
	assert.Len(t, invoker.calls, 2)
	assert.Equal(t, "Still working on it.", result.Text)
}

func TestLoop_IterationBoundWithoutText(t *testing.T) {
	engine := &scriptedEngine{responses: []ChatResponse{
		callTool("core__echo", nil),
		callTool("core__echo", nil),
	}}
	loop := NewLoop(engine, &fakeInvoker{}, LoopConfig{MaxIterations: 2})

	result, err := loop.Run(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, coreTools)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, TruncatedAnswer, result.Text)
}

func TestLoop_CounterResetsPerRun(t *testing.T) {
	engine := &scriptedEngine{responses: []ChatResponse{
		callTool("core__echo", nil),
		callTool("core__echo", nil),
		answer("first"),
		callTool("core__echo", nil),
		callTool("core__echo", nil),
		answer("second"),
	}}
	loop := NewLoop(engine, &fakeInvoker{}, LoopConfig{MaxIterations: 3})

	for _, want := range []string{"first", "second"} {
		result, err := loop.Run(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, coreTools)
		require.NoError(t, err)
		assert.False(t, result.Truncated)
		assert.Equal(t, want, result.Text)
		assert.Equal(t, 3, result.Iterations)
	}
}

func TestLoop_ToolFailureIsReported(t *testing.T) {
	engine := &scriptedEngine{responses: []ChatResponse{
		callTool("core__add", map[string]any{"a": 1.0}),
		answer("I could not add those."),
	}}
	invoker := &fakeInvoker{respond: func(target toolcall.Target, _ map[string]any) toolcall.Outcome {
		return toolcall.Outcome{Target: target, Failure: &toolcall.Failure{Kind: toolcall.FailureTimeout, Reason: "no reply within 30s"}}
	}}
	loop := NewLoop(engine, invoker, LoopConfig{})

	result, err := loop.Run(context.Background(), []Message{{Role: RoleUser, Content: "add"}}, coreTools)
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "no reply within 30s", result.ToolCalls[0].Failure)
	toolMsg := engine.requests[1].Messages[2]
	assert.Equal(t, "error: no reply within 30s", toolMsg.Content)
}

func TestLoop_UnknownTool(t *testing.T) {
	engine := &scriptedEngine{responses: []ChatResponse{
		callTool("weather__forecast", nil),
		answer("I can't check the weather."),
	}}
	invoker := &fakeInvoker{}
	loop := NewLoop(engine, invoker, LoopConfig{})

	result, err := loop.Run(context.Background(), []Message{{Role: RoleUser, Content: "weather?"}}, coreTools)
	require.NoError(t, err)

	assert.Empty(t, invoker.calls)
	assert.Empty(t, result.ToolCalls)
	assert.Equal(t, "error: unknown tool weather__forecast", engine.requests[1].Messages[2].Content)
}

func TestLoop_EngineFailure(t *testing.T) {
	engine := &scriptedEngine{err: errors.New("connection refused")}
	loop := NewLoop(engine, &fakeInvoker{}, LoopConfig{})

	_, err := loop.Run(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)
	require.Error(t, err)

	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, 1, engineErr.Iteration)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLoop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := &scriptedEngine{responses: []ChatResponse{
		{Message: Message{Role: RoleAssistant, ToolCalls: []ToolCall{
			{Function: "core__echo"},
			{Function: "core__echo"},
		}}},
	}}
	invoker := &fakeInvoker{respond: func(target toolcall.Target, _ map[string]any) toolcall.Outcome {
		cancel()
		return toolcall.Outcome{Target: target, Value: json.RawMessage(`"ok"`)}
	}}
	loop := NewLoop(engine, invoker, LoopConfig{})

	_, err := loop.Run(ctx, []Message{{Role: RoleUser, Content: "x"}}, coreTools)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, invoker.calls, 1)
}

func TestLoop_DoesNotModifyConversation(t *testing.T) {
	conversation := make([]Message, 1, 8)
	conversation[0] = Message{Role: RoleUser, Content: "x"}
	engine := &scriptedEngine{responses: []ChatResponse{callTool("core__echo", nil), answer("y")}}
	loop := NewLoop(engine, &fakeInvoker{}, LoopConfig{})

	result, err := loop.Run(context.Background(), conversation, coreTools)
	require.NoError(t, err)
	assert.Len(t, result.Messages, 4)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "x"}}, conversation)
}
