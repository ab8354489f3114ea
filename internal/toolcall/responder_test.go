package toolcall

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
)

func serve(t *testing.T, bus *broker.Client, r *Responder) {
	t.Helper()
	route := r.Route()
	sub, err := bus.Subscribe(context.Background(), route.Topic, route.Handler)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = bus.Unsubscribe(context.Background(), sub)
		r.Wait()
	})
}

func TestResponder_RoundTrip(t *testing.T) {
	hub := broker.NewMemoryHub()
	caller := connectedClient(t, hub)
	gateway := connectedClient(t, hub)

	exec := ExecutorFunc(func(_ context.Context, server, tool string, args map[string]any) (any, error) {
		if server != "core" || tool != "add" {
			return nil, errors.New("unknown tool " + server + "/" + tool)
		}
		return args["a"].(float64) + args["b"].(float64), nil
	})
	serve(t, gateway, NewResponder(gateway, exec, ResponderConfig{}))

	r := NewRequester(caller, Config{Timeout: time.Second})

	outcome := r.Invoke(context.Background(), Target{Server: "core", Tool: "add"}, map[string]any{"a": 2, "b": 3})
	require.True(t, outcome.OK(), "unexpected failure: %v", outcome.Err())
	var sum float64
	require.NoError(t, outcome.Decode(&sum))
	assert.Equal(t, 5.0, sum)

	outcome = r.Invoke(context.Background(), Target{Server: "core", Tool: "missing"}, nil)
	require.False(t, outcome.OK())
	assert.Equal(t, FailureExecution, outcome.Failure.Kind)
	assert.Contains(t, outcome.Failure.Reason, "unknown tool core/missing")
}

func TestResponder_PanicBecomesFailure(t *testing.T) {
	hub := broker.NewMemoryHub()
	caller := connectedClient(t, hub)
	gateway := connectedClient(t, hub)

	exec := ExecutorFunc(func(context.Context, string, string, map[string]any) (any, error) {
		panic("boom")
	})
	serve(t, gateway, NewResponder(gateway, exec, ResponderConfig{}))

	r := NewRequester(caller, Config{Timeout: time.Second})
	outcome := r.Invoke(context.Background(), Target{Server: "core", Tool: "echo"}, nil)

	require.False(t, outcome.OK())
	assert.Equal(t, FailureExecution, outcome.Failure.Kind)
	assert.Contains(t, outcome.Failure.Reason, "boom")
}

func TestResponder_ExecTimeout(t *testing.T) {
	hub := broker.NewMemoryHub()
	caller := connectedClient(t, hub)
	gateway := connectedClient(t, hub)

	exec := ExecutorFunc(func(ctx context.Context, _, _ string, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	serve(t, gateway, NewResponder(gateway, exec, ResponderConfig{ExecTimeout: 30 * time.Millisecond}))

	r := NewRequester(caller, Config{Timeout: time.Second})
	outcome := r.Invoke(context.Background(), Target{Server: "core", Tool: "slow"}, nil)

	require.False(t, outcome.OK())
	assert.Equal(t, FailureExecution, outcome.Failure.Kind)
	assert.Contains(t, outcome.Failure.Reason, "deadline exceeded")
}

func TestResponder_BoundsConcurrency(t *testing.T) {
	hub := broker.NewMemoryHub()
	caller := connectedClient(t, hub)
	gateway := connectedClient(t, hub)

	var running, peak atomic.Int32
	exec := ExecutorFunc(func(context.Context, string, string, map[string]any) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	})
	serve(t, gateway, NewResponder(gateway, exec, ResponderConfig{MaxConcurrent: 2}))

	r := NewRequester(caller, Config{Timeout: 2 * time.Second})
	done := make(chan Outcome, 6)
	for i := 0; i < 6; i++ {
		go func() {
			done <- r.Invoke(context.Background(), Target{Server: "core", Tool: "echo"}, nil)
		}()
	}
	for i := 0; i < 6; i++ {
		outcome := <-done
		assert.True(t, outcome.OK())
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestResponder_CompletionHook(t *testing.T) {
	hub := broker.NewMemoryHub()
	caller := connectedClient(t, hub)
	gateway := connectedClient(t, hub)

	results := make(chan messages.ToolResult, 1)
	exec := ExecutorFunc(func(context.Context, string, string, map[string]any) (any, error) {
		return map[string]any{"ok": true}, nil
	})
	serve(t, gateway, NewResponder(gateway, exec, ResponderConfig{},
		WithCompletionHook(func(_ messages.ToolRequest, res messages.ToolResult, _ time.Duration) {
			results <- res
		})))

	r := NewRequester(caller, Config{Timeout: time.Second})
	outcome := r.Invoke(context.Background(), Target{Server: "core", Tool: "echo"}, nil)
	require.True(t, outcome.OK())

	select {
	case res := <-results:
		assert.Equal(t, outcome.RequestID, res.RequestID)
		assert.False(t, res.Failed())
		assert.JSONEq(t, `{"ok":true}`, string(res.Result))
	case <-time.After(time.Second):
		t.Fatal("completion hook was not called")
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func TestResponder_RepliesOnEmbeddedReplyTopic(t *testing.T) {
	pub := &recordingPublisher{}
	exec := ExecutorFunc(func(context.Context, string, string, map[string]any) (any, error) {
		return "ok", nil
	})
	r := NewResponder(pub, exec, ResponderConfig{})

	req := messages.ToolRequest{
		RequestID:    "req-1",
		TargetServer: "core",
		Tool:         "echo",
		ReplyTopic:   "tools.reply.elsewhere",
	}
	require.NoError(t, r.handle(context.Background(), broker.Envelope{}, req))
	r.Wait()

	assert.Equal(t, []string{"tools.reply.elsewhere"}, pub.topics)
}
