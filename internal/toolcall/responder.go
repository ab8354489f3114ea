package toolcall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
	"switchboard/pkg/logging"
)

// DefaultMaxConcurrent bounds the executions a Responder runs at once.
const DefaultMaxConcurrent = 8

// Executor runs a tool. The returned value must be JSON encodable.
type Executor interface {
	Execute(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, server, tool string, args map[string]any) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	return f(ctx, server, tool, args)
}

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// MaxConcurrent bounds parallel executions. Requests beyond the bound
	// wait in the subscription mailbox.
	MaxConcurrent int64
	// ExecTimeout bounds a single execution. Zero means DefaultTimeout.
	ExecTimeout time.Duration
}

// Responder answers tool requests with exactly one result each.
type Responder struct {
	pub     messages.Publisher
	exec    Executor
	timeout time.Duration
	sem     *semaphore.Weighted
	wg      sync.WaitGroup

	// onDone is called after every published result.
	onDone func(req messages.ToolRequest, res messages.ToolResult, d time.Duration)
}

// ResponderOption customizes a Responder.
type ResponderOption func(*Responder)

// WithCompletionHook calls fn after each request has been answered.
func WithCompletionHook(fn func(req messages.ToolRequest, res messages.ToolResult, d time.Duration)) ResponderOption {
	return func(r *Responder) { r.onDone = fn }
}

// NewResponder creates a Responder executing requests with exec and
// publishing results through pub.
func NewResponder(pub messages.Publisher, exec Executor, cfg ResponderConfig, opts ...ResponderOption) *Responder {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultTimeout
	}
	r := &Responder{
		pub:     pub,
		exec:    exec,
		timeout: cfg.ExecTimeout,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route returns the subscription that feeds the Responder.
func (r *Responder) Route() messages.Route {
	return messages.Handle(messages.ToolRequests, r.handle)
}

// Wait blocks until all executions in flight have published their result.
func (r *Responder) Wait() {
	r.wg.Wait()
}

func (r *Responder) handle(ctx context.Context, _ broker.Envelope, req messages.ToolRequest) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		// Still owe the requester an answer.
		r.publish(context.WithoutCancel(ctx), req, messages.NewToolFailure(req.RequestID, "responder shutting down"), 0)
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)

		start := time.Now()
		res := r.execute(context.WithoutCancel(ctx), req)
		r.publish(context.WithoutCancel(ctx), req, res, time.Since(start))
	}()
	return nil
}

func (r *Responder) execute(ctx context.Context, req messages.ToolRequest) (res messages.ToolResult) {
	defer func() {
		if p := recover(); p != nil {
			logging.Error("ToolCall", fmt.Errorf("panic: %v", p), "Tool %s/%s panicked", req.TargetServer, req.Tool)
			res = messages.NewToolFailure(req.RequestID, fmt.Sprintf("tool panicked: %v", p))
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	logging.Debug("ToolCall", "Executing %s/%s (%s)", req.TargetServer, req.Tool, req.RequestID)
	value, err := r.exec.Execute(execCtx, req.TargetServer, req.Tool, req.Arguments)
	if err != nil {
		return messages.NewToolFailure(req.RequestID, err.Error())
	}
	res, err = messages.NewToolSuccess(req.RequestID, value)
	if err != nil {
		return messages.NewToolFailure(req.RequestID, err.Error())
	}
	return res
}

func (r *Responder) publish(ctx context.Context, req messages.ToolRequest, res messages.ToolResult, d time.Duration) {
	reply := messages.NewTopic[messages.ToolResult](req.ReplyTopic)
	if err := reply.Publish(ctx, r.pub, res); err != nil {
		logging.Error("ToolCall", err, "Failed to publish result for %s", req.RequestID)
	}
	if r.onDone != nil {
		r.onDone(req, res, d)
	}
}
