package toolcall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
	"switchboard/pkg/logging"
)

const DefaultTimeout = 30 * time.Second

// Bus is the part of broker.Client used by the protocol.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string, handler broker.Handler) (*broker.Subscription, error)
	Unsubscribe(ctx context.Context, sub *broker.Subscription) error
}

// Observer is notified of every completed call.
type Observer interface {
	CallCompleted(target Target, outcome Outcome)
}

// Config configures a Requester.
type Config struct {
	// RequestTopic is where requests are published. Defaults to tools.request.
	RequestTopic string
	// Timeout is the default deadline of a call.
	Timeout time.Duration
}

// RequesterOption customizes a Requester.
type RequesterOption func(*Requester)

// WithObserver reports completed calls to o.
func WithObserver(o Observer) RequesterOption {
	return func(r *Requester) { r.observer = o }
}

// WithIDGenerator overrides request id generation.
func WithIDGenerator(gen func() string) RequesterOption {
	return func(r *Requester) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// CallOption customizes a single Invoke.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the deadline of one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Requester issues tool calls and waits for their correlated results.
type Requester struct {
	bus          Bus
	requestTopic messages.Topic[messages.ToolRequest]
	timeout      time.Duration
	observer     Observer
	newID        func() string

	mu      sync.Mutex
	pending map[string]chan reply
}

// reply is what a waiting call receives: a decoded result or a protocol failure.
type reply struct {
	result  messages.ToolResult
	failure *Failure
}

// NewRequester creates a Requester publishing through bus.
func NewRequester(bus Bus, cfg Config, opts ...RequesterOption) *Requester {
	topic := messages.ToolRequests
	if cfg.RequestTopic != "" {
		topic = messages.NewTopic[messages.ToolRequest](cfg.RequestTopic)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	r := &Requester{
		bus:          bus,
		requestTopic: topic,
		timeout:      cfg.Timeout,
		newID:        uuid.NewString,
		pending:      make(map[string]chan reply),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pending returns the number of calls waiting for a result.
func (r *Requester) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Invoke calls target with args and waits for the result. It never returns
// an error: every failure is reported in Outcome.Failure.
func (r *Requester) Invoke(ctx context.Context, target Target, args map[string]any, opts ...CallOption) Outcome {
	co := callOptions{timeout: r.timeout}
	for _, opt := range opts {
		opt(&co)
	}

	start := time.Now()
	outcome := r.invoke(ctx, target, args, co.timeout)
	outcome.Duration = time.Since(start)

	if outcome.Failure != nil {
		logging.Warn("ToolCall", "Call %s (%s) failed after %s: %s", target, outcome.RequestID, outcome.Duration, outcome.Failure.Reason)
	} else {
		logging.Debug("ToolCall", "Call %s (%s) completed in %s", target, outcome.RequestID, outcome.Duration)
	}
	if r.observer != nil {
		r.observer.CallCompleted(target, outcome)
	}
	return outcome
}

func (r *Requester) invoke(ctx context.Context, target Target, args map[string]any, timeout time.Duration) Outcome {
	id := r.newID()
	replyTopic := messages.ReplyTopic(id)
	outcome := Outcome{RequestID: id, Target: target}

	if args == nil {
		args = map[string]any{}
	}
	req := messages.ToolRequest{
		RequestID:    id,
		TargetServer: target.Server,
		Tool:         target.Tool,
		Arguments:    args,
		ReplyTopic:   replyTopic.Name(),
	}
	if err := req.Validate(); err != nil {
		outcome.Failure = &Failure{Kind: FailureProtocol, Reason: err.Error(), Err: err}
		return outcome
	}

	// The deadline covers the whole exchange, including subscribe and publish.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	results := r.register(id)
	defer r.forget(id)

	sub, err := r.bus.Subscribe(ctx, replyTopic.Name(), r.replyHandler(id, replyTopic))
	if err != nil {
		outcome.Failure = &Failure{Kind: FailureTransport, Reason: fmt.Sprintf("failed to subscribe to %s: %v", replyTopic, err), Err: err}
		return outcome
	}
	defer func() {
		// Unsubscribing must not depend on the caller's context, which may
		// already be done.
		if err := r.bus.Unsubscribe(context.WithoutCancel(ctx), sub); err != nil {
			logging.Warn("ToolCall", "Failed to unsubscribe from %s: %v", replyTopic, err)
		}
	}()

	if err := r.requestTopic.Publish(ctx, r.bus, req); err != nil {
		outcome.Failure = &Failure{Kind: FailureTransport, Reason: fmt.Sprintf("failed to publish request: %v", err), Err: err}
		return outcome
	}

	select {
	case rep := <-results:
		switch {
		case rep.failure != nil:
			outcome.Failure = rep.failure
		case rep.result.Failed():
			outcome.Failure = &Failure{Kind: FailureExecution, Reason: *rep.result.Error}
		default:
			outcome.Value = rep.result.Result
		}
		return outcome

	case <-timer.C:
		outcome.Failure = &Failure{
			Kind:   FailureTimeout,
			Reason: fmt.Sprintf("no result from %s within %s", target, timeout),
			Err:    context.DeadlineExceeded,
		}
		return outcome

	case <-ctx.Done():
		kind := FailureCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = FailureTimeout
		}
		outcome.Failure = &Failure{Kind: kind, Reason: ctx.Err().Error(), Err: ctx.Err()}
		return outcome
	}
}

func (r *Requester) register(id string) chan reply {
	ch := make(chan reply, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	return ch
}

func (r *Requester) forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// resolve hands rep to the waiter for id. It returns false when nobody is
// waiting any more.
func (r *Requester) resolve(id string, rep reply) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- rep
	return true
}

func (r *Requester) replyHandler(id string, topic messages.Topic[messages.ToolResult]) broker.Handler {
	return func(_ context.Context, env broker.Envelope) error {
		// Correlate first: only a reply carrying our id may settle the call,
		// whether or not the rest of it is well formed.
		var head struct {
			RequestID string `json:"request_id"`
		}
		if err := env.Decode(&head); err != nil || head.RequestID != id {
			logging.Warn("ToolCall", "Protocol violation: unmatched result (request id %q) received on %s, ignoring", head.RequestID, topic)
			return nil
		}

		res, err := topic.Decode(env)
		if err != nil {
			r.resolve(id, reply{failure: &Failure{Kind: FailureProtocol, Reason: err.Error(), Err: err}})
			return err
		}
		if !r.resolve(id, reply{result: res}) {
			logging.Debug("ToolCall", "Discarding result for %s, call already finished", id)
		}
		return nil
	}
}
