package broker

import (
	"context"
	"fmt"
	"sync"

	"switchboard/pkg/logging"
)

// Subscription is the registration returned by Client.Subscribe. It is the
// token passed back to Client.Unsubscribe.
type Subscription struct {
	id       uint64
	topic    string
	handler  Handler
	observer Observer

	mu     sync.Mutex
	queue  []Envelope
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newSubscription(id uint64, topic string, handler Handler, observer Observer) *Subscription {
	return &Subscription{
		id:       id,
		topic:    topic,
		handler:  handler,
		observer: observer,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Active reports whether the subscription still receives messages.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// enqueue appends env to the mailbox. The mailbox is unbounded so that a
// handler waiting on another topic can never stall the transport reader.
func (s *Subscription) enqueue(env Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, env)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) run(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			env := s.queue[0]
			s.queue[0] = Envelope{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.invoke(ctx, env)
		}
	}
}

func (s *Subscription) invoke(ctx context.Context, env Envelope) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			logging.Error("Broker", err, "Handler for [%s] panicked", s.topic)
		}
		s.observer.MessageDelivered(s.topic, err)
	}()

	if err = s.handler(ctx, env); err != nil {
		logging.Error("Broker", err, "Handler for [%s] returned an error", s.topic)
	}
}

// stop closes the mailbox. Queued messages are discarded; a handler that is
// currently running is allowed to finish.
func (s *Subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}
