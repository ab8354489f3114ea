package broker

import (
	"context"
	"sync"
)

// MemoryHub is an in-process broker. Every MemoryTransport created from the
// same hub sees the messages published by the others.
type MemoryHub struct {
	mu   sync.Mutex
	subs map[string]map[*MemoryTransport]struct{}
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[*MemoryTransport]struct{})}
}

// Transport returns a new, unconnected transport attached to the hub.
func (h *MemoryHub) Transport() *MemoryTransport {
	return &MemoryTransport{hub: h}
}

// Subscribers returns the number of transports subscribed to topic.
func (h *MemoryHub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

func (h *MemoryHub) publish(topic string, data []byte) {
	// Holding the hub lock across delivery keeps a single global order per
	// topic. Deliver functions only enqueue, so this never blocks on handlers.
	h.mu.Lock()
	defer h.mu.Unlock()
	for t := range h.subs[topic] {
		if deliver := t.deliverFunc(); deliver != nil {
			msg := make([]byte, len(data))
			copy(msg, data)
			deliver(topic, msg)
		}
	}
}

func (h *MemoryHub) subscribe(topic string, t *MemoryTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*MemoryTransport]struct{})
	}
	h.subs[topic][t] = struct{}{}
}

func (h *MemoryHub) unsubscribe(topic string, t *MemoryTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[topic], t)
	if len(h.subs[topic]) == 0 {
		delete(h.subs, topic)
	}
}

func (h *MemoryHub) detach(t *MemoryTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.subs {
		delete(set, t)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// MemoryTransport is a Transport backed by a MemoryHub.
type MemoryTransport struct {
	hub *MemoryHub

	mu      sync.RWMutex
	deliver DeliverFunc
}

func (t *MemoryTransport) deliverFunc() DeliverFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.deliver
}

func (t *MemoryTransport) Connect(_ context.Context, deliver DeliverFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deliver = deliver
	return nil
}

func (t *MemoryTransport) Close() error {
	t.hub.detach(t)
	t.mu.Lock()
	t.deliver = nil
	t.mu.Unlock()
	return nil
}

func (t *MemoryTransport) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.deliverFunc() == nil {
		return ErrNotConnected
	}
	t.hub.publish(topic, data)
	return nil
}

func (t *MemoryTransport) Subscribe(_ context.Context, topic string) error {
	if t.deliverFunc() == nil {
		return ErrNotConnected
	}
	t.hub.subscribe(topic, t)
	return nil
}

func (t *MemoryTransport) Unsubscribe(_ context.Context, topic string) error {
	t.hub.unsubscribe(topic, t)
	return nil
}

func (t *MemoryTransport) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.deliverFunc() == nil {
		return ErrNotConnected
	}
	return nil
}

func (t *MemoryTransport) String() string {
	return "memory://"
}
