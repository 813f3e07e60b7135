// Package broadcast fans out "wake up and re-sync" signals to connected
// clients. No document payload ever travels through the channel: a
// subscriber that misses a beat simply re-fetches on its next poll.
package broadcast

import "sync"

// Event is the full wire payload of one sync beat.
type Event struct {
	UpdatedAt string `json:"updated_at"`
	Source    string `json:"source"`
}

// Broker is the fan-out contract. The in-process Hub covers a single node;
// the Redis broker extends the same signal across worker processes.
type Broker interface {
	// Subscribe returns a channel of future events and a cancel function
	// that must be called when the subscriber disconnects.
	Subscribe() (<-chan Event, func())

	// Publish delivers ev to every current subscriber. A slow subscriber's
	// beat is dropped rather than blocking the publisher.
	Publish(ev Event)

	Close() error
}

const subscriberBuffer = 8

// Hub is the in-memory Broker.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// subscriber is behind, it will re-fetch anyway
		}
	}
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	return nil
}
