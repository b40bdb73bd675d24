package api

import "sync"

// Event is one push notification for the UI stream.
type Event struct {
	Name string
	Data any
}

// Hub fans launch events out to every connected event-stream client.
// Publishing never blocks: a subscriber that cannot keep up loses events
// rather than stalling the launch pipeline.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new client. The returned cancel func must be
// called when the client disconnects.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers, dropping it for any
// subscriber whose buffer is full.
func (h *Hub) Publish(name string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- Event{Name: name, Data: data}:
		default:
		}
	}
}
