package server

import "sync"

// Hub fans engine event lines out to SSE subscribers. It implements
// engine.Sink; slow subscribers are dropped rather than allowed to stall the
// coordinator.
type Hub struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan string]struct{})}
}

// Subscribe registers a new listener. The returned channel is buffered; call
// the unsubscribe func when done.
func (h *Hub) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 256)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

// EmitLine delivers one event line to every subscriber. A subscriber whose
// buffer is full misses the line; the next one carries fresher state anyway.
func (h *Hub) EmitLine(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
}
