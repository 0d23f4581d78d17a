package service

import (
	"sync"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan model.Event
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan model.Event)}
}

func (h *hub) subscribe(buffer int) (<-chan model.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// broadcast never blocks; a full subscriber misses the event.
func (h *hub) broadcast(ev model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
