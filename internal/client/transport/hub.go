package transport

import (
	"sync"

	"github.com/dkeye/StudyRoom/internal/protocol"
)

type subscription[T any] struct {
	id int
	fn T
}

// Hub keeps handlers by kind. Dispatch and Notify are meant to run on the
// event loop; Subscribe may be called from anywhere.
type Hub struct {
	mu     sync.Mutex
	nextID int
	byKind map[protocol.Kind][]subscription[Handler]
	states []subscription[func(State)]
}

func NewHub() *Hub {
	return &Hub{byKind: make(map[protocol.Kind][]subscription[Handler])}
}

func (h *Hub) Subscribe(kind protocol.Kind, fn Handler) (cancel func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.byKind[kind] = append(h.byKind[kind], subscription[Handler]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.byKind[kind] = without(h.byKind[kind], id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) OnStateChange(fn func(State)) (cancel func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.states = append(h.states, subscription[func(State)]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.states = without(h.states, id)
			h.mu.Unlock()
		})
	}
}

// Dispatch calls every handler of env.Type in subscription order and
// reports how many there were.
func (h *Hub) Dispatch(env protocol.Envelope) int {
	h.mu.Lock()
	subs := append([]subscription[Handler](nil), h.byKind[env.Type]...)
	h.mu.Unlock()
	for _, s := range subs {
		s.fn(env)
	}
	return len(subs)
}

func (h *Hub) Notify(s State) {
	h.mu.Lock()
	subs := append([]subscription[func(State)](nil), h.states...)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.fn(s)
	}
}

func without[T any](subs []subscription[T], id int) []subscription[T] {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
