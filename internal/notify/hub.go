package notify

import (
	"sync"

	"github.com/tunnelx/tunnelx/internal/obs"
)

// subscriberBuffer is the per-subscriber event queue depth. Events beyond it
// are dropped for that subscriber rather than blocking the emitter.
const subscriberBuffer = 64

// Hub is the broadcast channel: every subscriber sees every event.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// Subscriber receives broadcast events until Close is called.
type Subscriber struct {
	hub    *Hub
	events chan interface{}
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{hub: h, events: make(chan interface{}, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Broadcast fans the event out to all subscribers. Slow subscribers with a
// full buffer miss the event; delivery is best effort.
func (h *Hub) Broadcast(event interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	obs.EventsBroadcastTotal.Inc()
	for s := range h.subs {
		select {
		case s.events <- event:
		default:
			obs.EventsDroppedTotal.Inc()
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Events returns the subscriber's receive channel. It is closed by Close.
func (s *Subscriber) Events() <-chan interface{} {
	return s.events
}

// Close unsubscribes and closes the event channel. Safe to call twice.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.events)
	})
}
