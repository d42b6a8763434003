package events

import (
	"context"
	"sync"
)

const defaultSubscriberBuffer = 16

// Hub broadcasts accepted events to live subscribers. A subscriber that
// falls behind loses events rather than slowing the webhook path.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// Subscription receives events for one session, or for all sessions when
// its filter is empty.
type Subscription struct {
	C         <-chan Event
	ch        chan Event
	sessionID string
	hub       *Hub
	once      sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. Callers must Close it.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, sessionID: sessionID, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	subscribers.Inc()
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
		subscribers.Dec()
	})
}

// Deliver implements Sink.
func (h *Hub) Deliver(_ context.Context, evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.sessionID != "" && sub.sessionID != evt.SessionID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			dropped.WithLabelValues("hub").Inc()
		}
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
