package services

import (
	"encoding/json"
	"log/slog"
	"sync"

	"transtrack-api/metrics"
)

const (
	EventBusesUpdate = "buses_update"
	EventIncident    = "incident"
)

type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Subscriber receives encoded events until Done is closed.
type Subscriber struct {
	messages chan []byte
	done     chan struct{}
	once     sync.Once
}

func (s *Subscriber) Messages() <-chan []byte { return s.messages }

// Done is closed when the hub drops the subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans events out to live subscribers. Sends never block: a subscriber
// whose buffer is full loses the message and is disconnected.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[*Subscriber]struct{}), buffer: buffer}
}

func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		messages: make(chan []byte, h.buffer),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.Subscribers.Set(float64(n))
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	s.close()
	metrics.Subscribers.Set(float64(n))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Send delivers an event to one subscriber and reports whether it was queued.
func (h *Hub) Send(s *Subscriber, ev Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode event", "type", ev.Type, "error", err)
		return false
	}
	return h.deliver(s, data)
}

func (h *Hub) deliver(s *Subscriber, data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.messages <- data:
		return true
	default:
		metrics.BroadcastDropped.Inc()
		h.Unsubscribe(s)
		return false
	}
}

// Broadcast encodes the event once and offers it to every subscriber.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, s := range subs {
		if !h.deliver(s, data) {
			dropped++
		}
	}
	metrics.Broadcasts.WithLabelValues(ev.Type).Inc()
	if dropped > 0 {
		slog.Warn("dropped slow subscribers", "type", ev.Type, "count", dropped)
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscriber]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.close()
	}
	metrics.Subscribers.Set(0)
}
