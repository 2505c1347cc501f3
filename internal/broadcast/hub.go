package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"callcenter/internal/observability"
)

// Subscriber is one open live connection.
type Subscriber struct {
	Audience Audience
	RepID    string

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Events is never closed; select on Done to learn the subscription ended.
func (s *Subscriber) Events() <-chan Event { return s.events }

func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Hub delivers events to subscribers connected to this process.
// Sends never block: the lock is only held while copying the subscriber set.
type Hub struct {
	mu     sync.RWMutex
	reps   map[string]map[*Subscriber]struct{}
	admins map[*Subscriber]struct{}

	buffer  int
	metrics *observability.Metrics
	log     *slog.Logger
}

func NewHub(buffer int, metrics *observability.Metrics, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		reps:    map[string]map[*Subscriber]struct{}{},
		admins:  map[*Subscriber]struct{}{},
		buffer:  buffer,
		metrics: metrics,
		log:     log,
	}
}

func (h *Hub) Subscribe(audience Audience, repID string) *Subscriber {
	s := &Subscriber{
		Audience: audience,
		RepID:    repID,
		events:   make(chan Event, h.buffer),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	if audience == AudienceAdmin {
		h.admins[s] = struct{}{}
	} else {
		set, ok := h.reps[repID]
		if !ok {
			set = map[*Subscriber]struct{}{}
			h.reps[repID] = set
		}
		set[s] = struct{}{}
	}
	h.mu.Unlock()
	h.metrics.SubscriberDelta(string(audience), 1)
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	removed := false
	h.mu.Lock()
	if s.Audience == AudienceAdmin {
		if _, ok := h.admins[s]; ok {
			delete(h.admins, s)
			removed = true
		}
	} else if set, ok := h.reps[s.RepID]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			removed = true
		}
		if len(set) == 0 {
			delete(h.reps, s.RepID)
		}
	}
	h.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	if removed {
		h.metrics.SubscriberDelta(string(s.Audience), -1)
	}
}

func (h *Hub) PushToRep(ctx context.Context, repID string, ev Event) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.reps[repID]))
	for s := range h.reps[repID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	h.deliver(AudienceRep, targets, ev)
}

func (h *Hub) PushToAllAdmins(ctx context.Context, ev Event) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.admins))
	for s := range h.admins {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	h.deliver(AudienceAdmin, targets, ev)
}

func (h *Hub) deliver(audience Audience, targets []*Subscriber, ev Event) {
	for _, s := range targets {
		select {
		case <-s.done:
		case s.events <- ev:
		default:
			h.metrics.EventDropped(string(audience))
			h.log.Warn("live event dropped", "audience", audience, "rep_id", s.RepID, "type", ev.Type, "call_id", ev.CallID)
		}
	}
}

// Counts reports connected subscribers, mainly for tests and diagnostics.
func (h *Hub) Counts() (reps int, admins int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.reps {
		reps += len(set)
	}
	return reps, len(h.admins)
}
