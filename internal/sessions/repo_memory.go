package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence contract for sessions.
type Store interface {
	// Create closes any active session for the rep and inserts s, atomically.
	Create(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	ActiveForRep(ctx context.Context, repID string) (Session, error)
	ListActive(ctx context.Context) ([]Session, error)
	End(ctx context.Context, id string, at time.Time) (Session, error)

	// Apply adds every delta to its counter in one atomic update. If any counter would go negative
	// nothing is written and ErrCounterUnderflow is returned.
	Apply(ctx context.Context, id string, d Delta) (Session, error)
}

// MemoryStore is an in-memory Store useful for tests.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*Session{}}
}

func (m *MemoryStore) Create(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" || s.RepID == "" {
		return Session{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.byID {
		if cur.RepID == s.RepID && cur.Active {
			at := s.StartedAt
			cur.Active = false
			cur.EndedAt = &at
			cur.UpdatedAt = at
		}
	}
	cp := s
	cp.Active = true
	cp.Counters = Counters{}
	m.byID[s.ID] = &cp
	return copySession(&cp), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) ActiveForRep(ctx context.Context, repID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.RepID == repID && s.Active {
			return copySession(s), nil
		}
	}
	return Session{}, ErrNotFound
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.byID {
		if s.Active {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepID < out[j].RepID })
	return out, nil
}

func (m *MemoryStore) End(ctx context.Context, id string, at time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !s.Active {
		return copySession(s), ErrNotActive
	}
	s.Active = false
	s.EndedAt = &at
	s.UpdatedAt = at
	return copySession(s), nil
}

func (m *MemoryStore) Apply(ctx context.Context, id string, d Delta) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	for k, v := range d {
		if !k.Valid() {
			return Session{}, ErrInvalidArgument
		}
		if s.Counters[k]+v < 0 {
			return copySession(s), ErrCounterUnderflow
		}
	}
	for k, v := range d {
		s.Counters[k] += v
	}
	s.UpdatedAt = time.Now().UTC()
	return copySession(s), nil
}

func copySession(s *Session) Session {
	out := *s
	out.Counters = make(Counters, len(s.Counters))
	for k, v := range s.Counters {
		out.Counters[k] = v
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}
