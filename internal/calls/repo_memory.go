package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
// A single mutex stands in for the row-level atomicity a database gives.
type MemoryStore struct {
	mu         sync.Mutex
	byID       map[string]*Call
	byProvider map[string]string
	clock      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       map[string]*Call{},
		byProvider: map[string]string{},
		clock:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, c Call) error {
	if c.ID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; ok {
		return ErrConflict
	}
	if c.ProviderCallID != nil {
		if _, ok := s.byProvider[*c.ProviderCallID]; ok {
			return ErrConflict
		}
		s.byProvider[*c.ProviderCallID] = c.ID
	}
	cp := c
	s.byID[c.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byProvider[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *MemoryStore) Advance(ctx context.Context, t Transition) (Call, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[t.CallID]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	if !CanTransition(c.Status, t.To) {
		return clone(c), false, nil
	}
	if t.RequireUnconnected && c.ConnectedAt != nil {
		return clone(c), false, nil
	}

	c.Status = t.To
	if t.To == StatusConnected && c.ConnectedAt == nil {
		at := t.At
		c.ConnectedAt = &at
	}
	if t.Close && t.To.Terminal() && c.EndedAt == nil {
		at := t.At
		d := durationFor(*c, at, t.ProviderDuration)
		c.EndedAt = &at
		c.DurationSeconds = &d
	}
	if t.ProviderCallID != "" && c.ProviderCallID == nil {
		if _, taken := s.byProvider[t.ProviderCallID]; !taken {
			pid := t.ProviderCallID
			c.ProviderCallID = &pid
			s.byProvider[pid] = c.ID
		}
	}
	c.UpdatedAt = s.clock().UTC()
	return clone(c), true, nil
}

func (s *MemoryStore) Close(ctx context.Context, id string, at time.Time, providerDuration *int) (Call, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	if !c.Status.Terminal() || c.EndedAt != nil {
		return clone(c), false, nil
	}
	d := durationFor(*c, at, providerDuration)
	c.EndedAt = &at
	c.DurationSeconds = &d
	c.UpdatedAt = s.clock().UTC()
	return clone(c), true, nil
}

func (s *MemoryStore) RecordDetection(ctx context.Context, id, result string, overridden bool) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	r := result
	c.DetectionResult = &r
	c.AMDOverridden = c.AMDOverridden || overridden
	c.UpdatedAt = s.clock().UTC()
	return clone(c), nil
}

func (s *MemoryStore) SetDisposition(ctx context.Context, id string, expected *Disposition, next Disposition) (Call, bool, error) {
	return s.SetDispositionWith(ctx, id, expected, next, nil)
}

// SetDispositionWith runs fn under the store lock once the swap matches and writes the new
// disposition only if fn succeeds. An error from fn leaves the call untouched.
func (s *MemoryStore) SetDispositionWith(ctx context.Context, id string, expected *Disposition, next Disposition, fn func() error) (Call, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	if !sameDisposition(c.Disposition, expected) {
		return clone(c), false, nil
	}
	if fn != nil {
		if err := fn(); err != nil {
			return clone(c), false, err
		}
	}
	d := next
	c.Disposition = &d
	c.UpdatedAt = s.clock().UTC()
	return clone(c), true, nil
}

func (s *MemoryStore) SetEngagement(ctx context.Context, id string, kind EngagementKind) (Call, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	if c.Status != StatusConnected {
		return clone(c), false, nil
	}
	switch kind {
	case EngagementPreviewOpened:
		if c.PreviewOpenedDuringCall {
			return clone(c), false, nil
		}
		c.PreviewOpenedDuringCall = true
	case EngagementCTAClicked:
		if c.CTAClickedDuringCall {
			return clone(c), false, nil
		}
		c.CTAClickedDuringCall = true
	default:
		return Call{}, false, ErrInvalidArgument
	}
	c.UpdatedAt = s.clock().UTC()
	return clone(c), true, nil
}

func (s *MemoryStore) LatestForRep(ctx context.Context, repID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Call
	for _, c := range s.byID {
		if c.RepID != repID {
			continue
		}
		if best == nil || c.StartedAt.After(best.StartedAt) {
			best = c
		}
	}
	if best == nil {
		return Call{}, ErrNotFound
	}
	return clone(best), nil
}

func (s *MemoryStore) ListForRep(ctx context.Context, repID string, from, to time.Time) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range s.byID {
		if c.RepID != repID || c.StartedAt.Before(from) || !c.StartedAt.Before(to) {
			continue
		}
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) CountDispositioned(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.byID {
		if c.SessionID != nil && *c.SessionID == sessionID && c.Disposition != nil {
			n++
		}
	}
	return n, nil
}

func sameDisposition(a, b *Disposition) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func clone(c *Call) Call {
	out := *c
	if c.SessionID != nil {
		v := *c.SessionID
		out.SessionID = &v
	}
	if c.ProviderCallID != nil {
		v := *c.ProviderCallID
		out.ProviderCallID = &v
	}
	if c.ConnectedAt != nil {
		v := *c.ConnectedAt
		out.ConnectedAt = &v
	}
	if c.EndedAt != nil {
		v := *c.EndedAt
		out.EndedAt = &v
	}
	if c.DurationSeconds != nil {
		v := *c.DurationSeconds
		out.DurationSeconds = &v
	}
	if c.DetectionResult != nil {
		v := *c.DetectionResult
		out.DetectionResult = &v
	}
	if c.Disposition != nil {
		v := *c.Disposition
		out.Disposition = &v
	}
	return out
}
