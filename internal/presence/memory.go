package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one rep's presence: the last heartbeat of each open connection.
type Entry struct {
	RepID string
	Conns map[string]time.Time
}

// MemoryRegistry keeps presence in process memory. Connections not touched within ttl are
// treated as gone and removed by the janitor.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	clock   func() time.Time
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &MemoryRegistry{
		entries: map[string]*Entry{},
		ttl:     ttl,
		clock:   time.Now,
	}
}

func (r *MemoryRegistry) Connect(ctx context.Context, repID, connID string) error {
	return r.hold(repID, connID)
}

// Touch refreshes connID, restoring it if it had lapsed while the connection stayed open.
func (r *MemoryRegistry) Touch(ctx context.Context, repID, connID string) error {
	return r.hold(repID, connID)
}

func (r *MemoryRegistry) hold(repID, connID string) error {
	if err := validate(repID, connID); err != nil {
		return err
	}
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[repID]
	if !ok {
		e = &Entry{RepID: repID, Conns: map[string]time.Time{}}
		r.entries[repID] = e
	}
	e.Conns[connID] = now
	return nil
}

func (r *MemoryRegistry) Disconnect(ctx context.Context, repID, connID string) error {
	if err := validate(repID, connID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[repID]
	if !ok {
		return nil
	}
	delete(e.Conns, connID)
	if len(e.Conns) == 0 {
		delete(r.entries, repID)
	}
	return nil
}

func (r *MemoryRegistry) IsOnline(ctx context.Context, repID string) (bool, error) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[repID]
	return ok && r.live(e, now), nil
}

func (r *MemoryRegistry) Online(ctx context.Context) ([]string, error) {
	now := r.clock()
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if r.live(e, now) {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRegistry) live(e *Entry, now time.Time) bool {
	for _, seen := range e.Conns {
		if now.Sub(seen) < r.ttl {
			return true
		}
	}
	return false
}

// StartJanitor evicts expired connections every interval until ctx is done.
func (r *MemoryRegistry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl / 3
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictExpired()
			}
		}
	}()
}

// evictExpired drops lapsed connections and returns how many reps went offline.
func (r *MemoryRegistry) evictExpired() int {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		for conn, seen := range e.Conns {
			if now.Sub(seen) >= r.ttl {
				delete(e.Conns, conn)
			}
		}
		if len(e.Conns) == 0 {
			delete(r.entries, id)
			n++
		}
	}
	return n
}
