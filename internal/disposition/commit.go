package disposition

import (
	"context"
	"database/sql"
	"fmt"

	"callcenter/internal/calls"
	"callcenter/internal/sessions"
	"callcenter/pkg/utils"
)

// Change is one disposition swap plus the session delta it implies.
type Change struct {
	CallID    string
	SessionID string
	Old       *calls.Disposition
	Next      calls.Disposition
	Delta     sessions.Delta
}

func (c Change) touchesSession() bool { return c.SessionID != "" && len(c.Delta) > 0 }

// Committer writes the call's new disposition and the session delta together: both land or
// neither does. changed=false with a nil error means the call no longer holds Old.
type Committer interface {
	Commit(ctx context.Context, ch Change) (calls.Call, bool, error)
}

// PostgresCommitter runs the call CAS and the counter UPDATE in one transaction. The calls row
// is locked first, then the sessions row.
type PostgresCommitter struct {
	db       *sql.DB
	calls    *calls.PostgresStore
	sessions *sessions.PostgresStore
}

func NewPostgresCommitter(db *sql.DB, c *calls.PostgresStore, s *sessions.PostgresStore) *PostgresCommitter {
	return &PostgresCommitter{db: db, calls: c, sessions: s}
}

func (p *PostgresCommitter) Commit(ctx context.Context, ch Change) (calls.Call, bool, error) {
	var (
		out     calls.Call
		changed bool
	)
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, ok, err := p.calls.SetDispositionTx(ctx, tx, ch.CallID, ch.Old, ch.Next)
		if err != nil {
			return err
		}
		out, changed = c, ok
		if !ok || !ch.touchesSession() {
			return nil
		}
		if _, err := p.sessions.ApplyTx(ctx, tx, ch.SessionID, ch.Delta); err != nil {
			return fmt.Errorf("apply session delta: %w", err)
		}
		return nil
	})
	if err != nil {
		return calls.Call{}, false, err
	}
	return out, changed, nil
}

// MemoryCommitter is the in-process equivalent: the delta is applied while the call store
// holds its lock, and the call keeps its old value if the delta fails.
type MemoryCommitter struct {
	Calls    *calls.MemoryStore
	Counters Counters
}

func (m MemoryCommitter) Commit(ctx context.Context, ch Change) (calls.Call, bool, error) {
	return m.Calls.SetDispositionWith(ctx, ch.CallID, ch.Old, ch.Next, func() error {
		if !ch.touchesSession() || m.Counters == nil {
			return nil
		}
		if _, err := m.Counters.ApplyDelta(ctx, ch.SessionID, ch.Delta); err != nil {
			return fmt.Errorf("apply session delta: %w", err)
		}
		return nil
	})
}
