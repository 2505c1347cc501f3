// Package notify writes supervisor notifications to an outbox table. Delivery (in-app, email)
// is owned by the notification service that reads it.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDispositionCorrected Kind = "disposition_corrected"
	KindManualDropRequired   Kind = "manual_drop_required"
)

type Notification struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	RepID     string         `json:"rep_id"`
	CallID    string         `json:"call_id"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Outbox interface {
	Enqueue(ctx context.Context, n Notification) error
}

var ErrInvalidNotification = errors.New("notify: invalid notification")

func prepare(n Notification, now time.Time) (Notification, error) {
	if n.Kind == "" || n.CallID == "" {
		return Notification{}, ErrInvalidNotification
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now.UTC()
	}
	return n, nil
}

// PostgresOutbox inserts into notifications; rows stay undelivered until the reader marks them.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox { return &PostgresOutbox{db: db} }

func (o *PostgresOutbox) Enqueue(ctx context.Context, n Notification) error {
	n, err := prepare(n, time.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO notifications (id, kind, rep_id, call_id, message, data, created_at)
VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)
`
	_, err = o.db.ExecContext(ctx, q, n.ID, string(n.Kind), n.RepID, n.CallID, n.Message, string(data), n.CreatedAt)
	return err
}

// MemoryOutbox collects notifications for tests.
type MemoryOutbox struct {
	mu    sync.Mutex
	Fail  error
	items []Notification
}

func NewMemoryOutbox() *MemoryOutbox { return &MemoryOutbox{} }

func (o *MemoryOutbox) Enqueue(ctx context.Context, n Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Fail != nil {
		return o.Fail
	}
	n, err := prepare(n, time.Now())
	if err != nil {
		return err
	}
	o.items = append(o.items, n)
	return nil
}

func (o *MemoryOutbox) Items() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Notification(nil), o.items...)
}
