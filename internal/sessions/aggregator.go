package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"callcenter/internal/calls"
)

// Aggregator owns session lifecycle and turns call transitions into counter deltas.
//
// Every Record* method is one Store.Apply call, so concurrent calls in the same session never
// lose increments.
type Aggregator struct {
	store Store
	clock func() time.Time
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, clock: time.Now}
}

var _ calls.CounterRecorder = (*Aggregator)(nil)

// StartSession opens a new session for repID and closes any session the rep left active.
func (a *Aggregator) StartSession(ctx context.Context, repID string, autoDial bool) (Session, error) {
	if strings.TrimSpace(repID) == "" {
		return Session{}, ErrInvalidArgument
	}
	now := a.clock().UTC()
	return a.store.Create(ctx, Session{
		ID:        uuid.NewString(),
		RepID:     repID,
		AutoDial:  autoDial,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (a *Aggregator) EndSession(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrInvalidArgument
	}
	return a.store.End(ctx, sessionID, a.clock().UTC())
}

func (a *Aggregator) Get(ctx context.Context, sessionID string) (Session, error) {
	return a.store.Get(ctx, sessionID)
}

func (a *Aggregator) ActiveForRep(ctx context.Context, repID string) (Session, error) {
	return a.store.ActiveForRep(ctx, repID)
}

func (a *Aggregator) ListActive(ctx context.Context) ([]Session, error) {
	return a.store.ListActive(ctx)
}

func (a *Aggregator) RecordDial(ctx context.Context, sessionID string) error {
	return a.apply(ctx, sessionID, Delta{CounterTotalCalls: 1})
}

func (a *Aggregator) RecordConnect(ctx context.Context, sessionID string) error {
	return a.apply(ctx, sessionID, Delta{CounterConnectedCalls: 1})
}

func (a *Aggregator) RecordTerminal(ctx context.Context, sessionID string, status calls.Status) error {
	c, ok := StatusCounter(status)
	if !ok {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidArgument, status)
	}
	return a.apply(ctx, sessionID, Delta{c: 1})
}

func (a *Aggregator) RecordPreviewSent(ctx context.Context, sessionID string) error {
	return a.apply(ctx, sessionID, Delta{CounterPreviewsSent: 1})
}

// RecordDisposition increments the disposition's counter and its roll-up.
func (a *Aggregator) RecordDisposition(ctx context.Context, sessionID string, d calls.Disposition) error {
	if !d.Valid() {
		return ErrInvalidArgument
	}
	return a.apply(ctx, sessionID, DeltaFor(d))
}

// ApplyDelta writes a precomputed signed delta, typically from a correction.
func (a *Aggregator) ApplyDelta(ctx context.Context, sessionID string, d Delta) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrInvalidArgument
	}
	return a.store.Apply(ctx, sessionID, d)
}

func (a *Aggregator) apply(ctx context.Context, sessionID string, d Delta) error {
	if sessionID == "" {
		return ErrInvalidArgument
	}
	if _, err := a.store.Apply(ctx, sessionID, d); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	return nil
}
