// Package leads holds the contract with the external lead system.
// The lead schema lives elsewhere; this package only derives and forwards status/DNC changes.
package leads

import (
	"context"
	"errors"
	"sync"
	"time"

	"callcenter/internal/calls"
)

type Status string

const (
	StatusQualified     Status = "qualified"
	StatusCallback      Status = "callback"
	StatusNotInterested Status = "not_interested"
	StatusDNC           Status = "dnc"
	StatusBadNumber     Status = "bad_number"
)

// Update is a partial change to a lead. Nil fields are left alone.
type Update struct {
	LeadID    string  `json:"lead_id"`
	Status    *Status `json:"status,omitempty"`
	DoNotCall *bool   `json:"do_not_call,omitempty"`
}

func (u Update) Empty() bool { return u.Status == nil && u.DoNotCall == nil }

// Syncer pushes lead updates to the lead system. Implementations must be idempotent.
// Production writes them to the lead_updates outbox (PostgresOutbox).
type Syncer interface {
	Apply(ctx context.Context, u Update) error
}

var ErrInvalidArgument = errors.New("leads: invalid argument")

func statusFor(d calls.Disposition) (Status, bool) {
	switch d {
	case calls.DispositionWantsToMoveForward:
		return StatusQualified, true
	case calls.DispositionCallbackRequested:
		return StatusCallback, true
	case calls.DispositionNotInterested:
		return StatusNotInterested, true
	case calls.DispositionDoNotCall:
		return StatusDNC, true
	case calls.DispositionWrongNumber:
		return StatusBadNumber, true
	default:
		return "", false
	}
}

// UpdateFor derives the lead change when a call's disposition moves from old (nil when first
// logged) to next. Leaving DO_NOT_CALL clears the flag that entering it set.
func UpdateFor(leadID string, old *calls.Disposition, next calls.Disposition) Update {
	u := Update{LeadID: leadID}
	if st, ok := statusFor(next); ok {
		u.Status = &st
	}
	switch {
	case next == calls.DispositionDoNotCall:
		v := true
		u.DoNotCall = &v
	case old != nil && *old == calls.DispositionDoNotCall:
		v := false
		u.DoNotCall = &v
	}
	return u
}

// MemorySyncer keeps the last known state per lead plus the same pending feed PostgresOutbox
// serves; useful for tests.
type MemorySyncer struct {
	mu      sync.Mutex
	Fail    error
	status  map[string]Status
	dnc     map[string]bool
	applied int
	feed    []Pending
}

func NewMemorySyncer() *MemorySyncer {
	return &MemorySyncer{status: map[string]Status{}, dnc: map[string]bool{}}
}

func (m *MemorySyncer) Apply(ctx context.Context, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	if u.LeadID == "" {
		return ErrInvalidArgument
	}
	if u.Status != nil {
		m.status[u.LeadID] = *u.Status
	}
	if u.DoNotCall != nil {
		m.dnc[u.LeadID] = *u.DoNotCall
	}
	m.applied++
	if !u.Empty() {
		m.feed = append(m.feed, Pending{Seq: int64(m.applied), Update: u, CreatedAt: time.Now().UTC()})
	}
	return nil
}

func (m *MemorySyncer) Pending(ctx context.Context, limit int) ([]Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	n := min(limit, len(m.feed))
	return append([]Pending(nil), m.feed[:n]...), nil
}

func (m *MemorySyncer) MarkDelivered(ctx context.Context, seq int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := 0
	for i < len(m.feed) && m.feed[i].Seq <= seq {
		i++
	}
	m.feed = m.feed[i:]
	return int64(i), nil
}

func (m *MemorySyncer) State(leadID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[leadID], m.dnc[leadID]
}

func (m *MemorySyncer) Applied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}
