// Package disposition logs and corrects the rep's classification of a call while keeping the
// session's disposition counters equal to the number of dispositioned calls.
package disposition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callcenter/internal/audit"
	"callcenter/internal/broadcast"
	"callcenter/internal/calls"
	"callcenter/internal/leads"
	"callcenter/internal/notify"
	"callcenter/internal/observability"
	"callcenter/internal/sessions"
)

// Counters is the part of the session aggregator MemoryCommitter writes through.
type Counters interface {
	ApplyDelta(ctx context.Context, sessionID string, d sessions.Delta) (sessions.Session, error)
}

type Deps struct {
	Calls   calls.Store
	Commit  Committer
	Leads   leads.Syncer
	Audit   *audit.Service
	Outbox  notify.Outbox
	Events  broadcast.Publisher
	Metrics *observability.Metrics
	Log     *slog.Logger
}

type Request struct {
	CallID      string
	Disposition calls.Disposition
	Actor       audit.Actor

	// RestrictToRep limits the action to calls owned by this rep; empty means any call.
	RestrictToRep string
}

type Result struct {
	Changed        bool               `json:"changed"`
	Call           calls.Call         `json:"call"`
	Previous       *calls.Disposition `json:"previous,omitempty"`
	Delta          sessions.Delta     `json:"delta,omitempty"`
	LeadSyncFailed bool               `json:"lead_sync_failed,omitempty"`
}

var (
	ErrInvalidDisposition = errors.New("disposition: invalid value")
	ErrForbidden          = errors.New("disposition: call belongs to another rep")
	ErrAlreadyLogged      = errors.New("disposition: already logged; use a correction")
)

type Service struct {
	deps  Deps
	log   *slog.Logger
	clock func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.Events == nil {
		deps.Events = broadcast.Nop{}
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{deps: deps, log: log, clock: time.Now}
}

func (s *Service) load(ctx context.Context, req Request) (calls.Call, error) {
	if !req.Disposition.Valid() {
		return calls.Call{}, ErrInvalidDisposition
	}
	c, err := s.deps.Calls.Get(ctx, req.CallID)
	if err != nil {
		return calls.Call{}, err
	}
	if req.RestrictToRep != "" && c.RepID != req.RestrictToRep {
		return calls.Call{}, ErrForbidden
	}
	return c, nil
}

// Log records the first disposition for a call. Re-submitting the same value reports
// Changed=false; a different value must go through Correct.
func (s *Service) Log(ctx context.Context, req Request) (Result, error) {
	c, err := s.load(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if c.Disposition != nil {
		if *c.Disposition == req.Disposition {
			return Result{Changed: false, Call: c}, nil
		}
		return Result{}, ErrAlreadyLogged
	}
	return s.apply(ctx, c, req, nil)
}

// Correct replaces a call's disposition. The session receives one signed delta that removes
// the old value's counters and adds the new ones.
func (s *Service) Correct(ctx context.Context, req Request) (Result, error) {
	c, err := s.load(ctx, req)
	if err != nil {
		s.deps.Metrics.Correction("rejected")
		return Result{}, err
	}
	if c.Disposition == nil {
		return s.apply(ctx, c, req, nil)
	}
	if *c.Disposition == req.Disposition {
		s.deps.Metrics.Correction("unchanged")
		return Result{Changed: false, Call: c, Previous: c.Disposition}, nil
	}
	old := *c.Disposition
	res, err := s.apply(ctx, c, req, &old)
	switch {
	case err != nil:
		s.deps.Metrics.Correction("failed")
	case res.Changed:
		s.deps.Metrics.Correction("applied")
	default:
		s.deps.Metrics.Correction("unchanged")
	}
	return res, err
}

// apply swaps the call's disposition from old to next and applies the session delta in the
// same commit.
func (s *Service) apply(ctx context.Context, c calls.Call, req Request, old *calls.Disposition) (Result, error) {
	log := s.log.With("call_id", c.ID, "rep_id", c.RepID, "disposition", req.Disposition)
	ch := Change{CallID: c.ID, Old: old, Next: req.Disposition, Delta: ComputeDelta(old, req.Disposition)}
	if c.SessionID != nil {
		ch.SessionID = *c.SessionID
	}

	updated, changed, err := s.deps.Commit.Commit(ctx, ch)
	if err != nil {
		if errors.Is(err, sessions.ErrCounterUnderflow) {
			log.Error("session counters disagree with call rows", "session_id", ch.SessionID)
		}
		return Result{}, err
	}
	if !changed {
		return s.settle(ctx, c.ID, req.Disposition)
	}

	res := Result{Changed: true, Call: updated, Previous: old, Delta: ch.Delta}
	s.afterChange(ctx, log, &res, req)
	return res, nil
}

// settle decides between "unchanged" and "conflict" after a lost race.
func (s *Service) settle(ctx context.Context, callID string, next calls.Disposition) (Result, error) {
	cur, err := s.deps.Calls.Get(ctx, callID)
	if err != nil {
		return Result{}, err
	}
	if cur.Disposition != nil && *cur.Disposition == next {
		return Result{Changed: false, Call: cur}, nil
	}
	return Result{}, calls.ErrConflict
}

// afterChange runs the non-fatal side effects. None of them can undo the committed change.
func (s *Service) afterChange(ctx context.Context, log *slog.Logger, res *Result, req Request) {
	c := res.Call
	prev := ""
	if res.Previous != nil {
		prev = string(*res.Previous)
	}

	if s.deps.Leads != nil {
		u := leads.UpdateFor(c.LeadID, res.Previous, req.Disposition)
		if !u.Empty() {
			if err := s.deps.Leads.Apply(ctx, u); err != nil {
				res.LeadSyncFailed = true
				s.deps.Metrics.SideEffectFailed("lead_sync")
				log.Error("lead sync failed", "lead_id", c.LeadID, "err", err)
			}
		}
	}

	sessionID := ""
	if c.SessionID != nil {
		sessionID = *c.SessionID
	}
	if s.deps.Audit != nil {
		if err := s.deps.Audit.LogDisposition(ctx, req.Actor, c.ID, c.RepID, sessionID, prev, string(req.Disposition)); err != nil {
			s.deps.Metrics.SideEffectFailed("audit")
			log.Error("audit append failed", "err", err)
		}
	}

	if res.Previous != nil && s.deps.Outbox != nil {
		err := s.deps.Outbox.Enqueue(ctx, notify.Notification{
			Kind:    notify.KindDispositionCorrected,
			RepID:   c.RepID,
			CallID:  c.ID,
			Message: fmt.Sprintf("Disposition changed from %s to %s", prev, req.Disposition),
			Data: map[string]any{
				"previous": prev,
				"next":     string(req.Disposition),
				"actor":    req.Actor.UserID,
			},
		})
		if err != nil {
			s.deps.Metrics.SideEffectFailed("notification")
			log.Error("notification enqueue failed", "err", err)
		}
	}

	broadcast.Publish(ctx, s.deps.Events, broadcast.Event{
		Type:        broadcast.EventDispositionLogged,
		RepID:       c.RepID,
		CallID:      c.ID,
		Timestamp:   s.clock().UTC(),
		Status:      string(c.Status),
		Disposition: string(req.Disposition),
		Previous:    prev,
		Corrected:   res.Previous != nil,
	})
}
