package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records audit events.
//
// Callers treat audit logging as best-effort: a failed append is logged by the caller and
// never undoes the mutation being audited.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CallID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

type dispositionChange struct {
	Previous string `json:"previous,omitempty"`
	Next     string `json:"next"`
}

// LogDisposition records a first-time disposition or a correction (previous non-empty).
func (s *Service) LogDisposition(ctx context.Context, actor Actor, callID, repID, sessionID, previous, next string) error {
	typ := EventTypeDispositionLogged
	msg := "disposition logged"
	if previous != "" {
		typ = EventTypeDispositionCorrected
		msg = "disposition corrected"
	}
	meta, _ := json.Marshal(dispositionChange{Previous: previous, Next: next})
	return s.Append(ctx, Event{
		Type:        typ,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		RepID:       repID,
		SessionID:   sessionID,
		Message:     msg,
		Metadata:    string(meta),
	})
}

// LogVoicemailDropFailed records a drop that needs a manual follow-up.
func (s *Service) LogVoicemailDropFailed(ctx context.Context, callID, repID, reason string) error {
	meta, _ := json.Marshal(map[string]string{"reason": reason})
	return s.Append(ctx, Event{
		Type:     EventTypeVoicemailDropFailed,
		CallID:   callID,
		RepID:    repID,
		Message:  "voicemail drop failed; manual drop required",
		Metadata: string(meta),
	})
}
