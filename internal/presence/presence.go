// Package presence tracks which reps have an open live connection and derives their display
// status. Presence is volatile: it is rebuilt from reconnects and never feeds business counts.
package presence

import (
	"context"
	"errors"

	"callcenter/internal/calls"
)

// Registry tracks each open live connection of a rep with a TTL refreshed by heartbeats.
// A rep is online while any of its connections is live. Touch upserts, so a heartbeat from
// an open connection restores presence that lapsed.
type Registry interface {
	Connect(ctx context.Context, repID, connID string) error
	Disconnect(ctx context.Context, repID, connID string) error
	Touch(ctx context.Context, repID, connID string) error
	IsOnline(ctx context.Context, repID string) (bool, error)
	Online(ctx context.Context) ([]string, error)
}

var (
	ErrInvalidRep        = errors.New("presence: rep id is required")
	ErrInvalidConnection = errors.New("presence: connection id is required")
)

func validate(repID, connID string) error {
	if repID == "" {
		return ErrInvalidRep
	}
	if connID == "" {
		return ErrInvalidConnection
	}
	return nil
}

type Status string

const (
	StatusOffline Status = "offline"
	StatusIdle    Status = "idle"
	StatusDialing Status = "dialing"
	StatusOnCall  Status = "on_call"
)

// Derive combines session, latest call and connection state.
// Without an active session a rep is offline, or idle if a live connection is open. With one,
// the most recent call decides between on_call, dialing and idle.
func Derive(hasActiveSession bool, latest *calls.Call, online bool) Status {
	if !hasActiveSession {
		if online {
			return StatusIdle
		}
		return StatusOffline
	}
	if latest == nil {
		return StatusIdle
	}
	switch latest.Status {
	case calls.StatusConnected:
		return StatusOnCall
	case calls.StatusInitiated, calls.StatusRinging:
		return StatusDialing
	default:
		return StatusIdle
	}
}
