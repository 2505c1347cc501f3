package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
//
// Storage: table audit_events with an INSERT-only trigger (see internal/migrations).

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event, or empty for provider-driven events.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when the event came from an HTTP request.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID    string `json:"call_id,omitempty" db:"call_id"`
	RepID     string `json:"rep_id,omitempty" db:"rep_id"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details (old/new values, drop error).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeDispositionLogged    EventType = "disposition_logged"
	EventTypeDispositionCorrected EventType = "disposition_corrected"
	EventTypeVoicemailDropFailed  EventType = "voicemail_drop_failed"
)

// Actor identifies who triggered an audited action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
