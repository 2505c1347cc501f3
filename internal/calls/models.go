package calls

import (
	"errors"
	"time"
)

// Call is one outbound (or inbound) call attempt placed by a rep.
//
// Lifecycle invariants:
// - Status only moves forward (see CanTransition); terminal rows are permanent audit history.
// - ConnectedAt is set at most once.
// - EndedAt and DurationSeconds are only set once the call is terminal.
// - Disposition is set once by the rep and only replaced through a correction.
type Call struct {
	ID        string  `json:"id" db:"id"`
	RepID     string  `json:"rep_id" db:"rep_id"`
	LeadID    string  `json:"lead_id" db:"lead_id"`
	SessionID *string `json:"session_id,omitempty" db:"session_id"`

	Direction Direction `json:"direction" db:"direction"`
	ToNumber  string    `json:"to_number,omitempty" db:"to_number"`

	Status Status `json:"status" db:"status"`

	// ProviderCallID is the telephony provider's identifier (Twilio CallSid), unknown until assigned.
	ProviderCallID *string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`

	// DetectionResult is the raw answering-machine classification, kept for analytics
	// even when it was overridden.
	DetectionResult *string `json:"detection_result,omitempty" db:"detection_result"`
	AMDOverridden   bool    `json:"amd_overridden" db:"amd_overridden"`

	Disposition *Disposition `json:"disposition,omitempty" db:"disposition"`

	// Set by the engagement tracker while the call is live.
	PreviewOpenedDuringCall bool `json:"preview_opened_during_call" db:"preview_opened_during_call"`
	CTAClickedDuringCall    bool `json:"cta_clicked_during_call" db:"cta_clicked_during_call"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusRinging   Status = "RINGING"
	StatusConnected Status = "CONNECTED"
	StatusCompleted Status = "COMPLETED"
	StatusBusy      Status = "BUSY"
	StatusNoAnswer  Status = "NO_ANSWER"
	StatusFailed    Status = "FAILED"
	StatusVoicemail Status = "VOICEMAIL"
)

// Disposition is the rep's classification of a finished call.
type Disposition string

const (
	DispositionWantsToMoveForward Disposition = "WANTS_TO_MOVE_FORWARD"
	DispositionCallbackRequested  Disposition = "CALLBACK_REQUESTED"
	DispositionNotInterested      Disposition = "NOT_INTERESTED"
	DispositionDoNotCall          Disposition = "DO_NOT_CALL"
	DispositionWrongNumber        Disposition = "WRONG_NUMBER"
	DispositionLeftVoicemail      Disposition = "LEFT_VOICEMAIL"
	DispositionNoAnswer           Disposition = "NO_ANSWER"
)

// Dispositions lists every accepted disposition value.
var Dispositions = []Disposition{
	DispositionWantsToMoveForward,
	DispositionCallbackRequested,
	DispositionNotInterested,
	DispositionDoNotCall,
	DispositionWrongNumber,
	DispositionLeftVoicemail,
	DispositionNoAnswer,
}

func (d Disposition) Valid() bool {
	for _, v := range Dispositions {
		if v == d {
			return true
		}
	}
	return false
}

// EngagementKind identifies a signal from the engagement tracker.
type EngagementKind string

const (
	EngagementPreviewSent   EngagementKind = "preview_sent"
	EngagementPreviewOpened EngagementKind = "preview_opened"
	EngagementCTAClicked    EngagementKind = "cta_clicked"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	ErrConflict        = errors.New("calls: conflicting update")
)

// rank orders statuses for monotonic progression. All terminal statuses share the top rank.
func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusRinging:
		return 1
	case StatusConnected:
		return 2
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusVoicemail:
		return 3
	default:
		return -1
	}
}

func (s Status) Valid() bool { return s.rank() >= 0 }

func (s Status) Terminal() bool { return s.rank() == 3 }

// Live reports whether the call is dialing or on the line.
func (s Status) Live() bool {
	return s == StatusInitiated || s == StatusRinging || s == StatusConnected
}

// CanTransition reports whether moving from -> to is a forward step.
// Re-applying the current status is not a transition.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// SourcesFor returns every status from which to is reachable.
// Stores use it as the guard of their conditional update.
func SourcesFor(to Status) []Status {
	var out []Status
	for _, s := range []Status{StatusInitiated, StatusRinging, StatusConnected} {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}
