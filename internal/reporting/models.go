package reporting

import (
	"time"

	"callcenter/internal/calls"
	"callcenter/internal/presence"
	"callcenter/internal/sessions"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RepStatus is the supervisor dashboard row for one rep.
type RepStatus struct {
	RepID      string          `json:"rep_id"`
	Status     presence.Status `json:"status"`
	Online     bool            `json:"online"`
	LatestCall *calls.Call     `json:"latest_call,omitempty"`
	Session    *SessionSummary `json:"session,omitempty"`
}

// SessionSummary carries the live counters of the rep's active session.
type SessionSummary struct {
	ID            string            `json:"id"`
	AutoDial      bool              `json:"auto_dial"`
	StartedAt     time.Time         `json:"started_at"`
	Counters      sessions.Counters `json:"counters"`
	Conversations int64             `json:"conversations"`
}

type CallsSummaryRequest struct {
	RepID string    `json:"rep_id"`
	Range TimeRange `json:"range"`
}

// CallsSummary aggregates a rep's call records over a time range.
type CallsSummary struct {
	RepID string    `json:"rep_id"`
	Range TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	ConnectedCalls  int `json:"connected_calls"`
	CompletedCalls  int `json:"completed_calls"`
	VoicemailCalls  int `json:"voicemail_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	FailedCalls     int `json:"failed_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	AMDOverrides  int `json:"amd_overrides"`
	Dispositioned int `json:"dispositioned"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	ConnectionRate float64 `json:"connection_rate"`
}
