package sessions

import (
	"errors"
	"time"
)

// Session is one bounded block of calling activity owned by a rep.
//
// Invariants:
// - At most one active session per rep (enforced by a partial unique index in Postgres).
// - Every counter is non-negative; updates that would go below zero fail with ErrCounterUnderflow.
// - Counters are only changed through Delta applications, never by read-modify-write.
type Session struct {
	ID        string     `json:"id" db:"id"`
	RepID     string     `json:"rep_id" db:"rep_id"`
	Active    bool       `json:"active" db:"active"`
	AutoDial  bool       `json:"auto_dial" db:"auto_dial"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Counters  Counters   `json:"counters"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Counter names double as Postgres column names.
type Counter string

const (
	CounterTotalCalls     Counter = "total_calls"
	CounterConnectedCalls Counter = "connected_calls"
	CounterCompletedCalls Counter = "completed_calls"
	CounterVoicemails     Counter = "voicemails"
	CounterNoAnswers      Counter = "no_answers"
	CounterBusyCalls      Counter = "busy_calls"
	CounterFailedCalls    Counter = "failed_calls"
	CounterPreviewsSent   Counter = "previews_sent"

	CounterWantsToMoveForward  Counter = "wants_to_move_forward_count"
	CounterCallbackRequested   Counter = "callback_requested_count"
	CounterNotInterested       Counter = "not_interested_count"
	CounterDoNotCall           Counter = "do_not_call_count"
	CounterWrongNumber         Counter = "wrong_number_count"
	CounterLeftVoicemail       Counter = "left_voicemail_count"
	CounterNoAnswerDisposition Counter = "no_answer_disposition_count"

	// Roll-ups.
	CounterInterested Counter = "interested_count"
	CounterDeclined   Counter = "declined_count"
	CounterUnreached  Counter = "unreached_count"
)

// AllCounters is the fixed column set, in storage order.
var AllCounters = []Counter{
	CounterTotalCalls,
	CounterConnectedCalls,
	CounterCompletedCalls,
	CounterVoicemails,
	CounterNoAnswers,
	CounterBusyCalls,
	CounterFailedCalls,
	CounterPreviewsSent,
	CounterWantsToMoveForward,
	CounterCallbackRequested,
	CounterNotInterested,
	CounterDoNotCall,
	CounterWrongNumber,
	CounterLeftVoicemail,
	CounterNoAnswerDisposition,
	CounterInterested,
	CounterDeclined,
	CounterUnreached,
}

func (c Counter) Valid() bool {
	for _, v := range AllCounters {
		if v == c {
			return true
		}
	}
	return false
}

type Counters map[Counter]int64

// Conversations counts calls that reached a decision maker.
func (c Counters) Conversations() int64 {
	return c[CounterInterested] + c[CounterDeclined]
}

// DispositionTotal sums the per-disposition counters (roll-ups excluded). It must always equal the
// number of dispositioned calls in the session.
func (c Counters) DispositionTotal() int64 {
	var n int64
	for _, k := range dispositionCounters {
		n += c[k]
	}
	return n
}

// Delta is a signed change per counter, applied as one atomic update.
type Delta map[Counter]int64

// Add merges other into d and drops counters that net to zero.
func (d Delta) Add(other Delta) Delta {
	for k, v := range other {
		d[k] += v
		if d[k] == 0 {
			delete(d, k)
		}
	}
	return d
}

var (
	ErrNotFound         = errors.New("sessions: not found")
	ErrInvalidArgument  = errors.New("sessions: invalid argument")
	ErrCounterUnderflow = errors.New("sessions: counter would go negative")
	ErrNotActive        = errors.New("sessions: session is not active")
)
