package sessions

import "callcenter/internal/calls"

// dispositionCatalog lists every counter a disposition contributes to: its own counter first,
// then the roll-up bucket it belongs to.
var dispositionCatalog = map[calls.Disposition][]Counter{
	calls.DispositionWantsToMoveForward: {CounterWantsToMoveForward, CounterInterested},
	calls.DispositionCallbackRequested:  {CounterCallbackRequested, CounterInterested},
	calls.DispositionNotInterested:      {CounterNotInterested, CounterDeclined},
	calls.DispositionDoNotCall:          {CounterDoNotCall, CounterDeclined},
	calls.DispositionWrongNumber:        {CounterWrongNumber, CounterUnreached},
	calls.DispositionLeftVoicemail:      {CounterLeftVoicemail, CounterUnreached},
	calls.DispositionNoAnswer:           {CounterNoAnswerDisposition, CounterUnreached},
}

var dispositionCounters = []Counter{
	CounterWantsToMoveForward,
	CounterCallbackRequested,
	CounterNotInterested,
	CounterDoNotCall,
	CounterWrongNumber,
	CounterLeftVoicemail,
	CounterNoAnswerDisposition,
}

// CountersFor returns the counters implied by d, or nil for an unknown disposition.
func CountersFor(d calls.Disposition) []Counter {
	out := dispositionCatalog[d]
	if out == nil {
		return nil
	}
	return append([]Counter(nil), out...)
}

// DeltaFor is the increment recorded when d is logged.
func DeltaFor(d calls.Disposition) Delta {
	delta := Delta{}
	for _, c := range dispositionCatalog[d] {
		delta[c]++
	}
	return delta
}

// StatusCounter maps a terminal call status to its outcome counter.
func StatusCounter(s calls.Status) (Counter, bool) {
	switch s {
	case calls.StatusCompleted:
		return CounterCompletedCalls, true
	case calls.StatusBusy:
		return CounterBusyCalls, true
	case calls.StatusNoAnswer:
		return CounterNoAnswers, true
	case calls.StatusFailed:
		return CounterFailedCalls, true
	case calls.StatusVoicemail:
		return CounterVoicemails, true
	default:
		return "", false
	}
}
