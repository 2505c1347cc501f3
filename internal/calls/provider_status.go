package calls

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ParseProviderStatus maps a raw provider call status to the internal lifecycle status.
// Twilio values: queued, initiated, ringing, in-progress, answered, completed, busy, no-answer, failed, canceled.
func ParseProviderStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "initiated":
		return StatusInitiated, true
	case "ringing":
		return StatusRinging, true
	case "in-progress", "in_progress", "answered":
		return StatusConnected, true
	case "completed":
		return StatusCompleted, true
	case "busy":
		return StatusBusy, true
	case "no-answer", "no_answer":
		return StatusNoAnswer, true
	case "failed", "canceled", "cancelled":
		return StatusFailed, true
	default:
		return "", false
	}
}

// ClassifyDetection interprets an answering-machine detection result.
// Twilio AnsweredBy values: human, machine_start, machine_end_beep, machine_end_silence,
// machine_end_other, fax, unknown.
func ClassifyDetection(raw string) (isMachine bool, known bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case v == "human":
		return false, true
	case v == "fax", strings.HasPrefix(v, "machine"):
		return true, true
	case v == "unknown":
		return false, true
	default:
		return false, false
	}
}

// NormalizeNumber formats a dialed number as E.164, using region when the number has no country code.
func NormalizeNumber(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidArgument
	}
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", ErrInvalidArgument
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalidArgument
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
