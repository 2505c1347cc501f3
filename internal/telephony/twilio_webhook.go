package telephony

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"callcenter/internal/calls"
)

// TwilioStatusForm captures the subset of status callback fields we care about.
// Twilio sends application/x-www-form-urlencoded.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// Keep it provider-adapter-only; lifecycle decisions are made by calls.Engine.

type TwilioStatusForm struct {
	CallSid      string `validate:"required"`
	AccountSid   string
	CallStatus   string `validate:"required"`
	CallDuration string `validate:"omitempty,numeric"`
	Timestamp    string
	AnsweredBy   string
	Direction    string
	To           string
	From         string
}

// TwilioAMDForm is the asynchronous answering machine detection callback.
type TwilioAMDForm struct {
	CallSid                  string `validate:"required"`
	AccountSid               string
	AnsweredBy               string `validate:"required"`
	MachineDetectionDuration string `validate:"omitempty,numeric"`
}

var formValidator = validator.New()

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	f := TwilioStatusForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   r.PostFormValue("AccountSid"),
		CallStatus:   strings.TrimSpace(r.PostFormValue("CallStatus")),
		CallDuration: strings.TrimSpace(r.PostFormValue("CallDuration")),
		Timestamp:    r.PostFormValue("Timestamp"),
		AnsweredBy:   r.PostFormValue("AnsweredBy"),
		Direction:    r.PostFormValue("Direction"),
		To:           r.PostFormValue("To"),
		From:         r.PostFormValue("From"),
	}
	if err := formValidator.Struct(f); err != nil {
		return f, err
	}
	return f, nil
}

func ParseTwilioAMDCallback(r *http.Request) (TwilioAMDForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioAMDForm{}, err
	}
	f := TwilioAMDForm{
		CallSid:                  strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:               r.PostFormValue("AccountSid"),
		AnsweredBy:               strings.TrimSpace(r.PostFormValue("AnsweredBy")),
		MachineDetectionDuration: strings.TrimSpace(r.PostFormValue("MachineDetectionDuration")),
	}
	if err := formValidator.Struct(f); err != nil {
		return f, err
	}
	return f, nil
}

// parseTimestamp reads Twilio's RFC 1123 timestamp, falling back to now.
func parseTimestamp(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC()
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}

func (f TwilioStatusForm) ToStatusCallback(callID string, now time.Time) calls.StatusCallback {
	cb := calls.StatusCallback{
		CallID:         callID,
		ProviderCallID: f.CallSid,
		RawStatus:      f.CallStatus,
		At:             parseTimestamp(f.Timestamp, now),
	}
	if f.CallDuration != "" {
		if n, err := strconv.Atoi(f.CallDuration); err == nil && n >= 0 {
			cb.DurationSeconds = &n
		}
	}
	return cb
}

func (f TwilioAMDForm) ToDetectionCallback(callID string, now time.Time) calls.DetectionCallback {
	return calls.DetectionCallback{
		CallID:         callID,
		ProviderCallID: f.CallSid,
		Result:         f.AnsweredBy,
		At:             now.UTC(),
	}
}
