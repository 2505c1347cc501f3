package telephony

import (
	"context"
	"errors"
)

// Provider is the provider-agnostic surface the engine consumes.
//
// Rules:
// - No provider SDK or REST calls outside telephony adapters.
// - Call placement is owned by the external dialer; this adapter only controls live calls.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// DropVoicemail plays a recorded message into a live call and hangs up.
	// It must not be retried automatically: a retry can play the message twice.
	DropVoicemail(ctx context.Context, req DropRequest) error
}

// DropRequest identifies the live call and the recording to play.
type DropRequest struct {
	// ProviderCallID is the provider's identifier for the live call.
	ProviderCallID string `json:"provider_call_id"`

	// MessageURL is a publicly fetchable audio file.
	MessageURL string `json:"message_url"`
}

var (
	ErrInvalidRequest = errors.New("telephony: invalid request")
	ErrProvider       = errors.New("telephony: provider rejected request")
)
