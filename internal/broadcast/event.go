// Package broadcast fans out call-state notifications to live rep and supervisor subscribers.
//
// Delivery is best-effort: a subscriber whose buffer is full misses the event and is expected
// to reload state from the API on reconnect.
package broadcast

import (
	"context"
	"time"
)

type EventType string

const (
	EventCallStatus        EventType = "CALL_STATUS"
	EventDispositionLogged EventType = "DISPOSITION_LOGGED"
	EventCTAClicked        EventType = "CTA_CLICKED"
	EventPreviewOpened     EventType = "PREVIEW_OPENED"
)

// Event is the payload pushed to live subscribers.
type Event struct {
	Type      EventType `json:"type"`
	RepID     string    `json:"repId"`
	CallID    string    `json:"callId"`
	Timestamp time.Time `json:"timestamp"`

	Status string `json:"status,omitempty"`

	// Machine detection annotations.
	IsMachine          bool `json:"isMachine,omitempty"`
	AMDOverridden      bool `json:"amdOverridden,omitempty"`
	VMAutoDropped      bool `json:"vmAutoDropped,omitempty"`
	ManualDropRequired bool `json:"manualDropRequired,omitempty"`

	Disposition string `json:"disposition,omitempty"`
	Previous    string `json:"previousDisposition,omitempty"`
	Corrected   bool   `json:"corrected,omitempty"`
}

// Publisher is what the call engine and disposition service push through.
type Publisher interface {
	PushToRep(ctx context.Context, repID string, ev Event)
	PushToAllAdmins(ctx context.Context, ev Event)
}

// Audience selects which channel a subscriber listens on.
type Audience string

const (
	AudienceRep   Audience = "rep"
	AudienceAdmin Audience = "admin"
)

// Publish sends ev to the owning rep and to every supervisor.
func Publish(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if ev.RepID != "" {
		p.PushToRep(ctx, ev.RepID, ev)
	}
	p.PushToAllAdmins(ctx, ev)
}

// Nop discards every event.
type Nop struct{}

func (Nop) PushToRep(context.Context, string, Event) {}
func (Nop) PushToAllAdmins(context.Context, Event)   {}
