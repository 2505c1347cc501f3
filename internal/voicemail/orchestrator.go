// Package voicemail decides whether a machine-answered call gets a pre-recorded message dropped
// into it, and performs the drop through the telephony provider.
package voicemail

import (
	"context"
	"errors"
	"log/slog"

	"callcenter/internal/audit"
	"callcenter/internal/calls"
	"callcenter/internal/notify"
	"callcenter/internal/observability"
	"callcenter/internal/sessions"
	"callcenter/internal/telephony"
)

// Reasons reported in calls.DropOutcome.
const (
	ReasonNotAuthoritative = "detection_not_authoritative"
	ReasonNoMessage        = "no_message_configured"
	ReasonNoSession        = "no_active_session"
	ReasonAutoDialOff      = "auto_dial_disabled"
	ReasonNoProviderCall   = "no_provider_call_id"
	ReasonProviderFailed   = "provider_failed"
)

type SessionLookup interface {
	Get(ctx context.Context, sessionID string) (sessions.Session, error)
}

type Deps struct {
	Settings SettingsStore
	Sessions SessionLookup
	Provider telephony.Provider
	Audit    *audit.Service
	Outbox   notify.Outbox
	Metrics  *observability.Metrics
	Log      *slog.Logger
}

// Orchestrator implements calls.VoicemailHandler.
type Orchestrator struct {
	deps Deps
	log  *slog.Logger
}

func NewOrchestrator(deps Deps) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{deps: deps, log: log}
}

var _ calls.VoicemailHandler = (*Orchestrator)(nil)

// HandleMachine checks the drop preconditions in order and attempts the drop once.
// A failed drop is never retried: the message could end up played twice on the same mailbox.
func (o *Orchestrator) HandleMachine(ctx context.Context, c calls.Call) calls.DropOutcome {
	log := o.log.With("call_id", c.ID, "rep_id", c.RepID)

	if c.Status != calls.StatusVoicemail || c.AMDOverridden {
		return o.skip(ReasonNotAuthoritative)
	}

	settings, err := o.deps.Settings.Get(ctx, c.RepID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Error("load rep voicemail settings failed", "err", err)
	}
	if settings.MessageURL == "" {
		return o.skip(ReasonNoMessage)
	}

	if c.SessionID == nil || o.deps.Sessions == nil {
		return o.skip(ReasonNoSession)
	}
	sess, err := o.deps.Sessions.Get(ctx, *c.SessionID)
	if err != nil {
		if !errors.Is(err, sessions.ErrNotFound) {
			log.Error("load session failed", "session_id", *c.SessionID, "err", err)
		}
		return o.skip(ReasonNoSession)
	}
	if !sess.Active {
		return o.skip(ReasonNoSession)
	}
	if !sess.AutoDial {
		return o.skip(ReasonAutoDialOff)
	}

	if c.ProviderCallID == nil || *c.ProviderCallID == "" {
		return o.manual(ctx, log, c, ReasonNoProviderCall)
	}
	err = o.deps.Provider.DropVoicemail(ctx, telephony.DropRequest{
		ProviderCallID: *c.ProviderCallID,
		MessageURL:     settings.MessageURL,
	})
	if err != nil {
		log.Warn("voicemail drop failed; manual drop required", "err", err)
		return o.manual(ctx, log, c, ReasonProviderFailed)
	}
	log.Info("voicemail dropped")
	o.deps.Metrics.VoicemailDrop("dropped")
	return calls.DropOutcome{Attempted: true, Dropped: true}
}

func (o *Orchestrator) skip(reason string) calls.DropOutcome {
	o.deps.Metrics.VoicemailDrop("skipped")
	return calls.DropOutcome{Reason: reason}
}

// manual surfaces the failure to supervisors. Audit and outbox failures are logged only.
func (o *Orchestrator) manual(ctx context.Context, log *slog.Logger, c calls.Call, reason string) calls.DropOutcome {
	o.deps.Metrics.VoicemailDrop("failed")

	if o.deps.Audit != nil {
		if err := o.deps.Audit.LogVoicemailDropFailed(ctx, c.ID, c.RepID, reason); err != nil {
			o.deps.Metrics.SideEffectFailed("audit")
			log.Error("audit voicemail drop failure", "err", err)
		}
	}
	if o.deps.Outbox != nil {
		err := o.deps.Outbox.Enqueue(ctx, notify.Notification{
			Kind:    notify.KindManualDropRequired,
			RepID:   c.RepID,
			CallID:  c.ID,
			Message: "Voicemail auto-drop failed; drop the message manually.",
			Data:    map[string]any{"reason": reason},
		})
		if err != nil {
			o.deps.Metrics.SideEffectFailed("notification")
			log.Error("enqueue manual drop notification", "err", err)
		}
	}
	return calls.DropOutcome{Attempted: reason == ReasonProviderFailed, ManualRequired: true, Reason: reason}
}
