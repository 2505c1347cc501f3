package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"callcenter/internal/broadcast"
	"callcenter/internal/observability"
)

// CounterRecorder receives exactly one call per applied transition.
// Implementations must apply each call as an atomic single-row increment.
type CounterRecorder interface {
	RecordDial(ctx context.Context, sessionID string) error
	RecordConnect(ctx context.Context, sessionID string) error
	RecordTerminal(ctx context.Context, sessionID string, status Status) error
	RecordPreviewSent(ctx context.Context, sessionID string) error
}

// DropOutcome reports what the voicemail orchestrator did for an authoritative machine answer.
type DropOutcome struct {
	Attempted      bool   `json:"attempted"`
	Dropped        bool   `json:"dropped"`
	ManualRequired bool   `json:"manual_required"`
	Reason         string `json:"reason,omitempty"`
}

// VoicemailHandler is invoked once, after a call has moved to VOICEMAIL.
type VoicemailHandler interface {
	HandleMachine(ctx context.Context, c Call) DropOutcome
}

type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeUnmatched     Outcome = "unmatched"
	OutcomeUnknownStatus Outcome = "unknown_status"
	OutcomeOverridden    Outcome = "overridden"
	OutcomeIgnored       Outcome = "ignored"
)

// Result describes what one inbound signal did.
type Result struct {
	Outcome Outcome          `json:"outcome"`
	Call    Call             `json:"call"`
	Event   *broadcast.Event `json:"event,omitempty"`
	Drop    DropOutcome      `json:"drop"`
}

// StatusCallback is a provider status callback after form decoding.
type StatusCallback struct {
	CallID          string
	ProviderCallID  string
	RawStatus       string
	At              time.Time
	DurationSeconds *int
}

// DetectionCallback is a provider answering-machine detection callback.
type DetectionCallback struct {
	CallID         string
	ProviderCallID string
	Result         string
	At             time.Time
}

type RegisterRequest struct {
	RepID          string
	LeadID         string
	SessionID      string
	ToNumber       string
	Region         string
	ProviderCallID string
	Direction      Direction
}

type Deps struct {
	Counters  CounterRecorder
	Events    broadcast.Publisher
	Voicemail VoicemailHandler
	Metrics   *observability.Metrics
	Log       *slog.Logger
}

// Engine applies provider callbacks and rep signals to call records.
//
// Every mutation goes through one guarded store update; only the caller whose update actually
// changed the row fires the follow-up counter increment and broadcast, so duplicate and racing
// callbacks are harmless.
type Engine struct {
	store     Store
	counters  CounterRecorder
	events    broadcast.Publisher
	voicemail VoicemailHandler
	metrics   *observability.Metrics
	log       *slog.Logger
	clock     func() time.Time
}

func NewEngine(store Store, deps Deps) *Engine {
	e := &Engine{
		store:     store,
		counters:  deps.Counters,
		events:    deps.Events,
		voicemail: deps.Voicemail,
		metrics:   deps.Metrics,
		log:       deps.Log,
		clock:     time.Now,
	}
	if e.events == nil {
		e.events = broadcast.Nop{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

func (e *Engine) Store() Store { return e.store }

// Register creates a call in INITIATED and counts the dial against its session.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (Call, error) {
	if strings.TrimSpace(req.RepID) == "" || strings.TrimSpace(req.LeadID) == "" {
		return Call{}, ErrInvalidArgument
	}
	if req.Direction == "" {
		req.Direction = DirectionOutbound
	}
	if req.Direction != DirectionOutbound && req.Direction != DirectionInbound {
		return Call{}, ErrInvalidArgument
	}
	var to string
	if req.ToNumber != "" {
		n, err := NormalizeNumber(req.ToNumber, req.Region)
		if err != nil {
			return Call{}, err
		}
		to = n
	} else if req.Direction == DirectionOutbound {
		return Call{}, ErrInvalidArgument
	}

	now := e.clock().UTC()
	c := Call{
		ID:        uuid.NewString(),
		RepID:     req.RepID,
		LeadID:    req.LeadID,
		Direction: req.Direction,
		ToNumber:  to,
		Status:    StatusInitiated,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.SessionID != "" {
		sid := req.SessionID
		c.SessionID = &sid
	}
	if req.ProviderCallID != "" {
		pid := req.ProviderCallID
		c.ProviderCallID = &pid
	}
	if err := e.store.Create(ctx, c); err != nil {
		return Call{}, fmt.Errorf("create call: %w", err)
	}
	e.metrics.Transition(string(StatusInitiated))
	if c.SessionID != nil && e.counters != nil {
		if err := e.counters.RecordDial(ctx, *c.SessionID); err != nil {
			e.sideEffectFailed(ctx, "session_counters", c, err)
		}
	}
	e.publish(ctx, broadcast.Event{
		Type:      broadcast.EventCallStatus,
		RepID:     c.RepID,
		CallID:    c.ID,
		Timestamp: now,
		Status:    string(c.Status),
	})
	return c, nil
}

// resolve prefers the internal identifier and falls back to the provider identifier.
func (e *Engine) resolve(ctx context.Context, callID, providerCallID string) (Call, bool, error) {
	if callID != "" {
		c, err := e.store.Get(ctx, callID)
		if err == nil {
			return c, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Call{}, false, err
		}
	}
	if providerCallID != "" {
		c, err := e.store.GetByProviderCallID(ctx, providerCallID)
		if err == nil {
			return c, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Call{}, false, err
		}
	}
	return Call{}, false, nil
}

// ApplyProviderStatus applies one status callback. Unknown statuses and unmatched calls are
// reported through Result rather than as errors.
func (e *Engine) ApplyProviderStatus(ctx context.Context, cb StatusCallback) (Result, error) {
	log := e.log.With("call_id", cb.CallID, "provider_call_id", cb.ProviderCallID, "raw_status", cb.RawStatus)

	c, ok, err := e.resolve(ctx, cb.CallID, cb.ProviderCallID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		log.Warn("status callback did not match a call")
		e.metrics.Callback("status", string(OutcomeUnmatched))
		return Result{Outcome: OutcomeUnmatched}, nil
	}
	status, known := ParseProviderStatus(cb.RawStatus)
	if !known {
		log.Warn("unknown provider status ignored")
		e.metrics.Callback("status", string(OutcomeUnknownStatus))
		return Result{Outcome: OutcomeUnknownStatus, Call: c}, nil
	}
	at := cb.At
	if at.IsZero() {
		at = e.clock().UTC()
	}

	// A machine answer already moved the call to VOICEMAIL; the provider's hang-up only
	// closes the record.
	if c.Status == StatusVoicemail && status.Terminal() {
		closed, changed, err := e.store.Close(ctx, c.ID, at, cb.DurationSeconds)
		if err != nil {
			return Result{}, err
		}
		outcome := OutcomeDuplicate
		if changed {
			outcome = OutcomeApplied
		}
		e.metrics.Callback("status", string(outcome))
		return Result{Outcome: outcome, Call: closed}, nil
	}

	updated, changed, err := e.store.Advance(ctx, Transition{
		CallID:           c.ID,
		To:               status,
		At:               at,
		ProviderDuration: cb.DurationSeconds,
		ProviderCallID:   cb.ProviderCallID,
		Close:            true,
	})
	if err != nil {
		return Result{}, err
	}
	if !changed {
		log.Debug("stale or duplicate status ignored", "current", updated.Status)
		e.metrics.Callback("status", string(OutcomeDuplicate))
		return Result{Outcome: OutcomeDuplicate, Call: updated}, nil
	}

	e.metrics.Callback("status", string(OutcomeApplied))
	e.metrics.Transition(string(status))
	e.countTransition(ctx, updated, status)

	ev := broadcast.Event{
		Type:      broadcast.EventCallStatus,
		RepID:     updated.RepID,
		CallID:    updated.ID,
		Timestamp: at,
		Status:    string(updated.Status),
	}
	e.publish(ctx, ev)
	return Result{Outcome: OutcomeApplied, Call: updated, Event: &ev}, nil
}

func (e *Engine) countTransition(ctx context.Context, c Call, to Status) {
	if c.SessionID == nil || e.counters == nil {
		return
	}
	var err error
	switch {
	case to == StatusConnected:
		err = e.counters.RecordConnect(ctx, *c.SessionID)
	case to.Terminal():
		err = e.counters.RecordTerminal(ctx, *c.SessionID, to)
	}
	if err != nil {
		e.sideEffectFailed(ctx, "session_counters", c, err)
	}
}

// ApplyDetection arbitrates an answering-machine signal against the call's connection state.
// Before connection a machine answer is authoritative; after it, the signal is recorded as an
// overridden false positive and nothing else changes.
func (e *Engine) ApplyDetection(ctx context.Context, d DetectionCallback) (Result, error) {
	log := e.log.With("call_id", d.CallID, "provider_call_id", d.ProviderCallID, "answered_by", d.Result)

	c, ok, err := e.resolve(ctx, d.CallID, d.ProviderCallID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		log.Warn("detection callback did not match a call")
		e.metrics.Callback("amd", string(OutcomeUnmatched))
		return Result{Outcome: OutcomeUnmatched}, nil
	}
	isMachine, known := ClassifyDetection(d.Result)
	if !known {
		log.Warn("unknown detection result ignored")
		e.metrics.Callback("amd", string(OutcomeUnknownStatus))
		return Result{Outcome: OutcomeUnknownStatus, Call: c}, nil
	}
	at := d.At
	if at.IsZero() {
		at = e.clock().UTC()
	}
	raw := strings.ToLower(strings.TrimSpace(d.Result))

	if !isMachine {
		updated, err := e.store.RecordDetection(ctx, c.ID, raw, false)
		if err != nil {
			return Result{}, err
		}
		e.metrics.Callback("amd", string(OutcomeApplied))
		ev := e.detectionEvent(updated, at, false, false)
		e.publish(ctx, ev)
		return Result{Outcome: OutcomeApplied, Call: updated, Event: &ev}, nil
	}

	if c.ConnectedAt != nil {
		return e.overrideDetection(ctx, c, raw, at)
	}

	updated, changed, err := e.store.Advance(ctx, Transition{
		CallID:             c.ID,
		To:                 StatusVoicemail,
		At:                 at,
		ProviderCallID:     d.ProviderCallID,
		RequireUnconnected: true,
	})
	if err != nil {
		return Result{}, err
	}
	if !changed {
		// Lost a race with the connect callback, or the call already ended.
		if updated.ConnectedAt != nil {
			return e.overrideDetection(ctx, updated, raw, at)
		}
		recorded, err := e.store.RecordDetection(ctx, c.ID, raw, false)
		if err != nil {
			return Result{}, err
		}
		log.Debug("machine detection for a finished call ignored", "current", recorded.Status)
		e.metrics.Callback("amd", string(OutcomeDuplicate))
		return Result{Outcome: OutcomeDuplicate, Call: recorded}, nil
	}

	updated, err = e.store.RecordDetection(ctx, c.ID, raw, false)
	if err != nil {
		return Result{}, err
	}
	e.metrics.Callback("amd", string(OutcomeApplied))
	e.metrics.Transition(string(StatusVoicemail))
	e.countTransition(ctx, updated, StatusVoicemail)

	var drop DropOutcome
	if e.voicemail != nil {
		drop = e.voicemail.HandleMachine(ctx, updated)
	}
	ev := e.detectionEvent(updated, at, true, false)
	ev.VMAutoDropped = drop.Dropped
	ev.ManualDropRequired = drop.ManualRequired
	e.publish(ctx, ev)
	return Result{Outcome: OutcomeApplied, Call: updated, Event: &ev, Drop: drop}, nil
}

func (e *Engine) overrideDetection(ctx context.Context, c Call, raw string, at time.Time) (Result, error) {
	updated, err := e.store.RecordDetection(ctx, c.ID, raw, true)
	if err != nil {
		return Result{}, err
	}
	e.log.Info("machine detection overridden; call already connected", "call_id", c.ID, "rep_id", c.RepID, "answered_by", raw)
	e.metrics.AMDOverride()
	e.metrics.Callback("amd", string(OutcomeOverridden))
	ev := e.detectionEvent(updated, at, true, true)
	e.publish(ctx, ev)
	return Result{Outcome: OutcomeOverridden, Call: updated, Event: &ev}, nil
}

func (e *Engine) detectionEvent(c Call, at time.Time, isMachine, overridden bool) broadcast.Event {
	return broadcast.Event{
		Type:          broadcast.EventCallStatus,
		RepID:         c.RepID,
		CallID:        c.ID,
		Timestamp:     at,
		Status:        string(c.Status),
		IsMachine:     isMachine,
		AMDOverridden: overridden,
	}
}

// MarkEngagement records a preview/CTA signal from the engagement tracker.
func (e *Engine) MarkEngagement(ctx context.Context, callID string, kind EngagementKind) (Result, error) {
	c, err := e.store.Get(ctx, callID)
	if err != nil {
		return Result{}, err
	}
	switch kind {
	case EngagementPreviewSent:
		if c.SessionID != nil && e.counters != nil {
			if err := e.counters.RecordPreviewSent(ctx, *c.SessionID); err != nil {
				return Result{}, fmt.Errorf("record preview sent: %w", err)
			}
			return Result{Outcome: OutcomeApplied, Call: c}, nil
		}
		return Result{Outcome: OutcomeIgnored, Call: c}, nil
	case EngagementPreviewOpened, EngagementCTAClicked:
	default:
		return Result{}, ErrInvalidArgument
	}

	updated, changed, err := e.store.SetEngagement(ctx, callID, kind)
	if err != nil {
		return Result{}, err
	}
	if !changed {
		if updated.Status != StatusConnected {
			return Result{Outcome: OutcomeIgnored, Call: updated}, nil
		}
		return Result{Outcome: OutcomeDuplicate, Call: updated}, nil
	}
	typ := broadcast.EventPreviewOpened
	if kind == EngagementCTAClicked {
		typ = broadcast.EventCTAClicked
	}
	ev := broadcast.Event{
		Type:      typ,
		RepID:     updated.RepID,
		CallID:    updated.ID,
		Timestamp: e.clock().UTC(),
		Status:    string(updated.Status),
	}
	e.publish(ctx, ev)
	return Result{Outcome: OutcomeApplied, Call: updated, Event: &ev}, nil
}

// publish never blocks the mutation path; the publisher is responsible for dropping.
func (e *Engine) publish(ctx context.Context, ev broadcast.Event) {
	broadcast.Publish(ctx, e.events, ev)
}

func (e *Engine) sideEffectFailed(ctx context.Context, effect string, c Call, err error) {
	e.metrics.SideEffectFailed(effect)
	e.log.Error("side effect failed", "effect", effect, "call_id", c.ID, "rep_id", c.RepID, "err", err)
}
