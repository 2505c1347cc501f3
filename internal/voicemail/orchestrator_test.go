package voicemail

import (
	"context"
	"errors"
	"sync"
	"testing"

	"callcenter/internal/audit"
	"callcenter/internal/calls"
	"callcenter/internal/notify"
	"callcenter/internal/sessions"
	"callcenter/internal/telephony"
)

type fakeProvider struct {
	mu       sync.Mutex
	fail     error
	requests []telephony.DropRequest
}

func (p *fakeProvider) Name() string                          { return "fake" }
func (p *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *fakeProvider) DropVoicemail(ctx context.Context, req telephony.DropRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return p.fail
}

type env struct {
	orch     *Orchestrator
	provider *fakeProvider
	settings *MemorySettings
	agg      *sessions.Aggregator
	audit    *audit.MemoryRepo
	outbox   *notify.MemoryOutbox
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		provider: &fakeProvider{},
		settings: NewMemorySettings(),
		agg:      sessions.NewAggregator(sessions.NewMemoryStore()),
		audit:    audit.NewMemoryRepo(),
		outbox:   notify.NewMemoryOutbox(),
	}
	e.orch = NewOrchestrator(Deps{
		Settings: e.settings,
		Sessions: e.agg,
		Provider: e.provider,
		Audit:    audit.NewService(e.audit),
		Outbox:   e.outbox,
	})
	return e
}

func machineCall(sessionID string) calls.Call {
	pid := "CA1"
	c := calls.Call{ID: "call_1", RepID: "rep_1", Status: calls.StatusVoicemail, ProviderCallID: &pid}
	if sessionID != "" {
		c.SessionID = &sessionID
	}
	return c
}

func TestHandleMachine_Drops(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	sess, _ := e.agg.StartSession(ctx, "rep_1", true)
	if _, err := e.settings.Put(ctx, RepSettings{RepID: "rep_1", MessageURL: "https://cdn.example.com/rep1.mp3"}); err != nil {
		t.Fatalf("put settings: %v", err)
	}

	out := e.orch.HandleMachine(ctx, machineCall(sess.ID))
	if !out.Attempted || !out.Dropped || out.ManualRequired {
		t.Fatalf("expected drop, got %+v", out)
	}
	if len(e.provider.requests) != 1 || e.provider.requests[0].MessageURL != "https://cdn.example.com/rep1.mp3" {
		t.Fatalf("unexpected provider requests %+v", e.provider.requests)
	}
}

func TestHandleMachine_PreconditionsInOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	manual, _ := e.agg.StartSession(ctx, "rep_1", false)

	// No message configured wins over the auto-dial check.
	if out := e.orch.HandleMachine(ctx, machineCall(manual.ID)); out.Reason != ReasonNoMessage || out.Attempted {
		t.Fatalf("expected no-message skip, got %+v", out)
	}

	_, _ = e.settings.Put(ctx, RepSettings{RepID: "rep_1", MessageURL: "https://cdn.example.com/rep1.mp3"})
	if out := e.orch.HandleMachine(ctx, machineCall(manual.ID)); out.Reason != ReasonAutoDialOff {
		t.Fatalf("expected auto-dial skip, got %+v", out)
	}
	if out := e.orch.HandleMachine(ctx, machineCall("")); out.Reason != ReasonNoSession {
		t.Fatalf("expected no-session skip, got %+v", out)
	}

	overridden := machineCall(manual.ID)
	overridden.AMDOverridden = true
	if out := e.orch.HandleMachine(ctx, overridden); out.Reason != ReasonNotAuthoritative {
		t.Fatalf("expected overridden detection to be skipped, got %+v", out)
	}
	if len(e.provider.requests) != 0 {
		t.Fatalf("provider must not be called when a precondition fails")
	}
}

func TestHandleMachine_FailureIsManualAndNotRetried(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.provider.fail = errors.New("twilio: 21220 call not in progress")
	sess, _ := e.agg.StartSession(ctx, "rep_1", true)
	_, _ = e.settings.Put(ctx, RepSettings{RepID: "rep_1", MessageURL: "https://cdn.example.com/rep1.mp3"})

	out := e.orch.HandleMachine(ctx, machineCall(sess.ID))
	if !out.Attempted || out.Dropped || !out.ManualRequired || out.Reason != ReasonProviderFailed {
		t.Fatalf("expected manual drop required, got %+v", out)
	}
	if len(e.provider.requests) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(e.provider.requests))
	}
	if got := e.audit.ForCall("call_1"); len(got) != 1 || got[0].Type != audit.EventTypeVoicemailDropFailed {
		t.Fatalf("expected voicemail_drop_failed audit event, got %+v", got)
	}
	items := e.outbox.Items()
	if len(items) != 1 || items[0].Kind != notify.KindManualDropRequired {
		t.Fatalf("expected manual drop notification, got %+v", items)
	}
}

func TestHandleMachine_SideEffectFailuresDoNotChangeOutcome(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.provider.fail = errors.New("boom")
	e.outbox.Fail = errors.New("outbox down")
	sess, _ := e.agg.StartSession(ctx, "rep_1", true)
	_, _ = e.settings.Put(ctx, RepSettings{RepID: "rep_1", MessageURL: "https://cdn.example.com/rep1.mp3"})

	out := e.orch.HandleMachine(ctx, machineCall(sess.ID))
	if !out.ManualRequired {
		t.Fatalf("expected manual drop required, got %+v", out)
	}
}

func TestMemorySettings_Validation(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySettings()
	if _, err := s.Put(ctx, RepSettings{RepID: "rep_1", MessageURL: "ftp://x/y.mp3"}); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	if _, err := s.Put(ctx, RepSettings{MessageURL: "https://x/y.mp3"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := s.Get(ctx, "rep_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
