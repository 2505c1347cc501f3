package reporting

import (
	"context"
	"testing"
	"time"

	"callcenter/internal/calls"
	"callcenter/internal/presence"
	"callcenter/internal/sessions"
)

type env struct {
	svc      *Service
	engine   *calls.Engine
	agg      *sessions.Aggregator
	presence *presence.MemoryRegistry
}

func newEnv() env {
	agg := sessions.NewAggregator(sessions.NewMemoryStore())
	store := calls.NewMemoryStore()
	reg := presence.NewMemoryRegistry(time.Minute)
	return env{
		svc:      NewService(store, agg, reg),
		engine:   calls.NewEngine(store, calls.Deps{Counters: agg}),
		agg:      agg,
		presence: reg,
	}
}

func TestRepStatus_OnCallWithLiveCounters(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	sess, _ := e.agg.StartSession(ctx, "rep_1", true)
	_ = e.presence.Connect(ctx, "rep_1", "tab")

	call, err := e.engine.Register(ctx, calls.RegisterRequest{RepID: "rep_1", LeadID: "lead_1", SessionID: sess.ID, ToNumber: "+14155550100"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := e.engine.ApplyProviderStatus(ctx, calls.StatusCallback{CallID: call.ID, RawStatus: "in-progress"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = e.agg.RecordDisposition(ctx, sess.ID, calls.DispositionNotInterested)

	st, err := e.svc.RepStatus(ctx, "rep_1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != presence.StatusOnCall || !st.Online {
		t.Fatalf("expected online on_call, got %+v", st)
	}
	if st.LatestCall == nil || st.LatestCall.ID != call.ID {
		t.Fatalf("expected latest call %s, got %+v", call.ID, st.LatestCall)
	}
	if st.Session == nil || st.Session.Counters[sessions.CounterTotalCalls] != 1 || st.Session.Counters[sessions.CounterConnectedCalls] != 1 {
		t.Fatalf("unexpected session counters %+v", st.Session)
	}
	if st.Session.Conversations != 1 {
		t.Fatalf("expected 1 conversation, got %d", st.Session.Conversations)
	}
}

func TestRepStatus_UnknownRepIsOffline(t *testing.T) {
	e := newEnv()
	st, err := e.svc.RepStatus(context.Background(), "rep_x")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != presence.StatusOffline || st.LatestCall != nil || st.Session != nil {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, err := e.svc.RepStatus(context.Background(), ""); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAllRepStatuses_UnionOfOnlineAndActive(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	_, _ = e.agg.StartSession(ctx, "rep_b", false)
	_ = e.presence.Connect(ctx, "rep_a", "tab")
	_ = e.presence.Connect(ctx, "rep_b", "tab")
	_ = e.presence.Connect(ctx, "rep_c", "tab")
	_ = e.presence.Disconnect(ctx, "rep_c", "tab")

	all, err := e.svc.AllRepStatuses(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 || all[0].RepID != "rep_a" || all[1].RepID != "rep_b" {
		t.Fatalf("unexpected reps %+v", all)
	}
	if all[0].Session != nil || all[0].Status != presence.StatusIdle {
		t.Fatalf("rep_a has no session; got %+v", all[0])
	}
	if all[1].Session == nil {
		t.Fatalf("rep_b should carry its session")
	}
}

func TestCallsSummary(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	register := func() calls.Call {
		c, err := e.engine.Register(ctx, calls.RegisterRequest{RepID: "rep_1", LeadID: "lead_1", ToNumber: "+14155550100"})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		return c
	}
	d := 30
	c1 := register()
	_, _ = e.engine.ApplyProviderStatus(ctx, calls.StatusCallback{CallID: c1.ID, RawStatus: "in-progress"})
	_, _ = e.engine.ApplyProviderStatus(ctx, calls.StatusCallback{CallID: c1.ID, RawStatus: "completed", DurationSeconds: &d})
	c2 := register()
	_, _ = e.engine.ApplyProviderStatus(ctx, calls.StatusCallback{CallID: c2.ID, RawStatus: "no-answer", DurationSeconds: new(int)})
	register()

	now := time.Now()
	out, err := e.svc.CallsSummary(ctx, CallsSummaryRequest{RepID: "rep_1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if out.TotalCalls != 3 || out.CompletedCalls != 1 || out.NoAnswerCalls != 1 || out.InProgressCalls != 1 {
		t.Fatalf("unexpected summary %+v", out)
	}
	if out.ConnectedCalls != 1 || out.TotalDurationSeconds != 30 || out.AverageDurationSeconds != 15 {
		t.Fatalf("unexpected durations %+v", out)
	}

	if _, err := e.svc.CallsSummary(ctx, CallsSummaryRequest{RepID: "rep_1"}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest for empty range, got %v", err)
	}
}
