package broadcast

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"callcenter/internal/observability"
)

func recv(t *testing.T, s *Subscriber) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PushToRepOnlyReachesThatRep(t *testing.T) {
	h := NewHub(4, nil, nil)
	a := h.Subscribe(AudienceRep, "rep_a")
	b := h.Subscribe(AudienceRep, "rep_b")
	admin := h.Subscribe(AudienceAdmin, "sup_1")

	Publish(context.Background(), h, Event{Type: EventCallStatus, RepID: "rep_a", CallID: "call_1"})

	if ev := recv(t, a); ev.CallID != "call_1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev := recv(t, admin); ev.Type != EventCallStatus {
		t.Fatalf("unexpected admin event: %+v", ev)
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("rep_b should not receive rep_a events: %+v", ev)
	default:
	}
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	m := observability.NewMetrics("test")
	h := NewHub(1, m, nil)
	s := h.Subscribe(AudienceRep, "rep_a")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.PushToRep(context.Background(), "rep_a", Event{Type: EventCallStatus, RepID: "rep_a"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("push blocked on a slow subscriber")
	}
	if got := testutil.ToFloat64(m.LiveEventsDropped.WithLabelValues("rep")); got != 9 {
		t.Fatalf("expected 9 dropped events, got %v", got)
	}
	_ = recv(t, s)
}

func TestHub_UnsubscribeUpdatesCounts(t *testing.T) {
	m := observability.NewMetrics("test")
	h := NewHub(1, m, nil)
	s := h.Subscribe(AudienceRep, "rep_a")
	admin := h.Subscribe(AudienceAdmin, "sup")

	if reps, admins := h.Counts(); reps != 1 || admins != 1 {
		t.Fatalf("unexpected counts %d %d", reps, admins)
	}
	h.Unsubscribe(s)
	h.Unsubscribe(s)
	h.Unsubscribe(admin)
	if reps, admins := h.Counts(); reps != 0 || admins != 0 {
		t.Fatalf("unexpected counts after unsubscribe %d %d", reps, admins)
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
	if got := testutil.ToFloat64(m.LiveSubscribers.WithLabelValues("rep")); got != 0 {
		t.Fatalf("expected rep gauge back at 0, got %v", got)
	}

	// Pushing after unsubscribe is a no-op.
	h.PushToRep(context.Background(), "rep_a", Event{Type: EventCallStatus})
}

func TestRedisRelay_DeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	local := NewHub(4, nil, nil)
	remote := NewHub(4, nil, nil)
	sender := NewRedisRelay(rdb, "test:live", local, nil)
	receiver := NewRedisRelay(rdb, "test:live", remote, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- receiver.Run(ctx) }()

	sub := remote.Subscribe(AudienceAdmin, "sup")

	// Wait until the receiver's subscription is registered before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if n := mr.PubSubNumSub("test:live")["test:live"]; n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("relay never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sender.PushToAllAdmins(context.Background(), Event{Type: EventDispositionLogged, CallID: "call_9"})
	if ev := recv(t, sub); ev.CallID != "call_9" || ev.Type != EventDispositionLogged {
		t.Fatalf("unexpected relayed event: %+v", ev)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not stop")
	}
}

func TestRedisRelay_FallsBackToLocalDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	hub := NewHub(4, nil, nil)
	relay := NewRedisRelay(rdb, "", hub, nil)
	sub := hub.Subscribe(AudienceRep, "rep_a")

	mr.Close()
	relay.PushToRep(context.Background(), "rep_a", Event{Type: EventCTAClicked, RepID: "rep_a"})
	if ev := recv(t, sub); ev.Type != EventCTAClicked {
		t.Fatalf("expected local fallback delivery, got %+v", ev)
	}
}

// stalledRedis accepts connections and reads requests but never answers.
func stalledRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestRedisRelay_StalledPublishIsBounded(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:                  stalledRedis(t),
		ReadTimeout:           10 * time.Second,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	hub := NewHub(4, nil, nil)
	relay := NewRedisRelay(rdb, "", hub, nil).WithPublishTimeout(50 * time.Millisecond)
	admin := hub.Subscribe(AudienceAdmin, "sup_1")

	start := time.Now()
	relay.PushToAllAdmins(context.Background(), Event{Type: EventCallStatus, CallID: "call_1"})
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("publish blocked for %s", took)
	}
	if ev := recv(t, admin); ev.CallID != "call_1" {
		t.Fatalf("expected local fallback delivery, got %+v", ev)
	}
}
