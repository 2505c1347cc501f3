package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"callcenter/internal/calls"
)

func TestDerive(t *testing.T) {
	call := func(s calls.Status) *calls.Call { return &calls.Call{Status: s} }
	cases := []struct {
		name   string
		active bool
		latest *calls.Call
		online bool
		want   Status
	}{
		{"no session offline", false, nil, false, StatusOffline},
		{"no session but connected", false, call(calls.StatusConnected), true, StatusIdle},
		{"session no calls", true, nil, false, StatusIdle},
		{"session connected", true, call(calls.StatusConnected), false, StatusOnCall},
		{"session ringing", true, call(calls.StatusRinging), true, StatusDialing},
		{"session initiated", true, call(calls.StatusInitiated), true, StatusDialing},
		{"session finished call", true, call(calls.StatusVoicemail), true, StatusIdle},
	}
	for _, tc := range cases {
		if got := Derive(tc.active, tc.latest, tc.online); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestMemoryRegistry_ConnectionsAndTTL(t *testing.T) {
	r := NewMemoryRegistry(10 * time.Second)
	now := time.Unix(1_700_000_000, 0)
	r.clock = func() time.Time { return now }
	ctx := context.Background()

	_ = r.Connect(ctx, "rep_1", "a")
	_ = r.Connect(ctx, "rep_1", "b")
	_ = r.Disconnect(ctx, "rep_1", "a")
	if ok, _ := r.IsOnline(ctx, "rep_1"); !ok {
		t.Fatalf("one connection remains; expected online")
	}

	now = now.Add(8 * time.Second)
	_ = r.Touch(ctx, "rep_1", "b")
	now = now.Add(8 * time.Second)
	if ok, _ := r.IsOnline(ctx, "rep_1"); !ok {
		t.Fatalf("heartbeat should keep rep online")
	}

	now = now.Add(11 * time.Second)
	if ok, _ := r.IsOnline(ctx, "rep_1"); ok {
		t.Fatalf("expected rep expired")
	}
	if n := r.evictExpired(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if err := r.Connect(ctx, "", "a"); !errors.Is(err, ErrInvalidRep) {
		t.Fatalf("expected ErrInvalidRep, got %v", err)
	}
	if err := r.Touch(ctx, "rep_1", ""); !errors.Is(err, ErrInvalidConnection) {
		t.Fatalf("expected ErrInvalidConnection, got %v", err)
	}
}

// A lapsed tab must not take a live tab's presence with it, and a heartbeat from an open
// connection restores presence that expired.
func TestMemoryRegistry_TwoTabsAcrossExpiry(t *testing.T) {
	r := NewMemoryRegistry(30 * time.Second)
	now := time.Unix(1_700_000_000, 0)
	r.clock = func() time.Time { return now }
	ctx := context.Background()

	_ = r.Connect(ctx, "rep_1", "tab_a")
	now = now.Add(31 * time.Second)
	_ = r.Connect(ctx, "rep_1", "tab_b")
	_ = r.Disconnect(ctx, "rep_1", "tab_a")
	now = now.Add(5 * time.Second)
	_ = r.Touch(ctx, "rep_1", "tab_b")
	if ok, _ := r.IsOnline(ctx, "rep_1"); !ok {
		t.Fatalf("tab_b is open; expected online")
	}

	// tab_b misses heartbeats long enough to lapse, then resumes
	now = now.Add(40 * time.Second)
	if ok, _ := r.IsOnline(ctx, "rep_1"); ok {
		t.Fatalf("expected lapsed")
	}
	r.evictExpired()
	_ = r.Touch(ctx, "rep_1", "tab_b")
	if ok, _ := r.IsOnline(ctx, "rep_1"); !ok {
		t.Fatalf("heartbeat from an open connection should restore presence")
	}
	_ = r.Disconnect(ctx, "rep_1", "tab_b")
	if ok, _ := r.IsOnline(ctx, "rep_1"); ok {
		t.Fatalf("expected offline after last tab closed")
	}
}

func TestMemoryRegistry_OnlineSorted(t *testing.T) {
	r := NewMemoryRegistry(time.Minute)
	ctx := context.Background()
	_ = r.Connect(ctx, "rep_b", "1")
	_ = r.Connect(ctx, "rep_a", "2")
	got, _ := r.Online(ctx)
	if len(got) != 2 || got[0] != "rep_a" || got[1] != "rep_b" {
		t.Fatalf("unexpected online list %v", got)
	}
	_ = r.Disconnect(ctx, "rep_a", "2")
	_ = r.Disconnect(ctx, "rep_a", "2")
	if got, _ := r.Online(ctx); len(got) != 1 {
		t.Fatalf("expected only rep_b online, got %v", got)
	}
}

func newRedisRegistry(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisRegistry, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := NewRedisRegistry(rdb, ttl)
	now := time.Unix(1_700_000_000, 0)
	r.clock = func() time.Time { return now }
	return mr, r, &now
}

func TestRedisRegistry(t *testing.T) {
	mr, r, now := newRedisRegistry(t, 10*time.Second)
	ctx := context.Background()

	if err := r.Connect(ctx, "rep_1", "a"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = r.Connect(ctx, "rep_1", "b")
	_ = r.Connect(ctx, "rep_2", "c")
	_ = r.Disconnect(ctx, "rep_2", "c")

	online, err := r.Online(ctx)
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if len(online) != 1 || online[0] != "rep_1" {
		t.Fatalf("unexpected online %v", online)
	}

	// Without heartbeats the lease expires.
	mr.FastForward(11 * time.Second)
	*now = now.Add(11 * time.Second)
	if ok, _ := r.IsOnline(ctx, "rep_1"); ok {
		t.Fatalf("expected rep_1 expired")
	}
	if online, _ := r.Online(ctx); len(online) != 0 {
		t.Fatalf("expected nobody online, got %v", online)
	}

	// A heartbeat from a connection that is still open brings the rep back.
	if err := r.Touch(ctx, "rep_1", "b"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ok, _ := r.IsOnline(ctx, "rep_1"); !ok {
		t.Fatalf("expected touch to restore presence")
	}
}

func TestRedisRegistry_TwoTabsAcrossExpiry(t *testing.T) {
	mr, r, now := newRedisRegistry(t, 30*time.Second)
	ctx := context.Background()
	advance := func(d time.Duration) {
		mr.FastForward(d)
		*now = now.Add(d)
	}

	_ = r.Connect(ctx, "rep_1", "tab_a")
	advance(31 * time.Second)
	_ = r.Connect(ctx, "rep_1", "tab_b")
	_ = r.Disconnect(ctx, "rep_1", "tab_a")
	advance(5 * time.Second)
	if ok, _ := r.IsOnline(ctx, "rep_1"); !ok {
		t.Fatalf("tab_b is open; expected online before its heartbeat")
	}
	_ = r.Touch(ctx, "rep_1", "tab_b")
	if ok, _ := r.IsOnline(ctx, "rep_1"); !ok {
		t.Fatalf("tab_b is open; expected online")
	}

	// Closing a tab keeps the lease alive as long as the newest remaining holder.
	_ = r.Connect(ctx, "rep_1", "tab_c")
	advance(20 * time.Second)
	_ = r.Touch(ctx, "rep_1", "tab_c")
	_ = r.Disconnect(ctx, "rep_1", "tab_b")
	advance(25 * time.Second)
	if ok, _ := r.IsOnline(ctx, "rep_1"); !ok {
		t.Fatalf("tab_c touched 25s ago; expected online")
	}
	_ = r.Disconnect(ctx, "rep_1", "tab_c")
	if ok, _ := r.IsOnline(ctx, "rep_1"); ok {
		t.Fatalf("expected offline after last tab closed")
	}
}
