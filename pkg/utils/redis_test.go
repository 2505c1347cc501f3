package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLease_HoldReleaseCounts(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := Lease{Key: "presence:rep:r1", IndexKey: "presence:online", IndexMember: "r1", TTL: 30 * time.Second}

	for i, holder := range []string{"c1", "c2"} {
		n, err := HoldLease(ctx, rdb, l, holder, now)
		if err != nil || n != int64(i+1) {
			t.Fatalf("hold %s: n=%d err=%v", holder, n, err)
		}
	}
	// refreshing an existing holder does not add one
	if n, _ := HoldLease(ctx, rdb, l, "c1", now); n != 2 {
		t.Fatalf("expected 2 holders after refresh, got %d", n)
	}
	if !mr.Exists(l.Key) {
		t.Fatalf("expected lease key")
	}
	if ttl := mr.TTL(l.Key); ttl <= 0 {
		t.Fatalf("expected ttl set, got %v", ttl)
	}
	members, _ := mr.ZMembers(l.IndexKey)
	if len(members) != 1 || members[0] != "r1" {
		t.Fatalf("expected index entry, got %v", members)
	}

	if n, _ := ReleaseLease(ctx, rdb, l, "c1", now); n != 1 {
		t.Fatalf("expected one holder left, got %d", n)
	}
	// releasing the same holder twice is harmless
	if n, _ := ReleaseLease(ctx, rdb, l, "c1", now); n != 1 {
		t.Fatalf("expected one holder left, got %d", n)
	}
	if n, _ := ReleaseLease(ctx, rdb, l, "c2", now); n != 0 {
		t.Fatalf("expected lease gone, got %d", n)
	}
	if mr.Exists(l.Key) {
		t.Fatalf("expected key deleted")
	}
	if members, _ := mr.ZMembers(l.IndexKey); len(members) != 0 {
		t.Fatalf("expected index cleared, got %v", members)
	}
	if n, err := ReleaseLease(ctx, rdb, l, "c2", now); err != nil || n != 0 {
		t.Fatalf("release on missing lease: n=%d err=%v", n, err)
	}
}

func TestLease_LapsedHoldersArePruned(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := Lease{Key: "k", TTL: 10 * time.Second}

	_, _ = HoldLease(ctx, rdb, l, "stale", now)
	now = now.Add(6 * time.Second)
	_, _ = HoldLease(ctx, rdb, l, "live", now)
	now = now.Add(6 * time.Second)

	// "stale" last held 12s ago: releasing "live" leaves nothing behind
	if n, _ := ReleaseLease(ctx, rdb, l, "live", now); n != 0 {
		t.Fatalf("expected lapsed holder pruned, got %d", n)
	}
	if mr.Exists(l.Key) {
		t.Fatalf("expected key deleted")
	}

	// a holder that outlives the key recreates it
	_, _ = HoldLease(ctx, rdb, l, "live", now)
	mr.FastForward(11 * time.Second)
	now = now.Add(11 * time.Second)
	if mr.Exists(l.Key) {
		t.Fatalf("expected lease expired")
	}
	if n, err := HoldLease(ctx, rdb, l, "live", now); err != nil || n != 1 {
		t.Fatalf("expected lease recreated: n=%d err=%v", n, err)
	}
}

func TestLease_Validation(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	if _, err := HoldLease(ctx, nil, Lease{Key: "k", TTL: time.Second}, "h", time.Now()); err == nil {
		t.Fatalf("expected nil client error")
	}
	if _, err := HoldLease(ctx, rdb, Lease{TTL: time.Second}, "h", time.Now()); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := HoldLease(ctx, rdb, Lease{Key: "k"}, "h", time.Now()); err == nil {
		t.Fatalf("expected ttl error")
	}
	if _, err := HoldLease(ctx, rdb, Lease{Key: "k", TTL: time.Second}, "", time.Now()); err == nil {
		t.Fatalf("expected holder error")
	}
}
