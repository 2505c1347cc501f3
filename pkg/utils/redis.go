package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize           int
	MinIdleConns       int
	PoolTimeout        time.Duration
	ConnMaxIdleTime    time.Duration
	ConnMaxLifetime    time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,

		// Callers bound hot-path commands with their own context deadlines.
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Leases track which holders share a key (for example the open live connections of a rep).
// Each holder refreshes its own entry; holders that stop refreshing lapse on their own, and
// the key expires once the newest holder is older than the TTL.
//
// Hash layout: holder -> last_seen (unix ms). The optional index key is a sorted set of
// member -> last_seen so callers can list live keys without SCAN.

// leasePrune drops lapsed holders and returns the newest last_seen among the rest (0 if none).
const leasePrune = `
local cutoff = tonumber(ARGV[2]) - tonumber(ARGV[1])
local newest = 0
local fields = redis.call('HGETALL', KEYS[1])
for i = 1, #fields, 2 do
  local seen = tonumber(fields[i + 1])
  if seen <= cutoff then
    redis.call('HDEL', KEYS[1], fields[i])
  elseif seen > newest then
    newest = seen
  end
end
`

var leaseHoldScript = redis.NewScript(`
-- KEYS[1] = lease hash, KEYS[2] = index zset ('' to skip)
-- ARGV[1] = ttl_ms, ARGV[2] = now_ms, ARGV[3] = index member, ARGV[4] = holder
` + leasePrune + `
redis.call('HSET', KEYS[1], ARGV[4], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
if KEYS[2] ~= '' then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
end
return redis.call('HLEN', KEYS[1])
`)

var leaseReleaseScript = redis.NewScript(`
-- KEYS[1] = lease hash, KEYS[2] = index zset ('' to skip)
-- ARGV[1] = ttl_ms, ARGV[2] = now_ms, ARGV[3] = index member, ARGV[4] = holder
redis.call('HDEL', KEYS[1], ARGV[4])
` + leasePrune + `
if redis.call('HLEN', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[1])
  if KEYS[2] ~= '' then
    redis.call('ZREM', KEYS[2], ARGV[3])
  end
  return 0
end
-- the key lives as long as the newest remaining holder
redis.call('PEXPIRE', KEYS[1], newest + tonumber(ARGV[1]) - tonumber(ARGV[2]))
return redis.call('HLEN', KEYS[1])
`)

// Lease names one shared key and its optional index entry.
type Lease struct {
	Key         string
	IndexKey    string
	IndexMember string
	TTL         time.Duration
}

func (l Lease) validate(rdb *redis.Client, holder string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if l.Key == "" {
		return fmt.Errorf("key is required")
	}
	if holder == "" {
		return fmt.Errorf("holder is required")
	}
	if l.TTL <= 0 {
		return fmt.Errorf("ttl must be > 0")
	}
	return nil
}

func (l Lease) run(ctx context.Context, rdb *redis.Client, script *redis.Script, holder string, now time.Time) (int64, error) {
	if err := l.validate(rdb, holder); err != nil {
		return 0, err
	}
	return script.Run(ctx, rdb, []string{l.Key, l.IndexKey}, l.TTL.Milliseconds(), now.UnixMilli(), l.IndexMember, holder).Int64()
}

// HoldLease adds or refreshes holder and returns the number of live holders.
// It is atomic via Lua and recreates a lease that expired while the holder was still alive.
func HoldLease(ctx context.Context, rdb *redis.Client, l Lease, holder string, now time.Time) (int64, error) {
	return l.run(ctx, rdb, leaseHoldScript, holder, now)
}

// ReleaseLease removes holder and returns the remaining live holders (0 once the lease is gone).
func ReleaseLease(ctx context.Context, rdb *redis.Client, l Lease, holder string, now time.Time) (int64, error) {
	return l.run(ctx, rdb, leaseReleaseScript, holder, now)
}
