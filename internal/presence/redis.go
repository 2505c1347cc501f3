package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"callcenter/pkg/utils"
)

const (
	keyPrefix = "presence:rep:"
	indexKey  = "presence:online"
)

// RedisRegistry shares presence between API instances. Each rep is a lease hash with one holder
// per connection, kept alive by heartbeats; a sorted set indexes reps by last_seen for listing.
type RedisRegistry struct {
	rdb   *redis.Client
	ttl   time.Duration
	clock func() time.Time
}

func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &RedisRegistry{rdb: rdb, ttl: ttl, clock: time.Now}
}

func (r *RedisRegistry) lease(repID string) utils.Lease {
	return utils.Lease{Key: keyPrefix + repID, IndexKey: indexKey, IndexMember: repID, TTL: r.ttl}
}

func (r *RedisRegistry) Connect(ctx context.Context, repID, connID string) error {
	return r.hold(ctx, repID, connID)
}

// Touch refreshes connID, recreating the lease if it lapsed while the connection stayed open.
func (r *RedisRegistry) Touch(ctx context.Context, repID, connID string) error {
	return r.hold(ctx, repID, connID)
}

func (r *RedisRegistry) hold(ctx context.Context, repID, connID string) error {
	if err := validate(repID, connID); err != nil {
		return err
	}
	_, err := utils.HoldLease(ctx, r.rdb, r.lease(repID), connID, r.clock())
	return err
}

func (r *RedisRegistry) Disconnect(ctx context.Context, repID, connID string) error {
	if err := validate(repID, connID); err != nil {
		return err
	}
	_, err := utils.ReleaseLease(ctx, r.rdb, r.lease(repID), connID, r.clock())
	return err
}

func (r *RedisRegistry) IsOnline(ctx context.Context, repID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, keyPrefix+repID).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Online trims index entries older than the TTL, then lists the rest.
func (r *RedisRegistry) Online(ctx context.Context) ([]string, error) {
	cutoff := r.clock().Add(-r.ttl).UnixMilli()
	if err := r.rdb.ZRemRangeByScore(ctx, indexKey, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, err
	}
	ids, err := r.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	// The index can briefly outlive an expired lease; confirm against the lease keys.
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := r.IsOnline(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}
