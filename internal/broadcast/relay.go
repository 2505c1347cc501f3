package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "callcenter:live"

// DefaultPublishTimeout bounds a PUBLISH issued from a webhook or API request.
const DefaultPublishTimeout = 500 * time.Millisecond

type envelope struct {
	Audience Audience `json:"audience"`
	RepID    string   `json:"repId,omitempty"`
	Event    Event    `json:"event"`
}

// RedisRelay publishes events on a Redis channel so every API instance can deliver them to its
// own subscribers. Run must be active for this instance to receive anything.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *slog.Logger
	timeout time.Duration
}

func NewRedisRelay(rdb *redis.Client, channel string, hub *Hub, log *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{rdb: rdb, channel: channel, hub: hub, log: log, timeout: DefaultPublishTimeout}
}

// WithPublishTimeout overrides DefaultPublishTimeout. The client must have
// ContextTimeoutEnabled for the deadline to cut a stalled socket short.
func (r *RedisRelay) WithPublishTimeout(d time.Duration) *RedisRelay {
	if d > 0 {
		r.timeout = d
	}
	return r
}

func (r *RedisRelay) PushToRep(ctx context.Context, repID string, ev Event) {
	r.publish(ctx, envelope{Audience: AudienceRep, RepID: repID, Event: ev})
}

func (r *RedisRelay) PushToAllAdmins(ctx context.Context, ev Event) {
	r.publish(ctx, envelope{Audience: AudienceAdmin, Event: ev})
}

// publish falls back to local delivery when Redis is unavailable or slower than the timeout.
// The request's own cancellation is ignored so a committed change is still announced.
func (r *RedisRelay) publish(ctx context.Context, env envelope) {
	payload, err := json.Marshal(env)
	if err == nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		err = r.rdb.Publish(pctx, r.channel, payload).Err()
		cancel()
	}
	if err != nil {
		r.log.Warn("live relay publish failed; delivering locally", "err", err, "type", env.Event.Type, "call_id", env.Event.CallID)
		r.deliver(ctx, env)
	}
}

func (r *RedisRelay) deliver(ctx context.Context, env envelope) {
	switch env.Audience {
	case AudienceAdmin:
		r.hub.PushToAllAdmins(ctx, env.Event)
	default:
		r.hub.PushToRep(ctx, env.RepID, env.Event)
	}
}

// Run subscribes to the channel and hands every message to the local hub until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("live relay subscription closed")
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("live relay: bad payload", "err", err)
				continue
			}
			r.deliver(ctx, env)
		}
	}
}
