package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRelayChannel carries frames between processes.
const DefaultRelayChannel = "crm:live:frames"

const (
	relayRetryMin = 500 * time.Millisecond
	relayRetryMax = 30 * time.Second
)

type relayEnvelope struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisRelay mirrors hub broadcasts through Redis pub/sub so sessions held
// by other processes receive them. Frames published by this process are
// skipped on receipt; the hub already delivered them locally.
type RedisRelay struct {
	rdb     redis.UniversalClient
	channel string
	nodeID  string
	hub     *Hub
	log     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRedisRelay(rdb redis.UniversalClient, channel string, hub *Hub, log *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{rdb: rdb, channel: channel, nodeID: newID(hub.clock()), hub: hub, log: log, sleep: sleepCtx}
}

func (r *RedisRelay) Publish(ctx context.Context, event string, frame []byte) error {
	b, err := json.Marshal(relayEnvelope{Origin: r.nodeID, Event: event, Frame: frame})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, b).Err()
}

// Run subscribes and delivers remote frames until ctx is cancelled. A lost
// or failed subscription is retried with capped exponential backoff.
func (r *RedisRelay) Run(ctx context.Context) error {
	backoff := relayRetryMin
	for {
		subscribed, err := r.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			backoff = relayRetryMin
		}
		r.log.Warn("live relay subscription lost", "channel", r.channel, "err", err, "retry_in", backoff)
		if err := r.sleep(ctx, backoff); err != nil {
			return nil
		}
		backoff = min(backoff*2, relayRetryMax)
	}
}

// listen holds one subscription until it closes or ctx ends. subscribed
// reports whether the subscription was confirmed before it went away.
func (r *RedisRelay) listen(ctx context.Context) (subscribed bool, err error) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return false, err
	}
	r.log.Info("live relay subscribed", "channel", r.channel, "node_id", r.nodeID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("live: relay channel closed")
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.Warn("live relay payload invalid", "err", err)
		return
	}
	if env.Origin == r.nodeID {
		return
	}
	r.hub.deliver(env.Event, env.Frame)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
