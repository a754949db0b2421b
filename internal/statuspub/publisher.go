// Package statuspub optionally mirrors endpoint and discovery state
// transitions into Redis, for external dashboards that want live router
// state without scraping Prometheus. Generalizes the bluetooth-service
// reference package's WriteAndPublishString pipeline (hash write + channel
// publish in one round trip) from vehicle telemetry fields to router
// endpoint/discovery state. Disabled by default; every publish failure is
// logged and swallowed rather than propagated, since losing a status
// update must never affect frame routing.
package statuspub

import (
	"context"
	"fmt"
	"time"

	"github.com/K4HVH/mav-lite/internal/logging"
	"github.com/redis/go-redis/v9"
)

const dialTimeout = 2 * time.Second

// Publisher writes router state to a Redis hash and publishes a matching
// notification on a channel, best-effort.
type Publisher struct {
	client  *redis.Client
	hashKey string
	channel string
}

// Dial connects to addr and pings it once to fail fast on misconfiguration;
// callers should treat a non-nil error as "leave status publishing off."
func Dial(addr, password string, db int, channel string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("statuspub: connect to %s: %w", addr, err)
	}
	return &Publisher{client: client, hashKey: "mavrouter:endpoints", channel: channel}, nil
}

// Close releases the underlying Redis connection pool.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}

// PublishEndpointState records endpoint name's current state ("connected",
// "disconnected", "sysid_learned") under field name in the endpoints hash and announces it
// on the status channel. Failures are logged and dropped.
func (p *Publisher) PublishEndpointState(ctx context.Context, name, state string) {
	if p == nil {
		return
	}
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, p.hashKey, name, state)
	pipe.Publish(ctx, p.channel, fmt.Sprintf("endpoint:%s:%s", name, state))
	if _, err := pipe.Exec(ctx); err != nil {
		logging.L().Warn("statuspub_publish_failed", "name", name, "state", state, "error", err)
	}
}

// PublishDiscoveryState records a candidate serial path's discovery state
// ("adopted", "rejected") under its own hash and announces it.
// Failures are logged and dropped.
func (p *Publisher) PublishDiscoveryState(ctx context.Context, path, state string) {
	if p == nil {
		return
	}
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, "mavrouter:discovery", path, state)
	pipe.Publish(ctx, p.channel, fmt.Sprintf("discovery:%s:%s", path, state))
	if _, err := pipe.Exec(ctx); err != nil {
		logging.L().Warn("statuspub_publish_failed", "path", path, "state", state, "error", err)
	}
}
