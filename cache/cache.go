// Package cache wraps the key-value/pubsub store the realtime core
// treats as its slow path: speed memory, reliability counters, route
// plan results, push dedupe, and driver heartbeat keys, plus the
// bus:location/notifications:* pubsub channels. Every read and write
// through this package is fire-and-forget: callers swallow errors and
// continue, per §7's transient-dependency policy.
package cache

import (
	"context"
	"time"

	"github.com/citytransit/realtime-core/model"
)

const (
	SpeedSampleTTL        = 900 * time.Second
	ReliabilityTTL        = 3600 * time.Second
	RoutePlanTTL          = 45 * time.Second
	PushRateLimitTTL      = 600 * time.Second
	DriverHeartbeatTTL    = 300 * time.Second
	MaxSpeedSamples       = 200
	SpeedWindow           = 10 * time.Minute
	ChannelBusLocation    = "bus:location"
	ChannelNotifyPassenger = "notifications:passengers"
	ChannelNotifyDriver    = "notifications:drivers"
	ChannelNotifyAdmin     = "notifications:admins"
)

// Message is a single pubsub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Cache is the interface the intelligence pipeline, graph planner,
// notify package, and realtime fanout consume. Both backends
// (Redis, in-memory) implement the full interface so either can run
// the same caller code: the in-memory backend stands in for local
// bootstrap and tests, mirroring storage.Store's own backend split.
type Cache interface {
	// Sliding-window speed memory (§3, §4.4).
	RecordSpeedSample(ctx context.Context, routeID string, kmh float64, at time.Time) error
	SpeedSamples(ctx context.Context, routeID string, window time.Duration) ([]model.SpeedSample, error)

	// Reliability counters (§4.6). Writers are fire-and-forget by
	// contract; callers never check the returned error.
	RecordDelay(ctx context.Context, routeID string, minutes float64) error
	RecordDisconnect(ctx context.Context, routeID string) error
	RecordHighCongestion(ctx context.Context, routeID string, minutes float64) error
	ReliabilityCounters(ctx context.Context, routeID string) (model.ReliabilityCounters, error)

	// Route plan result cache (§4.11), keyed by the smart spatial/
	// time-bucket key built by graph.PlanCacheKey.
	GetRoutePlan(ctx context.Context, key string) (string, bool, error)
	SetRoutePlan(ctx context.Context, key string, payload string) error

	// SetIfAbsent implements the push rate-limit dedupe (§4.15): it
	// sets key to value and returns true only if the key did not
	// already exist, atomically.
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// Driver heartbeat / reverse lookup keys (§6).
	SetDriverSocket(ctx context.Context, userID, socketID string) error
	SetBusDriver(ctx context.Context, busID, userID string) error
	GetBusDriver(ctx context.Context, busID string) (string, bool, error)

	// Publish sends payload on channel; Subscribe returns a channel of
	// deliveries and an unsubscribe func.
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error)

	Close() error
}
