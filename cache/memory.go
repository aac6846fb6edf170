package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/citytransit/realtime-core/model"
)

// MemoryCache is a map-based Cache used by tests and local bootstrap
// when no Redis instance is configured. It does not honor TTLs
// precisely: expired entries are pruned lazily on read, matching the
// teacher's map-based storage.MemoryStorage fixture backend.
type MemoryCache struct {
	mu sync.Mutex

	speed         map[string][]model.SpeedSample
	reliability   map[string]model.ReliabilityCounters
	strings       map[string]memoryEntry
	subscribers   map[string][]chan Message
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		speed:       map[string][]model.SpeedSample{},
		reliability: map[string]model.ReliabilityCounters{},
		strings:     map[string]memoryEntry{},
		subscribers: map[string][]chan Message{},
	}
}

func (c *MemoryCache) Close() error { return nil }

func (c *MemoryCache) RecordSpeedSample(ctx context.Context, routeID string, kmh float64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	samples := append(c.speed[routeID], model.SpeedSample{SpeedKmh: kmh, At: at})
	sort.Slice(samples, func(i, j int) bool { return samples[i].At.Before(samples[j].At) })
	if len(samples) > MaxSpeedSamples {
		samples = samples[len(samples)-MaxSpeedSamples:]
	}
	c.speed[routeID] = samples
	return nil
}

func (c *MemoryCache) SpeedSamples(ctx context.Context, routeID string, window time.Duration) ([]model.SpeedSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-window)
	var out []model.SpeedSample
	for _, s := range c.speed[routeID] {
		if s.At.After(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *MemoryCache) RecordDelay(ctx context.Context, routeID string, minutes float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	counters := c.reliability[routeID]
	counters.RouteID = routeID
	counters.DelayMinutes += minutes
	counters.LastUpdated = time.Now().UTC()
	c.reliability[routeID] = counters
	return nil
}

func (c *MemoryCache) RecordDisconnect(ctx context.Context, routeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	counters := c.reliability[routeID]
	counters.RouteID = routeID
	counters.DisconnectCount++
	counters.LastUpdated = time.Now().UTC()
	c.reliability[routeID] = counters
	return nil
}

func (c *MemoryCache) RecordHighCongestion(ctx context.Context, routeID string, minutes float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	counters := c.reliability[routeID]
	counters.RouteID = routeID
	counters.HighCongestionMinutes += minutes
	counters.LastUpdated = time.Now().UTC()
	c.reliability[routeID] = counters
	return nil
}

func (c *MemoryCache) ReliabilityCounters(ctx context.Context, routeID string) (model.ReliabilityCounters, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reliability[routeID], nil
}

func (c *MemoryCache) GetRoutePlan(ctx context.Context, key string) (string, bool, error) {
	return c.getString(key)
}

func (c *MemoryCache) SetRoutePlan(ctx context.Context, key string, payload string) error {
	c.setString(key, payload, RoutePlanTTL)
	return nil
}

func (c *MemoryCache) SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.strings[key]; ok && e.expiresAt.After(time.Now()) {
		return false, nil
	}
	c.strings[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (c *MemoryCache) SetDriverSocket(ctx context.Context, userID, socketID string) error {
	c.setString("driver:socket:"+userID, socketID, DriverHeartbeatTTL)
	return nil
}

func (c *MemoryCache) SetBusDriver(ctx context.Context, busID, userID string) error {
	c.setString("bus:driver:"+busID, userID, DriverHeartbeatTTL)
	return nil
}

func (c *MemoryCache) GetBusDriver(ctx context.Context, busID string) (string, bool, error) {
	return c.getString("bus:driver:" + busID)
}

func (c *MemoryCache) getString(key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.strings[key]
	if !ok || e.expiresAt.Before(time.Now()) {
		delete(c.strings, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) setString(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strings[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *MemoryCache) Publish(ctx context.Context, channel string, payload []byte) error {
	c.mu.Lock()
	subs := append([]chan Message{}, c.subscribers[channel]...)
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- Message{Channel: channel, Payload: payload}:
		case <-ctx.Done():
			return fmt.Errorf("publishing to %q: %w", channel, ctx.Err())
		default:
		}
	}
	return nil
}

func (c *MemoryCache) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error) {
	out := make(chan Message, 16)

	c.mu.Lock()
	for _, ch := range channels {
		c.subscribers[ch] = append(c.subscribers[ch], out)
	}
	c.mu.Unlock()

	unsubscribe := func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, ch := range channels {
			subs := c.subscribers[ch]
			for i, s := range subs {
				if s == out {
					c.subscribers[ch] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		close(out)
		return nil
	}

	return out, unsubscribe, nil
}

var _ Cache = (*MemoryCache)(nil)
