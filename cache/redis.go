package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/citytransit/realtime-core/model"
)

// RedisCache is the production Cache backend.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache dials addr and verifies the connection with a PING.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}

func speedKey(routeID string) string { return "route_speed:" + routeID }

func (c *RedisCache) RecordSpeedSample(ctx context.Context, routeID string, kmh float64, at time.Time) error {
	key := speedKey(routeID)
	member := fmt.Sprintf("%f:%d", kmh, at.UnixMilli())

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.ZRemRangeByRank(ctx, key, 0, -MaxSpeedSamples-1)
	pipe.Expire(ctx, key, SpeedSampleTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("recording speed sample for route %q: %w", routeID, err)
	}
	return nil
}

func (c *RedisCache) SpeedSamples(ctx context.Context, routeID string, window time.Duration) ([]model.SpeedSample, error) {
	key := speedKey(routeID)
	minScore := strconv.FormatInt(time.Now().Add(-window).UnixMilli(), 10)

	members, err := c.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: minScore, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading speed samples for route %q: %w", routeID, err)
	}

	samples := make([]model.SpeedSample, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, ":", 2)
		if len(parts) != 2 {
			continue
		}
		kmh, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			continue
		}
		ms, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		samples = append(samples, model.SpeedSample{SpeedKmh: kmh, At: time.UnixMilli(ms)})
	}
	return samples, nil
}

func reliabilityKey(routeID string) string { return "route_reliability:" + routeID }

func (c *RedisCache) RecordDelay(ctx context.Context, routeID string, minutes float64) error {
	return c.incrReliabilityField(ctx, routeID, "delayMinutes", minutes)
}

func (c *RedisCache) RecordDisconnect(ctx context.Context, routeID string) error {
	return c.incrReliabilityField(ctx, routeID, "disconnectCount", 1)
}

func (c *RedisCache) RecordHighCongestion(ctx context.Context, routeID string, minutes float64) error {
	return c.incrReliabilityField(ctx, routeID, "highCongestionMinutes", minutes)
}

func (c *RedisCache) incrReliabilityField(ctx context.Context, routeID, field string, delta float64) error {
	key := reliabilityKey(routeID)
	pipe := c.client.TxPipeline()
	pipe.HIncrByFloat(ctx, key, field, delta)
	pipe.HSet(ctx, key, "lastUpdated", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, ReliabilityTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating reliability field %q for route %q: %w", field, routeID, err)
	}
	return nil
}

func (c *RedisCache) ReliabilityCounters(ctx context.Context, routeID string) (model.ReliabilityCounters, error) {
	key := reliabilityKey(routeID)
	vals, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return model.ReliabilityCounters{}, fmt.Errorf("reading reliability counters for route %q: %w", routeID, err)
	}

	counters := model.ReliabilityCounters{RouteID: routeID}
	if v, ok := vals["delayMinutes"]; ok {
		counters.DelayMinutes, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := vals["disconnectCount"]; ok {
		n, _ := strconv.ParseFloat(v, 64)
		counters.DisconnectCount = int(n)
	}
	if v, ok := vals["highCongestionMinutes"]; ok {
		counters.HighCongestionMinutes, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := vals["lastUpdated"]; ok {
		counters.LastUpdated, _ = time.Parse(time.RFC3339, v)
	}
	return counters, nil
}

func (c *RedisCache) GetRoutePlan(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading route plan %q: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) SetRoutePlan(ctx context.Context, key string, payload string) error {
	if err := c.client.Set(ctx, key, payload, RoutePlanTTL).Err(); err != nil {
		return fmt.Errorf("writing route plan %q: %w", key, err)
	}
	return nil
}

func (c *RedisCache) SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set-if-absent on %q: %w", key, err)
	}
	return ok, nil
}

func (c *RedisCache) SetDriverSocket(ctx context.Context, userID, socketID string) error {
	key := "driver:socket:" + userID
	if err := c.client.Set(ctx, key, socketID, DriverHeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("setting driver socket for %q: %w", userID, err)
	}
	return nil
}

func (c *RedisCache) SetBusDriver(ctx context.Context, busID, userID string) error {
	key := "bus:driver:" + busID
	if err := c.client.Set(ctx, key, userID, DriverHeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("setting bus driver for %q: %w", busID, err)
	}
	return nil
}

func (c *RedisCache) GetBusDriver(ctx context.Context, busID string) (string, bool, error) {
	val, err := c.client.Get(ctx, "bus:driver:"+busID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading bus driver for %q: %w", busID, err)
	}
	return val, true, nil
}

func (c *RedisCache) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %q: %w", channel, err)
	}
	return nil
}

func (c *RedisCache) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error) {
	sub := c.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("subscribing to %v: %w", channels, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close, nil
}

var _ Cache = (*RedisCache)(nil)
