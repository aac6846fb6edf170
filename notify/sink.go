// Package notify evaluates the opportunistic notification rules
// (§4.15) and sends every decision addressed to a user through a
// single rate-limited push sink keyed by (userId, busId, type) with a
// 10-minute cooldown; decisions with no user reach only Rules.OnNotify.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/citytransit/realtime-core/cache"
	"github.com/citytransit/realtime-core/storage"
	"github.com/citytransit/realtime-core/transitdata"
)

const pushSendTimeout = 5 * time.Second

// Sink rate-limits and delivers a single notification. The dedupe key
// is (userId, busId, type); a cache-backed set-if-absent is tried
// first, falling back to an in-memory map swept of expired entries
// when the cache is unreachable: the same cache-vs-memory degrade
// pattern the speed memory uses, but here the fallback must actually
// hold state since there is no acceptable "just skip" behavior for a
// user-facing push.
type Sink struct {
	cache    cache.Cache
	store    storage.Store
	provider transitdata.PushProvider
	log      zerolog.Logger

	mu       sync.Mutex
	fallback map[string]time.Time

	stopCh chan struct{}
}

func NewSink(c cache.Cache, store storage.Store, provider transitdata.PushProvider, log zerolog.Logger) *Sink {
	s := &Sink{cache: c, store: store, provider: provider, log: log, fallback: map[string]time.Time{}, stopCh: make(chan struct{})}
	go s.sweepLoop()
	return s
}

func (s *Sink) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Send delivers payload to userID's registered push tokens, subject
// to the (userID, busID, kind) cooldown. Unknown-token/not-registered
// errors prune the offending token from the user's record.
func (s *Sink) Send(ctx context.Context, userID, busID, kind string, payload interface{}) {
	key := fmt.Sprintf("%s:%s:%s", userID, busID, kind)
	if !s.reserve(ctx, key) {
		return
	}

	user, err := s.store.GetUser(userID)
	if err != nil || len(user.PushTokens) == 0 {
		return
	}

	var surviving []string
	pruned := false
	for _, token := range user.PushTokens {
		sendErr := s.provider.Send(ctx, token, payload, transitdata.PushOptions{
			Timeout: pushSendTimeout, MaxResponseSize: 4096,
		})
		if sendErr == nil {
			surviving = append(surviving, token)
			continue
		}
		if errors.Is(sendErr, transitdata.ErrEndpointGone) {
			pruned = true
			continue
		}
		s.log.Warn().Err(sendErr).Str("user", userID).Msg("notify: push delivery failed")
		surviving = append(surviving, token)
	}

	if pruned {
		if err := s.store.UpdateUserPushTokens(userID, surviving); err != nil {
			s.log.Warn().Err(err).Str("user", userID).Msg("notify: pruning dead token failed")
		}
	}
}

func (s *Sink) reserve(ctx context.Context, key string) bool {
	cacheKey := "push:ratelimit:" + key

	if s.cache != nil {
		ok, err := s.cache.SetIfAbsent(ctx, cacheKey, "1", cache.PushRateLimitTTL)
		if err == nil {
			return ok
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if until, ok := s.fallback[key]; ok && now.Before(until) {
		return false
	}
	s.fallback[key] = now.Add(cache.PushRateLimitTTL)
	return true
}

func (s *Sink) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sink) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key, until := range s.fallback {
		if now.After(until) {
			delete(s.fallback, key)
		}
	}
}
