package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

func newTestRules(t *testing.T) (*Rules, *storage.MemoryStorage, *fakeProvider) {
	t.Helper()
	store := storage.NewMemoryStorage()
	provider := &fakeProvider{}
	sink := NewSink(nil, store, provider, zerolog.Nop())
	t.Cleanup(sink.Stop)
	return NewRules(sink, zerolog.Nop()), store, provider
}

func TestEvaluateOccupancyFiresAboveHighThreshold(t *testing.T) {
	r, _, _ := newTestRules(t)

	var notified []Payload
	r.OnNotify = func(p Payload) { notified = append(notified, p) }

	bus := &model.Bus{ID: "b1", RouteID: "r1", Capacity: 40, PassengerCount: 30} // 75%
	r.EvaluateOccupancy(context.Background(), bus)

	require.Len(t, notified, 1)
	assert.Equal(t, KindHighOccupancy, notified[0].Kind)
	assert.Equal(t, "HIGH", notified[0].Data.(map[string]interface{})["level"])
}

func TestEvaluateOccupancySkipsBelowThreshold(t *testing.T) {
	r, _, _ := newTestRules(t)

	var notified []Payload
	r.OnNotify = func(p Payload) { notified = append(notified, p) }

	bus := &model.Bus{ID: "b1", RouteID: "r1", Capacity: 40, PassengerCount: 10} // 25%
	r.EvaluateOccupancy(context.Background(), bus)

	assert.Empty(t, notified)
}

func TestEvaluateArrivalRespectsThreshold(t *testing.T) {
	r, store, provider := newTestRules(t)
	require.NoError(t, store.UpdateUserPushTokens("u1", []string{"tok-1"}))

	bus := &model.Bus{ID: "b1", RouteID: "r1"}

	r.EvaluateArrival(context.Background(), "u1", bus, 5)
	assert.Empty(t, provider.calls, "eta above threshold must not notify")

	r.EvaluateArrival(context.Background(), "u1", bus, 2)
	assert.Len(t, provider.calls, 1)
}

func TestEvaluateTripStartAndEndFireOnNotify(t *testing.T) {
	r, _, _ := newTestRules(t)

	var kinds []string
	r.OnNotify = func(p Payload) { kinds = append(kinds, p.Kind) }

	trip := &model.Trip{ID: "t1", BusID: "b1", RouteID: "r1", StartTime: time.Now()}
	r.EvaluateTripStart(context.Background(), trip)

	trip.EndTime = time.Now()
	r.EvaluateTripEnd(context.Background(), trip)

	assert.Equal(t, []string{KindTripStart, KindTripEnd}, kinds)
}

func TestEvaluateDelayRespectsThreshold(t *testing.T) {
	r, _, _ := newTestRules(t)

	var notified []Payload
	r.OnNotify = func(p Payload) { notified = append(notified, p) }

	r.EvaluateDelay(context.Background(), "r1", "b1", 3)
	assert.Empty(t, notified)

	r.EvaluateDelay(context.Background(), "r1", "b1", 6)
	require.Len(t, notified, 1)
	assert.Equal(t, KindDelay, notified[0].Kind)
}
