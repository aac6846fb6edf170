package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/realtime-core/storage"
	"github.com/citytransit/realtime-core/transitdata"
)

type fakeProvider struct {
	calls []string
	err   error
}

func (p *fakeProvider) Send(ctx context.Context, endpoint string, payload interface{}, opts transitdata.PushOptions) error {
	p.calls = append(p.calls, endpoint)
	return p.err
}

func TestSinkSendsToEveryToken(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.UpdateUserPushTokens("u1", []string{"tok-a", "tok-b"}))
	provider := &fakeProvider{}
	sink := NewSink(nil, store, provider, zerolog.Nop())
	defer sink.Stop()

	sink.Send(context.Background(), "u1", "bus1", KindArrival, Payload{Kind: KindArrival, BusID: "bus1"})

	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, provider.calls)
}

func TestSinkCooldownBlocksRepeat(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.UpdateUserPushTokens("u1", []string{"tok-a"}))
	provider := &fakeProvider{}
	sink := NewSink(nil, store, provider, zerolog.Nop())
	defer sink.Stop()

	sink.Send(context.Background(), "u1", "bus1", KindArrival, "first")
	sink.Send(context.Background(), "u1", "bus1", KindArrival, "second")

	assert.Len(t, provider.calls, 1, "second send within cooldown must be suppressed")
}

func TestSinkDistinctKeysAreIndependent(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.UpdateUserPushTokens("u1", []string{"tok-a"}))
	provider := &fakeProvider{}
	sink := NewSink(nil, store, provider, zerolog.Nop())
	defer sink.Stop()

	sink.Send(context.Background(), "u1", "bus1", KindArrival, "a")
	sink.Send(context.Background(), "u1", "bus2", KindArrival, "b")
	sink.Send(context.Background(), "u1", "bus1", KindDelay, "c")

	assert.Len(t, provider.calls, 3)
}

func TestSinkPrunesGoneToken(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.UpdateUserPushTokens("u1", []string{"tok-a", "tok-b"}))
	provider := &fakeProvider{err: transitdata.ErrEndpointGone}
	sink := NewSink(nil, store, provider, zerolog.Nop())
	defer sink.Stop()

	sink.Send(context.Background(), "u1", "bus1", KindArrival, "p")

	user, err := store.GetUser("u1")
	require.NoError(t, err)
	assert.Empty(t, user.PushTokens)
}

func TestSinkSkipsUserWithNoTokens(t *testing.T) {
	store := storage.NewMemoryStorage()
	provider := &fakeProvider{}
	sink := NewSink(nil, store, provider, zerolog.Nop())
	defer sink.Stop()

	sink.Send(context.Background(), "unknown-user", "bus1", KindArrival, "p")

	assert.Empty(t, provider.calls)
}
