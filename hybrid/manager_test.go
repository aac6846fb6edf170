package hybrid

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRefusesOtherDriver(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("bus1", "driverA", "route1"))

	err := m.Register("bus1", "driverB", "route1")
	assert.ErrorIs(t, err, ErrBusAlreadyControlled)
}

func TestRegisterSameDriverIsIdempotent(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("bus1", "driverA", "route1"))
	require.NoError(t, m.Register("bus1", "driverA", "route1"))
	assert.True(t, m.IsControlled("bus1"))
}

func TestUnregisterExpiresAfterGrace(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("bus1", "driverA", "route1"))
	m.RecordPosition("bus1", 12.3, 45.6)

	var wg sync.WaitGroup
	wg.Add(1)

	var expiredBus, expiredDriver string
	var pos *Position
	m.Unregister("bus1", "driverA", "route1", func(busID, driverID, routeID string, lastPosition *Position) {
		expiredBus, expiredDriver, pos = busID, driverID, lastPosition
		wg.Done()
	})

	assert.True(t, m.IsInGrace("bus1"))

	waitTimeout(t, &wg, GracePeriod+2*time.Second)

	assert.Equal(t, "bus1", expiredBus)
	assert.Equal(t, "driverA", expiredDriver)
	require.NotNil(t, pos)
	assert.Equal(t, 12.3, pos.Lat)
	assert.False(t, m.IsControlled("bus1"))
}

func TestReRegisterDuringGraceAbortsExpiry(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("bus1", "driverA", "route1"))

	fired := false
	m.Unregister("bus1", "driverA", "route1", func(string, string, string, *Position) {
		fired = true
	})

	require.NoError(t, m.Register("bus1", "driverA", "route1"))
	assert.False(t, m.IsInGrace("bus1"))

	time.Sleep(GracePeriod + 2*time.Second)
	assert.False(t, fired)
	assert.True(t, m.IsControlled("bus1"))
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for expiry callback")
	}
}
