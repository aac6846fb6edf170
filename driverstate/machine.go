// Package driverstate implements the driver session state machine
// (§4.2), idle detection, and the per-update safety validator (§4.3).
package driverstate

import (
	"sync"
	"time"

	"github.com/citytransit/realtime-core/model"
	"github.com/citytransit/realtime-core/storage"
)

const (
	IdleTimeout      = 300 * time.Second
	IdleCheckPeriod  = 60 * time.Second
	idleReason       = "No location update for 5 minutes"
)

// transitions is the table from §4.2: from → allowed-to set.
var transitions = map[model.DriverState]map[model.DriverState]bool{
	model.DriverStatePending:      {model.DriverStateOffline: true},
	model.DriverStateOffline:      {model.DriverStateOnline: true},
	model.DriverStateOnline:       {model.DriverStateOffline: true, model.DriverStateOnTrip: true, model.DriverStateIdle: true, model.DriverStateDisconnected: true},
	model.DriverStateOnTrip:       {model.DriverStateOffline: true, model.DriverStateOnline: true, model.DriverStateDisconnected: true},
	model.DriverStateIdle:         {model.DriverStateOffline: true, model.DriverStateOnline: true, model.DriverStateDisconnected: true},
	model.DriverStateDisconnected: {model.DriverStateOffline: true, model.DriverStateOnline: true},
	model.DriverStateRejected:     {},
}

// Session is the in-process, per-driver bookkeeping: last activity,
// socket id, and the safety history used for throttle/jump detection.
type Session struct {
	LastActivity time.Time
	SocketID     string

	HasLastPosition bool
	LastLat         float64
	LastLng         float64
	LastUpdate      time.Time
}

// Machine tracks per-driver sessions and performs table-constrained
// state transitions, writing an audit log entry for every attempt.
type Machine struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    storage.Store
}

func NewMachine(store storage.Store) *Machine {
	return &Machine{
		sessions: map[string]*Session{},
		store:    store,
	}
}

// Transition attempts from → to for driverID. OFFLINE and
// DISCONNECTED are always legal (forced=true bypasses the table).
// Every attempt, legal or not, is written to the audit log.
func (m *Machine) Transition(driverID string, from, to model.DriverState, reason string) bool {
	forced := to == model.DriverStateOffline || to == model.DriverStateDisconnected
	legal := forced || transitions[from][to]

	if m.store != nil {
		m.store.WriteDriverStateLog(storage.DriverStateLogEntry{
			DriverID:  driverID,
			From:      from,
			To:        to,
			Forced:    forced,
			Legal:     legal,
			Reason:    reason,
			Timestamp: time.Now().UTC(),
		})
	}

	return legal
}

// RecordActivity marks driverID as active now, used both to reset the
// idle timer and to gate reconnect-confidence penalties.
func (m *Machine) RecordActivity(driverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessionLocked(driverID)
	s.LastActivity = time.Now()
}

// SetSocket records the connection's socket id.
func (m *Machine) SetSocket(driverID, socketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionLocked(driverID).SocketID = socketID
}

// LastAccepted returns the driver's last accepted position, if any.
func (m *Machine) LastAccepted(driverID string) (lat, lng float64, at time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[driverID]
	if !exists || !s.HasLastPosition {
		return 0, 0, time.Time{}, false
	}
	return s.LastLat, s.LastLng, s.LastUpdate, true
}

// RecordAccepted stores the just-accepted position for future
// throttle/jump checks.
func (m *Machine) RecordAccepted(driverID string, lat, lng float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessionLocked(driverID)
	s.HasLastPosition = true
	s.LastLat = lat
	s.LastLng = lng
	s.LastUpdate = at
}

// ClearSafetyHistory resets the driver's last-accepted position,
// called on disconnect so the replay buffer's first location after
// reconnect is never rejected as a jump.
func (m *Machine) ClearSafetyHistory(driverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[driverID]; ok {
		s.HasLastPosition = false
	}
}

// IdleDrivers returns the ids of drivers whose last activity is older
// than IdleTimeout, for the idle-detection loop to transition to IDLE.
func (m *Machine) IdleDrivers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-IdleTimeout)
	var idle []string
	for driverID, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			idle = append(idle, driverID)
		}
	}
	return idle
}

// IdleReason is the state-log reason recorded for the forced
// ONLINE→IDLE transition.
const IdleReason = idleReason

func (m *Machine) sessionLocked(driverID string) *Session {
	s, ok := m.sessions[driverID]
	if !ok {
		s = &Session{}
		m.sessions[driverID] = s
	}
	return s
}
