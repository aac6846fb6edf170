// Package monitor runs the periodic memory snapshot described in §5's
// concurrency model (one 30 s memory-monitor task). It is intentionally
// built on runtime.MemStats rather than a third-party metrics client:
// nothing in SPEC_FULL exposes a scrape endpoint for a metrics library
// to feed, so there is no component to wire one into.
package monitor

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

const (
	snapshotPeriod = 30 * time.Second

	// heapWarnBytes is an arbitrary but stable threshold; three
	// consecutive snapshots above it is treated as a leak heuristic
	// rather than a single allocation spike.
	heapWarnBytes          = 512 * 1024 * 1024
	consecutiveOverToWarn  = 3
	growthWindow           = 5
	growthStepFractionWarn = 0.10
)

// Snapshot is a point-in-time reading of the process's memory state.
type Snapshot struct {
	HeapAllocBytes uint64
	HeapObjects    uint64
	NumGoroutine   int
	NumGC          uint32
}

// Run logs a Snapshot every 30 s until stop is closed, warning when
// the heap looks like it is leaking rather than merely spiking.
// Intended to run as its own goroutine for the lifetime of the process.
func Run(stop <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(snapshotPeriod)
	defer ticker.Stop()

	var history []Snapshot
	overThreshold := 0

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s := take()
			history = append(history, s)
			if len(history) > growthWindow {
				history = history[len(history)-growthWindow:]
			}
			if s.HeapAllocBytes > heapWarnBytes {
				overThreshold++
			} else {
				overThreshold = 0
			}
			logSnapshot(log, s, overThreshold >= consecutiveOverToWarn || monotonicGrowth(history))
		}
	}
}

// monotonicGrowth reports whether every step in history grew the heap
// by more than growthStepFractionWarn, over a full growthWindow of
// samples: a steady climb rather than a one-off spike.
func monotonicGrowth(history []Snapshot) bool {
	if len(history) < growthWindow {
		return false
	}
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1].HeapAllocBytes, history[i].HeapAllocBytes
		if prev == 0 || float64(cur-prev)/float64(prev) < growthStepFractionWarn || cur <= prev {
			return false
		}
	}
	return true
}

func logSnapshot(log zerolog.Logger, s Snapshot, leakSuspected bool) {
	event := log.Debug()
	if leakSuspected {
		event = log.Warn()
	}
	event.
		Uint64("heapAllocBytes", s.HeapAllocBytes).
		Uint64("heapObjects", s.HeapObjects).
		Int("goroutines", s.NumGoroutine).
		Uint32("numGC", s.NumGC).
		Bool("leakSuspected", leakSuspected).
		Msg("monitor: memory snapshot")
}

func take() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Snapshot{
		HeapAllocBytes: m.HeapAlloc,
		HeapObjects:    m.HeapObjects,
		NumGoroutine:   runtime.NumGoroutine(),
		NumGC:          m.NumGC,
	}
}
