// Package progress tracks a transfer's throughput to back the optional
// speed field on transfer-progress events.
package progress

import (
	"sync"
	"time"
)

// Tracker accumulates bytes moved since the last Reset and reports a
// bytes-per-second estimate, the same windowed-average idea as the
// teacher's TelemetryCollector.BandwidthMbps, scaled to bytes instead of
// megabits and reset per file instead of per process.
type Tracker struct {
	mu          sync.Mutex
	windowStart time.Time
	bytesMoved  uint64
}

// New returns a Tracker with its window starting now.
func New() *Tracker {
	return &Tracker{windowStart: time.Now()}
}

// Record adds n bytes moved to the current window.
func (t *Tracker) Record(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesMoved += uint64(n)
}

// Reset starts a fresh window, discarding accumulated bytes. Call this
// between files so one file's speed doesn't bleed into the next's.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesMoved = 0
	t.windowStart = time.Now()
}

// BytesPerSecond returns the average throughput of the current window, or
// 0 if too little time or data has accumulated to make an estimate
// meaningful.
func (t *Tracker) BytesPerSecond() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.windowStart).Seconds()
	if elapsed <= 0 || t.bytesMoved == 0 {
		return 0
	}
	return float64(t.bytesMoved) / elapsed
}
