package engine

import (
	"sync"
	"time"

	"apishield/internal/model"
)

// WindowKey identifies one tumbling bucket: a client plus the left-aligned
// start of its window.
type WindowKey struct {
	ClientIP string
	Start    int64
}

type windowState struct {
	start        time.Time
	requestCount int
	authFailures int
	endpoints    map[string]struct{}
}

// Aggregator maintains per-(client, window) counters over fixed-size
// tumbling windows. It owns all window state; concurrent Observe calls
// are safe. Windows older than the retention horizon behind the event-time
// watermark are evicted.
type Aggregator struct {
	mu         sync.Mutex
	windowSize time.Duration
	retention  time.Duration
	windows    map[WindowKey]*windowState
	watermark  time.Time
	lastSweep  time.Time
}

func NewAggregator(windowSize time.Duration, retentionWindows int) *Aggregator {
	if windowSize <= 0 {
		windowSize = 10 * time.Second
	}
	if retentionWindows < 1 {
		retentionWindows = 2
	}
	return &Aggregator{
		windowSize: windowSize,
		retention:  time.Duration(retentionWindows) * windowSize,
		windows:    make(map[WindowKey]*windowState),
	}
}

// Observe counts the event into its window, the event itself included,
// and returns the post-update snapshot.
func (a *Aggregator) Observe(ev model.Event) model.WindowFeatures {
	start := ev.Timestamp.Truncate(a.windowSize)
	key := WindowKey{ClientIP: ev.ClientIP, Start: start.UnixNano()}

	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.windows[key]
	if !ok {
		w = &windowState{start: start, endpoints: make(map[string]struct{})}
		a.windows[key] = w
	}
	w.requestCount++
	w.endpoints[ev.Resource] = struct{}{}
	if ev.AuthFailure() {
		w.authFailures++
	}

	if ev.Timestamp.After(a.watermark) {
		a.watermark = ev.Timestamp
	}
	if a.watermark.Sub(a.lastSweep) >= a.windowSize {
		a.sweepLocked()
		a.lastSweep = a.watermark
	}

	return model.WindowFeatures{
		WindowStart:      w.start,
		WindowSec:        int(a.windowSize.Seconds()),
		RequestCount:     w.requestCount,
		DistinctEndpoint: len(w.endpoints),
		AuthFailures:     w.authFailures,
	}
}

// sweepLocked drops windows whose start fell behind the retention horizon.
func (a *Aggregator) sweepLocked() {
	horizon := a.watermark.Add(-a.retention)
	for key, w := range a.windows {
		if w.start.Before(horizon) {
			delete(a.windows, key)
		}
	}
}

// Len reports the number of live windows.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows)
}

// Reset discards all window state. Windows are always recomputed from raw
// events, never restored, so dropping partial state is safe.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windows = make(map[WindowKey]*windowState)
	a.watermark = time.Time{}
	a.lastSweep = time.Time{}
}
