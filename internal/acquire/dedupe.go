// Package acquire normalizes incoming tool events before they enter a
// session queue.
package acquire

import (
	"sync"
	"time"
)

// Deduper rejects tool events whose fingerprint was already seen within the
// configured window. Entries older than twice the window are evicted as new
// fingerprints arrive, keeping the map bounded without a sweeper goroutine.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewDeduper creates a deduper with the given duplicate window.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Window returns the configured duplicate window.
func (d *Deduper) Window() time.Duration {
	return d.window
}

// Observe records a fingerprint and reports whether the event should be
// accepted. A fingerprint seen within the window is a duplicate; one seen
// earlier, or never, is accepted and its timestamp refreshed.
func (d *Deduper) Observe(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.evict(now)

	if last, ok := d.seen[fingerprint]; ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[fingerprint] = now
	return true
}

// Len returns the number of tracked fingerprints.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) evict(now time.Time) {
	cutoff := now.Add(-2 * d.window)
	for fp, seen := range d.seen {
		if seen.Before(cutoff) {
			delete(d.seen, fp)
		}
	}
}
