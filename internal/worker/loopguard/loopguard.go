// Package loopguard detects runaway summarize loops.
package loopguard

import (
	"sync"
	"time"
)

// Default tuning: three invocations inside a minute means something is
// re-triggering summarization mechanically, not a human finishing turns.
const (
	DefaultWindow    = 60 * time.Second
	DefaultThreshold = 3
)

// Guard tracks invocation timestamps per content session in a sliding
// window. In-memory only; restarting the worker resets it.
type Guard struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	hits      map[string][]time.Time

	now func() time.Time
}

// New creates a guard. Non-positive arguments fall back to the defaults.
func New(window time.Duration, threshold int) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Guard{
		window:    window,
		threshold: threshold,
		hits:      make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Observe records one invocation for the content session and reports
// whether it crossed the loop threshold. The triggering invocation itself
// counts, so the threshold-th call within the window reports true.
func (g *Guard) Observe(contentSessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.window)

	recent := g.hits[contentSessionID][:0]
	for _, t := range g.hits[contentSessionID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	g.hits[contentSessionID] = recent

	return len(recent) >= g.threshold
}

// Reset clears the window for one content session.
func (g *Guard) Reset(contentSessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.hits, contentSessionID)
}

// ResetAll clears every tracked session.
func (g *Guard) ResetAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hits = make(map[string][]time.Time)
}
