package loopguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObserveBelowThreshold(t *testing.T) {
	g := New(time.Minute, 3)

	assert.False(t, g.Observe("s1"))
	assert.False(t, g.Observe("s1"))
}

func TestObserveAtThreshold(t *testing.T) {
	g := New(time.Minute, 3)

	g.Observe("s1")
	g.Observe("s1")
	assert.True(t, g.Observe("s1"), "third invocation within the window trips the guard")
}

func TestSessionsAreIndependent(t *testing.T) {
	g := New(time.Minute, 3)

	g.Observe("s1")
	g.Observe("s1")
	assert.False(t, g.Observe("s2"))
}

func TestWindowSlides(t *testing.T) {
	g := New(time.Minute, 3)
	clock := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }

	g.Observe("s1")
	g.Observe("s1")

	// Old hits age out; a third call 61s later is not a loop.
	clock = clock.Add(61 * time.Second)
	assert.False(t, g.Observe("s1"))

	// But two more inside the new window are.
	clock = clock.Add(time.Second)
	g.Observe("s1")
	clock = clock.Add(time.Second)
	assert.True(t, g.Observe("s1"))
}

func TestReset(t *testing.T) {
	g := New(time.Minute, 3)

	g.Observe("s1")
	g.Observe("s1")
	g.Reset("s1")
	assert.False(t, g.Observe("s1"))

	g.Observe("s2")
	g.Observe("s2")
	g.ResetAll()
	assert.False(t, g.Observe("s2"))
}

func TestDefaults(t *testing.T) {
	g := New(0, 0)
	assert.Equal(t, DefaultWindow, g.window)
	assert.Equal(t, DefaultThreshold, g.threshold)
}
