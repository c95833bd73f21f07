package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestProgressTracker_Apply(t *testing.T) {
	// Given: a fresh tracker
	p := NewProgressTracker()
	assert.Equal(t, StageScanning, p.Stats().Stage)

	// When: indexing progresses
	p.Apply(ProgressEvent{Stage: StageIndexing, Current: 5, Total: 20, CurrentFile: "a.md"})

	// Then: the snapshot follows
	s := p.Stats()
	assert.Equal(t, StageIndexing, s.Stage)
	assert.Equal(t, 5, s.Current)
	assert.Equal(t, 20, s.Total)
	assert.InDelta(t, 0.25, s.Progress, 1e-9)
	assert.Equal(t, "a.md", s.CurrentFile)

	// An event without a file keeps the last one.
	p.Apply(ProgressEvent{Stage: StageIndexing, Current: 6, Total: 20})
	assert.Equal(t, "a.md", p.Stats().CurrentFile)

	// A new stage clears it.
	p.Apply(ProgressEvent{Stage: StageRemoving, Current: 1, Total: 1})
	assert.Empty(t, p.Stats().CurrentFile)
}

func TestProgressTracker_ProgressBounds(t *testing.T) {
	p := NewProgressTracker()
	assert.Zero(t, p.Stats().Progress, "unknown total")

	p.Apply(ProgressEvent{Stage: StageIndexing, Current: 30, Total: 20})
	assert.Equal(t, 1.0, p.Stats().Progress)
}

func TestProgressTracker_ETA(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := newProgressTracker(clock.now)

	// Given: a stage that finished a quarter of its work in 10s
	p.Apply(ProgressEvent{Stage: StageIndexing, Current: 0, Total: 100})
	clock.advance(10 * time.Second)
	p.Apply(ProgressEvent{Stage: StageIndexing, Current: 25, Total: 100})

	// Then: the first estimate is a straight extrapolation
	assert.Equal(t, 30*time.Second, p.Stats().ETA)

	// When: the rate doubles
	clock.advance(5 * time.Second)
	p.Apply(ProgressEvent{Stage: StageIndexing, Current: 75, Total: 100})

	// Then: the raw 5s estimate is smoothed against the previous 30s
	want := 0.3*float64(5*time.Second) + 0.7*float64(30*time.Second)
	assert.InDelta(t, want, float64(p.Stats().ETA), float64(time.Millisecond))

	// Done means no ETA.
	p.Apply(ProgressEvent{Stage: StageIndexing, Current: 100, Total: 100})
	assert.Zero(t, p.Stats().ETA)
	assert.Equal(t, 15*time.Second, p.Elapsed())
}

func TestProgressTracker_Errors(t *testing.T) {
	p := NewProgressTracker()

	p.AddError(ErrorEvent{File: "a.md"})
	p.AddError(ErrorEvent{File: "b.md"})
	p.AddError(ErrorEvent{File: "c.md", IsWarn: true})

	s := p.Stats()
	assert.Equal(t, 2, s.Errors)
	assert.Equal(t, 1, s.Warnings)
}
