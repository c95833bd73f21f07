package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights a new ETA sample against the previous estimate.
const etaSmoothing = 0.3

// ProgressTracker holds the state shown by the TUI. Safe for concurrent use.
type ProgressTracker struct {
	mu          sync.Mutex
	stage       Stage
	current     int
	total       int
	currentFile string
	started     time.Time
	stageStart  time.Time
	lastETA     time.Duration
	errors      int
	warnings    int
	now         func() time.Time
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64 // 0..1
	ETA         time.Duration
	CurrentFile string
	Errors      int
	Warnings    int
}

// NewProgressTracker starts tracking in StageScanning.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{stage: StageScanning, started: t, stageStart: t, now: now}
}

// Apply records an event, resetting counters when the stage changes.
func (p *ProgressTracker) Apply(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage != p.stage {
		p.stage = event.Stage
		p.stageStart = p.now()
		p.lastETA = 0
		p.currentFile = ""
	}
	p.current = event.Current
	p.total = event.Total
	if event.CurrentFile != "" {
		p.currentFile = event.CurrentFile
	}
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Elapsed returns the time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(p.started)
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.progress(),
		ETA:         p.eta(),
		CurrentFile: p.currentFile,
		Errors:      p.errors,
		Warnings:    p.warnings,
	}
}

func (p *ProgressTracker) progress() float64 {
	if p.total <= 0 {
		return 0
	}
	f := float64(p.current) / float64(p.total)
	if f > 1 {
		return 1
	}
	return f
}

// eta extrapolates the stage rate, smoothed against the previous estimate
// so uneven embedding batches do not make it jump. Must hold the lock.
func (p *ProgressTracker) eta() time.Duration {
	f := p.progress()
	if f <= 0 || f >= 1 {
		return 0
	}
	elapsed := p.now().Sub(p.stageStart)
	raw := time.Duration(float64(elapsed)/f) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
