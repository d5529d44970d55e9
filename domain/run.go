package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunPhase is the lifecycle state of a Run. IsTerminal distinguishes
// live states from the two terminal ones.
type RunPhase string

const (
	RunPending  RunPhase = "pending"
	RunRunning  RunPhase = "running"
	RunFinished RunPhase = "finished"
	RunFailed   RunPhase = "failed"
)

// IsTerminal reports whether the phase ends the run's lifecycle.
func (p RunPhase) IsTerminal() bool {
	return p == RunFinished || p == RunFailed
}

// Run tracks one run's progress. Counters are atomic so the HTTP
// surface can read a consistent snapshot without taking the same lock
// the orchestrator uses to serialize id assignment.
type Run struct {
	ID          string
	StartedAt   time.Time
	TotalTarget int32

	accepted  atomic.Int32
	attempted atomic.Int32
	costCents atomic.Int64 // cost tracked in integer micro-dollars to avoid float drift under concurrent adds

	mu          sync.RWMutex
	phase       RunPhase
	failReason  string
}

// NewRun creates a Run in the Pending phase.
func NewRun(id string, target int) *Run {
	return &Run{ID: id, TotalTarget: int32(target), phase: RunPending}
}

func (r *Run) Accepted() int  { return int(r.accepted.Load()) }
func (r *Run) Attempted() int { return int(r.attempted.Load()) }
func (r *Run) CostSoFar() float64 {
	return float64(r.costCents.Load()) / 1_000_000.0
}

// IncrAttempted bumps the attempted counter and returns the new value.
func (r *Run) IncrAttempted() int { return int(r.attempted.Add(1)) }

// IncrAccepted bumps the accepted counter and returns the new value.
func (r *Run) IncrAccepted() int { return int(r.accepted.Add(1)) }

// AddCost adds cost (in dollars) to the running total. Stored as
// micro-dollars internally (cost * 1e6) so concurrent adds via
// atomic.Int64 never lose precision the way concurrent float64 adds
// would.
func (r *Run) AddCost(cost float64) {
	r.costCents.Add(int64(cost * 1_000_000.0))
}

// Phase returns the current lifecycle phase.
func (r *Run) Phase() RunPhase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// FailReason returns the reason recorded by MarkFailed, if any.
func (r *Run) FailReason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failReason
}

// MarkRunning transitions Pending -> Running.
func (r *Run) MarkRunning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == RunPending {
		r.phase = RunRunning
		if r.StartedAt.IsZero() {
			r.StartedAt = time.Now()
		}
	}
}

// MarkFinished transitions to Finished if not already terminal.
func (r *Run) MarkFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase.IsTerminal() {
		return false
	}
	r.phase = RunFinished
	return true
}

// MarkFailed transitions to Failed{reason} if not already terminal.
func (r *Run) MarkFailed(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase.IsTerminal() {
		return false
	}
	r.phase = RunFailed
	r.failReason = reason
	return true
}
