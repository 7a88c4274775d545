package workflow

import "sync/atomic"

// ProgressFunc receives progress messages from a running workflow.
type ProgressFunc func(msg string)

// Run is one execution instance of the workflow: it owns the per-run store,
// the fan-in collector, and the review cycle counter. A Run is created per
// research session and discarded when the run terminates.
type Run struct {
	ID        string
	Store     *Store
	Answers   *Collector
	MaxCycles int

	cycles   int32
	progress ProgressFunc
}

// NewRun creates a run with its own store and collector. A nil progress
// function discards progress messages.
func NewRun(id string, maxCycles int, progress ProgressFunc) *Run {
	if progress == nil {
		progress = func(string) {}
	}
	return &Run{
		ID:        id,
		Store:     NewStore(),
		Answers:   &Collector{},
		MaxCycles: maxCycles,
		progress:  progress,
	}
}

// Progress pushes a message to the run's progress sink immediately. Steps use
// it for messages that must be visible before a slow agent call returns;
// emitted ProgressEvents reach the same sink via the engine.
func (r *Run) Progress(msg string) {
	r.progress(msg)
}

// Cycles returns the number of completed review cycles.
func (r *Run) Cycles() int {
	return int(atomic.LoadInt32(&r.cycles))
}

// IncrementCycles bumps the review cycle counter and returns the new value.
func (r *Run) IncrementCycles() int {
	return int(atomic.AddInt32(&r.cycles, 1))
}
