package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrStalled is returned when no step has any work left but no StopEvent was
// emitted. It indicates a mis-wired step graph, not a runtime failure of a
// correctly registered workflow.
var ErrStalled = errors.New("workflow stalled: no pending steps and no terminal event")

// Step is a named unit of orchestration logic. It declares the event variants
// it accepts and may emit zero, one, or multiple successor events. Returning
// zero events signals "not ready yet" (used while the fan-in collector waits).
type Step interface {
	Name() string
	Accepts() []EventType
	Handle(ctx context.Context, run *Run, ev Event) ([]Event, error)
}

type dispatchResult struct {
	step   string
	events []Event
	err    error
}

// Engine routes events to registered steps. The dispatch table maps variant
// tag to handler list and is resolved at registration time; steps accepting
// the same event run concurrently for the same run.
type Engine struct {
	logger *zap.Logger
	steps  map[EventType][]Step
}

// NewEngine creates an engine with an empty dispatch table.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger: logger,
		steps:  make(map[EventType][]Step),
	}
}

// Register adds steps to the dispatch table.
func (e *Engine) Register(steps ...Step) {
	for _, st := range steps {
		for _, t := range st.Accepts() {
			e.steps[t] = append(e.steps[t], st)
		}
	}
}

// Execute runs the workflow for run, seeded with start, until a StopEvent is
// emitted. It returns the StopEvent result. The run-scoped deadline and
// cancellation come in through ctx; on expiry or cancellation in-flight step
// work is abandoned and the context error is returned.
//
// A step's successive emissions are delivered in emission order; no global
// ordering is guaranteed across concurrently running steps. Events emitted
// after termination are discarded.
func (e *Engine) Execute(ctx context.Context, run *Run, start Event) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan dispatchResult)
	queue := []Event{start}
	inflight := 0

	for {
		// Dispatch everything queued before blocking on results.
		for _, ev := range queue {
			if ev.Type() == EventProgress {
				if p, ok := ev.(ProgressEvent); ok {
					run.progress(p.Message)
				}
			}
			for _, st := range e.steps[ev.Type()] {
				inflight++
				go e.dispatch(ctx, run, st, ev, results)
			}
		}
		queue = queue[:0]

		if inflight == 0 {
			return "", ErrStalled
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res := <-results:
			inflight--
			if res.err != nil {
				return "", fmt.Errorf("step %s: %w", res.step, res.err)
			}
			for _, out := range res.events {
				if stop, ok := out.(StopEvent); ok {
					// Terminal: everything still in flight or queued is dropped.
					e.logger.Debug("Run terminated",
						zap.String("run_id", run.ID),
						zap.String("step", res.step),
					)
					return stop.Result, nil
				}
				queue = append(queue, out)
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, run *Run, st Step, ev Event, results chan<- dispatchResult) {
	out, err := st.Handle(ctx, run, ev)
	select {
	case results <- dispatchResult{step: st.Name(), events: out, err: err}:
	case <-ctx.Done():
		// Run already terminated; late emissions are dropped silently.
	}
}
