package pipe

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/utils"
)

// ErrRecoverable marks task errors whose inputs and derived state are safe
// to reconstruct. Wrap with fmt.Errorf("...: %w", ErrRecoverable) to ask the
// supervisor for a restart instead of propagation.
var ErrRecoverable = errors.New("recoverable")

// Outcome classifies how a processing step ended.
type Outcome int

const (
	// OutcomeRecoverable means the step's inputs and derived state are safe
	// to reconstruct; the supervisor respawns it after backoff.
	OutcomeRecoverable Outcome = iota
	// OutcomeUnrecoverable means a safety invariant is at risk; the
	// supervisor propagates the error.
	OutcomeUnrecoverable
	// OutcomeClosed means the upstream drained and the step terminated
	// cleanly. Not an error.
	OutcomeClosed
)

// TaskResult is the single value a spawned step resolves to.
type TaskResult struct {
	// Step carries the (possibly updated) step value to respawn on
	// OutcomeRecoverable.
	Step ProcessStep
	// Outcome classifies the termination.
	Outcome Outcome
	// Err is set for recoverable and unrecoverable outcomes.
	Err error
	// WorthLogging marks unrecoverable errors the supervisor should log
	// before propagating.
	WorthLogging bool
}

// Handle resolves to exactly one TaskResult when the spawned step ends.
type Handle <-chan TaskResult

// ProcessStep is a restartable unit of pipeline work. Spawn launches the
// step's goroutine and returns its handle; the supervisor owns the factory
// relationship, the step holds no reference back.
type ProcessStep interface {
	// Name identifies the step in logs.
	Name() string
	// Spawn starts the step and returns a handle resolving to its result.
	Spawn(ctx context.Context) Handle
}

// restartBackoffMillis is the approximate delay between respawns; NoisySleep
// adds up to a second of jitter on top.
const restartBackoffMillis = 500

// SpawnWithRestart runs a step, respawning it on recoverable failures until
// the context is cancelled. Returns nil when the step closes cleanly, the
// error when it fails unrecoverably.
func SpawnWithRestart(ctx context.Context, step ProcessStep, logger *zap.Logger) error {
	for {
		result := <-step.Spawn(ctx)
		switch result.Outcome {
		case OutcomeClosed:
			logger.Sugar().Debugw("Step drained, shutting down", "step", step.Name())
			return nil
		case OutcomeRecoverable:
			logger.Sugar().Warnw("Step failed, restarting",
				"step", step.Name(), "error", result.Err)
			if err := utils.NoisySleep(ctx, restartBackoffMillis); err != nil {
				return nil // cancelled while backing off
			}
			step = result.Step
		case OutcomeUnrecoverable:
			if result.WorthLogging {
				logger.Sugar().Errorw("Step failed unrecoverably",
					"step", step.Name(), "error", result.Err)
			}
			return result.Err
		}
	}
}

// Func adapts a plain run function into a restartable step. A nil return
// is a clean close; errors wrapping ErrRecoverable restart; everything else
// propagates.
type Func struct {
	name string
	run  func(ctx context.Context) error
}

// NewFunc wraps run as a named step.
func NewFunc(name string, run func(ctx context.Context) error) *Func {
	return &Func{name: name, run: run}
}

// Name identifies the step in logs.
func (f *Func) Name() string {
	return f.name
}

// Spawn runs the function in its own goroutine.
func (f *Func) Spawn(ctx context.Context) Handle {
	out := make(chan TaskResult, 1)
	go func() {
		err := f.run(ctx)
		switch {
		case err == nil:
			out <- TaskResult{Step: f, Outcome: OutcomeClosed}
		case errors.Is(err, ErrRecoverable):
			out <- TaskResult{Step: f, Outcome: OutcomeRecoverable, Err: err}
		default:
			out <- TaskResult{Step: f, Outcome: OutcomeUnrecoverable, Err: err, WorthLogging: true}
		}
	}()
	return out
}

// Terminal drains its input and drops everything; the sink of every
// pipeline. Resolves OutcomeClosed when upstream closes.
type Terminal[T any] struct {
	rx <-chan T
}

// NewTerminal builds a terminal drain over rx.
func NewTerminal[T any](rx <-chan T) *Terminal[T] {
	return &Terminal[T]{rx: rx}
}

// Name identifies the step in logs.
func (t *Terminal[T]) Name() string {
	return "terminal"
}

// Spawn starts draining.
func (t *Terminal[T]) Spawn(ctx context.Context) Handle {
	out := make(chan TaskResult, 1)
	go func() {
		for {
			select {
			case _, ok := <-t.rx:
				if !ok {
					out <- TaskResult{Step: t, Outcome: OutcomeClosed}
					return
				}
			case <-ctx.Done():
				out <- TaskResult{Step: t, Outcome: OutcomeClosed}
				return
			}
		}
	}()
	return out
}
