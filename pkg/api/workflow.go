package api

import (
	"context"
	"encoding/gob"
	"fmt"
	"time"
)

func init() {
	gob.Register(&Sequence{})
}

// StepFunc is one yield-delimited segment of a program. Returning a
// Condition suspends the fiber after the step; the next step then runs
// once the condition activates, with the value available from
// Scope.Value.
type StepFunc func(ctx context.Context, sc *Scope) (Condition, error)

// StepDefinition describes a named step.
type StepDefinition struct {
	Name  string
	Fn    StepFunc
	Retry *RetryPolicy
}

// ProgramDefinition is a named sequence of steps. Programs live in the
// engine's registry, not in the store: only the program name, the
// position and the variables of a running Sequence are persisted.
type ProgramDefinition struct {
	Name  string
	Steps []StepDefinition
}

// index returns the position of the named step, or -1.
func (d ProgramDefinition) index(name string) int {
	for i, s := range d.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// RetryPolicy controls how a step is retried when it returns an error.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry; it grows by
// BackoffMultiplier (default 2.0) and is capped by MaxBackoff when set.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// Sequence is a Routine that runs the steps of a registered program in
// order. Vars holds the step-local state that survives suspension; its
// values must be gob-encodable.
type Sequence struct {
	Program string
	PC      int
	Vars    map[string]any
}

// Run is a shorthand for a Sequence starting at the first step.
func Run(program string, vars map[string]any) *Sequence {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Sequence{Program: program, Vars: vars}
}

// Run implements Routine.
func (s *Sequence) Run(ctx context.Context, f Fiber) (Condition, error) {
	def, err := f.Engine().Program(s.Program)
	if err != nil {
		return nil, err
	}
	if s.Vars == nil {
		s.Vars = make(map[string]any)
	}

	sc := &Scope{fiber: f, seq: s, def: def}
	for s.PC < len(def.Steps) {
		step := def.Steps[s.PC]
		sc.next = s.PC + 1

		cond, err := runStep(ctx, step, sc)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}
		s.PC = sc.next
		if cond != nil {
			return cond, nil
		}
	}
	return nil, nil
}

func runStep(ctx context.Context, step StepDefinition, sc *Scope) (Condition, error) {
	maxAttempts := 1
	var (
		backoff    time.Duration
		maxBackoff time.Duration
		multiplier float64
	)
	if step.Retry != nil {
		if step.Retry.MaxAttempts > 0 {
			maxAttempts = step.Retry.MaxAttempts
		}
		backoff = step.Retry.InitialBackoff
		maxBackoff = step.Retry.MaxBackoff
		multiplier = step.Retry.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cond, err := step.Fn(ctx, sc)
		if err == nil {
			return cond, nil
		}
		lastErr = err
		if attempt == maxAttempts || backoff <= 0 {
			continue
		}

		delay := backoff
		if maxBackoff > 0 && delay > maxBackoff {
			delay = maxBackoff
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		next := time.Duration(float64(backoff) * multiplier)
		if maxBackoff > 0 && next > maxBackoff {
			next = maxBackoff
		}
		backoff = next
	}
	return nil, lastErr
}

// Scope is what a step sees of its Sequence.
type Scope struct {
	fiber Fiber
	seq   *Sequence
	def   ProgramDefinition
	next  int
}

// Fiber returns the executing fiber.
func (sc *Scope) Fiber() Fiber { return sc.fiber }

// Value returns the activation value the fiber was last woken with.
func (sc *Scope) Value() any { return sc.fiber.Value() }

// Get returns a persisted variable.
func (sc *Scope) Get(name string) any { return sc.seq.Vars[name] }

// Set stores a persisted variable.
func (sc *Scope) Set(name string, v any) { sc.seq.Vars[name] = v }

// Goto makes the named step run next instead of the following one.
func (sc *Scope) Goto(name string) error {
	i := sc.def.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %q in program %q", ErrUnknownStep, name, sc.def.Name)
	}
	sc.next = i
	return nil
}
