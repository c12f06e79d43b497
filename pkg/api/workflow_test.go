package api

import (
	"context"
	"errors"
	"testing"
	"time"
)

// programEngine serves programs to a Sequence; everything else panics.
type programEngine struct {
	Engine
	defs map[string]ProgramDefinition
}

func (e *programEngine) Program(name string) (ProgramDefinition, error) {
	def, ok := e.defs[name]
	if !ok {
		return ProgramDefinition{}, ErrUnknownProgram
	}
	return def, nil
}

type stubFiber struct {
	Fiber
	eng   Engine
	value any
}

func (f *stubFiber) Engine() Engine { return f.eng }
func (f *stubFiber) Value() any     { return f.value }

func newStubFiber(defs ...ProgramDefinition) *stubFiber {
	m := make(map[string]ProgramDefinition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return &stubFiber{eng: &programEngine{defs: m}}
}

func record(name string) StepDefinition {
	return StepDefinition{Name: name, Fn: func(ctx context.Context, sc *Scope) (Condition, error) {
		trail, _ := sc.Get("trail").(string)
		sc.Set("trail", trail+name)
		return nil, nil
	}}
}

func TestSequence_RunsStepsUntilSuspend(t *testing.T) {
	wait := NewManual("wait")
	def := ProgramDefinition{Name: "p", Steps: []StepDefinition{
		record("a"),
		{Name: "suspend", Fn: func(ctx context.Context, sc *Scope) (Condition, error) {
			return wait, nil
		}},
		{Name: "read", Fn: func(ctx context.Context, sc *Scope) (Condition, error) {
			sc.Set("got", sc.Value())
			return nil, nil
		}},
		record("b"),
	}}
	f := newStubFiber(def)
	seq := Run("p", nil)

	cond, err := seq.Run(context.Background(), f)
	if err != nil {
		t.Fatalf("first segment: %v", err)
	}
	if cond != wait {
		t.Fatalf("expected the suspend condition, got %v", cond)
	}
	if seq.PC != 2 || seq.Vars["trail"] != "a" {
		t.Fatalf("pc=%d vars=%v", seq.PC, seq.Vars)
	}

	f.value = "woken"
	cond, err = seq.Run(context.Background(), f)
	if err != nil || cond != nil {
		t.Fatalf("second segment: cond=%v err=%v", cond, err)
	}
	if seq.Vars["got"] != "woken" || seq.Vars["trail"] != "ab" {
		t.Fatalf("vars=%v", seq.Vars)
	}
}

func TestSequence_Goto(t *testing.T) {
	def := ProgramDefinition{Name: "loop", Steps: []StepDefinition{
		record("x"),
		{Name: "again", Fn: func(ctx context.Context, sc *Scope) (Condition, error) {
			n, _ := sc.Get("n").(int)
			sc.Set("n", n+1)
			if n+1 < 3 {
				return nil, sc.Goto("x-step")
			}
			return nil, nil
		}},
	}}
	def.Steps[0].Name = "x-step"

	seq := Run("loop", nil)
	if _, err := seq.Run(context.Background(), newStubFiber(def)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seq.Vars["trail"] != "xxx" || seq.Vars["n"] != 3 {
		t.Fatalf("vars=%v", seq.Vars)
	}
}

func TestSequence_GotoUnknownStep(t *testing.T) {
	def := ProgramDefinition{Name: "bad", Steps: []StepDefinition{
		{Name: "jump", Fn: func(ctx context.Context, sc *Scope) (Condition, error) {
			return nil, sc.Goto("nowhere")
		}},
	}}
	_, err := Run("bad", nil).Run(context.Background(), newStubFiber(def))
	if !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
}

func TestSequence_UnknownProgram(t *testing.T) {
	_, err := Run("nope", nil).Run(context.Background(), newStubFiber())
	if !errors.Is(err, ErrUnknownProgram) {
		t.Fatalf("expected ErrUnknownProgram, got %v", err)
	}
}

func TestSequence_RetryPolicy(t *testing.T) {
	attempts := 0
	def := ProgramDefinition{Name: "flaky", Steps: []StepDefinition{{
		Name: "flaky",
		Fn: func(ctx context.Context, sc *Scope) (Condition, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient")
			}
			return nil, nil
		},
		Retry: &RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}}}

	if _, err := Run("flaky", nil).Run(context.Background(), newStubFiber(def)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts=%d, want 3", attempts)
	}
}

func TestSequence_RetryGivesUp(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	def := ProgramDefinition{Name: "broken", Steps: []StepDefinition{{
		Name: "broken",
		Fn: func(ctx context.Context, sc *Scope) (Condition, error) {
			attempts++
			return nil, boom
		},
		Retry: &RetryPolicy{MaxAttempts: 2},
	}}}

	seq := Run("broken", nil)
	_, err := seq.Run(context.Background(), newStubFiber(def))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if attempts != 2 || seq.PC != 0 {
		t.Fatalf("attempts=%d pc=%d", attempts, seq.PC)
	}
}

func TestSequence_RetryRespectsContext(t *testing.T) {
	def := ProgramDefinition{Name: "slow", Steps: []StepDefinition{{
		Name: "slow",
		Fn: func(ctx context.Context, sc *Scope) (Condition, error) {
			return nil, errors.New("again")
		},
		Retry: &RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second},
	}}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Run("slow", nil).Run(ctx, newStubFiber(def))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
