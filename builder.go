package dalma

import (
	"fmt"

	"github.com/petrijr/dalma/pkg/api"
)

// ProgramBuilder provides a fluent API for defining programs:
//
//	greet := dalma.NewProgram("greet").
//	    Step("ask", askName).
//	    Step("wait", dalma.Receive("name")).
//	    Step("answer", answer)
//
//	if err := greet.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
//	conv, err := engine.Start(ctx, greet.Start(nil))
type ProgramBuilder struct {
	def api.ProgramDefinition
}

// NewProgram creates a new program builder with the given name.
func NewProgram(name string) *ProgramBuilder {
	return &ProgramBuilder{
		def: api.ProgramDefinition{
			Name:  name,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// Name returns the program name.
func (b *ProgramBuilder) Name() string {
	return b.def.Name
}

// Definition returns the underlying ProgramDefinition.
func (b *ProgramBuilder) Definition() ProgramDefinition {
	return b.def
}

// Step appends a step to the program.
func (b *ProgramBuilder) Step(name string, fn StepFunc) *ProgramBuilder {
	return b.add(name, fn, nil)
}

// StepWithRetry appends a step that uses the given retry policy.
func (b *ProgramBuilder) StepWithRetry(name string, fn StepFunc, retry RetryPolicy) *ProgramBuilder {
	// Copy so callers can mutate their RetryPolicy after the call.
	r := retry
	return b.add(name, fn, &r)
}

func (b *ProgramBuilder) add(name string, fn StepFunc, retry *RetryPolicy) *ProgramBuilder {
	if name == "" {
		panic("dalma: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("dalma: step %q has nil function", name))
	}
	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Retry: retry,
	})
	return b
}

// Register registers the built program with the given engine.
func (b *ProgramBuilder) Register(eng Engine) error {
	return eng.RegisterProgram(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *ProgramBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}

// Start returns a Sequence routine that runs the program from its first
// step with the given variables.
func (b *ProgramBuilder) Start(vars map[string]any) *Sequence {
	return api.Run(b.def.Name, vars)
}
