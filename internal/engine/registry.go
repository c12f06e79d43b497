package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petrijr/dalma/pkg/api"
)

type programRegistry struct {
	mu     sync.RWMutex
	byName map[string]api.ProgramDefinition
}

func newProgramRegistry() *programRegistry {
	return &programRegistry{
		byName: make(map[string]api.ProgramDefinition),
	}
}

func (r *programRegistry) Register(def api.ProgramDefinition) error {
	if def.Name == "" {
		return errors.New("program name is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("program %q must have at least one step", def.Name)
	}
	seen := make(map[string]bool, len(def.Steps))
	for i, s := range def.Steps {
		if s.Fn == nil {
			return fmt.Errorf("program %q step %d has no function", def.Name, i)
		}
		if s.Name != "" && seen[s.Name] {
			return fmt.Errorf("program %q has duplicate step %q", def.Name, s.Name)
		}
		seen[s.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("program %q already registered", def.Name)
	}
	r.byName[def.Name] = def
	return nil
}

func (r *programRegistry) Get(name string) (api.ProgramDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byName[name]
	if !ok {
		return api.ProgramDefinition{}, fmt.Errorf("%w: %q", api.ErrUnknownProgram, name)
	}
	return def, nil
}
