// Package steps holds the fixed, ordered catalog of framework steps.
package steps

import (
	"errors"
	"fmt"

	"ventureline/internal/config"
	"ventureline/internal/domain"
)

var ErrUnknownStep = errors.New("unknown step")

// Registry is an immutable ordered list of step definitions. Ordinals are
// contiguous from 0 and keys are unique.
type Registry struct {
	defs  []domain.StepDefinition
	index map[string]int
}

// New builds a registry from definitions in order; Ordinal fields are assigned
// from position.
func New(defs []domain.StepDefinition) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(defs))}
	for i, d := range defs {
		if d.Key == "" {
			return nil, fmt.Errorf("step %d has empty key", i)
		}
		if _, dup := r.index[d.Key]; dup {
			return nil, fmt.Errorf("duplicate step key %s", d.Key)
		}
		d.Ordinal = i
		d.RequiredInputs = append([]string(nil), d.RequiredInputs...)
		r.index[d.Key] = i
		r.defs = append(r.defs, d)
	}
	return r, nil
}

// FromConfig builds the registry from the steps catalog of cfg.
func FromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	defs := make([]domain.StepDefinition, 0, len(cfg.Steps.Catalog))
	for _, s := range cfg.Steps.Catalog {
		defs = append(defs, domain.StepDefinition{Key: s.Key, Title: s.Title, RequiredInputs: s.RequiredInputs})
	}
	return New(defs)
}

// All returns a copy of the ordered definitions.
func (r *Registry) All() []domain.StepDefinition {
	out := make([]domain.StepDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

func (r *Registry) Len() int { return len(r.defs) }

func (r *Registry) Get(key string) (domain.StepDefinition, bool) {
	i, ok := r.index[key]
	if !ok {
		return domain.StepDefinition{}, false
	}
	return r.defs[i], true
}

// At returns the definition at ordinal i.
func (r *Registry) At(i int) (domain.StepDefinition, bool) {
	if i < 0 || i >= len(r.defs) {
		return domain.StepDefinition{}, false
	}
	return r.defs[i], true
}

func (r *Registry) Next(key string) (domain.StepDefinition, bool) {
	i, ok := r.index[key]
	if !ok {
		return domain.StepDefinition{}, false
	}
	return r.At(i + 1)
}

func (r *Registry) Previous(key string) (domain.StepDefinition, bool) {
	i, ok := r.index[key]
	if !ok {
		return domain.StepDefinition{}, false
	}
	return r.At(i - 1)
}

// MissingInputs lists the required fields of def that are absent or blank in inputs.
func MissingInputs(def domain.StepDefinition, inputs map[string]any) []string {
	var missing []string
	for _, f := range def.RequiredInputs {
		if isBlank(inputs[f]) {
			missing = append(missing, f)
		}
	}
	return missing
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		for _, c := range t {
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
				return false
			}
		}
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
