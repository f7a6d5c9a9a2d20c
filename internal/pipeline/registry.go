package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrStageAlreadyRegistered is returned when registering a duplicate stage.
	ErrStageAlreadyRegistered = errors.New("stage already registered")

	// ErrStageNotFound is returned when a stage dependency is not found.
	ErrStageNotFound = errors.New("stage not found")

	// ErrDependencyCycle is returned when stage dependencies form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle detected")
)

// Registry holds the stages and orders them by dependency so workers
// register upstream handlers first.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
	order  []string // registration order
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// Register adds a stage. Names are unique.
func (r *Registry) Register(s Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.stages[name]; exists {
		return fmt.Errorf("%w: %s", ErrStageAlreadyRegistered, name)
	}
	r.stages[name] = s
	r.order = append(r.order, name)
	return nil
}

// Get returns a stage by name.
func (r *Registry) Get(name string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	return s, ok
}

// Infos describes every stage in dependency order.
func (r *Registry) Infos() ([]StageInfo, error) {
	ordered, err := r.Ordered()
	if err != nil {
		return nil, err
	}
	out := make([]StageInfo, len(ordered))
	for i, s := range ordered {
		out[i] = describe(s)
	}
	return out, nil
}

// Ordered returns stages with every dependency ahead of its dependents.
// Ties keep registration order. Unknown dependencies and cycles are errors.
func (r *Registry) Ordered() ([]Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := make(map[string]int, len(r.order))
	for _, name := range r.order {
		for _, dep := range r.stages[name].Dependencies() {
			if _, ok := r.stages[dep]; !ok {
				return nil, fmt.Errorf("%w: stage %q depends on %q", ErrStageNotFound, name, dep)
			}
			pending[name]++
		}
	}

	done := make(map[string]bool, len(r.order))
	out := make([]Stage, 0, len(r.order))
	for len(out) < len(r.order) {
		progressed := false
		for _, name := range r.order {
			if done[name] || pending[name] > 0 {
				continue
			}
			done[name] = true
			progressed = true
			out = append(out, r.stages[name])
			for _, other := range r.order {
				for _, dep := range r.stages[other].Dependencies() {
					if dep == name {
						pending[other]--
					}
				}
			}
		}
		if !progressed {
			return nil, ErrDependencyCycle
		}
	}
	return out, nil
}
