package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/dataset"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/workflow"
)

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// RegisteredComponent holds a component constructor and its declared
// hyperparameter defaults.
type RegisteredComponent struct {
	New      component.Constructor
	Defaults func() *options.OptionSet
}

// RegisteredWorkflow holds a workflow constructor and its declared option
// defaults.
type RegisteredWorkflow struct {
	New      workflow.Constructor
	Defaults func() *options.OptionSet
}

// Registry holds everything registered for a single application instance.
type Registry struct {
	Components map[string]*RegisteredComponent
	Datasets   map[string]dataset.Constructor
	Workflows  map[string]*RegisteredWorkflow
	// CodeOverrides is the code-level override table, keyed by component or
	// workflow name.
	CodeOverrides map[string]options.Mapping
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		Components:    make(map[string]*RegisteredComponent),
		Datasets:      make(map[string]dataset.Constructor),
		Workflows:     make(map[string]*RegisteredWorkflow),
		CodeOverrides: make(map[string]options.Mapping),
	}
}

// RegisterComponent registers a component under name.
func (r *Registry) RegisterComponent(name string, c *RegisteredComponent) {
	if _, exists := r.Components[name]; exists {
		panic(fmt.Sprintf("component with name '%s' already registered", name))
	}
	if c == nil || c.New == nil || c.Defaults == nil {
		panic(fmt.Sprintf("component '%s' needs both a constructor and defaults", name))
	}
	slog.Debug("Registering component.", "name", name)
	r.Components[name] = c
}

// RegisterDataset registers a dataset constructor under name.
func (r *Registry) RegisterDataset(name string, c dataset.Constructor) {
	if _, exists := r.Datasets[name]; exists {
		panic(fmt.Sprintf("dataset with name '%s' already registered", name))
	}
	slog.Debug("Registering dataset.", "name", name)
	r.Datasets[name] = c
}

// RegisterWorkflow registers a workflow under name.
func (r *Registry) RegisterWorkflow(name string, w *RegisteredWorkflow) {
	if _, exists := r.Workflows[name]; exists {
		panic(fmt.Sprintf("workflow with name '%s' already registered", name))
	}
	if w == nil || w.New == nil || w.Defaults == nil {
		panic(fmt.Sprintf("workflow '%s' needs both a constructor and defaults", name))
	}
	slog.Debug("Registering workflow.", "name", name)
	r.Workflows[name] = w
}

// RegisterCodeOverrides sets the code-level overrides for a component or
// workflow name. The table is applied on top of the declared defaults.
func (r *Registry) RegisterCodeOverrides(name string, m options.Mapping) {
	if _, exists := r.CodeOverrides[name]; exists {
		panic(fmt.Sprintf("code overrides for '%s' already registered", name))
	}
	slog.Debug("Registering code overrides.", "name", name, "keys", m.Keys())
	r.CodeOverrides[name] = m.Clone()
}

// Component looks up a registered component.
func (r *Registry) Component(name string) (*RegisteredComponent, error) {
	c, ok := r.Components[name]
	if !ok {
		return nil, fmt.Errorf("unknown component %q (registered: %v)", name, sortedKeys(r.Components))
	}
	return c, nil
}

// Dataset looks up a registered dataset.
func (r *Registry) Dataset(name string) (dataset.Constructor, error) {
	c, ok := r.Datasets[name]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (registered: %v)", name, sortedKeys(r.Datasets))
	}
	return c, nil
}

// Workflow looks up a registered workflow.
func (r *Registry) Workflow(name string) (*RegisteredWorkflow, error) {
	w, ok := r.Workflows[name]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q (registered: %v)", name, sortedKeys(r.Workflows))
	}
	return w, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
