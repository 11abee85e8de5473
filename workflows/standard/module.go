// Package standard registers the default train and evaluate workflow.
package standard

import (
	"github.com/vk/pagirun/internal/registry"
	"github.com/vk/pagirun/internal/workflow"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the workflow under workflow.Name.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterWorkflow(workflow.Name, &registry.RegisteredWorkflow{
		New:      workflow.New,
		Defaults: workflow.DefaultOptions,
	})
}
