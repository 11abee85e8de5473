// Package autoencoder provides a single layer sparse autoencoder component.
//
// The encoder is a rectified linear layer whose activations are reduced to
// the k largest per sample. The decoder maps the sparse code back to the
// input space, either with its own weights or with the transposed encoder
// weights. Training minimises the mean squared reconstruction error with
// plain gradient descent.
package autoencoder

import (
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/registry"
)

// Name is the registry name of the component.
const Name = "sparse_autoencoder"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the component with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterComponent(Name, &registry.RegisteredComponent{
		New:      func(p component.Params) (component.Component, error) { return New(p) },
		Defaults: DefaultHyperparameters,
	})
}

// HParams are the decoded hyperparameters.
type HParams struct {
	LearningRate float64 `opt:"learning_rate"`
	Filters      int     `opt:"filters"`
	Sparsity     int     `opt:"sparsity"`
	BatchSize    int     `opt:"batch_size"`
	InitStddev   float64 `opt:"init_stddev"`
	TiedWeights  bool    `opt:"tied_weights"`
}

// DefaultHyperparameters returns the declared defaults.
func DefaultHyperparameters() *options.OptionSet {
	return options.New(
		options.Float("learning_rate", 0.005),
		options.Int("filters", 16),
		options.Int("sparsity", 4),
		options.Int("batch_size", 32),
		options.Float("init_stddev", 0.1),
		options.Bool("tied_weights", false),
	)
}
