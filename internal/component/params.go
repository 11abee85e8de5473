package component

import (
	"math/rand/v2"

	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/session"
)

// CheckpointOptions selects the checkpoint to restore from and which scopes
// are restored and frozen. Empty strings mean "none".
type CheckpointOptions struct {
	Path        string `opt:"checkpoint_path"`
	LoadScope   string `opt:"checkpoint_load_scope"`
	FrozenScope string `opt:"checkpoint_frozen_scope"`
}

// Params is everything a component constructor receives.
type Params struct {
	// Graph is the scoped graph view the component declares its
	// computations on.
	Graph *session.Graph
	// Input is the placeholder fed with the input batch.
	Input session.Handle
	// InputShape is the shape of one input sample.
	InputShape []int
	// HParams are the resolved hyperparameters.
	HParams *options.OptionSet
	// Checkpoint are the resolved checkpoint options.
	Checkpoint CheckpointOptions
	// Rand is the run's seeded random source.
	Rand *rand.Rand
}

// InputSize returns the number of values in one input sample.
func (p Params) InputSize() int {
	n := 1
	for _, d := range p.InputShape {
		n *= d
	}
	return n
}

// Constructor builds a component.
type Constructor func(p Params) (Component, error)
