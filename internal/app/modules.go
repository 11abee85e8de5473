package app

import (
	"github.com/vk/pagirun/components/autoencoder"
	"github.com/vk/pagirun/components/kmeans"
	"github.com/vk/pagirun/datasets/mnist"
	"github.com/vk/pagirun/datasets/synthetic"
	"github.com/vk/pagirun/internal/registry"
	"github.com/vk/pagirun/workflows/standard"
)

// coreModules is the definitive list of all modules that are compiled into
// the pagirun binary.
var coreModules = []registry.Module{
	&synthetic.Module{},
	&mnist.Module{},
	&autoencoder.Module{},
	&kmeans.Module{},
	&standard.Module{},
}

// codeOverrides replaces declared defaults for every run of this binary,
// keyed by component or workflow name. Command-line, definition file and
// sweep overrides still win over it.
var codeOverrides = map[string]map[string]any{}
