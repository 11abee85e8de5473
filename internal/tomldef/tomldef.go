// Package tomldef loads experiment definitions written in TOML. Each
// top-level key of the definition is a table:
//
//	[export-options]
//	interval_batches = 2
package tomldef

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/vk/pagirun/internal/config"
	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/options"
)

type file struct {
	Experiment map[string]any `toml:"experiment-options"`
	Export     map[string]any `toml:"export-options"`
	Workflow   map[string]any `toml:"workflow-options"`
	Classifier map[string]any `toml:"classifier-options"`
	Checkpoint map[string]any `toml:"checkpoint-options"`
	Component  map[string]any `toml:"component-options"`
}

// Loader is the TOML implementation of config.Loader.
type Loader struct{}

var _ config.Loader = Loader{}

// Load decodes the definition at path. Unknown top-level tables are
// rejected; tables nested inside a block are option values.
func (Loader) Load(ctx context.Context, path string) (*config.Definition, error) {
	var f file
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, &config.ConfigurationError{Target: path, Err: fmt.Errorf("decode toml definition failed: %w", err)}
	}
	var unknown []string
	for _, key := range meta.Undecoded() {
		if len(key) == 1 {
			unknown = append(unknown, key.String())
		}
	}
	if len(unknown) > 0 {
		return nil, &config.ConfigurationError{Target: path, Err: fmt.Errorf("unknown keys in definition: %v", unknown)}
	}

	blocks := make(map[string]options.Mapping)
	for key, raw := range map[string]map[string]any{
		config.KeyExperimentOptions: f.Experiment,
		config.KeyExportOptions:     f.Export,
		config.KeyWorkflowOptions:   f.Workflow,
		config.KeyClassifierOptions: f.Classifier,
		config.KeyCheckpointOptions: f.Checkpoint,
		config.KeyComponentOptions:  f.Component,
	} {
		if raw == nil {
			continue
		}
		m, err := options.MappingFromGo(raw)
		if err != nil {
			return nil, &config.ConfigurationError{Target: path, Err: fmt.Errorf("%s: %w", key, err)}
		}
		blocks[key] = m
	}

	ctxlog.FromContext(ctx).Debug("TOML experiment definition loaded.", "path", path, "blocks", len(blocks))
	return config.NewDefinition(path, blocks)
}
