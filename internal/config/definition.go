package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/pagirun/internal/options"
)

// Top-level keys of an experiment definition.
const (
	KeyExperimentOptions = "experiment-options"
	KeyExportOptions     = "export-options"
	KeyWorkflowOptions   = "workflow-options"
	KeyClassifierOptions = "classifier-options"
	KeyCheckpointOptions = "checkpoint-options"
	KeyComponentOptions  = "component-options"
)

// DefinitionKeys lists every accepted top-level key.
var DefinitionKeys = []string{
	KeyExperimentOptions,
	KeyExportOptions,
	KeyWorkflowOptions,
	KeyClassifierOptions,
	KeyCheckpointOptions,
	KeyComponentOptions,
}

// Definition is a parsed experiment definition file. Absent blocks are nil.
type Definition struct {
	Path              string
	ExperimentOptions options.Mapping
	ExportOptions     options.Mapping
	WorkflowOptions   options.Mapping
	ClassifierOptions options.Mapping
	CheckpointOptions options.Mapping
	ComponentOptions  options.Mapping
}

// NewDefinition builds a Definition from top-level blocks. Unknown keys are
// rejected.
func NewDefinition(path string, blocks map[string]options.Mapping) (*Definition, error) {
	d := &Definition{Path: path}
	var unknown []string
	for key, m := range blocks {
		switch key {
		case KeyExperimentOptions:
			d.ExperimentOptions = m
		case KeyExportOptions:
			d.ExportOptions = m
		case KeyWorkflowOptions:
			d.WorkflowOptions = m
		case KeyClassifierOptions:
			d.ClassifierOptions = m
		case KeyCheckpointOptions:
			d.CheckpointOptions = m
		case KeyComponentOptions:
			d.ComponentOptions = m
		default:
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ConfigurationError{
			Target: path,
			Err:    fmt.Errorf("unknown top-level keys %s (accepted: %s)", strings.Join(unknown, ", "), strings.Join(DefinitionKeys, ", ")),
		}
	}
	return d, nil
}

// Loader reads an experiment definition from a file.
type Loader interface {
	Load(ctx context.Context, path string) (*Definition, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, path string) (*Definition, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (*Definition, error) { return f(ctx, path) }

// ExtensionLoader dispatches to a Loader by file extension, e.g. ".toml".
type ExtensionLoader map[string]Loader

// Load implements Loader. A missing file or unsupported extension is a
// ConfigurationError.
func (l ExtensionLoader) Load(ctx context.Context, path string) (*Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ConfigurationError{Target: "experiment definition", Err: err}
	}
	if info.IsDir() {
		return nil, &ConfigurationError{Target: "experiment definition", Err: fmt.Errorf("%s is a directory", path)}
	}
	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := l[ext]
	if !ok {
		exts := make([]string, 0, len(l))
		for e := range l {
			exts = append(exts, e)
		}
		sort.Strings(exts)
		return nil, &ConfigurationError{
			Target: path,
			Err:    fmt.Errorf("unsupported file extension %q (supported: %s)", ext, strings.Join(exts, ", ")),
		}
	}
	d, err := loader.Load(ctx, path)
	if err != nil {
		if IsConfigurationError(err) {
			return nil, err
		}
		return nil, &ConfigurationError{Target: path, Err: err}
	}
	return d, nil
}
