package config

import (
	"context"
	"fmt"

	"github.com/vk/pagirun/internal/classifier"
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/scope"
	"github.com/zclconf/go-cty/cty"
)

// Names of the option sets produced by Resolve, used in errors and logs.
const (
	TargetHParams    = "hyperparameters"
	TargetWorkflow   = "workflow options"
	TargetExport     = "export options"
	TargetClassifier = "classifier options"
	TargetCheckpoint = "checkpoint options"
)

// Request is everything one resolution needs.
type Request struct {
	Component         string
	ComponentDefaults func() *options.OptionSet
	Workflow          string
	WorkflowDefaults  func() *options.OptionSet

	// Batches seeds the default export and classifier intervals.
	Batches    int
	Checkpoint component.CheckpointOptions

	// HParams and WorkflowOptions are the command-line or programmatic
	// overrides.
	HParams         options.Mapping
	WorkflowOptions options.Mapping

	// Definition is the parsed experiment definition, or nil.
	Definition *Definition

	HParamsSweep  options.Mapping
	WorkflowSweep options.Mapping
}

// Resolved holds the independent option sets of one run.
type Resolved struct {
	HParams    *options.OptionSet
	Workflow   *options.OptionSet
	Export     *options.OptionSet
	Classifier *options.OptionSet
	Checkpoint *options.OptionSet
	// Applied lists every override that changed a set, in application order.
	Applied []Applied
}

// CheckpointOptions decodes the resolved checkpoint set.
func (r *Resolved) CheckpointOptions() (component.CheckpointOptions, error) {
	var c component.CheckpointOptions
	if err := r.Checkpoint.Decode(&c); err != nil {
		return c, &ConfigurationError{Target: TargetCheckpoint, Err: err}
	}
	return c, nil
}

// Resolver applies the override cascade.
type Resolver struct {
	// CodeOverrides is the code-level table keyed by component or workflow
	// name.
	CodeOverrides map[string]options.Mapping
}

// NewResolver returns a Resolver using the given code-level table.
func NewResolver(code map[string]options.Mapping) *Resolver {
	return &Resolver{CodeOverrides: code}
}

// Resolve builds fresh option sets for one run. It never modifies the
// defaults returned by the request's constructors beyond the copies it
// owns, and the same request always resolves to the same values.
//
// Hyperparameters reject unknown keys at every tier. Workflow options reject
// unknown keys except in the sweep tier, where they are appended.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolved, error) {
	logger := ctxlog.FromContext(ctx)

	if req.ComponentDefaults == nil || req.WorkflowDefaults == nil {
		panic("config: Resolve needs component and workflow defaults")
	}
	if req.Batches <= 0 {
		return nil, &ConfigurationError{Target: "settings", Err: fmt.Errorf("batches must be positive, got %d", req.Batches)}
	}

	def := req.Definition
	if def == nil {
		def = &Definition{}
	}
	out := &Resolved{}

	out.HParams = req.ComponentDefaults().Clone()
	applied, err := Apply(TargetHParams, out.HParams,
		Override{Source: CodeDefault, Mapping: r.CodeOverrides[req.Component], Policy: options.Strict},
		Override{Source: CommandLineFlag, Mapping: req.HParams, Policy: options.Strict},
		Override{Source: FileDefinition, Mapping: def.ComponentOptions, Policy: options.Strict},
		Override{Source: SweepFlag, Mapping: req.HParamsSweep, Policy: options.Strict},
	)
	if err != nil {
		return nil, err
	}
	out.Applied = append(out.Applied, applied...)

	out.Workflow = req.WorkflowDefaults().Clone()
	applied, err = Apply(TargetWorkflow, out.Workflow,
		Override{Source: CodeDefault, Mapping: r.CodeOverrides[req.Workflow], Policy: options.Strict},
		Override{Source: CommandLineFlag, Mapping: req.WorkflowOptions, Policy: options.Strict},
		Override{Source: FileDefinition, Mapping: def.WorkflowOptions, Policy: options.Strict},
		Override{Source: SweepFlag, Mapping: req.WorkflowSweep, Policy: options.Additive},
	)
	if err != nil {
		return nil, err
	}
	out.Applied = append(out.Applied, applied...)

	out.Export = DefaultExportOptions(req.Batches)
	applied, err = Apply(TargetExport, out.Export,
		Override{Source: FileDefinition, Mapping: def.ExportOptions, Policy: options.Strict},
	)
	if err != nil {
		return nil, err
	}
	out.Applied = append(out.Applied, applied...)

	out.Classifier = DefaultClassifierOptions(req.Batches)
	applied, err = Apply(TargetClassifier, out.Classifier,
		Override{Source: FileDefinition, Mapping: def.ClassifierOptions, Policy: options.Strict},
	)
	if err != nil {
		return nil, err
	}
	out.Applied = append(out.Applied, applied...)

	out.Checkpoint = DefaultCheckpointOptions(req.Checkpoint)
	applied, err = Apply(TargetCheckpoint, out.Checkpoint,
		Override{Source: FileDefinition, Mapping: def.CheckpointOptions, Policy: options.Strict},
	)
	if err != nil {
		return nil, err
	}
	out.Applied = append(out.Applied, applied...)

	if err := validate(out); err != nil {
		return nil, err
	}

	for _, a := range out.Applied {
		logger.Debug("Applied overrides.", "target", a.Target, "source", a.Source.String(), "keys", a.Keys)
	}
	return out, nil
}

// DefaultExportOptions returns the export defaults for a run of batches.
func DefaultExportOptions(batches int) *options.OptionSet {
	return options.New(
		options.Bool("export_filters", true),
		options.Bool("export_checkpoint", true),
		options.Int("interval_batches", batches),
	)
}

// DefaultClassifierOptions returns the classifier defaults for a run of
// batches.
func DefaultClassifierOptions(batches int) *options.OptionSet {
	cs := func(vals ...float64) cty.Value {
		elems := make([]cty.Value, len(vals))
		for i, v := range vals {
			elems[i] = cty.NumberFloatVal(v)
		}
		return cty.ObjectVal(map[string]cty.Value{"C": cty.TupleVal(elems)})
	}
	return options.New(
		options.String("model", classifier.ModelLogistic),
		options.Bool("unit_range", false),
		options.Int("interval_batches", batches),
		options.Map("hparams", cty.ObjectVal(map[string]cty.Value{
			classifier.ModelLogistic: cs(0.01, 0.1, 1, 10),
			classifier.ModelSVM:      cs(1, 10, 100),
		})),
	)
}

// DefaultCheckpointOptions returns checkpoint defaults seeded from flags.
func DefaultCheckpointOptions(c component.CheckpointOptions) *options.OptionSet {
	return options.New(
		options.String("checkpoint_path", c.Path),
		options.String("checkpoint_load_scope", c.LoadScope),
		options.String("checkpoint_frozen_scope", c.FrozenScope),
	)
}

func validate(r *Resolved) error {
	if n := r.Export.Int("interval_batches"); n <= 0 {
		return &ConfigurationError{Target: TargetExport, Err: fmt.Errorf("interval_batches must be positive, got %d", n)}
	}
	if n := r.Classifier.Int("interval_batches"); n <= 0 {
		return &ConfigurationError{Target: TargetClassifier, Err: fmt.Errorf("interval_batches must be positive, got %d", n)}
	}
	switch m := r.Classifier.String("model"); m {
	case classifier.ModelLogistic, classifier.ModelSVM:
	default:
		return &ConfigurationError{Target: TargetClassifier, Err: fmt.Errorf("unknown model %q", m)}
	}

	c, err := r.CheckpointOptions()
	if err != nil {
		return err
	}
	if _, err := scope.ParseList(c.LoadScope); err != nil {
		return &ConfigurationError{Target: TargetCheckpoint, Err: fmt.Errorf("checkpoint_load_scope: %w", err)}
	}
	if _, err := scope.ParseList(c.FrozenScope); err != nil {
		return &ConfigurationError{Target: TargetCheckpoint, Err: fmt.Errorf("checkpoint_frozen_scope: %w", err)}
	}
	if c.Path == "" && c.LoadScope != "" {
		return &ConfigurationError{Target: TargetCheckpoint, Err: fmt.Errorf("checkpoint_load_scope %q set without checkpoint_path", c.LoadScope)}
	}
	return nil
}
