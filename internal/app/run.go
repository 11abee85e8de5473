package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/config"
	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/dataset"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/tracking"
	"github.com/vk/pagirun/internal/tracking/socketio"
	"github.com/vk/pagirun/internal/workflow"
)

// Run executes one experiment: it applies the experiment definition,
// resolves every option set and runs the workflow, inside a tracking
// bracket when tracking is enabled.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.")

	cfg, def, err := a.prepare(ctx)
	if err != nil {
		logCritical(ctx, a.logger, "Experiment could not start.", "error", err)
		return err
	}
	ctx = a.ctx

	if cfg.HealthcheckPort > 0 {
		a.healthCheckServer(cfg.HealthcheckPort)
		defer func() { _ = a.closeHealthCheckServer() }()
	}

	var tracker tracking.Tracker
	if cfg.Track {
		tracker = a.tracker
		if tracker == nil {
			t, err := socketio.New(socketio.Options{URL: cfg.TrackingURL})
			if err != nil {
				err = &config.ConfigurationError{Target: "settings", Err: fmt.Errorf("tracking_url: %w", err)}
				logCritical(ctx, a.logger, "Experiment could not start.", "error", err)
				return err
			}
			tracker = t
		}
	}

	runID := uuid.NewString()
	a.setRun(runID, nil)
	ctx, logger := ctxlog.With(ctx, "run_id", runID)

	started := time.Now()
	err = tracking.Bracket(ctx, tracker, runID, cfg.ExperimentID, func(ctx context.Context, t tracking.Tracker) error {
		_ = t.LogParams(ctx, map[string]any{
			"num_batches": cfg.Batches,
			"seed":        cfg.Seed,
			"dataset":     cfg.Dataset,
			"component":   cfg.Component,
			"workflow":    cfg.Workflow,
		})
		return a.runExperiment(ctx, cfg, def, runID, t)
	})
	if err != nil {
		if config.IsConfigurationError(err) {
			logCritical(ctx, logger, "Experiment could not start.", "error", err)
		} else {
			logger.Error("Experiment failed.", "error", err, "duration", time.Since(started))
		}
		return err
	}
	logger.Info("Experiment finished.", "duration", time.Since(started))
	return nil
}

// prepare merges the experiment definition into a copy of the settings and
// rebuilds the logger when the definition changed it.
func (a *App) prepare(ctx context.Context) (*Config, *config.Definition, error) {
	cfg := *a.config
	if cfg.ExperimentDef == "" {
		return &cfg, nil, nil
	}

	def, err := a.loader.Load(ctx, cfg.ExperimentDef)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyExperimentOptions(cfg.ExperimentDef, def.ExperimentOptions); err != nil {
		return nil, nil, err
	}
	validated, err := NewConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("Experiment definition loaded.", "path", validated.ExperimentDef)

	if validated.LogLevel != a.config.LogLevel || validated.LogFormat != a.config.LogFormat {
		a.logger = newLogger(validated.LogLevel, validated.LogFormat, a.outW)
		a.ctx = ctxlog.WithLogger(ctx, a.logger)
	}
	return validated, def, nil
}

// Resolve looks up the registered workflow and component of cfg and runs
// the override cascade for them.
func (a *App) Resolve(ctx context.Context, cfg *Config, def *config.Definition) (*config.Resolved, error) {
	comp, err := a.registry.Component(cfg.Component)
	if err != nil {
		return nil, &config.ConfigurationError{Target: "settings", Err: err}
	}
	wf, err := a.registry.Workflow(cfg.Workflow)
	if err != nil {
		return nil, &config.ConfigurationError{Target: "settings", Err: err}
	}

	return config.NewResolver(a.registry.CodeOverrides).Resolve(ctx, config.Request{
		Component:         cfg.Component,
		ComponentDefaults: comp.Defaults,
		Workflow:          cfg.Workflow,
		WorkflowDefaults:  wf.Defaults,
		Batches:           cfg.Batches,
		Checkpoint: component.CheckpointOptions{
			Path:        cfg.Checkpoint,
			LoadScope:   cfg.CheckpointLoadScope,
			FrozenScope: cfg.CheckpointFrozenScope,
		},
		HParams:         cfg.HParamsOverride,
		WorkflowOptions: cfg.WorkflowOptions,
		Definition:      def,
		HParamsSweep:    cfg.HParamsSweep,
		WorkflowSweep:   cfg.WorkflowSweep,
	})
}

func (a *App) runExperiment(ctx context.Context, cfg *Config, def *config.Definition, runID string, t tracking.Tracker) error {
	logger := ctxlog.FromContext(ctx)

	resolved, err := a.Resolve(ctx, cfg, def)
	if err != nil {
		return err
	}
	ckpt, err := resolved.CheckpointOptions()
	if err != nil {
		return err
	}

	logger.Info("Experiment configured.", "dataset", cfg.Dataset, "workflow", cfg.Workflow, "component", cfg.Component)
	for _, set := range []struct {
		name string
		set  *options.OptionSet
	}{
		{config.TargetExport, resolved.Export},
		{config.TargetWorkflow, resolved.Workflow},
		{config.TargetClassifier, resolved.Classifier},
		{config.TargetCheckpoint, resolved.Checkpoint},
		{config.TargetHParams, resolved.HParams},
	} {
		b, err := json.Marshal(set.set)
		if err != nil {
			return fmt.Errorf("rendering %s: %w", set.name, err)
		}
		logger.Info("Resolved options.", "target", set.name, "values", string(b))
	}

	newDataset, err := a.registry.Dataset(cfg.Dataset)
	if err != nil {
		return &config.ConfigurationError{Target: "settings", Err: err}
	}
	ds, err := newDataset(ctx, dataset.Options{Location: cfg.DatasetLocation, SourceURL: cfg.DatasetURL, Seed: uint64(cfg.Seed)})
	if err != nil {
		return fmt.Errorf("loading dataset %q: %w", cfg.Dataset, err)
	}

	summaryDir := cfg.SummaryDir
	if summaryDir == "" {
		summaryDir = filepath.Join(os.TempDir(), "pagirun", runID)
	}
	logger.Info("Writing summaries and exports.", "summary_dir", summaryDir)

	comp, _ := a.registry.Component(cfg.Component)
	wfReg, _ := a.registry.Workflow(cfg.Workflow)
	wf, err := wfReg.New(workflow.Deps{
		Factory:       a.factory,
		Dataset:       ds,
		ComponentName: cfg.Component,
		Component:     comp.New,
		HParams:       resolved.HParams,
		Options:       resolved.Workflow,
		Export:        resolved.Export,
		Classifier:    resolved.Classifier,
		Checkpoint:    ckpt,
		SummaryDir:    summaryDir,
		Summarize:     cfg.Summarize,
		Tracker:       t,
		Seed:          uint64(cfg.Seed),
	})
	if err != nil {
		return &config.ConfigurationError{Target: config.TargetWorkflow, Err: err}
	}
	a.setRun(runID, wf)

	return wf.Run(ctx, cfg.Batches)
}
