package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/pagirun/internal/app"
	"github.com/vk/pagirun/internal/hcl"
	"github.com/vk/pagirun/internal/options"
	"github.com/zclconf/go-cty/cty"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pagirun", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
pagirun - runs representation-learning experiments from layered option sets.

Usage:
  pagirun [options]

Override flags take an object literal, for example
  -hparams_override '{learning_rate = 0.01, filters = 32}'

Options:
`)
		flagSet.PrintDefaults()
	}

	def := app.DefaultConfig()
	cfg := def

	flagSet.StringVar(&cfg.Workflow, "workflow", def.Workflow, "Name of the registered workflow.")
	flagSet.StringVar(&cfg.Dataset, "dataset", def.Dataset, "Name of the registered dataset.")
	flagSet.StringVar(&cfg.DatasetLocation, "dataset_location", def.DatasetLocation, "Directory searched for dataset files.")
	flagSet.StringVar(&cfg.DatasetURL, "dataset_url", def.DatasetURL, "Mirror that missing dataset files are downloaded from. Empty disables downloads.")
	flagSet.StringVar(&cfg.Component, "component", def.Component, "Name of the registered component.")
	hparamsOverride := flagSet.String("hparams_override", "", "Hyperparameter overrides as an object literal.")
	hparamsSweep := flagSet.String("hparams_sweep", "", "Hyperparameter overrides applied last, as an object literal.")
	workflowSweep := flagSet.String("workflow_opts_sweep", "", "Workflow option overrides applied last; unknown keys are added.")
	flagSet.StringVar(&cfg.LogLevel, "logging", def.LogLevel, "Logging level. Options: 'debug', 'info', 'warning', 'error', 'critical'.")
	flagSet.StringVar(&cfg.LogFormat, "log-format", def.LogFormat, "Log output format. Options: 'text' or 'json'.")
	flagSet.StringVar(&cfg.Checkpoint, "checkpoint", "", "Checkpoint file to restore variables from.")
	flagSet.StringVar(&cfg.CheckpointLoadScope, "checkpoint_load_scope", "", "Comma separated scopes restored from the checkpoint. Empty restores everything.")
	flagSet.StringVar(&cfg.CheckpointFrozenScope, "checkpoint_frozen_scope", "", "Comma separated scopes that are not trained.")
	flagSet.StringVar(&cfg.SummaryDir, "summary_dir", "", "Directory for summaries, checkpoints and filters. Defaults to a run directory under the system temp dir.")
	flagSet.StringVar(&cfg.ExperimentDef, "experiment_def", "", "Experiment definition file (.hcl, .json or .toml).")
	flagSet.Int64Var(&cfg.Seed, "seed", def.Seed, "Random seed.")
	flagSet.IntVar(&cfg.Batches, "batches", def.Batches, "Number of batches to run.")
	flagSet.StringVar(&cfg.ExperimentID, "experiment_id", "", "Experiment the run is tracked under.")
	evaluate := flagSet.Bool("evaluate", true, "Run evaluation batches.")
	train := flagSet.Bool("train", true, "Run training batches.")
	flagSet.BoolVar(&cfg.Summarize, "summarize", def.Summarize, "Write summaries.")
	flagSet.BoolVar(&cfg.Track, "track", false, "Report the run to the tracking server.")
	flagSet.StringVar(&cfg.TrackingURL, "tracking_url", "", "Tracking server URL.")
	flagSet.IntVar(&cfg.HealthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err.Error())
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() > 0 {
		return nil, false, usageError("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))
	}

	var err error
	if cfg.HParamsOverride, err = hcl.ParseMapping("hparams_override", *hparamsOverride); err != nil {
		return nil, false, usageError("%s", err.Error())
	}
	if cfg.HParamsSweep, err = hcl.ParseMapping("hparams_sweep", *hparamsSweep); err != nil {
		return nil, false, usageError("%s", err.Error())
	}
	if cfg.WorkflowSweep, err = hcl.ParseMapping("workflow_opts_sweep", *workflowSweep); err != nil {
		return nil, false, usageError("%s", err.Error())
	}

	// Only explicitly given train and evaluate flags override the workflow
	// options from lower tiers.
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "train":
			cfg.WorkflowOptions = withBool(cfg.WorkflowOptions, "train", *train)
		case "evaluate":
			cfg.WorkflowOptions = withBool(cfg.WorkflowOptions, "evaluate", *evaluate)
		}
	})

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%s", err.Error())
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

func withBool(m options.Mapping, name string, v bool) options.Mapping {
	if m == nil {
		m = options.Mapping{}
	}
	m[name] = cty.BoolVal(v)
	return m
}
