package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/vk/pagirun/datasets/mnist"
	"github.com/vk/pagirun/internal/config"
	"github.com/vk/pagirun/internal/hcl"
	"github.com/vk/pagirun/internal/options"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Config holds the settings of one experiment run. Fields are tagged with
// the flag that sets them so experiment-options can address them by name.
type Config struct {
	Workflow        string `flag:"workflow"`
	Dataset         string `flag:"dataset"`
	DatasetLocation string `flag:"dataset_location"`
	DatasetURL      string `flag:"dataset_url"`
	Component       string `flag:"component"`

	HParamsOverride options.Mapping `flag:"hparams_override"`
	HParamsSweep    options.Mapping `flag:"hparams_sweep"`
	WorkflowSweep   options.Mapping `flag:"workflow_opts_sweep"`
	// WorkflowOptions holds the command-line workflow overrides, such as an
	// explicitly given train or evaluate flag.
	WorkflowOptions options.Mapping `flag:"-"`

	Checkpoint            string `flag:"checkpoint"`
	CheckpointLoadScope   string `flag:"checkpoint_load_scope"`
	CheckpointFrozenScope string `flag:"checkpoint_frozen_scope"`

	SummaryDir    string `flag:"summary_dir"`
	ExperimentDef string `flag:"experiment_def"`
	Seed          int64  `flag:"seed"`
	Batches       int    `flag:"batches"`
	ExperimentID  string `flag:"experiment_id"`
	Summarize     bool   `flag:"summarize"`
	Track         bool   `flag:"track"`
	TrackingURL   string `flag:"tracking_url"`

	LogLevel        string `flag:"logging"`
	LogFormat       string `flag:"log-format"`
	HealthcheckPort int    `flag:"healthcheck-port"`
}

// DefaultConfig returns the settings used when no flag is given.
func DefaultConfig() Config {
	return Config{
		Workflow:        "workflow",
		Dataset:         "mnist",
		DatasetLocation: "data",
		DatasetURL:      mnist.DefaultMirror,
		Component:       "sparse_autoencoder",
		Seed:            42,
		Batches:         10,
		Summarize:       true,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// workflowFlags are set through the workflow option cascade rather than a
// Config field.
var workflowFlags = map[string]bool{"train": true, "evaluate": true}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	var errs []error
	if cfg.Batches <= 0 {
		errs = append(errs, fmt.Errorf("batches must be positive, got %d", cfg.Batches))
	}
	if cfg.Workflow == "" || cfg.Dataset == "" || cfg.Component == "" {
		errs = append(errs, errors.New("workflow, dataset and component must be set"))
	}
	if _, ok := parseLevel(cfg.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("invalid logging level %q: must be one of debug, info, warning, error, critical", cfg.LogLevel))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", cfg.LogFormat))
	}
	if cfg.Track && cfg.TrackingURL == "" {
		errs = append(errs, errors.New("track requires tracking_url"))
	}
	if cfg.HealthcheckPort < 0 {
		errs = append(errs, fmt.Errorf("healthcheck-port must not be negative, got %d", cfg.HealthcheckPort))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, &config.ConfigurationError{Target: "settings", Err: err}
	}
	return &cfg, nil
}

// ApplyExperimentOptions sets fields by flag name from m. Names ending in
// _sweep are skipped so sweep flags keep precedence over the file. The
// train and evaluate flags become workflow overrides.
func (c *Config) ApplyExperimentOptions(source string, m options.Mapping) error {
	fail := func(err error) error {
		return &config.ConfigurationError{Target: config.KeyExperimentOptions, Source: source, Err: err}
	}

	fields := flagFields()
	rv := reflect.ValueOf(c).Elem()
	for _, name := range m.Keys() {
		if strings.HasSuffix(name, "_sweep") {
			continue
		}
		v := m[name]
		if workflowFlags[name] {
			b, err := convert.Convert(v, cty.Bool)
			if err != nil {
				return fail(fmt.Errorf("%s: %w", name, err))
			}
			wo := c.WorkflowOptions.Clone()
			if wo == nil {
				wo = options.Mapping{}
			}
			wo[name] = b
			c.WorkflowOptions = wo
			continue
		}

		idx, ok := fields[name]
		if !ok {
			return fail(fmt.Errorf("unknown option %q", name))
		}
		fv := rv.Field(idx)
		if err := setField(fv, name, v); err != nil {
			return fail(err)
		}
		if caseInsensitive[name] {
			fv.SetString(strings.ToLower(fv.String()))
		}
	}
	return nil
}

// caseInsensitive settings are lowercased the same way the command line
// does it.
var caseInsensitive = map[string]bool{"logging": true, "log-format": true}

func flagFields() map[string]int {
	rt := reflect.TypeOf(Config{})
	out := make(map[string]int, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		name := rt.Field(i).Tag.Get("flag")
		if name != "" && name != "-" {
			out[name] = i
		}
	}
	return out
}

var mappingType = reflect.TypeOf(options.Mapping{})

func setField(fv reflect.Value, name string, v cty.Value) error {
	if fv.Type() == mappingType {
		var m options.Mapping
		var err error
		if v.Type() == cty.String {
			m, err = hcl.ParseMapping(name, v.AsString())
		} else {
			m, err = options.MappingFromValue(v)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fv.Set(reflect.ValueOf(m))
		return nil
	}

	ty, err := gocty.ImpliedType(fv.Interface())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	cv, err := convert.Convert(v, ty)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := gocty.FromCtyValue(cv, fv.Addr().Interface()); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
