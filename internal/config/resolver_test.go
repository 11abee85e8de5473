package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/options"
)

func hparamDefaults() *options.OptionSet {
	return options.New(
		options.Float("lr", 0.1),
		options.Int("batches", 10),
		options.Int("filters", 16),
		options.String("init", "normal"),
	)
}

func workflowDefaults() *options.OptionSet {
	return options.New(
		options.Bool("train", true),
		options.Bool("evaluate", true),
		options.Int("evaluate_interval", 0),
	)
}

func baseRequest() Request {
	return Request{
		Component:         "ae",
		ComponentDefaults: hparamDefaults,
		Workflow:          "workflow",
		WorkflowDefaults:  workflowDefaults,
		Batches:           10,
	}
}

func m(kv map[string]any) options.Mapping { return options.MustMapping(kv) }

func TestResolve_ScenarioHighestTierWins(t *testing.T) {
	t.Parallel()

	// Arrange
	r := NewResolver(map[string]options.Mapping{"ae": m(map[string]any{"lr": 0.05})})
	req := baseRequest()
	req.Definition = &Definition{ComponentOptions: m(map[string]any{"lr": 0.2})}
	req.HParamsSweep = m(map[string]any{"lr": 0.3})

	// Act
	got, err := r.Resolve(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0.3, got.HParams.Float("lr"))
	assert.Equal(t, 10, got.HParams.Int("batches"))
}

func TestResolve_PerKeyPrecedence(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		code  options.Mapping
		cli   options.Mapping
		file  options.Mapping
		sweep options.Mapping
		want  map[string]any
	}{
		{
			name: "defaults only",
			want: map[string]any{"lr": 0.1, "batches": int64(10), "filters": int64(16), "init": "normal"},
		},
		{
			name: "each tier owns a different key",
			code: m(map[string]any{"lr": 0.05}),
			cli:  m(map[string]any{"batches": 20}),
			file: m(map[string]any{"filters": 32}),
			sweep: m(map[string]any{
				"init": "uniform",
			}),
			want: map[string]any{"lr": 0.05, "batches": int64(20), "filters": int64(32), "init": "uniform"},
		},
		{
			name:  "partial sweep keeps file values for untouched keys",
			file:  m(map[string]any{"lr": 0.2, "filters": 64}),
			sweep: m(map[string]any{"lr": 0.3}),
			want:  map[string]any{"lr": 0.3, "batches": int64(10), "filters": int64(64), "init": "normal"},
		},
		{
			name: "file beats command line",
			cli:  m(map[string]any{"lr": 0.7}),
			file: m(map[string]any{"lr": 0.2}),
			want: map[string]any{"lr": 0.2, "batches": int64(10), "filters": int64(16), "init": "normal"},
		},
		{
			name: "command line beats code table",
			code: m(map[string]any{"filters": 8}),
			cli:  m(map[string]any{"filters": 4}),
			want: map[string]any{"lr": 0.1, "batches": int64(10), "filters": int64(4), "init": "normal"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			r := NewResolver(map[string]options.Mapping{"ae": tc.code})
			req := baseRequest()
			req.HParams = tc.cli
			if tc.file != nil {
				req.Definition = &Definition{ComponentOptions: tc.file}
			}
			req.HParamsSweep = tc.sweep

			// Act
			got, err := r.Resolve(context.Background(), req)

			// Assert
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got.HParams.Values()); diff != "" {
				t.Errorf("resolved hyperparameters mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolve_UnknownKeyPolicy(t *testing.T) {
	t.Parallel()

	t.Run("hyperparameter sweep rejects unknown keys", func(t *testing.T) {
		t.Parallel()
		req := baseRequest()
		req.HParamsSweep = m(map[string]any{"lr": 0.3, "momentum": 0.9})

		_, err := NewResolver(nil).Resolve(context.Background(), req)

		require.True(t, IsConfigurationError(err))
		var unknown *options.UnknownOptionError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "momentum", unknown.Name)
		assert.Contains(t, err.Error(), "hyperparameters (from sweep)")
	})

	t.Run("workflow file rejects unknown keys", func(t *testing.T) {
		t.Parallel()
		req := baseRequest()
		req.Definition = &Definition{WorkflowOptions: m(map[string]any{"warmup": 3})}

		_, err := NewResolver(nil).Resolve(context.Background(), req)

		require.True(t, IsConfigurationError(err))
		assert.Contains(t, err.Error(), "workflow options (from experiment definition)")
	})

	t.Run("workflow sweep appends unknown keys", func(t *testing.T) {
		t.Parallel()
		req := baseRequest()
		req.Definition = &Definition{WorkflowOptions: m(map[string]any{"evaluate_interval": 2})}
		req.WorkflowSweep = m(map[string]any{"warmup": 3, "train": false})

		got, err := NewResolver(nil).Resolve(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, []string{"train", "evaluate", "evaluate_interval", "warmup"}, got.Workflow.Names())
		assert.False(t, got.Workflow.Bool("train"))
		assert.Equal(t, 2, got.Workflow.Int("evaluate_interval"))
		assert.Equal(t, 3, got.Workflow.Int("warmup"))
	})
}

func TestResolve_FileBlocks(t *testing.T) {
	t.Parallel()

	// Arrange
	req := baseRequest()
	req.Checkpoint = component.CheckpointOptions{Path: "flag.ckpt"}
	req.Definition = &Definition{
		ExportOptions:     m(map[string]any{"interval_batches": 2, "export_filters": false}),
		ClassifierOptions: m(map[string]any{"model": "svm", "hparams": map[string]any{"svm": map[string]any{"C": []any{5.0}}}}),
		CheckpointOptions: m(map[string]any{"checkpoint_load_scope": "encoder"}),
	}

	// Act
	got, err := NewResolver(nil).Resolve(context.Background(), req)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"export_filters": false, "export_checkpoint": true, "interval_batches": int64(2)}, got.Export.Values())
	assert.Equal(t, "svm", got.Classifier.String("model"))
	assert.Equal(t, 10, got.Classifier.Int("interval_batches"))
	assert.Equal(t, []string{"svm"}, got.Classifier.Map("hparams").Keys(), "nested mappings are replaced wholesale")

	ckpt, err := got.CheckpointOptions()
	require.NoError(t, err)
	assert.Equal(t, component.CheckpointOptions{Path: "flag.ckpt", LoadScope: "encoder"}, ckpt)
}

func TestResolve_Defaults(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.Batches = 7

	got, err := NewResolver(nil).Resolve(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, 7, got.Export.Int("interval_batches"))
	assert.Equal(t, 7, got.Classifier.Int("interval_batches"))
	assert.Equal(t, "logistic", got.Classifier.String("model"))
	assert.Equal(t, []string{"logistic", "svm"}, got.Classifier.Map("hparams").Keys())
	assert.Empty(t, got.Applied)
}

func TestResolve_Validation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(r *Request)
		wantErr string
	}{
		{
			name:    "non-positive batches",
			mutate:  func(r *Request) { r.Batches = 0 },
			wantErr: "batches must be positive",
		},
		{
			name: "zero export interval",
			mutate: func(r *Request) {
				r.Definition = &Definition{ExportOptions: m(map[string]any{"interval_batches": 0})}
			},
			wantErr: "interval_batches must be positive",
		},
		{
			name: "unknown classifier model",
			mutate: func(r *Request) {
				r.Definition = &Definition{ClassifierOptions: m(map[string]any{"model": "forest"})}
			},
			wantErr: `unknown model "forest"`,
		},
		{
			name:    "malformed scope",
			mutate:  func(r *Request) { r.Checkpoint = component.CheckpointOptions{Path: "x", LoadScope: "enc oder"} },
			wantErr: "checkpoint_load_scope",
		},
		{
			name:    "load scope without path",
			mutate:  func(r *Request) { r.Checkpoint = component.CheckpointOptions{LoadScope: "encoder"} },
			wantErr: "without checkpoint_path",
		},
		{
			name:    "hyperparameter of the wrong kind",
			mutate:  func(r *Request) { r.HParams = m(map[string]any{"filters": "many"}) },
			wantErr: `option "filters"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := baseRequest()
			tc.mutate(&req)

			_, err := NewResolver(nil).Resolve(context.Background(), req)

			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestResolve_DeterministicAndTemplateSafe(t *testing.T) {
	t.Parallel()

	// Arrange
	template := hparamDefaults()
	req := baseRequest()
	req.ComponentDefaults = func() *options.OptionSet { return template }
	req.HParamsSweep = m(map[string]any{"lr": 0.3})
	r := NewResolver(nil)

	// Act
	first, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, first.HParams.Values(), second.HParams.Values())
	assert.Equal(t, 0.1, template.Float("lr"), "the template must not change")
	assert.NotSame(t, first.HParams, second.HParams)
}

func TestNewDefinition_RejectsUnknownBlocks(t *testing.T) {
	t.Parallel()

	_, err := NewDefinition("exp.hcl", map[string]options.Mapping{
		KeyExportOptions: m(map[string]any{"interval_batches": 1}),
		"model-options":  m(map[string]any{}),
	})

	require.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "unknown top-level keys model-options")
}

func TestExtensionLoader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "exp.fake")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	loader := ExtensionLoader{
		".fake": LoaderFunc(func(ctx context.Context, p string) (*Definition, error) {
			return &Definition{Path: p}, nil
		}),
	}

	d, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, d.Path)

	_, err = loader.Load(context.Background(), filepath.Join(dir, "missing.fake"))
	require.True(t, IsConfigurationError(err))
	require.ErrorIs(t, err, os.ErrNotExist)

	other := filepath.Join(dir, "exp.yaml")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	_, err = loader.Load(context.Background(), other)
	require.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), `unsupported file extension ".yaml"`)
}
