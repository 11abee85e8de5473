package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pagirun/internal/config"
	"github.com/vk/pagirun/internal/tracking"
	"github.com/vk/pagirun/internal/workflow"
)

func syntheticConfig(t *testing.T, batches int) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dataset = "synthetic"
	cfg.Batches = batches
	cfg.SummaryDir = t.TempDir()
	return &cfg
}

func writeDefinition(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func metrics(events []tracking.Event, key string) []int {
	var steps []int
	for _, e := range events {
		if e.Kind == "metric" && e.Key == key {
			steps = append(steps, e.Step)
		}
	}
	return steps
}

func TestRun_SyntheticAutoencoder(t *testing.T) {
	t.Parallel()

	// Arrange
	cfg := syntheticConfig(t, 4)
	cfg.Track = true
	cfg.TrackingURL = "http://localhost:1"
	cfg.ExperimentID = "exp-1"
	app, logs := SetupAppTest(t, cfg)
	mem := &tracking.Memory{}
	app.SetTracker(mem)

	// Act
	err := app.Run(context.Background())

	// Assert
	require.NoError(t, err)

	kinds := mem.Kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, "start", kinds[0])
	assert.Equal(t, "params", kinds[1])
	assert.Equal(t, "stop", kinds[len(kinds)-1])

	events := mem.Events()
	assert.Equal(t, "exp-1", events[0].Key)
	assert.Equal(t, 4, events[1].Params["num_batches"])
	assert.Equal(t, tracking.StatusFinished, events[len(events)-1].Status)
	assert.Equal(t, []int{1, 2, 3, 4}, metrics(events, "loss"))
	assert.Equal(t, []int{4}, metrics(events, "classifier_accuracy"))

	assert.FileExists(t, workflow.CheckpointPath(cfg.SummaryDir, 4))
	assert.FileExists(t, workflow.FiltersPath(cfg.SummaryDir, 4))
	assert.NoFileExists(t, workflow.CheckpointPath(cfg.SummaryDir, 2))

	status := app.Status()
	assert.Equal(t, "finished", status.State)
	assert.Equal(t, 4, status.Batch)
	assert.Equal(t, events[0].RunID, status.RunID)

	assert.Contains(t, logs.String(), "Resolved options.")
}

func TestRun_TrackingDisabledIgnoresTracker(t *testing.T) {
	t.Parallel()

	cfg := syntheticConfig(t, 1)
	app, _ := SetupAppTest(t, cfg)
	mem := &tracking.Memory{}
	app.SetTracker(mem)

	require.NoError(t, app.Run(context.Background()))
	assert.Empty(t, mem.Events())
}

func TestRun_HCLDefinition(t *testing.T) {
	t.Parallel()

	// Arrange
	cfg := syntheticConfig(t, 10)
	cfg.Dataset = "mnist"
	cfg.ExperimentDef = writeDefinition(t, "exp.hcl", `
experiment-options = {
  batches = 2
  dataset = "synthetic"
}

export-options = { interval_batches = 1 }

component-options {
  filters  = 4
  sparsity = 2
}
`)
	app, logs := SetupAppTest(t, cfg)

	// Act
	err := app.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.FileExists(t, workflow.CheckpointPath(cfg.SummaryDir, 1))
	assert.FileExists(t, workflow.CheckpointPath(cfg.SummaryDir, 2))
	assert.NoFileExists(t, workflow.CheckpointPath(cfg.SummaryDir, 3))
	assert.Equal(t, 2, app.Status().Batch)
	assert.Contains(t, logs.String(), `\"filters\":4`)
	assert.Equal(t, 10, cfg.Batches, "the caller's config is not modified")
}

func TestRun_TOMLDefinition(t *testing.T) {
	t.Parallel()

	// Arrange
	cfg := syntheticConfig(t, 5)
	cfg.Track = true
	cfg.TrackingURL = "http://localhost:1"
	cfg.ExperimentDef = writeDefinition(t, "exp.toml", `
[experiment-options]
batches = 2

[workflow-options]
evaluate = false
`)
	app, _ := SetupAppTest(t, cfg)
	mem := &tracking.Memory{}
	app.SetTracker(mem)

	// Act
	err := app.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, metrics(mem.Events(), "loss"))
	assert.Empty(t, metrics(mem.Events(), "eval_loss"))
}

func TestRun_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{
			name: "unknown experiment option",
			mutate: func(t *testing.T, cfg *Config) {
				cfg.ExperimentDef = writeDefinition(t, "exp.hcl", "experiment-options = { nope = 1 }\n")
			},
			wantErr: `unknown option "nope"`,
		},
		{
			name: "unknown hyperparameter",
			mutate: func(t *testing.T, cfg *Config) {
				cfg.ExperimentDef = writeDefinition(t, "exp.hcl", "component-options = { momentum = 0.9 }\n")
			},
			wantErr: `unknown option "momentum"`,
		},
		{
			name:    "unknown component",
			mutate:  func(t *testing.T, cfg *Config) { cfg.Component = "pca" },
			wantErr: "pca",
		},
		{
			name: "load scope without checkpoint",
			mutate: func(t *testing.T, cfg *Config) {
				cfg.CheckpointLoadScope = "encoder"
			},
			wantErr: "without checkpoint_path",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			cfg := syntheticConfig(t, 2)
			tc.mutate(t, cfg)
			app, logs := SetupAppTest(t, cfg)

			// Act
			err := app.Run(context.Background())

			// Assert
			require.Error(t, err)
			assert.True(t, config.IsConfigurationError(err), "got %T: %v", err, err)
			assert.ErrorContains(t, err, tc.wantErr)
			assert.Contains(t, logs.String(), "level=CRITICAL")
			assert.NoFileExists(t, workflow.CheckpointPath(cfg.SummaryDir, 1))
		})
	}
}

func TestStatusHandler(t *testing.T) {
	t.Parallel()

	// Arrange
	cfg := syntheticConfig(t, 1)
	app, _ := SetupAppTest(t, cfg)
	app.setRun("run-1", nil)
	rec := httptest.NewRecorder()

	// Act
	app.healthMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, Status{RunID: "run-1", State: "initializing"}, got)
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	cfg := syntheticConfig(t, 1)
	app, _ := SetupAppTest(t, cfg)
	rec := httptest.NewRecorder()

	app.healthMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}
