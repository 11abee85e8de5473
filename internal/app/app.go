package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vk/pagirun/internal/config"
	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/hcl"
	"github.com/vk/pagirun/internal/localsession"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/registry"
	"github.com/vk/pagirun/internal/session"
	"github.com/vk/pagirun/internal/tomldef"
	"github.com/vk/pagirun/internal/tracking"
	"github.com/vk/pagirun/internal/workflow"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	ctx      context.Context
	logger   *slog.Logger
	config   *Config
	registry *registry.Registry
	loader   config.Loader
	factory  session.Factory
	tracker  tracking.Tracker

	httpServer *http.Server

	mu       sync.Mutex
	runID    string
	workflow workflow.Workflow
}

// DefinitionLoader returns the loader for experiment definitions: HCL and
// JSON through the hcl package, TOML through tomldef.
func DefinitionLoader() config.Loader {
	hclLoader := hcl.NewLoader()
	return config.ExtensionLoader{
		".hcl":  hclLoader,
		".json": hclLoader,
		".toml": tomldef.Loader{},
	}
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// A nil loader uses DefinitionLoader. With no modules the core modules are
// registered.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader, modules ...registry.Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	if loader == nil {
		loader = DefinitionLoader()
	}

	// Create and populate the registry with Go modules.
	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	for name, m := range codeOverrides {
		reg.RegisterCodeOverrides(name, options.MustMapping(m))
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	// Validate the integrity of the registry.
	if err := reg.ValidateRegistry(ctx); err != nil {
		// This is a programmer error (mismatch between code and defaults), so we panic.
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	return &App{
		outW:     outW,
		ctx:      ctx,
		logger:   logger,
		config:   appConfig,
		registry: reg,
		loader:   loader,
		factory:  &localsession.Factory{},
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// SetTracker replaces the tracker used when tracking is enabled. By default
// a socket.io tracker for the configured tracking_url is used.
func (a *App) SetTracker(t tracking.Tracker) {
	a.tracker = t
}

// SetSessionFactory replaces the execution engine.
func (a *App) SetSessionFactory(f session.Factory) {
	a.factory = f
}

func (a *App) setRun(runID string, wf workflow.Workflow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runID = runID
	a.workflow = wf
}

// Status reports the run in progress.
type Status struct {
	RunID string `json:"run_id,omitempty"`
	State string `json:"state"`
	Batch int    `json:"batch"`
}

// Status returns the state of the current run.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.workflow == nil {
		return Status{RunID: a.runID, State: workflow.Initializing.String()}
	}
	return Status{RunID: a.runID, State: a.workflow.State().String(), Batch: a.workflow.Batch()}
}
