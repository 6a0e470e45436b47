package checkloop

import (
	"context"
	"log/slog"

	"github.com/checkloop/checkloop/internal/config"
	"github.com/checkloop/checkloop/internal/engine"
	"github.com/checkloop/checkloop/internal/logging"
	"github.com/checkloop/checkloop/internal/orchestrator"
	"github.com/checkloop/checkloop/internal/procexec"
	"github.com/checkloop/checkloop/internal/script"
	"github.com/checkloop/checkloop/internal/validation"
	"github.com/checkloop/checkloop/pkg/domain"
)

// Version is the released version of checkloop.
const Version = "0.1.0"

// Task is one unit of work: a prompt plus an optional validation script and
// its retry budget.
type Task = orchestrator.Task

// Script runtimes accepted by Task.Runtime.
const (
	RuntimePython     = script.RuntimePython
	RuntimeJavaScript = script.RuntimeJavaScript
)

// App couples a reasoning engine session service to the validation retry
// loop.
type App struct {
	logger       *slog.Logger
	api          engine.API
	service      *engine.Service
	orchestrator *orchestrator.Orchestrator
	opts         engine.Options
	execOpts     []procexec.Option
}

// Option configures the App.
type Option func(*App)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithAPI injects a custom engine transport, bypassing the default HTTP
// client.
func WithAPI(api engine.API) Option {
	return func(a *App) {
		a.api = api
	}
}

// WithConfig sets the configuration and credential file paths merged at
// initialization.
func WithConfig(configPath, credentialsPath string) Option {
	return func(a *App) {
		a.opts.ConfigPath = configPath
		a.opts.CredentialsPath = credentialsPath
	}
}

// WithModel overrides the configured model.
func WithModel(model string) Option {
	return func(a *App) {
		a.opts.ModelOverride = model
	}
}

// WithExecutorOptions forwards options to the script process executor.
func WithExecutorOptions(opts ...procexec.Option) Option {
	return func(a *App) {
		a.execOpts = append(a.execOpts, opts...)
	}
}

// New creates and initializes an App against the engine at engineURL.
func New(ctx context.Context, engineURL string, opts ...Option) (*App, error) {
	a := &App{}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.New(slog.LevelInfo)
	}
	if a.api == nil {
		if engineURL == "" {
			// The endpoint may come from the config file rather than a flag.
			settings, err := config.Load(a.opts.ConfigPath, a.opts.CredentialsPath, a.opts.ModelOverride)
			if err != nil {
				return nil, err
			}
			engineURL = settings.EngineURL
		}
		a.api = engine.NewClient(engineURL)
	}

	a.service = engine.NewService(a.logger, a.api)
	if err := a.service.Initialize(ctx, a.opts); err != nil {
		return nil, err
	}

	exec := procexec.New(a.logger, a.execOpts...)
	validator := validation.NewEngine(a.logger, exec)
	a.orchestrator = orchestrator.New(a.logger, a.service, validator)
	return a, nil
}

// Run executes one validated task.
func (a *App) Run(ctx context.Context, task orchestrator.Task) (domain.RunResult, error) {
	return a.orchestrator.Run(ctx, task)
}

// ListModels returns the engine's flattened model catalog.
func (a *App) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return a.service.ListModels(ctx)
}

// Close disposes the underlying session service. Safe to call twice.
func (a *App) Close() {
	a.service.Dispose()
}
