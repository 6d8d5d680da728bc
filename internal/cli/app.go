package cli

import (
	"context"
	"fmt"

	"github.com/rescale/modelbench/internal/api"
	"github.com/rescale/modelbench/internal/argstore"
	"github.com/rescale/modelbench/internal/config"
	"github.com/rescale/modelbench/internal/core"
	"github.com/rescale/modelbench/internal/http"
	"github.com/rescale/modelbench/internal/models"
	"github.com/rescale/modelbench/internal/notify"
	"github.com/rescale/modelbench/internal/persist"
	"github.com/rescale/modelbench/internal/runner"
	"github.com/rescale/modelbench/internal/specs"
	"github.com/rescale/modelbench/internal/state"
	"github.com/rescale/modelbench/internal/validation"
)

// modelSource lists and describes models. The API client and the local
// catalog both satisfy it.
type modelSource interface {
	core.SpecProvider
	List(ctx context.Context) ([]models.ModelMeta, error)
}

// serverSource adapts the API client to modelSource.
type serverSource struct {
	*api.Client
}

func (s serverSource) List(ctx context.Context) ([]models.ModelMeta, error) {
	return s.ListModels(ctx)
}

// newModelSource returns the server client when a server URL is configured
// and the local spec catalog otherwise. The validator is nil for the local
// catalog so the engine validates against the spec itself.
func newModelSource(settings *config.Settings) (modelSource, validation.Validator, error) {
	if settings.Server.URL == "" {
		return specs.NewCatalog(specDirs...), nil, nil
	}
	client, err := api.NewClient(&settings.Server, GetLogger())
	if err != nil {
		return nil, nil, err
	}
	GetLogger().Debug().Str("server", client.BaseURL()).Msg("using model server")
	return serverSource{client}, client, nil
}

// newPersistence builds the datastack store with the remote backends the
// settings enable. Local paths always work.
func newPersistence(ctx context.Context, settings *config.Settings) (*persist.Store, error) {
	httpClient, err := http.NewClient(&settings.Server)
	if err != nil {
		return nil, err
	}

	opts := []persist.Option{persist.WithLogger(GetLogger())}

	s3Backend, err := persist.NewS3BackendFromConfig(ctx, settings.Storage.S3Region, httpClient)
	if err != nil {
		GetLogger().Debug().Err(err).Msg("s3:// paths unavailable")
	} else {
		opts = append(opts, persist.WithBackend("s3", s3Backend))
	}

	if settings.Storage.AzureAccountURL != "" {
		azBackend, err := persist.NewAzureBackendFromURL(settings.Storage.AzureAccountURL, httpClient)
		if err != nil {
			return nil, err
		}
		opts = append(opts, persist.WithBackend("az", azBackend))
	}

	return persist.NewStore(opts...), nil
}

// app bundles what the model commands need.
type app struct {
	settings *config.Settings
	source   modelSource
	store    *persist.Store
	engine   *core.Engine
}

// newApp loads settings and wires an engine for one command invocation.
func newApp(ctx context.Context) (*app, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	source, validator, err := newModelSource(settings)
	if err != nil {
		return nil, err
	}

	store, err := newPersistence(ctx, settings)
	if err != nil {
		return nil, err
	}

	history, err := state.NewHistoryManager(config.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}

	notifier := notify.NewNotifier(&notify.Config{
		Enabled:         settings.Notifications.Enabled,
		ShowRunComplete: true,
		ShowRunFailed:   true,
	}, GetLogger())

	engine, err := core.NewEngine(core.Config{
		Specs:         source,
		Persistence:   store,
		Runner:        runner.NewExecRunner(settings.Runner.Executable, settings.Workbench.Language, GetLogger()),
		Validator:     validator,
		History:       history,
		Notifier:      notifier,
		Logger:        GetLogger(),
		Workers:       settings.Workbench.NWorkers,
		Debounce:      settings.Debounce(),
		RelativePaths: true,
	})
	if err != nil {
		return nil, err
	}

	return &app{settings: settings, source: source, store: store, engine: engine}, nil
}

// open returns a session for module, or for the model named by the
// parameter set at datastack when module is empty.
func (a *app) open(ctx context.Context, module, datastack string) (*core.Session, error) {
	if module == "" && datastack == "" {
		return nil, fmt.Errorf("a model name or --datastack is required")
	}

	if module == "" {
		s, res, _, err := a.engine.OpenDatastack(ctx, datastack)
		if err != nil {
			return nil, err
		}
		warnDropped(res)
		return s, nil
	}

	s, err := a.engine.Open(ctx, module)
	if err != nil {
		return nil, err
	}
	if datastack != "" {
		res, _, err := s.Load(ctx, datastack)
		if err != nil {
			return nil, err
		}
		warnDropped(res)
	}
	return s, nil
}

func warnDropped(res argstore.LoadResult) {
	for _, key := range res.DroppedKeys() {
		GetLogger().Warn().Str("key", key).Msg("ignored argument not in the model spec")
	}
}
