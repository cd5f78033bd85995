package root

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/environment"
	"github.com/docker/sidekick/pkg/model/provider"
	"github.com/docker/sidekick/pkg/model/provider/compat"
	"github.com/docker/sidekick/pkg/pagecontext"
	"github.com/docker/sidekick/pkg/paths"
	"github.com/docker/sidekick/pkg/runtime"
	"github.com/docker/sidekick/pkg/session"
	"github.com/docker/sidekick/pkg/skills"
	"github.com/docker/sidekick/pkg/tools/mcp"
)

// app is everything a conversation needs, built from the settings.
type app struct {
	settings *config.Settings
	model    provider.Provider
	manager  *mcp.Manager
	store    session.Store
	runtime  *runtime.Runtime
}

func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	settings := flags.settings

	model, err := provider.New(ctx, &settings.Model, environment.NewDefaultProvider())
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, settings)
	if err != nil {
		return nil, err
	}

	manager := newManager(flags)
	manager.SyncServers(ctx, settings.ServerConfigs())

	opts := []runtime.Opt{
		runtime.WithTools(manager),
		runtime.WithSessionStore(store),
		runtime.WithSkills(
			skills.NewStaticProvider(settings.Skills),
			skills.NewMatcher(settings.SkillMatching.Strategy, model),
		),
		runtime.WithCompat(compat.For(settings.Model.Provider, settings.Model.Compat)),
		runtime.WithMaxTurns(settings.MaxTurns),
		runtime.WithSystemPrompt(settings.SystemPrompt),
		runtime.WithTracer(flags.tracer()),
	}
	if page := pagecontext.FromConfig(settings.PageContext); page != nil {
		opts = append(opts, runtime.WithPageContext(page))
	}

	slog.Debug("Application ready", "model", model.ID(), "tool_servers", len(settings.ToolServers))
	return &app{
		settings: settings,
		model:    model,
		manager:  manager,
		store:    store,
		runtime:  runtime.New(model, opts...),
	}, nil
}

func newManager(flags *rootFlags) *mcp.Manager {
	return mcp.NewManager(
		mcp.WithTracer(flags.tracer()),
		mcp.WithStatusHandler(func(st mcp.ServerStatus) {
			if st.Status == mcp.StatusError {
				slog.Warn("Tool server unavailable", "url", st.URL, "error", st.LastError)
				return
			}
			slog.Debug("Tool server status", "url", st.URL, "status", st.Status)
		}),
	)
}

func openStore(ctx context.Context, settings *config.Settings) (session.Store, error) {
	switch settings.SessionStore.Driver {
	case "memory":
		return session.NewInMemorySessionStore(), nil
	case "sqlite":
		path := cmp.Or(settings.SessionStore.Path, paths.SessionDB())
		store, err := session.NewSQLiteSessionStore(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session store driver %q", settings.SessionStore.Driver)
	}
}

func (a *app) Close() {
	a.manager.Close()
	if err := a.store.Close(); err != nil {
		slog.Error("Failed to close session store", "error", err)
	}
}
