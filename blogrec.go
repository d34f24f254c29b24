// Package blogrec wires the blog recommendation service together.
//
//	cfg, err := config.Load("")
//	app, err := blogrec.New(cfg, logging.Logger())
//	defer app.Close()
//	http.ListenAndServe(cfg.Server.Addr, app.Handler())
package blogrec

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hubenschmidt/blogrec/config"
	"github.com/hubenschmidt/blogrec/embedding"
	"github.com/hubenschmidt/blogrec/recommend"
	"github.com/hubenschmidt/blogrec/server"
	"github.com/hubenschmidt/blogrec/vector"
)

// Re-exported for callers embedding the engine directly.
type (
	Engine         = recommend.Engine
	Document       = recommend.Document
	Request        = recommend.Request
	Response       = recommend.Response
	Recommendation = recommend.Recommendation
	Payload        = vector.Payload
	Store          = vector.Store
	Provider       = embedding.Provider
)

// App holds the live collaborators of a running service.
type App struct {
	Config   *config.Config
	Store    vector.Store
	Provider embedding.Provider
	Engine   *recommend.Engine
	Server   *server.Server
}

// New constructs every component from cfg. The caller must Close the App.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	store, err := vector.NewStore(cfg.StoreConfig(), logger.With().Str("component", "vector").Logger())
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	provider, err := embedding.NewProvider(cfg.ProviderConfig(), logger.With().Str("component", "embedding").Logger())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}

	engine, err := recommend.NewEngine(store, provider, cfg.RecommendConfig(), logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	srv := server.New(engine, server.Config{
		APIKey:         cfg.Server.APIKey,
		CORSOrigins:    cfg.Server.CORSOrigins,
		WriteRateLimit: cfg.Server.WriteRateLimit,
	}, logger)

	return &App{
		Config:   cfg,
		Store:    store,
		Provider: provider,
		Engine:   engine,
		Server:   srv,
	}, nil
}

// EnsureCollection creates the vector collection if it does not exist.
func (a *App) EnsureCollection(ctx context.Context) error {
	return a.Engine.EnsureCollection(ctx)
}

func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

func (a *App) Close() error {
	return a.Store.Close()
}
