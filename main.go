package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fthsrlk/MovieApp-ML/handlers"
	"github.com/fthsrlk/MovieApp-ML/lib/config"
	"github.com/fthsrlk/MovieApp-ML/lib/engine"
	"github.com/fthsrlk/MovieApp-ML/lib/health"
	"github.com/fthsrlk/MovieApp-ML/lib/ingest"
	"github.com/fthsrlk/MovieApp-ML/lib/lock"
	"github.com/fthsrlk/MovieApp-ML/lib/metrics"
	"github.com/fthsrlk/MovieApp-ML/lib/plex"
	"github.com/fthsrlk/MovieApp-ML/lib/store"
	"github.com/fthsrlk/MovieApp-ML/lib/tmdb"
)

type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	tmdb    *tmdb.Client
	holder  *engine.Holder
	trainer *engine.Trainer
	loader  *ingest.Loader
	lock    *lock.FileLock
	router  *chi.Mux
}

func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	tmdbClient := tmdb.NewClient(cfg.TMDb.APIKey, cfg.TMDb.Language, logger)

	var plexClient *plex.Client
	if cfg.Plex.Enabled {
		plexClient = plex.NewClient(cfg.Plex.URL, cfg.Plex.Token, logger)
	}

	var enricher *ingest.Enricher
	if cfg.OpenAI.Enabled {
		enricher = ingest.NewEnricher(cfg.OpenAI.APIKey, logger)
	}

	app := &App{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		tmdb:    tmdbClient,
		holder:  &engine.Holder{},
		trainer: engine.NewTrainer(cfg.Engine.Content, cfg.Engine.Collaborative, cfg.Engine.Hybrid, logger),
		loader:  ingest.NewLoader(st, tmdbClient, plexClient, enricher, logger),
		lock:    lock.NewFileLock(logger),
		router:  chi.NewRouter(),
	}

	app.setupRoutes()
	return app, nil
}

func (a *App) setupRoutes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(metrics.Instrument)

	a.router.Get("/health", health.Check(a.store.DB(), a.holder))
	a.router.Handle("/metrics", metrics.Handler())

	a.router.Route("/api", func(r chi.Router) {
		r.Get("/health", health.Check(a.store.DB(), a.holder))
		r.Get("/recommendations/{userID}", handlers.HandleRecommendations(a.store, a.holder))
		r.Get("/similar/{itemID}", handlers.HandleSimilar(a.store, a.holder))
		r.Get("/popular", handlers.HandlePopular(a.store))
		r.Get("/search", handlers.HandleSearch(a.tmdb))
		r.Get("/items/{itemID}", handlers.HandleItem(a.store))
		r.Get("/stats", handlers.HandleStats(a.store, a.holder))

		r.Post("/ratings", handlers.HandleRate(a.store))
		r.Get("/ratings/{userID}", handlers.HandleUserRatings(a.store))
		r.Delete("/ratings/{userID}/{itemID}", handlers.HandleDeleteRating(a.store))

		r.Post("/watchlist", handlers.HandleWatchlistAdd(a.store))
		r.Get("/watchlist/{userID}", handlers.HandleWatchlist(a.store))
		r.Delete("/watchlist/{userID}/{itemID}", handlers.HandleWatchlistRemove(a.store))

		r.Post("/train", handlers.HandleTrain(a.store, a.trainer, a.holder, a.lock, a.cfg.Engine.ModelDir))
		r.Post("/sync/popular", handlers.HandleSyncPopular(a.loader))
		r.Post("/sync/plex", handlers.HandleSyncPlex(a.loader))
		r.Post("/sync/movielens", handlers.HandleSyncMovieLens(a.loader, a.cfg.Engine.MovieLensDir))
	})
}

// restoreSnapshot loads persisted model units so serving resumes
// without retraining. A missing or corrupt unit is not fatal; the
// process starts cold and serves the popularity fallback.
func (a *App) restoreSnapshot(ctx context.Context) {
	events, err := a.store.TrainingEvents(ctx)
	if err != nil {
		a.logger.Error("Failed to load ratings for snapshot restore", slog.Any("error", err))
		return
	}

	snapshot, err := engine.LoadSnapshot(a.cfg.Engine.ModelDir, events, a.cfg.Engine.Hybrid, a.logger)
	if err != nil {
		var deser *engine.DeserializationError
		if errors.As(err, &deser) {
			a.logger.Warn("No usable persisted snapshot, starting cold",
				slog.String("path", deser.Path),
				slog.String("reason", deser.Reason))
		} else {
			a.logger.Error("Failed to restore snapshot", slog.Any("error", err))
		}
		return
	}

	a.holder.Swap(snapshot)
	metrics.SnapshotUsers.Set(float64(snapshot.Ratings.Users()))
	a.logger.Info("Restored model snapshot",
		slog.String("snapshot_id", snapshot.ID),
		slog.Bool("collaborative", snapshot.Collab.IsTrained()))
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", slog.Any("error", err))
		os.Exit(1)
	}

	app.restoreSnapshot(context.Background())

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	logger.Info("Starting server", slog.String("addr", cfg.Server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
