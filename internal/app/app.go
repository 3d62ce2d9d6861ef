package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"ConcertTracker/internal/config"
	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/infrastructure/httpapi"
	"ConcertTracker/internal/infrastructure/scheduler"
	"ConcertTracker/internal/infrastructure/sources"
	"ConcertTracker/internal/infrastructure/storage"
	"ConcertTracker/internal/logging"
	"ConcertTracker/internal/metrics"
	"ConcertTracker/internal/ports"
	"ConcertTracker/internal/ratelimit"
	"ConcertTracker/internal/reconcile"
	"ConcertTracker/internal/source"
	"ConcertTracker/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	server    *http.Server
	db        *sql.DB
}

// stores groups the three repository ports behind one value so both the
// memory and the Postgres implementation can be plugged in whole.
type stores struct {
	entities ports.EntityRepository
	records  ports.RecordRepository
	tours    ports.TourRepository
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	limiter, err := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowDuration())
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	app := &Application{cfg: cfg, logger: baseLogger}

	st, err := app.buildStores(ctx)
	if err != nil {
		return nil, err
	}

	registry := source.NewRegistry()
	registry.Register(sources.NewSearchAPIClient(
		cfg.SearchAPI.BaseURL,
		cfg.SearchAPI.Token,
		nil,
		limiter.ApplyExternalOverride,
		baseLogger.With("component", "source.search"),
	))
	registry.Register(sources.NewNoticeBoardScanner(nil))

	multi := sources.NewMultiSource(registry, cfg.Sources, baseLogger.With("component", "source"))

	m := metrics.New()
	engine := reconcile.New(st.tours, baseLogger)

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:        multi,
		Entities:      st.entities,
		Records:       st.records,
		Tours:         st.tours,
		Limiter:       limiter,
		Engine:        engine,
		Metrics:       m,
		Logger:        baseLogger,
		MaxRetries:    cfg.Fetch.MaxRetries,
		BackoffBase:   cfg.Fetch.BackoffBaseDuration(),
		PageSize:      cfg.Fetch.PageSize,
		Workers:       cfg.Pipeline.Workers,
		MaxBudgetWait: cfg.Pipeline.MaxBudgetWaitDuration(),
	})

	api := httpapi.NewServer(httpapi.ServerDeps{
		Pipeline: pipeline,
		Limiter:  limiter,
		Records:  st.records,
		Tours:    st.tours,
		Metrics:  m,
		Logger:   baseLogger,
	})

	app.pipeline = pipeline
	app.scheduler = usecase.NewScheduler(
		scheduler.NewIntervalScheduler(cfg.Pipeline.IntervalDuration()),
		pipeline,
	)
	app.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return app, nil
}

func (a *Application) buildStores(ctx context.Context) (stores, error) {
	seeds := make([]domain.TrackedEntity, 0, len(a.cfg.Entities))
	for _, e := range a.cfg.Entities {
		seeds = append(seeds, domain.TrackedEntity{
			Name:            e.Name,
			NativeName:      e.NativeName,
			Handle:          e.Handle,
			OfficialHandles: e.OfficialHandles,
			Aliases:         e.Aliases,
			HomeCountry:     e.HomeCountry,
			NoticeURL:       e.NoticeURL,
		})
	}

	if a.cfg.Database.DSN == "" {
		a.logger.Info("no database configured, using in-memory store")
		mem := storage.NewMemoryStore()
		for _, e := range seeds {
			mem.AddEntity(e)
		}
		return stores{entities: mem, records: mem, tours: mem}, nil
	}

	db, err := sql.Open("postgres", a.cfg.Database.DSN)
	if err != nil {
		return stores{}, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return stores{}, fmt.Errorf("ping database: %w", err)
	}
	a.db = db

	pg := storage.NewPostgresStore(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		return stores{}, fmt.Errorf("ensure schema: %w", err)
	}
	if err := pg.SeedEntities(ctx, seeds); err != nil {
		return stores{}, fmt.Errorf("seed entities: %w", err)
	}

	return stores{entities: pg, records: pg, tours: pg}, nil
}

// Run starts the scheduler and the HTTP server, then blocks until the
// context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Error("stop scheduler", "error", err)
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown http server", "error", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("close database", "error", err)
		}
	}

	return nil
}
