// Package app wires long-lived services together: the control loop, the
// telemetry hub and its sinks, the run repository, the task pool, the file
// cache and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/workbench-tasks/internal/api"
	"github.com/JakeFAU/workbench-tasks/internal/config"
	"github.com/JakeFAU/workbench-tasks/internal/fscache"
	"github.com/JakeFAU/workbench-tasks/internal/loop"
	"github.com/JakeFAU/workbench-tasks/internal/memtrack"
	"github.com/JakeFAU/workbench-tasks/internal/pool"
	"github.com/JakeFAU/workbench-tasks/internal/progress"
	"github.com/JakeFAU/workbench-tasks/internal/progress/sinks"
	"github.com/JakeFAU/workbench-tasks/internal/scan"
	"github.com/JakeFAU/workbench-tasks/internal/storage/memory"
	"github.com/JakeFAU/workbench-tasks/internal/storage/postgres"
	"github.com/JakeFAU/workbench-tasks/internal/store"
)

// Option overrides a dependency App would otherwise build from config.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	repo       store.RunRepository
	publisher  sinks.Publisher
}

// WithRegisterer sets the registry the run metrics sink registers on.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRunRepository replaces the configured run repository.
func WithRunRepository(repo store.RunRepository) Option {
	return func(o *options) { o.repo = repo }
}

// WithPublisher replaces the Pub/Sub topic publisher.
func WithPublisher(pub sinks.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

// App holds the shared services. It is built once at startup.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	loop   *loop.Loop
	hub    *progress.Hub
	repo   store.RunRepository
	closer func()
	pool   *pool.Pool
	cache  *fscache.Cache
	memory *memtrack.Tracker
	api    *api.Server
}

// New builds every service described by cfg. It fails fast when a
// configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, closer: func() {}}

	repo, err := a.buildRepository(ctx, o.repo)
	if err != nil {
		return nil, err
	}
	a.repo = repo

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		a.closer()
		return nil, fmt.Errorf("init run metrics: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(logger.Named("runs")),
		promSink,
		sinks.NewStoreSink(repo, logger.Named("store_sink")),
	}
	pub := o.publisher
	if pub == nil && cfg.PubSub.ProjectID != "" {
		topic, err := sinks.NewTopicPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			a.closer()
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		logger.Info("publishing run completions",
			zap.String("project_id", cfg.PubSub.ProjectID),
			zap.String("topic_id", cfg.PubSub.TopicID),
		)
		pub = topic
	}
	if pub != nil {
		hubSinks = append(hubSinks, sinks.NewPubSubSink(pub, logger.Named("pubsub_sink")))
	}

	batchWait, sinkTimeout := cfg.HubTimings()
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   batchWait,
		SinkTimeout:    sinkTimeout,
		Logger:         logger.Named("hub"),
	}, hubSinks...)

	a.cache, err = fscache.New(cfg.Cache.MaxSize, cfg.CacheTTL())
	if err != nil {
		a.closer()
		return nil, err
	}

	a.memory, err = memtrack.New(o.registerer)
	if err != nil {
		a.closer()
		return nil, err
	}

	a.loop = loop.New(logger.Named("loop"))
	a.pool = pool.New(pool.Config{MaxWorkers: cfg.Pool.MaxWorkers},
		pool.WithLogger(logger.Named("pool")),
		pool.WithDispatcher(a.loop),
		pool.WithEmitter(a.hub),
	)
	apiOpts := []api.Option{
		api.WithTaskKind(scan.Kind, scan.FromParams(a.cache)),
		api.WithRequestTimeout(cfg.RequestTimeout()),
		api.WithMemoryTracker(a.memory),
	}
	if cfg.Auth.Enabled {
		apiOpts = append(apiOpts, api.WithAPIKey(cfg.Auth.APIKey))
	}
	a.api = api.NewServer(a.pool, repo, logger.Named("api"), apiOpts...)

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.Int("max_workers", a.pool.MaxWorkers()),
	)
	return a, nil
}

func (a *App) buildRepository(ctx context.Context, override store.RunRepository) (store.RunRepository, error) {
	if override != nil {
		return override, nil
	}
	switch a.cfg.Storage.Provider {
	case config.StoragePostgres:
		rs, err := postgres.NewRunStore(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.ConnLifetime(),
		})
		if err != nil {
			return nil, fmt.Errorf("init run store: %w", err)
		}
		if a.cfg.DB.Migrate {
			if err := rs.Migrate(ctx); err != nil {
				rs.Close()
				return nil, err
			}
		}
		a.closer = rs.Close
		return rs, nil
	case config.StorageMemory, "":
		return memory.NewRunStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

// Loop returns the control loop notifications are delivered on.
func (a *App) Loop() *loop.Loop { return a.loop }

// Pool returns the named task pool.
func (a *App) Pool() *pool.Pool { return a.pool }

// Cache returns the file info cache.
func (a *App) Cache() *fscache.Cache { return a.cache }

// Memory returns the component memory tracker.
func (a *App) Memory() *memtrack.Tracker { return a.memory }

// Repository returns the run repository.
func (a *App) Repository() store.RunRepository { return a.repo }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Serve runs the control loop and serves the API on ln until ctx ends, then
// shuts the server down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(a.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Run listens on the configured port and calls Serve.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Close stops the pool, drains the control loop, flushes telemetry and
// releases the repository. It is safe to call once after Run returns.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	if err := a.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.loop.Close()
	a.loop.Drain()
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if dropped := a.hub.Dropped(); dropped > 0 {
		a.logger.Warn("run events lost to backpressure", zap.Int64("dropped", dropped))
	}
	a.closer()
	return errors.Join(errs...)
}
