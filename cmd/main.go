package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/proctor/internal/adapters/http/api"
	"github.com/okian/proctor/internal/adapters/http/stream"
	"github.com/okian/proctor/internal/adapters/inference"
	"github.com/okian/proctor/internal/adapters/mq/bus"
	"github.com/okian/proctor/internal/adapters/repository"
	app "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// HTTP server timeout constants. Writes are unbounded so websocket streams
// survive; each handler bounds its own work.
const (
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	// Runtime collectors go on our registry, not the default one.
	metrics.GetRegistry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.Init(logger.WithFormat(cfg.Log.Format)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if err := logger.SetLevelString(cfg.Log.Level); err != nil {
		logger.Get().Warn(ctx, "invalid log level; falling back to info", logger.String("level", cfg.Log.Level), logger.Error(err))
	}

	if err := run(ctx, cfg, logger.Get()); err != nil {
		logger.Get().Error(ctx, "server exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := buildStore(cfg, log)
	if err != nil {
		return err
	}

	opts := []app.Option{
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithBus(bus.New(bus.WithLogger(log.Named("bus")))),
		app.WithDefaults(cfg.Detection),
		app.WithQueueCapacity(cfg.Engine.QueueCapacity),
		app.WithDedupeSize(cfg.Engine.DedupeSize),
		app.WithStopTimeout(cfg.Engine.StopTimeout),
	}
	inferrer, err := buildInferrer(cfg, log)
	if err != nil {
		_ = store.Close()
		return err
	}
	if inferrer != nil {
		opts = append(opts, app.WithInferrer(inferrer))
	}

	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return err
	}

	srv := newHTTPServer(cfg, svc, log)
	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	// Flushes every live session; they resume as open records on restart.
	svc.Stop(shutdownCtx)

	log.Info(ctx, "server stopped")
	return err
}

// buildStore opens the configured session store.
func buildStore(cfg *config.Config, log logger.Logger) (repository.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return repository.NewMemoryStore(), nil
	}
	return repository.OpenBadger(cfg.Storage.Path,
		repository.WithLogger(log.Named("store")),
		repository.WithGCInterval(cfg.Storage.GCInterval),
		repository.WithSyncWrites(cfg.Storage.SyncWrites),
	)
}

// buildInferrer returns the remote device detector, or nil when none is
// configured.
func buildInferrer(cfg *config.Config, log logger.Logger) (*inference.Client, error) {
	if cfg.Inference.URL == "" {
		return nil, nil
	}
	return inference.New(cfg.Inference.URL,
		inference.WithLogger(log.Named("inference")),
		inference.WithTimeout(cfg.Inference.Timeout),
		inference.WithBreaker(cfg.Inference.BreakerFailures, cfg.Inference.BreakerOpen),
	)
}

func newHTTPServer(cfg *config.Config, svc *app.Service, log logger.Logger) *http.Server {
	apiLog := log.Named("api")
	streams := stream.New(svc,
		stream.WithLogger(log.Named("stream")),
		stream.WithErrorWriter(api.ErrorWriter(apiLog)),
		stream.WithAllowedOrigins(cfg.HTTP.AllowedOrigins...),
	)
	server := api.NewServer(svc,
		api.WithLogger(apiLog),
		api.WithStream(streams),
		api.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow),
	)
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Routes(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
