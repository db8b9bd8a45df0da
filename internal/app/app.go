// Package app wires the hestia components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	grpcapi "github.com/pegacorn/hestia/internal/api/grpc"
	httpapi "github.com/pegacorn/hestia/internal/api/http"
	"github.com/pegacorn/hestia/internal/codec"
	"github.com/pegacorn/hestia/internal/config"
	"github.com/pegacorn/hestia/internal/export"
	"github.com/pegacorn/hestia/internal/observability"
	"github.com/pegacorn/hestia/internal/repository"
	"github.com/pegacorn/hestia/internal/server"
	"github.com/pegacorn/hestia/internal/storage"
	"github.com/pegacorn/hestia/internal/store"
)

// statsPruneInterval is how often expired parameter statistics are dropped.
const statsPruneInterval = 5 * time.Minute

// App owns the store connection and every component built on it.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Shared resources
	conn     store.Conn
	repos    *repository.Set
	metrics  *observability.Metrics
	objects  storage.ObjectStorage
	exporter *export.Exporter
	shutdown *server.ShutdownManager

	// Service components
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcHealth   *health.Server
	grpcListener net.Listener
	scheduler    *export.Scheduler

	// Lifecycle
	mu      sync.Mutex
	opened  bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:    cfg,
		logger: slog.Default().With("component", "app"),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			DrainTimeout:    cfg.HTTP.ShutdownTimeout / 2,
		}),
	}, nil
}

// Open connects to the store and builds the repositories, metrics, export
// storage and exporter. It is called by Start; one-shot commands call it
// directly and Close when done.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}

	conn, err := store.Open(ctx, a.cfg.StoreOpenConfig())
	if err != nil {
		return err
	}
	a.conn = conn
	a.shutdown.RegisterCloser("store", conn)

	var opts []repository.Option
	var exportObserver export.Observer
	if a.cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics(prometheus.NewRegistry(),
			observability.NewQueryStats(a.cfg.Metrics.StatsWindow))
		opts = append(opts, repository.WithObserver(a.metrics))
		exportObserver = a.metrics
	}

	a.repos, err = repository.NewSet(conn, codec.DefaultRegistry(), opts...)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to build repositories: %w", err)
	}

	a.objects, err = openObjectStorage(ctx, a.cfg.Export)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open export storage: %w", err)
	}
	a.exporter = export.NewExporter(a.repos,
		export.NewObjectSink(a.objects, export.SinkOptions{
			Prefix:   a.cfg.Export.Prefix,
			Compress: a.cfg.Export.Compress,
		}),
		exportObserver,
	)

	a.opened = true
	a.logger.Info("store opened", "type", a.cfg.Store.Type, "dsn", a.cfg.Store.DSN)
	return nil
}

// openObjectStorage opens the export target named by the configuration.
func openObjectStorage(ctx context.Context, cfg config.ExportConfig) (storage.ObjectStorage, error) {
	switch cfg.Storage {
	case "local", "":
		return storage.NewLocalStorage(cfg.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported export storage: %s", cfg.Storage)
	}
}

// Start opens shared resources and starts the HTTP server, the gRPC server
// when enabled, and the export scheduler when a schedule is configured.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.Open(ctx); err != nil {
		a.setStopped()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.startScheduler(ctx); err != nil {
		a.abort()
		return err
	}
	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.abort()
			return err
		}
	}
	if err := a.startHTTP(); err != nil {
		a.abort()
		return err
	}
	if a.metrics != nil {
		a.startStatsPruner(ctx)
	}

	a.logger.Info("hestia started", "http", a.HTTPAddr(), "grpc", a.GRPCAddr())
	return nil
}

func (a *App) startScheduler(ctx context.Context) error {
	kinds, err := a.cfg.ExportKinds()
	if err != nil {
		return err
	}
	a.scheduler = export.NewScheduler(a.exporter, a.cfg.Export.Schedule, kinds)
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start export scheduler: %w", err)
	}
	a.shutdown.RegisterCloser("scheduler", server.CloserFunc(func() error {
		a.scheduler.Stop()
		return nil
	}))
	return nil
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcListener = lis
	a.grpcServer, a.grpcHealth = grpcapi.NewServer(a.repos)

	a.shutdown.OnShutdownStart(a.grpcHealth.Shutdown)
	a.shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.logger.Error("gRPC server error", "error", err)
		}
	}()
	return nil
}

func (a *App) startHTTP() error {
	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address: %w", err)
	}
	a.httpListener = lis

	deps := httpapi.Dependencies{
		Repos:    a.repos,
		Store:    a.conn,
		Exporter: a.exporter,
		Metrics:  a.metrics,
		Shutdown: a.shutdown,
	}
	a.httpServer = &http.Server{
		Handler:      httpapi.NewRouter(deps),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser("http", server.HTTPServerCloser(a.httpServer, a.cfg.HTTP.ShutdownTimeout))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("HTTP server listening", "addr", lis.Addr().String())
		if err := a.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

func (a *App) startStatsPruner(ctx context.Context) {
	stats := a.metrics.Stats()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(statsPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.Prune()
			}
		}
	}()
}

// Stop drains in-flight requests and closes servers, the scheduler and the
// store, in that order.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Info("initiating graceful shutdown")
	err := a.shutdown.Shutdown(ctx, "stop requested")
	if a.cancel != nil {
		a.cancel()
	}
	a.wait(ctx)

	a.logger.Info("hestia stopped")
	return err
}

// Close releases resources opened by Open without starting any server.
func (a *App) Close() error {
	return a.shutdown.Shutdown(context.Background(), "close")
}

// WaitForShutdown blocks until SIGTERM or SIGINT arrives or ctx is done,
// then shuts down. Callers follow it with Stop to wait for the servers.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

func (a *App) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout, some goroutines may not have finished")
	}
}

// abort releases everything after a failed Start.
func (a *App) abort() {
	a.shutdown.Shutdown(context.Background(), "start failed")
	if a.cancel != nil {
		a.cancel()
	}
	a.wait(context.Background())
	a.setStopped()
}

func (a *App) setStopped() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is not running.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Repositories returns the repository set. Valid after Open.
func (a *App) Repositories() *repository.Set { return a.repos }

// Exporter returns the bulk exporter. Valid after Open.
func (a *App) Exporter() *export.Exporter { return a.exporter }

// ObjectStorage returns the export target. Valid after Open.
func (a *App) ObjectStorage() storage.ObjectStorage { return a.objects }

// Metrics returns the metrics collector, or nil when metrics are disabled.
func (a *App) Metrics() *observability.Metrics { return a.metrics }
