// Package server wires the gateway components together and owns their lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/anttp-gateway/internal/api"
	"github.com/JakeFAU/anttp-gateway/internal/backend"
	"github.com/JakeFAU/anttp-gateway/internal/channel"
	"github.com/JakeFAU/anttp-gateway/internal/clock/system"
	"github.com/JakeFAU/anttp-gateway/internal/config"
	"github.com/JakeFAU/anttp-gateway/internal/id/uuid"
	"github.com/JakeFAU/anttp-gateway/internal/logging"
	"github.com/JakeFAU/anttp-gateway/internal/progress"
	progresssinks "github.com/JakeFAU/anttp-gateway/internal/progress/sinks"
	"github.com/JakeFAU/anttp-gateway/internal/scheduler"
	pgstore "github.com/JakeFAU/anttp-gateway/internal/storage/postgres"
)

// App contains the gateway's long-lived dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	backend     *backend.Client
	progressHub *progress.Hub
	scheduler   *scheduler.Scheduler
	channel     *channel.Handler
	apiServer   *api.Server
	httpServer  *http.Server
	opsServer   *http.Server

	closeOnce sync.Once
	closeErr  error
}

// Build creates the gateway's dependencies. A nil logger is built from
// cfg.Logging and installed as the zap global.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building gateway",
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Backend.Endpoint),
		zap.Int("max_concurrent", cfg.Scheduler.MaxConcurrent),
	)

	var err error
	app.backend, err = backend.New(backend.Config{
		BaseURL: cfg.Backend.Endpoint,
		Timeout: cfg.FetchTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("backend client init failed: %w", err)
	}
	logger.Info("backend client ready", zap.Duration("fetch_timeout", app.backend.Timeout()))

	emitter, err := setupProgress(ctx, app)
	if err != nil {
		return nil, err
	}

	app.scheduler, err = scheduler.New(
		scheduler.Config{MaxConcurrent: cfg.Scheduler.MaxConcurrent},
		app.backend,
		emitter,
		uuid.New(),
		system.New(),
		logging.Component(logger, "scheduler"),
	)
	if err != nil {
		app.closeProgress(ctx)
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	app.channel = channel.NewHandler(channel.Config{
		WriteTimeout:    cfg.Channel.WriteTimeout,
		MaxMessageBytes: cfg.Channel.MaxMessageBytes,
	}, app.scheduler, uuid.New(), logging.Component(logger, "channel"))

	app.apiServer, err = api.NewServer(app.backend, app.channel, api.Config{
		Cinema: api.CinemaConfig{
			Enabled:      cfg.Cinema.Enabled,
			PlayerCSSURL: cfg.Cinema.PlayerCSSURL,
			PlayerJSURL:  cfg.Cinema.PlayerJSURL,
		},
	}, logging.Component(logger, "api"))
	if err != nil {
		app.closeProgress(ctx)
		return nil, fmt.Errorf("api server init failed: %w", err)
	}

	app.httpServer = &http.Server{
		Handler:           app.apiServer.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
	if cfg.Metrics.Addr != "" {
		app.opsServer = &http.Server{
			Handler:           api.NewOpsHandler(app.scheduler, app.channel),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return app, nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	cfg := app.cfg
	if !cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if cfg.Database.DSN != "" {
		retrievals, err := pgstore.NewRetrievalStore(ctx, pgstore.RetrievalStoreConfig{
			DSN:      cfg.Database.DSN,
			Table:    cfg.Database.Table,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("retrieval store init failed: %w", err)
		}
		if err := retrievals.EnsureSchema(ctx); err != nil {
			retrievals.Close()
			return nil, fmt.Errorf("retrieval schema init failed: %w", err)
		}
		sinkList = append(sinkList,
			progresssinks.NewStoreSink(retrievals, logging.Component(app.logger, "progress_store")))
		app.logger.Info("retrieval store initialized", zap.String("table", cfg.Database.Table))
	} else {
		app.logger.Warn("no DSN specified for database, skipping retrieval store")
	}
	if cfg.Progress.LogEnabled {
		sinkList = append(sinkList,
			progresssinks.NewLogSink(logging.Component(app.logger, "progress_log")))
	}
	if len(sinkList) == 0 {
		app.logger.Warn("progress tracking enabled but no sinks configured")
		return nil, nil
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         logging.Component(app.logger, "progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

// Handler exposes the main router, mostly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run binds the configured listeners, serves until ctx is canceled and then
// shuts everything down. Failing to bind is returned immediately.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}
	var opsLn net.Listener
	if a.opsServer != nil {
		opsLn, err = net.Listen("tcp", a.cfg.Metrics.Addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen metrics %s: %w", a.cfg.Metrics.Addr, err)
		}
	}
	return a.Serve(ctx, ln, opsLn)
}

// Serve runs the gateway on already-bound listeners. opsLn may be nil.
func (a *App) Serve(ctx context.Context, ln, opsLn net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	if a.opsServer != nil && opsLn != nil {
		go func() {
			a.logger.Info("ops server started", zap.String("addr", opsLn.Addr().String()))
			if err := a.opsServer.Serve(opsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("ops server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
	defer cancel()
	return a.Close(shutdownCtx)
}

// Close stops accepting requests, fails queued jobs, closes channel sessions
// and flushes progress events. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.scheduler.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler close: %w", err))
		}
		if err := a.channel.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("channel close: %w", err))
		}
		a.closeProgress(ctx)
		if a.opsServer != nil {
			if err := a.opsServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("ops shutdown: %w", err))
			}
		}
		for _, err := range errs {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *App) closeProgress(ctx context.Context) {
	if a.progressHub == nil {
		return
	}
	if err := a.progressHub.Close(ctx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
