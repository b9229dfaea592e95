package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/internal/api"
	"github.com/AregGevorgyan/tomatocode/internal/config"
	"github.com/AregGevorgyan/tomatocode/internal/engine"
	"github.com/AregGevorgyan/tomatocode/internal/evaluator"
	"github.com/AregGevorgyan/tomatocode/internal/sandbox"
	"github.com/AregGevorgyan/tomatocode/internal/scheduler"
	"github.com/AregGevorgyan/tomatocode/internal/store"
	"github.com/AregGevorgyan/tomatocode/internal/ws"
)

// Application wires all components together. Initialization order
// follows dependencies: store -> sandbox -> evaluator -> registry ->
// scheduler -> engine -> websocket handler -> HTTP server.
type Application struct {
	cfg        *config.Config
	logger     *zap.Logger
	adapter    store.Adapter
	store      *store.Store
	executor   *sandbox.Executor
	registry   *ws.Registry
	scheduler  *scheduler.Manager
	engine     *engine.Engine
	httpServer *http.Server
}

func New(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	adapter, err := store.OpenAdapter(context.Background(), cfg.KV, logger)
	if err != nil {
		return nil, fmt.Errorf("open KV adapter: %w", err)
	}
	sessionStore := store.New(adapter, logger)

	executor, err := sandbox.New(cfg.Sandbox.TempDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize sandbox: %w", err)
	}

	evalClient := evaluator.NewClient(
		cfg.Evaluator.APIKey,
		cfg.Evaluator.APIURL,
		cfg.Evaluator.Model,
		cfg.Evaluator.RateLimit,
		logger,
	)
	if !evalClient.IsAvailable() {
		logger.Warn("LM_API_KEY not set, summaries disabled")
	}
	limiter := evaluator.NewKeyedLimiter()

	registry := ws.NewRegistry(logger)
	sched := scheduler.NewManager(sessionStore, registry, evalClient, limiter,
		cfg.Session.SummaryInterval, logger)
	eng := engine.New(sessionStore, registry, executor, evalClient, limiter, sched,
		cfg.Session.DisconnectGrace, logger)
	wsHandler := ws.NewHandler(eng, cfg.Session.IdleTimeout, logger)

	apiServer := api.NewServer(sessionStore, eng, registry, wsHandler,
		cfg.HTTP.CORSOrigin, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		logger:     logger,
		adapter:    adapter,
		store:      sessionStore,
		executor:   executor,
		registry:   registry,
		scheduler:  sched,
		engine:     eng,
		httpServer: httpServer,
	}, nil
}

// Start begins serving. It returns once the listener is up or startup
// has failed.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting tomatocode server", zap.String("addr", a.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		a.logger.Info("server started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts everything down in reverse dependency order: listener,
// engine (schedulers, grace timers, endpoints), sandbox scratch files,
// KV adapter.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown error", zap.Error(err))
	}

	a.engine.Shutdown()
	a.executor.Cleanup()

	if a.adapter != nil {
		if err := a.adapter.Close(); err != nil {
			a.logger.Warn("KV adapter close error", zap.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Addr returns the listen address.
func (a *Application) Addr() string {
	return a.httpServer.Addr
}
