// The api binary serves the memory core over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"memcore/internal/config"
	"memcore/internal/di"
	"memcore/internal/infrastructure/tracing"
	apihttp "memcore/internal/interfaces/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("MEMCORE_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		provider, err := tracing.Init(cfg.Tracing.ServiceName, string(cfg.Environment), cfg.Tracing.Endpoint, cfg.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to shut down tracing", zap.Error(err))
			}
		}()
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	watcher, err := config.NewWatcher(configPath, cfg, logger)
	if err != nil {
		return err
	}
	defer watcher.Stop()
	watcher.OnReload(container.ApplyConfig)

	handler := apihttp.NewHandler(
		container.Parser,
		container.Retriever,
		container.Checker,
		container.Reasoner,
		container.Embedder,
		container.Store,
		cfg.Reasoner.NeighborTopK,
		logger,
	)
	router := apihttp.NewRouter(handler, container.Metrics, cfg.Server.AllowedOrigins, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", string(cfg.Environment)),
			zap.String("store_backend", cfg.Store.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(env config.Environment) (*zap.Logger, error) {
	if env == config.Production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
