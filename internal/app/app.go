package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aviz85/gemini-video-playground/internal/config"
	"github.com/aviz85/gemini-video-playground/internal/db"
	"github.com/aviz85/gemini-video-playground/internal/handlers"
	"github.com/aviz85/gemini-video-playground/internal/httpserver"
	"github.com/aviz85/gemini-video-playground/internal/logging"
)

const usage = "expected command: serve, migrate, seed, run-batch, import-csv, or embed"

// Run bootstraps the video playground backend.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	case "run-batch":
		return runBatch(ctx, args[1:])
	case "import-csv":
		return importCSV(ctx, args[1:])
	case "embed":
		return embedSummaries(ctx)
	default:
		return fmt.Errorf("unknown command %q: %s", args[0], usage)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(logging.NewHandler(os.Stdout, cfg.LogFormat, cfg.LogLevel))
	slog.SetDefault(logger)
	return logger
}

// environment is the shared setup of every command that talks to the database
// and the external APIs.
type environment struct {
	cfg     config.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
	comps   components
	cleanup func(context.Context) error
}

func openEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireSecrets(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	comps, cleanup, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &environment{cfg: cfg, logger: logger, pool: pool, comps: comps, cleanup: cleanup}, nil
}

func (e *environment) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()
	if err := e.cleanup(ctx); err != nil {
		e.logger.Warn("batch queue did not drain", "error", err)
	}
	e.pool.Close()
}

func serve(ctx context.Context) error {
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	router := handlers.NewRouter(env.comps.HTTP)
	srv := httpserver.New(env.cfg.AppPort, router, env.cfg.HTTPWriteTimeout)

	env.logger.Info("starting http server", "port", env.cfg.AppPort, "defaultModel", env.cfg.Gemini.DefaultModel)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case <-ctx.Done():
		env.logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		env.logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
