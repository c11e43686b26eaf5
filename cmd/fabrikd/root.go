package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabriksoft/fabrikd/internal/api"
	"github.com/fabriksoft/fabrikd/internal/config"
	"github.com/fabriksoft/fabrikd/internal/localdb"
	"github.com/fabriksoft/fabrikd/internal/store"
	fabsync "github.com/fabriksoft/fabrikd/internal/sync"
	"github.com/fabriksoft/fabrikd/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "fabrikd",
	Short: "Fabrikd - offline-first factory sync backend",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "mode", cfg.Mode, "level", cfg.Log.Level)

	var wg sync.WaitGroup
	var handler *api.Handler
	var closers []func() error

	switch cfg.Mode {
	case config.ModeHub:
		backend := store.Select(cfg.Database.URL, store.DefaultRetention)
		closers = append(closers, backend.Close)
		slog.Info("store initialized", "backend", backend.Name())

		handler = api.NewHubHandler(
			store.NewMirror(backend),
			store.NewChangeLog(backend),
			Version,
			backend.Name(),
			cfg.ExposeErrorDetails(),
		)

	case config.ModeLocal:
		db, err := localdb.Open(cfg.Database.LocalPath)
		if err != nil {
			return err
		}
		closers = append(closers, db.Close)
		slog.Info("local database initialized", "path", cfg.Database.LocalPath)

		var remote fabsync.Applier
		if cfg.Database.URL != "" {
			applier, err := fabsync.NewPostgresApplier(cfg.Database.URL)
			if err != nil {
				return err
			}
			closers = append(closers, applier.Close)
			remote = applier
		} else {
			slog.Warn("no DATABASE_URL configured, changes will queue locally")
		}

		engine := fabsync.NewEngine(db, remote, cfg.Sync.MaxAttempts)
		handler = api.NewLocalHandler(
			&localStatus{db: db, maxAttempts: cfg.Sync.MaxAttempts},
			engine,
			Version,
			cfg.ExposeErrorDetails(),
		)

		if remote != nil {
			coordinator := worker.NewSyncCoordinator(engine, time.Duration(cfg.Sync.Interval))
			startWorker(ctx, &wg, "sync-coordinator", coordinator.Run)
		}
	}

	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	go func() {
		slog.Info("server starting", "address", addr, "mode", cfg.Mode)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Anything else is a real failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			slog.Error("close error", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// localStatus exposes queue health with the engine's dead-letter threshold
// baked in.
type localStatus struct {
	db          *localdb.DB
	maxAttempts int
}

func (s *localStatus) SyncStatus(ctx context.Context) (*localdb.SyncStatus, error) {
	return s.db.Status(ctx, s.maxAttempts)
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
