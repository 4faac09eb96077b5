// inok-backend serves a local INOK API over the file-backed document engine.
// It is meant for development and for running the console without the
// production API.
//
//	inok-backend [--config file]          serve the API
//	inok-backend export <dir> [--config]  copy the data directory to dir
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/inok-dev/inok-console/internal/backend"
	"github.com/inok-dev/inok-console/internal/config"
	"github.com/inok-dev/inok-console/internal/engine"
	"github.com/inok-dev/inok-console/internal/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	flags := pflag.NewFlagSet("inok-backend", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "config file (default $INOK_CONFIG)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	observability.Configure(logger)

	// 1. Load the data directory into the engine
	persister, err := engine.NewPersistence(cfg.Backend.DataDir, logger)
	if err != nil {
		return fmt.Errorf("initializing persistence: %w", err)
	}
	initialData, err := persister.LoadAll()
	if err != nil {
		logger.Warn("could not load existing data", "dir", cfg.Backend.DataDir, "error", err)
	}
	store := engine.NewMemStore(initialData, persister)
	logger.Info("engine started", "dir", cfg.Backend.DataDir, "collections", len(initialData))

	rest := flags.Args()
	if len(rest) > 0 {
		switch rest[0] {
		case "export":
			if len(rest) != 2 {
				return errors.New("usage: inok-backend export <dir>")
			}
			return export(store, rest[1], logger)
		default:
			return fmt.Errorf("unknown command %q", rest[0])
		}
	}
	return serve(cfg, store, logger)
}

func serve(cfg *config.Config, store *engine.MemStore, logger *slog.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	api := backend.New(backend.Config{
		Store:           store,
		Logger:          logger,
		SessionTTL:      cfg.SessionTTL(),
		LoginsPerMinute: cfg.Backend.LoginsPerMinute,
	})

	if cfg.Backend.AdminPassword != "" {
		if _, err := api.SeedAdmin(cfg.Backend.AdminName, cfg.Backend.AdminEmail, cfg.Backend.AdminPassword); err != nil {
			return fmt.Errorf("seeding admin: %w", err)
		}
	}

	server := &http.Server{
		Addr:              cfg.Backend.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening", "addr", cfg.Backend.Addr)
		errCh <- server.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, finalizing disk writes")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	store.Wait()
	logger.Info("persistence complete")
	return err
}

// export copies every collection into a fresh data directory.
func export(src *engine.MemStore, dir string, logger *slog.Logger) error {
	persister, err := engine.NewPersistence(dir, logger)
	if err != nil {
		return err
	}
	dst := engine.NewMemStore(nil, persister)
	if err := engine.Migrate(src, dst); err != nil {
		return err
	}
	dst.Wait()

	collections, _ := dst.Collections()
	logger.Info("export complete", "dir", dir, "collections", len(collections))
	return nil
}
