// inok-console is the console daemon: it holds the admin session against the
// INOK API and serves the JSON routes the browser UI calls.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/inok-dev/inok-console/internal/api"
	"github.com/inok-dev/inok-console/internal/config"
	"github.com/inok-dev/inok-console/internal/notify"
	"github.com/inok-dev/inok-console/internal/observability"
	"github.com/inok-dev/inok-console/internal/session"
	"github.com/inok-dev/inok-console/internal/vault"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flags := pflag.NewFlagSet("inok-console", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "config file (default $INOK_CONFIG)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// 1. Configuration and logging
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	observability.Configure(logger)
	gin.SetMode(gin.ReleaseMode)

	// 2. API client over the persisted session
	sealer, err := cfg.Sealer()
	if err != nil {
		return err
	}
	client, err := sdk.Open(sdk.Options{
		BaseURL:     cfg.API.URL,
		SessionFile: cfg.Session.File,
		Sealer:      sealer,
		Timeout:     cfg.APITimeout(),
		Logger:      logger,
		Navigator: sdk.NavigatorFunc(func() {
			logger.Info("session expired, browser will be sent to login", "route", api.LoginRoute)
		}),
	})
	if err != nil {
		return err
	}

	// 3. Session store. Requests wait on it until the stored token is checked.
	store := session.New(client, session.Config{Logger: logger})
	go func() {
		state := store.Initialize(context.Background())
		logger.Info("session resolved", "state", state.String())
	}()

	// 4. HTTP routes
	feed := notify.NewFeed(0, cfg.NotificationTTL())
	handler := &api.Handler{
		Session:   store,
		Client:    client,
		Presenter: notify.Multi{feed, logPresenter{}},
		Feed:      feed,
	}
	server := &http.Server{
		Addr:              cfg.Console.Addr,
		Handler:           api.NewRouter(handler, logger, cfg.Console.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Console.TLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("generating TLS certificate: %w", err)
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	// 5. Serve until a shutdown signal arrives
	errCh := make(chan error, 1)
	go func() {
		logger.Info("console listening", "addr", cfg.Console.Addr, "tls", cfg.Console.TLS, "api", client.BaseURL())
		if cfg.Console.TLS {
			errCh <- server.ListenAndServeTLS("", "")
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// logPresenter mirrors user notifications into the daemon log.
type logPresenter struct{}

func (logPresenter) Success(message string) {
	observability.Logger().Info("notification", "level", notify.LevelSuccess, "message", message)
}

func (logPresenter) Failure(err error) {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		observability.Logger().Warn("notification", "level", notify.LevelError, "detail", apiErr.Detail())
		return
	}
	observability.Logger().Warn("notification", "level", notify.LevelError, "error", err)
}
