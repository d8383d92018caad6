// Command sso runs the single-sign-on service.
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

	"github.com/agusdev/sso"
	"github.com/agusdev/sso/email"
	"github.com/agusdev/sso/instrumentation"
	"github.com/agusdev/sso/security"
	"github.com/agusdev/sso/storage/postgres"
	"github.com/agusdev/sso/storage/valkey"
	"github.com/agusdev/sso/tokens"
	"github.com/agusdev/sso/users"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 15 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Service terminated", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := sso.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.PostgresURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	kv, err := valkey.New(valkey.Config{
		Address:  cfg.ValkeyAddress,
		Password: cfg.ValkeyPassword,
		DB:       cfg.ValkeyDB,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer kv.Close()

	tokenService, err := tokens.NewService([]byte(cfg.JWTSecret), kv, logger)
	if err != nil {
		return err
	}

	userService, err := users.NewService(db, logger)
	if err != nil {
		return err
	}

	rateLimiter, err := security.NewRateLimiter(kv, logger)
	if err != nil {
		return err
	}

	ipLimiter := security.NewIPRateLimiter(10, 20, logger)
	defer ipLimiter.Stop()

	auditor := security.NewAuditor(logger, cfg.AuditEnabled)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "sso",
		Enabled:     cfg.MetricsEnabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	var mailer email.Sender
	if cfg.SMTPHost != "" {
		mailer, err = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			BaseURL:  cfg.BaseURL,
		}, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("SMTP not configured, activation emails disabled")
	}

	flows, err := sso.NewFlows(tokenService, db, auditor, logger)
	if err != nil {
		return err
	}

	server, err := sso.NewServer(sso.ServerConfig{
		Tokens:          tokenService,
		Flows:           flows,
		Users:           userService,
		Clients:         db,
		RateLimiter:     rateLimiter,
		Mailer:          mailer,
		IPLimiter:       ipLimiter,
		Auditor:         auditor,
		Instrumentation: inst,
		StaticDir:       cfg.StaticDir,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
