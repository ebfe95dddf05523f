package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"anon/internal/api"
	"anon/internal/data"
	"anon/internal/service"
)

func newServeCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *envFile)
		},
	}
}

func runServe(ctx context.Context, envFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, envFile)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	if err := data.Migrate(ctx, a.schema()); err != nil {
		return err
	}
	if has, err := a.auth.HasUsers(ctx); err != nil {
		return err
	} else if !has {
		a.log.Warn("no users yet: POST /auth/setup or run `anon create-admin`")
	}

	tokens := service.NewTokenEngine(service.TokenConfig{
		ServerKey:        cfg.AppKey,
		Expire:           cfg.Token.Expire,
		SensitiveExpire:  cfg.Token.SensitiveExpire,
		ReplayProtection: cfg.Token.ReplayProtection,
		ReplayWindow:     cfg.Token.ReplayWindow,
		Header:           cfg.Token.Header,
		Whitelist:        cfg.Token.Whitelist,
		DetailedErrors:   cfg.Token.DetailedErrors,
		CacheSize:        cfg.Token.CacheSize,
	}, a.debugger)
	csrf := service.NewCSRF(service.CSRFConfig{
		Key:         cfg.AppKey,
		Stateless:   cfg.CSRF.Stateless,
		MaxAge:      cfg.CSRF.MaxAge,
		BindSession: cfg.CSRF.BindSession,
	})
	limiter := api.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst)
	defer limiter.Stop()

	server := api.NewServer(api.Deps{
		Auth:        a.auth,
		Users:       a.users,
		Tokens:      tokens,
		CSRF:        csrf,
		Sessions:    api.NewCookieStore(cfg.AppKey, cfg.Session.MaxAge, cfg.Session.Secure),
		SessionName: cfg.Session.Name,
		Limiter:     limiter,
		Debugger:    a.debugger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server startup failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}
