// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// signin-demo serves a small site where users sign in with their Google
// account and view the profile Google shared.
//
// Required environment: GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and
// AUTH_SECRET (at least 32 bytes).  The Google OAuth client must allow
// $AUTH_URL/auth/callback/google as a redirect URI.
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

	"github.com/hashicorp/cap-signin/config"
	"github.com/hashicorp/cap-signin/oidc"
	"github.com/hashicorp/cap-signin/session"
	"github.com/hashicorp/cap-signin/store"
	"github.com/hashicorp/cap-signin/telemetry"
	"github.com/hashicorp/cap-signin/web"
	"github.com/hashicorp/go-hclog"
)

const serviceName = "signin-demo"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       serviceName,
		Level:      cfg.HCLogLevel(),
		JSONFormat: cfg.LogJSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("unable to flush telemetry", "error", err)
		}
	}()
	// nil uses the global meter provider registered by Setup.
	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return err
	}

	pc, err := cfg.OIDCConfig(logger.Named("oidc"))
	if err != nil {
		return err
	}
	p, err := oidc.NewProvider(pc)
	if err != nil {
		return err
	}
	defer p.Done()

	states := store.NewStateCache(store.WithLogger(logger.Named("states")))
	defer states.Close()

	users, err := store.Open(cfg.DatabasePath, store.WithLogger(logger.Named("users")))
	if err != nil {
		return err
	}
	defer users.Close()

	sessions, err := session.NewManager(
		[]byte(cfg.AuthSecret),
		session.WithMaxAge(cfg.SessionMaxAge),
		session.WithSecure(cfg.SecureCookies()),
		session.WithLogger(logger.Named("session")),
	)
	if err != nil {
		return err
	}

	srv, err := web.NewServer(p, states, sessions,
		web.WithLogger(logger.Named("web")),
		web.WithUserRecorder(users),
		web.WithMetrics(metrics),
		web.WithStateTTL(cfg.StateTTL),
		web.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		web.WithRedirectURL(cfg.RedirectURL()),
	)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	srvCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "url", cfg.BaseURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
		close(srvCh)
	}()

	select {
	case err := <-srvCh:
		return fmt.Errorf("server closed with error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		return fmt.Errorf("unable to shut down: %w", err)
	}
	return nil
}
