package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/api"
	"github.com/Mindburn-Labs/veridecide/pkg/auth"
	"github.com/Mindburn-Labs/veridecide/pkg/server"
)

// buildServer assembles the HTTP server from a wired app. The returned func
// stops background workers.
func buildServer(a *app) (*server.Server, func(), error) {
	var validator *auth.JWTValidator
	if a.cfg.Auth.Mode == server.AuthJWT {
		v, err := auth.NewJWTValidator(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTIssuer)
		if err != nil {
			return nil, nil, fmt.Errorf("jwt auth needs JWT_SECRET (or AUTH_MODE=header for local use): %w", err)
		}
		validator = v
	}

	limiter, stopLimiter := a.limiter()
	idem := api.NewSQLIdempotencyStore(a.db, a.store.Dialect(), idempotencyTTL)

	srv, err := server.New(server.Deps{
		Pipeline:    a.orchestrator,
		Reviews:     a.reviewer,
		Documents:   a.ingester,
		Outputs:     a.store,
		Audit:       a.ledger,
		Health:      a.store,
		Artifacts:   a.blobs,
		Limiter:     limiter,
		Idempotency: idem,
		Telemetry:   a.telemetry,
	}, server.Options{
		AuthMode:       a.cfg.Auth.Mode,
		Validator:      validator,
		CORSOrigins:    a.cfg.Auth.CORSOrigins,
		RetryAfterSecs: 1,
	})
	if err != nil {
		stopLimiter()
		return nil, nil, err
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := idem.Cleanup(context.Background()); err != nil {
					slog.Default().Warn("idempotency cleanup failed", "error", err)
				}
			}
		}
	}()
	return srv, func() {
		close(done)
		stopLimiter()
	}, nil
}

// runServe runs the API until SIGINT or SIGTERM.
func runServe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var addr string
	cmd.StringVar(&addr, "addr", "", "Listen address (default :$PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, ok := loadConfig(stderr)
	if !ok {
		return 2
	}
	if addr == "" {
		addr = net.JoinHostPort("", cfg.Port)
	}
	_, _ = fmt.Fprintf(stdout, "%sveridecide %s starting...%s\n", ColorBold+ColorBlue, version, ColorReset)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = a.Close() }()

	srv, stopWorkers, err := buildServer(a)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer stopWorkers()

	httpServer := srv.HTTPServer(addr)
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[veridecide] auth: %s", cfg.Auth.Mode)
		log.Printf("[veridecide] ready: http://localhost%s", addr)
		log.Println("[veridecide] press ctrl+c to stop")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "Error: server failed: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		log.Println("[veridecide] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: shutdown: %v\n", err)
			return 1
		}
	}
	return 0
}
