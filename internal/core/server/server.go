package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/config"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/health"
	middleware "github.com/mohammed-shakir/h3-hexoverlay/internal/core/middleware"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/router"
)

type Deps struct {
	Buckets     router.Buckets
	Sessions    router.Sessions
	Live        router.SessionLister
	Ready       health.ReadinessReporter
	NotReady    error
	Metrics     http.Handler
	MetricsPath string
}

// NewHandler builds the HTTP routes.
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, d.Metrics)
	}
	r.Get("/buckets/{bucket}", router.HandleBucket(logger, d.Buckets, d.NotReady))
	r.Get("/zoom/{zoom}/bucket", router.HandleZoom(d.Buckets))
	r.Get("/ws", router.HandleWS(logger, d.Sessions, nil))
	if d.Live != nil {
		r.Get("/sessions", router.HandleSessions(d.Live))
		r.Get("/sessions/{id}", router.HandleSession(d.Live))
	}
	return r
}

// Run serves until ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
