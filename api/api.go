// Package api serves a read-only HTTP view of the event store: health,
// Prometheus metrics, status counters and the most recent events.
package api

import (
	"bastion/core"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	shutdownGrace     = 5 * time.Second
)

// StatusReader is the read side of the event store the API exposes
type StatusReader interface {
	Counts(ctx context.Context) (core.StatusCounts, error)
	RecentSystemEvents(ctx context.Context, limit int) ([]core.SystemEvent, error)
	RecentAttackEvents(ctx context.Context, limit int) ([]core.AttackEvent, error)
	HealthCheck(ctx context.Context) error
}

// API holds the API server
type API struct {
	router *mux.Router
	server *http.Server
	store  StatusReader
	logger *zap.SugaredLogger
	runID  string
}

// NewAPI creates a new API server bound to addr. runID identifies the
// running process in status responses.
func NewAPI(store StatusReader, addr, runID string, logger *zap.SugaredLogger) *API {
	a := &API{
		router: mux.NewRouter(),
		store:  store,
		logger: logger,
		runID:  runID,
	}
	a.setupRoutes()
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.loggingMiddleware)
	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// registered on the root router so a method mismatch answers 405, not 404
	a.router.HandleFunc("/api/v1/status", a.getStatus).Methods(http.MethodGet)
	a.router.HandleFunc("/api/v1/events", a.getSystemEvents).Methods(http.MethodGet)
	a.router.HandleFunc("/api/v1/attacks", a.getAttackEvents).Methods(http.MethodGet)
}

// Handler returns the router, mainly for tests
func (a *API) Handler() http.Handler {
	return a.router
}

// Run serves until ctx is cancelled, then shuts the server down
func (a *API) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Infow("API server listening", "addr", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return a.Stop(shutdownCtx)
	}
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	return nil
}

func (a *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debugw("API request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}
