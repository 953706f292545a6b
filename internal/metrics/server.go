package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/cornerwatch/internal/logger"
)

// Health is the /healthz payload.
type Health struct {
	Status            string `json:"status"`
	FeedBreaker       string `json:"feed_breaker"`
	FixturesMonitored int    `json:"fixtures_monitored"`
	PendingRollbacks  int    `json:"pending_rollbacks"`
}

// HealthFunc reports the live process state.
type HealthFunc func() Health

// StatusFunc returns a JSON-serialisable view of the tracked fixtures.
type StatusFunc func() interface{}

// NewRouter builds the ops router. health and status may be nil.
func NewRouter(m *Manager, health HealthFunc, status StatusFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := Health{Status: "ok"}
		if health != nil {
			h = health()
		}
		code := http.StatusOK
		if h.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	})

	r.Get("/fixtures", func(w http.ResponseWriter, r *http.Request) {
		if status == nil {
			writeJSON(w, http.StatusOK, []struct{}{})
			return
		}
		writeJSON(w, http.StatusOK, status())
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Ops server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("Ops server stopped")
		return nil
	}
}
