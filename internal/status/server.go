// Package status serves a small HTTP surface for health checks and the
// counters of the latest delivery cycle.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"realty_bot/internal/delivery"
)

const shutdownTimeout = 5 * time.Second

// StatsSource provides the outcome of the latest delivery cycle.
type StatsSource interface {
	LastStats() (delivery.CycleStats, bool)
}

type statsResponse struct {
	LastCycle *delivery.CycleStats `json:"last_cycle"`
}

// NewRouter returns the status routes:
//
//	GET /healthz  plain "ok"
//	GET /stats    {"last_cycle": ...}, null before the first cycle
func NewRouter(stats StatsSource, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Debug("write healthz", "error", err)
		}
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		var resp statsResponse
		if st, ok := stats.LastStats(); ok {
			resp.LastCycle = &st
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("encode stats", "error", err)
		}
	})

	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	log = log.With("component", "status")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown status server", "error", err)
		}
	}()

	log.Info("status server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}
