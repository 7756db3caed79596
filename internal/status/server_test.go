package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"realty_bot/internal/delivery"
)

type stubStats struct {
	stats delivery.CycleStats
	ok    bool
}

func (s stubStats) LastStats() (delivery.CycleStats, bool) {
	return s.stats, s.ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, NewRouter(stubStats{}, discardLogger()), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if diff := cmp.Diff("ok", rec.Body.String()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestStats(t *testing.T) {
	t.Run("before first cycle", func(t *testing.T) {
		rec := get(t, NewRouter(stubStats{}, discardLogger()), "/stats")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if diff := cmp.Diff("{\"last_cycle\":null}\n", rec.Body.String()); diff != "" {
			t.Errorf("body mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("last cycle", func(t *testing.T) {
		start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		want := delivery.CycleStats{
			RunID:       "run-7",
			StartedAt:   start,
			FinishedAt:  start.Add(time.Minute),
			Options:     delivery.Options{ForceSend: true},
			ActiveUsers: 2,
			Sent:        3,
			Users:       []delivery.UserStats{{UserID: 1, Total: 5, Sent: 3}, {UserID: 2, Prompted: true}},
			Prompted:    1,
		}
		rec := get(t, NewRouter(stubStats{stats: want, ok: true}, discardLogger()), "/stats")
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}

		var got statsResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.LastCycle == nil {
			t.Fatal("last_cycle is null")
		}
		if diff := cmp.Diff(want, *got.LastCycle); diff != "" {
			t.Errorf("stats mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, NewRouter(stubStats{}, discardLogger()), "/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", NewRouter(stubStats{}, discardLogger()), discardLogger())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
