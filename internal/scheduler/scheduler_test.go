package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"realty_bot/internal/delivery"
	"realty_bot/internal/model"
	"realty_bot/internal/storage"
)

type mockCycle struct {
	mu       sync.Mutex
	calls    []delivery.Options
	running  atomic.Int32
	overlaps atomic.Int32
	delay    time.Duration
	done     chan struct{}
}

func (m *mockCycle) RunCycle(_ context.Context, opts delivery.Options) delivery.CycleStats {
	if m.running.Add(1) > 1 {
		m.overlaps.Add(1)
	}
	defer m.running.Add(-1)
	time.Sleep(m.delay)

	m.mu.Lock()
	m.calls = append(m.calls, opts)
	n := len(m.calls)
	m.mu.Unlock()

	if m.done != nil && n == 1 {
		close(m.done)
	}
	return delivery.CycleStats{RunID: "run", Sent: n, Options: opts}
}

func (m *mockCycle) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type failingMaintenance struct{}

func (failingMaintenance) PurgeFingerprints(context.Context, time.Time) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingMaintenance) MarkStaleListings(context.Context, time.Time) (int64, error) {
	return 0, errors.New("disk full")
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunNowRecordsLastStats(t *testing.T) {
	cycle := &mockCycle{}
	s := New(cycle, failingMaintenance{}, newTestLogger())

	if _, ok := s.LastStats(); ok {
		t.Fatal("LastStats before any run should report false")
	}

	opts := delivery.Options{ForceSend: true, IgnoreSentAds: true}
	got := s.RunNow(context.Background(), opts)

	last, ok := s.LastStats()
	if !ok {
		t.Fatal("LastStats after run should report true")
	}
	if diff := cmp.Diff(got, last); diff != "" {
		t.Errorf("LastStats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]delivery.Options{opts}, cycle.calls); diff != "" {
		t.Errorf("cycle options (-want +got):\n%s", diff)
	}
}

func TestRunNowSerializesCycles(t *testing.T) {
	cycle := &mockCycle{delay: 20 * time.Millisecond}
	s := New(cycle, failingMaintenance{}, newTestLogger())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunNow(context.Background(), delivery.Options{})
		}()
	}
	wg.Wait()

	if cycle.callCount() != 4 {
		t.Errorf("cycles run = %d, want 4", cycle.callCount())
	}
	if n := cycle.overlaps.Load(); n != 0 {
		t.Errorf("%d cycles overlapped", n)
	}
}

func TestMaintain(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	for _, fp := range []model.ContentFingerprint{
		{Hash: "fresh", AdID: "1", FirstSent: now.AddDate(0, 0, -1)},
		{Hash: "expired", AdID: "2", FirstSent: now.AddDate(0, 0, -31)},
	} {
		if _, err := store.RecordFingerprint(ctx, fp); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := store.CacheListings(ctx, []model.Listing{{ID: "1", Source: "kufar", City: "лида"}}); err != nil {
		t.Fatalf("cache: %v", err)
	}

	s := New(&mockCycle{}, store, newTestLogger())
	s.now = func() time.Time { return now.AddDate(0, 0, 8) }
	s.Maintain(ctx)

	if _, ok, _ := store.LookupFingerprint(ctx, "expired"); ok {
		t.Error("expired fingerprint kept")
	}
	if _, ok, _ := store.LookupFingerprint(ctx, "fresh"); !ok {
		t.Error("fresh fingerprint purged")
	}
	cached, err := store.CachedListings(ctx, model.Query{City: "лида", MaxRooms: 5, MaxPrice: 100}, 10)
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if len(cached) != 0 {
		t.Errorf("listing older than the cache max age still served")
	}
}

func TestMaintainSurvivesErrors(t *testing.T) {
	s := New(&mockCycle{}, failingMaintenance{}, newTestLogger())
	s.Maintain(context.Background())
}

func TestNewCronRegistersJobs(t *testing.T) {
	s := New(&mockCycle{}, failingMaintenance{}, newTestLogger())
	s.SetInterval(15 * time.Minute)

	c, err := s.newCron(context.Background())
	if err != nil {
		t.Fatalf("new cron: %v", err)
	}

	entries := c.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.Local)
	if got := entries[0].Schedule.Next(start); !got.Equal(start.Add(15 * time.Minute)) {
		t.Errorf("delivery job next = %v, want %v", got, start.Add(15*time.Minute))
	}
	if got := entries[1].Schedule.Next(start); !got.Equal(time.Date(2025, 1, 2, 3, 0, 0, 0, time.Local)) {
		t.Errorf("maintenance job next = %v", got)
	}
}

func TestNewCronRejectsBadSpec(t *testing.T) {
	s := New(&mockCycle{}, failingMaintenance{}, newTestLogger())
	s.maintenanceSpec = "not a spec"

	if _, err := s.newCron(context.Background()); err == nil {
		t.Error("expected error for invalid maintenance spec")
	}
}

func TestRunTriggersCycles(t *testing.T) {
	cycle := &mockCycle{done: make(chan struct{})}
	s := New(cycle, failingMaintenance{}, newTestLogger())
	s.SetInterval(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-cycle.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle ran within 5s")
	}
	cancel()

	if err := <-errc; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if _, ok := s.LastStats(); !ok {
		t.Error("scheduled cycle did not record stats")
	}
}
