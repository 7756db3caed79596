// Package scheduler drives delivery cycles and daily maintenance on a cron
// schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"realty_bot/internal/delivery"
)

const (
	// DefaultInterval is the time between delivery cycles.
	DefaultInterval = 30 * time.Minute
	// DefaultMaintenanceSpec runs maintenance daily at 03:00.
	DefaultMaintenanceSpec = "0 3 * * *"
	// DefaultFingerprintTTL is how long content fingerprints are kept.
	DefaultFingerprintTTL = 30 * 24 * time.Hour
	// DefaultCacheMaxAge is how long a cached listing stays servable
	// without being refreshed.
	DefaultCacheMaxAge = 7 * 24 * time.Hour
)

// Cycle runs one delivery cycle.
type Cycle interface {
	RunCycle(ctx context.Context, opts delivery.Options) delivery.CycleStats
}

// Maintenance prunes state that is no longer useful.
type Maintenance interface {
	PurgeFingerprints(ctx context.Context, olderThan time.Time) (int64, error)
	MarkStaleListings(ctx context.Context, olderThan time.Time) (int64, error)
}

// Scheduler runs delivery cycles periodically and on demand. At most one
// cycle runs at a time.
type Scheduler struct {
	cycle           Cycle
	maint           Maintenance
	log             *slog.Logger
	interval        time.Duration
	maintenanceSpec string
	fingerprintTTL  time.Duration
	cacheMaxAge     time.Duration
	now             func() time.Time

	runMu   sync.Mutex
	statsMu sync.RWMutex
	last    *delivery.CycleStats
}

// New creates a Scheduler with default timings.
func New(cycle Cycle, maint Maintenance, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cycle:           cycle,
		maint:           maint,
		log:             log.With("component", "scheduler"),
		interval:        DefaultInterval,
		maintenanceSpec: DefaultMaintenanceSpec,
		fingerprintTTL:  DefaultFingerprintTTL,
		cacheMaxAge:     DefaultCacheMaxAge,
		now:             time.Now,
	}
}

// SetInterval overrides the default 30-minute cycle interval.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.interval = d
}

// SetRetention overrides how long fingerprints and cached listings are kept.
func (s *Scheduler) SetRetention(fingerprintTTL, cacheMaxAge time.Duration) {
	s.fingerprintTTL = fingerprintTTL
	s.cacheMaxAge = cacheMaxAge
}

// Run schedules the jobs and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	c, err := s.newCron(ctx)
	if err != nil {
		return err
	}
	c.Start()
	s.log.Info("scheduler started", "interval", s.interval, "maintenance", s.maintenanceSpec)

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) newCron(ctx context.Context) (*cron.Cron, error) {
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.RunNow(ctx, delivery.Options{})
	}); err != nil {
		return nil, fmt.Errorf("add delivery job: %w", err)
	}
	if _, err := c.AddFunc(s.maintenanceSpec, func() {
		s.Maintain(ctx)
	}); err != nil {
		return nil, fmt.Errorf("add maintenance job: %w", err)
	}
	return c, nil
}

// RunNow runs a delivery cycle immediately, waiting for a running cycle to
// finish first.
func (s *Scheduler) RunNow(ctx context.Context, opts delivery.Options) delivery.CycleStats {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	stats := s.cycle.RunCycle(ctx, opts)

	s.statsMu.Lock()
	s.last = &stats
	s.statsMu.Unlock()
	return stats
}

// LastStats returns the stats of the most recent cycle.
func (s *Scheduler) LastStats() (delivery.CycleStats, bool) {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	if s.last == nil {
		return delivery.CycleStats{}, false
	}
	return *s.last, true
}

// Maintain purges expired fingerprints and retires stale cached listings.
func (s *Scheduler) Maintain(ctx context.Context) {
	now := s.now()

	purged, err := s.maint.PurgeFingerprints(ctx, now.Add(-s.fingerprintTTL))
	if err != nil {
		s.log.Error("purge fingerprints", "error", err)
	} else {
		s.log.Info("fingerprints purged", "count", purged)
	}

	stale, err := s.maint.MarkStaleListings(ctx, now.Add(-s.cacheMaxAge))
	if err != nil {
		s.log.Error("mark stale listings", "error", err)
	} else {
		s.log.Info("stale listings retired", "count", stale)
	}
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
