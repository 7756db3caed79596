// Package search assembles the candidate listings for a user from the
// listing cache, topping it up with live acquisition when the cache is thin.
package search

import (
	"context"
	"errors"
	"log/slog"

	"realty_bot/internal/filter"
	"realty_bot/internal/model"
)

const (
	// DefaultCacheLimit caps the number of cached listings read per user.
	DefaultCacheLimit = 200
	// DefaultMinCached is the cache size below which live acquisition runs.
	DefaultMinCached = 10
)

var errNilAcquisition = errors.New("acquisition returned no listing set")

// Cache is the persistent listing cache.
type Cache interface {
	CachedListings(ctx context.Context, q model.Query, limit int) ([]model.Listing, error)
	CacheListings(ctx context.Context, listings []model.Listing) (int, error)
}

// Acquirer fetches fresh listings from the listing sites.
type Acquirer interface {
	Acquire(ctx context.Context, q model.Query) ([]model.Listing, error)
}

// Service coordinates the cache and live acquisition.
type Service struct {
	cache      Cache
	acquirer   Acquirer
	cacheLimit int
	minCached  int
	log        *slog.Logger
}

// NewService creates a Service with the default cache limit and threshold.
func NewService(cache Cache, acquirer Acquirer, log *slog.Logger) *Service {
	return &Service{
		cache:      cache,
		acquirer:   acquirer,
		cacheLimit: DefaultCacheLimit,
		minCached:  DefaultMinCached,
		log:        log.With("component", "search"),
	}
}

// FetchCandidates returns the listings to evaluate for a user. Cached
// listings within the loose filter envelope come first; when there are fewer
// than the threshold, freshly acquired listings not already cached are
// appended. Failures degrade to whatever the cache returned.
func (s *Service) FetchCandidates(ctx context.Context, userID int64, f model.UserFilters) []model.Listing {
	s.log.Info("applying filters",
		"user_id", userID,
		"city", f.City,
		"rooms", [2]int{f.MinRooms, f.MaxRooms},
		"price", [2]int{f.MinPrice, f.MaxPrice},
		"seller_type", f.SellerType,
		"ai_mode", f.AIMode,
	)

	cached, err := s.cache.CachedListings(ctx, filter.Envelope(f), s.cacheLimit)
	if err != nil {
		s.log.Warn("cache read failed", "user_id", userID, "error", err)
		cached = nil
	}

	if len(cached) >= s.minCached {
		s.log.Info("using cache, acquisition skipped", "user_id", userID, "cached", len(cached))
		return cached
	}

	fresh, err := s.acquirer.Acquire(ctx, filter.Exact(f))
	if err == nil && fresh == nil {
		err = errNilAcquisition
	}
	if err != nil {
		s.log.Error("acquisition failed, using cache only",
			"user_id", userID, "cached", len(cached), "error", err)
		return cached
	}

	if len(fresh) > 0 {
		saved, err := s.cache.CacheListings(ctx, fresh)
		if err != nil {
			s.log.Warn("cache write failed", "user_id", userID, "saved", saved, "acquired", len(fresh), "error", err)
		}
	}

	merged := Merge(cached, fresh)
	s.log.Info("candidates assembled",
		"user_id", userID,
		"city", f.City,
		"cached", len(cached),
		"acquired", len(fresh),
		"total", len(merged),
	)
	return merged
}

// Merge appends the listings of extra not already present in base,
// comparing by source and id.
func Merge(base, extra []model.Listing) []model.Listing {
	out := make([]model.Listing, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(base)+len(extra))
	for _, l := range base {
		seen[identity(l)] = true
		out = append(out, l)
	}
	for _, l := range extra {
		key := identity(l)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

func identity(l model.Listing) string {
	return l.Source + "|" + l.ID
}
