// Package acquire fetches fresh listings from the configured sources.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"realty_bot/internal/filter"
	"realty_bot/internal/model"
)

// ErrNoResult is reported for a source that returned neither listings nor
// an error.
var ErrNoResult = errors.New("source returned no result")

// Source is a single listing site.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q model.Query) ([]model.Listing, error)
}

// Aggregator queries all sources concurrently and merges their listings.
type Aggregator struct {
	sources []Source
	timeout time.Duration
	log     *slog.Logger
}

// NewAggregator creates an Aggregator. A zero timeout disables the
// per-source deadline.
func NewAggregator(sources []Source, timeout time.Duration, log *slog.Logger) *Aggregator {
	return &Aggregator{
		sources: sources,
		timeout: timeout,
		log:     log.With("component", "acquire"),
	}
}

type sourceResult struct {
	listings []model.Listing
	err      error
}

// Acquire fetches listings matching q from every source. A failing source
// does not affect the others; an error is returned only when all sources
// failed. Listings are stamped with the query city, deduplicated by source
// and id, and ordered by price with unknown prices last.
func (a *Aggregator) Acquire(ctx context.Context, q model.Query) ([]model.Listing, error) {
	if len(a.sources) == 0 {
		a.log.Warn("no sources configured")
		return []model.Listing{}, nil
	}

	results := make([]sourceResult, len(a.sources))
	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			results[i] = a.fetch(ctx, src, q)
			return nil
		})
	}
	_ = g.Wait()

	var (
		all  []model.Listing
		errs []error
	)
	for i, res := range results {
		name := a.sources[i].Name()
		if res.err != nil {
			a.log.Error("source failed", "source", name, "error", res.err)
			errs = append(errs, fmt.Errorf("%s: %w", name, res.err))
			continue
		}
		a.log.Info("source fetched", "source", name, "count", len(res.listings))
		all = append(all, res.listings...)
	}

	if len(errs) == len(a.sources) {
		return nil, fmt.Errorf("all sources failed: %w", errors.Join(errs...))
	}

	city := strings.ToLower(strings.TrimSpace(q.City))
	unique := make([]model.Listing, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, l := range all {
		key := l.Source + "|" + strings.TrimSpace(l.ID)
		if seen[key] {
			continue
		}
		seen[key] = true
		if city != "" {
			l.City = city
		}
		unique = append(unique, l)
	}
	if removed := len(all) - len(unique); removed > 0 {
		a.log.Info("duplicates removed", "count", removed)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return priceKey(unique[i]) < priceKey(unique[j])
	})

	a.log.Info("acquisition finished",
		"sources_ok", len(a.sources)-len(errs),
		"sources_failed", len(errs),
		"listings", len(unique),
	)
	return unique, nil
}

func (a *Aggregator) fetch(ctx context.Context, src Source, q model.Query) (res sourceResult) {
	defer func() {
		if r := recover(); r != nil {
			res = sourceResult{err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	listings, err := src.Fetch(ctx, q)
	if err != nil {
		return sourceResult{err: err}
	}
	if listings == nil {
		return sourceResult{err: ErrNoResult}
	}
	return sourceResult{listings: listings}
}

func priceKey(l model.Listing) int {
	if p := filter.PriceUSD(l); p > 0 {
		return p
	}
	return math.MaxInt
}
