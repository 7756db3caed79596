package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"realty_bot/internal/model"
)

type mockCache struct {
	listings []model.Listing
	readErr  error
	writeErr error
	queries  []model.Query
	written  []model.Listing
}

func (m *mockCache) CachedListings(_ context.Context, q model.Query, limit int) ([]model.Listing, error) {
	m.queries = append(m.queries, q)
	if m.readErr != nil {
		return nil, m.readErr
	}
	if len(m.listings) > limit {
		return m.listings[:limit], nil
	}
	return m.listings, nil
}

func (m *mockCache) CacheListings(_ context.Context, listings []model.Listing) (int, error) {
	m.written = append(m.written, listings...)
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return len(listings), nil
}

type mockAcquirer struct {
	listings []model.Listing
	err      error
	calls    int
	query    model.Query
}

func (m *mockAcquirer) Acquire(_ context.Context, q model.Query) ([]model.Listing, error) {
	m.calls++
	m.query = q
	return m.listings, m.err
}

func listings(source string, n int) []model.Listing {
	out := make([]model.Listing, n)
	for i := range out {
		out[i] = model.Listing{ID: fmt.Sprint(i + 1), Source: source}
	}
	return out
}

func ids(ls []model.Listing) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Source+"/"+l.ID)
	}
	return out
}

var testFilters = model.UserFilters{
	UserID: 1, City: "Барановичи",
	MinRooms: 2, MaxRooms: 3,
	MinPrice: 40000, MaxPrice: 60000,
}

func newTestService(c Cache, a Acquirer) *Service {
	return NewService(c, a, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchCandidatesSufficientCache(t *testing.T) {
	cache := &mockCache{listings: listings("kufar", 15)}
	acq := &mockAcquirer{listings: listings("realt", 5)}

	got := newTestService(cache, acq).FetchCandidates(context.Background(), 1, testFilters)

	if acq.calls != 0 {
		t.Errorf("acquisition invoked %d times with a sufficient cache", acq.calls)
	}
	if len(got) != 15 {
		t.Errorf("got %d candidates, want 15", len(got))
	}

	wantEnvelope := model.Query{City: "барановичи", MinRooms: 1, MaxRooms: 4, MinPrice: 32000, MaxPrice: 72000}
	if diff := cmp.Diff([]model.Query{wantEnvelope}, cache.queries); diff != "" {
		t.Errorf("cache query (-want +got):\n%s", diff)
	}
}

func TestFetchCandidatesThinCache(t *testing.T) {
	cache := &mockCache{listings: listings("kufar", 3)}
	acq := &mockAcquirer{listings: []model.Listing{
		{ID: "2", Source: "kufar"},
		{ID: "9", Source: "kufar"},
		{ID: "1", Source: "realt"},
	}}

	got := newTestService(cache, acq).FetchCandidates(context.Background(), 1, testFilters)

	if acq.calls != 1 {
		t.Fatalf("acquisition calls = %d, want 1", acq.calls)
	}
	want := []string{"kufar/1", "kufar/2", "kufar/3", "kufar/9", "realt/1"}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("candidates (-want +got):\n%s", diff)
	}

	wantExact := model.Query{City: "барановичи", MinRooms: 2, MaxRooms: 3, MinPrice: 40000, MaxPrice: 60000}
	if diff := cmp.Diff(wantExact, acq.query); diff != "" {
		t.Errorf("acquisition query (-want +got):\n%s", diff)
	}
	if len(cache.written) != 3 {
		t.Errorf("cached %d acquired listings, want 3", len(cache.written))
	}
}

func TestFetchCandidatesDegradesToCache(t *testing.T) {
	tests := []struct {
		name string
		acq  *mockAcquirer
	}{
		{name: "acquisition error", acq: &mockAcquirer{err: errors.New("all sources failed")}},
		{name: "nil listing set", acq: &mockAcquirer{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &mockCache{listings: listings("kufar", 2)}
			got := newTestService(cache, tt.acq).FetchCandidates(context.Background(), 1, testFilters)
			if diff := cmp.Diff([]string{"kufar/1", "kufar/2"}, ids(got)); diff != "" {
				t.Errorf("candidates (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchCandidatesCacheFailures(t *testing.T) {
	cache := &mockCache{readErr: errors.New("disk"), writeErr: errors.New("disk")}
	acq := &mockAcquirer{listings: listings("realt", 2)}

	got := newTestService(cache, acq).FetchCandidates(context.Background(), 1, testFilters)

	if diff := cmp.Diff([]string{"realt/1", "realt/2"}, ids(got)); diff != "" {
		t.Errorf("candidates (-want +got):\n%s", diff)
	}
}

func TestMerge(t *testing.T) {
	base := []model.Listing{{ID: "1", Source: "a"}, {ID: "2", Source: "a"}}
	extra := []model.Listing{{ID: "2", Source: "a"}, {ID: "2", Source: "b"}, {ID: "2", Source: "b"}}

	want := []string{"a/1", "a/2", "b/2"}
	if diff := cmp.Diff(want, ids(Merge(base, extra))); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}
