package acquire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"realty_bot/internal/model"
)

type stubSource struct {
	name     string
	listings []model.Listing
	err      error
	panics   bool
	block    bool
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, _ model.Query) ([]model.Listing, error) {
	if s.panics {
		panic("boom")
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.listings, s.err
}

func newTestAggregator(sources ...Source) *Aggregator {
	return NewAggregator(sources, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func keys(ls []model.Listing) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Source+"/"+l.ID)
	}
	return out
}

func TestAcquireMergesAndOrders(t *testing.T) {
	a := newTestAggregator(
		&stubSource{name: "kufar", listings: []model.Listing{
			{ID: "1", Source: "kufar", PriceUSD: 50000},
			{ID: "2", Source: "kufar"},
			{ID: "1", Source: "kufar", PriceUSD: 50000},
		}},
		&stubSource{name: "realt", listings: []model.Listing{
			{ID: "1", Source: "realt", PriceBYN: 59000},
			{ID: "3", Source: "realt", Price: 70000},
		}},
	)

	got, err := a.Acquire(context.Background(), model.Query{City: " Брест "})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	want := []string{"realt/1", "kufar/1", "realt/3", "kufar/2"}
	if diff := cmp.Diff(want, keys(got)); diff != "" {
		t.Errorf("listing order (-want +got):\n%s", diff)
	}
	for _, l := range got {
		if l.City != "брест" {
			t.Errorf("%s/%s city = %q, want брест", l.Source, l.ID, l.City)
		}
	}
}

func TestAcquireIsolatesFailingSources(t *testing.T) {
	a := newTestAggregator(
		&stubSource{name: "broken", err: errors.New("timeout")},
		&stubSource{name: "nil", listings: nil},
		&stubSource{name: "panics", panics: true},
		&stubSource{name: "slow", block: true},
		&stubSource{name: "ok", listings: []model.Listing{{ID: "7", Source: "ok"}}},
	)

	got, err := a.Acquire(context.Background(), model.Query{City: "лида"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if diff := cmp.Diff([]string{"ok/7"}, keys(got)); diff != "" {
		t.Errorf("listings (-want +got):\n%s", diff)
	}
}

func TestAcquireAllSourcesFailed(t *testing.T) {
	a := newTestAggregator(
		&stubSource{name: "broken", err: errors.New("boom")},
		&stubSource{name: "nil"},
	)

	got, err := a.Acquire(context.Background(), model.Query{})
	if err == nil {
		t.Fatalf("expected error, got %d listings", len(got))
	}
	if !errors.Is(err, ErrNoResult) {
		t.Errorf("error should wrap ErrNoResult: %v", err)
	}
}

func TestAcquireEmptySuccessIsNotFailure(t *testing.T) {
	a := newTestAggregator(&stubSource{name: "empty", listings: []model.Listing{}})

	got, err := a.Acquire(context.Background(), model.Query{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", got)
	}
}

func TestAcquireNoSources(t *testing.T) {
	got, err := newTestAggregator().Acquire(context.Background(), model.Query{})
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("Acquire() = %#v, %v", got, err)
	}
}
