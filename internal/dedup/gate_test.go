package dedup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"realty_bot/internal/model"
	"realty_bot/internal/storage"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewGate(s, s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func twin(id, source string) model.Listing {
	return model.Listing{
		ID:       id,
		Source:   source,
		Rooms:    2,
		Area:     48.3,
		Address:  "Барановичи, ул. Ленина, 5",
		PriceUSD: 41200,
	}
}

func TestGateAlreadySent(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t)
	l := twin(" 100 ", "kufar")

	v, err := g.Check(ctx, 1, l, false)
	if err != nil || v != VerdictDeliver {
		t.Fatalf("first check = %v, %v", v, err)
	}
	if err := g.Record(ctx, 1, l); err != nil {
		t.Fatalf("record: %v", err)
	}

	v, err = g.Check(ctx, 1, twin("100", "kufar"), false)
	if err != nil || v != VerdictAlreadySent {
		t.Errorf("check after record = %v, %v; want already_sent", v, err)
	}

	v, err = g.Check(ctx, 1, l, true)
	if err != nil || v != VerdictDeliver {
		t.Errorf("check ignoring sent = %v, %v; want deliver", v, err)
	}

	v, err = g.Check(ctx, 2, l, false)
	if err != nil || v != VerdictDeliver {
		t.Errorf("other user = %v, %v; want deliver", v, err)
	}
}

func TestGateDuplicateContent(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t)
	first, second := twin("a-1", "kufar"), twin("b-9", "realt")

	if err := g.Record(ctx, 1, first); err != nil {
		t.Fatalf("record: %v", err)
	}

	for _, ignoreSent := range []bool{false, true} {
		v, err := g.Check(ctx, 1, second, ignoreSent)
		if err != nil || v != VerdictDuplicate {
			t.Errorf("ignoreSent=%v: check twin = %v, %v; want duplicate", ignoreSent, v, err)
		}
	}

	dup, fp, err := g.IsDuplicateContent(ctx, second)
	if err != nil || !dup {
		t.Fatalf("IsDuplicateContent = %v, %v", dup, err)
	}
	if fp.AdID != "a-1" || fp.Source != "kufar" {
		t.Errorf("first delivery = %+v", fp)
	}

	dup, _, err = g.IsDuplicateContent(ctx, first)
	if err != nil || dup {
		t.Errorf("listing flagged as a duplicate of itself: %v, %v", dup, err)
	}
}

func TestGateSameIDFromAnotherSource(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t)

	if err := g.Record(ctx, 1, twin("100", "kufar")); err != nil {
		t.Fatalf("record: %v", err)
	}

	other := twin("100", "realt")
	dup, fp, err := g.IsDuplicateContent(ctx, other)
	if err != nil || !dup {
		t.Fatalf("IsDuplicateContent(realt/100) = %v, %v; want duplicate of kufar/100", dup, err)
	}
	if fp.Source != "kufar" {
		t.Errorf("first delivery source = %q, want kufar", fp.Source)
	}

	v, err := g.Check(ctx, 1, other, true)
	if err != nil || v != VerdictDuplicate {
		t.Errorf("check ignoring sent = %v, %v; want duplicate", v, err)
	}
}

func TestGateCheckHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t)
	l := twin("5", "kufar")

	for range 3 {
		if v, err := g.Check(ctx, 1, l, false); err != nil || v != VerdictDeliver {
			t.Fatalf("check = %v, %v", v, err)
		}
	}
	if v, _ := g.Check(ctx, 1, twin("6", "kufar"), false); v != VerdictDeliver {
		t.Errorf("check wrote a fingerprint: verdict %v", v)
	}
}

func TestGateListingWithoutAddress(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t)

	a := model.Listing{ID: "1", Source: "kufar", Rooms: 2, PriceUSD: 30000}
	b := model.Listing{ID: "2", Source: "kufar", Rooms: 2, PriceUSD: 30000}
	if err := g.Record(ctx, 1, a); err != nil {
		t.Fatalf("record: %v", err)
	}
	if v, err := g.Check(ctx, 1, b, false); err != nil || v != VerdictDeliver {
		t.Errorf("check = %v, %v; want deliver", v, err)
	}
}

func TestGateInvalidUser(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t)

	if _, err := g.Check(ctx, 0, twin("1", "kufar"), false); !errors.Is(err, ErrInvalidTelegramID) {
		t.Errorf("Check with user 0: got %v, want ErrInvalidTelegramID", err)
	}
	if err := g.Record(ctx, -5, twin("1", "kufar")); !errors.Is(err, ErrInvalidTelegramID) {
		t.Errorf("Record with user -5: got %v, want ErrInvalidTelegramID", err)
	}
}

func TestVerdictString(t *testing.T) {
	if VerdictDuplicate.String() != "duplicate" || Verdict(9).String() != "verdict(9)" {
		t.Errorf("unexpected verdict names: %s, %s", VerdictDuplicate, Verdict(9))
	}
}
