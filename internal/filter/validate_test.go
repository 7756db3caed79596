package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"realty_bot/internal/model"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		filters    *model.UserFilters
		wantOK     bool
		wantReason string
	}{
		{name: "nil filters", filters: nil, wantReason: ReasonNotConfigured},
		{name: "no city", filters: &model.UserFilters{MinRooms: 2, MaxRooms: 3}, wantReason: ReasonNoCity},
		{name: "blank city", filters: &model.UserFilters{City: "  "}, wantReason: ReasonNoCity},
		{name: "city only", filters: &model.UserFilters{City: "брест"}, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Validate(tt.filters)
			if ok != tt.wantOK || reason != tt.wantReason {
				t.Errorf("Validate() = (%v, %q), want (%v, %q)", ok, reason, tt.wantOK, tt.wantReason)
			}
		})
	}
}

func TestHasValidAndReason(t *testing.T) {
	tests := []struct {
		name       string
		filters    *model.UserFilters
		wantValid  bool
		wantReason string
	}{
		{name: "nil", filters: nil, wantReason: ReasonNotConfigured},
		{name: "no city", filters: &model.UserFilters{MaxRooms: 3, MaxPrice: 50000}, wantReason: ReasonNoCity},
		{name: "no max rooms", filters: &model.UserFilters{City: "минск", MaxPrice: 50000}, wantReason: ReasonIncomplete},
		{name: "no max price", filters: &model.UserFilters{City: "минск", MaxRooms: 3}, wantReason: ReasonIncomplete},
		{name: "complete", filters: &model.UserFilters{City: "минск", MaxRooms: 3, MaxPrice: 50000}, wantValid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasValid(tt.filters); got != tt.wantValid {
				t.Errorf("HasValid() = %v, want %v", got, tt.wantValid)
			}
			if got := Reason(tt.filters); got != tt.wantReason {
				t.Errorf("Reason() = %q, want %q", got, tt.wantReason)
			}
		})
	}
}

func TestFailSafe(t *testing.T) {
	f := FailSafe(5)
	if !HasValid(&f) {
		t.Fatalf("fail-safe filters are not valid: %+v", f)
	}
	want := model.Query{City: "барановичи", MinRooms: 1, MaxRooms: 4, MinPrice: 0, MaxPrice: 100000}
	if diff := cmp.Diff(want, Exact(f)); diff != "" {
		t.Errorf("fail-safe query (-want +got):\n%s", diff)
	}
}

func TestEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		filters model.UserFilters
		want    model.Query
	}{
		{
			name:    "widened both ways",
			filters: model.UserFilters{City: " Гродно ", MinRooms: 2, MaxRooms: 3, MinPrice: 40000, MaxPrice: 60000},
			want:    model.Query{City: "гродно", MinRooms: 1, MaxRooms: 4, MinPrice: 32000, MaxPrice: 72000},
		},
		{
			name:    "rooms clamped at one",
			filters: model.UserFilters{City: "гродно", MinRooms: 1, MaxRooms: 1, MaxPrice: 50000},
			want:    model.Query{City: "гродно", MinRooms: 1, MaxRooms: 2, MinPrice: 0, MaxPrice: 60000},
		},
		{
			name:    "computed over self-healed bounds",
			filters: model.UserFilters{City: "гродно", MinRooms: 3, MaxRooms: 1, MaxPrice: 500},
			want:    model.Query{City: "гродно", MinRooms: 2, MaxRooms: 7, MinPrice: 0, MaxPrice: 1200000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Envelope(tt.filters)); diff != "" {
				t.Errorf("Envelope() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
