// Package filter implements the per-user listing matching engine.
package filter

import (
	"fmt"
	"log/slog"

	"realty_bot/internal/model"
)

const (
	// BYNPerUSD is the fixed approximate exchange rate used to canonicalize
	// BYN-denominated prices.
	BYNPerUSD = 2.95

	// SuspiciousMaxPrice is the threshold under which a max price is treated as
	// a configuration defect.
	SuspiciousMaxPrice = 10000
	// WidenedMaxPrice replaces a suspicious max price.
	WidenedMaxPrice = 1000000
	// RoomsWidening is added to min rooms when max rooms is below it.
	RoomsWidening = 3

	defaultMinRooms = 1
	defaultMaxRooms = 4
)

// Evaluator decides whether a listing passes a user's filters.
// It logs self-healing corrections and, within the limits of a LogBudget,
// individual accept/reject decisions.
type Evaluator struct {
	log *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(log *slog.Logger) *Evaluator {
	return &Evaluator{log: log.With("component", "filter")}
}

// Match checks whether a listing passes the filters.
// Criteria are evaluated in order rooms, price, seller type; the first failing
// one short-circuits. A nil budget disables per-listing logging; self-healing
// warnings are then logged on every call instead of once per user.
func (e *Evaluator) Match(l model.Listing, f model.UserFilters, budget *LogBudget) bool {
	if reason, ok := e.checkRooms(l, f, budget); !ok {
		e.logRejected(l, f.UserID, reason, budget)
		return false
	}
	if reason, ok := e.checkPrice(l, f, budget); !ok {
		e.logRejected(l, f.UserID, reason, budget)
		return false
	}
	if reason, ok := checkSeller(l, f); !ok {
		e.logRejected(l, f.UserID, reason, budget)
		return false
	}

	if budget.allowPassed(f.UserID) {
		e.log.Info("listing passed filters",
			"user_id", f.UserID,
			"ad_id", l.ID,
			"source", l.Source,
			"rooms", l.Rooms,
			"price", l.PriceFormatted,
			"address", l.Address,
			"vendor", l.Vendor,
		)
	}
	return true
}

func (e *Evaluator) checkRooms(l model.Listing, f model.UserFilters, budget *LogBudget) (string, bool) {
	if l.Rooms <= 0 {
		return "", true
	}

	minRooms, maxRooms := f.MinRooms, f.MaxRooms
	if maxRooms < minRooms && budget.firstWidening(f.UserID, widenRooms) {
		e.log.Warn("max rooms below min rooms, widening",
			"user_id", f.UserID, "min_rooms", minRooms, "max_rooms", maxRooms)
	}
	minRooms, maxRooms = EffectiveRooms(f)

	if l.Rooms < minRooms || l.Rooms > maxRooms {
		return fmt.Sprintf("rooms %d outside %d-%d", l.Rooms, minRooms, maxRooms), false
	}
	return "", true
}

func (e *Evaluator) checkPrice(l model.Listing, f model.UserFilters, budget *LogBudget) (string, bool) {
	price := PriceUSD(l)
	if price <= 0 {
		return "", true
	}

	if f.MaxPrice < SuspiciousMaxPrice && budget.firstWidening(f.UserID, widenPrice) {
		e.log.Warn("suspiciously low max price, widening",
			"user_id", f.UserID, "max_price", f.MaxPrice, "widened_to", WidenedMaxPrice)
	}
	minPrice, maxPrice := EffectivePrice(f)

	if price < minPrice || price > maxPrice {
		return fmt.Sprintf("price $%d outside $%d-$%d", price, minPrice, maxPrice), false
	}
	return "", true
}

func checkSeller(l model.Listing, f model.UserFilters) (string, bool) {
	if f.SellerType == model.SellerAny || l.Seller == model.SellerUnknown {
		return "", true
	}
	if f.SellerType == model.SellerOnlyOwner && l.Seller == model.SellerCompany {
		return "seller is an agency, owners only", false
	}
	if f.SellerType == model.SellerOnlyCompany && l.Seller == model.SellerOwner {
		return "seller is an owner, agencies only", false
	}
	return "", true
}

func (e *Evaluator) logRejected(l model.Listing, userID int64, reason string, budget *LogBudget) {
	if !budget.allowFiltered(userID) {
		return
	}
	e.log.Info("listing filtered out",
		"user_id", userID,
		"reason", reason,
		"ad_id", l.ID,
		"source", l.Source,
		"rooms", l.Rooms,
		"price", l.PriceFormatted,
		"address", l.Address,
	)
}

// PriceUSD returns the listing price in USD: the explicit USD price, else the
// BYN price converted at BYNPerUSD, else the generic price.
func PriceUSD(l model.Listing) int {
	if l.PriceUSD > 0 {
		return l.PriceUSD
	}
	if l.PriceBYN > 0 {
		return int(float64(l.PriceBYN) / BYNPerUSD)
	}
	return l.Price
}

// EffectiveRooms returns the room bounds actually applied, after widening a
// max below min to min+RoomsWidening.
func EffectiveRooms(f model.UserFilters) (int, int) {
	if f.MaxRooms < f.MinRooms {
		return f.MinRooms, f.MinRooms + RoomsWidening
	}
	return f.MinRooms, f.MaxRooms
}

// EffectivePrice returns the price bounds actually applied, after widening a
// max below SuspiciousMaxPrice to WidenedMaxPrice.
func EffectivePrice(f model.UserFilters) (int, int) {
	if f.MaxPrice < SuspiciousMaxPrice {
		return f.MinPrice, WidenedMaxPrice
	}
	return f.MinPrice, f.MaxPrice
}
