package filter

import (
	"strings"

	"realty_bot/internal/model"
)

// Reasons reported by Validate.
const (
	ReasonNotConfigured = "Фильтры не настроены"
	ReasonNoCity        = "Город не выбран"
	ReasonIncomplete    = "Фильтры заполнены не полностью"
)

const (
	// FailSafeCity is the city used by forced runs when the user's own filters
	// are unusable.
	FailSafeCity     = "барановичи"
	failSafeMaxPrice = 100000

	envelopeRoomsSlack = 1

	// Price envelope is widened by 1/envelopePriceDivisor (20%) each way.
	envelopePriceDivisor = 5
)

// Validate reports whether filters are configured and, if not, why.
func Validate(f *model.UserFilters) (bool, string) {
	if f == nil {
		return false, ReasonNotConfigured
	}
	if strings.TrimSpace(f.City) == "" {
		return false, ReasonNoCity
	}
	return true, ""
}

// HasValid is the unified validity check used before a delivery cycle.
// Beyond Validate it requires both upper bounds to be set.
func HasValid(f *model.UserFilters) bool {
	if ok, _ := Validate(f); !ok {
		return false
	}
	return f.MaxRooms > 0 && f.MaxPrice > 0
}

// Reason returns the Validate reason, or ReasonIncomplete when Validate
// passes but HasValid does not.
func Reason(f *model.UserFilters) string {
	if ok, reason := Validate(f); !ok {
		return reason
	}
	if !HasValid(f) {
		return ReasonIncomplete
	}
	return ""
}

// FailSafe returns the default filter set substituted for broken user
// filters during forced runs.
func FailSafe(userID int64) model.UserFilters {
	return model.UserFilters{
		UserID:       userID,
		City:         FailSafeCity,
		MinRooms:     defaultMinRooms,
		MaxRooms:     defaultMaxRooms,
		MinPrice:     0,
		MaxPrice:     failSafeMaxPrice,
		DeliveryMode: model.DeliveryFull,
		IsActive:     true,
	}
}

// Exact returns the user's effective (self-healed) bounds as a query.
func Exact(f model.UserFilters) model.Query {
	minRooms, maxRooms := EffectiveRooms(f)
	minPrice, maxPrice := EffectivePrice(f)
	return model.Query{
		City:     NormalizeCity(f.City),
		MinRooms: minRooms,
		MaxRooms: maxRooms,
		MinPrice: minPrice,
		MaxPrice: maxPrice,
	}
}

// Envelope returns a query wider than Exact, used for cache lookups so that
// cached listings are reused across users with similar filters.
func Envelope(f model.UserFilters) model.Query {
	q := Exact(f)
	q.MinRooms = max(1, q.MinRooms-envelopeRoomsSlack)
	q.MaxRooms += envelopeRoomsSlack
	q.MinPrice -= q.MinPrice / envelopePriceDivisor
	q.MaxPrice += q.MaxPrice / envelopePriceDivisor
	return q
}

// NormalizeCity returns the canonical cache key for a city name.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
