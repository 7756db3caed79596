// Package dedup decides whether a listing may be delivered to a user: it
// checks per-user delivery history and a cross-user content fingerprint index.
package dedup

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidTelegramID is returned when a user id cannot be coerced to a
// positive integer. Callers treat it as a hard per-user failure.
var ErrInvalidTelegramID = errors.New("invalid telegram id")

// NormalizeAdID converts an ad id of any source type to its trimmed string
// form. A nil id becomes the empty string.
func NormalizeAdID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// NormalizeTelegramID coerces a user id to int64. Integers, integral floats
// and numeric strings are accepted; zero, negative and everything else wraps
// ErrInvalidTelegramID.
func NormalizeTelegramID(id any) (int64, error) {
	var n int64
	switch v := id.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint32:
		n = int64(v)
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return 0, fmt.Errorf("%w: %v", ErrInvalidTelegramID, v)
		}
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTelegramID, v)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidTelegramID, id)
	}

	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTelegramID, n)
	}
	return n, nil
}
