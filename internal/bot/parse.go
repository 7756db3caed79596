package bot

import (
	"fmt"
	"strconv"
	"strings"

	"realty_bot/internal/delivery"
	"realty_bot/internal/model"
)

const maxRooms = 10

// ParseRange parses "<min> <max>" or a single "<max>" of non-negative
// integers, e.g. "40000 80000".
func ParseRange(args string) (int, int, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 || len(parts) > 2 {
		return 0, 0, fmt.Errorf("usage: <min> <max>")
	}

	vals := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("invalid number %q", p)
		}
		vals[i] = v
	}

	if len(vals) == 1 {
		return 0, vals[0], nil
	}
	if vals[1] < vals[0] {
		return 0, 0, fmt.Errorf("max %d is less than min %d", vals[1], vals[0])
	}
	return vals[0], vals[1], nil
}

// ParseRooms parses a room range limited to 1..maxRooms.
func ParseRooms(args string) (int, int, error) {
	lo, hi, err := ParseRange(args)
	if err != nil {
		return 0, 0, err
	}
	if len(strings.Fields(args)) == 1 {
		lo = hi
	}
	if lo < 1 || hi > maxRooms {
		return 0, 0, fmt.Errorf("rooms must be between 1 and %d", maxRooms)
	}
	return lo, hi, nil
}

// ParseSeller parses a seller filter argument.
func ParseSeller(arg string) (model.SellerFilter, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "all", "any":
		return model.SellerAny, nil
	case "owner":
		return model.SellerOnlyOwner, nil
	case "company", "agency":
		return model.SellerOnlyCompany, nil
	default:
		return "", fmt.Errorf("unknown seller %q, use: all, owner, company", arg)
	}
}

// ParseAIMode parses "normal" or "ai".
func ParseAIMode(arg string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "normal":
		return false, nil
	case "ai":
		return true, nil
	default:
		return false, fmt.Errorf("unknown mode %q, use: normal, ai", arg)
	}
}

// ParseDeliveryMode parses "full" or "brief".
func ParseDeliveryMode(arg string) (model.DeliveryMode, error) {
	switch m := model.DeliveryMode(strings.ToLower(strings.TrimSpace(arg))); m {
	case model.DeliveryFull, model.DeliveryBrief:
		return m, nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q, use: full, brief", arg)
	}
}

// ParseRunOptions parses the flags of the /run command.
func ParseRunOptions(args string) (delivery.Options, error) {
	var opts delivery.Options
	for _, flag := range strings.Fields(strings.ToLower(args)) {
		switch flag {
		case "force":
			opts.ForceSend = true
		case "ignore_sent":
			opts.IgnoreSentAds = true
		case "bypass_summary":
			opts.BypassSummary = true
		default:
			return delivery.Options{}, fmt.Errorf("unknown flag %q, use: force, ignore_sent, bypass_summary", flag)
		}
	}
	return opts, nil
}
