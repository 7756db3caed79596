// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SellerType is the tri-state seller flag carried by a listing.
type SellerType int

// Supported seller flags. SellerUnknown is the zero value.
const (
	SellerUnknown SellerType = iota
	SellerCompany
	SellerOwner
)

// SellerFromCompanyFlag converts an optional "is company" flag to a SellerType.
func SellerFromCompanyFlag(isCompany *bool) SellerType {
	switch {
	case isCompany == nil:
		return SellerUnknown
	case *isCompany:
		return SellerCompany
	default:
		return SellerOwner
	}
}

// SellerFilter restricts deliveries to a seller type.
type SellerFilter string

// Supported seller filters. The empty value means "any seller".
const (
	SellerAny         SellerFilter = ""
	SellerOnlyOwner   SellerFilter = "owner"
	SellerOnlyCompany SellerFilter = "company"
)

// DeliveryMode controls how matching listings reach the user.
type DeliveryMode string

// Supported delivery modes.
const (
	DeliveryFull  DeliveryMode = "full"
	DeliveryBrief DeliveryMode = "brief"
)

// Listing is one scraped real-estate advertisement.
type Listing struct {
	ID             string
	Source         string
	Title          string
	Price          int
	PriceUSD       int
	PriceBYN       int
	Currency       string
	PriceFormatted string
	Rooms          int
	Area           float64
	Address        string
	City           string
	URL            string
	Photos         []string
	Description    string
	Seller         SellerType
	Vendor         string
	Raw            json.RawMessage
}

// NewListing finishes construction of a listing: the vendor is extracted from
// the raw payload once, so consumers never parse Raw themselves.
func NewListing(l Listing) Listing {
	if l.Vendor == "" {
		l.Vendor = VendorFromRaw(l.Raw)
	}
	return l
}

// VendorFromRaw extracts the agency or seller name from a raw source payload.
// The payload is either a JSON object or a JSON string holding a serialized
// object; anything else yields an empty vendor.
func VendorFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return ""
		}
	}

	for _, key := range []string{"agency", "seller"} {
		if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// UserFilters is a user's search configuration.
type UserFilters struct {
	UserID       int64
	City         string
	MinRooms     int
	MaxRooms     int
	MinPrice     int
	MaxPrice     int
	SellerType   SellerFilter
	AIMode       bool
	DeliveryMode DeliveryMode
	IsActive     bool
	UpdatedAt    time.Time
}

// Query is a city plus room and price bounds, used both for cache lookups and
// live acquisition.
type Query struct {
	City     string
	MinRooms int
	MaxRooms int
	MinPrice int
	MaxPrice int
}

// SentRecord is the fact that a user has already received an ad.
type SentRecord struct {
	UserID int64
	AdID   string
	SentAt time.Time
}

// ContentFingerprint records the first listing delivered for a content hash.
type ContentFingerprint struct {
	Hash      string
	AdID      string
	Source    string
	URL       string
	FirstSent time.Time
}

// User is a bot subscriber.
type User struct {
	TelegramID int64
	Username   string
	IsActive   bool
	CreatedAt  time.Time
}
