// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"realty_bot/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	UpsertUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
	SetUserActive(ctx context.Context, telegramID int64, active bool) error
	ActiveUsers(ctx context.Context) ([]int64, error)

	// GetUserFilters returns nil without an error when the user has never
	// saved filters.
	GetUserFilters(ctx context.Context, userID int64) (*model.UserFilters, error)
	SaveUserFilters(ctx context.Context, f *model.UserFilters) error

	IsAdSent(ctx context.Context, userID int64, adID string) (bool, error)
	MarkAdSent(ctx context.Context, userID int64, adID string) error
	SentCount(ctx context.Context, userID int64) (int, error)
	RecentSent(ctx context.Context, userID int64, limit int) ([]model.SentRecord, error)

	CachedListings(ctx context.Context, q model.Query, limit int) ([]model.Listing, error)
	CacheListings(ctx context.Context, listings []model.Listing) (int, error)
	MarkStaleListings(ctx context.Context, olderThan time.Time) (int64, error)

	LookupFingerprint(ctx context.Context, hash string) (model.ContentFingerprint, bool, error)
	RecordFingerprint(ctx context.Context, fp model.ContentFingerprint) (bool, error)
	PurgeFingerprints(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
