package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"realty_bot/internal/filter"
	"realty_bot/internal/model"
	"realty_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const (
	listingActive = "active"
	listingStale  = "stale"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertUser registers a user or refreshes the username of a known one.
// Existing users are reactivated.
func (s *SQLite) UpsertUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (telegram_id, username, is_active, created_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(telegram_id) DO UPDATE SET username = excluded.username, is_active = 1`,
		u.TelegramID, u.Username, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	u.IsActive = true
	return nil
}

// GetUser returns a user by Telegram id, or nil if unknown.
func (s *SQLite) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	var u model.User
	var isActive int
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT telegram_id, username, is_active, created_at FROM users WHERE telegram_id = ?`, telegramID,
	).Scan(&u.TelegramID, &u.Username, &isActive, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.IsActive = isActive == 1
	u.CreatedAt, _ = time.Parse(timeLayout, created)
	return &u, nil
}

// SetUserActive pauses or resumes notifications for a user.
func (s *SQLite) SetUserActive(ctx context.Context, telegramID int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = ? WHERE telegram_id = ?`, boolToInt(active), telegramID,
	)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return nil
}

// ActiveUsers returns the ids of users eligible for the next delivery cycle.
// Users without saved filters are included so they can be prompted.
func (s *SQLite) ActiveUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.telegram_id
		 FROM users u LEFT JOIN user_filters f ON f.user_id = u.telegram_id
		 WHERE u.is_active = 1 AND COALESCE(f.is_active, 1) = 1
		 ORDER BY u.telegram_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetUserFilters returns the saved filters of a user.
func (s *SQLite) GetUserFilters(ctx context.Context, userID int64) (*model.UserFilters, error) {
	var f model.UserFilters
	var sellerType, deliveryMode, updated string
	var aiMode, isActive int
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, city, min_rooms, max_rooms, min_price, max_price,
		        seller_type, ai_mode, delivery_mode, is_active, updated_at
		 FROM user_filters WHERE user_id = ?`, userID,
	).Scan(&f.UserID, &f.City, &f.MinRooms, &f.MaxRooms, &f.MinPrice, &f.MaxPrice,
		&sellerType, &aiMode, &deliveryMode, &isActive, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user filters: %w", err)
	}
	f.SellerType = model.SellerFilter(sellerType)
	f.AIMode = aiMode == 1
	f.DeliveryMode = model.DeliveryMode(deliveryMode)
	f.IsActive = isActive == 1
	f.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &f, nil
}

// SaveUserFilters inserts or replaces a user's filters and sets UpdatedAt.
func (s *SQLite) SaveUserFilters(ctx context.Context, f *model.UserFilters) error {
	now := time.Now().UTC().Format(timeLayout)
	mode := f.DeliveryMode
	if mode == "" {
		mode = model.DeliveryFull
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_filters (user_id, city, min_rooms, max_rooms, min_price, max_price,
		                           seller_type, ai_mode, delivery_mode, is_active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   city = excluded.city,
		   min_rooms = excluded.min_rooms,
		   max_rooms = excluded.max_rooms,
		   min_price = excluded.min_price,
		   max_price = excluded.max_price,
		   seller_type = excluded.seller_type,
		   ai_mode = excluded.ai_mode,
		   delivery_mode = excluded.delivery_mode,
		   is_active = excluded.is_active,
		   updated_at = excluded.updated_at`,
		f.UserID, f.City, f.MinRooms, f.MaxRooms, f.MinPrice, f.MaxPrice,
		string(f.SellerType), boolToInt(f.AIMode), string(mode), boolToInt(f.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("save user filters: %w", err)
	}
	f.DeliveryMode = mode
	f.UpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// IsAdSent reports whether the ad has already been delivered to the user.
func (s *SQLite) IsAdSent(ctx context.Context, userID int64, adID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_ads WHERE user_id = ? AND ad_external_id = ?`,
		userID, adID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	return count > 0, nil
}

// MarkAdSent records a successful delivery. Repeated calls are no-ops.
func (s *SQLite) MarkAdSent(ctx context.Context, userID int64, adID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sent_ads (user_id, ad_external_id, sent_at) VALUES (?, ?, ?)`,
		userID, adID, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// SentCount returns how many ads the user has received in total.
func (s *SQLite) SentCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_ads WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return count, nil
}

// RecentSent returns the user's latest deliveries, newest first.
func (s *SQLite) RecentSent(ctx context.Context, userID int64, limit int) ([]model.SentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ad_external_id, sent_at FROM sent_ads WHERE user_id = ?
		 ORDER BY sent_at DESC, rowid DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.SentRecord
	for rows.Next() {
		r := model.SentRecord{UserID: userID}
		var sentAt string
		if err := rows.Scan(&r.AdID, &sentAt); err != nil {
			return nil, fmt.Errorf("scan sent: %w", err)
		}
		r.SentAt, _ = time.Parse(timeLayout, sentAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CachedListings returns active cached listings of the query city whose rooms
// and canonical price fall within the query bounds, newest first. Listings
// with unknown rooms or price always qualify on that dimension.
func (s *SQLite) CachedListings(ctx context.Context, q model.Query, limit int) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM cached_listings
		 WHERE city = ? AND status = ?
		   AND (rooms <= 0 OR rooms BETWEEN ? AND ?)
		   AND (price_canon <= 0 OR price_canon BETWEEN ? AND ?)
		 ORDER BY updated_at DESC, rowid DESC
		 LIMIT ?`,
		normalizeCity(q.City), listingActive,
		q.MinRooms, q.MaxRooms, q.MinPrice, q.MaxPrice, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query cached listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var listings []model.Listing
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan cached listing: %w", err)
		}
		var l model.Listing
		if err := json.Unmarshal([]byte(payload), &l); err != nil {
			return nil, fmt.Errorf("decode cached listing: %w", err)
		}
		listings = append(listings, model.NewListing(l))
	}
	return listings, rows.Err()
}

// CacheListings upserts listings into the cache keyed by (source, id) and
// returns how many were stored. Listings without an id or with an
// unencodable payload are skipped and reported in the returned error.
func (s *SQLite) CacheListings(ctx context.Context, listings []model.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	saved := 0
	var errs []error
	for _, l := range listings {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("listing from %q has no id", l.Source))
			continue
		}
		payload, err := json.Marshal(l)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode listing %s: %w", id, err))
			continue
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cached_listings (source, ad_id, city, rooms, price_canon, payload, status, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(source, ad_id) DO UPDATE SET
			   city = excluded.city,
			   rooms = excluded.rooms,
			   price_canon = excluded.price_canon,
			   payload = excluded.payload,
			   status = excluded.status,
			   updated_at = excluded.updated_at`,
			l.Source, id, normalizeCity(l.City), l.Rooms, filter.PriceUSD(l), string(payload), listingActive, now,
		)
		if err != nil {
			// The rollback discards the rows written so far.
			return 0, fmt.Errorf("upsert listing %s: %w", id, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return saved, errors.Join(errs...)
}

// MarkStaleListings retires cached listings not refreshed since olderThan.
func (s *SQLite) MarkStaleListings(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cached_listings SET status = ? WHERE status = ? AND updated_at < ?`,
		listingStale, listingActive, olderThan.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale listings: %w", err)
	}
	return res.RowsAffected()
}

// LookupFingerprint returns the first delivery recorded for a content hash.
func (s *SQLite) LookupFingerprint(ctx context.Context, hash string) (model.ContentFingerprint, bool, error) {
	var fp model.ContentFingerprint
	var firstSent string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, ad_id, source, url, first_sent FROM content_fingerprints WHERE hash = ?`, hash,
	).Scan(&fp.Hash, &fp.AdID, &fp.Source, &fp.URL, &firstSent)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContentFingerprint{}, false, nil
	}
	if err != nil {
		return model.ContentFingerprint{}, false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	fp.FirstSent, _ = time.Parse(timeLayout, firstSent)
	return fp, true, nil
}

// RecordFingerprint stores a fingerprint unless the hash is already known.
// It reports whether this call created the record.
func (s *SQLite) RecordFingerprint(ctx context.Context, fp model.ContentFingerprint) (bool, error) {
	firstSent := fp.FirstSent
	if firstSent.IsZero() {
		firstSent = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO content_fingerprints (hash, ad_id, source, url, first_sent)
		 VALUES (?, ?, ?, ?, ?)`,
		fp.Hash, fp.AdID, fp.Source, fp.URL, firstSent.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("record fingerprint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// PurgeFingerprints deletes fingerprints first sent before olderThan.
func (s *SQLite) PurgeFingerprints(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM content_fingerprints WHERE first_sent < ?`,
		olderThan.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge fingerprints: %w", err)
	}
	return res.RowsAffected()
}

func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
