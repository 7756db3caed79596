package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"realty_bot/internal/filter"
	"realty_bot/internal/model"
)

// Verdict is the outcome of a dedup check.
type Verdict int

// Possible verdicts. Only VerdictDeliver allows the listing through.
const (
	VerdictDeliver Verdict = iota
	VerdictAlreadySent
	VerdictDuplicate
)

func (v Verdict) String() string {
	switch v {
	case VerdictDeliver:
		return "deliver"
	case VerdictAlreadySent:
		return "already_sent"
	case VerdictDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// SentStore keeps per-user delivery history.
type SentStore interface {
	IsAdSent(ctx context.Context, userID int64, adID string) (bool, error)
	MarkAdSent(ctx context.Context, userID int64, adID string) error
}

// Index is the cross-user content fingerprint index.
type Index interface {
	LookupFingerprint(ctx context.Context, hash string) (model.ContentFingerprint, bool, error)
	RecordFingerprint(ctx context.Context, fp model.ContentFingerprint) (bool, error)
}

// Gate combines the already-sent check and the content fingerprint check.
type Gate struct {
	sent  SentStore
	index Index
	log   *slog.Logger
}

// NewGate creates a Gate.
func NewGate(sent SentStore, index Index, log *slog.Logger) *Gate {
	return &Gate{sent: sent, index: index, log: log.With("component", "dedup")}
}

// Check decides whether l may be delivered to the user. It only reads; the
// delivery is recorded separately with Record once it succeeds. With
// ignoreSent the user's delivery history is not consulted.
func (g *Gate) Check(ctx context.Context, userID int64, l model.Listing, ignoreSent bool) (Verdict, error) {
	uid, err := NormalizeTelegramID(userID)
	if err != nil {
		return VerdictDeliver, err
	}
	adID := NormalizeAdID(l.ID)

	if !ignoreSent {
		sent, err := g.sent.IsAdSent(ctx, uid, adID)
		if err != nil {
			return VerdictDeliver, fmt.Errorf("check sent: %w", err)
		}
		if sent {
			return VerdictAlreadySent, nil
		}
	}

	dup, fp, err := g.IsDuplicateContent(ctx, l)
	if err != nil {
		return VerdictDeliver, err
	}
	if dup {
		g.log.Info("duplicate content",
			"user_id", uid,
			"ad_id", adID,
			"source", l.Source,
			"first_ad_id", fp.AdID,
			"first_source", fp.Source,
			"hash", fp.Hash,
		)
		return VerdictDuplicate, nil
	}
	return VerdictDeliver, nil
}

// IsDuplicateContent reports whether a different listing with the same
// content fingerprint has already been delivered. The recorded first
// delivery is returned when found. A listing is never a duplicate of itself;
// the same id from another source is a different listing.
func (g *Gate) IsDuplicateContent(ctx context.Context, l model.Listing) (bool, model.ContentFingerprint, error) {
	hash, ok := ListingFingerprint(l)
	if !ok {
		return false, model.ContentFingerprint{}, nil
	}
	fp, found, err := g.index.LookupFingerprint(ctx, hash)
	if err != nil {
		return false, model.ContentFingerprint{}, fmt.Errorf("lookup fingerprint: %w", err)
	}
	if !found {
		return false, model.ContentFingerprint{}, nil
	}
	same := fp.AdID == NormalizeAdID(l.ID) && fp.Source == l.Source
	return !same, fp, nil
}

// Record stores a successful delivery: the per-user sent record and, unless
// one already exists, the content fingerprint.
func (g *Gate) Record(ctx context.Context, userID int64, l model.Listing) error {
	uid, err := NormalizeTelegramID(userID)
	if err != nil {
		return err
	}
	adID := NormalizeAdID(l.ID)

	if err := g.sent.MarkAdSent(ctx, uid, adID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}

	hash, ok := ListingFingerprint(l)
	if !ok {
		return nil
	}
	_, err = g.index.RecordFingerprint(ctx, model.ContentFingerprint{
		Hash:      hash,
		AdID:      adID,
		Source:    l.Source,
		URL:       l.URL,
		FirstSent: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("record fingerprint: %w", err)
	}
	return nil
}

// ListingFingerprint returns the content fingerprint of a listing, using the
// canonical USD price. Listings without an address have no fingerprint.
func ListingFingerprint(l model.Listing) (string, bool) {
	if NormalizeAddress(l.Address) == "" {
		return "", false
	}
	return Fingerprint(l.Rooms, l.Area, l.Address, filter.PriceUSD(l)), true
}
