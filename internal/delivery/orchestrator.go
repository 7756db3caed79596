// Package delivery runs the per-cycle matching and delivery pipeline: for each
// active user it loads filters, assembles candidates, filters and
// deduplicates them, and hands the survivors to the delivery channel.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"realty_bot/internal/dedup"
	"realty_bot/internal/filter"
	"realty_bot/internal/model"
)

// DefaultSendDelay is the pause after each successful delivery.
const DefaultSendDelay = time.Second

// Store provides users and their filters.
type Store interface {
	ActiveUsers(ctx context.Context) ([]int64, error)
	GetUserFilters(ctx context.Context, userID int64) (*model.UserFilters, error)
}

// Candidates assembles the listings to evaluate for a user.
type Candidates interface {
	FetchCandidates(ctx context.Context, userID int64, f model.UserFilters) []model.Listing
}

// Gate decides whether a listing may be delivered and records deliveries.
type Gate interface {
	Check(ctx context.Context, userID int64, l model.Listing, ignoreSent bool) (dedup.Verdict, error)
	Record(ctx context.Context, userID int64, l model.Listing) error
}

// Sender is the outbound delivery channel.
type Sender interface {
	Deliver(ctx context.Context, userID int64, l model.Listing) (bool, error)
	DeliverSummary(ctx context.Context, userID int64, s Summary) (bool, error)
	NotifySetupRequired(ctx context.Context, userID int64, reason string) error
}

// AIHandler takes over delivery for users in AI valuation mode.
type AIHandler interface {
	HandleCandidates(ctx context.Context, userID int64, f model.UserFilters, candidates []model.Listing) error
}

// Options are the per-run switches of a delivery cycle.
type Options struct {
	// ForceSend substitutes fail-safe filters for unusable ones and skips the
	// already-sent check.
	ForceSend bool `json:"force_send"`
	// IgnoreSentAds skips the already-sent check.
	IgnoreSentAds bool `json:"ignore_sent_ads"`
	// BypassSummary delivers listings one by one even to brief-mode users.
	BypassSummary bool `json:"bypass_summary"`
}

// Deps are the collaborators of an Orchestrator. AI may be nil, in which
// case AI-mode users get regular deliveries.
type Deps struct {
	Store      Store
	Candidates Candidates
	Gate       Gate
	Sender     Sender
	AI         AIHandler
}

// Orchestrator runs delivery cycles.
type Orchestrator struct {
	deps      Deps
	evaluator *filter.Evaluator
	sendDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       *slog.Logger
}

// New creates an Orchestrator with the default send delay.
func New(deps Deps, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:      deps,
		evaluator: filter.NewEvaluator(log),
		sendDelay: DefaultSendDelay,
		sleep:     sleepCtx,
		log:       log.With("component", "delivery"),
	}
}

// SetSendDelay overrides the pause after each successful delivery.
func (o *Orchestrator) SetSendDelay(d time.Duration) {
	o.sendDelay = d
}

// RunCycle processes every active user once. Users are handled one at a
// time and a failure for one user never affects the others.
func (o *Orchestrator) RunCycle(ctx context.Context, opts Options) CycleStats {
	stats := CycleStats{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Options:   opts,
	}
	log := o.log.With("run_id", stats.RunID)
	budget := filter.NewLogBudget(filter.DefaultMaxFilteredLogs, filter.DefaultMaxPassedLogs)

	log.Info("delivery cycle started",
		"force_send", opts.ForceSend,
		"ignore_sent_ads", opts.IgnoreSentAds,
		"bypass_summary", opts.BypassSummary,
	)

	users, err := o.deps.Store.ActiveUsers(ctx)
	if err != nil {
		log.Error("list active users", "error", err)
		stats.Error = err.Error()
		stats.FinishedAt = time.Now().UTC()
		return stats
	}
	if len(users) == 0 {
		log.Info("no active users")
		stats.FinishedAt = time.Now().UTC()
		return stats
	}

	stats.ActiveUsers = len(users)
	for _, userID := range users {
		if ctx.Err() != nil {
			log.Warn("delivery cycle cancelled", "error", ctx.Err())
			break
		}
		stats.add(o.processUser(ctx, log, userID, opts, budget))
	}
	stats.FinishedAt = time.Now().UTC()

	if stats.Sent == 0 {
		log.Warn("delivery cycle sent nothing",
			"active_users", stats.ActiveUsers,
			"failed", stats.Failed,
			"prompted", stats.Prompted,
		)
	} else {
		log.Info("delivery cycle finished",
			"active_users", stats.ActiveUsers,
			"sent", stats.Sent,
			"failed", stats.Failed,
			"duration", stats.FinishedAt.Sub(stats.StartedAt),
		)
	}
	return stats
}

func (o *Orchestrator) processUser(ctx context.Context, log *slog.Logger, userID int64, opts Options, budget *filter.LogBudget) (st UserStats) {
	st.UserID = userID
	log = log.With("user_id", userID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("user processing panicked", "panic", r)
			st.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	f, err := o.deps.Store.GetUserFilters(ctx, userID)
	if err != nil {
		log.Error("load filters", "error", err)
		st.Error = err.Error()
		return st
	}
	if f == nil {
		o.promptSetup(ctx, log, userID, filter.ReasonNotConfigured, &st)
		return st
	}
	if !filter.HasValid(f) {
		reason := filter.Reason(f)
		if !opts.ForceSend {
			o.promptSetup(ctx, log, userID, reason, &st)
			return st
		}
		log.Warn("unusable filters in forced run, using fail-safe filters", "reason", reason)
		failSafe := filter.FailSafe(userID)
		f = &failSafe
	}

	candidates := o.deps.Candidates.FetchCandidates(ctx, userID, *f)
	st.Total = len(candidates)

	if f.AIMode {
		if o.deps.AI != nil {
			st.AIMode = true
			if err := o.deps.AI.HandleCandidates(ctx, userID, *f, candidates); err != nil {
				log.Error("ai mode handler", "error", err)
				st.Error = err.Error()
			}
			return st
		}
		log.Warn("ai mode requested but unavailable, delivering normally")
	}

	brief := f.DeliveryMode == model.DeliveryBrief && !opts.BypassSummary
	ignoreSent := opts.IgnoreSentAds || opts.ForceSend

	var (
		pending     []model.Listing
		pendingHash = make(map[string]bool)
	)
	for _, l := range candidates {
		if ctx.Err() != nil {
			break
		}
		if !o.evaluator.Match(l, *f, budget) {
			st.Filtered++
			continue
		}

		verdict, err := o.deps.Gate.Check(ctx, userID, l, ignoreSent)
		if errors.Is(err, dedup.ErrInvalidTelegramID) {
			log.Error("invalid user identity, skipping user", "error", err)
			st.Error = err.Error()
			return st
		}
		if err != nil {
			log.Error("dedup check", "ad_id", l.ID, "source", l.Source, "error", err)
			st.Failed++
			continue
		}
		switch verdict {
		case dedup.VerdictAlreadySent:
			st.AlreadySent++
			continue
		case dedup.VerdictDuplicate:
			st.Duplicate++
			continue
		}

		if brief {
			if hash, ok := dedup.ListingFingerprint(l); ok {
				if pendingHash[hash] {
					st.Duplicate++
					continue
				}
				pendingHash[hash] = true
			}
			pending = append(pending, l)
			continue
		}

		if !o.deliver(ctx, log, userID, l) {
			st.Failed++
			continue
		}
		st.Sent++
		if err := o.sleep(ctx, o.sendDelay); err != nil {
			break
		}
	}

	if brief && len(pending) > 0 {
		summary := BuildSummary(pending, MaxGroupsInSummary)
		shown := len(summary.Listings())
		st.Deferred = len(pending) - shown
		if o.deliverSummary(ctx, log, userID, summary) {
			st.Sent += shown
			_ = o.sleep(ctx, o.sendDelay)
		} else {
			st.Failed += shown
		}
	}

	log.Info("user processed",
		"total", st.Total,
		"filtered", st.Filtered,
		"already_sent", st.AlreadySent,
		"duplicate", st.Duplicate,
		"failed", st.Failed,
		"sent", st.Sent,
		"deferred", st.Deferred,
	)
	return st
}

func (o *Orchestrator) promptSetup(ctx context.Context, log *slog.Logger, userID int64, reason string, st *UserStats) {
	st.Prompted = true
	log.Info("filters not usable, prompting user", "reason", reason)
	if err := o.deps.Sender.NotifySetupRequired(ctx, userID, reason); err != nil {
		log.Warn("send setup prompt", "error", err)
	}
}

func (o *Orchestrator) deliver(ctx context.Context, log *slog.Logger, userID int64, l model.Listing) bool {
	ok, err := o.deps.Sender.Deliver(ctx, userID, l)
	if err != nil || !ok {
		log.Warn("delivery failed", "ad_id", l.ID, "source", l.Source, "error", err)
		return false
	}
	if err := o.deps.Gate.Record(ctx, userID, l); err != nil {
		log.Error("record delivery", "ad_id", l.ID, "source", l.Source, "error", err)
	}
	return true
}

// deliverSummary sends the ranked digest and records only the listings of the
// houses it includes. Listings of houses beyond the cap stay pending.
func (o *Orchestrator) deliverSummary(ctx context.Context, log *slog.Logger, userID int64, s Summary) bool {
	listings := s.Listings()
	ok, err := o.deps.Sender.DeliverSummary(ctx, userID, s)
	if err != nil || !ok {
		log.Warn("summary delivery failed", "houses", len(s.Groups), "count", len(listings), "error", err)
		return false
	}
	for _, g := range s.Groups {
		log.Debug("summary house", "address", g.Address, "count", len(g.Listings), "score", g.Score, "market_ppm", s.MarketPPM)
	}
	for _, l := range listings {
		if err := o.deps.Gate.Record(ctx, userID, l); err != nil {
			log.Error("record delivery", "ad_id", l.ID, "source", l.Source, "error", err)
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
