package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"realty_bot/internal/config"
	"realty_bot/internal/delivery"
	"realty_bot/internal/model"
	"realty_bot/internal/storage"
)

const defaultMaxPhotos = 3

// ErrFloodControl is returned for sends to a user Telegram has rate limited
// until the retry_after window passes.
var ErrFloodControl = errors.New("flood control")

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Runner triggers a delivery cycle on demand.
type Runner interface {
	RunNow(ctx context.Context, opts delivery.Options) delivery.CycleStats
}

// Bot is the Telegram bot that handles user commands and delivers listings.
type Bot struct {
	api    telegramAPI
	store  storage.Storage
	cfg    *config.Config
	runner Runner
	log    *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[int64]time.Time
}

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, store, cfg, log), nil
}

func newBot(api telegramAPI, store storage.Storage, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:   api,
		store: store,
		cfg:   cfg,
		log:   log.With("component", "bot"),
		now:   time.Now,
		locks: make(map[int64]time.Time),
	}
}

// SetRunner enables the admin /run command. It must be called before Run.
func (b *Bot) SetRunner(r Runner) {
	b.runner = r
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if cb := update.CallbackQuery; cb != nil {
				if cb.From != nil && !b.cfg.IsUserAllowed(cb.From.ID) {
					continue
				}
				b.handleCallback(ctx, cb)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.From != nil && !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Доступ запрещён.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// Deliver sends one listing to a user: a photo album with the description as
// caption when the listing has photos, otherwise a text message. It reports
// whether Telegram accepted the listing.
func (b *Bot) Deliver(ctx context.Context, userID int64, l model.Listing) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := b.checkLock(userID); err != nil {
		return false, err
	}

	text := FormatListing(l)
	photos := l.Photos
	if n := b.maxPhotos(); len(photos) > n {
		photos = photos[:n]
	}

	if len(photos) == 0 {
		msg := tgbotapi.NewMessage(userID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if kb, ok := listingKeyboard(l); ok {
			msg.ReplyMarkup = kb
		}
		if _, err := b.api.Send(msg); err != nil {
			return false, b.sendError(userID, err)
		}
		return true, nil
	}

	media := make([]any, 0, len(photos))
	for i, url := range photos {
		photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(url))
		if i == 0 {
			photo.Caption = text
			photo.ParseMode = tgbotapi.ModeHTML
		}
		media = append(media, photo)
	}
	if _, err := b.api.SendMediaGroup(tgbotapi.NewMediaGroup(userID, media)); err != nil {
		return false, b.sendError(userID, err)
	}

	// Albums cannot carry buttons, so the link goes in a follow-up message.
	if kb, ok := listingKeyboard(l); ok {
		msg := tgbotapi.NewMessage(userID, "🔗 Объявление на сайте")
		msg.ReplyMarkup = kb
		if _, err := b.api.Send(msg); err != nil {
			b.log.Warn("send listing link", "user_id", userID, "ad_id", l.ID, "error", b.sendError(userID, err))
		}
	}
	return true, nil
}

// DeliverSummary sends a ranked house digest to a user. It reports whether
// every part of the digest was accepted.
func (b *Bot) DeliverSummary(ctx context.Context, userID int64, s delivery.Summary) (bool, error) {
	if len(s.Groups) == 0 {
		return true, nil
	}
	for _, chunk := range FormatSummary(s) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := b.checkLock(userID); err != nil {
			return false, err
		}
		msg := tgbotapi.NewMessage(userID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := b.api.Send(msg); err != nil {
			return false, b.sendError(userID, err)
		}
	}
	return true, nil
}

// NotifySetupRequired asks a user to finish configuring filters.
func (b *Bot) NotifySetupRequired(ctx context.Context, userID int64, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.checkLock(userID); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(userID, FormatSetupPrompt(reason))
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return b.sendError(userID, err)
	}
	return nil
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) maxPhotos() int {
	if b.cfg.MaxPhotos > 0 {
		return b.cfg.MaxPhotos
	}
	return defaultMaxPhotos
}

func (b *Bot) checkLock(userID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.locks[userID]
	if !ok {
		return nil
	}
	if b.now().Before(until) {
		return fmt.Errorf("user %d: %w until %s", userID, ErrFloodControl, until.Format(time.RFC3339))
	}
	delete(b.locks, userID)
	return nil
}

// sendError wraps a failed send and locks the user when Telegram asked us to
// back off.
func (b *Bot) sendError(userID int64, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		retry := time.Duration(apiErr.RetryAfter) * time.Second
		b.mu.Lock()
		b.locks[userID] = b.now().Add(retry)
		b.mu.Unlock()
		b.log.Warn("flood control, pausing sends to user", "user_id", userID, "retry_after", retry)
	}
	return fmt.Errorf("send to %d: %w", userID, err)
}

func listingKeyboard(l model.Listing) (tgbotapi.InlineKeyboardMarkup, bool) {
	if strings.TrimSpace(l.URL) == "" {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Открыть объявление", l.URL),
		),
	), true
}
