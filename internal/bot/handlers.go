package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"realty_bot/internal/filter"
	"realty_bot/internal/model"
)

const (
	cmdStart    = "start"
	cmdSeller   = "seller"
	cmdMode     = "mode"
	cmdDelivery = "delivery"
)

const historyLimit = 10

const helpText = `Команды:
/filters - текущие фильтры
/city <город> - город поиска
/rooms <от> <до> - количество комнат (1-10)
/price <от> <до> - цена в USD
/seller all|owner|company - тип продавца
/mode normal|ai - обычный режим или ИИ-оценка
/delivery full|brief - каждое объявление отдельно или сводкой
/history - последние отправленные объявления
/pause - приостановить уведомления
/resume - возобновить уведомления`

const adminHelpText = `

Администрирование:
/run [force] [ignore_sent] [bypass_summary] - запустить цикл доставки`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	userID, username := chatID, ""
	if msg.From != nil {
		userID, username = msg.From.ID, msg.From.UserName
	}

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID, "user_id", userID)

	switch cmd {
	case cmdStart:
		b.handleStart(ctx, chatID, userID, username)
	case "help":
		b.handleHelp(chatID, userID)
	case "filters":
		b.handleFilters(ctx, chatID, userID)
	case "history":
		b.handleHistory(ctx, chatID, userID)
	case "city":
		b.handleCity(ctx, chatID, userID, args)
	case "rooms":
		b.handleRooms(ctx, chatID, userID, args)
	case "price":
		b.handlePrice(ctx, chatID, userID, args)
	case cmdSeller, cmdMode, cmdDelivery:
		if args == "" {
			b.sendChoices(chatID, cmd)
			return
		}
		b.applySetting(ctx, chatID, userID, cmd, args)
	case "pause":
		b.handleActive(ctx, chatID, userID, false)
	case "resume":
		b.handleActive(ctx, chatID, userID, true)
	case "run":
		b.handleRun(ctx, chatID, userID, args)
	default:
		b.reply(chatID, "Неизвестная команда. Список команд: /help")
	}
}

func (b *Bot) handleStart(ctx context.Context, chatID, userID int64, username string) {
	if err := b.store.UpsertUser(ctx, &model.User{TelegramID: userID, Username: username}); err != nil {
		b.log.Error("register user", "user_id", userID, "error", err)
		b.reply(chatID, "Не удалось зарегистрироваться, попробуйте позже.")
		return
	}

	text := `Добро пожаловать! Бот присылает новые объявления о продаже квартир по вашим фильтрам.

Быстрый старт:
1. /city <город>
2. /rooms <от> <до>
3. /price <от> <до>

Полный список команд: /help`

	f, err := b.store.GetUserFilters(ctx, userID)
	if err == nil && filter.HasValid(f) {
		text += "\n\n" + FormatFilters(f)
	}
	b.reply(chatID, text)
}

func (b *Bot) handleHelp(chatID, userID int64) {
	text := helpText
	if b.cfg.IsAdmin(userID) {
		text += adminHelpText
	}
	b.reply(chatID, text)
}

func (b *Bot) handleFilters(ctx context.Context, chatID, userID int64) {
	f, err := b.store.GetUserFilters(ctx, userID)
	if err != nil {
		b.log.Error("load filters", "user_id", userID, "error", err)
		b.reply(chatID, "Не удалось загрузить фильтры, попробуйте позже.")
		return
	}
	text := FormatFilters(f)
	if n, err := b.store.SentCount(ctx, userID); err == nil && n > 0 {
		text += fmt.Sprintf("\n\nПолучено объявлений: %d", n)
	}
	b.reply(chatID, text)
}

func (b *Bot) handleHistory(ctx context.Context, chatID, userID int64) {
	records, err := b.store.RecentSent(ctx, userID, historyLimit)
	if err != nil {
		b.log.Error("load history", "user_id", userID, "error", err)
		b.reply(chatID, "Не удалось загрузить историю, попробуйте позже.")
		return
	}
	b.reply(chatID, FormatHistory(records))
}

func (b *Bot) handleCity(ctx context.Context, chatID, userID int64, args string) {
	city := filter.NormalizeCity(args)
	if city == "" {
		b.reply(chatID, "Использование: /city <город>")
		return
	}
	b.saveFilters(ctx, chatID, userID, func(f *model.UserFilters) {
		f.City = city
	})
}

func (b *Bot) handleRooms(ctx context.Context, chatID, userID int64, args string) {
	lo, hi, err := ParseRooms(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Использование: /rooms <от> <до>, от 1 до %d (%v)", maxRooms, err))
		return
	}
	b.saveFilters(ctx, chatID, userID, func(f *model.UserFilters) {
		f.MinRooms, f.MaxRooms = lo, hi
	})
}

func (b *Bot) handlePrice(ctx context.Context, chatID, userID int64, args string) {
	lo, hi, err := ParseRange(args)
	if err == nil && hi == 0 {
		err = fmt.Errorf("max price is required")
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Использование: /price <от> <до>, цена в USD (%v)", err))
		return
	}
	b.saveFilters(ctx, chatID, userID, func(f *model.UserFilters) {
		f.MinPrice, f.MaxPrice = lo, hi
	})
}

func (b *Bot) applySetting(ctx context.Context, chatID, userID int64, setting, value string) {
	switch setting {
	case cmdSeller:
		seller, err := ParseSeller(value)
		if err != nil {
			b.reply(chatID, "Использование: /seller all|owner|company")
			return
		}
		b.saveFilters(ctx, chatID, userID, func(f *model.UserFilters) {
			f.SellerType = seller
		})
	case cmdMode:
		ai, err := ParseAIMode(value)
		if err != nil {
			b.reply(chatID, "Использование: /mode normal|ai")
			return
		}
		b.saveFilters(ctx, chatID, userID, func(f *model.UserFilters) {
			f.AIMode = ai
		})
	case cmdDelivery:
		mode, err := ParseDeliveryMode(value)
		if err != nil {
			b.reply(chatID, "Использование: /delivery full|brief")
			return
		}
		b.saveFilters(ctx, chatID, userID, func(f *model.UserFilters) {
			f.DeliveryMode = mode
		})
	}
}

func (b *Bot) handleActive(ctx context.Context, chatID, userID int64, active bool) {
	if err := b.ensureUser(ctx, userID); err != nil {
		b.log.Error("ensure user", "user_id", userID, "error", err)
		b.reply(chatID, "Ошибка, попробуйте позже.")
		return
	}
	if err := b.store.SetUserActive(ctx, userID, active); err != nil {
		b.log.Error("set user active", "user_id", userID, "active", active, "error", err)
		b.reply(chatID, "Ошибка, попробуйте позже.")
		return
	}
	if active {
		b.reply(chatID, "Уведомления возобновлены.")
	} else {
		b.reply(chatID, "Уведомления приостановлены. Возобновить: /resume")
	}
}

func (b *Bot) handleRun(ctx context.Context, chatID, userID int64, args string) {
	if !b.cfg.IsAdmin(userID) {
		b.reply(chatID, "Команда доступна только администраторам.")
		return
	}
	if b.runner == nil {
		b.reply(chatID, "Планировщик недоступен.")
		return
	}
	opts, err := ParseRunOptions(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Использование: /run [force] [ignore_sent] [bypass_summary] (%v)", err))
		return
	}

	b.log.Info("manual run requested",
		"user_id", userID,
		"force_send", opts.ForceSend,
		"ignore_sent_ads", opts.IgnoreSentAds,
		"bypass_summary", opts.BypassSummary,
	)
	b.reply(chatID, "Запускаю цикл доставки...")

	go func() {
		stats := b.runner.RunNow(context.WithoutCancel(ctx), opts)
		b.reply(chatID, FormatCycleStats(stats))
	}()
}

// saveFilters applies a change to the user's filters, creating them if
// needed, and replies with the result.
func (b *Bot) saveFilters(ctx context.Context, chatID, userID int64, apply func(f *model.UserFilters)) {
	f, err := b.updateFilters(ctx, userID, apply)
	if err != nil {
		b.log.Error("update filters", "user_id", userID, "error", err)
		b.reply(chatID, "Не удалось сохранить фильтры, попробуйте позже.")
		return
	}
	b.reply(chatID, "Сохранено.\n\n"+FormatFilters(f))
}

func (b *Bot) updateFilters(ctx context.Context, userID int64, apply func(f *model.UserFilters)) (*model.UserFilters, error) {
	if err := b.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	f, err := b.store.GetUserFilters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load filters: %w", err)
	}
	if f == nil {
		f = &model.UserFilters{UserID: userID, IsActive: true, DeliveryMode: model.DeliveryFull}
	}

	apply(f)
	if err := b.store.SaveUserFilters(ctx, f); err != nil {
		return nil, fmt.Errorf("save filters: %w", err)
	}
	return f, nil
}

// ensureUser registers users who configure filters before /start.
func (b *Bot) ensureUser(ctx context.Context, userID int64) error {
	u, err := b.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if u != nil {
		return nil
	}
	if err := b.store.UpsertUser(ctx, &model.User{TelegramID: userID}); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}
