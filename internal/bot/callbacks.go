package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type choice struct {
	label string
	value string
}

var settingChoices = map[string]struct {
	prompt  string
	choices []choice
}{
	cmdSeller: {
		prompt:  "Чьи объявления присылать?",
		choices: []choice{{"Все", "all"}, {"Собственники", "owner"}, {"Агентства", "company"}},
	},
	cmdMode: {
		prompt:  "Режим работы:",
		choices: []choice{{"Обычный", "normal"}, {"ИИ-оценка", "ai"}},
	},
	cmdDelivery: {
		prompt:  "Как присылать объявления?",
		choices: []choice{{"По одному", "full"}, {"Сводкой", "brief"}},
	},
}

// sendChoices offers the values of a setting as inline buttons carrying
// "<setting>:<value>" callback data.
func (b *Bot) sendChoices(chatID int64, setting string) {
	s, ok := settingChoices[setting]
	if !ok {
		return
	}

	row := make([]tgbotapi.InlineKeyboardButton, 0, len(s.choices))
	for _, c := range s.choices {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(c.label, setting+":"+c.value))
	}

	msg := tgbotapi.NewMessage(chatID, s.prompt)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send setting choices", "setting", setting, "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Debug("send callback ack", "error", err)
	}

	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	userID := chatID
	if cb.From != nil {
		userID = cb.From.ID
	}

	setting, value, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}
	if _, known := settingChoices[setting]; !known {
		return
	}

	b.log.Info("callback", "setting", setting, "value", value, "chat_id", chatID, "user_id", userID)
	b.applySetting(ctx, chatID, userID, setting, value)
}
