package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"realty_bot/internal/delivery"
	"realty_bot/internal/filter"
	"realty_bot/internal/model"
)

// maxMessageLen is the Telegram limit for a text message.
const maxMessageLen = 4096

// FormatListing formats a listing as an HTML notification.
func FormatListing(l model.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏠 <b>%s</b>\n\n", html.EscapeString(headline(l)))

	price := html.EscapeString(priceText(l))
	if perMeter := pricePerMeter(l); perMeter > 0 {
		fmt.Fprintf(&b, "💰 %s (~$%s/м²)\n", price, groupDigits(perMeter))
	} else {
		fmt.Fprintf(&b, "💰 %s\n", price)
	}
	if addr := strings.TrimSpace(l.Address); addr != "" {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(addr))
	}
	if seller := sellerText(l); seller != "" {
		fmt.Fprintf(&b, "👤 %s\n", html.EscapeString(seller))
	}
	fmt.Fprintf(&b, "🔎 %s", html.EscapeString(l.Source))
	return b.String()
}

// FormatSummary formats a ranked house digest as HTML, split into as many
// messages as the Telegram length limit requires.
func FormatSummary(s delivery.Summary) []string {
	parts := []string{fmt.Sprintf("🏙 <b>Найдено подходящих квартир: %d</b>\n", len(s.Listings()))}
	for _, g := range s.Groups {
		parts = append(parts, houseHeader(g, s.MarketPPM))
		for _, l := range g.Listings {
			parts = append(parts, summaryLine(l))
		}
	}
	if hidden := s.TotalGroups - len(s.Groups); hidden > 0 {
		parts = append(parts, fmt.Sprintf("\nЕщё домов: %d, покажу в следующий раз.", hidden))
	}

	var (
		chunks []string
		b      strings.Builder
	)
	for _, p := range parts {
		if b.Len() > 0 && b.Len()+len(p) > maxMessageLen {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		b.WriteString(p)
	}
	return append(chunks, b.String())
}

func houseHeader(g delivery.HouseGroup, marketPPM float64) string {
	var b strings.Builder
	address := strings.TrimSpace(g.Address)
	if address == "" {
		address = "адрес не указан"
	}
	fmt.Fprintf(&b, "\n🏢 %s\n", html.EscapeString(address))

	switch lo, hi := g.PriceRange(); {
	case lo == 0:
		b.WriteString("💰 цена не указана\n")
	case lo == hi:
		fmt.Fprintf(&b, "💰 $%s\n", groupDigits(lo))
	default:
		fmt.Fprintf(&b, "💰 $%s – $%s\n", groupDigits(lo), groupDigits(hi))
	}
	fmt.Fprintf(&b, "📊 Вариантов: %d\n", len(g.Listings))
	if pct := g.BelowMarket(marketPPM); pct > 10 {
		fmt.Fprintf(&b, "🔥 Цена ниже рынка на ~%d%%\n", pct)
	}
	if g.Stable() {
		b.WriteString("🟢 Стабильные цены\n")
	}
	return b.String()
}

func summaryLine(l model.Listing) string {
	title := html.EscapeString(headline(l))
	if l.URL != "" {
		title = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(l.URL), title)
	}
	return fmt.Sprintf("   • %s • %s\n", title, html.EscapeString(priceText(l)))
}

// FormatSetupPrompt formats the message asking a user to finish configuring
// filters.
func FormatSetupPrompt(reason string) string {
	return fmt.Sprintf(`⚙️ %s.

Чтобы получать объявления, настройте поиск:
/city <город>
/rooms <от> <до>
/price <от> <до> (в USD)

Текущие настройки: /filters`, reason)
}

// FormatFilters formats a user's filters for display.
func FormatFilters(f *model.UserFilters) string {
	if f == nil {
		return "Фильтры не настроены. Начните с /city <город>."
	}

	var b strings.Builder
	b.WriteString("Ваши фильтры:\n\n")
	fmt.Fprintf(&b, "Город: %s\n", valueOrUnset(f.City))
	fmt.Fprintf(&b, "Комнаты: %s\n", rangeText(f.MinRooms, f.MaxRooms, ""))
	fmt.Fprintf(&b, "Цена: %s\n", rangeText(f.MinPrice, f.MaxPrice, "$"))
	fmt.Fprintf(&b, "Продавец: %s\n", sellerFilterLabel(f.SellerType))
	fmt.Fprintf(&b, "Режим: %s\n", modeLabel(f.AIMode))
	fmt.Fprintf(&b, "Доставка: %s\n", deliveryLabel(f.DeliveryMode))
	if f.IsActive {
		b.WriteString("Статус: активен")
	} else {
		b.WriteString("Статус: на паузе")
	}

	if reason := filter.Reason(f); reason != "" {
		fmt.Fprintf(&b, "\n\n⚠️ %s", reason)
	}
	return b.String()
}

// FormatHistory formats the latest deliveries of a user.
func FormatHistory(records []model.SentRecord) string {
	if len(records) == 0 {
		return "Вы ещё не получали объявлений."
	}
	var b strings.Builder
	b.WriteString("Последние объявления:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "\n%s  %s", r.SentAt.Format("02.01 15:04"), r.AdID)
	}
	return b.String()
}

// FormatCycleStats formats the outcome of a manual delivery run.
func FormatCycleStats(st delivery.CycleStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Цикл %s завершён за %s.\n", st.RunID, st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond))
	if st.Error != "" {
		fmt.Fprintf(&b, "Ошибка: %s\n", st.Error)
	}
	fmt.Fprintf(&b, "Активных пользователей: %d\nОтправлено: %d\nОшибок отправки: %d\nЗапросов настройки: %d\nОшибок пользователей: %d",
		st.ActiveUsers, st.Sent, st.Failed, st.Prompted, st.UserErrors)
	return b.String()
}

func headline(l model.Listing) string {
	var parts []string
	if l.Rooms > 0 {
		parts = append(parts, fmt.Sprintf("%d-комн.", l.Rooms))
	}
	if l.Area > 0 {
		parts = append(parts, strconv.FormatFloat(l.Area, 'f', -1, 64)+" м²")
	}
	if len(parts) > 0 {
		return strings.Join(parts, " • ")
	}
	if t := strings.TrimSpace(l.Title); t != "" {
		return t
	}
	return "Объявление"
}

func priceText(l model.Listing) string {
	switch {
	case l.PriceFormatted != "":
		return l.PriceFormatted
	case l.PriceUSD > 0:
		return "$" + groupDigits(l.PriceUSD)
	case l.PriceBYN > 0:
		return groupDigits(l.PriceBYN) + " BYN"
	default:
		return "цена не указана"
	}
}

func pricePerMeter(l model.Listing) int {
	usd := filter.PriceUSD(l)
	if usd <= 0 || l.Area <= 0 {
		return 0
	}
	return int(float64(usd) / l.Area)
}

func sellerText(l model.Listing) string {
	switch l.Seller {
	case model.SellerOwner:
		return "Собственник"
	case model.SellerCompany:
		if l.Vendor != "" {
			return "Агентство: " + l.Vendor
		}
		return "Агентство"
	default:
		return l.Vendor
	}
}

// groupDigits separates thousands with spaces: 50000 -> "50 000".
func groupDigits(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func valueOrUnset(s string) string {
	if s == "" {
		return "не задан"
	}
	return s
}

func rangeText(lo, hi int, prefix string) string {
	switch {
	case lo <= 0 && hi <= 0:
		return "не задано"
	case hi <= 0:
		return fmt.Sprintf("от %s%s", prefix, groupDigits(lo))
	case lo <= 0:
		return fmt.Sprintf("до %s%s", prefix, groupDigits(hi))
	default:
		return fmt.Sprintf("%s%s - %s%s", prefix, groupDigits(lo), prefix, groupDigits(hi))
	}
}

func sellerFilterLabel(s model.SellerFilter) string {
	switch s {
	case model.SellerOnlyOwner:
		return "только собственники"
	case model.SellerOnlyCompany:
		return "только агентства"
	default:
		return "любой"
	}
}

func modeLabel(ai bool) string {
	if ai {
		return "ИИ-оценка"
	}
	return "обычный"
}

func deliveryLabel(m model.DeliveryMode) string {
	if m == model.DeliveryBrief {
		return "краткая сводка"
	}
	return "полная"
}
