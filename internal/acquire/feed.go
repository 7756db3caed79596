package acquire

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"realty_bot/internal/model"
)

// FeedTimeout is the default per-source deadline used by the aggregator.
const FeedTimeout = 30 * time.Second

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedConfig describes a listing feed. URL may contain the placeholders
// {city}, {min_rooms}, {max_rooms}, {min_price} and {max_price}.
type FeedConfig struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the feed should be queried. Feeds are enabled
// unless explicitly switched off.
func (c FeedConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// FeedSource is a Source backed by an RSS or Atom feed of listings.
type FeedSource struct {
	name   string
	url    string
	client HTTPClient
}

// NewFeedSource creates a FeedSource with the given HTTP client.
func NewFeedSource(cfg FeedConfig, client HTTPClient) *FeedSource {
	return &FeedSource{name: cfg.Name, url: cfg.URL, client: client}
}

// Name returns the source name stamped on its listings.
func (s *FeedSource) Name() string {
	return s.name
}

// Fetch downloads the feed for q and converts its items to listings.
func (s *FeedSource) Fetch(ctx context.Context, q model.Query) ([]model.Listing, error) {
	feed, err := s.download(ctx, s.buildURL(q))
	if err != nil {
		return nil, err
	}

	listings := make([]model.Listing, 0, len(feed.Items))
	for _, item := range feed.Items {
		listings = append(listings, ItemListing(s.name, item))
	}
	return listings, nil
}

func (s *FeedSource) buildURL(q model.Query) string {
	r := strings.NewReplacer(
		"{city}", url.QueryEscape(q.City),
		"{min_rooms}", strconv.Itoa(q.MinRooms),
		"{max_rooms}", strconv.Itoa(q.MaxRooms),
		"{min_price}", strconv.Itoa(q.MinPrice),
		"{max_price}", strconv.Itoa(q.MaxPrice),
	)
	return r.Replace(s.url)
}

func (s *FeedSource) download(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "RealtyNotifyBot/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// priceNum matches a whole number, optionally split into thousands by single
// spaces. A preceding letter or digit ("м2 50000") is not part of it.
const (
	priceNum   = `(\d{1,3}(?:[ \x{a0}]\d{3})+|\d+)`
	priceStart = `(?:^|[^\p{L}\p{N}])`
)

var (
	roomsRe    = regexp.MustCompile(`(\d+)\s*-?\s*(?:комн|room)`)
	areaRe     = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:м²|м2|кв\.?\s*м|m²|sq\.?\s*m)`)
	priceUSDRe = regexp.MustCompile(`(?:\$\s*` + priceNum + `|` + priceStart + priceNum + `\s*(?:\$|usd|у\.\s*е\.))`)
	priceBYNRe = regexp.MustCompile(priceStart + priceNum + `\s*(?:byn|руб|р\.)`)
)

// ItemListing converts a feed item to a listing. Structured values from
// custom item elements take precedence over values found in the text.
func ItemListing(source string, item *gofeed.Item) model.Listing {
	custom := item.Custom
	text := strings.ToLower(item.Title + " " + item.Description)

	l := model.Listing{
		ID:          ItemGUID(item),
		Source:      source,
		Title:       strings.TrimSpace(item.Title),
		URL:         item.Link,
		Description: strings.TrimSpace(item.Description),
		Address:     strings.TrimSpace(custom["address"]),
		City:        strings.TrimSpace(custom["city"]),
		Rooms:       intField(custom["rooms"], roomsRe, text),
		Area:        floatField(custom["area"], areaRe, text),
		PriceUSD:    intField(custom["price_usd"], priceUSDRe, text),
		PriceBYN:    intField(custom["price_byn"], priceBYNRe, text),
		Photos:      itemPhotos(item),
		Seller:      itemSeller(item),
	}

	switch {
	case l.PriceUSD > 0:
		l.Price, l.Currency = l.PriceUSD, "USD"
		l.PriceFormatted = fmt.Sprintf("$%d", l.PriceUSD)
	case l.PriceBYN > 0:
		l.Price, l.Currency = l.PriceBYN, "BYN"
		l.PriceFormatted = fmt.Sprintf("%d BYN", l.PriceBYN)
	}

	if len(custom) > 0 {
		if raw, err := json.Marshal(custom); err == nil {
			l.Raw = raw
		}
	}
	return model.NewListing(l)
}

// ItemGUID returns the GUID for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func intField(structured string, re *regexp.Regexp, text string) int {
	if v := parseNumber(structured); v > 0 {
		return int(v)
	}
	if m := re.FindStringSubmatch(text); m != nil {
		for _, group := range m[1:] {
			if v := parseNumber(group); v > 0 {
				return int(v)
			}
		}
	}
	return 0
}

func floatField(structured string, re *regexp.Regexp, text string) float64 {
	if v := parseNumber(structured); v > 0 {
		return v
	}
	if m := re.FindStringSubmatch(text); len(m) > 1 {
		return parseNumber(m[1])
	}
	return 0
}

func parseNumber(s string) float64 {
	s = strings.Join(strings.Fields(s), "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func itemPhotos(item *gofeed.Item) []string {
	var photos []string
	if item.Image != nil && item.Image.URL != "" {
		photos = append(photos, item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc.URL != "" && strings.HasPrefix(enc.Type, "image/") && !slices.Contains(photos, enc.URL) {
			photos = append(photos, enc.URL)
		}
	}
	return photos
}

func itemSeller(item *gofeed.Item) model.SellerType {
	if v, err := strconv.ParseBool(strings.TrimSpace(item.Custom["is_company"])); err == nil {
		return model.SellerFromCompanyFlag(&v)
	}
	for _, c := range item.Categories {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "owner", "собственник":
			return model.SellerOwner
		case "agency", "company", "агентство":
			return model.SellerCompany
		}
	}
	return model.SellerUnknown
}
