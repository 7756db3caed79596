package delivery

import (
	"cmp"
	"slices"

	"realty_bot/internal/dedup"
	"realty_bot/internal/filter"
	"realty_bot/internal/model"
)

// MaxGroupsInSummary caps how many houses a brief summary lists.
const MaxGroupsInSummary = 5

// House score weights.
const (
	weightPrice      = 0.5
	weightDelta      = 0.3
	weightDispersion = 0.1
	weightCount      = 0.1

	// countCap is the group size above which more listings add no score.
	countCap = 6
	// stableDispersion is the price-per-metre spread below which a house
	// counts as having stable prices.
	stableDispersion = 0.15
)

// HouseGroup is a set of listings in the same building.
type HouseGroup struct {
	Address  string          `json:"address"`
	Listings []model.Listing `json:"-"`
	// MedianPPM is the median USD price per square metre, 0 when no listing
	// has both a price and an area.
	MedianPPM float64 `json:"median_ppm"`
	// Priced is the number of listings with a known price per metre.
	Priced int `json:"priced"`
	// Dispersion is the price-per-metre spread relative to MedianPPM.
	Dispersion float64 `json:"dispersion"`
	Score      float64 `json:"score"`
}

// PriceRange returns the lowest and highest USD prices in the group.
func (g HouseGroup) PriceRange() (lo, hi int) {
	for _, l := range g.Listings {
		p := filter.PriceUSD(l)
		if p <= 0 {
			continue
		}
		if lo == 0 || p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return lo, hi
}

// BelowMarket returns how many percent the house median price per metre is
// below the market median, or 0 when it is not below.
func (g HouseGroup) BelowMarket(marketPPM float64) int {
	if g.MedianPPM <= 0 || marketPPM <= 0 || g.MedianPPM >= marketPPM {
		return 0
	}
	return int((marketPPM - g.MedianPPM) / marketPPM * 100)
}

// Stable reports whether several listings share a narrow price-per-metre band.
func (g HouseGroup) Stable() bool {
	return g.Priced > 1 && g.Dispersion < stableDispersion
}

// Summary is the ranked brief digest of one user's pending listings.
type Summary struct {
	Groups      []HouseGroup `json:"groups"`
	MarketPPM   float64      `json:"market_ppm"`
	TotalGroups int          `json:"total_groups"`
}

// Listings returns the listings of the included groups, best house first.
func (s Summary) Listings() []model.Listing {
	var out []model.Listing
	for _, g := range s.Groups {
		out = append(out, g.Listings...)
	}
	return out
}

// BuildSummary groups listings by house, scores every house against the
// market median price per metre and keeps the best limit houses. Ties keep
// the order in which the houses first appeared.
func BuildSummary(listings []model.Listing, limit int) Summary {
	groups := GroupByHouse(listings)
	market := MarketMedianPPM(listings)
	for i := range groups {
		scoreGroup(&groups[i], market)
	}
	slices.SortStableFunc(groups, func(a, b HouseGroup) int {
		return cmp.Compare(b.Score, a.Score)
	})

	s := Summary{MarketPPM: market, TotalGroups: len(groups)}
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	s.Groups = groups
	return s
}

// GroupByHouse groups listings by normalized address in order of first
// appearance. A listing without an address forms its own group.
func GroupByHouse(listings []model.Listing) []HouseGroup {
	var (
		groups []HouseGroup
		index  = make(map[string]int)
	)
	for _, l := range listings {
		key := dedup.NormalizeAddress(l.Address)
		if key == "" {
			key = "listing:" + l.Source + "/" + l.ID
		}
		if i, ok := index[key]; ok {
			groups[i].Listings = append(groups[i].Listings, l)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, HouseGroup{Address: l.Address, Listings: []model.Listing{l}})
	}
	return groups
}

// MarketMedianPPM returns the median USD price per square metre across
// listings, or 1 when none has both a price and an area.
func MarketMedianPPM(listings []model.Listing) float64 {
	m := median(pricesPerMeter(listings))
	if m <= 0 {
		return 1
	}
	return m
}

func scoreGroup(g *HouseGroup, marketPPM float64) {
	ppm := pricesPerMeter(g.Listings)
	g.Priced = len(ppm)
	if len(ppm) == 0 {
		g.MedianPPM, g.Dispersion, g.Score = 0, 0, 0
		return
	}

	g.MedianPPM = median(ppm)
	g.Dispersion = (slices.Max(ppm) - slices.Min(ppm)) / g.MedianPPM

	price := marketPPM / g.MedianPPM
	delta := (marketPPM - g.MedianPPM) / marketPPM
	dispersion := max(0, 1-g.Dispersion)
	count := float64(min(len(g.Listings), countCap)) / countCap

	g.Score = weightPrice*price + weightDelta*delta + weightDispersion*dispersion + weightCount*count
}

func pricesPerMeter(listings []model.Listing) []float64 {
	var out []float64
	for _, l := range listings {
		if p := filter.PriceUSD(l); p > 0 && l.Area > 0 {
			out = append(out, float64(p)/l.Area)
		}
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
