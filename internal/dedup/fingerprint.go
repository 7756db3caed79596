package dedup

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// cityNames are stripped from addresses so that the same flat listed with and
// without the city prefix hashes identically. Order matters: substrings are
// removed one after another.
var cityNames = []string{
	"барановичи", "минск", "брест", "витебск", "гомель", "гродно",
	"могилев", "могилёв", "бобруйск", "пинск", "орша", "мозырь",
	"лида", "борисов", "солигорск", "молодечно", "полоцк", "новополоцк",
}

// Fingerprint derives the cross-source content key of a listing from its
// rooms, area, address and price. Area is truncated to whole square metres
// and price is bucketed to thousands.
func Fingerprint(rooms int, area float64, address string, price int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%s:%d",
		rooms, int(area), NormalizeAddress(address), price/1000*1000)))
	return fmt.Sprintf("%x", h[:8])
}

// NormalizeAddress lower-cases an address and drops city names, commas and
// redundant whitespace.
func NormalizeAddress(address string) string {
	s := strings.ToLower(strings.TrimSpace(address))
	for _, city := range cityNames {
		s = strings.ReplaceAll(s, city, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	return strings.Join(strings.Fields(s), " ")
}
