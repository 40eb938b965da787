// Package selector implements target token selection: the pure policy that
// turns a noisy candidate list into the strategy's target basket.
package selector

import (
	"math/rand"
	"sort"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// Select picks up to count target tokens from candidates according to rule.
//
// Candidates are filtered first: tokens without an on-chain address are
// always excluded, and tokens missing the datum the rule sorts on
// (market cap, volume) are excluded under that rule. If fewer than count
// tokens survive filtering, all survivors are returned; callers must not
// assume exactly count results.
//
// rng is the randomness source for SelectionRandom and is injected so tests
// can seed it. It may be nil for the deterministic rules.
func Select(candidates []domain.Token, count int, rule domain.SelectionRule, rng *rand.Rand) []domain.Token {
	if count <= 0 {
		return []domain.Token{}
	}

	filtered := make([]domain.Token, 0, len(candidates))
	for _, tok := range candidates {
		if !tok.Tradeable() {
			continue
		}
		switch rule {
		case domain.SelectionMarketCap:
			if tok.MarketCap == nil {
				continue
			}
		case domain.SelectionVolume:
			if tok.TotalVolume == nil {
				continue
			}
		}
		filtered = append(filtered, tok)
	}

	switch rule {
	case domain.SelectionMarketCap:
		// Stable sort: ties keep the provider's feed order.
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].MarketCap.GreaterThan(*filtered[j].MarketCap)
		})
	case domain.SelectionVolume:
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].TotalVolume.GreaterThan(*filtered[j].TotalVolume)
		})
	case domain.SelectionRandom:
		if rng != nil {
			rng.Shuffle(len(filtered), func(i, j int) {
				filtered[i], filtered[j] = filtered[j], filtered[i]
			})
		}
	}

	if count > len(filtered) {
		count = len(filtered)
	}
	return filtered[:count]
}
