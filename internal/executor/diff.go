package executor

import "github.com/alanyoungcy/basketbot/internal/domain"

// Delta is the minimal set of trades that moves current holdings onto the
// target set. Membership is decided by contract address only; a token that
// appears on both sides is neither bought nor sold.
type Delta struct {
	ToSell []domain.TokenHolding
	ToBuy  []domain.Token
}

// ComputeDelta diffs current holdings against the target token set.
func ComputeDelta(current []domain.TokenHolding, target []domain.Token) Delta {
	targetByAddr := make(map[string]struct{}, len(target))
	for _, tok := range target {
		targetByAddr[tok.Address] = struct{}{}
	}
	currentByAddr := make(map[string]struct{}, len(current))
	for _, h := range current {
		currentByAddr[h.Address] = struct{}{}
	}

	var delta Delta
	for _, h := range current {
		if _, keep := targetByAddr[h.Address]; !keep {
			delta.ToSell = append(delta.ToSell, h)
		}
	}
	for _, tok := range target {
		if _, held := currentByAddr[tok.Address]; !held {
			delta.ToBuy = append(delta.ToBuy, tok)
		}
	}
	return delta
}

// removeHolding returns holdings without the entry for address. The slice is
// copied so callers can keep the original for pass reports.
func removeHolding(holdings []domain.TokenHolding, address string) []domain.TokenHolding {
	out := make([]domain.TokenHolding, 0, len(holdings))
	for _, h := range holdings {
		if h.Address != address {
			out = append(out, h)
		}
	}
	return out
}
