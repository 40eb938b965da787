package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SelectionRule is the policy used to pick target tokens from candidates.
type SelectionRule string

const (
	SelectionRandom    SelectionRule = "RANDOM"
	SelectionMarketCap SelectionRule = "MARKET_CAP"
	SelectionVolume    SelectionRule = "VOLUME"
)

// StrategyStatus is the scheduling state persisted on the strategy record.
type StrategyStatus string

const (
	StatusActive StrategyStatus = "ACTIVE"
	StatusPaused StrategyStatus = "PAUSED"
)

const (
	// MinTokenCount / MaxTokenCount bound the basket size.
	MinTokenCount = 1
	MaxTokenCount = 10
)

// MinTotalAllocation is the smallest accepted capital allocation in the
// quote currency.
var MinTotalAllocation = decimal.NewFromInt(10)

// StrategyParameters are the user-mutable knobs of a strategy.
type StrategyParameters struct {
	Category        string          `json:"category"`
	Cadence         string          `json:"cadence"`
	TokenCount      int             `json:"token_count"`
	TotalAllocation decimal.Decimal `json:"total_allocation"`
}

// Validate checks the parameter bounds. The cadence string is deliberately
// not validated here: a malformed cadence is a ConfigError handled with
// defaults downstream, never a rejection.
func (p StrategyParameters) Validate() error {
	if p.Category == "" {
		return fmt.Errorf("%w: category must not be empty", ErrInvalidParameters)
	}
	if p.TokenCount < MinTokenCount || p.TokenCount > MaxTokenCount {
		return fmt.Errorf("%w: token_count must be between %d and %d, got %d",
			ErrInvalidParameters, MinTokenCount, MaxTokenCount, p.TokenCount)
	}
	if p.TotalAllocation.LessThan(MinTotalAllocation) {
		return fmt.Errorf("%w: total_allocation must be at least %s, got %s",
			ErrInvalidParameters, MinTotalAllocation, p.TotalAllocation)
	}
	return nil
}

// Strategy is the unit of scheduling and execution: a user-owned token basket
// with a selection rule, cadence, and capital allocation.
type Strategy struct {
	ID            string             `json:"id"`
	OwnerID       string             `json:"owner_id"`
	Name          string             `json:"name,omitempty"`
	SelectionRule SelectionRule      `json:"selection_rule"`
	Status        StrategyStatus     `json:"status"`
	Parameters    StrategyParameters `json:"parameters"`
	Holdings      []TokenHolding     `json:"holdings"`
	WalletID      string             `json:"wallet_id"`
	CreatedAt     time.Time          `json:"created_at"`
	LastUpdatedAt time.Time          `json:"last_updated_at"`
}

// Holding returns the holding for the given address, if present.
func (s *Strategy) Holding(address string) (TokenHolding, bool) {
	for _, h := range s.Holdings {
		if h.Address == address {
			return h, true
		}
	}
	return TokenHolding{}, false
}

// HoldingsValue sums the USD-equivalent value of all holdings with known
// values.
func (s *Strategy) HoldingsValue() decimal.Decimal {
	total := decimal.Zero
	for _, h := range s.Holdings {
		if h.Value != nil {
			total = total.Add(*h.Value)
		}
	}
	return total
}

// ValidSelectionRule reports whether rule is one of the supported policies.
func ValidSelectionRule(rule SelectionRule) bool {
	switch rule {
	case SelectionRandom, SelectionMarketCap, SelectionVolume:
		return true
	}
	return false
}
