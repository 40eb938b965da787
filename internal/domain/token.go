package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token is a candidate token as returned by the market-data provider. Any
// field other than Symbol may be missing; selection preconditions filter on
// the fields each selection rule needs.
type Token struct {
	Symbol      string           `json:"symbol"`
	Name        string           `json:"name,omitempty"`
	Address     string           `json:"address,omitempty"`
	MarketCap   *decimal.Decimal `json:"market_cap,omitempty"`
	TotalVolume *decimal.Decimal `json:"total_volume,omitempty"`
}

// Tradeable reports whether the token carries a usable on-chain contract
// address. Tokens without one are never eligible for selection.
func (t Token) Tradeable() bool {
	return t.Address != "" && common.IsHexAddress(t.Address)
}

// TokenHolding is one position inside a strategy's basket, keyed by the
// token's contract address (unique within a strategy).
type TokenHolding struct {
	Symbol      string           `json:"symbol"`
	Address     string           `json:"address"`
	MarketCap   *decimal.Decimal `json:"market_cap,omitempty"`
	TotalVolume *decimal.Decimal `json:"total_volume,omitempty"`
	Value       *decimal.Decimal `json:"value,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

// HoldingFromToken builds a holding record from a selected candidate token
// and the quote value spent acquiring it. The token amount is left unset;
// the sell path resolves it from the wallet's actual balance when needed.
func HoldingFromToken(t Token, value decimal.Decimal) TokenHolding {
	return TokenHolding{
		Symbol:      t.Symbol,
		Address:     t.Address,
		MarketCap:   t.MarketCap,
		TotalVolume: t.TotalVolume,
		Value:       &value,
	}
}
