package marketdata

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// APICoin is the wire representation of one coin in the provider's
// /coins/markets response. Every field other than the symbol may be absent.
type APICoin struct {
	ID          string             `json:"id"`
	Symbol      string             `json:"symbol"`
	Name        string             `json:"name"`
	MarketCap   *float64           `json:"market_cap"`
	TotalVolume *float64           `json:"total_volume"`
	Platforms   map[string]string  `json:"platforms"`
}

// ToDomainToken converts the API coin to a domain Token, resolving the
// contract address for the given platform (chain). Missing numeric fields
// stay nil so selection preconditions can filter on them.
func (c APICoin) ToDomainToken(platform string) domain.Token {
	tok := domain.Token{
		Symbol: strings.ToUpper(c.Symbol),
		Name:   c.Name,
	}
	if addr, ok := c.Platforms[platform]; ok {
		tok.Address = addr
	}
	if c.MarketCap != nil {
		mc := decimal.NewFromFloat(*c.MarketCap)
		tok.MarketCap = &mc
	}
	if c.TotalVolume != nil {
		tv := decimal.NewFromFloat(*c.TotalVolume)
		tok.TotalVolume = &tv
	}
	return tok
}

// APICategory is one entry of the provider's category listing.
type APICategory struct {
	ID   string `json:"category_id"`
	Name string `json:"name"`
}
