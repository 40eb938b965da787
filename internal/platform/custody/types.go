package custody

import "github.com/shopspring/decimal"

// createTradeRequest is the wire payload for submitting a trade.
type createTradeRequest struct {
	FromAsset string `json:"from_asset"`
	ToAsset   string `json:"to_asset"`
	Amount    string `json:"amount"`
}

// apiTrade is the wire representation of a trade resource.
type apiTrade struct {
	ID        string `json:"id"`
	WalletID  string `json:"wallet_id"`
	FromAsset string `json:"from_asset"`
	ToAsset   string `json:"to_asset"`
	Amount    string `json:"amount"`
	Status    string `json:"status"` // pending | complete | failed
	Error     string `json:"error,omitempty"`
}

const (
	tradeStatusPending  = "pending"
	tradeStatusComplete = "complete"
	tradeStatusFailed   = "failed"
)

// apiBalance is the wire representation of a wallet asset balance.
type apiBalance struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}
