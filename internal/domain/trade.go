package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteAsset is the custody-service identifier of the quote currency all
// strategies are funded in.
const QuoteAsset = "usdc"

// TradeStatus is the terminal outcome of a single custody trade within a
// pass.
type TradeStatus string

const (
	TradeSettled  TradeStatus = "SETTLED"
	TradeFailed   TradeStatus = "FAILED"
	TradeTimedOut TradeStatus = "TIMED_OUT"
)

// TradeHandle identifies a trade submitted to the custody service. The
// handle outlives the pass that created it: a trade that times out here may
// still settle upstream, and the next pass reconciles against actual
// balances rather than the intended outcome.
type TradeHandle struct {
	ID        string
	WalletID  string
	FromAsset string
	ToAsset   string
	Amount    decimal.Decimal
}

// TradeOutcome records the result of one buy or sell inside a pass report.
type TradeOutcome struct {
	TradeID   string          `json:"trade_id,omitempty"`
	Symbol    string          `json:"symbol"`
	FromAsset string          `json:"from_asset"`
	ToAsset   string          `json:"to_asset"`
	Amount    decimal.Decimal `json:"amount"`
	Status    TradeStatus     `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// CustodyClient is the boundary to the external wallet-custody service that
// holds keys and executes on-chain trades on the strategy owner's behalf.
type CustodyClient interface {
	// CreateTrade submits a trade converting amount of fromAsset into
	// toAsset inside the given wallet. It returns immediately with a handle;
	// settlement is asynchronous.
	CreateTrade(ctx context.Context, walletID, fromAsset, toAsset string, amount decimal.Decimal) (TradeHandle, error)

	// AwaitTrade blocks until the trade settles or the context deadline
	// passes. A deadline expiry is reported as ErrTradeTimeout.
	AwaitTrade(ctx context.Context, handle TradeHandle) error

	// GetBalance returns the wallet's current balance of the given asset.
	GetBalance(ctx context.Context, walletID, asset string) (decimal.Decimal, error)
}

// PassKind distinguishes the two execution branches.
type PassKind string

const (
	PassInitialFunding PassKind = "INITIAL_FUNDING"
	PassRebalance      PassKind = "REBALANCE"
)

// PassReport is the durable record of one execution pass, kept for audit and
// later archived to object storage.
type PassReport struct {
	ID             string         `json:"id"`
	StrategyID     string         `json:"strategy_id"`
	Kind           PassKind       `json:"kind"`
	Trades         []TradeOutcome `json:"trades"`
	HoldingsBefore []TokenHolding `json:"holdings_before"`
	HoldingsAfter  []TokenHolding `json:"holdings_after"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
}
