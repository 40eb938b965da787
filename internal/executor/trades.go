package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// defaultTradeTimeout bounds the wait on trade settlement. A trade that does
// not settle within the bound counts as failed for the current pass; the
// underlying transaction is not cancelled and may still settle later, which
// the next pass reconciles by re-reading actual balances.
const defaultTradeTimeout = 30 * time.Second

// TradeExecutor executes individual buy/sell trades against the custody
// service with a per-trade settlement timeout and per-trade failure
// isolation.
type TradeExecutor struct {
	custody      domain.CustodyClient
	tradeTimeout time.Duration
	logger       *slog.Logger
}

// NewTradeExecutor creates a TradeExecutor. A timeout of 0 uses the default
// 30-second settlement bound.
func NewTradeExecutor(custody domain.CustodyClient, timeout time.Duration, logger *slog.Logger) *TradeExecutor {
	if timeout <= 0 {
		timeout = defaultTradeTimeout
	}
	return &TradeExecutor{
		custody:      custody,
		tradeTimeout: timeout,
		logger:       logger.With(slog.String("component", "trade_executor")),
	}
}

// Trade submits one trade and waits for settlement within the per-trade
// timeout. The returned outcome is always usable; errors are folded into
// the outcome's status rather than escaping, so one failing trade never
// aborts its siblings.
func (te *TradeExecutor) Trade(ctx context.Context, walletID, fromAsset, toAsset, symbol string, amount decimal.Decimal) domain.TradeOutcome {
	outcome := domain.TradeOutcome{
		Symbol:    symbol,
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		Amount:    amount,
	}

	log := te.logger.With(
		slog.String("wallet", walletID),
		slog.String("symbol", symbol),
		slog.String("from", fromAsset),
		slog.String("to", toAsset),
		slog.String("amount", amount.String()),
	)

	handle, err := te.custody.CreateTrade(ctx, walletID, fromAsset, toAsset, amount)
	if err != nil {
		log.WarnContext(ctx, "trade submission failed", slog.String("error", err.Error()))
		outcome.Status = domain.TradeFailed
		outcome.Error = err.Error()
		return outcome
	}
	outcome.TradeID = handle.ID

	waitCtx, cancel := context.WithTimeout(ctx, te.tradeTimeout)
	defer cancel()

	if err := te.custody.AwaitTrade(waitCtx, handle); err != nil {
		if errors.Is(err, domain.ErrTradeTimeout) {
			log.WarnContext(ctx, "trade settlement timed out", slog.String("trade_id", handle.ID))
			outcome.Status = domain.TradeTimedOut
		} else {
			log.WarnContext(ctx, "trade failed",
				slog.String("trade_id", handle.ID),
				slog.String("error", err.Error()),
			)
			outcome.Status = domain.TradeFailed
		}
		outcome.Error = err.Error()
		return outcome
	}

	log.InfoContext(ctx, "trade settled", slog.String("trade_id", handle.ID))
	outcome.Status = domain.TradeSettled
	return outcome
}

// FanOutBuys issues one buy per target token concurrently, each converting
// amount of the quote asset into the target. Outcomes are returned in target
// order; individual failures are isolated.
func (te *TradeExecutor) FanOutBuys(ctx context.Context, walletID string, targets []domain.Token, amount decimal.Decimal) []domain.TradeOutcome {
	outcomes := make([]domain.TradeOutcome, len(targets))

	var wg sync.WaitGroup
	for i, tok := range targets {
		wg.Add(1)
		go func(i int, tok domain.Token) {
			defer wg.Done()
			outcomes[i] = te.Trade(ctx, walletID, domain.QuoteAsset, tok.Address, tok.Symbol, amount)
		}(i, tok)
	}
	wg.Wait()

	return outcomes
}

// Balance reads the wallet's current balance of an asset.
func (te *TradeExecutor) Balance(ctx context.Context, walletID, asset string) (decimal.Decimal, error) {
	return te.custody.GetBalance(ctx, walletID, asset)
}
