package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/selector"
)

// sellBuffer shaves a margin off sell amounts so dust and fee rounding
// cannot push an order past the held balance.
var sellBuffer = decimal.NewFromFloat(0.99)

// candidateLimit is how many tokens we ask the market data layer for
// before selection narrows the set down.
const candidateLimit = 25

// CandidateSource supplies the tradeable token universe for a category.
type CandidateSource interface {
	Candidates(ctx context.Context, category string, limit int) ([]domain.Token, error)
}

// EventSink receives strategy lifecycle events for fan-out to listeners.
type EventSink interface {
	Emit(event domain.StrategyEvent)
}

// Result summarizes a completed pass over a single strategy.
type Result struct {
	Strategy domain.Strategy
	Report   domain.PassReport
}

// StrategyExecutor runs funding and rebalance passes. A pass that reaches
// the trading stage always commits its working set back to the store, even
// when every individual trade failed; only an unreachable upstream before
// any trade is placed aborts without a commit.
type StrategyExecutor struct {
	store   domain.StrategyStore
	reports domain.PassReportStore
	source  CandidateSource
	trader  *TradeExecutor
	sink    EventSink
	logger  *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	now func() time.Time
}

// NewStrategyExecutor wires an executor over the given collaborators.
// reports and sink may be nil when persistence of pass reports or event
// fan-out is not wanted.
func NewStrategyExecutor(
	store domain.StrategyStore,
	reports domain.PassReportStore,
	source CandidateSource,
	trader *TradeExecutor,
	sink EventSink,
	rng *rand.Rand,
	logger *slog.Logger,
) *StrategyExecutor {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StrategyExecutor{
		store:   store,
		reports: reports,
		source:  source,
		trader:  trader,
		sink:    sink,
		logger:  logger.With(slog.String("component", "executor")),
		rng:     rng,
		now:     time.Now,
	}
}

// Execute runs one pass over the strategy. Strategies without holdings get
// an initial funding pass; everything else gets a rebalance. The returned
// strategy reflects the persisted state.
func (e *StrategyExecutor) Execute(ctx context.Context, strategy domain.Strategy) (Result, error) {
	if len(strategy.Holdings) == 0 {
		return e.initialFunding(ctx, strategy)
	}
	return e.rebalance(ctx, strategy)
}

func (e *StrategyExecutor) initialFunding(ctx context.Context, strategy domain.Strategy) (Result, error) {
	started := e.now()
	log := e.logger.With(slog.String("strategy_id", strategy.ID), slog.String("pass", string(domain.PassInitialFunding)))

	candidates, err := e.source.Candidates(ctx, strategy.Parameters.Category, candidateLimit)
	if err != nil {
		return Result{}, fmt.Errorf("executor: candidates for %q: %w", strategy.Parameters.Category, err)
	}

	targets := e.selectTokens(candidates, strategy.Parameters.TokenCount, strategy.SelectionRule)
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("executor: category %q yielded no tradeable tokens: %w",
			strategy.Parameters.Category, domain.ErrInvalidParameters)
	}
	if len(targets) < strategy.Parameters.TokenCount {
		log.Warn("candidate shortfall",
			slog.Int("requested", strategy.Parameters.TokenCount),
			slog.Int("selected", len(targets)))
	}

	// Split by the requested count, not the selected count: a candidate
	// shortfall leaves the remainder unspent rather than inflating the
	// per-token buys.
	perToken := strategy.Parameters.TotalAllocation.Div(decimal.NewFromInt(int64(strategy.Parameters.TokenCount)))
	outcomes := e.trader.FanOutBuys(ctx, strategy.WalletID, targets, perToken)

	holdings := make([]domain.TokenHolding, 0, len(targets))
	for i, outcome := range outcomes {
		if outcome.Status != domain.TradeSettled {
			log.Warn("initial buy not settled",
				slog.String("symbol", targets[i].Symbol),
				slog.String("status", string(outcome.Status)),
				slog.String("error", outcome.Error))
			continue
		}
		holdings = append(holdings, domain.HoldingFromToken(targets[i], perToken))
	}

	strategy.Holdings = holdings
	strategy.LastUpdatedAt = e.now()
	if err := e.persist(ctx, &strategy); err != nil {
		return Result{}, err
	}

	report := e.recordPass(ctx, strategy, domain.PassInitialFunding, nil, holdings, outcomes, started)
	e.emit(domain.EventHoldingsUpdated, strategy)
	log.Info("initial funding complete",
		slog.Int("targets", len(targets)),
		slog.Int("settled", len(holdings)))
	return Result{Strategy: strategy, Report: report}, nil
}

func (e *StrategyExecutor) rebalance(ctx context.Context, strategy domain.Strategy) (Result, error) {
	started := e.now()
	log := e.logger.With(slog.String("strategy_id", strategy.ID), slog.String("pass", string(domain.PassRebalance)))

	candidates, err := e.source.Candidates(ctx, strategy.Parameters.Category, candidateLimit)
	if err != nil {
		return Result{}, fmt.Errorf("executor: candidates for %q: %w", strategy.Parameters.Category, err)
	}

	targets := e.selectTokens(candidates, strategy.Parameters.TokenCount, strategy.SelectionRule)
	delta := ComputeDelta(strategy.Holdings, targets)
	before := append([]domain.TokenHolding(nil), strategy.Holdings...)

	working := append([]domain.TokenHolding(nil), strategy.Holdings...)
	var outcomes []domain.TradeOutcome

	// Sells run first so the quote balance is topped up before buys.
	for _, holding := range delta.ToSell {
		amount, err := e.sellAmount(ctx, strategy.WalletID, holding)
		if err != nil {
			log.Warn("sell skipped, balance unavailable",
				slog.String("symbol", holding.Symbol),
				slog.String("error", err.Error()))
			outcomes = append(outcomes, domain.TradeOutcome{
				Symbol:    holding.Symbol,
				FromAsset: holding.Address,
				ToAsset:   domain.QuoteAsset,
				Status:    domain.TradeFailed,
				Error:     err.Error(),
			})
			continue
		}
		outcome := e.trader.Trade(ctx, strategy.WalletID, holding.Address, domain.QuoteAsset, holding.Symbol, amount)
		outcomes = append(outcomes, outcome)
		if outcome.Status == domain.TradeSettled {
			working = removeHolding(working, holding.Address)
		} else {
			log.Warn("sell not settled",
				slog.String("symbol", holding.Symbol),
				slog.String("status", string(outcome.Status)),
				slog.String("error", outcome.Error))
		}
	}

	if len(delta.ToBuy) > 0 {
		quote, err := e.trader.Balance(ctx, strategy.WalletID, domain.QuoteAsset)
		if err != nil {
			// Sells may have settled already, so the working set must
			// survive even though the pass itself did not finish.
			strategy.Holdings = working
			if perr := e.persist(ctx, &strategy); perr != nil {
				log.Error("persist after balance failure", slog.String("error", perr.Error()))
			}
			return Result{}, fmt.Errorf("executor: quote balance: %w", err)
		}

		if quote.IsPositive() {
			perBuy := quote.Div(decimal.NewFromInt(int64(len(delta.ToBuy))))
			for _, token := range delta.ToBuy {
				outcome := e.trader.Trade(ctx, strategy.WalletID, domain.QuoteAsset, token.Address, token.Symbol, perBuy)
				outcomes = append(outcomes, outcome)
				if outcome.Status == domain.TradeSettled {
					working = append(working, domain.HoldingFromToken(token, perBuy))
				} else {
					log.Warn("buy not settled",
						slog.String("symbol", token.Symbol),
						slog.String("status", string(outcome.Status)),
						slog.String("error", outcome.Error))
				}
			}
		} else {
			log.Warn("no quote balance available for buys", slog.String("balance", quote.String()))
		}
	}

	strategy.Holdings = working
	strategy.LastUpdatedAt = e.now()
	if err := e.persist(ctx, &strategy); err != nil {
		return Result{}, err
	}

	report := e.recordPass(ctx, strategy, domain.PassRebalance, before, working, outcomes, started)
	e.emit(domain.EventRebalance, strategy)
	log.Info("rebalance complete",
		slog.Int("sold", len(delta.ToSell)),
		slog.Int("bought", len(delta.ToBuy)),
		slog.Int("holdings", len(working)))
	return Result{Strategy: strategy, Report: report}, nil
}

// sellAmount resolves how much of a holding to sell. The recorded amount is
// preferred; otherwise the wallet balance is read. Either way a margin is
// shaved off so fee rounding cannot push the order past the held balance.
func (e *StrategyExecutor) sellAmount(ctx context.Context, walletID string, holding domain.TokenHolding) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if holding.Amount != nil && holding.Amount.IsPositive() {
		amount = *holding.Amount
	} else {
		balance, err := e.trader.Balance(ctx, walletID, holding.Address)
		if err != nil {
			return decimal.Zero, err
		}
		amount = balance
	}
	return amount.Mul(sellBuffer), nil
}

func (e *StrategyExecutor) selectTokens(candidates []domain.Token, count int, rule domain.SelectionRule) []domain.Token {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return selector.Select(candidates, count, rule, e.rng)
}

// persist writes the strategy back with a short retry, since losing the
// post-trade state would desynchronize holdings from the wallet.
func (e *StrategyExecutor) persist(ctx context.Context, strategy *domain.Strategy) error {
	op := func() (struct{}, error) {
		return struct{}{}, e.store.Upsert(ctx, *strategy)
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(4),
	)
	if err != nil {
		return fmt.Errorf("executor: persist strategy %s: %w: %v", strategy.ID, domain.ErrStoreWrite, err)
	}
	return nil
}

func (e *StrategyExecutor) recordPass(
	ctx context.Context,
	strategy domain.Strategy,
	kind domain.PassKind,
	before, after []domain.TokenHolding,
	trades []domain.TradeOutcome,
	started time.Time,
) domain.PassReport {
	report := domain.PassReport{
		ID:             uuid.NewString(),
		StrategyID:     strategy.ID,
		Kind:           kind,
		Trades:         trades,
		HoldingsBefore: before,
		HoldingsAfter:  after,
		StartedAt:      started,
		CompletedAt:    e.now(),
	}
	if e.reports == nil {
		return report
	}
	if err := e.reports.Add(ctx, report); err != nil {
		// Reports are advisory; the pass already committed.
		e.logger.Warn("store pass report",
			slog.String("strategy_id", strategy.ID),
			slog.String("error", err.Error()))
	}
	return report
}

func (e *StrategyExecutor) emit(eventType domain.StrategyEventType, strategy domain.Strategy) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(domain.StrategyEvent{
		Type:       eventType,
		StrategyID: strategy.ID,
		Holdings:   strategy.Holdings,
		Timestamp:  e.now(),
	})
}
