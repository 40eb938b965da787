package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAddr(last byte) string {
	return "0x" + strings.Repeat("00", 19) + fmt.Sprintf("%02x", last)
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func decPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

type fakeSource struct {
	tokens []domain.Token
	err    error
}

func (f *fakeSource) Candidates(context.Context, string, int) ([]domain.Token, error) {
	return f.tokens, f.err
}

type memStore struct {
	mu        sync.Mutex
	upserts   []domain.Strategy
	upsertErr error
	failures  int
}

func (s *memStore) Upsert(_ context.Context, strategy domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return s.upsertErr
	}
	s.upserts = append(s.upserts, strategy)
	return nil
}

func (s *memStore) Get(context.Context, string) (domain.Strategy, error) {
	return domain.Strategy{}, domain.ErrNotFound
}

func (s *memStore) ListActive(context.Context, string) ([]domain.Strategy, error) {
	return nil, nil
}
func (s *memStore) Delete(context.Context, string) error { return nil }
func (s *memStore) UpdateStatus(context.Context, string, domain.StrategyStatus) error {
	return nil
}

func (s *memStore) last(t *testing.T) domain.Strategy {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.upserts)
	return s.upserts[len(s.upserts)-1]
}

type memReports struct {
	mu      sync.Mutex
	reports []domain.PassReport
}

func (r *memReports) Add(_ context.Context, report domain.PassReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *memReports) ListBefore(context.Context, time.Time, int) ([]domain.PassReport, error) {
	return nil, nil
}

func (r *memReports) DeleteByIDs(context.Context, []string) (int64, error) { return 0, nil }

// scriptedCustody answers trades by asset pair. Unscripted pairs settle.
type scriptedCustody struct {
	mu       sync.Mutex
	failBuy  map[string]error // keyed by toAsset
	failSell map[string]error // keyed by fromAsset
	balances map[string]decimal.Decimal
	balErr   error
	trades   []domain.TradeHandle
}

func (c *scriptedCustody) CreateTrade(_ context.Context, walletID, fromAsset, toAsset string, amount decimal.Decimal) (domain.TradeHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failBuy[toAsset]; ok {
		return domain.TradeHandle{}, err
	}
	if err, ok := c.failSell[fromAsset]; ok {
		return domain.TradeHandle{}, err
	}
	h := domain.TradeHandle{
		ID:        fmt.Sprintf("trade-%d", len(c.trades)+1),
		WalletID:  walletID,
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		Amount:    amount,
	}
	c.trades = append(c.trades, h)
	return h, nil
}

func (c *scriptedCustody) AwaitTrade(context.Context, domain.TradeHandle) error { return nil }

func (c *scriptedCustody) GetBalance(_ context.Context, _, asset string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balErr != nil {
		return decimal.Zero, c.balErr
	}
	return c.balances[asset], nil
}

type memSink struct {
	mu     sync.Mutex
	events []domain.StrategyEvent
}

func (s *memSink) Emit(event domain.StrategyEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func newTestExecutor(store *memStore, reports *memReports, source *fakeSource, custody domain.CustodyClient, sink *memSink) *StrategyExecutor {
	trader := NewTradeExecutor(custody, time.Second, discardLogger())
	exec := NewStrategyExecutor(store, reports, source, trader, sink, rand.New(rand.NewSource(1)), discardLogger())
	exec.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return exec
}

func activeStrategy(holdings []domain.TokenHolding) domain.Strategy {
	return domain.Strategy{
		ID:            "strat-1",
		OwnerID:       "owner-1",
		SelectionRule: domain.SelectionMarketCap,
		Status:        domain.StatusActive,
		Parameters: domain.StrategyParameters{
			Category:        "meme-token",
			Cadence:         "1day",
			TokenCount:      3,
			TotalAllocation: dec(300),
		},
		Holdings: holdings,
		WalletID: "wallet-1",
	}
}

func candidates(n int) []domain.Token {
	out := make([]domain.Token, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Token{
			Symbol:      fmt.Sprintf("TOK%d", i),
			Address:     testAddr(byte(i + 1)),
			MarketCap:   decPtr(float64(1000 - i)),
			TotalVolume: decPtr(float64(500 - i)),
		})
	}
	return out
}

func TestInitialFundingSplitsAllocationEvenly(t *testing.T) {
	store := &memStore{}
	reports := &memReports{}
	custody := &scriptedCustody{}
	sink := &memSink{}
	exec := newTestExecutor(store, reports, &fakeSource{tokens: candidates(5)}, custody, sink)

	res, err := exec.Execute(context.Background(), activeStrategy(nil))
	require.NoError(t, err)

	require.Len(t, res.Strategy.Holdings, 3)
	for _, h := range res.Strategy.Holdings {
		require.NotNil(t, h.Value)
		assert.True(t, h.Value.Equal(dec(100)), "per-token value %s", h.Value)
	}

	persisted := store.last(t)
	assert.Len(t, persisted.Holdings, 3)
	assert.False(t, persisted.LastUpdatedAt.IsZero())

	require.Len(t, reports.reports, 1)
	assert.Equal(t, domain.PassInitialFunding, reports.reports[0].Kind)
	assert.Len(t, reports.reports[0].Trades, 3)

	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.EventHoldingsUpdated, sink.events[0].Type)
}

func TestInitialFundingCommitsSurvivorsOnPartialFailure(t *testing.T) {
	toks := candidates(3)
	store := &memStore{}
	custody := &scriptedCustody{
		failBuy: map[string]error{toks[1].Address: fmt.Errorf("insufficient liquidity")},
	}
	exec := newTestExecutor(store, &memReports{}, &fakeSource{tokens: toks}, custody, &memSink{})

	res, err := exec.Execute(context.Background(), activeStrategy(nil))
	require.NoError(t, err)

	require.Len(t, res.Strategy.Holdings, 2)
	for _, h := range res.Strategy.Holdings {
		assert.NotEqual(t, toks[1].Address, h.Address)
		// The split is over the requested count, not the survivor count.
		assert.True(t, h.Value.Equal(dec(100)))
	}
}

func TestInitialFundingShortfallLeavesRemainderUnspent(t *testing.T) {
	// Only two tradeable candidates for a three-token strategy: each buy
	// still gets totalAllocation/tokenCount, the third share stays in the
	// quote balance.
	store := &memStore{}
	custody := &scriptedCustody{}
	exec := newTestExecutor(store, &memReports{}, &fakeSource{tokens: candidates(2)}, custody, &memSink{})

	res, err := exec.Execute(context.Background(), activeStrategy(nil))
	require.NoError(t, err)

	require.Len(t, res.Strategy.Holdings, 2)
	for _, h := range res.Strategy.Holdings {
		require.NotNil(t, h.Value)
		assert.True(t, h.Value.Equal(dec(100)), "per-token value %s", h.Value)
	}

	spent := decimal.Zero
	for _, tr := range custody.trades {
		spent = spent.Add(tr.Amount)
	}
	assert.True(t, spent.Equal(dec(200)), "total spent %s", spent)
}

func TestInitialFundingAllTradesFailedStillCommits(t *testing.T) {
	toks := candidates(3)
	fail := map[string]error{}
	for _, tok := range toks {
		fail[tok.Address] = fmt.Errorf("venue down")
	}
	store := &memStore{}
	exec := newTestExecutor(store, &memReports{}, &fakeSource{tokens: toks}, &scriptedCustody{failBuy: fail}, &memSink{})

	res, err := exec.Execute(context.Background(), activeStrategy(nil))
	require.NoError(t, err)
	assert.Empty(t, res.Strategy.Holdings)

	persisted := store.last(t)
	assert.Empty(t, persisted.Holdings)
	assert.False(t, persisted.LastUpdatedAt.IsZero())
}

func TestInitialFundingMarketDataFailureAborts(t *testing.T) {
	store := &memStore{}
	exec := newTestExecutor(store, &memReports{}, &fakeSource{err: domain.ErrUpstreamUnavailable}, &scriptedCustody{}, &memSink{})

	_, err := exec.Execute(context.Background(), activeStrategy(nil))
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Empty(t, store.upserts)
}

func TestInitialFundingNoTradeableCandidates(t *testing.T) {
	source := &fakeSource{tokens: []domain.Token{{Symbol: "NOADDR"}}}
	exec := newTestExecutor(&memStore{}, &memReports{}, source, &scriptedCustody{}, &memSink{})

	_, err := exec.Execute(context.Background(), activeStrategy(nil))
	require.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestRebalanceSellsDroppedAndBuysAdded(t *testing.T) {
	toks := candidates(3)
	dropped := domain.HoldingFromToken(domain.Token{
		Symbol:  "OLD",
		Address: testAddr(0xAA),
	}, dec(100))
	dropped.Amount = decPtr(50)
	kept := domain.HoldingFromToken(toks[0], dec(100))

	store := &memStore{}
	reports := &memReports{}
	custody := &scriptedCustody{balances: map[string]decimal.Decimal{domain.QuoteAsset: dec(200)}}
	exec := newTestExecutor(store, reports, &fakeSource{tokens: toks}, custody, &memSink{})

	res, err := exec.Execute(context.Background(), activeStrategy([]domain.TokenHolding{kept, dropped}))
	require.NoError(t, err)

	// OLD is sold, TOK0 kept untouched, TOK1 and TOK2 bought with the
	// recovered quote balance split evenly.
	require.Len(t, res.Strategy.Holdings, 3)
	_, oldHeld := res.Strategy.Holding(dropped.Address)
	assert.False(t, oldHeld)
	for _, addr := range []string{toks[0].Address, toks[1].Address, toks[2].Address} {
		_, held := res.Strategy.Holding(addr)
		assert.True(t, held, "expected holding for %s", addr)
	}
	bought, _ := res.Strategy.Holding(toks[1].Address)
	assert.True(t, bought.Value.Equal(dec(100)))

	// Sell amount carries the slippage buffer.
	require.NotEmpty(t, custody.trades)
	sell := custody.trades[0]
	assert.Equal(t, dropped.Address, sell.FromAsset)
	assert.Equal(t, domain.QuoteAsset, sell.ToAsset)
	assert.True(t, sell.Amount.Equal(dec(50).Mul(decimal.NewFromFloat(0.99))))

	require.Len(t, reports.reports, 1)
	assert.Equal(t, domain.PassRebalance, reports.reports[0].Kind)
	assert.Len(t, reports.reports[0].HoldingsBefore, 2)
	assert.Len(t, reports.reports[0].HoldingsAfter, 3)
}

func TestRebalanceFailedSellKeepsHolding(t *testing.T) {
	toks := candidates(3)
	dropped := domain.HoldingFromToken(domain.Token{Symbol: "OLD", Address: testAddr(0xAA)}, dec(100))
	dropped.Amount = decPtr(50)

	holdings := []domain.TokenHolding{
		domain.HoldingFromToken(toks[0], dec(100)),
		domain.HoldingFromToken(toks[1], dec(100)),
		domain.HoldingFromToken(toks[2], dec(100)),
		dropped,
	}
	custody := &scriptedCustody{
		failSell: map[string]error{dropped.Address: fmt.Errorf("trade rejected")},
		balances: map[string]decimal.Decimal{domain.QuoteAsset: decimal.Zero},
	}
	store := &memStore{}
	exec := newTestExecutor(store, &memReports{}, &fakeSource{tokens: toks}, custody, &memSink{})

	res, err := exec.Execute(context.Background(), activeStrategy(holdings))
	require.NoError(t, err)

	// The failed sell stays in the basket until a later pass retries it.
	_, held := res.Strategy.Holding(dropped.Address)
	assert.True(t, held)
	assert.Len(t, res.Strategy.Holdings, 4)
}

func TestRebalanceBalanceFailurePersistsWorkingSet(t *testing.T) {
	toks := candidates(3)
	dropped := domain.HoldingFromToken(domain.Token{Symbol: "OLD", Address: testAddr(0xAA)}, dec(100))
	dropped.Amount = decPtr(50)

	custody := &scriptedCustody{balErr: domain.ErrUpstreamUnavailable}
	store := &memStore{}
	exec := newTestExecutor(store, &memReports{}, &fakeSource{tokens: toks}, custody, &memSink{})

	holdings := []domain.TokenHolding{domain.HoldingFromToken(toks[0], dec(100)), dropped}
	_, err := exec.Execute(context.Background(), activeStrategy(holdings))
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	// The settled sell already mutated the basket; that state must not be
	// lost even though the pass aborted before buying.
	persisted := store.last(t)
	assert.Len(t, persisted.Holdings, 1)
	_, held := persisted.Holding(dropped.Address)
	assert.False(t, held)
}

func TestRebalanceNoChangesStillAdvancesTimestamp(t *testing.T) {
	toks := candidates(3)
	holdings := []domain.TokenHolding{
		domain.HoldingFromToken(toks[0], dec(100)),
		domain.HoldingFromToken(toks[1], dec(100)),
		domain.HoldingFromToken(toks[2], dec(100)),
	}
	store := &memStore{}
	custody := &scriptedCustody{}
	exec := newTestExecutor(store, &memReports{}, &fakeSource{tokens: toks}, custody, &memSink{})

	res, err := exec.Execute(context.Background(), activeStrategy(holdings))
	require.NoError(t, err)
	assert.Empty(t, custody.trades)
	assert.Len(t, res.Strategy.Holdings, 3)
	assert.False(t, store.last(t).LastUpdatedAt.IsZero())
}

func TestPersistRetriesTransientStoreFailure(t *testing.T) {
	store := &memStore{upsertErr: fmt.Errorf("connection reset"), failures: 2}
	exec := newTestExecutor(store, &memReports{}, &fakeSource{tokens: candidates(3)}, &scriptedCustody{}, &memSink{})

	_, err := exec.Execute(context.Background(), activeStrategy(nil))
	require.NoError(t, err)
	assert.Len(t, store.upserts, 1)
}

func TestComputeDelta(t *testing.T) {
	toks := candidates(3)
	current := []domain.TokenHolding{
		domain.HoldingFromToken(toks[0], dec(100)),
		{Symbol: "OLD", Address: testAddr(0xAA)},
	}
	delta := ComputeDelta(current, toks)

	require.Len(t, delta.ToSell, 1)
	assert.Equal(t, "OLD", delta.ToSell[0].Symbol)
	require.Len(t, delta.ToBuy, 2)
	assert.Equal(t, toks[1].Address, delta.ToBuy[0].Address)
	assert.Equal(t, toks[2].Address, delta.ToBuy[1].Address)
}

func TestRemoveHoldingCopies(t *testing.T) {
	toks := candidates(2)
	holdings := []domain.TokenHolding{
		domain.HoldingFromToken(toks[0], dec(1)),
		domain.HoldingFromToken(toks[1], dec(1)),
	}
	out := removeHolding(holdings, toks[0].Address)
	require.Len(t, out, 1)
	assert.Equal(t, toks[1].Address, out[0].Address)
	assert.Len(t, holdings, 2)
}
