package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/executor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu   sync.Mutex
	byID map[string]domain.Strategy
}

func newMemStore(strategies ...domain.Strategy) *memStore {
	s := &memStore{byID: make(map[string]domain.Strategy)}
	for _, strat := range strategies {
		s.byID[strat.ID] = strat
	}
	return s
}

func (s *memStore) Upsert(_ context.Context, strategy domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[strategy.ID] = strategy
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (domain.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	strat, ok := s.byID[id]
	if !ok {
		return domain.Strategy{}, domain.ErrNotFound
	}
	return strat, nil
}

func (s *memStore) ListActive(_ context.Context, ownerID string) ([]domain.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Strategy
	for _, strat := range s.byID {
		if strat.OwnerID == ownerID && strat.Status == domain.StatusActive {
			out = append(out, strat)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status domain.StrategyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	strat, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	strat.Status = status
	s.byID[id] = strat
	return nil
}

// passRunner simulates an execution pass by stamping holdings and the
// update time.
type passRunner struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (r *passRunner) Execute(_ context.Context, strategy domain.Strategy) (executor.Result, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return executor.Result{}, r.err
	}
	value := decimal.NewFromInt(50)
	strategy.Holdings = []domain.TokenHolding{
		{Symbol: "TOK0", Address: "0xaa", Value: &value},
		{Symbol: "TOK1", Address: "0xbb", Value: &value},
	}
	strategy.LastUpdatedAt = time.Now()
	return executor.Result{Strategy: strategy}, nil
}

type memTimers struct {
	mu          sync.Mutex
	scheduled   []string
	unscheduled []string
}

func (t *memTimers) Schedule(_ context.Context, strategy domain.Strategy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduled = append(t.scheduled, strategy.ID)
}

func (t *memTimers) Unschedule(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unscheduled = append(t.unscheduled, id)
}

type freeLocks struct{}

func (freeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
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

func (s *memSink) types() []domain.StrategyEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StrategyEventType
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func validCreate() CreateRequest {
	return CreateRequest{
		OwnerID:       "owner-1",
		Name:          "meme basket",
		WalletID:      "wallet-1",
		SelectionRule: domain.SelectionMarketCap,
		Parameters: domain.StrategyParameters{
			Category:        "meme-token",
			Cadence:         "1week",
			TokenCount:      2,
			TotalAllocation: decimal.NewFromInt(100),
		},
	}
}

func newService(store domain.StrategyStore, runner Runner, timers Timers, locks domain.LockManager, sink EventSink) *StrategyService {
	return NewStrategyService(store, runner, timers, locks, sink, discardLogger())
}

func TestCreateRunsInitialFundingAndSchedules(t *testing.T) {
	store := newMemStore()
	runner := &passRunner{}
	timers := &memTimers{}
	sink := &memSink{}
	svc := newService(store, runner, timers, freeLocks{}, sink)

	strategy, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)

	assert.NotEmpty(t, strategy.ID)
	assert.Equal(t, domain.StatusActive, strategy.Status)
	assert.Len(t, strategy.Holdings, 2)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, []string{strategy.ID}, timers.scheduled)
	assert.Contains(t, sink.types(), domain.EventStrategyCreated)
}

func TestCreateRejectsBadParameters(t *testing.T) {
	svc := newService(newMemStore(), &passRunner{}, &memTimers{}, freeLocks{}, nil)

	req := validCreate()
	req.Parameters.TokenCount = 0
	_, err := svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	req = validCreate()
	req.SelectionRule = "BY_VIBES"
	_, err = svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	req = validCreate()
	req.WalletID = ""
	_, err = svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestCreateFundingFailureStoresNothing(t *testing.T) {
	store := newMemStore()
	runner := &passRunner{err: domain.ErrUpstreamUnavailable}
	timers := &memTimers{}
	svc := newService(store, runner, timers, freeLocks{}, nil)

	_, err := svc.Create(context.Background(), validCreate())
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Empty(t, store.byID)
	assert.Empty(t, timers.scheduled)
}

func TestRebalanceRejectedWhileLockHeld(t *testing.T) {
	strat := domain.Strategy{ID: "s1", Status: domain.StatusActive}
	svc := newService(newMemStore(strat), &passRunner{}, &memTimers{}, heldLocks{}, nil)

	_, err := svc.Rebalance(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestRebalanceExecutesUnderLock(t *testing.T) {
	strat := domain.Strategy{ID: "s1", Status: domain.StatusActive, WalletID: "w1"}
	runner := &passRunner{}
	svc := newService(newMemStore(strat), runner, &memTimers{}, freeLocks{}, nil)

	got, err := svc.Rebalance(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Len(t, got.Holdings, 2)
}

func TestPauseAndResumeRoundTrip(t *testing.T) {
	strat := domain.Strategy{ID: "s1", OwnerID: "owner-1", Status: domain.StatusActive}
	store := newMemStore(strat)
	timers := &memTimers{}
	sink := &memSink{}
	svc := newService(store, &passRunner{}, timers, freeLocks{}, sink)

	paused, err := svc.Pause(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.Equal(t, []string{"s1"}, timers.unscheduled)

	// Pausing again is a no-op.
	_, err = svc.Pause(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, timers.unscheduled, 1)

	resumed, err := svc.Resume(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, resumed.Status)
	assert.Equal(t, []string{"s1"}, timers.scheduled)

	types := sink.types()
	assert.Contains(t, types, domain.EventStrategyPaused)
	assert.Contains(t, types, domain.EventStrategyResumed)
}

func TestUpdateParametersReExecutesAndRearms(t *testing.T) {
	strat := domain.Strategy{
		ID:            "s1",
		Status:        domain.StatusActive,
		SelectionRule: domain.SelectionRandom,
		Parameters: domain.StrategyParameters{
			Category:        "meme-token",
			Cadence:         "1day",
			TokenCount:      2,
			TotalAllocation: decimal.NewFromInt(100),
		},
	}
	store := newMemStore(strat)
	runner := &passRunner{}
	timers := &memTimers{}
	svc := newService(store, runner, timers, freeLocks{}, nil)

	params := strat.Parameters
	params.Cadence = "2week"
	params.TokenCount = 5
	got, err := svc.UpdateParameters(context.Background(), "s1", params, domain.SelectionVolume)
	require.NoError(t, err)

	assert.Equal(t, "2week", got.Parameters.Cadence)
	assert.Equal(t, 5, got.Parameters.TokenCount)
	assert.Equal(t, domain.SelectionVolume, got.SelectionRule)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, []string{"s1"}, timers.unscheduled)
	assert.Equal(t, []string{"s1"}, timers.scheduled)
}

func TestDeleteDisarmsAndRemoves(t *testing.T) {
	strat := domain.Strategy{ID: "s1", Status: domain.StatusActive}
	store := newMemStore(strat)
	timers := &memTimers{}
	sink := &memSink{}
	svc := newService(store, &passRunner{}, timers, freeLocks{}, sink)

	require.NoError(t, svc.Delete(context.Background(), "s1"))
	assert.Equal(t, []string{"s1"}, timers.unscheduled)
	assert.Empty(t, store.byID)
	assert.Contains(t, sink.types(), domain.EventStrategyDeleted)

	err := svc.Delete(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPerformance(t *testing.T) {
	v1 := decimal.NewFromInt(60)
	v2 := decimal.NewFromInt(55)
	strat := domain.Strategy{
		ID:     "s1",
		Status: domain.StatusActive,
		Parameters: domain.StrategyParameters{
			Category:        "meme-token",
			Cadence:         "1day",
			TokenCount:      2,
			TotalAllocation: decimal.NewFromInt(100),
		},
		Holdings: []domain.TokenHolding{
			{Symbol: "A", Address: "0xaa", Value: &v1},
			{Symbol: "B", Address: "0xbb", Value: &v2},
		},
		LastUpdatedAt: time.Now(),
	}
	svc := newService(newMemStore(strat), &passRunner{}, &memTimers{}, freeLocks{}, nil)

	perf, err := svc.GetPerformance(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "115", perf.CurrentValue)
	assert.Equal(t, "100", perf.TotalAllocation)
	assert.Equal(t, 2, perf.HoldingCount)

	_, err = svc.GetPerformance(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateParametersValidation(t *testing.T) {
	svc := newService(newMemStore(), &passRunner{}, &memTimers{}, freeLocks{}, nil)

	bad := domain.StrategyParameters{Category: "x", Cadence: "1day", TokenCount: 99, TotalAllocation: decimal.NewFromInt(100)}
	_, err := svc.UpdateParameters(context.Background(), "s1", bad, "")
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

