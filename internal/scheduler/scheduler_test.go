package scheduler

import (
	"context"
	"fmt"
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
	mu       sync.Mutex
	byID     map[string]domain.Strategy
	statuses map[string]domain.StrategyStatus
}

func newMemStore(strategies ...domain.Strategy) *memStore {
	s := &memStore{
		byID:     make(map[string]domain.Strategy),
		statuses: make(map[string]domain.StrategyStatus),
	}
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

func (s *memStore) ListActive(_ context.Context, _ string) ([]domain.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Strategy
	for _, strat := range s.byID {
		if strat.Status == domain.StatusActive {
			out = append(out, strat)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.statuses[id] = status
	return nil
}

func (s *memStore) status(id string) (domain.StrategyStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[id]
	return status, ok
}

// stubRunner counts executions and signals each one on a channel.
type stubRunner struct {
	mu    sync.Mutex
	err   error
	count int
	fired chan struct{}
}

func newStubRunner(err error) *stubRunner {
	return &stubRunner{err: err, fired: make(chan struct{}, 16)}
}

func (r *stubRunner) Execute(_ context.Context, strategy domain.Strategy) (executor.Result, error) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
	if r.err != nil {
		return executor.Result{}, r.err
	}
	return executor.Result{Strategy: strategy}, nil
}

func (r *stubRunner) executions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type freeLocks struct{}

func (freeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *memNotifier) seen(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

func dueStrategy(id string) domain.Strategy {
	return domain.Strategy{
		ID:            id,
		OwnerID:       "owner-1",
		Status:        domain.StatusActive,
		SelectionRule: domain.SelectionRandom,
		Parameters: domain.StrategyParameters{
			Category:        "meme-token",
			Cadence:         "1min",
			TokenCount:      2,
			TotalAllocation: decimal.NewFromInt(100),
		},
		Holdings:      []domain.TokenHolding{{Symbol: "TOK", Address: "0x01"}},
		LastUpdatedAt: time.Now().Add(-time.Hour),
	}
}

func newTestScheduler(store domain.StrategyStore, runner Runner, locks domain.LockManager, notifier Notifier) *Scheduler {
	s := New(store, runner, locks, notifier, 1, time.Minute, discardLogger())
	return s
}

func waitFired(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pass execution")
	}
}

func TestScheduleKeepsSingleTimerPerStrategy(t *testing.T) {
	strat := dueStrategy("s1")
	store := newMemStore(strat)
	sched := newTestScheduler(store, newStubRunner(nil), freeLocks{}, nil)
	defer sched.Close()

	sched.Schedule(context.Background(), strat)
	sched.Schedule(context.Background(), strat)
	assert.True(t, sched.Scheduled("s1"))

	sched.mu.Lock()
	n := len(sched.entries)
	sched.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestRescheduleReplacesTimerAndResetsRetries(t *testing.T) {
	strat := dueStrategy("s1")
	store := newMemStore(strat)
	sched := New(store, newStubRunner(fmt.Errorf("transient")), freeLocks{}, &memNotifier{}, 2, time.Minute, discardLogger())
	defer sched.Close()

	sched.Schedule(context.Background(), strat)

	_, stop := sched.tick(context.Background(), "s1", time.Minute)
	require.False(t, stop)

	sched.mu.Lock()
	first := sched.entries["s1"]
	sched.mu.Unlock()
	assert.Equal(t, 1, first.retries)

	sched.Schedule(context.Background(), strat)

	sched.mu.Lock()
	second := sched.entries["s1"]
	sched.mu.Unlock()
	assert.NotSame(t, first, second)
	assert.Equal(t, 0, second.retries)
	assert.True(t, sched.Scheduled("s1"))
}

func TestTickExecutesDueStrategy(t *testing.T) {
	strat := dueStrategy("s1")
	store := newMemStore(strat)
	runner := newStubRunner(nil)
	sched := newTestScheduler(store, runner, freeLocks{}, nil)
	defer sched.Close()

	next, stop := sched.tick(context.Background(), "s1", time.Minute)
	assert.False(t, stop)
	assert.Equal(t, time.Minute, next)
	assert.Equal(t, 1, runner.executions())
}

func TestTickSkipsNotDueStrategy(t *testing.T) {
	strat := dueStrategy("s1")
	strat.LastUpdatedAt = time.Now()
	store := newMemStore(strat)
	runner := newStubRunner(nil)
	sched := newTestScheduler(store, runner, freeLocks{}, nil)
	defer sched.Close()

	_, stop := sched.tick(context.Background(), "s1", time.Minute)
	assert.False(t, stop)
	assert.Equal(t, 0, runner.executions())
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	strat := dueStrategy("s1")
	store := newMemStore(strat)
	runner := newStubRunner(nil)
	sched := newTestScheduler(store, runner, heldLocks{}, nil)
	defer sched.Close()

	next, stop := sched.tick(context.Background(), "s1", time.Minute)
	assert.False(t, stop)
	assert.Equal(t, time.Minute, next)
	assert.Equal(t, 0, runner.executions())
}

func TestTickStopsForDeletedStrategy(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(store, newStubRunner(nil), freeLocks{}, nil)
	defer sched.Close()

	_, stop := sched.tick(context.Background(), "gone", time.Minute)
	assert.True(t, stop)
}

func TestTickStopsForPausedStrategy(t *testing.T) {
	strat := dueStrategy("s1")
	strat.Status = domain.StatusPaused
	store := newMemStore(strat)
	runner := newStubRunner(nil)
	sched := newTestScheduler(store, runner, freeLocks{}, nil)
	defer sched.Close()

	_, stop := sched.tick(context.Background(), "s1", time.Minute)
	assert.True(t, stop)
	assert.Equal(t, 0, runner.executions())
}

func TestBreakerPausesOnFirstFailureWithSingleRetry(t *testing.T) {
	strat := dueStrategy("s1")
	store := newMemStore(strat)
	runner := newStubRunner(fmt.Errorf("custody down: %w", domain.ErrUpstreamUnavailable))
	notifier := &memNotifier{}
	sched := newTestScheduler(store, runner, freeLocks{}, notifier)
	defer sched.Close()

	sched.Schedule(context.Background(), strat)

	// maxRetries=1: the single failing pass trips the breaker immediately,
	// so a permanently broken strategy never executes a second time.
	_, stop := sched.tick(context.Background(), "s1", time.Minute)
	assert.True(t, stop)
	assert.Equal(t, 1, runner.executions())
	assert.True(t, notifier.seen("pass_failed"))
	assert.True(t, notifier.seen("breaker_tripped"))

	status, ok := store.status("s1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPaused, status)
}

func TestBreakerRetriesWithinBudgetThenTrips(t *testing.T) {
	strat := dueStrategy("s1")
	store := newMemStore(strat)
	runner := newStubRunner(fmt.Errorf("custody down"))
	notifier := &memNotifier{}
	sched := New(store, runner, freeLocks{}, notifier, 2, time.Minute, discardLogger())
	defer sched.Close()

	sched.Schedule(context.Background(), strat)

	// First failure is within the budget; the loop keeps running.
	_, stop := sched.tick(context.Background(), "s1", time.Minute)
	assert.False(t, stop)
	assert.False(t, notifier.seen("breaker_tripped"))

	// Second consecutive failure spends the budget.
	_, stop = sched.tick(context.Background(), "s1", time.Minute)
	assert.True(t, stop)
	assert.True(t, notifier.seen("breaker_tripped"))
	assert.Equal(t, 2, runner.executions())
}

func TestSuccessResetsRetryCount(t *testing.T) {
	strat := dueStrategy("s1")
	store := newMemStore(strat)
	runner := newStubRunner(fmt.Errorf("transient"))
	sched := New(store, runner, freeLocks{}, &memNotifier{}, 2, time.Minute, discardLogger())
	defer sched.Close()

	sched.Schedule(context.Background(), strat)

	_, stop := sched.tick(context.Background(), "s1", time.Minute)
	require.False(t, stop)

	runner.mu.Lock()
	runner.err = nil
	runner.mu.Unlock()
	_, stop = sched.tick(context.Background(), "s1", time.Minute)
	require.False(t, stop)

	sched.mu.Lock()
	retries := sched.entries["s1"].retries
	sched.mu.Unlock()
	assert.Equal(t, 0, retries)
}

func TestInitArmsActiveStrategies(t *testing.T) {
	active := dueStrategy("s1")
	paused := dueStrategy("s2")
	paused.Status = domain.StatusPaused
	store := newMemStore(active, paused)
	sched := newTestScheduler(store, newStubRunner(nil), freeLocks{}, nil)
	defer sched.Close()

	require.NoError(t, sched.Init(context.Background(), "owner-1"))
	assert.True(t, sched.Scheduled("s1"))
	assert.False(t, sched.Scheduled("s2"))
}

func TestTimerLoopFiresAndUnscheduleStops(t *testing.T) {
	strat := dueStrategy("s1")
	strat.Parameters.Cadence = "1min"
	store := newMemStore(strat)
	runner := newStubRunner(nil)
	sched := newTestScheduler(store, runner, freeLocks{}, nil)
	defer sched.Close()

	// Arm with a tiny interval directly to keep the test fast.
	ctx, cancel := context.WithCancel(context.Background())
	ent := &entry{cancel: cancel}
	sched.mu.Lock()
	sched.entries["s1"] = ent
	sched.mu.Unlock()
	sched.wg.Add(1)
	go sched.run(ctx, "s1", 10*time.Millisecond, ent)

	waitFired(t, runner.fired)
	sched.Unschedule("s1")
	assert.False(t, sched.Scheduled("s1"))
}

func TestRunOnceExecutesOnlyDueStrategies(t *testing.T) {
	due := dueStrategy("s1")
	fresh := dueStrategy("s2")
	fresh.LastUpdatedAt = time.Now()
	store := newMemStore(due, fresh)
	runner := newStubRunner(nil)
	sched := newTestScheduler(store, runner, freeLocks{}, nil)
	defer sched.Close()

	executed, err := sched.RunOnce(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, executed)
	assert.Equal(t, 1, runner.executions())
}

func TestRunOnceSkipsLockedAndNotifiesFailures(t *testing.T) {
	strat := dueStrategy("s1")
	store := newMemStore(strat)
	runner := newStubRunner(nil)
	sched := newTestScheduler(store, runner, heldLocks{}, nil)
	defer sched.Close()

	executed, err := sched.RunOnce(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 0, executed)
	assert.Equal(t, 0, runner.executions())

	failing := newStubRunner(fmt.Errorf("custody down"))
	notifier := &memNotifier{}
	sched2 := newTestScheduler(store, failing, freeLocks{}, notifier)
	defer sched2.Close()

	executed, err = sched2.RunOnce(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 0, executed)
	assert.True(t, notifier.seen("pass_failed"))
}

func TestUnparseableCadenceFallsBackToDefault(t *testing.T) {
	strat := dueStrategy("s1")
	strat.Parameters.Cadence = "fortnightly"
	sched := newTestScheduler(newMemStore(strat), newStubRunner(nil), freeLocks{}, nil)
	defer sched.Close()

	assert.Equal(t, time.Minute, sched.interval(strat))
}
