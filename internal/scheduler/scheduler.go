// Package scheduler arms one timer per active strategy and fires rebalance
// passes on the strategy's cadence. Each strategy owns an independent timer;
// a slow or failing pass on one strategy never delays another.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/executor"
	"github.com/alanyoungcy/basketbot/internal/schedule"
)

// lockTTL bounds how long a tick may hold a strategy's execution lock. It
// comfortably exceeds the worst-case pass duration so a crashed holder's
// lock expires on its own.
const lockTTL = 5 * time.Minute

// Notifier receives operator alerts. The concrete implementation filters by
// event type and fans out to configured channels.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Runner executes one pass over a strategy. Satisfied by
// executor.StrategyExecutor.
type Runner interface {
	Execute(ctx context.Context, strategy domain.Strategy) (executor.Result, error)
}

type entry struct {
	cancel  context.CancelFunc
	retries int
}

// Scheduler maintains the per-strategy timer registry. Schedule replaces any
// existing timer, so a resume racing a startup scan never produces a
// duplicate and a re-schedule picks up a changed cadence.
type Scheduler struct {
	store    domain.StrategyStore
	runner   Runner
	locks    domain.LockManager
	notifier Notifier
	logger   *slog.Logger

	maxRetries      int
	defaultInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup

	now func() time.Time
}

// New creates a Scheduler. The breaker pauses a strategy on its maxRetries'th
// consecutive pass failure.
func New(
	store domain.StrategyStore,
	runner Runner,
	locks domain.LockManager,
	notifier Notifier,
	maxRetries int,
	defaultInterval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if defaultInterval <= 0 {
		defaultInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:           store,
		runner:          runner,
		locks:           locks,
		notifier:        notifier,
		maxRetries:      maxRetries,
		defaultInterval: defaultInterval,
		entries:         make(map[string]*entry),
		logger:          logger.With(slog.String("component", "scheduler")),
		now:             time.Now,
	}
}

// Init arms timers for every ACTIVE strategy already in the store. Called
// once at startup so schedules survive process restarts.
func (s *Scheduler) Init(ctx context.Context, ownerID string) error {
	strategies, err := s.store.ListActive(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("scheduler: list active strategies: %w", err)
	}
	for _, strategy := range strategies {
		s.Schedule(ctx, strategy)
	}
	s.logger.InfoContext(ctx, "scheduler initialized", slog.Int("strategies", len(strategies)))
	return nil
}

// RunOnce performs a single due-check sweep over every active strategy and
// returns the number of passes executed. Used by the cron mode, where an
// external scheduler provides the cadence and the process exits after one
// sweep.
func (s *Scheduler) RunOnce(ctx context.Context, ownerID string) (int, error) {
	strategies, err := s.store.ListActive(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list active strategies: %w", err)
	}

	executed := 0
	for _, strategy := range strategies {
		log := s.logger.With(slog.String("strategy_id", strategy.ID))
		if !schedule.IsDue(strategy.LastUpdatedAt, strategy.Parameters.Cadence, s.now()) {
			continue
		}
		unlock, err := s.locks.Acquire(ctx, LockKey(strategy.ID), lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				log.Info("execution lock held elsewhere, skipping")
				continue
			}
			log.Warn("lock acquire failed", slog.String("error", err.Error()))
			continue
		}
		_, execErr := s.runner.Execute(ctx, strategy)
		unlock()
		if execErr != nil {
			log.Error("pass failed", slog.String("error", execErr.Error()))
			s.notify(ctx, "pass_failed", "Rebalance pass failed",
				fmt.Sprintf("Strategy %s (%s): %v", strategy.Name, strategy.ID, execErr))
			continue
		}
		executed++
	}
	return executed, nil
}

// Schedule arms the timer for a strategy. Re-scheduling an armed strategy
// cancels the old timer and starts over with a zero retry count, so an
// updated cadence takes effect immediately.
func (s *Scheduler) Schedule(ctx context.Context, strategy domain.Strategy) {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ent := &entry{cancel: cancel}

	s.mu.Lock()
	if old, armed := s.entries[strategy.ID]; armed {
		old.cancel()
	}
	s.entries[strategy.ID] = ent
	s.mu.Unlock()

	interval := s.interval(strategy)
	s.logger.Info("strategy scheduled",
		slog.String("strategy_id", strategy.ID),
		slog.String("cadence", strategy.Parameters.Cadence),
		slog.Duration("interval", interval))

	s.wg.Add(1)
	go s.run(loopCtx, strategy.ID, interval, ent)
}

// Unschedule cancels the timer for a strategy. Safe to call for strategies
// that were never scheduled.
func (s *Scheduler) Unschedule(id string) {
	s.mu.Lock()
	ent, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if ok {
		ent.cancel()
		s.logger.Info("strategy unscheduled", slog.String("strategy_id", id))
	}
}

// Scheduled reports whether a timer is currently armed for the strategy.
func (s *Scheduler) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Close cancels all timers and waits for in-flight ticks to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for id, ent := range s.entries {
		ent.cancel()
		delete(s.entries, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// interval resolves the timer period from the strategy cadence. A cadence
// the grammar cannot parse falls back to the configured default so the
// strategy still gets periodic due-checks; IsDue keeps it from actually
// executing until the cadence is corrected.
func (s *Scheduler) interval(strategy domain.Strategy) time.Duration {
	interval, err := schedule.Interval(strategy.Parameters.Cadence)
	if err != nil {
		s.logger.Warn("unparseable cadence, using default interval",
			slog.String("strategy_id", strategy.ID),
			slog.String("cadence", strategy.Parameters.Cadence),
			slog.Duration("default", s.defaultInterval))
		return s.defaultInterval
	}
	return interval
}

func (s *Scheduler) run(ctx context.Context, id string, interval time.Duration, ent *entry) {
	defer s.wg.Done()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, stop := s.tick(ctx, id, interval)
		if stop {
			s.remove(id, ent)
			return
		}
		timer.Reset(next)
	}
}

// remove drops the loop's own entry from the registry. A replacement entry
// armed by a concurrent re-schedule is left alone.
func (s *Scheduler) remove(id string, ent *entry) {
	s.mu.Lock()
	if cur, ok := s.entries[id]; ok && cur == ent {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	ent.cancel()
	s.logger.Info("strategy unscheduled", slog.String("strategy_id", id))
}

// tick runs one due-check under the strategy's execution lock. It returns
// the delay until the next check and whether the loop should stop.
func (s *Scheduler) tick(ctx context.Context, id string, interval time.Duration) (time.Duration, bool) {
	log := s.logger.With(slog.String("strategy_id", id))

	unlock, err := s.locks.Acquire(ctx, LockKey(id), lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			// A manual trigger is mid-pass; its write advances the due
			// time, so just check again next interval.
			log.Info("execution lock held elsewhere, skipping tick")
			return interval, false
		}
		log.Warn("lock acquire failed", slog.String("error", err.Error()))
		return interval, false
	}
	defer unlock()

	strategy, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Info("strategy gone, stopping timer")
			return 0, true
		}
		log.Warn("strategy read failed", slog.String("error", err.Error()))
		return interval, false
	}
	if strategy.Status != domain.StatusActive {
		log.Info("strategy no longer active, stopping timer")
		return 0, true
	}
	if !schedule.IsDue(strategy.LastUpdatedAt, strategy.Parameters.Cadence, s.now()) {
		return interval, false
	}

	if _, err := s.runner.Execute(ctx, strategy); err != nil {
		return s.onFailure(ctx, strategy, err, interval)
	}

	s.resetRetries(id)
	return interval, false
}

// onFailure counts consecutive pass failures and trips the breaker once the
// retry budget is spent: the strategy is paused in the store and operators
// are alerted, leaving the record intact for a manual resume.
func (s *Scheduler) onFailure(ctx context.Context, strategy domain.Strategy, passErr error, interval time.Duration) (time.Duration, bool) {
	log := s.logger.With(slog.String("strategy_id", strategy.ID))
	log.Error("pass failed", slog.String("error", passErr.Error()))

	s.mu.Lock()
	ent, ok := s.entries[strategy.ID]
	if !ok {
		s.mu.Unlock()
		return 0, true
	}
	ent.retries++
	retries := ent.retries
	s.mu.Unlock()

	s.notify(ctx, "pass_failed", "Rebalance pass failed",
		fmt.Sprintf("Strategy %s (%s): %v", strategy.Name, strategy.ID, passErr))

	if retries < s.maxRetries {
		log.Warn("retrying on next interval",
			slog.Int("attempt", retries),
			slog.Int("max_retries", s.maxRetries))
		return interval, false
	}

	if err := s.store.UpdateStatus(ctx, strategy.ID, domain.StatusPaused); err != nil {
		log.Error("breaker could not pause strategy", slog.String("error", err.Error()))
		return interval, false
	}
	log.Warn("breaker tripped, strategy paused", slog.Int("failures", retries))
	s.notify(ctx, "breaker_tripped", "Strategy paused by breaker",
		fmt.Sprintf("Strategy %s (%s) paused after %d consecutive failed passes. Last error: %v",
			strategy.Name, strategy.ID, retries, passErr))
	return 0, true
}

func (s *Scheduler) resetRetries(id string) {
	s.mu.Lock()
	if ent, ok := s.entries[id]; ok {
		ent.retries = 0
	}
	s.mu.Unlock()
}

func (s *Scheduler) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

// LockKey is the per-strategy execution lock key. Manual triggers contend
// on the same lock as scheduled ticks.
func LockKey(id string) string {
	return "lock:strategy:" + id
}
