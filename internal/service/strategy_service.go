// Package service implements the strategy lifecycle: creation with initial
// funding, manual rebalance, pause/resume, parameter updates, deletion, and
// performance reads. The service is the only place lifecycle transitions,
// execution passes, scheduling, and event fan-out are tied together.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/executor"
	"github.com/alanyoungcy/basketbot/internal/scheduler"
)

// executionLockTTL bounds how long a manual trigger may hold a strategy's
// execution lock.
const executionLockTTL = 5 * time.Minute

// Runner executes one pass over a strategy.
type Runner interface {
	Execute(ctx context.Context, strategy domain.Strategy) (executor.Result, error)
}

// Timers is the scheduling surface the service drives. Satisfied by
// scheduler.Scheduler.
type Timers interface {
	Schedule(ctx context.Context, strategy domain.Strategy)
	Unschedule(id string)
}

// EventSink receives lifecycle events for fan-out to subscribers.
type EventSink interface {
	Emit(event domain.StrategyEvent)
}

// CreateRequest carries the user inputs for a new strategy.
type CreateRequest struct {
	OwnerID       string
	Name          string
	WalletID      string
	SelectionRule domain.SelectionRule
	Parameters    domain.StrategyParameters
}

// Performance summarizes a strategy's current standing against its
// allocation.
type Performance struct {
	StrategyID      string                `json:"strategy_id"`
	TotalAllocation string                `json:"total_allocation"`
	CurrentValue    string                `json:"current_value"`
	HoldingCount    int                   `json:"holding_count"`
	Holdings        []domain.TokenHolding `json:"holdings"`
	LastUpdatedAt   time.Time             `json:"last_updated_at"`
}

// StrategyService coordinates strategy lifecycle operations. Every
// execution pass, manual or scheduled, runs under the strategy's
// distributed lock so concurrent passes can never interleave writes.
type StrategyService struct {
	store  domain.StrategyStore
	runner Runner
	timers Timers
	locks  domain.LockManager
	sink   EventSink
	logger *slog.Logger

	now func() time.Time
}

// NewStrategyService creates a StrategyService with all required
// dependencies. sink may be nil.
func NewStrategyService(
	store domain.StrategyStore,
	runner Runner,
	timers Timers,
	locks domain.LockManager,
	sink EventSink,
	logger *slog.Logger,
) *StrategyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StrategyService{
		store:  store,
		runner: runner,
		timers: timers,
		locks:  locks,
		sink:   sink,
		logger: logger.With(slog.String("component", "strategy_service")),
		now:    time.Now,
	}
}

// Create validates the request, runs the initial funding pass, persists the
// funded strategy, and arms its rebalance timer. The strategy exists only
// if the funding pass reached the trading stage; an unreachable upstream
// surfaces as an error and nothing is stored.
func (s *StrategyService) Create(ctx context.Context, req CreateRequest) (domain.Strategy, error) {
	if err := req.Parameters.Validate(); err != nil {
		return domain.Strategy{}, err
	}
	if !domain.ValidSelectionRule(req.SelectionRule) {
		return domain.Strategy{}, fmt.Errorf("%w: unknown selection rule %q",
			domain.ErrInvalidParameters, req.SelectionRule)
	}
	if req.WalletID == "" {
		return domain.Strategy{}, fmt.Errorf("%w: wallet id must not be empty", domain.ErrInvalidParameters)
	}

	strategy := domain.Strategy{
		ID:            uuid.NewString(),
		OwnerID:       req.OwnerID,
		Name:          req.Name,
		SelectionRule: req.SelectionRule,
		Status:        domain.StatusActive,
		Parameters:    req.Parameters,
		WalletID:      req.WalletID,
		CreatedAt:     s.now(),
	}

	res, err := s.runner.Execute(ctx, strategy)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: initial funding: %w", err)
	}
	strategy = res.Strategy

	s.timers.Schedule(ctx, strategy)
	s.emit(domain.EventStrategyCreated, strategy)
	s.logger.InfoContext(ctx, "strategy created",
		slog.String("strategy_id", strategy.ID),
		slog.String("rule", string(strategy.SelectionRule)),
		slog.Int("holdings", len(strategy.Holdings)),
	)
	return strategy, nil
}

// Get retrieves a strategy by id.
func (s *StrategyService) Get(ctx context.Context, id string) (domain.Strategy, error) {
	return s.store.Get(ctx, id)
}

// List returns the owner's active strategies, most recently created first.
func (s *StrategyService) List(ctx context.Context, ownerID string) ([]domain.Strategy, error) {
	return s.store.ListActive(ctx, ownerID)
}

// Rebalance runs a manual pass under the strategy's execution lock. When a
// scheduled tick is already mid-pass the manual trigger is rejected with
// ErrLockHeld rather than queued.
func (s *StrategyService) Rebalance(ctx context.Context, id string) (domain.Strategy, error) {
	unlock, err := s.locks.Acquire(ctx, scheduler.LockKey(id), executionLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Strategy{}, fmt.Errorf("strategy_service: strategy %s is mid-pass: %w", id, domain.ErrLockHeld)
		}
		return domain.Strategy{}, fmt.Errorf("strategy_service: acquire lock for %s: %w", id, err)
	}
	defer unlock()

	strategy, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, err
	}

	res, err := s.runner.Execute(ctx, strategy)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: manual rebalance %s: %w", id, err)
	}
	return res.Strategy, nil
}

// Pause stops scheduling without touching holdings. Pausing a paused
// strategy is a no-op.
func (s *StrategyService) Pause(ctx context.Context, id string) (domain.Strategy, error) {
	strategy, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, err
	}
	if strategy.Status == domain.StatusPaused {
		return strategy, nil
	}

	if err := s.store.UpdateStatus(ctx, id, domain.StatusPaused); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: pause %s: %w", id, err)
	}
	s.timers.Unschedule(id)
	strategy.Status = domain.StatusPaused

	s.emit(domain.EventStrategyPaused, strategy)
	s.logger.InfoContext(ctx, "strategy paused", slog.String("strategy_id", id))
	return strategy, nil
}

// Resume re-activates a paused strategy and re-arms its timer. The next
// pass fires when the cadence next comes due, measured from the strategy's
// last completed pass.
func (s *StrategyService) Resume(ctx context.Context, id string) (domain.Strategy, error) {
	strategy, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, err
	}
	if strategy.Status == domain.StatusActive {
		return strategy, nil
	}

	if err := s.store.UpdateStatus(ctx, id, domain.StatusActive); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: resume %s: %w", id, err)
	}
	strategy.Status = domain.StatusActive
	s.timers.Schedule(ctx, strategy)

	s.emit(domain.EventStrategyResumed, strategy)
	s.logger.InfoContext(ctx, "strategy resumed", slog.String("strategy_id", id))
	return strategy, nil
}

// UpdateParameters merges new parameters into the stored strategy and
// immediately re-executes so holdings reflect the new configuration. The
// update runs under the execution lock; the timer is re-armed so a changed
// cadence takes effect.
func (s *StrategyService) UpdateParameters(ctx context.Context, id string, params domain.StrategyParameters, rule domain.SelectionRule) (domain.Strategy, error) {
	if err := params.Validate(); err != nil {
		return domain.Strategy{}, err
	}
	if rule != "" && !domain.ValidSelectionRule(rule) {
		return domain.Strategy{}, fmt.Errorf("%w: unknown selection rule %q", domain.ErrInvalidParameters, rule)
	}

	unlock, err := s.locks.Acquire(ctx, scheduler.LockKey(id), executionLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Strategy{}, fmt.Errorf("strategy_service: strategy %s is mid-pass: %w", id, domain.ErrLockHeld)
		}
		return domain.Strategy{}, fmt.Errorf("strategy_service: acquire lock for %s: %w", id, err)
	}
	defer unlock()

	strategy, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, err
	}
	strategy.Parameters = params
	if rule != "" {
		strategy.SelectionRule = rule
	}

	res, err := s.runner.Execute(ctx, strategy)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: re-execute after update %s: %w", id, err)
	}
	strategy = res.Strategy

	// Re-arm so a changed cadence is picked up.
	s.timers.Unschedule(id)
	if strategy.Status == domain.StatusActive {
		s.timers.Schedule(ctx, strategy)
	}
	s.logger.InfoContext(ctx, "strategy parameters updated", slog.String("strategy_id", id))
	return strategy, nil
}

// Delete disarms the timer and removes the strategy record. Holdings are
// left in the wallet untouched; liquidation is the owner's call, not an
// implicit side effect of deletion.
func (s *StrategyService) Delete(ctx context.Context, id string) error {
	s.timers.Unschedule(id)
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.emit(domain.EventStrategyDeleted, domain.Strategy{ID: id})
	s.logger.InfoContext(ctx, "strategy deleted", slog.String("strategy_id", id))
	return nil
}

// GetPerformance reports current holdings value against the configured
// allocation.
func (s *StrategyService) GetPerformance(ctx context.Context, id string) (Performance, error) {
	strategy, err := s.store.Get(ctx, id)
	if err != nil {
		return Performance{}, err
	}
	return Performance{
		StrategyID:      strategy.ID,
		TotalAllocation: strategy.Parameters.TotalAllocation.String(),
		CurrentValue:    strategy.HoldingsValue().String(),
		HoldingCount:    len(strategy.Holdings),
		Holdings:        strategy.Holdings,
		LastUpdatedAt:   strategy.LastUpdatedAt,
	}, nil
}

func (s *StrategyService) emit(eventType domain.StrategyEventType, strategy domain.Strategy) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(domain.StrategyEvent{
		Type:       eventType,
		StrategyID: strategy.ID,
		Holdings:   strategy.Holdings,
		Timestamp:  s.now(),
	})
}
