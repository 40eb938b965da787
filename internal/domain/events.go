package domain

import "time"

// StrategyEventType enumerates the update notifications pushed to
// subscribers. Delivery is best effort: no ordering or delivery guarantee.
type StrategyEventType string

const (
	EventHoldingsUpdated StrategyEventType = "HOLDINGS_UPDATED"
	EventRebalance       StrategyEventType = "REBALANCE"
	EventStrategyCreated StrategyEventType = "STRATEGY_CREATED"
	EventStrategyPaused  StrategyEventType = "STRATEGY_PAUSED"
	EventStrategyResumed StrategyEventType = "STRATEGY_RESUMED"
	EventStrategyDeleted StrategyEventType = "STRATEGY_DELETED"
)

// StrategyEvent is the payload published on the strategy update channel.
type StrategyEvent struct {
	Type       StrategyEventType `json:"type"`
	StrategyID string            `json:"strategy_id"`
	Holdings   []TokenHolding    `json:"holdings,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// UpdateChannel is the signal-bus channel strategy events are published on.
const UpdateChannel = "strategy_updates"
