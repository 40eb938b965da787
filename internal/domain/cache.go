package domain

import (
	"context"
	"time"
)

// TokenCache is a short-lived cache of candidate token lists, keyed by
// category, shielding the market-data provider from repeated identical
// fetches within a rebalance window.
type TokenCache interface {
	Get(ctx context.Context, category string, limit int) ([]Token, error)
	Set(ctx context.Context, category string, limit int, tokens []Token) error
	Invalidate(ctx context.Context, category string) error
}

// LockManager provides distributed per-strategy execution locks so a manual
// trigger can never race a scheduled tick on the same strategy record.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL. On success it
	// returns an unlock function that is safe to call more than once. It
	// returns ErrLockHeld when another party holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus is the ephemeral pub/sub transport between the update emitter
// and streaming subscribers such as the websocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads. The subscription ends and
	// the channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
