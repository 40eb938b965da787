package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidCadence      = errors.New("invalid cadence")
	ErrInvalidParameters   = errors.New("invalid strategy parameters")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	ErrTradeTimeout        = errors.New("trade settlement timed out")
	ErrTradeFailed         = errors.New("trade failed")
	ErrLockHeld            = errors.New("lock already held")
	ErrStoreWrite          = errors.New("store write failed")
	ErrContextDone         = errors.New("context cancelled")
)
