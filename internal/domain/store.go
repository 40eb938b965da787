package domain

import (
	"context"
	"time"
)

// StrategyStore is the sole writer of authoritative strategy state. All
// writes are full-document upserts: callers must read-merge before Upsert to
// avoid clobbering concurrently written fields.
type StrategyStore interface {
	Upsert(ctx context.Context, s Strategy) error
	Get(ctx context.Context, id string) (Strategy, error)
	// ListActive returns the owner's ACTIVE strategies, most recently
	// created first.
	ListActive(ctx context.Context, ownerID string) ([]Strategy, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status StrategyStatus) error
}

// PassReportStore persists execution pass reports until the archiver moves
// them to object storage.
type PassReportStore interface {
	Add(ctx context.Context, report PassReport) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]PassReport, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}
