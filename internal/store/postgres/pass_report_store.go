package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// PassReportStore implements domain.PassReportStore using PostgreSQL. Rows
// accumulate until the archiver moves them to object storage.
type PassReportStore struct {
	pool *pgxpool.Pool
}

// NewPassReportStore creates a PassReportStore backed by the given
// connection pool.
func NewPassReportStore(pool *pgxpool.Pool) *PassReportStore {
	return &PassReportStore{pool: pool}
}

var _ domain.PassReportStore = (*PassReportStore)(nil)

// Add persists one pass report.
func (s *PassReportStore) Add(ctx context.Context, report domain.PassReport) error {
	trades, err := json.Marshal(report.Trades)
	if err != nil {
		return fmt.Errorf("postgres: marshal trades for report %s: %w", report.ID, err)
	}
	before, err := json.Marshal(report.HoldingsBefore)
	if err != nil {
		return fmt.Errorf("postgres: marshal holdings_before for report %s: %w", report.ID, err)
	}
	after, err := json.Marshal(report.HoldingsAfter)
	if err != nil {
		return fmt.Errorf("postgres: marshal holdings_after for report %s: %w", report.ID, err)
	}

	const query = `
		INSERT INTO pass_reports (id, strategy_id, kind, trades, holdings_before, holdings_after, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		report.ID, report.StrategyID, string(report.Kind),
		trades, before, after,
		report.StartedAt, report.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: add pass report %s: %w", report.ID, err)
	}
	return nil
}

// ListBefore returns up to limit reports completed before cutoff, oldest
// first, so the archiver drains in stable batches.
func (s *PassReportStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PassReport, error) {
	const query = `
		SELECT id, strategy_id, kind, trades, holdings_before, holdings_after, started_at, completed_at
		FROM pass_reports
		WHERE completed_at < $1
		ORDER BY completed_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pass reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.PassReport
	for rows.Next() {
		var (
			report domain.PassReport
			kind   string
			trades []byte
			before []byte
			after  []byte
		)
		if err := rows.Scan(
			&report.ID, &report.StrategyID, &kind,
			&trades, &before, &after,
			&report.StartedAt, &report.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan pass report: %w", err)
		}
		report.Kind = domain.PassKind(kind)
		if trades != nil {
			if err := json.Unmarshal(trades, &report.Trades); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal trades: %w", err)
			}
		}
		if before != nil {
			if err := json.Unmarshal(before, &report.HoldingsBefore); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal holdings_before: %w", err)
			}
		}
		if after != nil {
			if err := json.Unmarshal(after, &report.HoldingsAfter); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal holdings_after: %w", err)
			}
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pass reports rows: %w", err)
	}
	return reports, nil
}

// DeleteByIDs removes the given reports, returning how many rows went away.
func (s *PassReportStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM pass_reports WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete pass reports: %w", err)
	}
	return tag.RowsAffected(), nil
}
