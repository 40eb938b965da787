package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL. Holdings
// and parameters are stored as JSONB documents; every Upsert replaces the
// full row.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a StrategyStore backed by the given connection
// pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

const strategyColumns = `id, owner_id, name, selection_rule, status, parameters, holdings, wallet_id, created_at, last_updated_at`

// Upsert inserts or fully replaces a strategy row.
func (s *StrategyStore) Upsert(ctx context.Context, strategy domain.Strategy) error {
	parameters, err := json.Marshal(strategy.Parameters)
	if err != nil {
		return fmt.Errorf("postgres: marshal parameters for %s: %w", strategy.ID, err)
	}
	holdings, err := json.Marshal(strategy.Holdings)
	if err != nil {
		return fmt.Errorf("postgres: marshal holdings for %s: %w", strategy.ID, err)
	}

	const query = `
		INSERT INTO strategies (id, owner_id, name, selection_rule, status, parameters, holdings, wallet_id, created_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name            = EXCLUDED.name,
			selection_rule  = EXCLUDED.selection_rule,
			status          = EXCLUDED.status,
			parameters      = EXCLUDED.parameters,
			holdings        = EXCLUDED.holdings,
			wallet_id       = EXCLUDED.wallet_id,
			last_updated_at = EXCLUDED.last_updated_at`

	_, err = s.pool.Exec(ctx, query,
		strategy.ID, strategy.OwnerID, strategy.Name,
		string(strategy.SelectionRule), string(strategy.Status),
		parameters, holdings,
		strategy.WalletID, strategy.CreatedAt, strategy.LastUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy %s: %w", strategy.ID, err)
	}
	return nil
}

// Get retrieves a single strategy by id.
func (s *StrategyStore) Get(ctx context.Context, id string) (domain.Strategy, error) {
	query := `SELECT ` + strategyColumns + ` FROM strategies WHERE id = $1`

	strategy, err := scanStrategy(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return strategy, nil
}

// ListActive returns the owner's ACTIVE strategies, most recently created
// first.
func (s *StrategyStore) ListActive(ctx context.Context, ownerID string) ([]domain.Strategy, error) {
	query := `SELECT ` + strategyColumns + `
		FROM strategies
		WHERE owner_id = $1 AND status = $2
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, ownerID, string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active strategies: %w", err)
	}
	defer rows.Close()

	var strategies []domain.Strategy
	for rows.Next() {
		strategy, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		strategies = append(strategies, strategy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active strategies rows: %w", err)
	}
	return strategies, nil
}

// Delete removes a strategy row. Deleting a missing row returns ErrNotFound.
func (s *StrategyStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete strategy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus changes only the scheduling status of a strategy.
func (s *StrategyStore) UpdateStatus(ctx context.Context, id string, status domain.StrategyStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: update status for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanStrategy(row pgx.Row) (domain.Strategy, error) {
	var (
		strategy      domain.Strategy
		selectionRule string
		status        string
		parameters    []byte
		holdings      []byte
	)
	err := row.Scan(
		&strategy.ID, &strategy.OwnerID, &strategy.Name,
		&selectionRule, &status,
		&parameters, &holdings,
		&strategy.WalletID, &strategy.CreatedAt, &strategy.LastUpdatedAt,
	)
	if err != nil {
		return domain.Strategy{}, err
	}

	strategy.SelectionRule = domain.SelectionRule(selectionRule)
	strategy.Status = domain.StrategyStatus(status)
	if parameters != nil {
		if err := json.Unmarshal(parameters, &strategy.Parameters); err != nil {
			return domain.Strategy{}, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if holdings != nil {
		if err := json.Unmarshal(holdings, &strategy.Holdings); err != nil {
			return domain.Strategy{}, fmt.Errorf("unmarshal holdings: %w", err)
		}
	}
	return strategy, nil
}
