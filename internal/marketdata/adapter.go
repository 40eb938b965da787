// Package marketdata provides the adapter the strategy executor uses to
// obtain candidate tokens: it composes the provider REST client with a
// short-lived cache and drops candidates that cannot be traded on-chain.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// Provider is the subset of the market-data REST client the adapter needs.
type Provider interface {
	TopTokensByCategory(ctx context.Context, category string, limit int) ([]domain.Token, error)
	Categories(ctx context.Context) ([]string, error)
}

// Adapter fetches candidate tokens for a category, caching results briefly.
// Cache failures are soft: the adapter falls through to the provider and
// logs. Provider failures are hard: the calling pass aborts.
type Adapter struct {
	provider Provider
	cache    domain.TokenCache
	logger   *slog.Logger
}

// NewAdapter creates an Adapter. cache may be nil to disable caching.
func NewAdapter(provider Provider, cache domain.TokenCache, logger *slog.Logger) *Adapter {
	return &Adapter{
		provider: provider,
		cache:    cache,
		logger:   logger.With(slog.String("component", "marketdata_adapter")),
	}
}

// Candidates returns up to limit tradeable candidate tokens for the given
// category. Tokens without a usable on-chain address are dropped, so the
// result may be shorter than limit.
func (a *Adapter) Candidates(ctx context.Context, category string, limit int) ([]domain.Token, error) {
	if a.cache != nil {
		cached, err := a.cache.Get(ctx, category, limit)
		switch {
		case err == nil:
			return cached, nil
		case !errors.Is(err, domain.ErrNotFound):
			a.logger.WarnContext(ctx, "token cache read failed, falling through",
				slog.String("category", category),
				slog.String("error", err.Error()),
			)
		}
	}

	tokens, err := a.provider.TopTokensByCategory(ctx, category, limit)
	if err != nil {
		return nil, fmt.Errorf("marketdata: candidates for %s: %w", category, err)
	}

	tradeable := make([]domain.Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Tradeable() {
			tradeable = append(tradeable, tok)
		}
	}

	a.logger.DebugContext(ctx, "candidates fetched",
		slog.String("category", category),
		slog.Int("total", len(tokens)),
		slog.Int("tradeable", len(tradeable)),
	)

	if a.cache != nil {
		if err := a.cache.Set(ctx, category, limit, tradeable); err != nil {
			a.logger.WarnContext(ctx, "token cache write failed",
				slog.String("category", category),
				slog.String("error", err.Error()),
			)
		}
	}

	return tradeable, nil
}

// Categories returns the provider's category identifiers.
func (a *Adapter) Categories(ctx context.Context) ([]string, error) {
	cats, err := a.provider.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketdata: categories: %w", err)
	}
	return cats, nil
}
