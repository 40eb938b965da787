package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// CategorySource lists the token categories usable in strategy parameters.
type CategorySource interface {
	Categories(ctx context.Context) ([]string, error)
}

// TokenHandler serves token metadata endpoints.
type TokenHandler struct {
	source CategorySource
	logger *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(source CategorySource, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		source: source,
		logger: logHandler(logger, "tokens"),
	}
}

// Categories lists the available token categories.
// GET /api/tokens/categories
func (h *TokenHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.source.Categories(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "categories fetch failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}
