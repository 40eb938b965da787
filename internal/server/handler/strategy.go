package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/service"
)

// StrategyLifecycle is the service surface the handler exposes over HTTP.
type StrategyLifecycle interface {
	Create(ctx context.Context, req service.CreateRequest) (domain.Strategy, error)
	Get(ctx context.Context, id string) (domain.Strategy, error)
	List(ctx context.Context, ownerID string) ([]domain.Strategy, error)
	Rebalance(ctx context.Context, id string) (domain.Strategy, error)
	Pause(ctx context.Context, id string) (domain.Strategy, error)
	Resume(ctx context.Context, id string) (domain.Strategy, error)
	UpdateParameters(ctx context.Context, id string, params domain.StrategyParameters, rule domain.SelectionRule) (domain.Strategy, error)
	Delete(ctx context.Context, id string) error
	GetPerformance(ctx context.Context, id string) (service.Performance, error)
}

// StrategyHandler serves strategy lifecycle endpoints.
type StrategyHandler struct {
	svc     StrategyLifecycle
	ownerID string
	logger  *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler. ownerID identifies the
// operator whose strategies this deployment manages.
func NewStrategyHandler(svc StrategyLifecycle, ownerID string, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		svc:     svc,
		ownerID: ownerID,
		logger:  logHandler(logger, "strategy"),
	}
}

// createStrategyRequest is the POST body for strategy creation.
type createStrategyRequest struct {
	Name            string `json:"name"`
	WalletID        string `json:"wallet_id"`
	SelectionRule   string `json:"selection_rule"`
	Category        string `json:"category"`
	Cadence         string `json:"cadence"`
	TokenCount      int    `json:"token_count"`
	TotalAllocation string `json:"total_allocation"`
}

// updateStrategyRequest is the PATCH body; absent fields keep their current
// values.
type updateStrategyRequest struct {
	SelectionRule   *string `json:"selection_rule,omitempty"`
	Category        *string `json:"category,omitempty"`
	Cadence         *string `json:"cadence,omitempty"`
	TokenCount      *int    `json:"token_count,omitempty"`
	TotalAllocation *string `json:"total_allocation,omitempty"`
}

// Create provisions and funds a new strategy.
// POST /api/strategies
func (h *StrategyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	allocation, err := decimal.NewFromString(body.TotalAllocation)
	if err != nil {
		writeError(w, http.StatusBadRequest, "total_allocation must be a decimal string")
		return
	}

	strategy, err := h.svc.Create(r.Context(), service.CreateRequest{
		OwnerID:       h.ownerID,
		Name:          body.Name,
		WalletID:      body.WalletID,
		SelectionRule: domain.SelectionRule(body.SelectionRule),
		Parameters: domain.StrategyParameters{
			Category:        body.Category,
			Cadence:         body.Cadence,
			TokenCount:      body.TokenCount,
			TotalAllocation: allocation,
		},
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "create failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, strategy)
}

// List returns the owner's active strategies.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.svc.List(r.Context(), h.ownerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if strategies == nil {
		strategies = []domain.Strategy{}
	}
	writeJSON(w, http.StatusOK, strategies)
}

// Get returns one strategy by id.
// GET /api/strategies/{id}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	strategy, err := h.svc.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

// Update merges new parameters into the strategy and re-executes it.
// PATCH /api/strategies/{id}
func (h *StrategyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var body updateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	current, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	params := current.Parameters
	if body.Category != nil {
		params.Category = *body.Category
	}
	if body.Cadence != nil {
		params.Cadence = *body.Cadence
	}
	if body.TokenCount != nil {
		params.TokenCount = *body.TokenCount
	}
	if body.TotalAllocation != nil {
		allocation, err := decimal.NewFromString(*body.TotalAllocation)
		if err != nil {
			writeError(w, http.StatusBadRequest, "total_allocation must be a decimal string")
			return
		}
		params.TotalAllocation = allocation
	}
	rule := domain.SelectionRule("")
	if body.SelectionRule != nil {
		rule = domain.SelectionRule(*body.SelectionRule)
	}

	strategy, err := h.svc.UpdateParameters(r.Context(), id, params, rule)
	if err != nil {
		h.logger.WarnContext(r.Context(), "update failed",
			slog.String("strategy_id", id),
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

// Delete removes a strategy.
// DELETE /api/strategies/{id}
func (h *StrategyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), pathParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pause stops the strategy's scheduled rebalances.
// POST /api/strategies/{id}/pause
func (h *StrategyHandler) Pause(w http.ResponseWriter, r *http.Request) {
	strategy, err := h.svc.Pause(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

// Resume re-arms a paused strategy.
// POST /api/strategies/{id}/resume
func (h *StrategyHandler) Resume(w http.ResponseWriter, r *http.Request) {
	strategy, err := h.svc.Resume(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

// Rebalance triggers a manual pass.
// POST /api/strategies/{id}/rebalance
func (h *StrategyHandler) Rebalance(w http.ResponseWriter, r *http.Request) {
	strategy, err := h.svc.Rebalance(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

// Performance reports current value against allocation.
// GET /api/strategies/{id}/performance
func (h *StrategyHandler) Performance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.svc.GetPerformance(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}
