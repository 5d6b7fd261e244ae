package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/models"
	"parkwise/backend/services/parking-service/internal/service"
)

// RatePolicyAPI is the rate policy service surface used over HTTP.
type RatePolicyAPI interface {
	Create(ctx context.Context, input service.RatePolicyInput) (*models.RatePolicy, error)
	Update(ctx context.Context, id string, patch models.RatePolicyPatch) (*models.RatePolicy, error)
	Get(ctx context.Context, id string) (*models.RatePolicy, error)
	List(ctx context.Context, lotID string) ([]models.RatePolicy, error)
}

// RatePolicyHandler serves /rate-policies.
type RatePolicyHandler struct {
	policies RatePolicyAPI
	logger   *zap.Logger
}

// NewRatePolicyHandler builds handler.
func NewRatePolicyHandler(policies RatePolicyAPI, logger *zap.Logger) *RatePolicyHandler {
	return &RatePolicyHandler{policies: policies, logger: logger}
}

// List handles GET /rate-policies?lot_id= and GET /rate-policies?id=.
func (h *RatePolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Has("id") {
		policy, err := h.policies.Get(r.Context(), query.Get("id"))
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, policy)
		return
	}

	policies, err := h.policies.List(r.Context(), query.Get("lot_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rate_policies": policies,
	})
}

// Create handles POST /rate-policies.
func (h *RatePolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.RatePolicyInput
	if !decodeJSON(w, r, &input) {
		return
	}
	policy, err := h.policies.Create(r.Context(), input)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

// Update handles PATCH /rate-policies?id=.
func (h *RatePolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch models.RatePolicyPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	policy, err := h.policies.Update(r.Context(), r.URL.Query().Get("id"), patch)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}
