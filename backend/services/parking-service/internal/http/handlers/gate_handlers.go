package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/http/middleware"
	"parkwise/backend/services/parking-service/internal/models"
	"parkwise/backend/services/parking-service/internal/service"
)

// GateAPI is the gate service surface used over HTTP.
type GateAPI interface {
	Entry(ctx context.Context, input service.EntryInput) (*models.ParkingSession, error)
	Exit(ctx context.Context, input service.ExitInput) (*service.ExitResult, error)
	ActiveSession(ctx context.Context, payerID string) (*models.ParkingSession, error)
	SessionsForPayer(ctx context.Context, payerID string, limit int) ([]models.ParkingSession, error)
}

// GateHandler serves gate scans for terminals that do not hold a socket.
type GateHandler struct {
	gates  GateAPI
	logger *zap.Logger
}

// NewGateHandler builds handler.
func NewGateHandler(gates GateAPI, logger *zap.Logger) *GateHandler {
	return &GateHandler{gates: gates, logger: logger}
}

// Entry handles POST /gate/entry.
func (h *GateHandler) Entry(w http.ResponseWriter, r *http.Request) {
	var input service.EntryInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.AgentID, _ = middleware.AgentIDFromContext(r.Context())

	session, err := h.gates.Entry(r.Context(), input)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// Exit handles POST /gate/exit.
func (h *GateHandler) Exit(w http.ResponseWriter, r *http.Request) {
	var input service.ExitInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.AgentID, _ = middleware.AgentIDFromContext(r.Context())

	result, err := h.gates.Exit(r.Context(), input)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ActiveSession handles GET /sessions/active?payer_id=.
func (h *GateHandler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.gates.ActiveSession(r.Context(), r.URL.Query().Get("payer_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Sessions handles GET /sessions?payer_id=&limit=.
func (h *GateHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.gates.SessionsForPayer(r.Context(), r.URL.Query().Get("payer_id"), queryLimit(r, 50))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}
