package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/models"
)

// BacklogLister lists sessions whose exit could not be priced.
type BacklogLister interface {
	ListOpen(ctx context.Context, limit int) ([]models.UnpricedSession, error)
}

// NewBacklogHandler returns GET /admin/backlog handler.
func NewBacklogHandler(backlog BacklogLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := backlog.ListOpen(r.Context(), queryLimit(r, 100))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"unpriced_sessions": entries,
		})
	}
}
