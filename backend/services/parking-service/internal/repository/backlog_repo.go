package repository

import (
	"context"
	"database/sql"

	"parkwise/backend/services/parking-service/internal/models"
)

// BacklogRepository records sessions whose exit could not be priced.
type BacklogRepository struct {
	db *sql.DB
}

// NewBacklogRepository returns repository.
func NewBacklogRepository(db *sql.DB) *BacklogRepository {
	return &BacklogRepository{db: db}
}

// Add stores entry and fills its id and creation time.
func (r *BacklogRepository) Add(ctx context.Context, entry *models.UnpricedSession) error {
	const query = `
		INSERT INTO unpriced_sessions (session_id, payer_id, lot_id, rate_type, reason, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, false, NOW())
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		entry.SessionID,
		entry.PayerID,
		entry.LotID,
		entry.RateType,
		entry.Reason,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ResolveSession closes every open entry for sessionID.
func (r *BacklogRepository) ResolveSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE unpriced_sessions SET resolved = true WHERE session_id = $1 AND NOT resolved`, sessionID)
	return err
}

// ListOpen returns unresolved entries, oldest first.
func (r *BacklogRepository) ListOpen(ctx context.Context, limit int) ([]models.UnpricedSession, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, session_id, payer_id, lot_id, rate_type, reason, resolved, created_at
		FROM unpriced_sessions
		WHERE NOT resolved
		ORDER BY created_at, id
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.UnpricedSession
	for rows.Next() {
		var e models.UnpricedSession
		if err := rows.Scan(&e.ID, &e.SessionID, &e.PayerID, &e.LotID, &e.RateType, &e.Reason, &e.Resolved, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
