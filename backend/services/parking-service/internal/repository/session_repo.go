package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	libdb "parkwise/backend/libs/db"
	"parkwise/backend/services/parking-service/internal/models"
)

const sessionColumns = `id, payer_id, vehicle_id, lot_id, gate_id, rate_type, status, entry_time, exit_time,
	duration_minutes, agent_id, exit_agent_id, created_at, updated_at`

// SessionRepository handles persistence of parking sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Open inserts an active session unless the payer already has one. The
// partial unique index on (payer_id) WHERE status = 'active' makes the check
// and the insert a single conditional write.
func (r *SessionRepository) Open(ctx context.Context, session *models.ParkingSession) error {
	const query = `
		INSERT INTO parking_sessions (id, payer_id, vehicle_id, lot_id, gate_id, rate_type, status, entry_time, agent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, NOW(), NOW())
		ON CONFLICT (payer_id) WHERE status = 'active' DO NOTHING
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		session.ID,
		session.PayerID,
		session.VehicleID,
		session.LotID,
		session.GateID,
		session.RateType,
		session.EntryTime,
		session.AgentID,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrActiveSessionExists
	}
	if err != nil {
		return err
	}
	session.Status = models.SessionStatusActive
	return nil
}

// Active returns the payer's open session.
func (r *SessionRepository) Active(ctx context.Context, payerID string) (*models.ParkingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM parking_sessions WHERE payer_id = $1 AND status = 'active'`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, payerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// CompleteWithCharge closes session and stores its charge in one transaction.
// The update only matches while the session is still active, so a concurrent
// exit makes this call fail with ErrSessionNotFound and nothing is written.
func (r *SessionRepository) CompleteWithCharge(ctx context.Context, session *models.ParkingSession, charge *models.ChargeRecord) error {
	return libdb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		const update = `
			UPDATE parking_sessions
			SET status = 'completed',
			    exit_time = $2,
			    duration_minutes = $3,
			    exit_agent_id = $4,
			    updated_at = NOW()
			WHERE id = $1 AND status = 'active'
			RETURNING updated_at
		`
		err := tx.QueryRowContext(ctx, update,
			session.ID,
			session.ExitTime,
			session.DurationMinutes,
			session.ExitAgentID,
		).Scan(&session.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		session.Status = models.SessionStatusCompleted

		if err := insertCharge(ctx, tx, charge); err != nil {
			return fmt.Errorf("insert charge: %w", err)
		}
		return nil
	})
}

// ListByPayer returns the payer's latest sessions.
func (r *SessionRepository) ListByPayer(ctx context.Context, payerID string, limit int) ([]models.ParkingSession, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + `
		FROM parking_sessions
		WHERE payer_id = $1
		ORDER BY entry_time DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, payerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ParkingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func scanSession(row rowScanner) (*models.ParkingSession, error) {
	var s models.ParkingSession
	if err := row.Scan(
		&s.ID,
		&s.PayerID,
		&s.VehicleID,
		&s.LotID,
		&s.GateID,
		&s.RateType,
		&s.Status,
		&s.EntryTime,
		&s.ExitTime,
		&s.DurationMinutes,
		&s.AgentID,
		&s.ExitAgentID,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
