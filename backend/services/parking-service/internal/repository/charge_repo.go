package repository

import (
	"context"
	"database/sql"
	"time"

	"parkwise/backend/services/parking-service/internal/models"
)

const chargeColumns = `id, session_id, payer_id, lot_id, rate_type, policy_id, entry_time, duration_minutes, tier,
	amount, discount, paid, payment_method, paid_at, overdue, overdue_surcharge, created_at`

// ChargeRepository reads and flags charge records. Charges are created by
// SessionRepository.CompleteWithCharge.
type ChargeRepository struct {
	db *sql.DB
}

// NewChargeRepository returns repository.
func NewChargeRepository(db *sql.DB) *ChargeRepository {
	return &ChargeRepository{db: db}
}

func insertCharge(ctx context.Context, q querier, c *models.ChargeRecord) error {
	const query = `
		INSERT INTO charge_records (id, session_id, payer_id, lot_id, rate_type, policy_id, entry_time,
			duration_minutes, tier, amount, discount, paid, payment_method, overdue, overdue_surcharge, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, '', false, 0, $12)
	`
	_, err := q.ExecContext(ctx, query,
		c.ID,
		c.SessionID,
		c.PayerID,
		c.LotID,
		c.RateType,
		c.PolicyID,
		c.EntryTime,
		c.DurationMinutes,
		c.Tier,
		c.Amount,
		c.Discount,
		c.CreatedAt,
	)
	return err
}

// chargesInScope returns the payer's charges whose session started in
// [scope.From, scope.To), oldest first.
func chargesInScope(ctx context.Context, q querier, scope InvoiceScope) ([]models.ChargeRecord, error) {
	query := `SELECT ` + chargeColumns + `
		FROM charge_records
		WHERE payer_id = $1 AND entry_time >= $2 AND entry_time < $3
		ORDER BY entry_time, id`
	return queryCharges(ctx, q, query, scope.PayerID, scope.From, scope.To)
}

// ListByPayer returns the payer's latest charges.
func (r *ChargeRepository) ListByPayer(ctx context.Context, payerID string, limit int) ([]models.ChargeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + chargeColumns + `
		FROM charge_records
		WHERE payer_id = $1
		ORDER BY entry_time DESC, id DESC
		LIMIT $2`
	return queryCharges(ctx, r.db, query, payerID, limit)
}

// FlagOverdue marks unpaid charges created before cutoff as overdue and adds
// a surcharge of rate times the amount. Already flagged charges are skipped.
// It returns the charges it changed.
func (r *ChargeRepository) FlagOverdue(ctx context.Context, cutoff time.Time, rate float64) ([]models.ChargeRecord, error) {
	query := `
		UPDATE charge_records
		SET overdue = true,
		    overdue_surcharge = amount * $2
		WHERE paid = false AND overdue = false AND created_at < $1
		RETURNING ` + chargeColumns
	return queryCharges(ctx, r.db, query, cutoff, rate)
}

func markChargesPaid(ctx context.Context, q querier, ids []string, method string, paidAt time.Time) error {
	const query = `
		UPDATE charge_records
		SET paid = true, payment_method = $2, paid_at = $3
		WHERE id = $1 AND paid = false
	`
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, query, id, method, paidAt); err != nil {
			return err
		}
	}
	return nil
}

func queryCharges(ctx context.Context, q querier, query string, args ...any) ([]models.ChargeRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []models.ChargeRecord
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return charges, nil
}

func scanCharge(row rowScanner) (*models.ChargeRecord, error) {
	var c models.ChargeRecord
	if err := row.Scan(
		&c.ID,
		&c.SessionID,
		&c.PayerID,
		&c.LotID,
		&c.RateType,
		&c.PolicyID,
		&c.EntryTime,
		&c.DurationMinutes,
		&c.Tier,
		&c.Amount,
		&c.Discount,
		&c.Paid,
		&c.PaymentMethod,
		&c.PaidAt,
		&c.Overdue,
		&c.OverdueSurcharge,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
