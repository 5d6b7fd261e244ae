package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	libdb "parkwise/backend/libs/db"
	"parkwise/backend/services/parking-service/internal/models"
)

const ratePolicyColumns = `id, lot_id, rate_type, price_per_hour, premium_price_per_hour, business_price_per_hour,
	max_daily_price, active, created_at, updated_at`

// RatePolicyRepository stores rate policies. At most one policy per
// (lot, rate type) is active; activation takes a transaction-scoped advisory
// lock on the pair and deactivates the others before writing.
type RatePolicyRepository struct {
	db *sql.DB
}

// NewRatePolicyRepository returns repository.
func NewRatePolicyRepository(db *sql.DB) *RatePolicyRepository {
	return &RatePolicyRepository{db: db}
}

// Create inserts policy. An active policy replaces the pair's previous one.
func (r *RatePolicyRepository) Create(ctx context.Context, policy *models.RatePolicy) error {
	return libdb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if policy.Active {
			if err := deactivatePair(ctx, tx, policy.LotID, policy.RateType, policy.ID); err != nil {
				return err
			}
		}
		const query = `
			INSERT INTO rate_policies (id, lot_id, rate_type, price_per_hour, premium_price_per_hour,
				business_price_per_hour, max_daily_price, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
			RETURNING created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query,
			policy.ID,
			policy.LotID,
			policy.RateType,
			policy.PricePerHour,
			policy.PremiumPricePerHour,
			policy.BusinessPricePerHour,
			policy.MaxDailyPrice,
			policy.Active,
		).Scan(&policy.CreatedAt, &policy.UpdatedAt)
	})
}

// Update locks the policy row, passes it to mutate and stores the result.
// mutate may reject the change by returning an error.
func (r *RatePolicyRepository) Update(ctx context.Context, id string, mutate func(models.RatePolicy) (models.RatePolicy, error)) (*models.RatePolicy, error) {
	var updated models.RatePolicy
	err := libdb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `SELECT ` + ratePolicyColumns + ` FROM rate_policies WHERE id = $1 FOR UPDATE`
		current, err := scanRatePolicy(tx.QueryRowContext(ctx, query, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRatePolicyNotFound
		}
		if err != nil {
			return err
		}

		next, err := mutate(*current)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.LotID = current.LotID
		next.RateType = current.RateType

		if next.Active && !current.Active {
			if err := deactivatePair(ctx, tx, next.LotID, next.RateType, next.ID); err != nil {
				return err
			}
		}

		const update = `
			UPDATE rate_policies
			SET price_per_hour = $2,
			    premium_price_per_hour = $3,
			    business_price_per_hour = $4,
			    max_daily_price = $5,
			    active = $6,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING created_at, updated_at
		`
		if err := tx.QueryRowContext(ctx, update,
			next.ID,
			next.PricePerHour,
			next.PremiumPricePerHour,
			next.BusinessPricePerHour,
			next.MaxDailyPrice,
			next.Active,
		).Scan(&next.CreatedAt, &next.UpdatedAt); err != nil {
			return fmt.Errorf("update rate policy: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetActive returns the active policy for the pair.
func (r *RatePolicyRepository) GetActive(ctx context.Context, lotID string, rateType models.RateType) (*models.RatePolicy, error) {
	query := `SELECT ` + ratePolicyColumns + ` FROM rate_policies WHERE lot_id = $1 AND rate_type = $2 AND active`
	policy, err := scanRatePolicy(r.db.QueryRowContext(ctx, query, lotID, rateType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRatePolicyNotFound
	}
	return policy, err
}

// GetByID returns a policy whether active or not.
func (r *RatePolicyRepository) GetByID(ctx context.Context, id string) (*models.RatePolicy, error) {
	query := `SELECT ` + ratePolicyColumns + ` FROM rate_policies WHERE id = $1`
	policy, err := scanRatePolicy(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRatePolicyNotFound
	}
	return policy, err
}

// ListByLot returns every policy of a lot, or of all lots when lotID is empty.
func (r *RatePolicyRepository) ListByLot(ctx context.Context, lotID string) ([]models.RatePolicy, error) {
	query := `SELECT ` + ratePolicyColumns + `
		FROM rate_policies
		WHERE $1 = '' OR lot_id = $1
		ORDER BY lot_id, rate_type, created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []models.RatePolicy
	for rows.Next() {
		p, err := scanRatePolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return policies, nil
}

func deactivatePair(ctx context.Context, tx *sql.Tx, lotID string, rateType models.RateType, keepID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lotID+"/"+string(rateType)); err != nil {
		return fmt.Errorf("lock rate policy pair: %w", err)
	}
	const query = `
		UPDATE rate_policies
		SET active = false, updated_at = NOW()
		WHERE lot_id = $1 AND rate_type = $2 AND active AND id <> $3
	`
	if _, err := tx.ExecContext(ctx, query, lotID, rateType, keepID); err != nil {
		return fmt.Errorf("deactivate rate policies: %w", err)
	}
	return nil
}

func scanRatePolicy(row rowScanner) (*models.RatePolicy, error) {
	var p models.RatePolicy
	if err := row.Scan(
		&p.ID,
		&p.LotID,
		&p.RateType,
		&p.PricePerHour,
		&p.PremiumPricePerHour,
		&p.BusinessPricePerHour,
		&p.MaxDailyPrice,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}
