package repository

import (
	"context"
	"database/sql"
	"errors"

	"parkwise/backend/services/parking-service/internal/models"
)

// RegistryRepository answers payer and vehicle lookups. The registry tables
// are owned elsewhere; this side only reads them.
type RegistryRepository struct {
	db *sql.DB
}

// NewRegistryRepository returns repository.
func NewRegistryRepository(db *sql.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// PayerTier returns the payer's subscription tier.
func (r *RegistryRepository) PayerTier(ctx context.Context, payerID string) (models.Tier, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT tier FROM payers WHERE id = $1`, payerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPayerNotFound
	}
	if err != nil {
		return "", err
	}
	return models.ParseTier(raw)
}

// VehicleOwner returns the payer a vehicle is registered to.
func (r *RegistryRepository) VehicleOwner(ctx context.Context, vehicleID string) (string, error) {
	var payerID string
	err := r.db.QueryRowContext(ctx, `SELECT payer_id FROM vehicles WHERE id = $1`, vehicleID).Scan(&payerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrVehicleNotFound
	}
	return payerID, err
}
