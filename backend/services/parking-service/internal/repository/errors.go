package repository

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrSessionNotFound indicates there is no matching active session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrActiveSessionExists indicates the payer already has an active session.
	ErrActiveSessionExists = errors.New("active session already exists")
	// ErrRatePolicyNotFound indicates a missing policy row or no active policy.
	ErrRatePolicyNotFound = errors.New("rate policy not found")
	// ErrInvoiceNotFound indicates a missing invoice row.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrPayerNotFound indicates the registry has no such payer.
	ErrPayerNotFound = errors.New("payer not found")
	// ErrVehicleNotFound indicates the registry has no such vehicle.
	ErrVehicleNotFound = errors.New("vehicle not found")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}
