package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	libdb "parkwise/backend/libs/db"
	"parkwise/backend/services/parking-service/internal/models"
)

const invoiceColumns = `id, payer_id, period_year, period_month, charge_ids, total_sessions, total_duration_minutes,
	total_charges, total_overdue_surcharges, total_discounts, amount_paid, balance_due, overdue, status,
	generated_at, updated_at`

// InvoiceScope selects the charges an invoice covers: the payer's sessions
// that started in [From, To).
type InvoiceScope struct {
	PayerID string
	From    time.Time
	To      time.Time
}

// InvoiceBuilder produces the invoice to store from the locked current row,
// nil when the invoice does not exist yet, and the charges in scope read
// after the lock was taken.
type InvoiceBuilder func(current *models.Invoice, charges []models.ChargeRecord) (*models.Invoice, error)

// PaymentPlan is the outcome of applying a payment to a locked invoice.
type PaymentPlan struct {
	Invoice     *models.Invoice
	PaidCharges []string
	Method      string
	PaidAt      time.Time
}

// PaymentPlanner decides how a payment changes inv and which of its charges
// become paid.
type PaymentPlanner func(inv *models.Invoice, charges []models.ChargeRecord) (*PaymentPlan, error)

// InvoiceRepository stores invoices keyed by their deterministic id.
type InvoiceRepository struct {
	db *sql.DB
}

// NewInvoiceRepository returns repository.
func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Upsert locks the invoice row if it exists, reads the charges in scope and
// hands both to build, then writes the result. Concurrent regenerations and
// payments on one invoice serialize on the row lock, so the charges seen by
// build include every payment committed before it.
func (r *InvoiceRepository) Upsert(ctx context.Context, id string, scope InvoiceScope, build InvoiceBuilder) (*models.Invoice, error) {
	var stored *models.Invoice
	err := libdb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := r.lock(ctx, tx, id)
		if err != nil && !errors.Is(err, ErrInvoiceNotFound) {
			return err
		}
		charges, err := chargesInScope(ctx, tx, scope)
		if err != nil {
			return fmt.Errorf("list invoice charges: %w", err)
		}
		next, err := build(current, charges)
		if err != nil {
			return err
		}
		if err := r.write(ctx, tx, next); err != nil {
			return err
		}
		stored = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ApplyPayment locks the invoice and its charges, asks plan for the new state
// and stores it together with the charges it marks paid.
func (r *InvoiceRepository) ApplyPayment(ctx context.Context, id string, plan PaymentPlanner) (*models.Invoice, error) {
	var stored *models.Invoice
	err := libdb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := r.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		query := `SELECT ` + chargeColumns + `
			FROM charge_records
			WHERE id = ANY($1)
			ORDER BY entry_time, id
			FOR UPDATE`
		charges, err := queryCharges(ctx, tx, query, current.ChargeIDs)
		if err != nil {
			return fmt.Errorf("lock invoice charges: %w", err)
		}

		p, err := plan(current, charges)
		if err != nil {
			return err
		}
		if err := markChargesPaid(ctx, tx, p.PaidCharges, p.Method, p.PaidAt); err != nil {
			return fmt.Errorf("mark charges paid: %w", err)
		}
		if err := r.write(ctx, tx, p.Invoice); err != nil {
			return err
		}
		stored = p.Invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Get returns an invoice by id.
func (r *InvoiceRepository) Get(ctx context.Context, id string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

// ListByPayer returns the payer's invoices, newest period first.
func (r *InvoiceRepository) ListByPayer(ctx context.Context, payerID string) ([]models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE payer_id = $1
		ORDER BY period_year DESC, period_month DESC`
	rows, err := r.db.QueryContext(ctx, query, payerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *InvoiceRepository) lock(ctx context.Context, tx *sql.Tx, id string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	inv, err := r.scan(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

func (r *InvoiceRepository) write(ctx context.Context, tx *sql.Tx, inv *models.Invoice) error {
	const query = `
		INSERT INTO invoices (id, payer_id, period_year, period_month, charge_ids, total_sessions,
			total_duration_minutes, total_charges, total_overdue_surcharges, total_discounts, amount_paid,
			balance_due, overdue, status, generated_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			charge_ids = EXCLUDED.charge_ids,
			total_sessions = EXCLUDED.total_sessions,
			total_duration_minutes = EXCLUDED.total_duration_minutes,
			total_charges = EXCLUDED.total_charges,
			total_overdue_surcharges = EXCLUDED.total_overdue_surcharges,
			total_discounts = EXCLUDED.total_discounts,
			amount_paid = EXCLUDED.amount_paid,
			balance_due = EXCLUDED.balance_due,
			overdue = EXCLUDED.overdue,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`
	chargeIDs := inv.ChargeIDs
	if chargeIDs == nil {
		chargeIDs = []string{}
	}
	_, err := tx.ExecContext(ctx, query,
		inv.ID,
		inv.PayerID,
		inv.Period.Year,
		int(inv.Period.Month),
		chargeIDs,
		inv.TotalSessions,
		inv.TotalDurationMinutes,
		inv.TotalCharges,
		inv.TotalOverdueSurcharges,
		inv.TotalDiscounts,
		inv.AmountPaid,
		inv.BalanceDue,
		inv.Overdue,
		inv.Status,
		inv.GeneratedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("write invoice: %w", err)
	}
	return nil
}

// pgtype.Map caches scan plans and is not safe for concurrent use.
func (r *InvoiceRepository) scan(row rowScanner) (*models.Invoice, error) {
	typeMap := pgtype.NewMap()
	var (
		inv   models.Invoice
		month int
	)
	if err := row.Scan(
		&inv.ID,
		&inv.PayerID,
		&inv.Period.Year,
		&month,
		typeMap.SQLScanner(&inv.ChargeIDs),
		&inv.TotalSessions,
		&inv.TotalDurationMinutes,
		&inv.TotalCharges,
		&inv.TotalOverdueSurcharges,
		&inv.TotalDiscounts,
		&inv.AmountPaid,
		&inv.BalanceDue,
		&inv.Overdue,
		&inv.Status,
		&inv.GeneratedAt,
		&inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.Period.Month = time.Month(month)
	return &inv, nil
}
