package models

import (
	"fmt"
	"time"
)

// PaymentStatus of an invoice.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusOverdue PaymentStatus = "OVERDUE"
)

// PaymentStatusFor derives the status from the balance, the amount paid and
// whether any covered charge is overdue.
func PaymentStatusFor(balanceDue, amountPaid float64, overdue bool) PaymentStatus {
	switch {
	case balanceDue <= 0:
		return PaymentStatusPaid
	case overdue:
		return PaymentStatusOverdue
	case amountPaid > 0:
		return PaymentStatusPartial
	default:
		return PaymentStatusPending
	}
}

// BillingPeriod is a calendar month.
type BillingPeriod struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// PeriodOf returns the billing period containing t in loc.
func PeriodOf(t time.Time, loc *time.Location) BillingPeriod {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return BillingPeriod{Year: local.Year(), Month: local.Month()}
}

// Validate rejects months outside 1..12 and non-positive years.
func (p BillingPeriod) Validate() error {
	if p.Year <= 0 {
		return fmt.Errorf("billing period: invalid year %d", p.Year)
	}
	if p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("billing period: invalid month %d", p.Month)
	}
	return nil
}

// Bounds returns the half-open interval [start, end) of the month in loc.
func (p BillingPeriod) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

func (p BillingPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// InvoiceID is the deterministic identifier of a payer's invoice for period.
func InvoiceID(payerID string, period BillingPeriod) string {
	return fmt.Sprintf("%s-%s", payerID, period)
}

// Invoice is the monthly roll-up of a payer's charges.
type Invoice struct {
	ID                     string        `db:"id" json:"id"`
	PayerID                string        `db:"payer_id" json:"payer_id"`
	Period                 BillingPeriod `json:"period"`
	ChargeIDs              []string      `db:"charge_ids" json:"charge_ids"`
	TotalSessions          int           `db:"total_sessions" json:"total_sessions"`
	TotalDurationMinutes   int64         `db:"total_duration_minutes" json:"total_duration_minutes"`
	TotalCharges           float64       `db:"total_charges" json:"total_charges"`
	TotalOverdueSurcharges float64       `db:"total_overdue_surcharges" json:"total_overdue_surcharges"`
	TotalDiscounts         float64       `db:"total_discounts" json:"total_discounts"`
	AmountPaid             float64       `db:"amount_paid" json:"amount_paid"`
	BalanceDue             float64       `db:"balance_due" json:"balance_due"`
	Overdue                bool          `db:"overdue" json:"overdue"`
	Status                 PaymentStatus `db:"status" json:"status"`
	GeneratedAt            time.Time     `db:"generated_at" json:"generated_at"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
}

// TotalDue is the gross amount billed, before payments.
func (inv *Invoice) TotalDue() float64 {
	return inv.TotalCharges + inv.TotalOverdueSurcharges
}

// Reconcile recomputes the balance and status from the totals and the amount
// paid. The balance never goes below zero.
func (inv *Invoice) Reconcile() {
	balance := inv.TotalDue() - inv.AmountPaid
	if balance < 0 {
		balance = 0
	}
	inv.BalanceDue = balance
	inv.Status = PaymentStatusFor(balance, inv.AmountPaid, inv.Overdue)
}
