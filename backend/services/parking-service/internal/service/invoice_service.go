package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/metrics"
	"parkwise/backend/services/parking-service/internal/models"
	"parkwise/backend/services/parking-service/internal/repository"
)

const (
	// DefaultOverdueGrace is how long a charge may stay unpaid.
	DefaultOverdueGrace = 30 * 24 * time.Hour
	// DefaultOverdueSurchargeRate is the surcharge applied to overdue charges.
	DefaultOverdueSurchargeRate = 0.05

	moneyEpsilon = 1e-9
)

// ChargeStore reads and flags charge records.
type ChargeStore interface {
	ListByPayer(ctx context.Context, payerID string, limit int) ([]models.ChargeRecord, error)
	FlagOverdue(ctx context.Context, cutoff time.Time, rate float64) ([]models.ChargeRecord, error)
}

// InvoiceStore persists invoices.
type InvoiceStore interface {
	Upsert(ctx context.Context, id string, scope repository.InvoiceScope, build repository.InvoiceBuilder) (*models.Invoice, error)
	ApplyPayment(ctx context.Context, id string, plan repository.PaymentPlanner) (*models.Invoice, error)
	Get(ctx context.Context, id string) (*models.Invoice, error)
	ListByPayer(ctx context.Context, payerID string) ([]models.Invoice, error)
}

// InvoiceOptions configures billing.
type InvoiceOptions struct {
	Location             *time.Location
	OverdueGrace         time.Duration
	OverdueSurchargeRate float64
}

// InvoiceService aggregates charges into monthly invoices and applies
// payments to them.
type InvoiceService struct {
	charges  ChargeStore
	invoices InvoiceStore
	opts     InvoiceOptions
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewInvoiceService builds service. Zero options fall back to UTC and the
// default grace period and surcharge.
func NewInvoiceService(charges ChargeStore, invoices InvoiceStore, opts InvoiceOptions, m *metrics.Metrics, logger *zap.Logger) *InvoiceService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.OverdueGrace <= 0 {
		opts.OverdueGrace = DefaultOverdueGrace
	}
	if opts.OverdueSurchargeRate <= 0 {
		opts.OverdueSurchargeRate = DefaultOverdueSurchargeRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceService{
		charges:  charges,
		invoices: invoices,
		opts:     opts,
		metrics:  m,
		logger:   logger,
		now:      defaultNow,
	}
}

// WithClock replaces the time source.
func (s *InvoiceService) WithClock(now func() time.Time) *InvoiceService {
	if now != nil {
		s.now = now
	}
	return s
}

// Location is the billing time zone.
func (s *InvoiceService) Location() *time.Location {
	return s.opts.Location
}

// Generate builds or rebuilds the payer's invoice for period from the charges
// whose session started in that month. Payments already recorded are kept.
func (s *InvoiceService) Generate(ctx context.Context, payerID string, period models.BillingPeriod) (*models.Invoice, error) {
	payerID = strings.TrimSpace(payerID)
	if payerID == "" {
		return nil, fmt.Errorf("%w: payer id required", ErrInvalidArgument)
	}
	if err := period.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	from, to := period.Bounds(s.opts.Location)
	scope := repository.InvoiceScope{PayerID: payerID, From: from, To: to}
	now := s.now()
	inv, err := s.invoices.Upsert(ctx, models.InvoiceID(payerID, period), scope, func(current *models.Invoice, charges []models.ChargeRecord) (*models.Invoice, error) {
		next := summarize(payerID, period, charges)
		next.GeneratedAt = now
		if current != nil {
			next.GeneratedAt = current.GeneratedAt
			next.AmountPaid = math.Max(current.AmountPaid, next.AmountPaid)
		}
		next.UpdatedAt = now
		next.Reconcile()
		return &next, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice generated",
		zap.String("invoice_id", inv.ID),
		zap.Int("sessions", inv.TotalSessions),
		zap.Float64("balance_due", inv.BalanceDue),
		zap.String("status", string(inv.Status)),
	)
	return inv, nil
}

// RecordPayment adds amount to the invoice's paid total and marks the
// charges it fully covers as paid, oldest first.
func (s *InvoiceService) RecordPayment(ctx context.Context, invoiceID string, amount float64, method string) (*models.Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	method = strings.TrimSpace(method)
	switch {
	case invoiceID == "":
		return nil, fmt.Errorf("%w: invoice id required", ErrInvalidArgument)
	case math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0:
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrInvalidArgument)
	case method == "":
		return nil, fmt.Errorf("%w: payment method required", ErrInvalidArgument)
	}

	now := s.now()
	inv, err := s.invoices.ApplyPayment(ctx, invoiceID, func(current *models.Invoice, charges []models.ChargeRecord) (*repository.PaymentPlan, error) {
		next := *current
		next.AmountPaid += amount
		next.UpdatedAt = now
		paid := coveredCharges(charges, next.AmountPaid)
		next.Overdue = hasUnpaidOverdue(charges, paid)
		next.Reconcile()
		return &repository.PaymentPlan{
			Invoice:     &next,
			PaidCharges: paid,
			Method:      method,
			PaidAt:      now,
		}, nil
	})
	if errors.Is(err, repository.ErrInvoiceNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.ObservePayment(amount)
	s.logger.Info("payment recorded",
		zap.String("invoice_id", inv.ID),
		zap.Float64("amount", amount),
		zap.String("method", method),
		zap.Float64("balance_due", inv.BalanceDue),
		zap.String("status", string(inv.Status)),
	)
	return inv, nil
}

// Get returns an invoice by id.
func (s *InvoiceService) Get(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	inv, err := s.invoices.Get(ctx, strings.TrimSpace(invoiceID))
	if errors.Is(err, repository.ErrInvoiceNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
	}
	return inv, err
}

// ListForPayer returns the payer's invoices, newest period first.
func (s *InvoiceService) ListForPayer(ctx context.Context, payerID string) ([]models.Invoice, error) {
	payerID = strings.TrimSpace(payerID)
	if payerID == "" {
		return nil, fmt.Errorf("%w: payer id required", ErrInvalidArgument)
	}
	return s.invoices.ListByPayer(ctx, payerID)
}

// ChargesForPayer returns the payer's latest charges.
func (s *InvoiceService) ChargesForPayer(ctx context.Context, payerID string, limit int) ([]models.ChargeRecord, error) {
	payerID = strings.TrimSpace(payerID)
	if payerID == "" {
		return nil, fmt.Errorf("%w: payer id required", ErrInvalidArgument)
	}
	return s.charges.ListByPayer(ctx, payerID, limit)
}

// MarkOverdue flags unpaid charges past the grace period and regenerates
// the invoices covering them. It returns how many charges were flagged.
func (s *InvoiceService) MarkOverdue(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.OverdueGrace)
	flagged, err := s.charges.FlagOverdue(ctx, cutoff, s.opts.OverdueSurchargeRate)
	if err != nil {
		return 0, fmt.Errorf("flag overdue charges: %w", err)
	}
	s.metrics.AddOverdue(len(flagged))

	type invoiceKey struct {
		payerID string
		period  models.BillingPeriod
	}
	seen := make(map[invoiceKey]struct{})
	var errs []error
	for _, c := range flagged {
		key := invoiceKey{payerID: c.PayerID, period: models.PeriodOf(c.EntryTime, s.opts.Location)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, err := s.Generate(ctx, key.payerID, key.period); err != nil {
			errs = append(errs, fmt.Errorf("regenerate invoice %s: %w", models.InvoiceID(key.payerID, key.period), err))
		}
	}

	if len(flagged) > 0 {
		s.logger.Info("overdue charges flagged",
			zap.Int("charges", len(flagged)),
			zap.Int("invoices", len(seen)),
		)
	}
	return len(flagged), errors.Join(errs...)
}

func summarize(payerID string, period models.BillingPeriod, charges []models.ChargeRecord) models.Invoice {
	inv := models.Invoice{
		ID:        models.InvoiceID(payerID, period),
		PayerID:   payerID,
		Period:    period,
		ChargeIDs: make([]string, 0, len(charges)),
	}
	for _, c := range charges {
		inv.ChargeIDs = append(inv.ChargeIDs, c.ID)
		inv.TotalSessions++
		inv.TotalDurationMinutes += c.DurationMinutes
		inv.TotalCharges += c.Amount
		inv.TotalOverdueSurcharges += c.OverdueSurcharge
		inv.TotalDiscounts += c.Discount
		if c.Paid {
			inv.AmountPaid += c.Due()
		} else if c.Overdue {
			inv.Overdue = true
		}
	}
	return inv
}

// coveredCharges returns the unpaid charges that amountPaid fully covers once
// the already paid ones are accounted for. charges must be oldest first.
func coveredCharges(charges []models.ChargeRecord, amountPaid float64) []string {
	budget := amountPaid
	for _, c := range charges {
		if c.Paid {
			budget -= c.Due()
		}
	}
	var ids []string
	for _, c := range charges {
		if c.Paid {
			continue
		}
		due := c.Due()
		if budget+moneyEpsilon < due {
			break
		}
		budget -= due
		ids = append(ids, c.ID)
	}
	return ids
}

func hasUnpaidOverdue(charges []models.ChargeRecord, nowPaid []string) bool {
	paid := make(map[string]struct{}, len(nowPaid))
	for _, id := range nowPaid {
		paid[id] = struct{}{}
	}
	for _, c := range charges {
		if _, ok := paid[c.ID]; ok || c.Paid {
			continue
		}
		if c.Overdue {
			return true
		}
	}
	return false
}
