package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/models"
)

// InvoiceAPI is the invoice service surface used over HTTP.
type InvoiceAPI interface {
	Generate(ctx context.Context, payerID string, period models.BillingPeriod) (*models.Invoice, error)
	RecordPayment(ctx context.Context, invoiceID string, amount float64, method string) (*models.Invoice, error)
	Get(ctx context.Context, invoiceID string) (*models.Invoice, error)
	ListForPayer(ctx context.Context, payerID string) ([]models.Invoice, error)
	ChargesForPayer(ctx context.Context, payerID string, limit int) ([]models.ChargeRecord, error)
	Location() *time.Location
}

// InvoiceHandler serves invoices, payments and charge history.
type InvoiceHandler struct {
	invoices InvoiceAPI
	logger   *zap.Logger
	now      func() time.Time
}

// NewInvoiceHandler builds handler.
func NewInvoiceHandler(invoices InvoiceAPI, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, logger: logger, now: time.Now}
}

type generateRequest struct {
	PayerID string `json:"payer_id"`
	Year    int    `json:"year"`
	Month   int    `json:"month"`
}

type paymentRequest struct {
	InvoiceID string  `json:"invoice_id"`
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
}

// Generate handles POST /invoices/generate. A missing year and month
// selects the current billing period.
func (h *InvoiceHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	period := models.BillingPeriod{Year: req.Year, Month: time.Month(req.Month)}
	if req.Year == 0 && req.Month == 0 {
		period = models.PeriodOf(h.now(), h.invoices.Location())
	}

	inv, err := h.invoices.Generate(r.Context(), req.PayerID, period)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// Invoices handles GET /invoices?id= and GET /invoices?payer_id=.
func (h *InvoiceHandler) Invoices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if id := strings.TrimSpace(query.Get("id")); id != "" {
		inv, err := h.invoices.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
		return
	}

	invoices, err := h.invoices.ListForPayer(r.Context(), query.Get("payer_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invoices": invoices,
	})
}

// Pay handles POST /invoices/payments.
func (h *InvoiceHandler) Pay(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.invoices.RecordPayment(r.Context(), req.InvoiceID, req.Amount, req.Method)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// Charges handles GET /charges?payer_id=&limit=.
func (h *InvoiceHandler) Charges(w http.ResponseWriter, r *http.Request) {
	charges, err := h.invoices.ChargesForPayer(r.Context(), r.URL.Query().Get("payer_id"), queryLimit(r, 100))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"charges": charges,
	})
}
