package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/models"
	"parkwise/backend/services/parking-service/internal/service"
)

type stubGate struct {
	entryInput service.EntryInput
	entryErr   error
	exitErr    error
	limit      int
}

func (s *stubGate) Entry(_ context.Context, input service.EntryInput) (*models.ParkingSession, error) {
	s.entryInput = input
	if s.entryErr != nil {
		return nil, s.entryErr
	}
	return &models.ParkingSession{ID: "s-1", PayerID: "payer-1", Status: models.SessionStatusActive}, nil
}

func (s *stubGate) Exit(_ context.Context, _ service.ExitInput) (*service.ExitResult, error) {
	if s.exitErr != nil {
		return nil, s.exitErr
	}
	return &service.ExitResult{
		Session: &models.ParkingSession{ID: "s-1", Status: models.SessionStatusCompleted},
		Charge:  &models.ChargeRecord{ID: "c-1", Amount: 12.5},
	}, nil
}

func (s *stubGate) ActiveSession(_ context.Context, payerID string) (*models.ParkingSession, error) {
	if payerID == "" {
		return nil, fmt.Errorf("%w: payer id required", service.ErrInvalidArgument)
	}
	return nil, fmt.Errorf("%w: payer %s", service.ErrNoActiveSession, payerID)
}

func (s *stubGate) SessionsForPayer(_ context.Context, _ string, limit int) ([]models.ParkingSession, error) {
	s.limit = limit
	return []models.ParkingSession{{ID: "s-1"}}, nil
}

type stubInvoices struct {
	period models.BillingPeriod
	payErr error
	getErr error
}

func (s *stubInvoices) Generate(_ context.Context, payerID string, period models.BillingPeriod) (*models.Invoice, error) {
	s.period = period
	return &models.Invoice{ID: models.InvoiceID(payerID, period), PayerID: payerID}, nil
}

func (s *stubInvoices) RecordPayment(_ context.Context, invoiceID string, amount float64, _ string) (*models.Invoice, error) {
	if s.payErr != nil {
		return nil, s.payErr
	}
	return &models.Invoice{ID: invoiceID, AmountPaid: amount}, nil
}

func (s *stubInvoices) Get(_ context.Context, invoiceID string) (*models.Invoice, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &models.Invoice{ID: invoiceID}, nil
}

func (s *stubInvoices) ListForPayer(_ context.Context, _ string) ([]models.Invoice, error) {
	return []models.Invoice{{ID: "a"}, {ID: "b"}}, nil
}

func (s *stubInvoices) ChargesForPayer(_ context.Context, _ string, _ int) ([]models.ChargeRecord, error) {
	return nil, errors.New("connection reset")
}

func (s *stubInvoices) Location() *time.Location { return time.UTC }

type stubPolicies struct {
	lotID string
}

func (s *stubPolicies) Create(_ context.Context, input service.RatePolicyInput) (*models.RatePolicy, error) {
	return &models.RatePolicy{ID: "p-new", LotID: input.LotID}, nil
}

func (s *stubPolicies) Update(_ context.Context, id string, _ models.RatePolicyPatch) (*models.RatePolicy, error) {
	return &models.RatePolicy{ID: id}, nil
}

func (s *stubPolicies) Get(_ context.Context, id string) (*models.RatePolicy, error) {
	if id == "p-1" {
		return &models.RatePolicy{ID: "p-1", LotID: "lot-1", PricePerHour: 10}, nil
	}
	if id == "" {
		return nil, fmt.Errorf("%w: policy id required", service.ErrInvalidArgument)
	}
	return nil, fmt.Errorf("%w: policy %s", service.ErrRatePolicyNotFound, id)
}

func (s *stubPolicies) List(_ context.Context, lotID string) ([]models.RatePolicy, error) {
	s.lotID = lotID
	return []models.RatePolicy{{ID: "p-1", LotID: lotID}}, nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGateEntry(t *testing.T) {
	gates := &stubGate{}
	h := NewGateHandler(gates, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/gate/entry", strings.NewReader(`{"token":"tok","lot_id":"lot-1","gate_id":"g-1"}`))
	h.Entry(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "tok", gates.entryInput.Token)
	assert.Equal(t, "lot-1", gates.entryInput.LotID)
	assert.Empty(t, gates.entryInput.AgentID)
}

func TestGateErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrMalformedToken, http.StatusBadRequest, service.CodeMalformed},
		{service.ErrTamperedToken, http.StatusUnauthorized, service.CodeTampered},
		{service.ErrExpiredToken, http.StatusUnauthorized, service.CodeExpired},
		{service.ErrActiveSessionExists, http.StatusConflict, service.CodeConflict},
		{service.ErrNoActiveSession, http.StatusNotFound, service.CodeNotFound},
		{service.ErrChargeComputationFailed, http.StatusUnprocessableEntity, service.CodeChargeComputationFailed},
		{errors.New("boom"), http.StatusInternalServerError, service.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := NewGateHandler(&stubGate{exitErr: tc.err}, zap.NewNop())
			rec := httptest.NewRecorder()
			h.Exit(rec, httptest.NewRequest(http.MethodPost, "/gate/exit", strings.NewReader(`{"token":"tok"}`)))

			assert.Equal(t, tc.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.code, body.Code)
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body.Error)
			}
		})
	}
}

func TestGateRejectsBadJSON(t *testing.T) {
	h := NewGateHandler(&stubGate{}, zap.NewNop())
	rec := httptest.NewRecorder()
	h.Entry(rec, httptest.NewRequest(http.MethodPost, "/gate/entry", strings.NewReader(`{"token":`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.CodeInvalidArgument, decodeError(t, rec).Code)
}

func TestSessionsQueries(t *testing.T) {
	gates := &stubGate{}
	h := NewGateHandler(gates, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ActiveSession(rec, httptest.NewRequest(http.MethodGet, "/sessions/active?payer_id=p-9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ActiveSession(rec, httptest.NewRequest(http.MethodGet, "/sessions/active", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Sessions(rec, httptest.NewRequest(http.MethodGet, "/sessions?payer_id=p-1&limit=9999", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxListLimit, gates.limit)
}

func TestRatePolicyReads(t *testing.T) {
	stub := &stubPolicies{}
	h := NewRatePolicyHandler(stub, zap.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/rate-policies?id=p-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var policy models.RatePolicy
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&policy))
	assert.Equal(t, "p-1", policy.ID)
	assert.Equal(t, 10.0, policy.PricePerHour)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/rate-policies?id=p-9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/rate-policies?id=", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/rate-policies?lot_id=lot-7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lot-7", stub.lotID)
	assert.Contains(t, rec.Body.String(), `"rate_policies"`)
}

func TestInvoiceGenerateDefaultsToCurrentPeriod(t *testing.T) {
	invoices := &stubInvoices{}
	h := NewInvoiceHandler(invoices, zap.NewNop())
	h.now = func() time.Time { return time.Date(2024, time.March, 31, 23, 0, 0, 0, time.UTC) }

	rec := httptest.NewRecorder()
	h.Generate(rec, httptest.NewRequest(http.MethodPost, "/invoices/generate", strings.NewReader(`{"payer_id":"p-1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.BillingPeriod{Year: 2024, Month: time.March}, invoices.period)

	rec = httptest.NewRecorder()
	h.Generate(rec, httptest.NewRequest(http.MethodPost, "/invoices/generate", strings.NewReader(`{"payer_id":"p-1","year":2023,"month":12}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.BillingPeriod{Year: 2023, Month: time.December}, invoices.period)
}

func TestInvoiceReadsAndPayments(t *testing.T) {
	invoices := &stubInvoices{}
	h := NewInvoiceHandler(invoices, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Invoices(rec, httptest.NewRequest(http.MethodGet, "/invoices?payer_id=p-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Invoices []models.Invoice `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Invoices, 2)

	invoices.getErr = service.ErrInvoiceNotFound
	rec = httptest.NewRecorder()
	h.Invoices(rec, httptest.NewRequest(http.MethodGet, "/invoices?id=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Pay(rec, httptest.NewRequest(http.MethodPost, "/invoices/payments", strings.NewReader(`{"invoice_id":"inv-1","amount":20,"method":"card"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	invoices.payErr = fmt.Errorf("%w: amount must be positive", service.ErrInvalidArgument)
	rec = httptest.NewRecorder()
	h.Pay(rec, httptest.NewRequest(http.MethodPost, "/invoices/payments", strings.NewReader(`{"invoice_id":"inv-1","amount":-1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Charges(rec, httptest.NewRequest(http.MethodGet, "/charges?payer_id=p-1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type stubBacklog struct{ limit int }

func (s *stubBacklog) ListOpen(_ context.Context, limit int) ([]models.UnpricedSession, error) {
	s.limit = limit
	return []models.UnpricedSession{{SessionID: "s-1", Reason: "no active rate policy"}}, nil
}

func TestBacklogHandler(t *testing.T) {
	backlog := &stubBacklog{}
	rec := httptest.NewRecorder()
	NewBacklogHandler(backlog, zap.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/admin/backlog?limit=5", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, backlog.limit)
	assert.Contains(t, rec.Body.String(), `"unpriced_sessions"`)
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("db down") }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(failingPinger{})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
