//go:build integration

package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkwise/backend/services/parking-service/internal/db"
	"parkwise/backend/services/parking-service/internal/models"
)

// Run with: PARKING_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./...
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PARKING_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARKING_TEST_POSTGRES_DSN not set")
	}
	conn, err := db.NewPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, db.Migrate(ctx, conn))
	return conn
}

func newID() string {
	return ulid.Make().String()
}

func openSession(t *testing.T, repo *SessionRepository, payerID string, entry time.Time) *models.ParkingSession {
	t.Helper()
	session := &models.ParkingSession{
		ID:        newID(),
		PayerID:   payerID,
		VehicleID: "veh-" + payerID,
		LotID:     "lot-1",
		GateID:    "gate-in",
		RateType:  models.RateTypeStandard,
		EntryTime: entry,
		AgentID:   "agent-1",
	}
	require.NoError(t, repo.Open(context.Background(), session))
	return session
}

func closeWithCharge(session *models.ParkingSession, exit time.Time, amount float64) (*models.ParkingSession, *models.ChargeRecord) {
	closed := *session
	closed.ExitTime = &exit
	closed.DurationMinutes = models.ElapsedMinutes(session.EntryTime, exit)
	closed.ExitAgentID = "agent-2"
	charge := &models.ChargeRecord{
		ID:              newID(),
		SessionID:       session.ID,
		PayerID:         session.PayerID,
		LotID:           session.LotID,
		RateType:        session.RateType,
		PolicyID:        "policy-1",
		EntryTime:       session.EntryTime,
		DurationMinutes: closed.DurationMinutes,
		Tier:            models.TierStandard,
		Amount:          amount,
		CreatedAt:       exit,
	}
	return &closed, charge
}

func TestIntegrationConcurrentOpenKeepsOneActiveSession(t *testing.T) {
	conn := openTestDB(t)
	repo := NewSessionRepository(conn)
	payerID := "payer-" + newID()
	entry := time.Now().UTC().Truncate(time.Second)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		opened  int
		refused int
		other   []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Open(context.Background(), &models.ParkingSession{
				ID:        newID(),
				PayerID:   payerID,
				VehicleID: "veh-1",
				LotID:     "lot-1",
				RateType:  models.RateTypeStandard,
				EntryTime: entry,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, ErrActiveSessionExists):
				refused++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, opened)
	assert.Equal(t, workers-1, refused)

	var active int
	require.NoError(t, conn.QueryRow(
		`SELECT COUNT(*) FROM parking_sessions WHERE payer_id = $1 AND status = 'active'`, payerID,
	).Scan(&active))
	assert.Equal(t, 1, active)
}

func TestIntegrationCompleteWithChargeIsSingleShot(t *testing.T) {
	conn := openTestDB(t)
	repo := NewSessionRepository(conn)
	ctx := context.Background()
	payerID := "payer-" + newID()
	entry := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	session := openSession(t, repo, payerID, entry)

	const workers = 4
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		closed   int
		notFound int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, charge := closeWithCharge(session, entry.Add(45*time.Minute), 7.5)
			err := repo.CompleteWithCharge(ctx, s, charge)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				closed++
			case errors.Is(err, ErrSessionNotFound):
				notFound++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, closed)
	assert.Equal(t, workers-1, notFound)

	var charges int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM charge_records WHERE session_id = $1`, session.ID).Scan(&charges))
	assert.Equal(t, 1, charges)

	_, err := repo.Active(ctx, payerID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	history, err := repo.ListByPayer(ctx, payerID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SessionStatusCompleted, history[0].Status)
	assert.Equal(t, int64(45), history[0].DurationMinutes)

	// A completed session frees the payer for a new entry.
	openSession(t, repo, payerID, entry.Add(time.Hour))
}

func TestIntegrationConcurrentActivationLeavesOneActivePolicy(t *testing.T) {
	conn := openTestDB(t)
	repo := NewRatePolicyRepository(conn)
	ctx := context.Background()
	lotID := "lot-" + newID()

	const workers = 6
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(price float64) {
			defer wg.Done()
			errs <- repo.Create(ctx, &models.RatePolicy{
				ID:            newID(),
				LotID:         lotID,
				RateType:      models.RateTypeStandard,
				PricePerHour:  price,
				MaxDailyPrice: 50,
				Active:        true,
			})
		}(float64(10 + i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := repo.ListByLot(ctx, lotID)
	require.NoError(t, err)
	require.Len(t, all, workers)
	active := 0
	for _, p := range all {
		if p.Active {
			active++
		}
	}
	assert.Equal(t, 1, active)

	current, err := repo.GetActive(ctx, lotID, models.RateTypeStandard)
	require.NoError(t, err)

	// Reactivating an older policy moves the active flag to it.
	var older models.RatePolicy
	for _, p := range all {
		if p.ID != current.ID {
			older = p
			break
		}
	}
	on := true
	_, err = repo.Update(ctx, older.ID, func(p models.RatePolicy) (models.RatePolicy, error) {
		return models.RatePolicyPatch{Active: &on}.Apply(p), nil
	})
	require.NoError(t, err)

	now, err := repo.GetActive(ctx, lotID, models.RateTypeStandard)
	require.NoError(t, err)
	assert.Equal(t, older.ID, now.ID)
	previous, err := repo.GetByID(ctx, current.ID)
	require.NoError(t, err)
	assert.False(t, previous.Active)
}

func TestIntegrationInvoiceUpsertReadsChargesUnderLock(t *testing.T) {
	conn := openTestDB(t)
	sessions := NewSessionRepository(conn)
	invoices := NewInvoiceRepository(conn)
	ctx := context.Background()
	payerID := "payer-" + newID()
	period := models.BillingPeriod{Year: 2024, Month: time.March}
	from, to := period.Bounds(time.UTC)
	scope := InvoiceScope{PayerID: payerID, From: from, To: to}

	for i, amount := range []float64{10, 20} {
		entry := from.Add(time.Duration(i+1) * 24 * time.Hour)
		s := openSession(t, sessions, payerID, entry)
		closed, charge := closeWithCharge(s, entry.Add(time.Hour), amount)
		require.NoError(t, sessions.CompleteWithCharge(ctx, closed, charge))
	}

	build := func(current *models.Invoice, charges []models.ChargeRecord) (*models.Invoice, error) {
		inv := &models.Invoice{
			ID:          models.InvoiceID(payerID, period),
			PayerID:     payerID,
			Period:      period,
			GeneratedAt: to,
			UpdatedAt:   to,
		}
		for _, c := range charges {
			inv.ChargeIDs = append(inv.ChargeIDs, c.ID)
			inv.TotalSessions++
			inv.TotalCharges += c.Amount
			if c.Paid {
				inv.AmountPaid += c.Due()
			}
		}
		if current != nil && current.AmountPaid > inv.AmountPaid {
			inv.AmountPaid = current.AmountPaid
		}
		inv.Reconcile()
		return inv, nil
	}

	inv, err := invoices.Upsert(ctx, models.InvoiceID(payerID, period), scope, build)
	require.NoError(t, err)
	require.Len(t, inv.ChargeIDs, 2)
	assert.InDelta(t, 30.0, inv.BalanceDue, 1e-9)

	paidAt := to.Add(time.Hour)
	_, err = invoices.ApplyPayment(ctx, inv.ID, func(current *models.Invoice, charges []models.ChargeRecord) (*PaymentPlan, error) {
		next := *current
		next.AmountPaid = 10
		next.Reconcile()
		return &PaymentPlan{Invoice: &next, PaidCharges: []string{charges[0].ID}, Method: "card", PaidAt: paidAt}, nil
	})
	require.NoError(t, err)

	var seenPaid int
	_, err = invoices.Upsert(ctx, inv.ID, scope, func(current *models.Invoice, charges []models.ChargeRecord) (*models.Invoice, error) {
		for _, c := range charges {
			if c.Paid {
				seenPaid++
			}
		}
		return build(current, charges)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seenPaid)

	stored, err := invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ChargeIDs, stored.ChargeIDs)
	assert.InDelta(t, 10.0, stored.AmountPaid, 1e-9)
	assert.Equal(t, models.PaymentStatusPartial, stored.Status)
}
