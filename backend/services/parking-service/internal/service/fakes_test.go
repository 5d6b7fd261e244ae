package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"parkwise/backend/services/parking-service/internal/models"
	"parkwise/backend/services/parking-service/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sequence struct {
	mu   sync.Mutex
	next int
}

func (s *sequence) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("id-%04d", s.next)
}

type fakeSessions struct {
	mu          sync.Mutex
	sessions    map[string]*models.ParkingSession
	active      map[string]string
	charges     *fakeCharges
	activeErr   error
	afterActive func()
}

func newFakeSessions(charges *fakeCharges) *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]*models.ParkingSession),
		active:   make(map[string]string),
		charges:  charges,
	}
}

func (f *fakeSessions) Open(_ context.Context, s *models.ParkingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[s.PayerID]; ok {
		return repository.ErrActiveSessionExists
	}
	s.Status = models.SessionStatusActive
	s.CreatedAt = s.EntryTime
	s.UpdatedAt = s.EntryTime
	stored := *s
	f.sessions[s.ID] = &stored
	f.active[s.PayerID] = s.ID
	return nil
}

// Active runs the afterActive hook once, after the read and outside the lock.
func (f *fakeSessions) Active(_ context.Context, payerID string) (*models.ParkingSession, error) {
	f.mu.Lock()
	if f.activeErr != nil {
		err := f.activeErr
		f.mu.Unlock()
		return nil, err
	}
	var s *models.ParkingSession
	if id, ok := f.active[payerID]; ok {
		copied := *f.sessions[id]
		s = &copied
	}
	hook := f.afterActive
	f.afterActive = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if s == nil {
		return nil, repository.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) onNextActive(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterActive = hook
}

func (f *fakeSessions) failActive(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeErr = err
}

func (f *fakeSessions) CompleteWithCharge(_ context.Context, s *models.ParkingSession, charge *models.ChargeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.sessions[s.ID]
	if !ok || stored.Status != models.SessionStatusActive {
		return repository.ErrSessionNotFound
	}
	s.Status = models.SessionStatusCompleted
	updated := *s
	f.sessions[s.ID] = &updated
	delete(f.active, s.PayerID)
	f.charges.add(*charge)
	return nil
}

func (f *fakeSessions) ListByPayer(_ context.Context, payerID string, limit int) ([]models.ParkingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ParkingSession
	for _, s := range f.sessions {
		if s.PayerID == payerID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSessions) get(id string) models.ParkingSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.sessions[id]
}

type fakeRegistry struct {
	tiers    map[string]models.Tier
	vehicles map[string]string
}

func (f *fakeRegistry) PayerTier(_ context.Context, payerID string) (models.Tier, error) {
	tier, ok := f.tiers[payerID]
	if !ok {
		return "", repository.ErrPayerNotFound
	}
	return tier, nil
}

func (f *fakeRegistry) VehicleOwner(_ context.Context, vehicleID string) (string, error) {
	owner, ok := f.vehicles[vehicleID]
	if !ok {
		return "", repository.ErrVehicleNotFound
	}
	return owner, nil
}

type fakePolicies struct {
	mu       sync.Mutex
	policies map[string]*models.RatePolicy
}

func newFakePolicies() *fakePolicies {
	return &fakePolicies{policies: make(map[string]*models.RatePolicy)}
}

func (f *fakePolicies) deactivatePair(lotID string, rateType models.RateType, keepID string) {
	for id, p := range f.policies {
		if id != keepID && p.LotID == lotID && p.RateType == rateType {
			p.Active = false
		}
	}
}

func (f *fakePolicies) Create(_ context.Context, p *models.RatePolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Active {
		f.deactivatePair(p.LotID, p.RateType, p.ID)
	}
	stored := *p
	f.policies[p.ID] = &stored
	return nil
}

func (f *fakePolicies) Update(_ context.Context, id string, mutate func(models.RatePolicy) (models.RatePolicy, error)) (*models.RatePolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.policies[id]
	if !ok {
		return nil, repository.ErrRatePolicyNotFound
	}
	next, err := mutate(*current)
	if err != nil {
		return nil, err
	}
	next.ID, next.LotID, next.RateType = current.ID, current.LotID, current.RateType
	if next.Active && !current.Active {
		f.deactivatePair(next.LotID, next.RateType, next.ID)
	}
	f.policies[id] = &next
	out := next
	return &out, nil
}

func (f *fakePolicies) GetActive(_ context.Context, lotID string, rateType models.RateType) (*models.RatePolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.policies {
		if p.Active && p.LotID == lotID && p.RateType == rateType {
			out := *p
			return &out, nil
		}
	}
	return nil, repository.ErrRatePolicyNotFound
}

func (f *fakePolicies) GetByID(_ context.Context, id string) (*models.RatePolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[id]
	if !ok {
		return nil, repository.ErrRatePolicyNotFound
	}
	out := *p
	return &out, nil
}

func (f *fakePolicies) ListByLot(_ context.Context, lotID string) ([]models.RatePolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RatePolicy
	for _, p := range f.policies {
		if lotID == "" || p.LotID == lotID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePolicies) activeCount(lotID string, rateType models.RateType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.policies {
		if p.Active && p.LotID == lotID && p.RateType == rateType {
			n++
		}
	}
	return n
}

type fakeBacklog struct {
	mu      sync.Mutex
	entries []models.UnpricedSession
}

func (f *fakeBacklog) Add(_ context.Context, e *models.UnpricedSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeBacklog) ResolveSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].SessionID == sessionID {
			f.entries[i].Resolved = true
		}
	}
	return nil
}

func (f *fakeBacklog) all() []models.UnpricedSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.UnpricedSession(nil), f.entries...)
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string]models.ParkingSession
	reads int
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string]models.ParkingSession)}
}

func (f *fakeCache) Save(_ context.Context, s *models.ParkingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[s.PayerID] = *s
	return nil
}

func (f *fakeCache) Get(_ context.Context, payerID string) (*models.ParkingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	s, ok := f.items[payerID]
	if !ok {
		return nil, redis.Nil
	}
	return &s, nil
}

func (f *fakeCache) Delete(_ context.Context, payerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, payerID)
	return nil
}

func (f *fakeCache) has(payerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[payerID]
	return ok
}

type fakeCharges struct {
	mu      sync.Mutex
	charges map[string]*models.ChargeRecord
}

func newFakeCharges() *fakeCharges {
	return &fakeCharges{charges: make(map[string]*models.ChargeRecord)}
}

func (f *fakeCharges) add(c models.ChargeRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges[c.ID] = &c
}

func (f *fakeCharges) get(id string) models.ChargeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.charges[id]
}

func (f *fakeCharges) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

func (f *fakeCharges) sorted(match func(*models.ChargeRecord) bool) []models.ChargeRecord {
	var out []models.ChargeRecord
	for _, c := range f.charges {
		if match(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

func (f *fakeCharges) inScope(scope repository.InvoiceScope) []models.ChargeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(c *models.ChargeRecord) bool {
		return c.PayerID == scope.PayerID && !c.EntryTime.Before(scope.From) && c.EntryTime.Before(scope.To)
	})
}

func (f *fakeCharges) ListByPayer(_ context.Context, payerID string, limit int) ([]models.ChargeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sorted(func(c *models.ChargeRecord) bool { return c.PayerID == payerID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeCharges) FlagOverdue(_ context.Context, cutoff time.Time, rate float64) ([]models.ChargeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChargeRecord
	for _, c := range f.charges {
		if !c.Paid && !c.Overdue && c.CreatedAt.Before(cutoff) {
			c.Overdue = true
			c.OverdueSurcharge = c.Amount * rate
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCharges) byIDs(ids []string) []models.ChargeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return f.sorted(func(c *models.ChargeRecord) bool { return want[c.ID] })
}

func (f *fakeCharges) markPaid(ids []string, method string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		c, ok := f.charges[id]
		if !ok || c.Paid {
			continue
		}
		paidAt := at
		c.Paid = true
		c.PaymentMethod = method
		c.PaidAt = &paidAt
	}
}

type fakeInvoices struct {
	mu       sync.Mutex
	invoices map[string]models.Invoice
	charges  *fakeCharges
	// beforeLock runs once at the start of the next Upsert, before the
	// invoice lock is taken.
	beforeLock func()
}

func newFakeInvoices(charges *fakeCharges) *fakeInvoices {
	return &fakeInvoices{invoices: make(map[string]models.Invoice), charges: charges}
}

func (f *fakeInvoices) Upsert(_ context.Context, id string, scope repository.InvoiceScope, build repository.InvoiceBuilder) (*models.Invoice, error) {
	f.mu.Lock()
	hook := f.beforeLock
	f.beforeLock = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var current *models.Invoice
	if inv, ok := f.invoices[id]; ok {
		current = &inv
	}
	next, err := build(current, f.charges.inScope(scope))
	if err != nil {
		return nil, err
	}
	f.invoices[id] = *next
	out := *next
	return &out, nil
}

func (f *fakeInvoices) ApplyPayment(_ context.Context, id string, plan repository.PaymentPlanner) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.invoices[id]
	if !ok {
		return nil, repository.ErrInvoiceNotFound
	}
	p, err := plan(&current, f.charges.byIDs(current.ChargeIDs))
	if err != nil {
		return nil, err
	}
	f.charges.markPaid(p.PaidCharges, p.Method, p.PaidAt)
	f.invoices[id] = *p.Invoice
	out := *p.Invoice
	return &out, nil
}

func (f *fakeInvoices) onNextUpsert(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeLock = hook
}

func (f *fakeInvoices) Get(_ context.Context, id string) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil, repository.ErrInvoiceNotFound
	}
	return &inv, nil
}

func (f *fakeInvoices) ListByPayer(_ context.Context, payerID string) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, inv := range f.invoices {
		if inv.PayerID == payerID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
