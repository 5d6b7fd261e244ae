package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/metrics"
	"parkwise/backend/services/parking-service/internal/models"
	"parkwise/backend/services/parking-service/internal/pricing"
	"parkwise/backend/services/parking-service/internal/repository"
	"parkwise/backend/services/parking-service/internal/token"
)

// TokenVerifier decodes and validates gate tokens.
type TokenVerifier interface {
	Verify(raw string, now time.Time) (models.Token, token.Status)
}

// SessionStore persists parking sessions.
type SessionStore interface {
	Open(ctx context.Context, session *models.ParkingSession) error
	Active(ctx context.Context, payerID string) (*models.ParkingSession, error)
	CompleteWithCharge(ctx context.Context, session *models.ParkingSession, charge *models.ChargeRecord) error
	ListByPayer(ctx context.Context, payerID string, limit int) ([]models.ParkingSession, error)
}

// Registry answers payer and vehicle lookups.
type Registry interface {
	PayerTier(ctx context.Context, payerID string) (models.Tier, error)
	VehicleOwner(ctx context.Context, vehicleID string) (string, error)
}

// PolicyLookup finds the active rate policy of a lot.
type PolicyLookup interface {
	Lookup(ctx context.Context, lotID string, rateType models.RateType) (*models.RatePolicy, error)
}

// Backlog keeps sessions whose exit could not be priced.
type Backlog interface {
	Add(ctx context.Context, entry *models.UnpricedSession) error
	ResolveSession(ctx context.Context, sessionID string) error
}

// ActiveSessionCache mirrors open sessions by payer.
type ActiveSessionCache interface {
	Save(ctx context.Context, session *models.ParkingSession) error
	Get(ctx context.Context, payerID string) (*models.ParkingSession, error)
	Delete(ctx context.Context, payerID string) error
}

// GateDeps groups GateService collaborators. Cache, Metrics, Now and NewID
// are optional.
type GateDeps struct {
	Tokens     TokenVerifier
	Sessions   SessionStore
	Registry   Registry
	Policies   PolicyLookup
	Calculator *pricing.Calculator
	Backlog    Backlog
	Cache      ActiveSessionCache
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
	NewID      func() string
}

// EntryInput is an entry scan.
type EntryInput struct {
	Token    string `json:"token"`
	LotID    string `json:"lot_id"`
	GateID   string `json:"gate_id"`
	RateType string `json:"rate_type"`
	AgentID  string `json:"-"`
}

// ExitInput is an exit scan.
type ExitInput struct {
	Token   string `json:"token"`
	GateID  string `json:"gate_id"`
	AgentID string `json:"-"`
}

// ExitResult is a completed session with its charge.
type ExitResult struct {
	Session *models.ParkingSession `json:"session"`
	Charge  *models.ChargeRecord   `json:"charge"`
	Quote   pricing.Quote          `json:"quote"`
}

// GateService runs the session state machine for gate scans.
type GateService struct {
	tokens     TokenVerifier
	sessions   SessionStore
	registry   Registry
	policies   PolicyLookup
	calculator *pricing.Calculator
	backlog    Backlog
	cache      ActiveSessionCache
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// NewGateService builds service.
func NewGateService(deps GateDeps) *GateService {
	s := &GateService{
		tokens:     deps.Tokens,
		sessions:   deps.Sessions,
		registry:   deps.Registry,
		policies:   deps.Policies,
		calculator: deps.Calculator,
		backlog:    deps.Backlog,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Now,
		newID:      deps.NewID,
	}
	if s.calculator == nil {
		s.calculator = pricing.NewCalculator(pricing.DefaultOptions())
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = defaultNow
	}
	if s.newID == nil {
		s.newID = func() string { return ulid.Make().String() }
	}
	return s
}

// Entry opens a session for the token's payer unless one is already active.
func (s *GateService) Entry(ctx context.Context, input EntryInput) (session *models.ParkingSession, err error) {
	defer func() { s.observe(metrics.DirectionEntry, err) }()

	now := s.now()
	tok, err := s.verify(input.Token, now, input.GateID)
	if err != nil {
		return nil, err
	}
	lotID := strings.TrimSpace(input.LotID)
	if lotID == "" {
		return nil, fmt.Errorf("%w: lot id required", ErrInvalidArgument)
	}
	rateType, err := models.ParseRateType(input.RateType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	owner, err := s.registry.VehicleOwner(ctx, tok.VehicleID)
	if errors.Is(err, repository.ErrVehicleNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVehicle, tok.VehicleID)
	}
	if err != nil {
		return nil, fmt.Errorf("vehicle lookup: %w", err)
	}
	if owner != tok.PayerID {
		return nil, fmt.Errorf("%w: vehicle %s is not registered to payer %s", ErrVehicleMismatch, tok.VehicleID, tok.PayerID)
	}

	session = &models.ParkingSession{
		ID:        s.newID(),
		PayerID:   tok.PayerID,
		VehicleID: tok.VehicleID,
		LotID:     lotID,
		GateID:    input.GateID,
		RateType:  rateType,
		Status:    models.SessionStatusActive,
		EntryTime: now,
		AgentID:   input.AgentID,
	}
	if err := s.sessions.Open(ctx, session); err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			return nil, fmt.Errorf("%w: payer %s", ErrActiveSessionExists, tok.PayerID)
		}
		return nil, err
	}

	if s.cache != nil {
		if cacheErr := s.cache.Save(ctx, session); cacheErr != nil && !errors.Is(cacheErr, redis.Nil) {
			s.logger.Warn("failed to cache active session", zap.Error(cacheErr))
		}
	}

	s.logger.Info("session opened",
		zap.String("session_id", session.ID),
		zap.String("payer_id", session.PayerID),
		zap.String("lot_id", session.LotID),
		zap.String("gate_id", session.GateID),
	)
	return session, nil
}

// Exit prices and closes the payer's active session. When pricing fails the
// session stays active and the failure is added to the backlog.
func (s *GateService) Exit(ctx context.Context, input ExitInput) (result *ExitResult, err error) {
	defer func() { s.observe(metrics.DirectionExit, err) }()

	now := s.now()
	tok, err := s.verify(input.Token, now, input.GateID)
	if err != nil {
		return nil, err
	}

	active, err := s.sessions.Active(ctx, tok.PayerID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: payer %s", ErrNoActiveSession, tok.PayerID)
	}
	if err != nil {
		return nil, err
	}
	if active.VehicleID != tok.VehicleID {
		return nil, fmt.Errorf("%w: session vehicle %s, token vehicle %s", ErrVehicleMismatch, active.VehicleID, tok.VehicleID)
	}

	duration := models.ElapsedMinutes(active.EntryTime, now)
	charge, quote, err := s.price(ctx, active, duration, now)
	if err != nil {
		s.recordUnpriced(ctx, active, err)
		return nil, fmt.Errorf("%w: %v", ErrChargeComputationFailed, err)
	}

	closed := *active
	exitTime := now
	closed.ExitTime = &exitTime
	closed.DurationMinutes = duration
	closed.ExitAgentID = input.AgentID
	if err := s.sessions.CompleteWithCharge(ctx, &closed, charge); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: session %s already closed", ErrNoActiveSession, active.ID)
		}
		return nil, err
	}

	s.evictActive(ctx, closed.PayerID)
	if s.backlog != nil {
		if backlogErr := s.backlog.ResolveSession(ctx, closed.ID); backlogErr != nil {
			s.logger.Warn("failed to resolve unpriced session", zap.String("session_id", closed.ID), zap.Error(backlogErr))
		}
	}
	s.metrics.ObserveCharge(charge.Amount, charge.Discount)

	s.logger.Info("session closed",
		zap.String("session_id", closed.ID),
		zap.String("payer_id", closed.PayerID),
		zap.Int64("duration_minutes", duration),
		zap.String("tier", string(charge.Tier)),
		zap.Float64("amount", charge.Amount),
	)
	return &ExitResult{Session: &closed, Charge: charge, Quote: quote}, nil
}

// ActiveSession returns the payer's open session. The store is read first and
// the cache is never refilled from here. A cached entry is only served while
// the store is unreachable, and a miss in the store evicts it.
func (s *GateService) ActiveSession(ctx context.Context, payerID string) (*models.ParkingSession, error) {
	payerID = strings.TrimSpace(payerID)
	if payerID == "" {
		return nil, fmt.Errorf("%w: payer id required", ErrInvalidArgument)
	}

	session, err := s.sessions.Active(ctx, payerID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		s.evictActive(ctx, payerID)
		return nil, fmt.Errorf("%w: payer %s", ErrNoActiveSession, payerID)
	}
	if err != nil {
		if cached := s.cachedActive(ctx, payerID); cached != nil {
			s.logger.Warn("serving cached active session, store read failed",
				zap.String("payer_id", payerID),
				zap.Error(err),
			)
			return cached, nil
		}
		return nil, err
	}
	return session, nil
}

func (s *GateService) cachedActive(ctx context.Context, payerID string) *models.ParkingSession {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.Get(ctx, payerID)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("failed to read active session cache", zap.Error(err))
		}
		return nil
	}
	if !cached.IsActive() {
		return nil
	}
	return cached
}

func (s *GateService) evictActive(ctx context.Context, payerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, payerID); err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("failed to delete active session cache", zap.String("payer_id", payerID), zap.Error(err))
	}
}

// SessionsForPayer returns the payer's session history, newest first.
func (s *GateService) SessionsForPayer(ctx context.Context, payerID string, limit int) ([]models.ParkingSession, error) {
	payerID = strings.TrimSpace(payerID)
	if payerID == "" {
		return nil, fmt.Errorf("%w: payer id required", ErrInvalidArgument)
	}
	return s.sessions.ListByPayer(ctx, payerID, limit)
}

func (s *GateService) verify(raw string, now time.Time, gateID string) (models.Token, error) {
	tok, status := s.tokens.Verify(raw, now)
	switch status {
	case token.StatusValid:
		return tok, nil
	case token.StatusExpired:
		return models.Token{}, ErrExpiredToken
	case token.StatusTampered:
		s.logger.Warn("tampered gate token",
			zap.String("gate_id", gateID),
			zap.String("payer_id", tok.PayerID),
			zap.String("vehicle_id", tok.VehicleID),
		)
		return models.Token{}, ErrTamperedToken
	default:
		return models.Token{}, ErrMalformedToken
	}
}

func (s *GateService) price(ctx context.Context, session *models.ParkingSession, duration int64, now time.Time) (*models.ChargeRecord, pricing.Quote, error) {
	tier, err := s.registry.PayerTier(ctx, session.PayerID)
	if err != nil {
		return nil, pricing.Quote{}, fmt.Errorf("payer tier: %w", err)
	}
	policy, err := s.policies.Lookup(ctx, session.LotID, session.RateType)
	if err != nil {
		return nil, pricing.Quote{}, fmt.Errorf("rate policy: %w", err)
	}
	quote, err := s.calculator.Quote(duration, tier, policy)
	if err != nil {
		return nil, pricing.Quote{}, err
	}
	return &models.ChargeRecord{
		ID:              s.newID(),
		SessionID:       session.ID,
		PayerID:         session.PayerID,
		LotID:           session.LotID,
		RateType:        session.RateType,
		PolicyID:        policy.ID,
		EntryTime:       session.EntryTime,
		DurationMinutes: duration,
		Tier:            tier,
		Amount:          quote.Amount,
		Discount:        quote.Discount,
		CreatedAt:       now,
	}, quote, nil
}

func (s *GateService) recordUnpriced(ctx context.Context, session *models.ParkingSession, cause error) {
	s.logger.Error("charge computation failed",
		zap.String("session_id", session.ID),
		zap.String("payer_id", session.PayerID),
		zap.String("lot_id", session.LotID),
		zap.Error(cause),
	)
	if s.backlog == nil {
		return
	}
	entry := &models.UnpricedSession{
		SessionID: session.ID,
		PayerID:   session.PayerID,
		LotID:     session.LotID,
		RateType:  session.RateType,
		Reason:    cause.Error(),
	}
	if err := s.backlog.Add(ctx, entry); err != nil {
		s.logger.Error("failed to record unpriced session", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *GateService) observe(direction string, err error) {
	outcome := "OK"
	if err != nil {
		outcome = Code(err)
	}
	s.metrics.ObserveScan(direction, outcome)
}
