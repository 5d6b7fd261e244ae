package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/models"
	"parkwise/backend/services/parking-service/internal/repository"
)

// RatePolicyStore persists rate policies.
type RatePolicyStore interface {
	Create(ctx context.Context, policy *models.RatePolicy) error
	Update(ctx context.Context, id string, mutate func(models.RatePolicy) (models.RatePolicy, error)) (*models.RatePolicy, error)
	GetActive(ctx context.Context, lotID string, rateType models.RateType) (*models.RatePolicy, error)
	GetByID(ctx context.Context, id string) (*models.RatePolicy, error)
	ListByLot(ctx context.Context, lotID string) ([]models.RatePolicy, error)
}

// RatePolicyInput is the payload for creating a policy.
type RatePolicyInput struct {
	LotID                string  `json:"lot_id"`
	RateType             string  `json:"rate_type"`
	PricePerHour         float64 `json:"price_per_hour"`
	PremiumPricePerHour  float64 `json:"premium_price_per_hour"`
	BusinessPricePerHour float64 `json:"business_price_per_hour"`
	MaxDailyPrice        float64 `json:"max_daily_price"`
	Active               bool    `json:"active"`
}

// RatePolicyService manages the prices per (lot, rate type).
type RatePolicyService struct {
	repo   RatePolicyStore
	logger *zap.Logger
	newID  func() string
}

// NewRatePolicyService builds service.
func NewRatePolicyService(repo RatePolicyStore, logger *zap.Logger) *RatePolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RatePolicyService{
		repo:   repo,
		logger: logger,
		newID:  func() string { return ulid.Make().String() },
	}
}

// Lookup returns the active policy for the pair. It always reads the store so
// a newly activated policy applies to the next exit.
func (s *RatePolicyService) Lookup(ctx context.Context, lotID string, rateType models.RateType) (*models.RatePolicy, error) {
	policy, err := s.repo.GetActive(ctx, lotID, rateType)
	if errors.Is(err, repository.ErrRatePolicyNotFound) {
		return nil, fmt.Errorf("%w: lot %s rate type %s", ErrRatePolicyNotFound, lotID, rateType)
	}
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// Create stores a new policy. An active policy replaces the pair's previous
// active one atomically.
func (s *RatePolicyService) Create(ctx context.Context, input RatePolicyInput) (*models.RatePolicy, error) {
	rateType, err := models.ParseRateType(input.RateType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	policy := &models.RatePolicy{
		ID:                   s.newID(),
		LotID:                strings.TrimSpace(input.LotID),
		RateType:             rateType,
		PricePerHour:         input.PricePerHour,
		PremiumPricePerHour:  input.PremiumPricePerHour,
		BusinessPricePerHour: input.BusinessPricePerHour,
		MaxDailyPrice:        input.MaxDailyPrice,
		Active:               input.Active,
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, policy); err != nil {
		return nil, err
	}

	s.logger.Info("rate policy created",
		zap.String("policy_id", policy.ID),
		zap.String("lot_id", policy.LotID),
		zap.String("rate_type", string(policy.RateType)),
		zap.Bool("active", policy.Active),
	)
	return policy, nil
}

// Update applies patch to the policy with id. Activating a policy deactivates
// the pair's other policies in the same transaction.
func (s *RatePolicyService) Update(ctx context.Context, id string, patch models.RatePolicyPatch) (*models.RatePolicy, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: policy id required", ErrInvalidArgument)
	}
	if patch.Empty() {
		return nil, fmt.Errorf("%w: empty patch", ErrInvalidArgument)
	}
	updated, err := s.repo.Update(ctx, id, func(current models.RatePolicy) (models.RatePolicy, error) {
		next := patch.Apply(current)
		if err := validatePolicy(&next); err != nil {
			return current, err
		}
		return next, nil
	})
	if errors.Is(err, repository.ErrRatePolicyNotFound) {
		return nil, fmt.Errorf("%w: policy %s", ErrRatePolicyNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("rate policy updated",
		zap.String("policy_id", updated.ID),
		zap.Bool("active", updated.Active),
	)
	return updated, nil
}

// Get returns the policy with id, active or not.
func (s *RatePolicyService) Get(ctx context.Context, id string) (*models.RatePolicy, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: policy id required", ErrInvalidArgument)
	}
	policy, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrRatePolicyNotFound) {
		return nil, fmt.Errorf("%w: policy %s", ErrRatePolicyNotFound, id)
	}
	return policy, err
}

// List returns the policies of a lot, or of every lot when lotID is empty.
func (s *RatePolicyService) List(ctx context.Context, lotID string) ([]models.RatePolicy, error) {
	return s.repo.ListByLot(ctx, strings.TrimSpace(lotID))
}

func validatePolicy(p *models.RatePolicy) error {
	for _, v := range []float64{p.PricePerHour, p.PremiumPricePerHour, p.BusinessPricePerHour, p.MaxDailyPrice} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: prices must be finite", ErrInvalidArgument)
		}
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

func defaultNow() time.Time {
	return time.Now().UTC()
}
