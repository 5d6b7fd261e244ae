// Package pricing turns a completed session's duration into an amount.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"parkwise/backend/services/parking-service/internal/models"
)

// FreeMinutes is the inclusive free period granted to elevated tiers.
const FreeMinutes = 60

var (
	// ErrNoPolicy is returned when no rate policy is supplied.
	ErrNoPolicy = errors.New("pricing: rate policy required")
	// ErrInactivePolicy is returned for a deactivated policy.
	ErrInactivePolicy = errors.New("pricing: rate policy is not active")
	// ErrInvalidPolicy wraps policy validation failures.
	ErrInvalidPolicy = errors.New("pricing: invalid rate policy")
	// ErrNegativeDuration is returned for durations below zero.
	ErrNegativeDuration = errors.New("pricing: negative duration")
)

// Options configures the tier discount factors and rate-type multipliers.
// Missing entries default to 1.0.
type Options struct {
	TierDiscounts       map[models.Tier]float64
	RateTypeMultipliers map[models.RateType]float64
}

// DefaultOptions returns the factors used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		TierDiscounts: map[models.Tier]float64{
			models.TierStandard: 1.0,
			models.TierPremium:  0.9,
			models.TierBusiness: 0.8,
		},
		RateTypeMultipliers: map[models.RateType]float64{
			models.RateTypeStandard:  1.0,
			models.RateTypeVIP:       1.5,
			models.RateTypeOvernight: 0.7,
		},
	}
}

// Quote is the breakdown of a computed charge.
type Quote struct {
	BillableHours float64 `json:"billable_hours"`
	HourlyRate    float64 `json:"hourly_rate"`
	Multiplier    float64 `json:"multiplier"`
	Raw           float64 `json:"raw"`
	Amount        float64 `json:"amount"`
	Capped        bool    `json:"capped"`
	// Discount is what the standard tier would have paid minus Amount.
	Discount float64 `json:"discount"`
}

// Calculator is a pure function of its inputs and safe for concurrent use.
type Calculator struct {
	opts Options
}

// NewCalculator copies opts so later changes by the caller have no effect.
func NewCalculator(opts Options) *Calculator {
	copied := Options{
		TierDiscounts:       make(map[models.Tier]float64, len(opts.TierDiscounts)),
		RateTypeMultipliers: make(map[models.RateType]float64, len(opts.RateTypeMultipliers)),
	}
	for k, v := range opts.TierDiscounts {
		copied.TierDiscounts[k] = v
	}
	for k, v := range opts.RateTypeMultipliers {
		copied.RateTypeMultipliers[k] = v
	}
	return &Calculator{opts: copied}
}

// Compute returns the amount owed for durationMinutes at tier under policy.
func (c *Calculator) Compute(durationMinutes int64, tier models.Tier, policy *models.RatePolicy) (float64, error) {
	q, err := c.Quote(durationMinutes, tier, policy)
	if err != nil {
		return 0, err
	}
	return q.Amount, nil
}

// Quote computes the charge together with its breakdown.
func (c *Calculator) Quote(durationMinutes int64, tier models.Tier, policy *models.RatePolicy) (Quote, error) {
	if err := checkPolicy(policy); err != nil {
		return Quote{}, err
	}
	if durationMinutes < 0 {
		return Quote{}, ErrNegativeDuration
	}

	q := c.quote(durationMinutes, tier, policy)
	if tier != models.TierStandard {
		standard := c.quote(durationMinutes, models.TierStandard, policy)
		if d := standard.Amount - q.Amount; d > 0 {
			q.Discount = d
		}
	}
	return q, nil
}

func (c *Calculator) quote(durationMinutes int64, tier models.Tier, policy *models.RatePolicy) Quote {
	q := Quote{
		BillableHours: BillableHours(durationMinutes, tier),
		HourlyRate:    c.hourlyRate(tier, policy),
		Multiplier:    c.multiplier(policy.RateType),
	}
	q.Raw = q.BillableHours * q.HourlyRate * q.Multiplier
	q.Amount = q.Raw
	if policy.MaxDailyPrice > 0 && q.Raw > policy.MaxDailyPrice {
		q.Amount = policy.MaxDailyPrice
		q.Capped = true
	}
	return q
}

// BillableHours applies the tier's rounding rule. Standard tier pays every
// started hour; elevated tiers get the first hour free and pay the remainder
// pro rata.
func BillableHours(durationMinutes int64, tier models.Tier) float64 {
	if durationMinutes <= 0 {
		return 0
	}
	if tier.Elevated() {
		if durationMinutes <= FreeMinutes {
			return 0
		}
		return float64(durationMinutes-FreeMinutes) / 60.0
	}
	return math.Ceil(float64(durationMinutes) / 60.0)
}

func (c *Calculator) hourlyRate(tier models.Tier, policy *models.RatePolicy) float64 {
	if explicit := policy.TierPrice(tier); explicit > 0 {
		return explicit
	}
	factor, ok := c.opts.TierDiscounts[tier]
	if !ok {
		factor = 1.0
	}
	return policy.PricePerHour * factor
}

func (c *Calculator) multiplier(rateType models.RateType) float64 {
	if m, ok := c.opts.RateTypeMultipliers[rateType]; ok {
		return m
	}
	return 1.0
}

func checkPolicy(policy *models.RatePolicy) error {
	if policy == nil {
		return ErrNoPolicy
	}
	if !policy.Active {
		return ErrInactivePolicy
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return nil
}
