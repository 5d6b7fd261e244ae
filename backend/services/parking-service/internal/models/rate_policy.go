package models

import (
	"fmt"
	"strings"
	"time"
)

// RateType is the pricing mode of a lot, independent of the payer's tier.
type RateType string

const (
	RateTypeStandard  RateType = "standard"
	RateTypeVIP       RateType = "vip"
	RateTypeOvernight RateType = "overnight"
)

// ParseRateType normalizes s; an empty string means standard.
func ParseRateType(s string) (RateType, error) {
	switch RateType(strings.ToLower(strings.TrimSpace(s))) {
	case "", RateTypeStandard:
		return RateTypeStandard, nil
	case RateTypeVIP:
		return RateTypeVIP, nil
	case RateTypeOvernight:
		return RateTypeOvernight, nil
	default:
		return "", fmt.Errorf("unknown rate type %q", s)
	}
}

// Tier is a payer's subscription level.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierBusiness Tier = "business"
)

// ParseTier normalizes s; an empty string means standard.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierStandard:
		return TierStandard, nil
	case TierPremium:
		return TierPremium, nil
	case TierBusiness:
		return TierBusiness, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// Elevated reports whether the tier gets the free first hour.
func (t Tier) Elevated() bool {
	return t == TierPremium || t == TierBusiness
}

// RatePolicy holds the prices of one (lot, rate type) pair.
type RatePolicy struct {
	ID                   string    `db:"id" json:"id"`
	LotID                string    `db:"lot_id" json:"lot_id"`
	RateType             RateType  `db:"rate_type" json:"rate_type"`
	PricePerHour         float64   `db:"price_per_hour" json:"price_per_hour"`
	PremiumPricePerHour  float64   `db:"premium_price_per_hour" json:"premium_price_per_hour"`
	BusinessPricePerHour float64   `db:"business_price_per_hour" json:"business_price_per_hour"`
	MaxDailyPrice        float64   `db:"max_daily_price" json:"max_daily_price"`
	Active               bool      `db:"active" json:"active"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// TierPrice returns the explicit per-hour override for tier, zero when unset.
func (p *RatePolicy) TierPrice(tier Tier) float64 {
	switch tier {
	case TierPremium:
		return p.PremiumPricePerHour
	case TierBusiness:
		return p.BusinessPricePerHour
	default:
		return 0
	}
}

// Validate checks the prices are usable for charging.
func (p *RatePolicy) Validate() error {
	switch {
	case strings.TrimSpace(p.LotID) == "":
		return fmt.Errorf("rate policy: lot id required")
	case p.PricePerHour < 0, p.PremiumPricePerHour < 0, p.BusinessPricePerHour < 0:
		return fmt.Errorf("rate policy: prices must not be negative")
	case p.MaxDailyPrice < 0:
		return fmt.Errorf("rate policy: max daily price must not be negative")
	}
	if _, err := ParseRateType(string(p.RateType)); err != nil {
		return fmt.Errorf("rate policy: %w", err)
	}
	return nil
}

// RatePolicyPatch lists the fields an update may change. Nil fields are left
// untouched.
type RatePolicyPatch struct {
	PricePerHour         *float64 `json:"price_per_hour,omitempty"`
	PremiumPricePerHour  *float64 `json:"premium_price_per_hour,omitempty"`
	BusinessPricePerHour *float64 `json:"business_price_per_hour,omitempty"`
	MaxDailyPrice        *float64 `json:"max_daily_price,omitempty"`
	Active               *bool    `json:"active,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p RatePolicyPatch) Empty() bool {
	return p.PricePerHour == nil && p.PremiumPricePerHour == nil &&
		p.BusinessPricePerHour == nil && p.MaxDailyPrice == nil && p.Active == nil
}

// Apply returns a copy of policy with the patch fields applied.
func (p RatePolicyPatch) Apply(policy RatePolicy) RatePolicy {
	if p.PricePerHour != nil {
		policy.PricePerHour = *p.PricePerHour
	}
	if p.PremiumPricePerHour != nil {
		policy.PremiumPricePerHour = *p.PremiumPricePerHour
	}
	if p.BusinessPricePerHour != nil {
		policy.BusinessPricePerHour = *p.BusinessPricePerHour
	}
	if p.MaxDailyPrice != nil {
		policy.MaxDailyPrice = *p.MaxDailyPrice
	}
	if p.Active != nil {
		policy.Active = *p.Active
	}
	return policy
}
