package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	libconfig "parkwise/backend/libs/config"
	"parkwise/backend/services/parking-service/internal/models"
	"parkwise/backend/services/parking-service/internal/pricing"
)

const (
	defaultHTTPPort = "8090"
	minTokenSecret  = 16
)

// HTTPConfig holds the listener settings.
type HTTPConfig struct {
	Port string `yaml:"port" env:"PARKING_HTTP_PORT"`
}

// DatabaseConfig holds the Postgres settings.
type DatabaseConfig struct {
	DSN     string `yaml:"dsn" env:"PARKING_POSTGRES_DSN"`
	Migrate bool   `yaml:"migrate" env:"PARKING_DB_MIGRATE"`
}

// RedisConfig holds the cache settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr             string        `yaml:"addr" env:"PARKING_REDIS_ADDR"`
	Password         string        `yaml:"password" env:"PARKING_REDIS_PASSWORD"`
	DB               int           `yaml:"db" env:"PARKING_REDIS_DB"`
	ActiveSessionTTL time.Duration `yaml:"active_session_ttl" env:"PARKING_ACTIVE_SESSION_TTL"`
}

// JWTConfig holds the agent bearer token settings.
type JWTConfig struct {
	Secret string        `yaml:"secret" env:"PARKING_JWT_SECRET"`
	TTL    time.Duration `yaml:"ttl" env:"PARKING_JWT_TTL"`
}

// TokenConfig holds the payer scan token settings.
type TokenConfig struct {
	Secret    string        `yaml:"secret" env:"PARKING_TOKEN_SECRET"`
	Freshness time.Duration `yaml:"freshness" env:"PARKING_TOKEN_FRESHNESS"`
}

// PricingConfig holds tier discounts and rate-type multipliers.
type PricingConfig struct {
	PremiumDiscount     float64 `yaml:"premium_discount" env:"PARKING_PREMIUM_DISCOUNT"`
	BusinessDiscount    float64 `yaml:"business_discount" env:"PARKING_BUSINESS_DISCOUNT"`
	VIPMultiplier       float64 `yaml:"vip_multiplier" env:"PARKING_VIP_MULTIPLIER"`
	OvernightMultiplier float64 `yaml:"overnight_multiplier" env:"PARKING_OVERNIGHT_MULTIPLIER"`
}

// BillingConfig holds invoicing settings.
type BillingConfig struct {
	TimeZone             string        `yaml:"time_zone" env:"PARKING_BILLING_TZ"`
	OverdueGrace         time.Duration `yaml:"overdue_grace" env:"PARKING_OVERDUE_GRACE"`
	OverdueSurchargeRate float64       `yaml:"overdue_surcharge_rate" env:"PARKING_OVERDUE_SURCHARGE_RATE"`
	SweepInterval        time.Duration `yaml:"sweep_interval" env:"PARKING_SWEEP_INTERVAL"`
}

// WebSocketConfig holds gate terminal connection settings.
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval" env:"PARKING_WS_PING_INTERVAL"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"PARKING_WS_WRITE_TIMEOUT"`
}

// Config defines parking service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Token     TokenConfig     `yaml:"token"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Billing   BillingConfig   `yaml:"billing"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// Default returns configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Port: defaultHTTPPort},
		Database: DatabaseConfig{Migrate: true},
		Redis:    RedisConfig{ActiveSessionTTL: 24 * time.Hour},
		JWT:      JWTConfig{TTL: 30 * 24 * time.Hour},
		Token:    TokenConfig{Freshness: 30 * time.Second},
		Pricing: PricingConfig{
			PremiumDiscount:     0.9,
			BusinessDiscount:    0.8,
			VIPMultiplier:       1.5,
			OvernightMultiplier: 0.7,
		},
		Billing: BillingConfig{
			TimeZone:             "UTC",
			OverdueGrace:         30 * 24 * time.Hour,
			OverdueSurchargeRate: 0.05,
			SweepInterval:        time.Hour,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn required")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt secret required")
	}
	if len(c.Token.Secret) < minTokenSecret {
		return fmt.Errorf("config: token secret must be at least %d bytes", minTokenSecret)
	}
	if c.Token.Freshness <= 0 {
		return errors.New("config: token freshness must be positive")
	}
	for name, v := range map[string]float64{
		"premium_discount":     c.Pricing.PremiumDiscount,
		"business_discount":    c.Pricing.BusinessDiscount,
		"vip_multiplier":       c.Pricing.VIPMultiplier,
		"overnight_multiplier": c.Pricing.OvernightMultiplier,
	} {
		if v <= 0 {
			return fmt.Errorf("config: pricing %s must be positive", name)
		}
	}
	if c.Billing.OverdueSurchargeRate < 0 {
		return errors.New("config: overdue surcharge rate must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = defaultHTTPPort
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// Location returns the billing time zone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Billing.TimeZone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("config: billing time zone: %w", err)
	}
	return loc, nil
}

// PricingOptions converts the pricing section to calculator options.
func (c *Config) PricingOptions() pricing.Options {
	return pricing.Options{
		TierDiscounts: map[models.Tier]float64{
			models.TierStandard: 1.0,
			models.TierPremium:  c.Pricing.PremiumDiscount,
			models.TierBusiness: c.Pricing.BusinessDiscount,
		},
		RateTypeMultipliers: map[models.RateType]float64{
			models.RateTypeStandard:  1.0,
			models.RateTypeVIP:       c.Pricing.VIPMultiplier,
			models.RateTypeOvernight: c.Pricing.OvernightMultiplier,
		},
	}
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}
