// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}
	if strings.TrimSpace(c.Gateway.CallbackSecret) == "" {
		missing = append(missing, "GATEWAY_CALLBACK_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return c.ValidatePolicy()
}

// ValidatePolicy checks the payment and referral rules the core depends on.
func (c *Config) ValidatePolicy() error {
	p := c.Payment
	if p.MinDeposit <= 0 {
		return fmt.Errorf("MIN_DEPOSIT must be positive, got %d", p.MinDeposit)
	}
	if p.MaxDeposit < p.MinDeposit {
		return fmt.Errorf("MAX_DEPOSIT (%d) must not be below MIN_DEPOSIT (%d)", p.MaxDeposit, p.MinDeposit)
	}
	if p.OrderExpiry <= 0 {
		return fmt.Errorf("ORDER_EXPIRY must be positive")
	}

	r := c.Referral
	if r.Levels < 0 {
		return fmt.Errorf("REFERRAL_LEVELS must not be negative")
	}
	if len(r.Percentages) != r.Levels {
		return fmt.Errorf("REFERRAL_PERCENTAGES has %d entries, REFERRAL_LEVELS is %d", len(r.Percentages), r.Levels)
	}
	sum := decimal.Zero
	for i, pct := range r.Percentages {
		if pct.IsNegative() {
			return fmt.Errorf("referral percentage for level %d is negative", i+1)
		}
		sum = sum.Add(pct)
	}
	if sum.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("referral percentages sum to %s, must not exceed 100", sum.String())
	}
	return nil
}
