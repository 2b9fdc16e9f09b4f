package rental

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultRefundWindow   = 7 * 24 * time.Hour
	defaultMaxAttempts    = 3
	defaultPayoutDelay    = 48 * time.Hour
	defaultPayoutTick     = 5 * time.Minute
	defaultPayoutBatch    = 100
	defaultSuppressionTTL = 30 * time.Second
	defaultOverrideTTL    = 2 * time.Minute
	defaultBreakerOpenFor = 30 * time.Second
)

// RentalConfig holds runtime configuration for the rental module.
type RentalConfig struct {
	RefundWindow   time.Duration
	MaxAttempts    int
	PayoutDelay    time.Duration
	PayoutTick     time.Duration
	PayoutBatch    int
	SuppressionTTL time.Duration
	OverrideTTL    time.Duration
	// Payment provider. An empty PaymentBaseURL disables provider calls.
	PaymentBaseURL  string
	PaymentMerchant string
	PaymentSecret   string
	BreakerOpenFor  time.Duration
}

// LoadRentalConfig reads configuration from environment variables and applies defaults.
func LoadRentalConfig() (RentalConfig, error) {
	cfg := RentalConfig{
		RefundWindow:   defaultRefundWindow,
		MaxAttempts:    defaultMaxAttempts,
		PayoutDelay:    defaultPayoutDelay,
		PayoutTick:     defaultPayoutTick,
		PayoutBatch:    defaultPayoutBatch,
		SuppressionTTL: defaultSuppressionTTL,
		OverrideTTL:    defaultOverrideTTL,
		BreakerOpenFor: defaultBreakerOpenFor,
	}

	if v, err := readIntEnv("REFUND_WINDOW_HOURS"); err != nil {
		return RentalConfig{}, fmt.Errorf("parse REFUND_WINDOW_HOURS: %w", err)
	} else if v != nil {
		cfg.RefundWindow = time.Duration(*v) * time.Hour
	}

	if v, err := readIntEnv("MUTATOR_MAX_ATTEMPTS"); err != nil {
		return RentalConfig{}, fmt.Errorf("parse MUTATOR_MAX_ATTEMPTS: %w", err)
	} else if v != nil {
		cfg.MaxAttempts = *v
	}

	if v, err := readIntEnv("PAYOUT_DELAY_HOURS"); err != nil {
		return RentalConfig{}, fmt.Errorf("parse PAYOUT_DELAY_HOURS: %w", err)
	} else if v != nil {
		cfg.PayoutDelay = time.Duration(*v) * time.Hour
	}

	if v, err := readIntEnv("PAYOUT_TICK_SECONDS"); err != nil {
		return RentalConfig{}, fmt.Errorf("parse PAYOUT_TICK_SECONDS: %w", err)
	} else if v != nil {
		cfg.PayoutTick = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("PAYOUT_BATCH"); err != nil {
		return RentalConfig{}, fmt.Errorf("parse PAYOUT_BATCH: %w", err)
	} else if v != nil {
		cfg.PayoutBatch = *v
	}

	if v, err := readIntEnv("SUPPRESSION_TTL_SECONDS"); err != nil {
		return RentalConfig{}, fmt.Errorf("parse SUPPRESSION_TTL_SECONDS: %w", err)
	} else if v != nil {
		cfg.SuppressionTTL = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("OVERRIDE_TTL_SECONDS"); err != nil {
		return RentalConfig{}, fmt.Errorf("parse OVERRIDE_TTL_SECONDS: %w", err)
	} else if v != nil {
		cfg.OverrideTTL = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("PAYMENT_BREAKER_OPEN_SECONDS"); err != nil {
		return RentalConfig{}, fmt.Errorf("parse PAYMENT_BREAKER_OPEN_SECONDS: %w", err)
	} else if v != nil {
		cfg.BreakerOpenFor = time.Duration(*v) * time.Second
	}

	cfg.PaymentBaseURL = os.Getenv("PAYMENT_BASE_URL")
	cfg.PaymentMerchant = os.Getenv("PAYMENT_MERCHANT_ID")
	cfg.PaymentSecret = os.Getenv("PAYMENT_SECRET")
	if cfg.PaymentBaseURL != "" && (cfg.PaymentMerchant == "" || cfg.PaymentSecret == "") {
		return RentalConfig{}, fmt.Errorf("PAYMENT configuration incomplete")
	}

	if cfg.RefundWindow <= 0 || cfg.PayoutDelay < 0 || cfg.PayoutTick <= 0 {
		return RentalConfig{}, fmt.Errorf("refund window and payout tick must be positive")
	}
	if cfg.MaxAttempts < 1 {
		return RentalConfig{}, fmt.Errorf("MUTATOR_MAX_ATTEMPTS must be >= 1")
	}

	return cfg, nil
}

func readIntEnv(name string) (*int, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
