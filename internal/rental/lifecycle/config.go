package lifecycle

import (
	"time"

	"rentalBack/internal/rental/fsm"
)

// DefaultMaxAttempts bounds the optimistic read-validate-write loop.
const DefaultMaxAttempts = 3

// Config aggregates behavioural parameters for the reservation lifecycle.
type Config struct {
	// RefundWindow is how long after payment the renter may cancel.
	RefundWindow time.Duration
	// MaxAttempts bounds the Mutator's retry loop on version conflicts.
	MaxAttempts int
	// PayoutDelay is how long after pickup the system releases the payout.
	PayoutDelay time.Duration
	// PayoutBatch limits reservations released per worker pass.
	PayoutBatch int
}

func (c Config) withDefaults() Config {
	if c.RefundWindow <= 0 {
		c.RefundWindow = fsm.DefaultRefundWindow
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PayoutBatch <= 0 {
		c.PayoutBatch = 100
	}
	return c
}

func (c Config) policy() fsm.Policy {
	return fsm.Policy{RefundWindow: c.RefundWindow}
}
