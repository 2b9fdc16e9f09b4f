package pay

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"rentalBack/internal/rental/models"
)

// Logger provides minimal logging required by the breaker.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Gateway is what the breaker protects.
type Gateway interface {
	Capture(ctx context.Context, r models.Reservation) error
	Refund(ctx context.Context, r models.Reservation) error
	Payout(ctx context.Context, r models.Reservation) error
}

// Breaker fails fast while the provider is unhealthy.
type Breaker struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next. Three consecutive failures open the circuit for
// openFor; client errors (4xx) do not count as failures.
func NewBreaker(next Gateway, openFor time.Duration, logger Logger) *Breaker {
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payments",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 2
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Infof("circuit breaker %s changed from %s to %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *StatusError
			return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Capture(ctx context.Context, r models.Reservation) error {
	return b.run(func() error { return b.next.Capture(ctx, r) })
}

func (b *Breaker) Refund(ctx context.Context, r models.Reservation) error {
	return b.run(func() error { return b.next.Refund(ctx, r) })
}

func (b *Breaker) Payout(ctx context.Context, r models.Reservation) error {
	return b.run(func() error { return b.next.Payout(ctx, r) })
}

// State reports the circuit state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) run(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
