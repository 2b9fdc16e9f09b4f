// Package seen implements the server side of mark-seen: advancing a user's
// watermark to the latest activity of a category.
package seen

import (
	"context"
	"fmt"
	"sync"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/listen"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// Logger provides minimal logging required by the service.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// ActivitySource reports the newest activity instant of a category for uid.
// A zero timestamp means no activity.
type ActivitySource interface {
	LatestActivity(ctx context.Context, uid string) (clock.Timestamp, error)
}

// ActivityFunc adapts a function to ActivitySource.
type ActivityFunc func(ctx context.Context, uid string) (clock.Timestamp, error)

func (f ActivityFunc) LatestActivity(ctx context.Context, uid string) (clock.Timestamp, error) {
	return f(ctx, uid)
}

// Result describes one mark-seen call.
type Result struct {
	Category   string          `json:"category"`
	LastSeenAt clock.Timestamp `json:"lastSeenAt"`
	Advanced   bool            `json:"advanced"`
}

// Service advances watermarks and clears counters.
type Service struct {
	marks    store.Watermarks
	counters store.Counters
	logger   Logger

	mu      sync.RWMutex
	sources map[string]ActivitySource
}

// NewService constructs a Service. counters may be nil.
func NewService(marks store.Watermarks, counters store.Counters, logger Logger) *Service {
	return &Service{marks: marks, counters: counters, logger: logger, sources: make(map[string]ActivitySource)}
}

// Register binds category to its activity source.
func (s *Service) Register(category string, src ActivitySource) {
	s.mu.Lock()
	s.sources[category] = src
	s.mu.Unlock()
}

// MarkSeen advances uid's watermark for category to the category's latest
// activity, never beyond it, and zeroes the counter. Repeating the call
// without new activity writes no watermark. Categories without a source
// only have their counter cleared.
func (s *Service) MarkSeen(ctx context.Context, uid, category string) (Result, error) {
	if uid == "" {
		return Result{}, fmt.Errorf("seen: uid is required")
	}
	if !models.ValidCategory(category) {
		return Result{}, fmt.Errorf("seen %q: %w", category, models.ErrInvalidCategory)
	}

	res := Result{Category: category}
	s.mu.RLock()
	src, ok := s.sources[category]
	s.mu.RUnlock()
	if ok {
		latest, err := src.LatestActivity(ctx, uid)
		if err != nil {
			return Result{}, fmt.Errorf("latest %s activity: %w", category, err)
		}
		w, advanced, err := s.marks.AdvanceWatermark(ctx, uid, category, latest)
		if err != nil {
			return Result{}, fmt.Errorf("advance %s watermark: %w", category, err)
		}
		res.LastSeenAt, _ = w.LastSeen(category)
		res.Advanced = advanced
	} else {
		w, err := s.marks.GetWatermark(ctx, uid)
		if err != nil {
			return Result{}, fmt.Errorf("get watermark: %w", err)
		}
		res.LastSeenAt, _ = w.LastSeen(category)
	}

	if s.counters != nil {
		if _, err := s.counters.ResetCounter(ctx, uid, category); err != nil {
			s.logger.Errorf("seen: reset %s counter for %s: %v", category, uid, err)
		}
	}
	return res, nil
}

// Watermark returns uid's current watermark document.
func (s *Service) Watermark(ctx context.Context, uid string) (models.Watermark, error) {
	return s.marks.GetWatermark(ctx, uid)
}

// ReservationActivity is the newest updatedAt across every reservation uid
// is a party to, in either role and of any kind.
func ReservationActivity(reservations store.Reservations) ActivitySource {
	return maxOver(reservations, func(r models.Reservation) clock.Timestamp { return r.UpdatedAt })
}

// PaymentActivity is the newest payment-related stamp across uid's
// reservations.
func PaymentActivity(reservations store.Reservations) ActivitySource {
	return maxOver(reservations, func(r models.Reservation) clock.Timestamp {
		return clock.Max(r.PaidAt, clock.Max(r.CanceledAt, r.PaidOutAt))
	})
}

// InteractionActivity is the newest handover or closing stamp across uid's
// reservations.
func InteractionActivity(reservations store.Reservations) ActivitySource {
	return maxOver(reservations, func(r models.Reservation) clock.Timestamp {
		return clock.Max(r.RejectedAt, clock.Max(r.PickedUpAt, r.ReturnedAt))
	})
}

func maxOver(reservations store.Reservations, stamp func(models.Reservation) clock.Timestamp) ActivitySource {
	return ActivityFunc(func(ctx context.Context, uid string) (clock.Timestamp, error) {
		var latest clock.Timestamp
		for _, q := range listen.Queries(uid, listen.ViewAll) {
			items, err := reservations.ListReservations(ctx, q)
			if err != nil {
				return clock.Timestamp{}, fmt.Errorf("list %s: %w", q.Key(), err)
			}
			for _, r := range items {
				latest = clock.Max(latest, stamp(r))
			}
		}
		return latest, nil
	})
}

// RegisterDefaults binds the reservation-backed categories.
func (s *Service) RegisterDefaults(reservations store.Reservations) {
	s.Register(models.CategoryReservations, ReservationActivity(reservations))
	s.Register(models.CategoryPayments, PaymentActivity(reservations))
	s.Register(models.CategoryInteractions, InteractionActivity(reservations))
}
