// Package events carries reservation transition events between the
// lifecycle service and background consumers.
package events

import (
	"context"
	"time"

	"rentalBack/internal/rental/models"
)

// QueueName is the durable queue transition events are published to.
const QueueName = "rental.reservation.transitions"

// ReservationEvent is published after every committed reservation change.
// It carries enough for counters and push without reading the store.
type ReservationEvent struct {
	ReservationID string        `json:"reservation_id"`
	Action        string        `json:"action"`
	Status        models.Status `json:"status"`
	Kind          models.Kind   `json:"kind"`
	ActorUID      string        `json:"actor_uid"`
	OwnerUID      string        `json:"owner_uid"`
	RenterUID     string        `json:"renter_uid"`
	ItemTitle     string        `json:"item_title"`
	UpdatedAtMS   int64         `json:"updated_at_ms"`
	OccurredAt    string        `json:"occurred_at"`
	Rating        int           `json:"rating,omitempty"`
	ReviewText    string        `json:"review_text,omitempty"`
}

// NewReservationEvent builds the event for r after action by actor.
func NewReservationEvent(action string, r models.Reservation, actor string) ReservationEvent {
	return ReservationEvent{
		ReservationID: r.ID,
		Action:        action,
		Status:        r.Status,
		Kind:          r.Kind,
		ActorUID:      actor,
		OwnerUID:      r.ItemOwnerUID,
		RenterUID:     r.RenterUID,
		ItemTitle:     r.ItemTitle,
		UpdatedAtMS:   r.UpdatedAt.Millis(),
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev ReservationEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev ReservationEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev ReservationEvent) error { return f(ctx, ev) }

// Inline delivers events to a handler in-process. It is used when no broker
// is configured.
type Inline struct {
	Handler Handler
}

func (p Inline) Publish(ctx context.Context, ev ReservationEvent) error {
	if p.Handler == nil {
		return nil
	}
	return p.Handler.Handle(ctx, ev)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, ReservationEvent) error { return nil }
