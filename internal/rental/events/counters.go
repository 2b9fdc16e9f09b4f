package events

import (
	"context"
	"fmt"

	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// Notifier delivers a push notification to a user.
type Notifier interface {
	Notify(ctx context.Context, uid, title, body string, data map[string]string) error
}

// Notice is one counter bump (and push) produced by an event.
type Notice struct {
	UID      string
	Category string
	Title    string
	Body     string
}

// Notices derives who has to hear about ev. Only the party expected to act
// next gets a reservations notice, matching what the freshness tracker flags.
func Notices(ev ReservationEvent) []Notice {
	title := ev.ItemTitle
	if title == "" {
		title = "your reservation"
	}
	switch ev.Action {
	case "review":
		target := ev.OwnerUID
		if ev.ActorUID == ev.OwnerUID {
			target = ev.RenterUID
		}
		return []Notice{{UID: target, Category: models.CategoryInteractions, Title: "New review", Body: fmt.Sprintf("You received a review for %s", title)}}
	case "create":
		return []Notice{{UID: ev.OwnerUID, Category: models.CategoryReservations, Title: "New rental request", Body: fmt.Sprintf("Someone wants to rent %s", title)}}
	case "accept":
		return []Notice{{UID: ev.RenterUID, Category: models.CategoryReservations, Title: "Request accepted", Body: fmt.Sprintf("Your request for %s was accepted, complete the payment", title)}}
	case "reject":
		return []Notice{{UID: ev.RenterUID, Category: models.CategoryInteractions, Title: "Request declined", Body: fmt.Sprintf("Your request for %s was declined", title)}}
	case "pay":
		return []Notice{{UID: ev.OwnerUID, Category: models.CategoryPayments, Title: "Payment received", Body: fmt.Sprintf("%s has been paid", title)}}
	case "cancel":
		return []Notice{{UID: ev.OwnerUID, Category: models.CategoryPayments, Title: "Rental canceled", Body: fmt.Sprintf("The rental of %s was canceled and refunded", title)}}
	case "pickup":
		return []Notice{{UID: ev.OwnerUID, Category: models.CategoryInteractions, Title: "Item picked up", Body: fmt.Sprintf("%s was picked up", title)}}
	case "payout":
		return []Notice{{UID: ev.OwnerUID, Category: models.CategoryPayments, Title: "Payout released", Body: fmt.Sprintf("The payout for %s is on its way", title)}}
	case "return":
		return []Notice{{UID: ev.RenterUID, Category: models.CategoryInteractions, Title: "Return confirmed", Body: fmt.Sprintf("The return of %s was confirmed, leave a review", title)}}
	}
	return nil
}

// resolves reports whether the actor just handled an item that was
// flagged for them in the reservations category.
func resolves(ev ReservationEvent) bool {
	switch ev.Action {
	case "accept", "reject":
		return ev.ActorUID == ev.OwnerUID
	case "pay":
		return ev.ActorUID == ev.RenterUID
	}
	return false
}

// CounterHandler maintains counter aggregates and sends push notifications.
type CounterHandler struct {
	counters store.Counters
	notifier Notifier
	logger   Logger
}

// NewCounterHandler constructs a CounterHandler. notifier may be nil.
func NewCounterHandler(counters store.Counters, notifier Notifier, logger Logger) *CounterHandler {
	return &CounterHandler{counters: counters, notifier: notifier, logger: logger}
}

// Handle applies ev to the counter aggregates.
func (h *CounterHandler) Handle(ctx context.Context, ev ReservationEvent) error {
	if resolves(ev) {
		if _, err := h.counters.IncrementCounter(ctx, ev.ActorUID, models.CategoryReservations, -1); err != nil {
			return fmt.Errorf("decrement counter: %w", err)
		}
	}
	for _, n := range Notices(ev) {
		if n.UID == "" {
			continue
		}
		if _, err := h.counters.IncrementCounter(ctx, n.UID, n.Category, 1); err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}
		if h.notifier == nil {
			continue
		}
		data := map[string]string{
			"reservationId": ev.ReservationID,
			"category":      n.Category,
			"status":        string(ev.Status),
		}
		if err := h.notifier.Notify(ctx, n.UID, n.Title, n.Body, data); err != nil {
			h.logger.Errorf("push to %s failed: %v", n.UID, err)
		}
	}
	return nil
}
