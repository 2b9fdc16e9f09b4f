package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/events"
	"rentalBack/internal/rental/fsm"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// ActionCreate names reservation creation in errors and events.
const ActionCreate fsm.Action = "create"

// PaymentGateway is the opaque payment collaborator.
type PaymentGateway interface {
	Capture(ctx context.Context, r models.Reservation) error
	Refund(ctx context.Context, r models.Reservation) error
	Payout(ctx context.Context, r models.Reservation) error
}

// Publisher receives an event after every committed change.
type Publisher interface {
	Publish(ctx context.Context, ev events.ReservationEvent) error
}

// Service encapsulates role actions on reservations.
type Service struct {
	mutator  *Mutator
	store    store.Reservations
	payments PaymentGateway
	events   Publisher
	cfg      Config
	clock    clock.Clock
	logger   Logger
}

// NewService constructs a Service instance. payments and publisher may be nil.
func NewService(m *Mutator, payments PaymentGateway, publisher Publisher, logger Logger) *Service {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Service{
		mutator:  m,
		store:    m.store,
		payments: payments,
		events:   publisher,
		cfg:      m.cfg,
		clock:    m.clock,
		logger:   logger,
	}
}

// Config returns copy of the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// CreateInput is the renter's reservation request.
type CreateInput struct {
	ItemOwnerUID      string        `json:"itemOwnerUid" validate:"required,max=128"`
	ItemID            string        `json:"itemId" validate:"required,max=128"`
	ItemTitle         string        `json:"itemTitle" validate:"max=200"`
	Kind              models.Kind   `json:"kind" validate:"omitempty,oneof=rental help_offer"`
	HelpRequestID     string        `json:"helpRequestId" validate:"required_if=Kind help_offer"`
	StartDate         string        `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate           string        `json:"endDate" validate:"required,datetime=2006-01-02"`
	Total             models.Amount `json:"total"`
	IsFree            bool          `json:"isFree"`
	PaymentMethodType *string       `json:"paymentMethodType"`
}

// Create stores a new reservation requested by renterUID.
func (s *Service) Create(ctx context.Context, renterUID string, in CreateInput) (models.Reservation, error) {
	fail := func(reason string) (models.Reservation, error) {
		return models.Reservation{}, newError(KindValidation, ActionCreate, "", reason, nil)
	}
	if renterUID == "" {
		return fail("actor is required")
	}
	if in.ItemOwnerUID == "" || in.ItemID == "" {
		return fail("itemOwnerUid and itemId are required")
	}
	if in.ItemOwnerUID == renterUID {
		return fail("owners cannot rent their own item")
	}
	kind := in.Kind
	if kind == "" {
		kind = models.KindRental
	}
	if !kind.Valid() {
		return fail("unknown reservation kind")
	}
	if kind == models.KindHelpOffer && in.HelpRequestID == "" {
		return fail("helpRequestId is required for help offers")
	}
	days, err := models.DaysBetween(in.StartDate, in.EndDate)
	if err != nil {
		return fail(err.Error())
	}
	if !in.IsFree && in.Total.IsZero() {
		return fail("total is required unless the reservation is free")
	}

	r := models.Reservation{
		ItemOwnerUID:      in.ItemOwnerUID,
		RenterUID:         renterUID,
		ItemID:            in.ItemID,
		ItemTitle:         strings.TrimSpace(in.ItemTitle),
		Kind:              kind,
		HelpRequestID:     in.HelpRequestID,
		StartDate:         in.StartDate,
		EndDate:           in.EndDate,
		Days:              days,
		Total:             in.Total,
		IsFree:            in.IsFree,
		PaymentMethodType: in.PaymentMethodType,
		Status:            models.StatusRequested,
		ReviewsOpen:       models.OpenReviews(in.ItemOwnerUID, renterUID),
	}
	created, err := s.store.CreateReservation(ctx, r)
	if err != nil {
		s.logger.Errorf("create reservation for item %s: %v", in.ItemID, err)
		return models.Reservation{}, newError(KindTransport, ActionCreate, "", "state unknown", err)
	}
	s.publish(ctx, string(ActionCreate), created, renterUID)
	return created, nil
}

// Get returns the reservation if viewerUID is one of its parties.
func (s *Service) Get(ctx context.Context, id, viewerUID string) (models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return models.Reservation{}, s.mutator.classify("get", id, err)
	}
	if !r.IsParty(viewerUID) {
		return models.Reservation{}, newError(KindForbidden, "get", id, "actor is not a party to this reservation", nil)
	}
	return r, nil
}

// Do dispatches action to the matching operation.
func (s *Service) Do(ctx context.Context, action fsm.Action, id, actorUID string) (models.Reservation, error) {
	switch action {
	case fsm.ActionAccept:
		return s.Accept(ctx, id, actorUID)
	case fsm.ActionReject:
		return s.Reject(ctx, id, actorUID)
	case fsm.ActionPay:
		return s.Pay(ctx, id, actorUID)
	case fsm.ActionPickup:
		return s.MarkPickup(ctx, id, actorUID)
	case fsm.ActionCancel:
		return s.Cancel(ctx, id, actorUID)
	case fsm.ActionPayout:
		return s.ReleasePayout(ctx, id, actorUID)
	case fsm.ActionReturn:
		return s.ConfirmReturn(ctx, id, actorUID)
	case fsm.ActionRemove:
		return s.RemoveFromList(ctx, id, actorUID)
	case fsm.ActionReview:
		return s.SubmitReview(ctx, id, actorUID, ReviewInput{})
	}
	return models.Reservation{}, newError(KindValidation, action, id, "unknown action", nil)
}

// Accept is the owner's acceptance of a request.
func (s *Service) Accept(ctx context.Context, id, actorUID string) (models.Reservation, error) {
	return s.transition(ctx, id, fsm.ActionAccept, actorUID)
}

// Reject is the owner's refusal of a request.
func (s *Service) Reject(ctx context.Context, id, actorUID string) (models.Reservation, error) {
	return s.transition(ctx, id, fsm.ActionReject, actorUID)
}

// MarkPickup is the renter's confirmation that the item was handed over.
func (s *Service) MarkPickup(ctx context.Context, id, actorUID string) (models.Reservation, error) {
	return s.transition(ctx, id, fsm.ActionPickup, actorUID)
}

// ConfirmReturn is the owner's confirmation that the item came back.
func (s *Service) ConfirmReturn(ctx context.Context, id, actorUID string) (models.Reservation, error) {
	return s.transition(ctx, id, fsm.ActionReturn, actorUID)
}

func (s *Service) transition(ctx context.Context, id string, action fsm.Action, actorUID string) (models.Reservation, error) {
	r, err := s.mutator.Transition(ctx, id, action, actorUID)
	if err != nil {
		return models.Reservation{}, err
	}
	s.publish(ctx, string(action), r, actorUID)
	return r, nil
}

// Pay captures the payment and moves the reservation to paid. Each call
// captures under its own payment reference; the winning reference is stored
// with the status. A capture whose reference did not win is refunded.
func (s *Service) Pay(ctx context.Context, id, actorUID string) (models.Reservation, error) {
	current, err := s.precheck(ctx, fsm.ActionPay, id, actorUID)
	if err != nil {
		return models.Reservation{}, err
	}
	attempt := current
	attempt.PaymentRef = uuid.NewString()

	charged := false
	if !current.IsFree && s.payments != nil {
		if err := s.payments.Capture(ctx, attempt); err != nil {
			s.logger.Errorf("reservation %s: capture failed: %v", id, err)
			return models.Reservation{}, newError(KindPayment, fsm.ActionPay, id, "payment capture failed", err)
		}
		charged = true
	}
	r, err := s.mutator.Apply(ctx, id, fsm.ActionPay, actorUID, func(models.Reservation) store.Change {
		return store.Change{
			Status:     models.StatusPaid,
			Stamp:      store.StampPaid,
			Actor:      actorUID,
			PaymentRef: attempt.PaymentRef,
		}
	})
	if err != nil {
		if charged {
			s.settleLostCapture(ctx, attempt)
		}
		return models.Reservation{}, err
	}
	s.publish(ctx, string(fsm.ActionPay), r, actorUID)
	return r, nil
}

// settleLostCapture refunds attempt's capture unless the store shows it
// paid the reservation after all. When the store cannot be read the charge
// is left for manual follow-up.
func (s *Service) settleLostCapture(ctx context.Context, attempt models.Reservation) {
	ctx = context.WithoutCancel(ctx)
	stored, err := s.store.GetReservation(ctx, attempt.ID)
	if err != nil {
		s.logger.Errorf("reservation %s: capture %s not settled, needs manual follow-up: %v", attempt.ID, attempt.PaymentRef, err)
		return
	}
	if stored.PaymentRef == attempt.PaymentRef {
		return
	}
	if err := s.payments.Refund(ctx, attempt); err != nil {
		s.logger.Errorf("reservation %s: refund of capture %s failed: %v", attempt.ID, attempt.PaymentRef, err)
	}
}

// Cancel cancels a paid reservation inside the refund window and refunds it.
func (s *Service) Cancel(ctx context.Context, id, actorUID string) (models.Reservation, error) {
	r, err := s.mutator.Transition(ctx, id, fsm.ActionCancel, actorUID)
	if err != nil {
		return models.Reservation{}, err
	}
	if !r.IsFree && s.payments != nil {
		if err := s.payments.Refund(context.WithoutCancel(ctx), r); err != nil {
			s.logger.Errorf("reservation %s: refund failed, needs manual follow-up: %v", id, err)
		}
	}
	s.publish(ctx, string(fsm.ActionCancel), r, actorUID)
	return r, nil
}

// ReleasePayout moves a picked up reservation to paid_out and pays the owner.
func (s *Service) ReleasePayout(ctx context.Context, id, actorUID string) (models.Reservation, error) {
	r, err := s.mutator.Transition(ctx, id, fsm.ActionPayout, actorUID)
	if err != nil {
		return models.Reservation{}, err
	}
	s.payOwner(ctx, r, actorUID)
	return r, nil
}

func (s *Service) payOwner(ctx context.Context, r models.Reservation, actor string) {
	if !r.IsFree && s.payments != nil {
		if err := s.payments.Payout(context.WithoutCancel(ctx), r); err != nil {
			s.logger.Errorf("reservation %s: payout failed, needs manual follow-up: %v", r.ID, err)
		}
	}
	s.publish(ctx, string(fsm.ActionPayout), r, actor)
}

// ReleaseDuePayouts releases payouts for reservations picked up at least
// PayoutDelay before now. It returns how many were released.
func (s *Service) ReleaseDuePayouts(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListReservationsByStatus(ctx, models.StatusPickedUp, s.cfg.PayoutBatch)
	if err != nil {
		return 0, newError(KindTransport, fsm.ActionPayout, "", "list picked up reservations", err)
	}
	released := 0
	for _, r := range due {
		if r.PickedUpAt.IsZero() || now.Sub(r.PickedUpAt.Time()) < s.cfg.PayoutDelay {
			continue
		}
		paid, err := s.mutator.TransitionAsSystem(ctx, r.ID, fsm.ActionPayout)
		if err != nil {
			if errors.Is(err, ErrForbidden) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
				continue
			}
			return released, err
		}
		s.payOwner(ctx, paid, fsm.SystemActor)
		released++
	}
	return released, nil
}

// RemoveFromList hides the reservation for actorUID only.
func (s *Service) RemoveFromList(ctx context.Context, id, actorUID string) (models.Reservation, error) {
	r, err := s.mutator.Apply(ctx, id, fsm.ActionRemove, actorUID, func(models.Reservation) store.Change {
		return store.Change{HideFor: actorUID}
	})
	if err != nil {
		return models.Reservation{}, err
	}
	s.publish(ctx, string(fsm.ActionRemove), r, actorUID)
	return r, nil
}

// ReviewInput is the review payload forwarded to downstream consumers.
type ReviewInput struct {
	Rating int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Text   string `json:"text" validate:"max=2000"`
}

// SubmitReview closes the actor's review slot for the counterparty.
func (s *Service) SubmitReview(ctx context.Context, id, actorUID string, in ReviewInput) (models.Reservation, error) {
	if in.Rating < 0 || in.Rating > 5 {
		return models.Reservation{}, newError(KindValidation, fsm.ActionReview, id, "rating must be between 1 and 5", nil)
	}
	r, err := s.mutator.Apply(ctx, id, fsm.ActionReview, actorUID, func(current models.Reservation) store.Change {
		return store.Change{CloseReview: models.ReviewKey(actorUID, current.Counterparty(actorUID))}
	})
	if err != nil {
		return models.Reservation{}, err
	}
	ev := events.NewReservationEvent(string(fsm.ActionReview), r, actorUID)
	ev.Rating = in.Rating
	ev.ReviewText = in.Text
	s.emit(ctx, ev)
	return r, nil
}

// precheck evaluates the predicate on a fresh read before side effects that
// happen outside the store. The Mutator evaluates it again at commit.
func (s *Service) precheck(ctx context.Context, action fsm.Action, id, actorUID string) (models.Reservation, error) {
	if id == "" || actorUID == "" {
		return models.Reservation{}, newError(KindValidation, action, id, "reservation id and actor are required", nil)
	}
	current, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return models.Reservation{}, s.mutator.classify(action, id, err)
	}
	if d := fsm.Check(action, current, actorUID, s.clock.Now(), s.cfg.policy()); !d.Allowed {
		return models.Reservation{}, newError(KindForbidden, action, id, d.Reason, nil)
	}
	return current, nil
}

func (s *Service) publish(ctx context.Context, action string, r models.Reservation, actorUID string) {
	s.emit(ctx, events.NewReservationEvent(action, r, actorUID))
}

func (s *Service) emit(ctx context.Context, ev events.ReservationEvent) {
	if err := s.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Errorf("reservation %s: publish %s event: %v", ev.ReservationID, ev.Action, err)
	}
}
