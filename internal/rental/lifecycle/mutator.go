package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/fsm"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// Logger provides minimal logging required by the lifecycle package.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Mutator performs read-validate-write cycles against the reservation store.
// It is the only writer of reservation status.
type Mutator struct {
	store  store.Reservations
	cfg    Config
	clock  clock.Clock
	logger Logger
}

// NewMutator constructs a Mutator instance.
func NewMutator(st store.Reservations, cfg Config, clk clock.Clock, logger Logger) *Mutator {
	return &Mutator{store: st, cfg: cfg.withDefaults(), clock: clock.Or(clk), logger: logger}
}

// Transition moves the reservation to the status written by action.
func (m *Mutator) Transition(ctx context.Context, id string, action fsm.Action, actorUID string) (models.Reservation, error) {
	target, ok := fsm.TargetOf(action)
	if !ok {
		return models.Reservation{}, newError(KindValidation, action, id, "action does not change status", nil)
	}
	return m.Apply(ctx, id, action, actorUID, func(models.Reservation) store.Change {
		return store.Change{Status: target, Stamp: store.StampFor(target), Actor: actorUID}
	})
}

// TransitionTo moves the reservation to target on behalf of actorUID.
func (m *Mutator) TransitionTo(ctx context.Context, id string, target models.Status, actorUID string) (models.Reservation, error) {
	action, ok := fsm.ActionFor(target)
	if !ok {
		return models.Reservation{}, newError(KindValidation, "", id, fmt.Sprintf("status %q is not a transition target", target), nil)
	}
	return m.Transition(ctx, id, action, actorUID)
}

// Apply runs the optimistic loop for action. build derives the write set
// from the snapshot that passed the predicate; it may only change status to
// the action's own target.
func (m *Mutator) Apply(ctx context.Context, id string, action fsm.Action, actorUID string, build func(models.Reservation) store.Change) (models.Reservation, error) {
	if actorUID == "" {
		return models.Reservation{}, newError(KindValidation, action, id, "actor is required", nil)
	}
	policy := m.cfg.policy()
	check := func(current models.Reservation) fsm.Decision {
		return fsm.Check(action, current, actorUID, m.clock.Now(), policy)
	}
	return m.apply(ctx, id, action, check, build)
}

// TransitionAsSystem performs action for a background job. The change is
// stamped with fsm.SystemActor and gated by fsm.CheckSystem.
func (m *Mutator) TransitionAsSystem(ctx context.Context, id string, action fsm.Action) (models.Reservation, error) {
	target, ok := fsm.TargetOf(action)
	if !ok {
		return models.Reservation{}, newError(KindValidation, action, id, "action does not change status", nil)
	}
	check := func(current models.Reservation) fsm.Decision {
		return fsm.CheckSystem(action, current)
	}
	return m.apply(ctx, id, action, check, func(models.Reservation) store.Change {
		return store.Change{Status: target, Stamp: store.StampFor(target), Actor: fsm.SystemActor}
	})
}

func (m *Mutator) apply(ctx context.Context, id string, action fsm.Action, check func(models.Reservation) fsm.Decision, build func(models.Reservation) store.Change) (models.Reservation, error) {
	switch {
	case id == "":
		return models.Reservation{}, newError(KindValidation, action, id, "reservation id is required", nil)
	case !action.Valid():
		return models.Reservation{}, newError(KindValidation, action, id, "unknown action", nil)
	}

	var lastConflict error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		current, err := m.store.GetReservation(ctx, id)
		if err != nil {
			return models.Reservation{}, m.classify(action, id, err)
		}
		if decision := check(current); !decision.Allowed {
			return models.Reservation{}, newError(KindForbidden, action, id, decision.Reason, nil)
		}
		change := build(current)
		if err := validateChange(action, current, change); err != nil {
			return models.Reservation{}, newError(KindValidation, action, id, err.Error(), nil)
		}
		next, err := m.store.UpdateReservation(ctx, id, current.Version, change)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return models.Reservation{}, m.classify(action, id, err)
		}
		lastConflict = err
		m.logger.Infof("reservation %s: %s lost race on attempt %d/%d", id, action, attempt, m.cfg.MaxAttempts)
	}
	return models.Reservation{}, newError(KindConflict, action, id, "concurrent modification, retry", lastConflict)
}

func validateChange(action fsm.Action, current models.Reservation, c store.Change) error {
	if c.IsZero() {
		return errors.New("empty change")
	}
	if c.Status == "" {
		return nil
	}
	target, ok := fsm.TargetOf(action)
	if !ok || c.Status != target {
		return fmt.Errorf("action %s cannot write status %s", action, c.Status)
	}
	if !fsm.CanTransition(current.Status, c.Status) {
		return fmt.Errorf("transition %s -> %s is not allowed", current.Status, c.Status)
	}
	return nil
}

func (m *Mutator) classify(action fsm.Action, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, action, id, "", err)
	}
	m.logger.Errorf("reservation %s: %s store failure: %v", id, action, err)
	return newError(KindTransport, action, id, "state unknown", err)
}
