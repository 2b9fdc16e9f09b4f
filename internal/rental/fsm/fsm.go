package fsm

import (
	"time"

	"rentalBack/internal/rental/models"
)

// DefaultRefundWindow is how long after payment the renter may cancel with a refund.
const DefaultRefundWindow = 7 * 24 * time.Hour

// SystemActor is the audit label recorded for changes made by background
// jobs. It is not a uid: predicates never grant it anything, and system
// changes go through CheckSystem.
const SystemActor = "system"

// Action names a role-initiated operation on a reservation.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionPay    Action = "pay"
	ActionPickup Action = "pickup"
	ActionCancel Action = "cancel"
	ActionPayout Action = "payout"
	ActionReturn Action = "return"
	ActionRemove Action = "remove"
	ActionReview Action = "review"
)

var transitions = map[models.Status]map[models.Status]struct{}{
	models.StatusRequested: {models.StatusAccepted: {}, models.StatusRejected: {}},
	models.StatusAccepted:  {models.StatusPaid: {}},
	models.StatusPaid:      {models.StatusPickedUp: {}, models.StatusCanceled: {}},
	models.StatusPickedUp:  {models.StatusPaidOut: {}, models.StatusReturned: {}},
	models.StatusPaidOut:   {models.StatusReturned: {}},
	models.StatusReturned:  {},
	models.StatusRejected:  {},
	models.StatusCanceled:  {},
	models.StatusClosed:    {},
}

var targets = map[Action]models.Status{
	ActionAccept: models.StatusAccepted,
	ActionReject: models.StatusRejected,
	ActionPay:    models.StatusPaid,
	ActionPickup: models.StatusPickedUp,
	ActionCancel: models.StatusCanceled,
	ActionPayout: models.StatusPaidOut,
	ActionReturn: models.StatusReturned,
}

// CanTransition returns whether the reservation can move from one status to another.
func CanTransition(from, to models.Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// TargetOf returns the status an action writes. Actions that do not change
// the shared status (remove, review) report false.
func TargetOf(a Action) (models.Status, bool) {
	s, ok := targets[a]
	return s, ok
}

// ActionFor returns the action that writes the target status.
func ActionFor(target models.Status) (Action, bool) {
	for a, s := range targets {
		if s == target {
			return a, true
		}
	}
	return "", false
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionRemove, ActionReview:
		return true
	}
	_, ok := targets[a]
	return ok
}

// Role is the viewer's relation to a reservation.
type Role string

const (
	RoleNone   Role = ""
	RoleOwner  Role = "owner"
	RoleRenter Role = "renter"
)

// RoleOf derives the viewer role from uid. Owner wins when uid is both.
func RoleOf(r models.Reservation, uid string) Role {
	switch {
	case r.IsOwner(uid):
		return RoleOwner
	case r.IsRenter(uid):
		return RoleRenter
	}
	return RoleNone
}
