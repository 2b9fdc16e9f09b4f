package fsm

import (
	"fmt"
	"time"

	"rentalBack/internal/rental/models"
)

// CanAccept reports whether uid may accept the request.
func CanAccept(r models.Reservation, uid string) bool {
	return r.Status == models.StatusRequested && r.IsOwner(uid)
}

// CanReject reports whether uid may reject the request.
func CanReject(r models.Reservation, uid string) bool {
	return r.Status == models.StatusRequested && r.IsOwner(uid)
}

// CanPay reports whether uid may pay for an accepted reservation.
func CanPay(r models.Reservation, uid string) bool {
	return r.Status == models.StatusAccepted && r.IsRenter(uid)
}

// CanMarkPickup reports whether uid may confirm the item was picked up.
func CanMarkPickup(r models.Reservation, uid string) bool {
	return r.Status == models.StatusPaid && r.IsRenter(uid)
}

// IsRefundable reports whether a paid reservation is still inside the refund
// window at now. The window is inclusive.
func IsRefundable(r models.Reservation, now time.Time, window time.Duration) bool {
	if r.Status != models.StatusPaid || !r.PickedUpAt.IsZero() || r.PaidAt.IsZero() {
		return false
	}
	return now.Sub(r.PaidAt.Time()) <= window
}

// CanCancel reports whether uid may cancel with a refund.
func CanCancel(r models.Reservation, uid string, now time.Time, window time.Duration) bool {
	return r.IsRenter(uid) && IsRefundable(r, now, window)
}

// CanReleasePayout reports whether uid may release the payout.
func CanReleasePayout(r models.Reservation, uid string) bool {
	return r.Status == models.StatusPickedUp && r.IsOwner(uid)
}

// CanConfirmReturn reports whether uid may confirm the item came back.
// Both picked_up and paid_out are accepted predecessors.
func CanConfirmReturn(r models.Reservation, uid string) bool {
	return (r.Status == models.StatusPickedUp || r.Status == models.StatusPaidOut) && r.IsOwner(uid)
}

// CanDeleteByOwner reports whether the owner may discard the reservation from their list.
func CanDeleteByOwner(r models.Reservation, uid string) bool {
	return (r.Status == models.StatusRequested || r.Status == models.StatusRejected) && r.IsOwner(uid)
}

// CanDeleteByRenter reports whether the renter may discard the reservation from their list.
func CanDeleteByRenter(r models.Reservation, uid string) bool {
	switch r.Status {
	case models.StatusRequested, models.StatusRejected, models.StatusCanceled:
		return r.IsRenter(uid)
	}
	return false
}

// CanRemoveFromList reports whether uid may hide the reservation from their own list.
func CanRemoveFromList(r models.Reservation, uid string) bool {
	if r.IsHiddenFor(uid) {
		return false
	}
	if CanDeleteByOwner(r, uid) || CanDeleteByRenter(r, uid) {
		return true
	}
	switch r.Status {
	case models.StatusReturned, models.StatusClosed:
		return r.IsParty(uid)
	}
	return false
}

// CanReview reports whether uid may still review the counterparty.
func CanReview(r models.Reservation, uid string) bool {
	if r.Status != models.StatusReturned && r.Status != models.StatusPaidOut {
		return false
	}
	target := r.Counterparty(uid)
	if target == "" {
		return false
	}
	return r.ReviewOpen(uid, target)
}

// Policy carries the time-dependent parameters of the rule set.
type Policy struct {
	RefundWindow time.Duration
}

// DefaultPolicy returns the default rule parameters.
func DefaultPolicy() Policy {
	return Policy{RefundWindow: DefaultRefundWindow}
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Check evaluates the predicate guarding action for uid and explains a denial.
func Check(action Action, r models.Reservation, uid string, now time.Time, p Policy) Decision {
	if uid == "" {
		return deny("actor is required")
	}
	role := RoleOf(r, uid)
	if role == RoleNone {
		return deny("actor is not a party to this reservation")
	}
	switch action {
	case ActionAccept, ActionReject:
		if !r.IsOwner(uid) {
			return deny("only the item owner can %s", action)
		}
		if r.Status != models.StatusRequested {
			return deny("reservation is %s, not requested", r.Status)
		}
	case ActionPay:
		if !r.IsRenter(uid) {
			return deny("only the renter can pay")
		}
		if r.Status != models.StatusAccepted {
			return deny("reservation is %s, not accepted", r.Status)
		}
	case ActionPickup:
		if !r.IsRenter(uid) {
			return deny("only the renter can confirm pickup")
		}
		if r.Status != models.StatusPaid {
			return deny("reservation is %s, not paid", r.Status)
		}
	case ActionCancel:
		if !r.IsRenter(uid) {
			return deny("only the renter can cancel")
		}
		if r.Status != models.StatusPaid {
			return deny("reservation is %s, not paid", r.Status)
		}
		if !r.PickedUpAt.IsZero() {
			return deny("item already picked up")
		}
		if !IsRefundable(r, now, p.RefundWindow) {
			return deny("refund window of %s has passed", p.RefundWindow)
		}
	case ActionPayout:
		if !CanReleasePayout(r, uid) {
			if r.Status != models.StatusPickedUp {
				return deny("reservation is %s, not picked_up", r.Status)
			}
			return deny("only the item owner can release the payout")
		}
	case ActionReturn:
		if !r.IsOwner(uid) {
			return deny("only the item owner can confirm the return")
		}
		if !CanConfirmReturn(r, uid) {
			return deny("reservation is %s, not picked_up or paid_out", r.Status)
		}
	case ActionRemove:
		if r.IsHiddenFor(uid) {
			return deny("reservation already removed from list")
		}
		if !CanRemoveFromList(r, uid) {
			return deny("reservation in status %s cannot be removed by the %s", r.Status, role)
		}
	case ActionReview:
		if r.Status != models.StatusReturned && r.Status != models.StatusPaidOut {
			return deny("reservation is %s, reviews open after return or payout", r.Status)
		}
		if !CanReview(r, uid) {
			return deny("review already submitted")
		}
	default:
		return deny("unknown action %q", action)
	}
	if target, ok := TargetOf(action); ok && !CanTransition(r.Status, target) {
		return deny("transition %s -> %s is not allowed", r.Status, target)
	}
	return allow()
}

// CheckSystem evaluates action on behalf of a background job. Only the
// payout release is open to it.
func CheckSystem(action Action, r models.Reservation) Decision {
	if action != ActionPayout {
		return deny("%s is not a system action", action)
	}
	if r.Status != models.StatusPickedUp {
		return deny("reservation is %s, not picked_up", r.Status)
	}
	return allow()
}

// Allowed lists the actions uid may perform now, for affordance display.
func Allowed(r models.Reservation, uid string, now time.Time, p Policy) []Action {
	all := []Action{
		ActionAccept, ActionReject, ActionPay, ActionPickup, ActionCancel,
		ActionPayout, ActionReturn, ActionRemove, ActionReview,
	}
	out := make([]Action, 0, len(all))
	for _, a := range all {
		if Check(a, r, uid, now, p).Allowed {
			out = append(out, a)
		}
	}
	return out
}
