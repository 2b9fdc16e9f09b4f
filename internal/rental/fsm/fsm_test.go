package fsm

import (
	"testing"
	"time"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
)

const (
	owner    = "owner-1"
	renter   = "renter-1"
	stranger = "someone-else"
)

func reservation(status models.Status) models.Reservation {
	return models.Reservation{
		ID:           "res-1",
		ItemOwnerUID: owner,
		RenterUID:    renter,
		Status:       status,
		ReviewsOpen:  models.OpenReviews(owner, renter),
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(models.StatusRequested, models.StatusAccepted) {
		t.Fatal("expected requested -> accepted to be allowed")
	}
	if !CanTransition(models.StatusPickedUp, models.StatusReturned) {
		t.Fatal("expected picked_up -> returned to be allowed")
	}
	if !CanTransition(models.StatusPaidOut, models.StatusReturned) {
		t.Fatal("expected paid_out -> returned to be allowed")
	}
	if CanTransition(models.StatusRequested, models.StatusPaid) {
		t.Fatal("unexpected transition requested -> paid allowed")
	}
	if CanTransition(models.StatusAccepted, models.StatusAccepted) {
		t.Fatal("self transitions must not be allowed")
	}
	for _, s := range []models.Status{models.StatusReturned, models.StatusRejected, models.StatusCanceled, models.StatusClosed} {
		for _, to := range models.Statuses {
			if CanTransition(s, to) {
				t.Fatalf("terminal %s must have no successors, got %s", s, to)
			}
		}
	}
}

func TestRoleGating(t *testing.T) {
	requested := reservation(models.StatusRequested)
	if CanAccept(requested, renter) {
		t.Fatal("renter must not accept")
	}
	if !CanAccept(requested, owner) || !CanReject(requested, owner) {
		t.Fatal("owner must be able to accept and reject")
	}
	accepted := reservation(models.StatusAccepted)
	if CanPay(accepted, owner) {
		t.Fatal("owner must not pay")
	}
	if !CanPay(accepted, renter) {
		t.Fatal("renter must be able to pay")
	}
	if CanAccept(requested, stranger) || CanPay(accepted, stranger) {
		t.Fatal("strangers have no affordances")
	}
	if CanAccept(requested, "") {
		t.Fatal("empty uid must never match")
	}
}

func TestRefundWindow(t *testing.T) {
	paidAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := reservation(models.StatusPaid)
	r.PaidAt = clock.FromTime(paidAt)
	eps := time.Millisecond

	if !IsRefundable(r, paidAt.Add(DefaultRefundWindow-eps), DefaultRefundWindow) {
		t.Fatal("expected refundable just inside the window")
	}
	if IsRefundable(r, paidAt.Add(DefaultRefundWindow+eps), DefaultRefundWindow) {
		t.Fatal("expected not refundable just outside the window")
	}

	picked := r
	picked.PickedUpAt = clock.FromTime(paidAt.Add(time.Hour))
	if IsRefundable(picked, paidAt.Add(2*time.Hour), DefaultRefundWindow) {
		t.Fatal("picked up reservations are never refundable")
	}
	if CanCancel(r, owner, paidAt.Add(time.Hour), DefaultRefundWindow) {
		t.Fatal("owner must not cancel with refund")
	}
}

func TestConfirmReturnPredecessors(t *testing.T) {
	for _, s := range []models.Status{models.StatusPickedUp, models.StatusPaidOut} {
		if !CanConfirmReturn(reservation(s), owner) {
			t.Fatalf("expected owner to confirm return from %s", s)
		}
		if CanConfirmReturn(reservation(s), renter) {
			t.Fatalf("renter must not confirm return from %s", s)
		}
	}
	if CanConfirmReturn(reservation(models.StatusPaid), owner) {
		t.Fatal("return before pickup must be rejected")
	}
}

func TestPayoutSystemActor(t *testing.T) {
	r := reservation(models.StatusPickedUp)
	if !CanReleasePayout(r, owner) {
		t.Fatal("owner may release payout")
	}
	if CanReleasePayout(r, renter) || CanReleasePayout(r, SystemActor) {
		t.Fatal("only the owner may release payout by uid")
	}
	if d := Check(ActionPayout, r, SystemActor, time.Now(), DefaultPolicy()); d.Allowed {
		t.Fatal("the system label must not act as a uid")
	}
	if d := CheckSystem(ActionPayout, r); !d.Allowed {
		t.Fatalf("expected system payout allowed, got %q", d.Reason)
	}
	if d := CheckSystem(ActionPayout, reservation(models.StatusPaid)); d.Allowed {
		t.Fatal("system payout requires picked_up")
	}
	if d := CheckSystem(ActionCancel, reservation(models.StatusPaid)); d.Allowed {
		t.Fatal("system may only release payouts")
	}
}

func TestDeleteAndRemovePredicates(t *testing.T) {
	if !CanDeleteByOwner(reservation(models.StatusRejected), owner) {
		t.Fatal("owner may delete rejected reservation")
	}
	if CanDeleteByOwner(reservation(models.StatusCanceled), owner) {
		t.Fatal("owner may not delete canceled reservation")
	}
	if !CanDeleteByRenter(reservation(models.StatusCanceled), renter) {
		t.Fatal("renter may delete canceled reservation")
	}
	if CanDeleteByRenter(reservation(models.StatusPaid), renter) {
		t.Fatal("renter may not delete paid reservation")
	}
	returned := reservation(models.StatusReturned)
	if !CanRemoveFromList(returned, owner) || !CanRemoveFromList(returned, renter) {
		t.Fatal("both parties may archive a returned reservation")
	}
	returned.HiddenFor = []string{owner}
	if CanRemoveFromList(returned, owner) {
		t.Fatal("already hidden reservation cannot be removed again")
	}
	if !CanRemoveFromList(returned, renter) {
		t.Fatal("hiding for one party must not affect the other")
	}
}

func TestCanReview(t *testing.T) {
	r := reservation(models.StatusReturned)
	if !CanReview(r, owner) || !CanReview(r, renter) {
		t.Fatal("both parties may review after return")
	}
	r.ReviewsOpen[models.ReviewKey(owner, renter)] = false
	if CanReview(r, owner) {
		t.Fatal("closed review slot must stay closed")
	}
	if !CanReview(r, renter) {
		t.Fatal("closing one direction must not close the other")
	}
	if CanReview(reservation(models.StatusPaid), renter) {
		t.Fatal("reviews open only after return or payout")
	}
}

func TestCheckReasons(t *testing.T) {
	now := time.Now()
	p := DefaultPolicy()
	d := Check(ActionAccept, reservation(models.StatusRequested), renter, now, p)
	if d.Allowed || d.Reason == "" {
		t.Fatalf("expected denial with reason, got %+v", d)
	}
	d = Check(ActionAccept, reservation(models.StatusAccepted), owner, now, p)
	if d.Allowed {
		t.Fatal("accepting twice must be denied")
	}
	d = Check(Action("teleport"), reservation(models.StatusAccepted), owner, now, p)
	if d.Allowed {
		t.Fatal("unknown action must be denied")
	}
	got := Allowed(reservation(models.StatusRequested), owner, now, p)
	want := map[Action]bool{ActionAccept: true, ActionReject: true, ActionRemove: true}
	if len(got) != len(want) {
		t.Fatalf("unexpected affordances %v", got)
	}
	for _, a := range got {
		if !want[a] {
			t.Fatalf("unexpected affordance %s", a)
		}
	}
}
