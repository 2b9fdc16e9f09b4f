package store

import (
	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
)

// Stamp names the timestamp field a status change sets.
type Stamp string

const (
	StampAccepted Stamp = "acceptedAt"
	StampRejected Stamp = "rejectedAt"
	StampPaid     Stamp = "paidAt"
	StampPickedUp Stamp = "pickedUpAt"
	StampCanceled Stamp = "canceledAt"
	StampPaidOut  Stamp = "paidOutAt"
	StampReturned Stamp = "returnedAt"
)

// ActorField returns the audit field paired with the stamp, if any.
func (s Stamp) ActorField() string {
	switch s {
	case StampAccepted:
		return "acceptedBy"
	case StampRejected:
		return "rejectedBy"
	case StampPickedUp:
		return "pickedUpBy"
	case StampCanceled:
		return "canceledBy"
	case StampPaidOut:
		return "paidOutBy"
	case StampReturned:
		return "returnedBy"
	}
	return ""
}

// StampFor returns the stamp written when entering status.
func StampFor(status models.Status) Stamp {
	switch status {
	case models.StatusAccepted:
		return StampAccepted
	case models.StatusRejected:
		return StampRejected
	case models.StatusPaid:
		return StampPaid
	case models.StatusPickedUp:
		return StampPickedUp
	case models.StatusCanceled:
		return StampCanceled
	case models.StatusPaidOut:
		return StampPaidOut
	case models.StatusReturned:
		return StampReturned
	}
	return ""
}

// Change is the write set of one mutation. Every non-empty Change also
// stamps updatedAt with server time.
type Change struct {
	Status      models.Status
	Stamp       Stamp
	Actor       string
	CloseReview string
	HideFor     string
	// PaymentRef is recorded once, with the move to paid.
	PaymentRef  string
}

// IsZero reports whether the change writes nothing.
func (c Change) IsZero() bool {
	return c.Status == "" && c.CloseReview == "" && c.HideFor == ""
}

// ApplyChange writes c into r using server time now. Set timestamps are
// never overwritten and updatedAt never moves backwards.
func ApplyChange(r *models.Reservation, c Change, now clock.Timestamp) {
	now = clock.Max(now, r.UpdatedAt)
	if c.Status != "" {
		r.Status = c.Status
		if ts := stampField(r, c.Stamp); ts != nil && ts.IsZero() {
			*ts = now
		}
		if actor := actorField(r, c.Stamp); actor != nil && *actor == "" {
			*actor = c.Actor
		}
		if c.PaymentRef != "" && r.PaymentRef == "" {
			r.PaymentRef = c.PaymentRef
		}
	}
	if c.CloseReview != "" {
		if r.ReviewsOpen == nil {
			r.ReviewsOpen = map[string]bool{}
		}
		r.ReviewsOpen[c.CloseReview] = false
	}
	if c.HideFor != "" && !r.IsHiddenFor(c.HideFor) {
		r.HiddenFor = append(r.HiddenFor, c.HideFor)
	}
	r.UpdatedAt = now
}

func stampField(r *models.Reservation, s Stamp) *clock.Timestamp {
	switch s {
	case StampAccepted:
		return &r.AcceptedAt
	case StampRejected:
		return &r.RejectedAt
	case StampPaid:
		return &r.PaidAt
	case StampPickedUp:
		return &r.PickedUpAt
	case StampCanceled:
		return &r.CanceledAt
	case StampPaidOut:
		return &r.PaidOutAt
	case StampReturned:
		return &r.ReturnedAt
	}
	return nil
}

func actorField(r *models.Reservation, s Stamp) *string {
	switch s {
	case StampAccepted:
		return &r.AcceptedBy
	case StampRejected:
		return &r.RejectedBy
	case StampPickedUp:
		return &r.PickedUpBy
	case StampCanceled:
		return &r.CanceledBy
	case StampPaidOut:
		return &r.PaidOutBy
	case StampReturned:
		return &r.ReturnedBy
	}
	return nil
}
