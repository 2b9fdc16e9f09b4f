package models

import (
	"rentalBack/internal/rental/clock"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Status is the shared lifecycle state of a reservation.
type Status string

const (
	StatusRequested Status = "requested"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusPaid      Status = "paid"
	StatusPickedUp  Status = "picked_up"
	StatusPaidOut   Status = "paid_out"
	StatusReturned  Status = "returned"
	StatusCanceled  Status = "canceled"
	StatusClosed    Status = "closed"
)

// Statuses lists every known status.
var Statuses = []Status{
	StatusRequested, StatusAccepted, StatusRejected, StatusPaid, StatusPickedUp,
	StatusPaidOut, StatusReturned, StatusCanceled, StatusClosed,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// IsTerminal reports whether no role-initiated status change follows s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCanceled, StatusReturned, StatusClosed:
		return true
	}
	return false
}

// Kind separates plain rentals from help-offer reservations.
type Kind string

const (
	KindRental    Kind = "rental"
	KindHelpOffer Kind = "help_offer"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindRental || k == KindHelpOffer
}

// Reservation is the shared record both parties act on.
type Reservation struct {
	ID                string          `json:"id"`
	ItemOwnerUID      string          `json:"itemOwnerUid"`
	RenterUID         string          `json:"renterUid"`
	ItemID            string          `json:"itemId"`
	ItemTitle         string          `json:"itemTitle"`
	Kind              Kind            `json:"kind"`
	HelpRequestID     string          `json:"helpRequestId,omitempty"`
	StartDate         string          `json:"startDate"`
	EndDate           string          `json:"endDate"`
	Days              int             `json:"days"`
	Total             Amount          `json:"total"`
	IsFree            bool            `json:"isFree"`
	PaymentMethodType *string         `json:"paymentMethodType"`
	// PaymentRef identifies the capture that paid the reservation.
	PaymentRef        string          `json:"-"`
	Status            Status          `json:"status"`
	AcceptedBy        string          `json:"acceptedBy,omitempty"`
	RejectedBy        string          `json:"rejectedBy,omitempty"`
	PickedUpBy        string          `json:"pickedUpBy,omitempty"`
	CanceledBy        string          `json:"canceledBy,omitempty"`
	PaidOutBy         string          `json:"paidOutBy,omitempty"`
	ReturnedBy        string          `json:"returnedBy,omitempty"`
	CreatedAt         clock.Timestamp `json:"createdAt"`
	UpdatedAt         clock.Timestamp `json:"updatedAt"`
	AcceptedAt        clock.Timestamp `json:"acceptedAt"`
	RejectedAt        clock.Timestamp `json:"rejectedAt"`
	PaidAt            clock.Timestamp `json:"paidAt"`
	PickedUpAt        clock.Timestamp `json:"pickedUpAt"`
	CanceledAt        clock.Timestamp `json:"canceledAt"`
	PaidOutAt         clock.Timestamp `json:"paidOutAt"`
	ReturnedAt        clock.Timestamp `json:"returnedAt"`
	ReviewsOpen       map[string]bool `json:"reviewsOpen"`
	HiddenFor         []string        `json:"hiddenFor,omitempty"`
	// Version is the store's optimistic-concurrency token.
	Version int64 `json:"-"`
}

// ReviewKey identifies the reviewer→target review slot.
func ReviewKey(reviewerUID, targetUID string) string {
	return reviewerUID + "_" + targetUID
}

// OpenReviews returns the initial review gate for a new reservation.
func OpenReviews(ownerUID, renterUID string) map[string]bool {
	return map[string]bool{
		ReviewKey(ownerUID, renterUID): true,
		ReviewKey(renterUID, ownerUID): true,
	}
}

// IsOwner reports whether uid owns the reserved item.
func (r Reservation) IsOwner(uid string) bool {
	return uid != "" && uid == r.ItemOwnerUID
}

// IsRenter reports whether uid is the renter.
func (r Reservation) IsRenter(uid string) bool {
	return uid != "" && uid == r.RenterUID
}

// IsParty reports whether uid is owner or renter.
func (r Reservation) IsParty(uid string) bool {
	return r.IsOwner(uid) || r.IsRenter(uid)
}

// Counterparty returns the other party for uid, or "" when uid is not a party.
func (r Reservation) Counterparty(uid string) string {
	switch {
	case r.IsOwner(uid):
		return r.RenterUID
	case r.IsRenter(uid):
		return r.ItemOwnerUID
	}
	return ""
}

// ReviewOpen reports whether reviewer may still review target.
func (r Reservation) ReviewOpen(reviewerUID, targetUID string) bool {
	return r.ReviewsOpen[ReviewKey(reviewerUID, targetUID)]
}

// IsHiddenFor reports whether uid removed the reservation from their list.
func (r Reservation) IsHiddenFor(uid string) bool {
	return slices.Contains(r.HiddenFor, uid)
}

// Clone returns a deep copy.
func (r Reservation) Clone() Reservation {
	out := r
	if r.ReviewsOpen != nil {
		out.ReviewsOpen = maps.Clone(r.ReviewsOpen)
	}
	if r.HiddenFor != nil {
		out.HiddenFor = slices.Clone(r.HiddenFor)
	}
	if r.PaymentMethodType != nil {
		v := *r.PaymentMethodType
		out.PaymentMethodType = &v
	}
	return out
}
