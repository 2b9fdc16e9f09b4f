// Package firestorestore implements the store interfaces on Cloud
// Firestore. Document update times serve as optimistic versions.
package firestorestore

import (
	"time"

	"cloud.google.com/go/firestore"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

const (
	reservationsCollection = "reservations"
	seenCollection         = "seen"
	countersCollection     = "counters"
)

type reservationDoc struct {
	ItemOwnerUID      string          `firestore:"itemOwnerUid"`
	RenterUID         string          `firestore:"renterUid"`
	ItemID            string          `firestore:"itemId"`
	ItemTitle         string          `firestore:"itemTitle"`
	Kind              string          `firestore:"kind"`
	HelpRequestID     string          `firestore:"helpRequestId"`
	StartDate         string          `firestore:"startDate"`
	EndDate           string          `firestore:"endDate"`
	Days              int             `firestore:"days"`
	Total             string          `firestore:"total"`
	IsFree            bool            `firestore:"isFree"`
	PaymentMethodType *string         `firestore:"paymentMethodType"`
	PaymentRef        string          `firestore:"paymentRef"`
	Status            string          `firestore:"status"`
	AcceptedBy        string          `firestore:"acceptedBy"`
	RejectedBy        string          `firestore:"rejectedBy"`
	PickedUpBy        string          `firestore:"pickedUpBy"`
	CanceledBy        string          `firestore:"canceledBy"`
	PaidOutBy         string          `firestore:"paidOutBy"`
	ReturnedBy        string          `firestore:"returnedBy"`
	CreatedAt         time.Time       `firestore:"createdAt"`
	UpdatedAt         time.Time       `firestore:"updatedAt"`
	AcceptedAt        time.Time       `firestore:"acceptedAt"`
	RejectedAt        time.Time       `firestore:"rejectedAt"`
	PaidAt            time.Time       `firestore:"paidAt"`
	PickedUpAt        time.Time       `firestore:"pickedUpAt"`
	CanceledAt        time.Time       `firestore:"canceledAt"`
	PaidOutAt         time.Time       `firestore:"paidOutAt"`
	ReturnedAt        time.Time       `firestore:"returnedAt"`
	ReviewsOpen       map[string]bool `firestore:"reviewsOpen"`
	HiddenFor         []string        `firestore:"hiddenFor"`
}

func stamp(t time.Time) clock.Timestamp {
	if t.IsZero() {
		return clock.Timestamp{}
	}
	return clock.FromTime(t)
}

func (d reservationDoc) model(id string, updateTime time.Time) models.Reservation {
	kind := models.Kind(d.Kind)
	if kind == "" {
		kind = models.KindRental
	}
	return models.Reservation{
		ID:                id,
		ItemOwnerUID:      d.ItemOwnerUID,
		RenterUID:         d.RenterUID,
		ItemID:            d.ItemID,
		ItemTitle:         d.ItemTitle,
		Kind:              kind,
		HelpRequestID:     d.HelpRequestID,
		StartDate:         d.StartDate,
		EndDate:           d.EndDate,
		Days:              d.Days,
		Total:             models.Amount(d.Total),
		IsFree:            d.IsFree,
		PaymentMethodType: d.PaymentMethodType,
		PaymentRef:        d.PaymentRef,
		Status:            models.Status(d.Status),
		AcceptedBy:        d.AcceptedBy,
		RejectedBy:        d.RejectedBy,
		PickedUpBy:        d.PickedUpBy,
		CanceledBy:        d.CanceledBy,
		PaidOutBy:         d.PaidOutBy,
		ReturnedBy:        d.ReturnedBy,
		CreatedAt:         stamp(d.CreatedAt),
		UpdatedAt:         stamp(d.UpdatedAt),
		AcceptedAt:        stamp(d.AcceptedAt),
		RejectedAt:        stamp(d.RejectedAt),
		PaidAt:            stamp(d.PaidAt),
		PickedUpAt:        stamp(d.PickedUpAt),
		CanceledAt:        stamp(d.CanceledAt),
		PaidOutAt:         stamp(d.PaidOutAt),
		ReturnedAt:        stamp(d.ReturnedAt),
		ReviewsOpen:       d.ReviewsOpen,
		HiddenFor:         d.HiddenFor,
		Version:           updateTime.UnixNano(),
	}
}

// createData is the initial document. Server time fills createdAt and
// updatedAt; unset stamps are omitted.
func createData(r models.Reservation) map[string]interface{} {
	kind := r.Kind
	if kind == "" {
		kind = models.KindRental
	}
	reviews := r.ReviewsOpen
	if reviews == nil {
		reviews = map[string]bool{}
	}
	hidden := r.HiddenFor
	if hidden == nil {
		hidden = []string{}
	}
	return map[string]interface{}{
		"itemOwnerUid":      r.ItemOwnerUID,
		"renterUid":         r.RenterUID,
		"itemId":            r.ItemID,
		"itemTitle":         r.ItemTitle,
		"kind":              string(kind),
		"helpRequestId":     r.HelpRequestID,
		"startDate":         r.StartDate,
		"endDate":           r.EndDate,
		"days":              r.Days,
		"total":             string(r.Total),
		"isFree":            r.IsFree,
		"paymentMethodType": r.PaymentMethodType,
		"status":            string(r.Status),
		"reviewsOpen":       reviews,
		"hiddenFor":         hidden,
		"createdAt":         firestore.ServerTimestamp,
		"updatedAt":         firestore.ServerTimestamp,
	}
}

// changeUpdates translates c against the current document. Stamps and
// actors already set are left untouched.
func changeUpdates(current models.Reservation, c store.Change) []firestore.Update {
	var ups []firestore.Update
	if c.Status != "" {
		ups = append(ups, firestore.Update{Path: "status", Value: string(c.Status)})
		if c.Stamp != "" && stampUnset(current, c.Stamp) {
			ups = append(ups, firestore.Update{Path: string(c.Stamp), Value: firestore.ServerTimestamp})
		}
		if field := c.Stamp.ActorField(); field != "" && c.Actor != "" && actorOf(current, c.Stamp) == "" {
			ups = append(ups, firestore.Update{Path: field, Value: c.Actor})
		}
		if c.PaymentRef != "" && current.PaymentRef == "" {
			ups = append(ups, firestore.Update{Path: "paymentRef", Value: c.PaymentRef})
		}
	}
	if c.CloseReview != "" {
		ups = append(ups, firestore.Update{FieldPath: firestore.FieldPath{"reviewsOpen", c.CloseReview}, Value: false})
	}
	if c.HideFor != "" {
		ups = append(ups, firestore.Update{Path: "hiddenFor", Value: firestore.ArrayUnion(c.HideFor)})
	}
	if len(ups) > 0 {
		ups = append(ups, firestore.Update{Path: "updatedAt", Value: firestore.ServerTimestamp})
	}
	return ups
}

func stampUnset(r models.Reservation, s store.Stamp) bool {
	switch s {
	case store.StampAccepted:
		return r.AcceptedAt.IsZero()
	case store.StampRejected:
		return r.RejectedAt.IsZero()
	case store.StampPaid:
		return r.PaidAt.IsZero()
	case store.StampPickedUp:
		return r.PickedUpAt.IsZero()
	case store.StampCanceled:
		return r.CanceledAt.IsZero()
	case store.StampPaidOut:
		return r.PaidOutAt.IsZero()
	case store.StampReturned:
		return r.ReturnedAt.IsZero()
	}
	return false
}

func actorOf(r models.Reservation, s store.Stamp) string {
	switch s {
	case store.StampAccepted:
		return r.AcceptedBy
	case store.StampRejected:
		return r.RejectedBy
	case store.StampPickedUp:
		return r.PickedUpBy
	case store.StampCanceled:
		return r.CanceledBy
	case store.StampPaidOut:
		return r.PaidOutBy
	case store.StampReturned:
		return r.ReturnedBy
	}
	return ""
}
