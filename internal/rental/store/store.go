package store

import (
	"context"
	"errors"
	"strings"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned when a conditional write lost a race.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Field is the party field a query filters on.
type Field string

const (
	FieldOwner  Field = "itemOwnerUid"
	FieldRenter Field = "renterUid"
)

// Query selects the reservations in which UID plays the Field role.
type Query struct {
	Field Field
	UID   string
	Kind  models.Kind
}

// Key is the query identity used to share live subscriptions.
func (q Query) Key() string {
	var b strings.Builder
	b.WriteString(string(q.Field))
	b.WriteByte('=')
	b.WriteString(q.UID)
	b.WriteString("|kind=")
	b.WriteString(string(q.kind()))
	return b.String()
}

func (q Query) kind() models.Kind {
	if q.Kind == "" {
		return models.KindRental
	}
	return q.Kind
}

// Matches reports whether r belongs to the query result.
func (q Query) Matches(r models.Reservation) bool {
	kind := r.Kind
	if kind == "" {
		kind = models.KindRental
	}
	if kind != q.kind() {
		return false
	}
	switch q.Field {
	case FieldOwner:
		return r.ItemOwnerUID == q.UID
	case FieldRenter:
		return r.RenterUID == q.UID
	}
	return false
}

// Validate rejects queries the backends cannot serve.
func (q Query) Validate() error {
	if q.Field != FieldOwner && q.Field != FieldRenter {
		return errors.New("store: query field must be itemOwnerUid or renterUid")
	}
	if q.UID == "" {
		return errors.New("store: query uid is required")
	}
	if !q.kind().Valid() {
		return errors.New("store: unknown reservation kind")
	}
	return nil
}

// Subscription is a live store listener.
type Subscription interface {
	// Stop releases the listener. No callback starts after Stop returns.
	Stop()
}

// StopFunc adapts a function to Subscription.
type StopFunc func()

func (f StopFunc) Stop() { f() }

// SnapshotFunc receives the full result set of a query on every change, or
// the error that terminated the listener. After an error no further
// snapshots are delivered for that subscription.
type SnapshotFunc func(items []models.Reservation, err error)

// Reservations is the reservation collection.
type Reservations interface {
	// CreateReservation stores r with a fresh id and server timestamps.
	CreateReservation(ctx context.Context, r models.Reservation) (models.Reservation, error)
	GetReservation(ctx context.Context, id string) (models.Reservation, error)
	// UpdateReservation applies c only if the stored version still equals
	// version, otherwise it fails with ErrVersionConflict.
	UpdateReservation(ctx context.Context, id string, version int64, c Change) (models.Reservation, error)
	ListReservations(ctx context.Context, q Query) ([]models.Reservation, error)
	ListReservationsByStatus(ctx context.Context, status models.Status, limit int) ([]models.Reservation, error)
	SubscribeReservations(ctx context.Context, q Query, fn SnapshotFunc) (Subscription, error)
}

// Watermarks is the per-user last-seen collection.
type Watermarks interface {
	// GetWatermark returns an empty watermark when none exists yet.
	GetWatermark(ctx context.Context, uid string) (models.Watermark, error)
	// AdvanceWatermark moves category forward to `to`. It never moves
	// backwards and reports whether anything was written.
	AdvanceWatermark(ctx context.Context, uid, category string, to clock.Timestamp) (models.Watermark, bool, error)
	SubscribeWatermark(ctx context.Context, uid string, fn func(models.Watermark, error)) (Subscription, error)
}

// Counters is the per-user counter aggregate collection.
type Counters interface {
	GetCounters(ctx context.Context, uid string) (models.Counters, error)
	IncrementCounter(ctx context.Context, uid, category string, delta int) (models.Counters, error)
	ResetCounter(ctx context.Context, uid, category string) (models.Counters, error)
	SubscribeCounters(ctx context.Context, uid string, fn func(models.Counters, error)) (Subscription, error)
}

// Store bundles the three collections.
type Store interface {
	Reservations
	Watermarks
	Counters
}

// Composite assembles a Store from separate backends.
type Composite struct {
	Reservations
	Watermarks
	Counters
}
