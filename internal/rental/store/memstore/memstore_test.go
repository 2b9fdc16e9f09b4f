package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

func frozen(t time.Time) Option {
	return WithNow(func() time.Time { return t })
}

func TestUpdateReservationVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := New()
	r, err := s.CreateReservation(ctx, models.Reservation{ItemOwnerUID: "o", RenterUID: "r", Status: models.StatusRequested})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if r.ID == "" || r.CreatedAt.IsZero() {
		t.Fatalf("store must assign id and timestamps, got %+v", r)
	}
	change := store.Change{Status: models.StatusAccepted, Stamp: store.StampAccepted, Actor: "o"}
	updated, err := s.UpdateReservation(ctx, r.ID, r.Version, change)
	if err != nil {
		t.Fatalf("UpdateReservation: %v", err)
	}
	if !updated.UpdatedAt.After(r.UpdatedAt) {
		t.Fatalf("updatedAt must advance: %v -> %v", r.UpdatedAt, updated.UpdatedAt)
	}
	if _, err := s.UpdateReservation(ctx, r.ID, r.Version, change); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if _, err := s.UpdateReservation(ctx, "missing", 1, change); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServerClockIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New(frozen(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	a, _ := s.CreateReservation(ctx, models.Reservation{ItemOwnerUID: "o", RenterUID: "r"})
	b, _ := s.CreateReservation(ctx, models.Reservation{ItemOwnerUID: "o", RenterUID: "r"})
	if !b.CreatedAt.After(a.CreatedAt) {
		t.Fatalf("expected strictly increasing server time, got %v then %v", a.CreatedAt, b.CreatedAt)
	}
}

func TestSubscribeReservationsDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := store.Query{Field: store.FieldOwner, UID: "o"}
	var got [][]models.Reservation
	sub, err := s.SubscribeReservations(ctx, q, func(items []models.Reservation, err error) {
		if err != nil {
			t.Errorf("unexpected error %v", err)
			return
		}
		got = append(got, items)
	})
	if err != nil {
		t.Fatalf("SubscribeReservations: %v", err)
	}
	if len(got) != 1 || len(got[0]) != 0 {
		t.Fatalf("expected an initial empty snapshot, got %v", got)
	}
	r, _ := s.CreateReservation(ctx, models.Reservation{ItemOwnerUID: "o", RenterUID: "r"})
	s.CreateReservation(ctx, models.Reservation{ItemOwnerUID: "other", RenterUID: "r"})
	if len(got) != 2 || len(got[1]) != 1 || got[1][0].ID != r.ID {
		t.Fatalf("expected one matching snapshot, got %v", got)
	}
	sub.Stop()
	s.CreateReservation(ctx, models.Reservation{ItemOwnerUID: "o", RenterUID: "r"})
	if len(got) != 2 {
		t.Fatal("no snapshots after Stop")
	}
	if s.ActiveListeners(q) != 0 {
		t.Fatal("listener leaked after Stop")
	}
}

func TestFailTerminatesListeners(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := store.Query{Field: store.FieldRenter, UID: "r"}
	boom := errors.New("permission denied")
	var lastErr error
	if _, err := s.SubscribeReservations(ctx, q, func(_ []models.Reservation, err error) { lastErr = err }); err != nil {
		t.Fatalf("SubscribeReservations: %v", err)
	}
	s.Fail(q, boom)
	if !errors.Is(lastErr, boom) {
		t.Fatalf("expected listener to receive %v, got %v", boom, lastErr)
	}
	if _, err := s.SubscribeReservations(ctx, q, func([]models.Reservation, error) {}); !errors.Is(err, boom) {
		t.Fatalf("expected subscribe to fail while faulted, got %v", err)
	}
	s.Recover(q)
	if _, err := s.SubscribeReservations(ctx, q, func([]models.Reservation, error) {}); err != nil {
		t.Fatalf("expected subscribe to succeed after Recover, got %v", err)
	}
	if s.SubscribeCalls(q) != 3 {
		t.Fatalf("expected 3 subscribe calls, got %d", s.SubscribeCalls(q))
	}
}

func TestAdvanceWatermarkIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()
	w, changed, err := s.AdvanceWatermark(ctx, "u", models.CategoryReservations, clock.FromMillis(200))
	if err != nil || !changed {
		t.Fatalf("expected first advance to write, changed=%v err=%v", changed, err)
	}
	if ts, _ := w.LastSeen(models.CategoryReservations); ts.Millis() != 200 {
		t.Fatalf("unexpected watermark %v", ts)
	}
	_, changed, _ = s.AdvanceWatermark(ctx, "u", models.CategoryReservations, clock.FromMillis(100))
	if changed {
		t.Fatal("watermark must never move backwards")
	}
	_, changed, _ = s.AdvanceWatermark(ctx, "u", models.CategoryReservations, clock.FromMillis(200))
	if changed {
		t.Fatal("advancing to the same instant must be a no-op")
	}
}

func TestCountersNeverNegative(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.IncrementCounter(ctx, "u", models.CategoryReservations, 2); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	c, _ := s.IncrementCounter(ctx, "u", models.CategoryReservations, -5)
	if c.Count(models.CategoryReservations) != 0 || c.Total != 0 {
		t.Fatalf("expected clamped counters, got %+v", c)
	}
	s.IncrementCounter(ctx, "u", models.CategoryPayments, 3)
	c, _ = s.ResetCounter(ctx, "u", models.CategoryReservations)
	if c.Total != 3 {
		t.Fatalf("expected total 3, got %d", c.Total)
	}
}
