package counters

import (
	"context"
	"errors"
	"testing"
	"time"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
	"rentalBack/internal/rental/store/memstore"
)

type stubFreshness struct {
	known  map[string]bool
	hasNew map[string]bool
}

func (s stubFreshness) Knows(c string) bool  { return s.known[c] }
func (s stubFreshness) HasNew(c string) bool { return s.hasNew[c] }

func doc(ms int64, counts map[string]int) models.Counters {
	c := models.Counters{UID: "u", Counts: counts, UpdatedAt: clock.FromMillis(ms)}
	c.Recompute()
	return c
}

func TestBadgeDefersToFreshness(t *testing.T) {
	fresh := stubFreshness{
		known:  map[string]bool{models.CategoryReservations: true, models.CategoryPayments: true},
		hasNew: map[string]bool{models.CategoryPayments: true},
	}
	r := NewReader("u", fresh)
	r.Apply(doc(10, map[string]int{
		models.CategoryReservations: 3,
		models.CategoryMessages:     2,
	}))

	if got := r.Badge(models.CategoryReservations); got != 0 {
		t.Fatalf("stale aggregate must yield to freshness, got %d", got)
	}
	if got := r.Badge(models.CategoryPayments); got != 1 {
		t.Fatalf("fresh activity with a zero aggregate must show 1, got %d", got)
	}
	if got := r.Badge(models.CategoryMessages); got != 2 {
		t.Fatalf("untracked category uses the aggregate, got %d", got)
	}
	if r.Total() != 5 {
		t.Fatalf("expected raw total 5, got %d", r.Total())
	}
}

func TestDecrementHoldsUntilNewerDocument(t *testing.T) {
	r := NewReader("u", nil)
	r.Apply(doc(10, map[string]int{models.CategoryReservations: 3}))
	r.Decrement(models.CategoryReservations)
	if r.Count(models.CategoryReservations) != 0 {
		t.Fatal("decrement must zero the category locally")
	}

	r.Apply(doc(10, map[string]int{models.CategoryReservations: 3}))
	if r.Count(models.CategoryReservations) != 0 {
		t.Fatal("a redelivered document must not undo the decrement")
	}

	r.Apply(doc(11, map[string]int{models.CategoryReservations: 1}))
	if r.Count(models.CategoryReservations) != 1 {
		t.Fatal("a newer server document must replace the local decrement")
	}
}

func TestApplyIgnoresOlderDocuments(t *testing.T) {
	r := NewReader("u", nil)
	r.Apply(doc(20, map[string]int{models.CategoryPayments: 4}))
	r.Apply(doc(10, map[string]int{models.CategoryPayments: 9}))
	if r.Count(models.CategoryPayments) != 4 {
		t.Fatalf("expected 4, got %d", r.Count(models.CategoryPayments))
	}
}

func TestStartFollowsCounterDocument(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	r := NewReader("u", nil)
	changes := 0
	sub, err := r.Start(ctx, st, store.Backoff{}, func() { changes++ })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sub.Stop()

	if _, err := st.IncrementCounter(ctx, "u", models.CategoryReservations, 2); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if r.Count(models.CategoryReservations) != 2 {
		t.Fatalf("expected 2, got %d", r.Count(models.CategoryReservations))
	}
	if _, err := st.ResetCounter(ctx, "u", models.CategoryReservations); err != nil {
		t.Fatalf("ResetCounter: %v", err)
	}
	if r.Count(models.CategoryReservations) != 0 {
		t.Fatal("reset must flow into the reader")
	}
	if changes != 3 {
		t.Fatalf("expected initial snapshot plus two updates, got %d", changes)
	}
}

func TestStartRecoversFromCounterStreamFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := memstore.New()
	r := NewReader("u", nil)
	sub, err := r.Start(ctx, st, store.Backoff{Min: time.Millisecond, Max: 4 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sub.Stop()

	st.FailCounters("u", errors.New("stream reset"))
	if _, err := st.IncrementCounter(ctx, "u", models.CategoryMessages, 3); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if r.Count(models.CategoryMessages) != 0 {
		t.Fatal("a failed stream must not deliver")
	}
	st.RecoverCounters("u")

	deadline := time.Now().Add(2 * time.Second)
	for r.Count(models.CategoryMessages) != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 after recovery, got %d", r.Count(models.CategoryMessages))
		}
		time.Sleep(time.Millisecond)
	}
}
