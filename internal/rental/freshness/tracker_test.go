package freshness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
	"rentalBack/internal/rental/store/memstore"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

type stubMarker struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (m *stubMarker) MarkSeen(_ context.Context, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, category)
	return m.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func requested(id string, updatedMs int64) models.Reservation {
	return models.Reservation{
		ID:           id,
		ItemOwnerUID: "owner",
		RenterUID:    "renter",
		Status:       models.StatusRequested,
		UpdatedAt:    clock.FromMillis(updatedMs),
	}
}

func watermark(ms int64) models.Watermark {
	return models.Watermark{UID: "owner", LastSeenAt: map[string]clock.Timestamp{
		models.CategoryReservations: clock.FromMillis(ms),
	}}
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("mark seen did not complete")
	}
	return nil
}

func TestTieBreakIsStrict(t *testing.T) {
	tr := NewTracker("owner", nil, Config{}, nil, nopLogger{})
	tr.ApplyWatermark(watermark(1000))

	if tr.IsNew(requested("a", 1000), models.CategoryReservations) {
		t.Fatal("updatedAt equal to the watermark must not be new")
	}
	if !tr.IsNew(requested("a", 1001), models.CategoryReservations) {
		t.Fatal("updatedAt after the watermark must be new")
	}
}

func TestOnlyActionableStatesAreNew(t *testing.T) {
	owner := NewTracker("owner", nil, Config{}, nil, nopLogger{})
	renter := NewTracker("renter", nil, Config{}, nil, nopLogger{})

	r := requested("a", 1000)
	if !owner.IsNew(r, models.CategoryReservations) {
		t.Fatal("owner must act on a requested reservation")
	}
	if renter.IsNew(r, models.CategoryReservations) {
		t.Fatal("renter has nothing to do on a requested reservation")
	}

	r.Status = models.StatusAccepted
	if owner.IsNew(r, models.CategoryReservations) {
		t.Fatal("accepted is informational for the owner")
	}
	if !renter.IsNew(r, models.CategoryReservations) {
		t.Fatal("renter must act on an accepted reservation")
	}

	r.Status = models.StatusPaid
	if owner.IsNew(r, models.CategoryReservations) || renter.IsNew(r, models.CategoryReservations) {
		t.Fatal("paid never raises the flag")
	}
}

func TestMarkSeenScenario(t *testing.T) {
	marker := &stubMarker{}
	tr := NewTracker("owner", marker, Config{}, nil, nopLogger{})
	r := requested("a", 5000)
	tr.Observe(models.CategoryReservations, []models.Reservation{r})

	if !tr.IsNew(r, models.CategoryReservations) || !tr.HasNew(models.CategoryReservations) {
		t.Fatal("without a watermark the reservation must be new")
	}

	ch := tr.MarkSeen(context.Background(), models.CategoryReservations)
	if tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("mark seen must take effect immediately")
	}
	if err := wait(t, ch); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("unchanged reservation must stay not new")
	}

	tr.ApplyWatermark(watermark(5000))
	if tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("server watermark equal to updatedAt keeps it not new")
	}
	if ts, _ := tr.LastSeen(models.CategoryReservations); ts.Millis() != 5000 {
		t.Fatalf("expected server watermark to take over, got %s", ts)
	}
}

func TestFailedMarkSeenKeepsOverride(t *testing.T) {
	marker := &stubMarker{err: errors.New("unavailable")}
	tr := NewTracker("owner", marker, Config{}, nil, nopLogger{})
	tr.ApplyWatermark(watermark(1000))
	r := requested("a", 5000)
	tr.Observe(models.CategoryReservations, []models.Reservation{r})

	if err := wait(t, tr.MarkSeen(context.Background(), models.CategoryReservations)); err == nil {
		t.Fatal("expected the remote failure to be reported")
	}
	if tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("override must not be rolled back after a failure")
	}

	// A redelivery of the same server value does not supersede it.
	tr.ApplyWatermark(watermark(1000))
	if tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("same server watermark must not supersede the override")
	}

	// A strictly newer server value does.
	tr.ApplyWatermark(watermark(2000))
	if !tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("newer server watermark must supersede the failed override")
	}
}

func TestConfirmedOverrideExpires(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	tr := NewTracker("owner", &stubMarker{}, Config{OverrideTTL: time.Minute}, clk, nopLogger{})
	r := requested("a", 5000)
	tr.Observe(models.CategoryReservations, []models.Reservation{r})

	if err := wait(t, tr.MarkSeen(context.Background(), models.CategoryReservations)); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	clk.advance(30 * time.Second)
	if tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("override must hold within its ttl")
	}
	clk.advance(time.Minute)
	if !tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("confirmed override must lapse once the ttl passes without server catch-up")
	}
}

func TestLaterActivityIsNewAfterMarkSeen(t *testing.T) {
	tr := NewTracker("owner", &stubMarker{}, Config{}, nil, nopLogger{})
	tr.Observe(models.CategoryReservations, []models.Reservation{requested("a", 5000)})
	wait(t, tr.MarkSeen(context.Background(), models.CategoryReservations))

	b := requested("b", 6000)
	tr.Observe(models.CategoryReservations, []models.Reservation{requested("a", 5000), b})
	if !tr.IsNew(b, models.CategoryReservations) {
		t.Fatal("activity after the override must be new")
	}
	ids := tr.NewIDs(models.CategoryReservations)
	if len(ids) != 1 || !ids["b"] {
		t.Fatalf("expected only b to be new, got %v", ids)
	}
}

func TestMarkSeenRejectsUnknownCategory(t *testing.T) {
	marker := &stubMarker{}
	tr := NewTracker("owner", marker, Config{}, nil, nopLogger{})
	if err := wait(t, tr.MarkSeen(context.Background(), "weather")); !errors.Is(err, models.ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if len(marker.calls) != 0 {
		t.Fatal("unknown category must not reach the remote procedure")
	}
}

func TestStartFollowsWatermarkDocument(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	tr := NewTracker("owner", nil, Config{}, nil, nopLogger{})
	sub, err := tr.Start(ctx, st, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sub.Stop()

	r := requested("a", 5000)
	if !tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("expected new before any watermark")
	}
	if _, _, err := st.AdvanceWatermark(ctx, "owner", models.CategoryReservations, clock.FromMillis(5000)); err != nil {
		t.Fatalf("AdvanceWatermark: %v", err)
	}
	if tr.IsNew(r, models.CategoryReservations) {
		t.Fatal("watermark update must flow into the tracker")
	}
}

func TestStartResubscribesAfterStreamFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := memstore.New()
	cfg := Config{Resubscribe: store.Backoff{Min: time.Millisecond, Max: 4 * time.Millisecond}}
	tr := NewTracker("owner", nil, cfg, nil, nopLogger{})
	sub, err := tr.Start(ctx, st, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sub.Stop()

	st.FailWatermark("owner", errors.New("stream reset"))
	if _, _, err := st.AdvanceWatermark(ctx, "owner", models.CategoryReservations, clock.FromMillis(5000)); err != nil {
		t.Fatalf("AdvanceWatermark: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for st.WatermarkSubscribeCalls("owner") < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected retries while the stream is down, got %d opens", st.WatermarkSubscribeCalls("owner"))
		}
		time.Sleep(time.Millisecond)
	}
	st.RecoverWatermark("owner")

	seenBefore := requested("a", 5000)
	for tr.IsNew(seenBefore, models.CategoryReservations) {
		if time.Now().After(deadline) {
			t.Fatal("watermark written during the outage never reached the tracker")
		}
		time.Sleep(time.Millisecond)
	}

	// The reopened stream is live again.
	if _, _, err := st.AdvanceWatermark(ctx, "owner", models.CategoryReservations, clock.FromMillis(9000)); err != nil {
		t.Fatalf("AdvanceWatermark: %v", err)
	}
	if tr.IsNew(requested("b", 8000), models.CategoryReservations) {
		t.Fatal("update after recovery must flow into the tracker")
	}
}

func TestStoppedTrackerDoesNotResubscribe(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	cfg := Config{Resubscribe: store.Backoff{Min: 20 * time.Millisecond, Max: 20 * time.Millisecond}}
	tr := NewTracker("owner", nil, cfg, nil, nopLogger{})
	sub, err := tr.Start(ctx, st, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	st.FailWatermark("owner", errors.New("stream reset"))
	sub.Stop()
	st.RecoverWatermark("owner")
	time.Sleep(60 * time.Millisecond)
	if n := st.WatermarkSubscribeCalls("owner"); n != 1 {
		t.Fatalf("expected no reopen after Stop, got %d opens", n)
	}
}
