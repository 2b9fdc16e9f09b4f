package seen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
	"rentalBack/internal/rental/store/memstore"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func setup(t *testing.T) (*memstore.Store, *Service, models.Reservation) {
	t.Helper()
	st := memstore.New()
	r, err := st.CreateReservation(context.Background(), models.Reservation{
		ItemOwnerUID: "owner", RenterUID: "renter", Status: models.StatusRequested,
	})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	svc := NewService(st, st, nopLogger{})
	svc.RegisterDefaults(st)
	return st, svc, r
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, svc, r := setup(t)

	first, err := svc.MarkSeen(ctx, "owner", models.CategoryReservations)
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if !first.Advanced || !first.LastSeenAt.Equal(r.UpdatedAt) {
		t.Fatalf("expected watermark at latest activity %s, got %+v", r.UpdatedAt, first)
	}

	second, err := svc.MarkSeen(ctx, "owner", models.CategoryReservations)
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if second.Advanced {
		t.Fatal("second call without new activity must not write")
	}
	if !second.LastSeenAt.Equal(first.LastSeenAt) {
		t.Fatalf("watermark moved: %s -> %s", first.LastSeenAt, second.LastSeenAt)
	}
}

func TestMarkSeenFollowsNewActivity(t *testing.T) {
	ctx := context.Background()
	st, svc, r := setup(t)
	svc.MarkSeen(ctx, "renter", models.CategoryReservations)

	next, err := st.UpdateReservation(ctx, r.ID, r.Version, store.Change{Status: models.StatusAccepted, Stamp: store.StampAccepted, Actor: "owner"})
	if err != nil {
		t.Fatalf("UpdateReservation: %v", err)
	}
	res, err := svc.MarkSeen(ctx, "renter", models.CategoryReservations)
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if !res.Advanced || !res.LastSeenAt.Equal(next.UpdatedAt) {
		t.Fatalf("expected advance to %s, got %+v", next.UpdatedAt, res)
	}
}

func TestMarkSeenNoActivityWritesNothing(t *testing.T) {
	ctx := context.Background()
	_, svc, _ := setup(t)
	res, err := svc.MarkSeen(ctx, "stranger", models.CategoryPayments)
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if res.Advanced || !res.LastSeenAt.IsZero() {
		t.Fatalf("no activity must leave the watermark absent, got %+v", res)
	}
}

func TestMarkSeenClearsCounter(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := setup(t)
	st.IncrementCounter(ctx, "owner", models.CategoryMessages, 4)

	if _, err := svc.MarkSeen(ctx, "owner", models.CategoryMessages); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	c, _ := st.GetCounters(ctx, "owner")
	if c.Count(models.CategoryMessages) != 0 || c.Total != 0 {
		t.Fatalf("expected cleared counter, got %+v", c)
	}
}

func TestMarkSeenValidation(t *testing.T) {
	_, svc, _ := setup(t)
	if _, err := svc.MarkSeen(context.Background(), "owner", "weather"); !errors.Is(err, models.ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if _, err := svc.MarkSeen(context.Background(), "", models.CategoryReservations); err == nil {
		t.Fatal("expected error for empty uid")
	}
}

func TestMarkSeenSurfacesSourceFailure(t *testing.T) {
	_, svc, _ := setup(t)
	boom := errors.New("boom")
	svc.Register(models.CategoryPayments, ActivityFunc(func(context.Context, string) (clock.Timestamp, error) {
		return clock.Timestamp{}, boom
	}))
	if _, err := svc.MarkSeen(context.Background(), "owner", models.CategoryPayments); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestClientPostsCategory(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"category":"reservations","lastSeenAt":1500,"advanced":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL+"/", "tok")
	res, err := c.Do(context.Background(), models.CategoryReservations)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotPath != "/api/v1/seen/reservations" || gotAuth != "Bearer tok" {
		t.Fatalf("unexpected request path=%q auth=%q", gotPath, gotAuth)
	}
	if !res.Advanced || res.LastSeenAt.Millis() != 1500 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClientReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if err := NewClient(srv.Client(), srv.URL, "tok").MarkSeen(context.Background(), models.CategoryReservations); err == nil {
		t.Fatal("expected error on 503")
	}
}
