package pay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"rentalBack/internal/rental/models"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func TestVerifyHMAC(t *testing.T) {
	body := []byte("{\"ok\":true}")
	secret := "secret"
	signature := "f6b4a2841c93f8bf2fb8f2c13d8fb0b6c8e8019f09ee405d248daa8385fad638"
	if !VerifyHMAC(body, signature, secret) {
		t.Fatal("expected signature to be valid")
	}
	if VerifyHMAC(body, "deadbeef", secret) {
		t.Fatal("unexpected valid signature")
	}
	if Sign(body, secret) != signature {
		t.Fatal("Sign must match the verified signature")
	}
}

func paidReservation() models.Reservation {
	return models.Reservation{ID: "r1", ItemOwnerUID: "owner", RenterUID: "renter", Total: "120.50"}
}

func TestCaptureSignsRequest(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path != "/capture" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !VerifyHMAC(body, r.Header.Get("X-Signature"), "k") {
			t.Errorf("request signature does not verify")
		}
		if r.Header.Get("Idempotency-Key") != "capture:r1" {
			t.Errorf("unexpected idempotency key %q", r.Header.Get("Idempotency-Key"))
		}
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "m1", "k")
	if err := c.Capture(context.Background(), paidReservation()); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got["payer_uid"] != "renter" || got["amount"] != "120.50" || got["merchant_id"] != "m1" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestIdempotencyKeyFollowsPaymentRef(t *testing.T) {
	r := paidReservation()
	if got := idempotencyKey(OpRefund, r); got != "refund:r1" {
		t.Fatalf("unexpected key %q", got)
	}
	r.PaymentRef = "a1"
	if got := idempotencyKey(OpCapture, r); got != "capture:r1:a1" {
		t.Fatalf("unexpected key %q", got)
	}
	other := r
	other.PaymentRef = "a2"
	if idempotencyKey(OpRefund, r) == idempotencyKey(OpRefund, other) {
		t.Fatal("refunds of different captures must not share a key")
	}
}

func TestFreeReservationSkipsProvider(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	r := paidReservation()
	r.IsFree = true
	if err := NewClient(srv.Client(), srv.URL, "m1", "k").Refund(context.Background(), r); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if calls != 0 {
		t.Fatal("free reservations must not reach the provider")
	}
}

func TestClientRejectsBadResponseSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Signature", "deadbeef")
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()
	if err := NewClient(srv.Client(), srv.URL, "m1", "k").Payout(context.Background(), paidReservation()); err == nil {
		t.Fatal("expected signature error")
	}
}

type failingGateway struct {
	err   error
	calls int
}

func (g *failingGateway) Capture(context.Context, models.Reservation) error { g.calls++; return g.err }
func (g *failingGateway) Refund(context.Context, models.Reservation) error  { g.calls++; return g.err }
func (g *failingGateway) Payout(context.Context, models.Reservation) error  { g.calls++; return g.err }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	g := &failingGateway{err: errors.New("provider down")}
	b := NewBreaker(g, time.Minute, nopLogger{})
	for i := 0; i < 3; i++ {
		b.Capture(context.Background(), paidReservation())
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected open circuit, got %s", b.State())
	}
	err := b.Capture(context.Background(), paidReservation())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got %v", err)
	}
	if g.calls != 3 {
		t.Fatalf("open circuit must not call through, got %d calls", g.calls)
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	g := &failingGateway{err: &StatusError{Op: OpRefund, StatusCode: http.StatusUnprocessableEntity, Status: "422"}}
	b := NewBreaker(g, time.Minute, nopLogger{})
	for i := 0; i < 5; i++ {
		if err := b.Refund(context.Background(), paidReservation()); err == nil {
			t.Fatal("expected the client error to surface")
		}
	}
	if b.State() != gobreaker.StateClosed {
		t.Fatalf("client errors must not trip the circuit, got %s", b.State())
	}
}
