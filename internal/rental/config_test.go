package rental

import (
	"context"
	"testing"
	"time"

	"rentalBack/internal/rental/fsm"
	"rentalBack/internal/rental/lifecycle"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store/memstore"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func TestLoadRentalConfigDefaults(t *testing.T) {
	cfg, err := LoadRentalConfig()
	if err != nil {
		t.Fatalf("LoadRentalConfig: %v", err)
	}
	if cfg.RefundWindow != 7*24*time.Hour || cfg.MaxAttempts != 3 || cfg.OverrideTTL != 2*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.PaymentBaseURL != "" {
		t.Fatal("payments must be disabled by default")
	}
}

func TestLoadRentalConfigOverrides(t *testing.T) {
	t.Setenv("REFUND_WINDOW_HOURS", "24")
	t.Setenv("MUTATOR_MAX_ATTEMPTS", "5")
	t.Setenv("SUPPRESSION_TTL_SECONDS", "10")
	t.Setenv("PAYMENT_BASE_URL", "https://pay.example")
	t.Setenv("PAYMENT_MERCHANT_ID", "m")
	t.Setenv("PAYMENT_SECRET", "s")

	cfg, err := LoadRentalConfig()
	if err != nil {
		t.Fatalf("LoadRentalConfig: %v", err)
	}
	if cfg.RefundWindow != 24*time.Hour || cfg.MaxAttempts != 5 || cfg.SuppressionTTL != 10*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRentalConfigErrors(t *testing.T) {
	t.Setenv("MUTATOR_MAX_ATTEMPTS", "three")
	if _, err := LoadRentalConfig(); err == nil {
		t.Fatal("expected parse error")
	}
	t.Setenv("MUTATOR_MAX_ATTEMPTS", "0")
	if _, err := LoadRentalConfig(); err == nil {
		t.Fatal("expected error for zero attempts")
	}
	t.Setenv("MUTATOR_MAX_ATTEMPTS", "")
	t.Setenv("PAYMENT_BASE_URL", "https://pay.example")
	if _, err := LoadRentalConfig(); err == nil {
		t.Fatal("expected error for incomplete payment configuration")
	}
}

func TestDepsValidate(t *testing.T) {
	deps := &RentalDeps{Logger: nopLogger{}}
	if err := deps.Validate(); err == nil {
		t.Fatal("expected error without store")
	}
	deps.Store = memstore.New()
	if err := deps.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if deps.HTTPClient == nil || deps.Clock == nil {
		t.Fatal("defaults must be filled in")
	}
}

func TestInlineEventsMaintainCounters(t *testing.T) {
	st := memstore.New()
	deps := &RentalDeps{Store: st, Logger: nopLogger{}, Config: RentalConfig{PayoutTick: time.Minute}}
	module, err := ensureModule(deps)
	if err != nil {
		t.Fatalf("ensureModule: %v", err)
	}
	again, _ := ensureModule(deps)
	if again != module {
		t.Fatal("module must be built once")
	}

	ctx := context.Background()
	if _, err := module.service.Create(ctx, "renter", lifecycle.CreateInput{
		ItemOwnerUID: "owner",
		ItemID:       "bike",
		StartDate:    "2026-07-01",
		EndDate:      "2026-07-02",
		Total:        "10",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c, err := st.GetCounters(ctx, "owner")
	if err != nil {
		t.Fatalf("GetCounters: %v", err)
	}
	if c.Count(models.CategoryReservations) != 1 {
		t.Fatalf("owner must have one pending request, got %+v", c)
	}
}

func TestPayoutWorkerReleasesPickedUp(t *testing.T) {
	st := memstore.New()
	deps := &RentalDeps{Store: st, Logger: nopLogger{}, Config: RentalConfig{PayoutTick: 10 * time.Millisecond}}
	module, err := ensureModule(deps)
	if err != nil {
		t.Fatalf("ensureModule: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := module.service.Create(ctx, "renter", lifecycle.CreateInput{
		ItemOwnerUID: "owner",
		ItemID:       "bike",
		StartDate:    "2026-07-01",
		EndDate:      "2026-07-03",
		Total:        "20",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, step := range []struct {
		action fsm.Action
		actor  string
	}{
		{fsm.ActionAccept, "owner"},
		{fsm.ActionPay, "renter"},
		{fsm.ActionPickup, "renter"},
	} {
		if _, err := module.service.Do(ctx, step.action, r.ID, step.actor); err != nil {
			t.Fatalf("%s: %v", step.action, err)
		}
	}

	if err := StartRentalWorkers(ctx, deps); err != nil {
		t.Fatalf("StartRentalWorkers: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := st.GetReservation(ctx, r.ID)
		if err != nil {
			t.Fatalf("GetReservation: %v", err)
		}
		if got.Status == models.StatusPaidOut {
			if got.PaidOutBy != fsm.SystemActor {
				t.Fatalf("expected system payout, got %q", got.PaidOutBy)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("payout not released, status %s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	ShutdownRental(deps)
}
