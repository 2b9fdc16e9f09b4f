package rental

import (
	"context"
	"time"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"rentalBack/internal/rental/events"
	"rentalBack/internal/rental/freshness"
	rentalhttp "rentalBack/internal/rental/http"
	"rentalBack/internal/rental/lifecycle"
	"rentalBack/internal/rental/listen"
	"rentalBack/internal/rental/pay"
	"rentalBack/internal/rental/seen"
	"rentalBack/internal/rental/ws"
)

const payoutRunTimeout = 30 * time.Second

type moduleState struct {
	mux        *listen.Mux
	aggregator *listen.Aggregator
	service    *lifecycle.Service
	seen       *seen.Service
	counters   *events.CounterHandler
	hub        *ws.Hub
	server     *rentalhttp.Server
	breaker    *pay.Breaker
	cfg        RentalConfig
	logger     Logger
}

func ensureModule(deps *RentalDeps) (*moduleState, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if deps.module != nil {
		return deps.module, nil
	}
	cfg := deps.Config

	counterHandler := events.NewCounterHandler(deps.Store, deps.Notifier, deps.Logger)
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Inline{Handler: counterHandler}
	}

	var (
		payments lifecycle.PaymentGateway
		breaker  *pay.Breaker
	)
	if cfg.PaymentBaseURL != "" {
		client := pay.NewClient(deps.HTTPClient, cfg.PaymentBaseURL, cfg.PaymentMerchant, cfg.PaymentSecret)
		breaker = pay.NewBreaker(client, cfg.BreakerOpenFor, deps.Logger)
		payments = breaker
	}

	mutator := lifecycle.NewMutator(deps.Store, lifecycle.Config{
		RefundWindow: cfg.RefundWindow,
		MaxAttempts:  cfg.MaxAttempts,
		PayoutDelay:  cfg.PayoutDelay,
		PayoutBatch:  cfg.PayoutBatch,
	}, deps.Clock, deps.Logger)
	service := lifecycle.NewService(mutator, payments, publisher, deps.Logger)

	mux := listen.NewMux(deps.Store, listen.MuxConfig{}, deps.Logger)
	aggregator := listen.NewAggregator(mux, listen.Config{SuppressionTTL: cfg.SuppressionTTL}, deps.Clock)

	seenSvc := seen.NewService(deps.Store, deps.Store, deps.Logger)
	seenSvc.RegisterDefaults(deps.Store)

	hub := ws.NewHub(aggregator, deps.Store, deps.Store, seenSvc, service, freshness.Config{OverrideTTL: cfg.OverrideTTL}, deps.Clock, deps.Logger)

	var tokens rentalhttp.Tokens
	if deps.Tokens != nil {
		tokens = deps.Tokens
	}
	server := rentalhttp.NewServer(deps.Logger, service, aggregator, seenSvc, deps.Store, tokens, hub)

	deps.module = &moduleState{
		mux:        mux,
		aggregator: aggregator,
		service:    service,
		seen:       seenSvc,
		counters:   counterHandler,
		hub:        hub,
		server:     server,
		breaker:    breaker,
		cfg:        cfg,
		logger:     deps.Logger,
	}
	return deps.module, nil
}

// RegisterRentalRoutes wires HTTP and WebSocket routes into the provided mux.
// chain must authenticate the caller.
func RegisterRentalRoutes(mux *pat.PatternServeMux, chain alice.Chain, deps *RentalDeps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	module.server.RegisterRoutes(mux, chain)
	return nil
}

// EventHandler returns the handler a broker consumer should feed transition
// events to.
func EventHandler(deps *RentalDeps) (events.Handler, error) {
	module, err := ensureModule(deps)
	if err != nil {
		return nil, err
	}
	return module.counters, nil
}

// StartRentalWorkers launches the payout release worker.
func StartRentalWorkers(ctx context.Context, deps *RentalDeps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	go module.startPayoutReleaser(ctx, deps.Clock.Now)
	return nil
}

// ShutdownRental disconnects websocket clients.
func ShutdownRental(deps *RentalDeps) {
	if deps.module != nil {
		deps.module.hub.Close()
	}
}

func (m *moduleState) startPayoutReleaser(ctx context.Context, now func() time.Time) {
	ticker := time.NewTicker(m.cfg.PayoutTick)
	defer ticker.Stop()

	run := func() {
		runCtx, cancel := context.WithTimeout(ctx, payoutRunTimeout)
		defer cancel()
		released, err := m.service.ReleaseDuePayouts(runCtx, now())
		if err != nil {
			m.logger.Errorf("payout releaser: %v", err)
			return
		}
		if released > 0 {
			m.logger.Infof("payout releaser: released %d payouts", released)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
