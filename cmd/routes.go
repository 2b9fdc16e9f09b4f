package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"rentalBack/internal/rental"
	rentalhttp "rentalBack/internal/rental/http"
)

func (app *application) routes() (http.Handler, error) {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders)
	jsonMiddleware := alice.New(makeResponseJSON)
	authMiddleware := jsonMiddleware.Append(rentalhttp.Authenticate([]byte(app.cfg.Auth.JWTSecret)))

	mux := pat.New()

	mux.Get("/healthz", jsonMiddleware.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	// Reservations, seen markers, counters and the live view.
	if err := rental.RegisterRentalRoutes(mux, authMiddleware, app.rental); err != nil {
		return nil, err
	}

	return standardMiddleware.Then(mux), nil
}
