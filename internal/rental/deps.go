package rental

import (
	"errors"
	"net/http"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/events"
	"rentalBack/internal/rental/lifecycle"
	"rentalBack/internal/rental/push"
	"rentalBack/internal/rental/store"
)

// Logger provides minimal logging required by the rental module.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// RentalDeps groups external dependencies needed by the rental module.
type RentalDeps struct {
	Store      store.Store
	Logger     Logger
	Config     RentalConfig
	HTTPClient *http.Client
	// Publisher receives transition events. When nil, events are handled
	// in-process by the counter handler.
	Publisher lifecycle.Publisher
	// Notifier pushes notices to devices; optional.
	Notifier events.Notifier
	// Tokens enables the push registration endpoints; optional.
	Tokens push.Tokens
	Clock  clock.Clock
	module *moduleState
}

// Validate ensures required dependencies are provided.
func (d *RentalDeps) Validate() error {
	if d.Store == nil {
		return errors.New("rental deps: Store is required")
	}
	if d.Logger == nil {
		return errors.New("rental deps: Logger is required")
	}
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	return nil
}
