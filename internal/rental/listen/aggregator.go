// Package listen merges independent reservation query streams into one
// filtered, de-duplicated view per viewer.
package listen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"

	"golang.org/x/exp/slices"
)

// View selects which party streams a subscription merges.
type View string

const (
	ViewOwner  View = "owner"
	ViewRenter View = "renter"
	ViewAll    View = "all"
)

// ParseView maps the wire value to a View. Empty means ViewAll.
func ParseView(s string) (View, error) {
	switch View(s) {
	case "", ViewAll:
		return ViewAll, nil
	case ViewOwner, ViewRenter:
		return View(s), nil
	}
	return "", fmt.Errorf("listen: unknown view %q", s)
}

// Queries returns the store queries backing view for viewerUID.
func Queries(viewerUID string, view View) []store.Query {
	owner := []store.Query{
		{Field: store.FieldOwner, UID: viewerUID, Kind: models.KindRental},
		{Field: store.FieldOwner, UID: viewerUID, Kind: models.KindHelpOffer},
	}
	renter := []store.Query{
		{Field: store.FieldRenter, UID: viewerUID, Kind: models.KindRental},
		{Field: store.FieldRenter, UID: viewerUID, Kind: models.KindHelpOffer},
	}
	switch view {
	case ViewOwner:
		return owner
	case ViewRenter:
		return renter
	}
	return append(owner, renter...)
}

// Options narrows a subscription.
type Options struct {
	View     View
	Statuses []models.Status
}

// ParseOptions builds Options from wire values. Each status entry may be a
// comma separated list.
func ParseOptions(view string, statuses []string) (Options, error) {
	v, err := ParseView(view)
	if err != nil {
		return Options{}, err
	}
	opts := Options{View: v}
	for _, raw := range statuses {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			st := models.Status(part)
			if !st.Valid() {
				return Options{}, fmt.Errorf("listen: unknown status %q", part)
			}
			if !slices.Contains(opts.Statuses, st) {
				opts.Statuses = append(opts.Statuses, st)
			}
		}
	}
	return opts, nil
}

// Config tunes the aggregator.
type Config struct {
	// SuppressionTTL bounds how long a locally removed id stays hidden
	// without server confirmation.
	SuppressionTTL time.Duration
}

const defaultSuppressionTTL = 30 * time.Second

// Update is one emission. When Err is set Items is empty and the view is
// unknown, which callers must not treat as "no reservations".
type Update struct {
	Items []models.Reservation
	Err   error
}

// Empty reports a confirmed empty view.
func (u Update) Empty() bool { return u.Err == nil && len(u.Items) == 0 }

// Aggregator builds per-viewer subscriptions on top of a Mux.
type Aggregator struct {
	mux   *Mux
	cfg   Config
	clock clock.Clock
}

// NewAggregator constructs an Aggregator.
func NewAggregator(mux *Mux, cfg Config, clk clock.Clock) *Aggregator {
	if cfg.SuppressionTTL <= 0 {
		cfg.SuppressionTTL = defaultSuppressionTTL
	}
	return &Aggregator{mux: mux, cfg: cfg, clock: clock.Or(clk)}
}

func validate(viewerUID string, opts Options) error {
	if viewerUID == "" {
		return errors.New("listen: viewer uid is required")
	}
	if _, err := ParseView(string(opts.View)); err != nil {
		return err
	}
	for _, s := range opts.Statuses {
		if !s.Valid() {
			return fmt.Errorf("listen: unknown status %q", s)
		}
	}
	return nil
}

// List returns a one-shot merged view without suppression.
func (a *Aggregator) List(ctx context.Context, viewerUID string, opts Options) ([]models.Reservation, error) {
	if err := validate(viewerUID, opts); err != nil {
		return nil, err
	}
	queries := Queries(viewerUID, opts.View)
	streams := make([][]models.Reservation, 0, len(queries))
	for _, q := range queries {
		items, err := a.mux.Store().ListReservations(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", q.Key(), err)
		}
		streams = append(streams, items)
	}
	merged := merge(streams)
	return filter(merged, viewerUID, statusSet(opts.Statuses), nil), nil
}

// Subscribe starts a merged subscription. fn is called with the whole view
// on every change, serially. Cancelling ctx cancels the subscription.
func (a *Aggregator) Subscribe(ctx context.Context, viewerUID string, opts Options, fn func(Update)) (*Subscription, error) {
	if err := validate(viewerUID, opts); err != nil {
		return nil, err
	}
	queries := Queries(viewerUID, opts.View)
	s := &Subscription{
		agg:        a,
		viewer:     viewerUID,
		statuses:   statusSet(opts.Statuses),
		fn:         fn,
		streams:    make([]*stream, len(queries)),
		suppressed: make(map[string]suppression),
		done:       make(chan struct{}),
	}
	for i := range queries {
		s.streams[i] = &stream{}
	}
	for i, q := range queries {
		i := i
		release := a.mux.Acquire(ctx, q, func(items []models.Reservation, err error) {
			s.onStream(i, items, err)
		})
		s.releases = append(s.releases, release)
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Cancel()
			case <-s.done:
			}
		}()
	}
	return s, nil
}

type stream struct {
	items []models.Reservation
	err   error
	ready bool
}

type suppression struct {
	status models.Status
	at     time.Time
}

// Subscription is a live merged view. Cancel must not be called from inside
// the callback; cancel the context passed to Subscribe instead.
type Subscription struct {
	agg      *Aggregator
	viewer   string
	statuses map[models.Status]bool
	fn       func(Update)
	releases []func()
	done     chan struct{}
	once     sync.Once

	mu         sync.Mutex
	stopped    bool
	streams    []*stream
	current    map[string]models.Reservation
	suppressed map[string]suppression
}

// Cancel stops emissions and releases the store subscriptions. No callback
// runs after Cancel returns.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.done)
		for _, release := range s.releases {
			release()
		}
	})
}

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Suppress hides id immediately, pending server confirmation of a removal.
func (s *Subscription) Suppress(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	sup := suppression{at: s.agg.clock.Now()}
	if r, ok := s.current[id]; ok {
		sup.status = r.Status
	}
	s.suppressed[id] = sup
	s.emitLocked()
}

// Unsuppress shows id again after its removal failed.
func (s *Subscription) Unsuppress(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.suppressed[id]; !ok {
		return
	}
	delete(s.suppressed, id)
	s.emitLocked()
}

// Suppressed reports whether id is currently suppressed.
func (s *Subscription) Suppressed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suppressed[id]
	return ok
}

func (s *Subscription) onStream(i int, items []models.Reservation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	st := s.streams[i]
	st.ready = true
	st.err = err
	if err == nil {
		st.items = items
	} else {
		st.items = nil
	}
	s.emitLocked()
}

// emitLocked re-derives the whole view. Caller holds s.mu.
func (s *Subscription) emitLocked() {
	parts := make([][]models.Reservation, 0, len(s.streams))
	for _, st := range s.streams {
		if st.err != nil {
			s.fn(Update{Err: st.err})
			return
		}
		if !st.ready {
			return
		}
		parts = append(parts, st.items)
	}
	merged := merge(parts)
	s.current = make(map[string]models.Reservation, len(merged))
	for _, r := range merged {
		s.current[r.ID] = r
	}
	s.clearSuppressedLocked()
	s.fn(Update{Items: filter(merged, s.viewer, s.statuses, s.suppressed)})
}

func (s *Subscription) clearSuppressedLocked() {
	now := s.agg.clock.Now()
	for id, sup := range s.suppressed {
		r, ok := s.current[id]
		switch {
		case !ok:
			delete(s.suppressed, id)
		case r.IsHiddenFor(s.viewer):
			delete(s.suppressed, id)
		case r.Status != sup.status && r.Status.IsTerminal():
			delete(s.suppressed, id)
		case now.Sub(sup.at) > s.agg.cfg.SuppressionTTL:
			delete(s.suppressed, id)
		}
	}
}

// merge de-duplicates by id keeping the most recently updated copy, and
// orders by updatedAt descending then id.
func merge(parts [][]models.Reservation) []models.Reservation {
	byID := make(map[string]models.Reservation)
	for _, items := range parts {
		for _, r := range items {
			if prev, ok := byID[r.ID]; ok && !r.UpdatedAt.After(prev.UpdatedAt) {
				continue
			}
			byID[r.ID] = r
		}
	}
	out := make([]models.Reservation, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.Reservation) int {
		switch {
		case a.UpdatedAt.After(b.UpdatedAt):
			return -1
		case a.UpdatedAt.Before(b.UpdatedAt):
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func filter(items []models.Reservation, viewer string, statuses map[models.Status]bool, suppressed map[string]suppression) []models.Reservation {
	out := make([]models.Reservation, 0, len(items))
	for _, r := range items {
		if len(statuses) > 0 && !statuses[r.Status] {
			continue
		}
		if r.IsHiddenFor(viewer) {
			continue
		}
		if _, ok := suppressed[r.ID]; ok {
			continue
		}
		out = append(out, r)
	}
	return out
}

func statusSet(statuses []models.Status) map[models.Status]bool {
	if len(statuses) == 0 {
		return nil
	}
	set := make(map[models.Status]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}
