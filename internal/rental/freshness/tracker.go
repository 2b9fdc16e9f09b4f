// Package freshness decides, per viewer, which reservations are new relative
// to the viewer's last-seen watermark.
package freshness

import (
	"context"
	"errors"
	"sync"
	"time"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// Logger provides minimal logging required by the tracker.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Marker is the remote mark-seen procedure.
type Marker interface {
	MarkSeen(ctx context.Context, category string) error
}

// Config tunes the tracker.
type Config struct {
	// OverrideTTL bounds how long a confirmed local override outlives a
	// server watermark that has not caught up.
	OverrideTTL time.Duration
	// Resubscribe paces reopening the watermark stream after it fails.
	Resubscribe store.Backoff
}

const defaultOverrideTTL = 2 * time.Minute

type override struct {
	at          clock.Timestamp
	base        clock.Timestamp
	confirmed   bool
	confirmedAt time.Time
	failed      bool
}

// Tracker holds one viewer's watermark state. It is safe for concurrent use.
type Tracker struct {
	viewer string
	marker Marker
	cfg    Config
	clock  clock.Clock
	logger Logger

	mu        sync.Mutex
	server    map[string]clock.Timestamp
	overrides map[string]*override
	observed  map[string][]models.Reservation
}

// NewTracker constructs a Tracker for viewerUID.
func NewTracker(viewerUID string, marker Marker, cfg Config, clk clock.Clock, logger Logger) *Tracker {
	if cfg.OverrideTTL <= 0 {
		cfg.OverrideTTL = defaultOverrideTTL
	}
	return &Tracker{
		viewer:    viewerUID,
		marker:    marker,
		cfg:       cfg,
		clock:     clock.Or(clk),
		logger:    logger,
		server:    make(map[string]clock.Timestamp),
		overrides: make(map[string]*override),
		observed:  make(map[string][]models.Reservation),
	}
}

// Viewer returns the uid the tracker evaluates for.
func (t *Tracker) Viewer() string { return t.viewer }

// Start feeds the tracker from the viewer's watermark document until the
// returned subscription is stopped. onChange, if set, runs after each
// applied watermark.
func (t *Tracker) Start(ctx context.Context, marks store.Watermarks, onChange func()) (store.Subscription, error) {
	open := func(ctx context.Context, fn func(models.Watermark, error)) (store.Subscription, error) {
		return marks.SubscribeWatermark(ctx, t.viewer, fn)
	}
	return store.Resubscribe(ctx, t.cfg.Resubscribe, open, func(w models.Watermark) {
		t.ApplyWatermark(w)
		if onChange != nil {
			onChange()
		}
	}, func(err error, retryIn time.Duration) {
		t.logger.Errorf("freshness: watermark stream for %s failed: %v; resubscribing in %s", t.viewer, err, retryIn)
	})
}

// ApplyWatermark records the server watermark. It never moves a category
// backwards.
func (t *Tracker) ApplyWatermark(w models.Watermark) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for cat, ts := range w.LastSeenAt {
		if ts.After(t.server[cat]) {
			t.server[cat] = ts
		}
	}
}

// Observe replaces the set of reservations the viewer currently sees in
// category.
func (t *Tracker) Observe(category string, items []models.Reservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observed[category] = items
}

// Knows reports whether category has been observed.
func (t *Tracker) Knows(category string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.observed[category]
	return ok
}

// LastSeen returns the effective watermark for category.
func (t *Tracker) LastSeen(category string) (clock.Timestamp, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := t.effectiveLocked(category)
	return ts, !ts.IsZero()
}

// IsNew reports whether r needs the viewer's attention and changed after
// the effective watermark of category.
func (t *Tracker) IsNew(r models.Reservation, category string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isNewLocked(r, t.effectiveLocked(category))
}

// HasNew reports whether any observed reservation in category is new.
func (t *Tracker) HasNew(category string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := t.effectiveLocked(category)
	for _, r := range t.observed[category] {
		if t.isNewLocked(r, seen) {
			return true
		}
	}
	return false
}

// NewIDs returns the ids of observed reservations in category that are new.
func (t *Tracker) NewIDs(category string) map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := t.effectiveLocked(category)
	out := make(map[string]bool)
	for _, r := range t.observed[category] {
		if t.isNewLocked(r, seen) {
			out[r.ID] = true
		}
	}
	return out
}

// MarkSeen applies an optimistic override at the newest observed updatedAt
// of category and calls the remote procedure in the background. The result
// arrives on the returned channel after the tracker state reflects it;
// callers may ignore it.
func (t *Tracker) MarkSeen(ctx context.Context, category string) <-chan error {
	done := make(chan error, 1)
	if !models.ValidCategory(category) {
		done <- models.ErrInvalidCategory
		return done
	}

	t.mu.Lock()
	var newest clock.Timestamp
	for _, r := range t.observed[category] {
		newest = clock.Max(newest, r.UpdatedAt)
	}
	var ov *override
	if newest.After(t.effectiveLocked(category)) {
		ov = &override{at: newest, base: t.server[category]}
		t.overrides[category] = ov
	}
	t.mu.Unlock()

	if t.marker == nil {
		done <- errors.New("freshness: no marker configured")
		return done
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		err := t.marker.MarkSeen(bg, category)
		t.mu.Lock()
		if ov != nil && t.overrides[category] == ov {
			if err != nil {
				ov.failed = true
			} else {
				ov.confirmed = true
				ov.confirmedAt = t.clock.Now()
			}
		}
		t.mu.Unlock()
		if err != nil {
			t.logger.Errorf("freshness: mark seen %s for %s: %v", category, t.viewer, err)
		}
		done <- err
	}()
	return done
}

// effectiveLocked is max(server, override), dropping overrides that no
// longer apply. Caller holds t.mu.
func (t *Tracker) effectiveLocked(category string) clock.Timestamp {
	server := t.server[category]
	ov, ok := t.overrides[category]
	if !ok {
		return server
	}
	switch {
	case !server.Before(ov.at):
		delete(t.overrides, category)
	case ov.confirmed && t.clock.Now().Sub(ov.confirmedAt) > t.cfg.OverrideTTL:
		delete(t.overrides, category)
	case ov.failed && server.After(ov.base):
		delete(t.overrides, category)
	default:
		return ov.at
	}
	return server
}

func (t *Tracker) isNewLocked(r models.Reservation, seen clock.Timestamp) bool {
	if !RequiresAction(r, t.viewer) {
		return false
	}
	return seen.IsZero() || r.UpdatedAt.After(seen)
}

// RequiresAction reports whether viewerUID is the party expected to act on
// r next.
func RequiresAction(r models.Reservation, viewerUID string) bool {
	switch r.Status {
	case models.StatusRequested:
		return r.IsOwner(viewerUID)
	case models.StatusAccepted:
		return r.IsRenter(viewerUID)
	}
	return false
}
