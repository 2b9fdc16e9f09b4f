// Package memstore is an in-process implementation of store.Store. It keeps
// the same contracts as the remote backends: server-assigned monotonic
// timestamps, version-checked writes and live query listeners.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Store is a concurrency-safe in-memory backend.
type Store struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
	seq  uint64

	reservations map[string]models.Reservation
	watermarks   map[string]models.Watermark
	counters     map[string]models.Counters

	nextID       uint64
	resListeners map[uint64]*resListener
	wmListeners  map[uint64]*valueListener[models.Watermark]
	ctListeners  map[uint64]*valueListener[models.Counters]

	faults         map[string]error
	subscribeCalls map[string]int
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the server clock source.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:            time.Now,
		reservations:   make(map[string]models.Reservation),
		watermarks:     make(map[string]models.Watermark),
		counters:       make(map[string]models.Counters),
		resListeners:   make(map[uint64]*resListener),
		wmListeners:    make(map[uint64]*valueListener[models.Watermark]),
		ctListeners:    make(map[uint64]*valueListener[models.Counters]),
		faults:         make(map[string]error),
		subscribeCalls: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// serverNow returns a strictly increasing millisecond timestamp. Caller holds s.mu.
func (s *Store) serverNow() clock.Timestamp {
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return clock.FromMillis(ms)
}

// CreateReservation stores r under a new id.
func (s *Store) CreateReservation(ctx context.Context, r models.Reservation) (models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return models.Reservation{}, err
	}
	s.mu.Lock()
	now := s.serverNow()
	r = r.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.reservations[r.ID]; exists {
		s.mu.Unlock()
		return models.Reservation{}, fmt.Errorf("memstore: reservation %s already exists", r.ID)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Version = 1
	s.reservations[r.ID] = r
	pending := s.reservationChangedLocked(models.Reservation{}, r)
	s.mu.Unlock()
	pending.run()
	return r.Clone(), nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return models.Reservation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return models.Reservation{}, store.ErrNotFound
	}
	return r.Clone(), nil
}

// UpdateReservation applies c when version matches the stored one.
func (s *Store) UpdateReservation(ctx context.Context, id string, version int64, c store.Change) (models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return models.Reservation{}, err
	}
	s.mu.Lock()
	old, ok := s.reservations[id]
	if !ok {
		s.mu.Unlock()
		return models.Reservation{}, store.ErrNotFound
	}
	if old.Version != version {
		s.mu.Unlock()
		return models.Reservation{}, store.ErrVersionConflict
	}
	next := old.Clone()
	store.ApplyChange(&next, c, s.serverNow())
	next.Version = old.Version + 1
	s.reservations[id] = next
	pending := s.reservationChangedLocked(old, next)
	s.mu.Unlock()
	pending.run()
	return next.Clone(), nil
}

// Delete removes a reservation outright. Role actions never call it; it
// exists for administrative cleanup and for tests.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	old, ok := s.reservations[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.reservations, id)
	pending := s.reservationChangedLocked(old, models.Reservation{})
	s.mu.Unlock()
	pending.run()
}

func (s *Store) ListReservations(ctx context.Context, q store.Query) ([]models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(q), nil
}

func (s *Store) ListReservationsByStatus(ctx context.Context, status models.Status, limit int) ([]models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Reservation, 0)
	for _, r := range s.reservations {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sortByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) queryLocked(q store.Query) []models.Reservation {
	out := make([]models.Reservation, 0)
	for _, r := range s.reservations {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sortByID(out)
	return out
}

func sortByID(items []models.Reservation) {
	slices.SortFunc(items, func(a, b models.Reservation) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// SubscribeReservations registers fn for q. The current result set is
// delivered before SubscribeReservations returns.
func (s *Store) SubscribeReservations(ctx context.Context, q store.Query, fn store.SnapshotFunc) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	key := q.Key()
	s.mu.Lock()
	s.subscribeCalls[key]++
	if err := s.faults[key]; err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.nextID++
	id := s.nextID
	l := &resListener{q: q, fn: fn}
	s.resListeners[id] = l
	s.seq++
	seq := s.seq
	items := s.queryLocked(q)
	s.mu.Unlock()

	l.deliver(seq, items, nil)
	return store.StopFunc(func() {
		l.stopped.Store(true)
		s.mu.Lock()
		delete(s.resListeners, id)
		s.mu.Unlock()
	}), nil
}

// Fail terminates every live listener of q with err and makes new
// subscriptions to q fail until Recover is called.
func (s *Store) Fail(q store.Query, err error) {
	key := q.Key()
	s.mu.Lock()
	s.faults[key] = err
	var pending deliveries
	for id, l := range s.resListeners {
		if l.q.Key() != key {
			continue
		}
		delete(s.resListeners, id)
		s.seq++
		pending = append(pending, l.errorDelivery(s.seq, err))
	}
	s.mu.Unlock()
	pending.run()
}

// Recover lifts a fault installed by Fail.
func (s *Store) Recover(q store.Query) {
	s.mu.Lock()
	delete(s.faults, q.Key())
	s.mu.Unlock()
}

// SubscribeCalls reports how many store subscriptions were opened for q.
func (s *Store) SubscribeCalls(q store.Query) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeCalls[q.Key()]
}

// ActiveListeners reports the number of live reservation listeners for q.
func (s *Store) ActiveListeners(q store.Query) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.resListeners {
		if l.q.Key() == q.Key() {
			n++
		}
	}
	return n
}

// reservationChangedLocked collects snapshot deliveries for listeners whose
// query matched the document before or after the change.
func (s *Store) reservationChangedLocked(before, after models.Reservation) deliveries {
	var pending deliveries
	for _, l := range s.resListeners {
		if (before.ID != "" && l.q.Matches(before)) || (after.ID != "" && l.q.Matches(after)) {
			s.seq++
			pending = append(pending, l.snapshotDelivery(s.seq, s.queryLocked(l.q)))
		}
	}
	return pending
}

type deliveries []func()

func (d deliveries) run() {
	for _, fn := range d {
		fn()
	}
}

type resListener struct {
	q       store.Query
	fn      store.SnapshotFunc
	mu      sync.Mutex
	seq     uint64
	stopped atomic.Bool
}

// deliver drops snapshots older than the last one delivered so concurrent
// writers cannot reorder a listener's view.
func (l *resListener) deliver(seq uint64, items []models.Reservation, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped.Load() || seq <= l.seq {
		return
	}
	l.seq = seq
	l.fn(items, err)
}

func (l *resListener) snapshotDelivery(seq uint64, items []models.Reservation) func() {
	return func() { l.deliver(seq, items, nil) }
}

func (l *resListener) errorDelivery(seq uint64, err error) func() {
	return func() {
		l.deliver(seq, nil, err)
		l.stopped.Store(true)
	}
}

type valueListener[T any] struct {
	uid     string
	fn      func(T, error)
	mu      sync.Mutex
	seq     uint64
	stopped atomic.Bool
}

func (l *valueListener[T]) deliver(seq uint64, v T, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped.Load() || seq <= l.seq {
		return
	}
	l.seq = seq
	l.fn(v, err)
}
