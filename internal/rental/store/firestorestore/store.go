package firestorestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// Logger provides minimal logging required by the store.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Store implements store.Store on Firestore.
type Store struct {
	client *firestore.Client
	logger Logger
}

// New constructs a Store.
func New(client *firestore.Client, logger Logger) *Store {
	return &Store{client: client, logger: logger}
}

func (s *Store) reservations() *firestore.CollectionRef {
	return s.client.Collection(reservationsCollection)
}

func classify(err error, what string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return store.ErrNotFound
	case codes.FailedPrecondition, codes.Aborted:
		return store.ErrVersionConflict
	}
	return fmt.Errorf("%s: %w", what, err)
}

func decode(snap *firestore.DocumentSnapshot) (models.Reservation, error) {
	var doc reservationDoc
	if err := snap.DataTo(&doc); err != nil {
		return models.Reservation{}, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
	}
	return doc.model(snap.Ref.ID, snap.UpdateTime), nil
}

func (s *Store) CreateReservation(ctx context.Context, r models.Reservation) (models.Reservation, error) {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	ref := s.reservations().Doc(id)
	if _, err := ref.Create(ctx, createData(r)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return models.Reservation{}, fmt.Errorf("reservation %s already exists", id)
		}
		return models.Reservation{}, fmt.Errorf("create reservation: %w", err)
	}
	return s.GetReservation(ctx, id)
}

func (s *Store) GetReservation(ctx context.Context, id string) (models.Reservation, error) {
	snap, err := s.reservations().Doc(id).Get(ctx)
	if err != nil {
		return models.Reservation{}, classify(err, "get reservation "+id)
	}
	return decode(snap)
}

// UpdateReservation writes c only if the document's update time still
// equals version.
func (s *Store) UpdateReservation(ctx context.Context, id string, version int64, c store.Change) (models.Reservation, error) {
	ref := s.reservations().Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if snap.UpdateTime.UnixNano() != version {
			return store.ErrVersionConflict
		}
		current, err := decode(snap)
		if err != nil {
			return err
		}
		ups := changeUpdates(current, c)
		if len(ups) == 0 {
			return nil
		}
		return tx.Update(ref, ups, firestore.LastUpdateTime(snap.UpdateTime))
	}, firestore.MaxAttempts(1))
	if errors.Is(err, store.ErrVersionConflict) {
		return models.Reservation{}, err
	}
	if err != nil {
		return models.Reservation{}, classify(err, "update reservation "+id)
	}
	return s.GetReservation(ctx, id)
}

func field(q store.Query) string {
	if q.Field == store.FieldRenter {
		return "renterUid"
	}
	return "itemOwnerUid"
}

func (s *Store) query(q store.Query) firestore.Query {
	kind := q.Kind
	if kind == "" {
		kind = models.KindRental
	}
	return s.reservations().Where(field(q), "==", q.UID).Where("kind", "==", string(kind))
}

func (s *Store) ListReservations(ctx context.Context, q store.Query) ([]models.Reservation, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return collect(s.query(q).Documents(ctx))
}

func (s *Store) ListReservationsByStatus(ctx context.Context, st models.Status, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.reservations().Where("status", "==", string(st)).OrderBy("updatedAt", firestore.Asc).Limit(limit)
	return collect(q.Documents(ctx))
}

func collect(it *firestore.DocumentIterator) ([]models.Reservation, error) {
	defer it.Stop()
	var out []models.Reservation
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list reservations: %w", err)
		}
		r, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
}

// SubscribeReservations runs a snapshot listener until Stop or the first
// error. Listener lifetime is independent of ctx.
func (s *Store) SubscribeReservations(ctx context.Context, q store.Query, fn store.SnapshotFunc) (store.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	it := s.query(q).Snapshots(lctx)
	var stopped atomic.Bool
	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if stopped.Load() {
				return
			}
			if err != nil {
				stopped.Store(true)
				fn(nil, fmt.Errorf("listen %s: %w", q.Key(), err))
				return
			}
			items, err := collect(qs.Documents)
			if err != nil {
				stopped.Store(true)
				fn(nil, err)
				return
			}
			fn(items, nil)
		}
	}()
	return store.StopFunc(func() {
		stopped.Store(true)
		cancel()
	}), nil
}

type seenDoc struct {
	LastSeenAt map[string]int64 `firestore:"lastSeenAt"`
}

func (s *Store) GetWatermark(ctx context.Context, uid string) (models.Watermark, error) {
	snap, err := s.client.Collection(seenCollection).Doc(uid).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.Watermark{UID: uid, LastSeenAt: map[string]clock.Timestamp{}}, nil
	}
	if err != nil {
		return models.Watermark{}, fmt.Errorf("get watermark %s: %w", uid, err)
	}
	return watermarkFrom(uid, snap)
}

func watermarkFrom(uid string, snap *firestore.DocumentSnapshot) (models.Watermark, error) {
	w := models.Watermark{UID: uid, LastSeenAt: map[string]clock.Timestamp{}}
	if snap == nil || !snap.Exists() {
		return w, nil
	}
	var doc seenDoc
	if err := snap.DataTo(&doc); err != nil {
		return models.Watermark{}, fmt.Errorf("decode watermark %s: %w", uid, err)
	}
	for cat, ms := range doc.LastSeenAt {
		w.LastSeenAt[cat] = clock.FromMillis(ms)
	}
	return w, nil
}

// AdvanceWatermark moves category forward inside a transaction.
func (s *Store) AdvanceWatermark(ctx context.Context, uid, category string, to clock.Timestamp) (models.Watermark, bool, error) {
	ref := s.client.Collection(seenCollection).Doc(uid)
	var (
		result   models.Watermark
		advanced bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		advanced = false
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		w, err := watermarkFrom(uid, snap)
		if err != nil {
			return err
		}
		result = w
		if cur, ok := w.LastSeen(category); to.IsZero() || (ok && !to.After(cur)) {
			return nil
		}
		result.LastSeenAt[category] = to
		advanced = true
		return tx.Set(ref, map[string]interface{}{
			"lastSeenAt": map[string]interface{}{category: to.Millis()},
		}, firestore.MergeAll)
	})
	if err != nil {
		return models.Watermark{}, false, fmt.Errorf("advance watermark %s/%s: %w", uid, category, err)
	}
	return result, advanced, nil
}

func (s *Store) SubscribeWatermark(ctx context.Context, uid string, fn func(models.Watermark, error)) (store.Subscription, error) {
	return s.watchDoc(ctx, s.client.Collection(seenCollection).Doc(uid), func(snap *firestore.DocumentSnapshot) error {
		w, err := watermarkFrom(uid, snap)
		if err != nil {
			return err
		}
		fn(w, nil)
		return nil
	}, func(err error) { fn(models.Watermark{}, err) })
}

type countersDoc struct {
	Counts    map[string]int `firestore:"counts"`
	UpdatedAt time.Time      `firestore:"updatedAt"`
}

func countersFrom(uid string, snap *firestore.DocumentSnapshot) (models.Counters, error) {
	c := models.Counters{UID: uid, Counts: map[string]int{}}
	if snap == nil || !snap.Exists() {
		return c, nil
	}
	var doc countersDoc
	if err := snap.DataTo(&doc); err != nil {
		return models.Counters{}, fmt.Errorf("decode counters %s: %w", uid, err)
	}
	for cat, n := range doc.Counts {
		c.Counts[cat] = n
	}
	c.UpdatedAt = stamp(doc.UpdatedAt)
	c.Recompute()
	return c, nil
}

func (s *Store) GetCounters(ctx context.Context, uid string) (models.Counters, error) {
	snap, err := s.client.Collection(countersCollection).Doc(uid).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return models.Counters{}, fmt.Errorf("get counters %s: %w", uid, err)
	}
	return countersFrom(uid, snap)
}

// IncrementCounter uses an atomic increment for positive deltas and a
// clamping transaction otherwise.
func (s *Store) IncrementCounter(ctx context.Context, uid, category string, delta int) (models.Counters, error) {
	ref := s.client.Collection(countersCollection).Doc(uid)
	if delta > 0 {
		_, err := ref.Set(ctx, map[string]interface{}{
			"counts":    map[string]interface{}{category: firestore.Increment(delta)},
			"total":     firestore.Increment(delta),
			"updatedAt": firestore.ServerTimestamp,
		}, firestore.MergeAll)
		if err != nil {
			return models.Counters{}, fmt.Errorf("increment counter %s/%s: %w", uid, category, err)
		}
		return s.GetCounters(ctx, uid)
	}
	return s.setCount(ctx, uid, category, func(n int) int { return n + delta })
}

func (s *Store) ResetCounter(ctx context.Context, uid, category string) (models.Counters, error) {
	return s.setCount(ctx, uid, category, func(int) int { return 0 })
}

func (s *Store) setCount(ctx context.Context, uid, category string, next func(int) int) (models.Counters, error) {
	ref := s.client.Collection(countersCollection).Doc(uid)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		c, err := countersFrom(uid, snap)
		if err != nil {
			return err
		}
		n := next(c.Count(category))
		if n < 0 {
			n = 0
		}
		c.Counts[category] = n
		c.Recompute()
		return tx.Set(ref, map[string]interface{}{
			"counts":    map[string]interface{}{category: n},
			"total":     c.Total,
			"updatedAt": firestore.ServerTimestamp,
		}, firestore.MergeAll)
	})
	if err != nil {
		return models.Counters{}, fmt.Errorf("set counter %s/%s: %w", uid, category, err)
	}
	return s.GetCounters(ctx, uid)
}

func (s *Store) SubscribeCounters(ctx context.Context, uid string, fn func(models.Counters, error)) (store.Subscription, error) {
	return s.watchDoc(ctx, s.client.Collection(countersCollection).Doc(uid), func(snap *firestore.DocumentSnapshot) error {
		c, err := countersFrom(uid, snap)
		if err != nil {
			return err
		}
		fn(c, nil)
		return nil
	}, func(err error) { fn(models.Counters{}, err) })
}

func (s *Store) watchDoc(ctx context.Context, ref *firestore.DocumentRef, deliver func(*firestore.DocumentSnapshot) error, fail func(error)) (store.Subscription, error) {
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	it := ref.Snapshots(lctx)
	var stopped atomic.Bool
	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if stopped.Load() {
				return
			}
			if err == nil {
				err = deliver(snap)
			}
			if err != nil {
				stopped.Store(true)
				fail(err)
				return
			}
		}
	}()
	return store.StopFunc(func() {
		stopped.Store(true)
		cancel()
	}), nil
}
