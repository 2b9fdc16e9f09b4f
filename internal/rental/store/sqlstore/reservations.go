package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// Logger provides minimal logging required by the store.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// ErrExists is returned when creating a reservation whose id is taken.
var ErrExists = errors.New("sqlstore: reservation already exists")

// Store implements store.Reservations and store.Watermarks.
type Store struct {
	db      *sql.DB
	dialect Dialect
	bus     Bus
	logger  Logger
}

// New constructs a Store. A nil bus means changes are only visible to
// subscribers in this process.
func New(db *sql.DB, dialect Dialect, bus Bus, logger Logger) *Store {
	if bus == nil {
		bus = NewLocalBus()
	}
	return &Store{db: db, dialect: dialect, bus: bus, logger: logger}
}

const reservationColumns = `id, item_owner_uid, renter_uid, item_id, item_title, kind, help_request_id,
start_date, end_date, days, total, is_free, payment_method_type, payment_ref, status,
accepted_by, rejected_by, picked_up_by, canceled_by, paid_out_by, returned_by,
created_at_ms, updated_at_ms, accepted_at_ms, rejected_at_ms, paid_at_ms, picked_up_at_ms,
canceled_at_ms, paid_out_at_ms, returned_at_ms, reviews_open, hidden_for, version`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row scanner) (models.Reservation, error) {
	var (
		r       models.Reservation
		method  sql.NullString
		reviews string
		hidden  string

		created, updated, accepted, rejected, paid int64
		pickedUp, canceled, paidOut, returned      int64
	)
	err := row.Scan(
		&r.ID, &r.ItemOwnerUID, &r.RenterUID, &r.ItemID, &r.ItemTitle, &r.Kind, &r.HelpRequestID,
		&r.StartDate, &r.EndDate, &r.Days, &r.Total, &r.IsFree, &method, &r.PaymentRef, &r.Status,
		&r.AcceptedBy, &r.RejectedBy, &r.PickedUpBy, &r.CanceledBy, &r.PaidOutBy, &r.ReturnedBy,
		&created, &updated, &accepted, &rejected, &paid, &pickedUp,
		&canceled, &paidOut, &returned, &reviews, &hidden, &r.Version,
	)
	if err != nil {
		return models.Reservation{}, err
	}
	if method.Valid {
		m := method.String
		r.PaymentMethodType = &m
	}
	r.CreatedAt = clock.FromMillis(created)
	r.UpdatedAt = clock.FromMillis(updated)
	r.AcceptedAt = clock.FromMillis(accepted)
	r.RejectedAt = clock.FromMillis(rejected)
	r.PaidAt = clock.FromMillis(paid)
	r.PickedUpAt = clock.FromMillis(pickedUp)
	r.CanceledAt = clock.FromMillis(canceled)
	r.PaidOutAt = clock.FromMillis(paidOut)
	r.ReturnedAt = clock.FromMillis(returned)
	if err := json.Unmarshal([]byte(reviews), &r.ReviewsOpen); err != nil {
		return models.Reservation{}, fmt.Errorf("decode reviews_open: %w", err)
	}
	if err := json.Unmarshal([]byte(hidden), &r.HiddenFor); err != nil {
		return models.Reservation{}, fmt.Errorf("decode hidden_for: %w", err)
	}
	return r, nil
}

func reservationArgs(r models.Reservation) ([]interface{}, error) {
	reviews, err := json.Marshal(r.ReviewsOpen)
	if err != nil {
		return nil, err
	}
	hidden := r.HiddenFor
	if hidden == nil {
		hidden = []string{}
	}
	hiddenJSON, err := json.Marshal(hidden)
	if err != nil {
		return nil, err
	}
	var method sql.NullString
	if r.PaymentMethodType != nil {
		method = sql.NullString{String: *r.PaymentMethodType, Valid: true}
	}
	kind := r.Kind
	if kind == "" {
		kind = models.KindRental
	}
	return []interface{}{
		r.ID, r.ItemOwnerUID, r.RenterUID, r.ItemID, r.ItemTitle, string(kind), r.HelpRequestID,
		r.StartDate, r.EndDate, r.Days, string(r.Total), r.IsFree, method, r.PaymentRef, string(r.Status),
		r.AcceptedBy, r.RejectedBy, r.PickedUpBy, r.CanceledBy, r.PaidOutBy, r.ReturnedBy,
		r.CreatedAt.Millis(), r.UpdatedAt.Millis(), r.AcceptedAt.Millis(), r.RejectedAt.Millis(),
		r.PaidAt.Millis(), r.PickedUpAt.Millis(), r.CanceledAt.Millis(), r.PaidOutAt.Millis(),
		r.ReturnedAt.Millis(), string(reviews), string(hiddenJSON), r.Version,
	}, nil
}

func (s *Store) now(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}) (clock.Timestamp, error) {
	var ms int64
	if err := q.QueryRowContext(ctx, s.dialect.nowMillis()).Scan(&ms); err != nil {
		return clock.Timestamp{}, fmt.Errorf("server time: %w", err)
	}
	return clock.FromMillis(ms), nil
}

func (s *Store) CreateReservation(ctx context.Context, r models.Reservation) (models.Reservation, error) {
	now, err := s.now(ctx, s.db)
	if err != nil {
		return models.Reservation{}, err
	}
	r = r.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt, r.UpdatedAt, r.Version = now, now, 1

	args, err := reservationArgs(r)
	if err != nil {
		return models.Reservation{}, err
	}
	stmt := s.dialect.Rebind(`INSERT INTO reservations (` + reservationColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		if isDuplicate(err) {
			return models.Reservation{}, ErrExists
		}
		return models.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	s.notify(ctx, r)
	return r, nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (models.Reservation, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`), id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reservation{}, store.ErrNotFound
	}
	if err != nil {
		return models.Reservation{}, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return r, nil
}

// UpdateReservation reads the row under lock, applies c, and writes it back
// guarded by the version column.
func (s *Store) UpdateReservation(ctx context.Context, id string, version int64, c store.Change) (models.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Reservation{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`+s.dialect.forUpdate()), id)
	current, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reservation{}, store.ErrNotFound
	}
	if err != nil {
		return models.Reservation{}, fmt.Errorf("lock reservation %s: %w", id, err)
	}
	if current.Version != version {
		return models.Reservation{}, store.ErrVersionConflict
	}

	now, err := s.now(ctx, tx)
	if err != nil {
		return models.Reservation{}, err
	}
	next := current.Clone()
	store.ApplyChange(&next, c, now)
	next.Version = version + 1

	args, err := reservationArgs(next)
	if err != nil {
		return models.Reservation{}, err
	}
	// Drop id from the front, then match on id and the old version.
	args = append(args[1:], id, version)
	stmt := s.dialect.Rebind(`UPDATE reservations SET
item_owner_uid = ?, renter_uid = ?, item_id = ?, item_title = ?, kind = ?, help_request_id = ?,
start_date = ?, end_date = ?, days = ?, total = ?, is_free = ?, payment_method_type = ?, payment_ref = ?, status = ?,
accepted_by = ?, rejected_by = ?, picked_up_by = ?, canceled_by = ?, paid_out_by = ?, returned_by = ?,
created_at_ms = ?, updated_at_ms = ?, accepted_at_ms = ?, rejected_at_ms = ?, paid_at_ms = ?, picked_up_at_ms = ?,
canceled_at_ms = ?, paid_out_at_ms = ?, returned_at_ms = ?, reviews_open = ?, hidden_for = ?, version = ?
WHERE id = ? AND version = ?`)
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return models.Reservation{}, fmt.Errorf("update reservation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Reservation{}, store.ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return models.Reservation{}, fmt.Errorf("commit: %w", err)
	}
	s.notify(ctx, next)
	return next, nil
}

func (s *Store) ListReservations(ctx context.Context, q store.Query) ([]models.Reservation, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	column := "item_owner_uid"
	if q.Field == store.FieldRenter {
		column = "renter_uid"
	}
	kind := q.Kind
	if kind == "" {
		kind = models.KindRental
	}
	stmt := s.dialect.Rebind(`SELECT ` + reservationColumns + ` FROM reservations WHERE ` + column + ` = ? AND kind = ? ORDER BY id`)
	return s.query(ctx, stmt, q.UID, string(kind))
}

func (s *Store) ListReservationsByStatus(ctx context.Context, status models.Status, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	stmt := s.dialect.Rebind(`SELECT ` + reservationColumns + ` FROM reservations WHERE status = ? ORDER BY updated_at_ms LIMIT ?`)
	return s.query(ctx, stmt, string(status), limit)
}

func (s *Store) query(ctx context.Context, stmt string, args ...interface{}) ([]models.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// notify announces a change to both parties. Failures only delay other
// processes until their next change.
func (s *Store) notify(ctx context.Context, r models.Reservation) {
	ctx = context.WithoutCancel(ctx)
	for _, uid := range []string{r.ItemOwnerUID, r.RenterUID} {
		if err := s.bus.Publish(ctx, ReservationTopic(uid)); err != nil {
			s.logger.Errorf("sqlstore: publish change of %s: %v", r.ID, err)
		}
		if r.ItemOwnerUID == r.RenterUID {
			break
		}
	}
}

// SubscribeReservations re-runs q whenever the bus announces a change to
// q.UID's reservations.
func (s *Store) SubscribeReservations(ctx context.Context, q store.Query, fn store.SnapshotFunc) (store.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.watch(ctx, ReservationTopic(q.UID), func(ctx context.Context) error {
		items, err := s.ListReservations(ctx, q)
		if err != nil {
			return err
		}
		fn(items, nil)
		return nil
	}, func(err error) { fn(nil, err) })
}

// watch subscribes to topic and calls refresh once up front and after every
// message. Refreshes are serialized; the first failure ends the watch.
func (s *Store) watch(ctx context.Context, topic string, refresh func(context.Context) error, fail func(error)) (store.Subscription, error) {
	bg := context.WithoutCancel(ctx)
	w := &watcher{}
	onMessage := func(err error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.stopped.Load() {
			return
		}
		if err == nil {
			err = refresh(bg)
		}
		if err != nil {
			w.stopped.Store(true)
			fail(err)
			go w.stopBus()
		}
	}

	sub, err := s.bus.Subscribe(bg, topic, onMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	w.setBus(sub)

	w.mu.Lock()
	err = refresh(bg)
	w.mu.Unlock()
	if err != nil {
		w.stopped.Store(true)
		w.stopBus()
		return nil, err
	}
	return store.StopFunc(func() {
		w.stopped.Store(true)
		w.stopBus()
	}), nil
}

// watcher serializes refreshes under mu. Stop only touches the atomic flag
// and busMu so it is safe to call from inside a delivery.
type watcher struct {
	mu      sync.Mutex
	stopped atomic.Bool

	busMu sync.Mutex
	bus   store.Subscription
	once  sync.Once
}

func (w *watcher) setBus(sub store.Subscription) {
	w.busMu.Lock()
	w.bus = sub
	w.busMu.Unlock()
}

func (w *watcher) stopBus() {
	w.once.Do(func() {
		w.busMu.Lock()
		sub := w.bus
		w.busMu.Unlock()
		if sub != nil {
			sub.Stop()
		}
	})
}
