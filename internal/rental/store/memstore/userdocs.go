package memstore

import (
	"context"
	"errors"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

var errUIDRequired = errors.New("memstore: uid is required")

// Fault keys for the per-user documents. Query keys never start with these.
const (
	watermarkFault = "watermark/"
	countersFault  = "counters/"
)

func (s *Store) GetWatermark(ctx context.Context, uid string) (models.Watermark, error) {
	if err := ctx.Err(); err != nil {
		return models.Watermark{}, err
	}
	if uid == "" {
		return models.Watermark{}, errUIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarkLocked(uid), nil
}

func (s *Store) watermarkLocked(uid string) models.Watermark {
	w, ok := s.watermarks[uid]
	if !ok {
		return models.Watermark{UID: uid, LastSeenAt: map[string]clock.Timestamp{}}
	}
	return w.Clone()
}

// AdvanceWatermark moves uid's category watermark forward to `to`.
func (s *Store) AdvanceWatermark(ctx context.Context, uid, category string, to clock.Timestamp) (models.Watermark, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Watermark{}, false, err
	}
	if uid == "" {
		return models.Watermark{}, false, errUIDRequired
	}
	s.mu.Lock()
	w := s.watermarkLocked(uid)
	if cur, ok := w.LastSeen(category); to.IsZero() || (ok && !to.After(cur)) {
		s.mu.Unlock()
		return w, false, nil
	}
	w.LastSeenAt[category] = to
	s.watermarks[uid] = w.Clone()
	var pending deliveries
	for _, l := range s.wmListeners {
		if l.uid != uid {
			continue
		}
		s.seq++
		seq, snap, l := s.seq, w.Clone(), l
		pending = append(pending, func() { l.deliver(seq, snap, nil) })
	}
	s.mu.Unlock()
	pending.run()
	return w, true, nil
}

func (s *Store) SubscribeWatermark(ctx context.Context, uid string, fn func(models.Watermark, error)) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, errUIDRequired
	}
	s.mu.Lock()
	s.subscribeCalls[watermarkFault+uid]++
	if err := s.faults[watermarkFault+uid]; err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.nextID++
	id := s.nextID
	l := &valueListener[models.Watermark]{uid: uid, fn: fn}
	s.wmListeners[id] = l
	s.seq++
	seq, snap := s.seq, s.watermarkLocked(uid)
	s.mu.Unlock()

	l.deliver(seq, snap, nil)
	return store.StopFunc(func() {
		l.stopped.Store(true)
		s.mu.Lock()
		delete(s.wmListeners, id)
		s.mu.Unlock()
	}), nil
}

func (s *Store) GetCounters(ctx context.Context, uid string) (models.Counters, error) {
	if err := ctx.Err(); err != nil {
		return models.Counters{}, err
	}
	if uid == "" {
		return models.Counters{}, errUIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countersLocked(uid), nil
}

func (s *Store) countersLocked(uid string) models.Counters {
	c, ok := s.counters[uid]
	if !ok {
		return models.Counters{UID: uid, Counts: map[string]int{}}
	}
	return c.Clone()
}

func (s *Store) IncrementCounter(ctx context.Context, uid, category string, delta int) (models.Counters, error) {
	return s.updateCounters(ctx, uid, func(c *models.Counters) {
		n := c.Counts[category] + delta
		if n < 0 {
			n = 0
		}
		c.Counts[category] = n
	})
}

func (s *Store) ResetCounter(ctx context.Context, uid, category string) (models.Counters, error) {
	return s.updateCounters(ctx, uid, func(c *models.Counters) {
		c.Counts[category] = 0
	})
}

func (s *Store) updateCounters(ctx context.Context, uid string, mutate func(*models.Counters)) (models.Counters, error) {
	if err := ctx.Err(); err != nil {
		return models.Counters{}, err
	}
	if uid == "" {
		return models.Counters{}, errUIDRequired
	}
	s.mu.Lock()
	c := s.countersLocked(uid)
	mutate(&c)
	c.Recompute()
	c.UpdatedAt = s.serverNow()
	s.counters[uid] = c.Clone()
	var pending deliveries
	for _, l := range s.ctListeners {
		if l.uid != uid {
			continue
		}
		s.seq++
		seq, snap, l := s.seq, c.Clone(), l
		pending = append(pending, func() { l.deliver(seq, snap, nil) })
	}
	s.mu.Unlock()
	pending.run()
	return c, nil
}

func (s *Store) SubscribeCounters(ctx context.Context, uid string, fn func(models.Counters, error)) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, errUIDRequired
	}
	s.mu.Lock()
	s.subscribeCalls[countersFault+uid]++
	if err := s.faults[countersFault+uid]; err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.nextID++
	id := s.nextID
	l := &valueListener[models.Counters]{uid: uid, fn: fn}
	s.ctListeners[id] = l
	s.seq++
	seq, snap := s.seq, s.countersLocked(uid)
	s.mu.Unlock()

	l.deliver(seq, snap, nil)
	return store.StopFunc(func() {
		l.stopped.Store(true)
		s.mu.Lock()
		delete(s.ctListeners, id)
		s.mu.Unlock()
	}), nil
}

// FailWatermark terminates uid's watermark listeners with err and makes new
// ones fail until RecoverWatermark is called.
func (s *Store) FailWatermark(uid string, err error) {
	failValue(s, s.wmListeners, watermarkFault+uid, uid, err)
}

// RecoverWatermark lifts a fault installed by FailWatermark.
func (s *Store) RecoverWatermark(uid string) { s.recoverKey(watermarkFault + uid) }

// FailCounters terminates uid's counter listeners with err and makes new
// ones fail until RecoverCounters is called.
func (s *Store) FailCounters(uid string, err error) {
	failValue(s, s.ctListeners, countersFault+uid, uid, err)
}

// RecoverCounters lifts a fault installed by FailCounters.
func (s *Store) RecoverCounters(uid string) { s.recoverKey(countersFault + uid) }

// WatermarkSubscribeCalls reports how many watermark listeners were opened
// for uid, including refused ones.
func (s *Store) WatermarkSubscribeCalls(uid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeCalls[watermarkFault+uid]
}

func (s *Store) recoverKey(key string) {
	s.mu.Lock()
	delete(s.faults, key)
	s.mu.Unlock()
}

func failValue[T any](s *Store, listeners map[uint64]*valueListener[T], key, uid string, err error) {
	s.mu.Lock()
	s.faults[key] = err
	var pending deliveries
	for id, l := range listeners {
		if l.uid != uid {
			continue
		}
		delete(listeners, id)
		s.seq++
		seq, l := s.seq, l
		pending = append(pending, func() {
			var zero T
			l.deliver(seq, zero, err)
			l.stopped.Store(true)
		})
	}
	s.mu.Unlock()
	pending.run()
}
