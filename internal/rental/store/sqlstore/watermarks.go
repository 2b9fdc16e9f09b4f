package sqlstore

import (
	"context"
	"fmt"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

func (s *Store) GetWatermark(ctx context.Context, uid string) (models.Watermark, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT category, last_seen_ms FROM watermarks WHERE uid = ?`), uid)
	if err != nil {
		return models.Watermark{}, fmt.Errorf("get watermark %s: %w", uid, err)
	}
	defer rows.Close()

	w := models.Watermark{UID: uid, LastSeenAt: map[string]clock.Timestamp{}}
	for rows.Next() {
		var (
			category string
			ms       int64
		)
		if err := rows.Scan(&category, &ms); err != nil {
			return models.Watermark{}, err
		}
		w.LastSeenAt[category] = clock.FromMillis(ms)
	}
	return w, rows.Err()
}

// AdvanceWatermark upserts with GREATEST so concurrent writers never move a
// category backwards.
func (s *Store) AdvanceWatermark(ctx context.Context, uid, category string, to clock.Timestamp) (models.Watermark, bool, error) {
	current, err := s.GetWatermark(ctx, uid)
	if err != nil {
		return models.Watermark{}, false, err
	}
	if cur, ok := current.LastSeen(category); to.IsZero() || (ok && !to.After(cur)) {
		return current, false, nil
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertWatermark(), uid, category, to.Millis()); err != nil {
		return models.Watermark{}, false, fmt.Errorf("advance watermark %s/%s: %w", uid, category, err)
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), WatermarkTopic(uid)); err != nil {
		s.logger.Errorf("sqlstore: publish watermark of %s: %v", uid, err)
	}
	w, err := s.GetWatermark(ctx, uid)
	if err != nil {
		return models.Watermark{}, false, err
	}
	return w, true, nil
}

func (s *Store) SubscribeWatermark(ctx context.Context, uid string, fn func(models.Watermark, error)) (store.Subscription, error) {
	return s.watch(ctx, WatermarkTopic(uid), func(ctx context.Context) error {
		w, err := s.GetWatermark(ctx, uid)
		if err != nil {
			return err
		}
		fn(w, nil)
		return nil
	}, func(err error) { fn(models.Watermark{}, err) })
}
