package sqlstore

import (
	"context"
	"sync"

	"rentalBack/internal/rental/store"
)

// Bus carries change notifications between processes sharing a database.
// Messages carry no payload; subscribers re-read.
type Bus interface {
	Publish(ctx context.Context, topic string) error
	// Subscribe calls fn(nil) on every message and fn(err) once if the
	// subscription breaks.
	Subscribe(ctx context.Context, topic string, fn func(error)) (store.Subscription, error)
}

// ReservationTopic is the topic for changes to uid's reservations.
func ReservationTopic(uid string) string { return "reservations:" + uid }

// WatermarkTopic is the topic for changes to uid's watermark.
func WatermarkTopic(uid string) string { return "watermarks:" + uid }

// LocalBus delivers in-process only.
type LocalBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(error)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[uint64]func(error))}
}

func (b *LocalBus) Publish(_ context.Context, topic string) error {
	b.mu.Lock()
	fns := make([]func(error), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, topic string, fn func(error)) (store.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]func(error))
	}
	b.subs[topic][id] = fn
	return store.StopFunc(func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
		b.mu.Unlock()
	}), nil
}
