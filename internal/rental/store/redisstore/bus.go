package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"rentalBack/internal/rental/store"
)

// ErrBusClosed reports a pub/sub connection that went away underneath a
// live subscription.
var ErrBusClosed = errors.New("redisstore: subscription closed")

// Bus is a change-notification bus over Redis pub/sub.
type Bus struct {
	rdb    *redis.Client
	logger Logger
}

func NewBus(rdb *redis.Client, logger Logger) *Bus {
	return &Bus{rdb: rdb, logger: logger}
}

func (b *Bus) Publish(ctx context.Context, topic string) error {
	return b.rdb.Publish(ctx, topic, "1").Err()
}

// Subscribe calls fn(nil) per message, and fn(ErrBusClosed) once if the
// channel closes before Stop.
func (b *Bus) Subscribe(ctx context.Context, topic string, fn func(error)) (store.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	var stopped atomic.Bool
	ch := ps.Channel()
	go func() {
		for range ch {
			if stopped.Load() {
				continue
			}
			fn(nil)
		}
		if !stopped.Load() {
			fn(ErrBusClosed)
		}
	}()

	var once sync.Once
	return store.StopFunc(func() {
		once.Do(func() {
			stopped.Store(true)
			if err := ps.Close(); err != nil {
				b.logger.Errorf("redisstore: close %s: %v", topic, err)
			}
		})
	}), nil
}

// Watch subscribes to topic, runs refresh once before returning and again
// after every message. The first error is passed to fail and ends the
// watch.
func (b *Bus) Watch(ctx context.Context, topic string, refresh func() error, fail func(error)) (store.Subscription, error) {
	var (
		mu      sync.Mutex
		stopped atomic.Bool
		subMu   sync.Mutex
		sub     store.Subscription
	)
	stopSub := func() {
		subMu.Lock()
		s := sub
		subMu.Unlock()
		if s != nil {
			s.Stop()
		}
	}

	s, err := b.Subscribe(ctx, topic, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if stopped.Load() {
			return
		}
		if err == nil {
			err = refresh()
		}
		if err != nil {
			stopped.Store(true)
			fail(err)
			go stopSub()
		}
	})
	if err != nil {
		return nil, err
	}
	subMu.Lock()
	sub = s
	subMu.Unlock()

	mu.Lock()
	err = refresh()
	mu.Unlock()
	if err != nil {
		stopped.Store(true)
		s.Stop()
		return nil, err
	}
	return store.StopFunc(func() {
		stopped.Store(true)
		stopSub()
	}), nil
}
