package store

import (
	"context"
	"sync"
	"time"
)

const (
	defaultBackoffMin = 500 * time.Millisecond
	defaultBackoffMax = 30 * time.Second
)

// Backoff bounds the delay between attempts to reopen a failed stream.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Min <= 0 {
		b.Min = defaultBackoffMin
	}
	if b.Max < b.Min {
		b.Max = defaultBackoffMax
		if b.Max < b.Min {
			b.Max = b.Min
		}
	}
	return b
}

// ValueOpener opens a single-document listener such as SubscribeWatermark
// bound to one uid.
type ValueOpener[T any] func(ctx context.Context, fn func(T, error)) (Subscription, error)

// Resubscribe keeps a single-document listener open. Values go to fn. A stream
// error is reported to onErr with the delay before the next attempt, and the
// listener is reopened with doubling delays until ctx ends or the returned
// subscription is stopped. Only the first open error is returned.
func Resubscribe[T any](ctx context.Context, b Backoff, open ValueOpener[T], fn func(T), onErr func(err error, retryIn time.Duration)) (Subscription, error) {
	r := &resubscriber[T]{ctx: ctx, backoff: b.withDefaults(), open: open, fn: fn, onErr: onErr}
	if _, err := r.connect(); err != nil {
		r.Stop()
		return nil, err
	}
	return r, nil
}

type resubscriber[T any] struct {
	ctx     context.Context
	backoff Backoff
	open    ValueOpener[T]
	fn      func(T)
	onErr   func(error, time.Duration)

	mu      sync.Mutex
	gen     uint64
	sub     Subscription
	delay   time.Duration
	timer   *time.Timer
	stopped bool
}

func (r *resubscriber[T]) connect() (uint64, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return 0, nil
	}
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	sub, err := r.open(r.ctx, func(v T, err error) {
		if err != nil {
			r.fail(gen, err)
			return
		}
		r.deliver(gen, v)
	})
	if err != nil {
		return gen, err
	}

	r.mu.Lock()
	if r.stopped || r.gen != gen {
		r.mu.Unlock()
		sub.Stop()
		return gen, nil
	}
	r.sub = sub
	r.mu.Unlock()
	return gen, nil
}

func (r *resubscriber[T]) deliver(gen uint64, v T) {
	r.mu.Lock()
	if r.stopped || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.delay = 0
	r.mu.Unlock()
	r.fn(v)
}

func (r *resubscriber[T]) fail(gen uint64, err error) {
	r.mu.Lock()
	if r.stopped || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.gen++
	stale := r.sub
	r.sub = nil
	if r.delay == 0 {
		r.delay = r.backoff.Min
	} else if r.delay *= 2; r.delay > r.backoff.Max {
		r.delay = r.backoff.Max
	}
	delay := r.delay
	r.timer = time.AfterFunc(delay, r.retry)
	r.mu.Unlock()

	if stale != nil {
		stale.Stop()
	}
	if r.onErr != nil {
		r.onErr(err, delay)
	}
}

func (r *resubscriber[T]) retry() {
	if r.ctx.Err() != nil {
		return
	}
	if gen, err := r.connect(); err != nil {
		r.fail(gen, err)
	}
}

func (r *resubscriber[T]) Stop() {
	r.mu.Lock()
	r.stopped = true
	sub := r.sub
	r.sub = nil
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
}
