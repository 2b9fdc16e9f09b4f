package listen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// Logger provides minimal logging required by the listen package.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const (
	defaultResubscribeMin = 500 * time.Millisecond
	defaultResubscribeMax = 30 * time.Second
)

// MuxConfig tunes stream recovery.
type MuxConfig struct {
	ResubscribeMin time.Duration
	ResubscribeMax time.Duration
}

// Mux shares one live store subscription per query identity between any
// number of listeners and re-establishes it after stream errors.
type Mux struct {
	store  store.Reservations
	cfg    MuxConfig
	logger Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewMux constructs a Mux over st.
func NewMux(st store.Reservations, cfg MuxConfig, logger Logger) *Mux {
	if cfg.ResubscribeMin <= 0 {
		cfg.ResubscribeMin = defaultResubscribeMin
	}
	if cfg.ResubscribeMax < cfg.ResubscribeMin {
		cfg.ResubscribeMax = defaultResubscribeMax
		if cfg.ResubscribeMax < cfg.ResubscribeMin {
			cfg.ResubscribeMax = cfg.ResubscribeMin
		}
	}
	return &Mux{store: st, cfg: cfg, logger: logger, entries: make(map[string]*entry)}
}

// Store returns the underlying reservation store.
func (m *Mux) Store() store.Reservations { return m.store }

// Acquire registers fn for q and returns its release function. A late
// joiner immediately receives the last snapshot. Snapshots passed to fn are
// shared and must be treated as read-only.
func (m *Mux) Acquire(ctx context.Context, q store.Query, fn store.SnapshotFunc) func() {
	key := q.Key()
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{mux: m, q: q, key: key, listeners: make(map[uint64]*listener)}
		m.entries[key] = e
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	l := &listener{fn: fn}
	e.listeners[id] = l
	replay, seq := e.last, e.seq
	e.mu.Unlock()
	m.mu.Unlock()

	if !ok {
		e.connect(ctx)
	} else if replay != nil {
		l.deliver(seq, replay.items, replay.err)
	}

	var once sync.Once
	return func() { once.Do(func() { m.release(e, id) }) }
}

// Live reports the number of query identities with listeners.
func (m *Mux) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Mux) release(e *entry, id uint64) {
	m.mu.Lock()
	e.mu.Lock()
	if l, ok := e.listeners[id]; ok {
		l.stopped.Store(true)
		delete(e.listeners, id)
	}
	var sub store.Subscription
	if len(e.listeners) == 0 && !e.closed {
		e.closed = true
		sub, e.sub = e.sub, nil
		if e.timer != nil {
			e.timer.Stop()
		}
		if m.entries[e.key] == e {
			delete(m.entries, e.key)
		}
	}
	e.mu.Unlock()
	m.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
}

type snapshot struct {
	items []models.Reservation
	err   error
}

type entry struct {
	mux *Mux
	q   store.Query
	key string

	mu        sync.Mutex
	listeners map[uint64]*listener
	nextID    uint64
	sub       store.Subscription
	gen       uint64
	seq       uint64
	last      *snapshot
	backoff   time.Duration
	timer     *time.Timer
	closed    bool
}

func (e *entry) connect(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	sub, err := e.mux.store.SubscribeReservations(ctx, e.q, func(items []models.Reservation, err error) {
		e.onSnapshot(gen, items, err)
	})
	if err != nil {
		e.onSnapshot(gen, nil, err)
		return
	}

	e.mu.Lock()
	if e.closed || e.gen != gen {
		e.mu.Unlock()
		sub.Stop()
		return
	}
	e.sub = sub
	e.mu.Unlock()
}

func (e *entry) onSnapshot(gen uint64, items []models.Reservation, err error) {
	e.mu.Lock()
	if e.closed || gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.seq++
	seq := e.seq
	e.last = &snapshot{items: items, err: err}
	targets := make([]*listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		targets = append(targets, l)
	}
	var stale store.Subscription
	if err != nil {
		e.gen++
		stale, e.sub = e.sub, nil
		delay := e.nextBackoff()
		e.mux.logger.Errorf("listen: stream %s failed: %v; resubscribing in %s", e.key, err, delay)
		e.timer = time.AfterFunc(delay, func() { e.connect(context.Background()) })
	} else {
		e.backoff = 0
	}
	e.mu.Unlock()

	if stale != nil {
		stale.Stop()
	}
	for _, l := range targets {
		l.deliver(seq, items, err)
	}
}

// nextBackoff doubles the delay up to the configured maximum. Caller holds e.mu.
func (e *entry) nextBackoff() time.Duration {
	cfg := e.mux.cfg
	if e.backoff == 0 {
		e.backoff = cfg.ResubscribeMin
	} else {
		e.backoff *= 2
		if e.backoff > cfg.ResubscribeMax {
			e.backoff = cfg.ResubscribeMax
		}
	}
	return e.backoff
}

type listener struct {
	fn      store.SnapshotFunc
	mu      sync.Mutex
	seq     uint64
	stopped atomic.Bool
}

func (l *listener) deliver(seq uint64, items []models.Reservation, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped.Load() || seq <= l.seq {
		return
	}
	l.seq = seq
	l.fn(items, err)
}
