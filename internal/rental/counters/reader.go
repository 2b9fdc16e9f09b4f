// Package counters reads the per-user pre-aggregated unread counts and
// reconciles them with the fine-grained freshness signal.
package counters

import (
	"context"
	"sync"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// FreshnessSource is the fine-grained signal a badge must never contradict.
type FreshnessSource interface {
	// Knows reports whether the source tracks category at all.
	Knows(category string) bool
	HasNew(category string) bool
}

// Reader keeps the latest counter document for one user.
type Reader struct {
	uid       string
	freshness FreshnessSource

	mu      sync.Mutex
	doc     models.Counters
	cleared map[string]clock.Timestamp
}

// NewReader constructs a Reader. freshness may be nil.
func NewReader(uid string, freshness FreshnessSource) *Reader {
	return &Reader{
		uid:       uid,
		freshness: freshness,
		doc:       models.Counters{UID: uid, Counts: map[string]int{}},
		cleared:   make(map[string]clock.Timestamp),
	}
}

// Start feeds the reader from the counter document until the returned
// subscription is stopped. A failed stream is reopened after a backoff.
// onChange, if set, runs after each applied update.
func (r *Reader) Start(ctx context.Context, counters store.Counters, b store.Backoff, onChange func()) (store.Subscription, error) {
	open := func(ctx context.Context, fn func(models.Counters, error)) (store.Subscription, error) {
		return counters.SubscribeCounters(ctx, r.uid, fn)
	}
	return store.Resubscribe(ctx, b, open, func(c models.Counters) {
		r.Apply(c)
		if onChange != nil {
			onChange()
		}
	}, nil)
}

// Apply records a server document. Older documents are ignored, and a
// local decrement holds until a newer document arrives.
func (r *Reader) Apply(c models.Counters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.UpdatedAt.Before(r.doc.UpdatedAt) {
		return
	}
	r.doc = c.Clone()
	if r.doc.Counts == nil {
		r.doc.Counts = map[string]int{}
	}
	for cat, at := range r.cleared {
		if c.UpdatedAt.After(at) {
			delete(r.cleared, cat)
		}
	}
}

// Decrement optimistically zeroes category locally.
func (r *Reader) Decrement(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared[category] = r.doc.UpdatedAt
}

// Count returns the aggregate count for category, honouring local
// decrements.
func (r *Reader) Count(category string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(category)
}

// Total sums Count over every category.
func (r *Reader) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, cat := range models.Categories {
		total += r.countLocked(cat)
	}
	return total
}

func (r *Reader) countLocked(category string) int {
	if _, ok := r.cleared[category]; ok {
		return 0
	}
	return r.doc.Count(category)
}

// Badge returns the count to display for category. When the freshness
// source tracks the category its boolean wins over a disagreeing aggregate.
func (r *Reader) Badge(category string) int {
	n := r.Count(category)
	if r.freshness == nil || !r.freshness.Knows(category) {
		return n
	}
	hasNew := r.freshness.HasNew(category)
	switch {
	case n > 0 && !hasNew:
		return 0
	case n == 0 && hasNew:
		return 1
	}
	return n
}

// Badges returns Badge for every category.
func (r *Reader) Badges() map[string]int {
	out := make(map[string]int, len(models.Categories))
	for _, cat := range models.Categories {
		out[cat] = r.Badge(cat)
	}
	return out
}
