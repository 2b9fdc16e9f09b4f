package models

import (
	"rentalBack/internal/rental/clock"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Notification categories.
const (
	CategoryReservations = "reservations"
	CategoryPayments     = "payments"
	CategoryMessages     = "messages"
	CategoryInteractions = "interactions"
)

// Categories lists every notification category.
var Categories = []string{CategoryReservations, CategoryPayments, CategoryMessages, CategoryInteractions}

// ValidCategory reports whether c is a known category.
func ValidCategory(c string) bool {
	return slices.Contains(Categories, c)
}

// Watermark holds the last-acknowledged instant per category for one user.
type Watermark struct {
	UID        string                     `json:"uid"`
	LastSeenAt map[string]clock.Timestamp `json:"lastSeenAt"`
}

// LastSeen returns the watermark for category, if any.
func (w Watermark) LastSeen(category string) (clock.Timestamp, bool) {
	ts, ok := w.LastSeenAt[category]
	if !ok || ts.IsZero() {
		return clock.Timestamp{}, false
	}
	return ts, true
}

// Clone returns a deep copy.
func (w Watermark) Clone() Watermark {
	out := Watermark{UID: w.UID}
	if w.LastSeenAt != nil {
		out.LastSeenAt = maps.Clone(w.LastSeenAt)
	}
	return out
}

// Counters is the per-user pre-aggregated unread counts document.
type Counters struct {
	UID       string          `json:"uid"`
	Counts    map[string]int  `json:"counts"`
	Total     int             `json:"total"`
	UpdatedAt clock.Timestamp `json:"updatedAt"`
}

// Count returns the count for category.
func (c Counters) Count(category string) int {
	return c.Counts[category]
}

// Recompute refreshes Total from Counts.
func (c *Counters) Recompute() {
	total := 0
	for _, n := range c.Counts {
		total += n
	}
	c.Total = total
}

// Clone returns a deep copy.
func (c Counters) Clone() Counters {
	out := c
	if c.Counts != nil {
		out.Counts = maps.Clone(c.Counts)
	}
	return out
}
