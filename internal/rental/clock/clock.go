package clock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is an opaque server-assigned instant with millisecond precision.
// The zero value means "unset".
type Timestamp struct {
	ms int64
}

// FromTime converts t to a Timestamp. The zero time maps to the zero Timestamp.
func FromTime(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{ms: t.UnixMilli()}
}

// FromMillis builds a Timestamp from unix milliseconds.
func FromMillis(ms int64) Timestamp {
	return Timestamp{ms: ms}
}

// IsZero reports whether the timestamp is unset.
func (t Timestamp) IsZero() bool { return t.ms == 0 }

// Millis returns unix milliseconds.
func (t Timestamp) Millis() int64 { return t.ms }

// Time converts back to time.Time in UTC. Unset timestamps return the zero time.
func (t Timestamp) Time() time.Time {
	if t.ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ms).UTC()
}

func (t Timestamp) After(o Timestamp) bool  { return t.ms > o.ms }
func (t Timestamp) Before(o Timestamp) bool { return t.ms < o.ms }
func (t Timestamp) Equal(o Timestamp) bool  { return t.ms == o.ms }

// Sub returns the duration t-o.
func (t Timestamp) Sub(o Timestamp) time.Duration {
	return time.Duration(t.ms-o.ms) * time.Millisecond
}

// Add returns t shifted by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp{ms: t.ms + d.Milliseconds()}
}

func (t Timestamp) String() string {
	if t.ms == 0 {
		return "<unset>"
	}
	return t.Time().Format(time.RFC3339Nano)
}

// Max returns the later of a and b.
func Max(a, b Timestamp) Timestamp {
	if a.ms >= b.ms {
		return a
	}
	return b
}

// MarshalJSON encodes unix milliseconds, or null when unset.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.ms == 0 {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.ms, 10)), nil
}

// UnmarshalJSON accepts unix milliseconds, an RFC3339 string or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = Timestamp{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		*t = FromTime(parsed)
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*t = Timestamp{ms: ms}
	return nil
}

// Clock supplies the current time for decisions that are not ordering
// decisions, such as refund windows and TTLs.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Func adapts a function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Or returns c, or the system clock when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}
