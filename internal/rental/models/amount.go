package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a decimal money value kept as its textual representation.
// JSON numbers and decimal strings are both accepted.
type Amount string

// ParseAmount validates s as a non-negative decimal.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("%w: amount %q", ErrInvalidAmount, s)
	}
	if f < 0 {
		return "", fmt.Errorf("%w: amount %q is negative", ErrInvalidAmount, s)
	}
	return Amount(s), nil
}

// Float returns the numeric value; empty amounts are 0.
func (a Amount) Float() float64 {
	if a == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(string(a), 64)
	return f
}

// IsZero reports whether the amount is empty or equal to zero.
func (a Amount) IsZero() bool { return a.Float() == 0 }

func (a Amount) String() string {
	if a == "" {
		return "0"
	}
	return string(a)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
