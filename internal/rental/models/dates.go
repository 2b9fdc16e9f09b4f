package models

import (
	"fmt"
	"time"
)

// DateLayout is the wire layout of startDate/endDate.
const DateLayout = "2006-01-02"

// DaysBetween returns the number of days in [start, end).
func DaysBetween(start, end string) (int, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return 0, fmt.Errorf("%w: startDate %q", ErrInvalidDates, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return 0, fmt.Errorf("%w: endDate %q", ErrInvalidDates, end)
	}
	if !e.After(s) {
		return 0, fmt.Errorf("%w: endDate must be after startDate", ErrInvalidDates)
	}
	return int(e.Sub(s).Hours() / 24), nil
}
