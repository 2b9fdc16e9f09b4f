package models

import "errors"

var (
	ErrInvalidDates    = errors.New("models: invalid reservation dates")
	ErrInvalidAmount   = errors.New("models: invalid amount")
	ErrInvalidCategory = errors.New("models: unknown notification category")
)
