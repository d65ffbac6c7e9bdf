package domain

import "errors"

var (
	// ErrValidation is returned when input is structurally unusable,
	// e.g. a required column is missing.
	ErrValidation = errors.New("validation error")

	// ErrNoValidRecords is returned when no record survives cleaning.
	ErrNoValidRecords = errors.New("no valid records")
)
