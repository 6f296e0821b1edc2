package config

import "errors"

var (
	// ErrNotFound is returned when an API key does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedDriver is returned by Open for a dialect the store has no DDL for.
	ErrUnsupportedDriver = errors.New("unsupported store driver")
)
