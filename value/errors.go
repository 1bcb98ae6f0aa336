package value

import "errors"

var (
	// ErrUninitialized is returned by operations on the zero Value.
	ErrUninitialized = errors.New("value: uninitialized")
	// ErrNotIterable is returned when iterating a value with no iteration capability.
	ErrNotIterable = errors.New("value: not iterable")
	// ErrNotNumeric is returned when a number is required.
	ErrNotNumeric = errors.New("value: not numeric")
	// ErrMissingAttribute is returned by Lookup and GroupBy for absent keys.
	ErrMissingAttribute = errors.New("value: missing attribute")
)
