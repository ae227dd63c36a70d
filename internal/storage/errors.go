package storage

import "errors"

// ErrUnknownPosition is returned when a position ID is not held in the book
var ErrUnknownPosition = errors.New("unknown position")

// ErrEmptyFill is returned when a fill carries no quantity
var ErrEmptyFill = errors.New("fill quantity must be non-zero")
