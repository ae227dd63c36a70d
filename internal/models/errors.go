package models

import (
	"errors"
	"fmt"
)

// ErrInvalidPosition is returned when a position snapshot is malformed
var ErrInvalidPosition = errors.New("invalid position")

// InvalidPositionError describes which position failed validation and why.
type InvalidPositionError struct {
	Position Position
	Reason   string
}

func newInvalidPosition(p Position, reason string) *InvalidPositionError {
	return &InvalidPositionError{Position: p, Reason: reason}
}

func (e *InvalidPositionError) Error() string {
	id := e.Position.ID
	if id == "" {
		id = e.Position.Underlying
	}
	return fmt.Sprintf("invalid position %q: %s", id, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidPosition).
func (e *InvalidPositionError) Unwrap() error {
	return ErrInvalidPosition
}
