package timetree

import (
	"errors"
	"fmt"

	"timetree/pkg/graph"
)

var (
	// ErrValidation marks input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a reference to a node that does not exist.
	ErrNotFound = graph.ErrNotFound
	// ErrConflict marks a write conflict; the tree retries these itself.
	ErrConflict = graph.ErrConflict
	// ErrRetriesExhausted is returned when conflicts persist past MaxAttempts.
	ErrRetriesExhausted = errors.New("retries exhausted")

	ErrInvalidResolution   = fmt.Errorf("%w: invalid resolution", ErrValidation)
	ErrInvalidTimezone     = fmt.Errorf("%w: invalid timezone", ErrValidation)
	ErrInvalidDirection    = fmt.Errorf("%w: invalid direction", ErrValidation)
	ErrInvalidRange        = fmt.Errorf("%w: invalid range", ErrValidation)
	ErrInvalidRelationship = fmt.Errorf("%w: invalid relationship type", ErrValidation)
	ErrMissingNode         = fmt.Errorf("%w: event node must be specified", ErrValidation)
	ErrInvalidValue        = fmt.Errorf("%w: invalid calendar value", ErrValidation)
)

// IsValidation reports whether err is a caller error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err refers to a missing node.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
