package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a batch, flag, mapping or entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a lifecycle operation is called from the wrong status.
	ErrInvalidTransition = errors.New("invalid batch status transition")
	// ErrAlreadyTerminal is returned when a batch has already reached a terminal status.
	ErrAlreadyTerminal = errors.New("batch already in terminal status")
	// ErrAlreadyResolved is returned when resolving a flag twice.
	ErrAlreadyResolved = errors.New("quality flag already resolved")
	// ErrInvalidSeverity is returned for severities outside 1..5.
	ErrInvalidSeverity = errors.New("severity must be between 1 and 5")
	// ErrInvalidDelta is returned when an outcome delta carries a negative counter.
	ErrInvalidDelta = errors.New("outcome counters cannot be decremented")
	// ErrCounterInvariant is returned when successful+failed+skipped would exceed total.
	ErrCounterInvariant = errors.New("processed records would exceed total records")
	// ErrDuplicateOutcome is returned when an outcome with the same record key was already applied.
	ErrDuplicateOutcome = errors.New("outcome already recorded for record")
	// ErrValidation marks structural invariant violations on writes.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateName is returned when a shopping center name is already taken.
	ErrDuplicateName = errors.New("shopping center already exists")
	// ErrDuplicateMapping is returned when a mapping config with the same name and import type exists.
	ErrDuplicateMapping = errors.New("mapping config already exists")
)

// TransitionError reports a rejected lifecycle operation together with the status
// the batch was in.
type TransitionError struct {
	Op   string
	From BatchStatus
	err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s batch in status %s", e.err.Error(), e.Op, e.From)
}

func (e *TransitionError) Unwrap() error {
	return e.err
}

func invalidTransition(op string, from BatchStatus) error {
	return &TransitionError{Op: op, From: from, err: ErrInvalidTransition}
}

func alreadyTerminal(op string, from BatchStatus) error {
	return &TransitionError{Op: op, From: from, err: ErrAlreadyTerminal}
}

// ValidationError names the offending field of a rejected write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
