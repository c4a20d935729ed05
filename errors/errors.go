package errors

import (
	"errors"
	"fmt"
)

// Common error types for categorization and handling

var (
	// ErrNotFound indicates a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid caller input
	ErrInvalidInput = errors.New("invalid input")

	// ErrProvider indicates the embedding provider is unavailable or misbehaving
	ErrProvider = errors.New("embedding provider failed")

	// ErrDimensionMismatch indicates two vectors differ in length
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrParse indicates a stored vector or record could not be decoded
	ErrParse = errors.New("malformed stored record")

	// ErrStore indicates a fact store operation failed
	ErrStore = errors.New("fact store operation failed")

	// ErrVersionConflict indicates an optimistic concurrency check failed
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate indicates a new fact was rejected as an exact duplicate
	ErrDuplicate = errors.New("duplicate fact")
)

// WrapError wraps an error with a context message
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with a formatted context message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput checks if error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsProvider checks if error originated at the embedding provider boundary
func IsProvider(err error) bool {
	return errors.Is(err, ErrProvider)
}

// IsDimensionMismatch checks if error is a vector dimension mismatch
func IsDimensionMismatch(err error) bool {
	return errors.Is(err, ErrDimensionMismatch)
}

// IsParse checks if error is a malformed stored record
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsDuplicate checks if error is a duplicate fact rejection
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsStore checks if error is a fact store failure
func IsStore(err error) bool {
	return errors.Is(err, ErrStore)
}

// IsVersionConflict checks if error is an optimistic concurrency conflict
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
