package config

import (
	"errors"
	"fmt"
)

var (
	// ErrFileNotFound is returned when the file passed with -c does not exist.
	ErrFileNotFound = errors.New("config file not found")

	// ErrTypeMismatch matches every *TypeError.
	ErrTypeMismatch = errors.New("wrong setting type")

	// ErrValidationFailed matches every *ValidationError.
	ErrValidationFailed = errors.New("invalid setting")
)

// ValidationErrorCode says which rule a setting broke.
type ValidationErrorCode string

const (
	ErrCodePageSize    ValidationErrorCode = "page_size"    // not a power of two within the cache limits
	ErrCodeOutOfRange  ValidationErrorCode = "out_of_range" // below the minimum
	ErrCodeNegative    ValidationErrorCode = "negative"     // durations and limits where 0 means off
	ErrCodeInvalidEnum ValidationErrorCode = "invalid_enum"
)

// ValidationError rejects one decoded setting, e.g.
//
//	cache.page_size = 3000: must be a power of two in [64, 1048576]
type ValidationError struct {
	Path    string
	Value   any
	Code    ValidationErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s = %v: %s", e.Path, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// TypeError reports a setting whose TOML or environment value has the wrong
// type, e.g. a quoted page size. Actual is the Go type of the raw value.
type TypeError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: want %s, got %s", e.Path, e.Expected, e.Actual)
}

func (e *TypeError) Unwrap() error {
	return ErrTypeMismatch
}
