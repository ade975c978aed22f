// Package errors provides structured error handling for Drift
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConfig represents missing or malformed configuration,
	// detected before any network call is made
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFetchTransient represents a retryable fetch failure
	// (timeout, 5xx, 429)
	ErrorTypeFetchTransient ErrorType = "fetch_transient"
	// ErrorTypeFetchExhausted represents a transient failure that survived
	// the full retry budget; it carries the last underlying error
	ErrorTypeFetchExhausted ErrorType = "fetch_exhausted"
	// ErrorTypeFetchFatal represents a non-retryable fetch failure
	// (4xx other than 429, malformed response schema)
	ErrorTypeFetchFatal ErrorType = "fetch_fatal"
	// ErrorTypeFetchStalled represents the pagination loop-guard tripping
	// on an identical consecutive cursor
	ErrorTypeFetchStalled ErrorType = "fetch_stalled"
	// ErrorTypeInvalidCursor represents a cursor advance that would move
	// a monotonic cursor backward
	ErrorTypeInvalidCursor ErrorType = "invalid_cursor"
	// ErrorTypeRecordProcessing represents a single record failing
	// normalization; the stream continues past it
	ErrorTypeRecordProcessing ErrorType = "record_processing"
	// ErrorTypeDelivery represents the sink rejecting a record or batch
	ErrorTypeDelivery ErrorType = "delivery"
	// ErrorTypeState represents a cursor store failure
	ErrorTypeState ErrorType = "state"
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value by key
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return New(errType, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	return IsType(err, ErrorTypeFetchTransient)
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the error type, or ErrorTypeInternal for foreign errors
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// As delegates to the standard library errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join delegates to the standard library errors.Join
func Join(errs ...error) error {
	return errors.Join(errs...)
}
