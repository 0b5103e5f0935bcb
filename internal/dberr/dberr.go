// Package dberr provides structured error types for the Stratum engine.
// All errors include a category, code, and message, plus the offending
// field path for validation failures, so callers can report exactly which
// record and field a batch operation rejected.
package dberr

import (
	"errors"
	"fmt"
)

// Category classifies errors by engine component.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategoryQuery      Category = "QUERY"
	CategoryTable      Category = "TABLE"
	CategoryStorage    Category = "STORAGE"
	CategoryCodec      Category = "CODEC"
	CategoryInternal   Category = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeFieldRequired     = "FIELD_REQUIRED"
	CodeInvalidType       = "INVALID_TYPE"
	CodeInvalidRegexMatch = "INVALID_REGEX_MATCH"
	CodeFieldUnique       = "FIELD_UNIQUE"
	CodeGroupUnique       = "GROUP_UNIQUE"
	CodeInvalidSchema     = "INVALID_SCHEMA"

	// Query codes
	CodeUnsupportedOperator = "UNSUPPORTED_OPERATOR"

	// Table codes
	CodeTableExists   = "TABLE_EXISTS"
	CodeTableNotFound = "TABLE_NOT_FOUND"
	CodeBadID         = "BAD_ID"

	// Storage codes
	CodeReadFailed        = "READ_FAILED"
	CodeWriteFailed       = "WRITE_FAILED"
	CodeMisalignedColumns = "MISALIGNED_COLUMNS"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the engine.
type Error struct {
	Category Category
	Code     string
	Message  string

	// Field is the dot-joined path of the offending field for validation
	// errors, empty otherwise.
	Field string

	Cause error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	path := ""
	if e.Field != "" {
		path = " field=" + e.Field
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s]%s %s: %v", e.Category, e.Code, path, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s]%s %s", e.Category, e.Code, path, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category Category, code, message string, cause error) *Error {
	return &Error{Category: category, Code: code, Message: message, Cause: cause}
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a dberr Error.
func GetCategory(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a dberr Error.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetField extracts the offending field path from an error chain.
func GetField(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// Convenience constructors for common errors.

// NewValidation creates a validation error tagged with the offending field
// path.
func NewValidation(code, field, message string) *Error {
	return &Error{Category: CategoryValidation, Code: code, Field: field, Message: message}
}

func NewQuery(code, message string) *Error {
	return New(CategoryQuery, code, message)
}

func NewTable(code, message string) *Error {
	return New(CategoryTable, code, message)
}

func NewStorage(code, message string, cause error) *Error {
	return Wrap(CategoryStorage, code, message, cause)
}

func NewInternal(message string, cause error) *Error {
	return Wrap(CategoryInternal, CodeUnexpected, message, cause)
}
