// Package errors provides structured error types for hestia.
// All errors include a category, code, message, and retryable flag so that
// the HTTP, gRPC and CLI surfaces can tell "nothing matched" apart from
// "the store could not be reached".
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure domain.
type ErrorCategory string

const (
	ErrCategoryConnectivity ErrorCategory = "CONNECTIVITY"
	ErrCategorySchema       ErrorCategory = "SCHEMA"
	ErrCategoryValidation   ErrorCategory = "VALIDATION"
	ErrCategoryNotFound     ErrorCategory = "NOT_FOUND"
	ErrCategoryUnsupported  ErrorCategory = "UNSUPPORTED"
	ErrCategoryQuery        ErrorCategory = "QUERY"
	ErrCategoryExport       ErrorCategory = "EXPORT"
	ErrCategoryInternal     ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Connectivity codes
	CodeStoreUnreachable = "STORE_UNREACHABLE"
	CodeStoreIO          = "STORE_IO"

	// Schema codes
	CodeFamilyMismatch  = "FAMILY_MISMATCH"
	CodeInvalidFamilies = "INVALID_FAMILIES"
	CodeUnknownKind     = "UNKNOWN_KIND"

	// Validation codes
	CodeInvalidDate    = "INVALID_DATE"
	CodeInvalidLimit   = "INVALID_LIMIT"
	CodeInvalidPattern = "INVALID_PATTERN"
	CodeInvalidRecord  = "INVALID_RECORD"

	// Not found codes
	CodeRowNotFound  = "ROW_NOT_FOUND"
	CodeBodyNotFound = "BODY_NOT_FOUND"

	// Unsupported codes
	CodeDeleteUnsupported = "DELETE_UNSUPPORTED"

	// Query codes
	CodeScanFailed     = "SCAN_FAILED"
	CodeSequenceReused = "SEQUENCE_REUSED"

	// Export codes
	CodeSinkWriteFailed = "SINK_WRITE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// HestiaError is the structured error type used throughout the system.
type HestiaError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *HestiaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *HestiaError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *HestiaError) Is(target error) bool {
	var t *HestiaError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new HestiaError.
func New(category ErrorCategory, code, message string) *HestiaError {
	return &HestiaError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category),
	}
}

// Wrap creates a new HestiaError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *HestiaError {
	return &HestiaError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *HestiaError) WithDetails(details map[string]interface{}) *HestiaError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// The core never retries; this only informs callers.
func IsRetryable(err error) bool {
	var he *HestiaError
	if errors.As(err, &he) {
		return he.Retryable
	}
	return false
}

// GetCategory extracts the first error category found in an error chain.
// Returns empty string if the error is not a HestiaError.
func GetCategory(err error) ErrorCategory {
	var he *HestiaError
	if errors.As(err, &he) {
		return he.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a HestiaError.
func GetCode(err error) string {
	var he *HestiaError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}

// HasCategory reports whether any HestiaError in the chain has the category.
// A QueryError wrapping a ConnectivityError therefore matches both.
func HasCategory(err error, category ErrorCategory) bool {
	for err != nil {
		var he *HestiaError
		if !errors.As(err, &he) {
			return false
		}
		if he.Category == category {
			return true
		}
		err = he.Cause
	}
	return false
}

func isRetryable(category ErrorCategory) bool {
	return category == ErrCategoryConnectivity
}

// Convenience constructors for the error taxonomy.

func NewConnectivityError(message string, cause error) *HestiaError {
	return Wrap(ErrCategoryConnectivity, CodeStoreUnreachable, message, cause)
}

func NewStoreIOError(message string, cause error) *HestiaError {
	return Wrap(ErrCategoryConnectivity, CodeStoreIO, message, cause)
}

func NewSchemaError(code, message string, cause error) *HestiaError {
	return Wrap(ErrCategorySchema, code, message, cause)
}

func NewInvalidParameterError(code, message string) *HestiaError {
	return New(ErrCategoryValidation, code, message)
}

func NewNotFoundError(code, message string) *HestiaError {
	return New(ErrCategoryNotFound, code, message)
}

func NewUnsupportedOperationError(message string) *HestiaError {
	return New(ErrCategoryUnsupported, CodeDeleteUnsupported, message)
}

func NewQueryError(code, message string, cause error) *HestiaError {
	return Wrap(ErrCategoryQuery, code, message, cause)
}

func NewExportError(message string, cause error) *HestiaError {
	return Wrap(ErrCategoryExport, CodeSinkWriteFailed, message, cause)
}

func NewInternalError(message string, cause error) *HestiaError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// Predicates used by the transport layers.

func IsConnectivity(err error) bool { return HasCategory(err, ErrCategoryConnectivity) }

func IsSchema(err error) bool { return HasCategory(err, ErrCategorySchema) }

func IsInvalidParameter(err error) bool { return HasCategory(err, ErrCategoryValidation) }

func IsNotFound(err error) bool { return HasCategory(err, ErrCategoryNotFound) }

func IsUnsupported(err error) bool { return HasCategory(err, ErrCategoryUnsupported) }

func IsQuery(err error) bool { return HasCategory(err, ErrCategoryQuery) }
