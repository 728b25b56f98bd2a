// Package errors provides standardized error types for table and pipeline operations.
// DataFrameError carries operation and column context; SchemaMismatchError and
// UnseenLabelError cover the two data problems a report run refuses to paper over.
package errors

import (
	"fmt"
	"sort"
	"strings"
)

// DataFrameError represents standardized errors across all DataFrame operations
type DataFrameError struct {
	Op      string // Operation name (e.g., "Filter", "Encode", "Split")
	Column  string // Column name if applicable
	Message string // Human-readable error description
	Cause   error  // Underlying error cause
}

// Error implements the error interface
func (e *DataFrameError) Error() string {
	msg := fmt.Sprintf("%s operation failed: %s", e.Op, e.Message)
	if e.Column != "" {
		msg = fmt.Sprintf("%s operation failed on column '%s': %s", e.Op, e.Column, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for error wrapping support
func (e *DataFrameError) Unwrap() error {
	return e.Cause
}

// Is implements error equality checking for errors.Is()
func (e *DataFrameError) Is(target error) bool {
	if df, ok := target.(*DataFrameError); ok {
		return e.Op == df.Op && e.Column == df.Column && e.Message == df.Message
	}
	return false
}

// NewColumnNotFoundError creates an error for operations on non-existent columns
func NewColumnNotFoundError(op, column string) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Column:  column,
		Message: "column does not exist",
	}
}

// NewInvalidInputError creates an error for invalid operation inputs
func NewInvalidInputError(op, message string) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Message: message,
	}
}

// NewUnsupportedTypeError creates an error for unsupported data types
func NewUnsupportedTypeError(op, typeName string) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Message: fmt.Sprintf("unsupported type: %s", typeName),
	}
}

// NewValidationError creates an error for input validation failures
func NewValidationError(op, column, message string) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Column:  column,
		Message: message,
	}
}

// NewInternalError creates an error for internal operation failures
func NewInternalError(op string, cause error) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Message: "internal error occurred",
		Cause:   cause,
	}
}

// SchemaMismatchError reports required columns absent from a loaded table.
type SchemaMismatchError struct {
	Op      string
	Missing []string
}

// NewSchemaMismatchError sorts the missing column names for stable messages.
func NewSchemaMismatchError(op string, missing []string) *SchemaMismatchError {
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	return &SchemaMismatchError{Op: op, Missing: sorted}
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s operation failed: schema mismatch, missing columns [%s]",
		e.Op, strings.Join(e.Missing, ", "))
}

// UnseenLabelError reports values outside a known label domain.
type UnseenLabelError struct {
	Column string
	Labels []string
}

// NewUnseenLabelError sorts and de-duplicates the offending labels.
func NewUnseenLabelError(column string, labels []string) *UnseenLabelError {
	seen := make(map[string]struct{}, len(labels))
	uniq := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		uniq = append(uniq, l)
	}
	sort.Strings(uniq)
	return &UnseenLabelError{Column: column, Labels: uniq}
}

func (e *UnseenLabelError) Error() string {
	quoted := make([]string, len(e.Labels))
	for i, l := range e.Labels {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	return fmt.Sprintf("column '%s' has unseen labels: %s", e.Column, strings.Join(quoted, ", "))
}

// Predefined error variables for common cases
var (
	// ErrEmptyDataFrame indicates operations on empty DataFrames
	ErrEmptyDataFrame = &DataFrameError{
		Op:      "validation",
		Message: "operation not supported on empty DataFrame",
	}

	// ErrMismatchedLength indicates length mismatches in operations
	ErrMismatchedLength = &DataFrameError{
		Op:      "validation",
		Message: "arrays must have the same length",
	}

	// ErrInvalidIndex indicates out-of-bounds index access
	ErrInvalidIndex = &DataFrameError{
		Op:      "indexing",
		Message: "index out of bounds",
	}

	// ErrSessionClosed is returned by a data source session after Close.
	ErrSessionClosed = &DataFrameError{
		Op:      "session",
		Message: "session is closed",
	}
)
