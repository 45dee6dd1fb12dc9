package lintscale

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for specific failure types
const (
	ErrCodeSelection     = "SELECTION_ERROR"
	ErrCodeCatalog       = "CATALOG_ERROR"
	ErrCodeExecution     = "EXECUTION_ERROR"
	ErrCodeCache         = "CACHE_ERROR"
	ErrCodeParse         = "PARSE_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeCancelled     = "RUN_CANCELLED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// Error is the coded error type shared by every lintscale component.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodeSelection)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "selection", "execution")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// UnknownToolError names every id in an exclusive allow-list that the registry does not know.
type UnknownToolError struct {
	IDs []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool(s) requested: %s", strings.Join(e.IDs, ", "))
}

// OrderingCycleError names the members of a same-phase dependency cycle, in cycle order.
type OrderingCycleError struct {
	Phase Phase
	Cycle []string
}

func (e *OrderingCycleError) Error() string {
	return fmt.Sprintf("dependency cycle in phase %s: %s", e.Phase, strings.Join(append(append([]string{}, e.Cycle...), e.Cycle[0]), " -> "))
}

// Specific error constructors

func NewUnknownToolError(ids []string) *Error {
	return NewError(ErrCodeSelection, "selection", "tool selection failed", &UnknownToolError{IDs: ids})
}

func NewOrderingCycleError(phase Phase, cycle []string) *Error {
	return NewError(ErrCodeSelection, "selection", "tool ordering failed", &OrderingCycleError{Phase: phase, Cycle: cycle})
}

func NewCatalogError(message string, cause error) *Error {
	return NewError(ErrCodeCatalog, "catalog", message, cause)
}

func NewExecutionError(toolID, actionID string, cause error) *Error {
	return NewError(ErrCodeExecution, "execution", fmt.Sprintf("failed to launch %s:%s", toolID, actionID), cause)
}

func NewCacheError(operation string, cause error) *Error {
	return NewError(ErrCodeCache, "cache", fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewParseError(toolID, parser string, cause error) *Error {
	return NewError(ErrCodeParse, "diagnostics", fmt.Sprintf("could not parse %s output with parser '%s'", toolID, parser), cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *Error {
	return NewError(ErrCodeCancelled, stage, "run cancelled", cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsSelectionError reports whether err aborted the run during tool selection.
func IsSelectionError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeSelection
	}
	return false
}

// HasCode reports whether err carries the given error code anywhere in its chain.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}
