package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies catalog failures
type ErrorCode string

const (
	// Caller errors
	ErrCodeDuplicateIdentifier ErrorCode = "DUPLICATE_IDENTIFIER"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeInvalidRecord       ErrorCode = "INVALID_RECORD"
	ErrCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrCodeRateLimited         ErrorCode = "RATE_LIMITED"

	// Infrastructure errors
	ErrCodeNodeUnreachable ErrorCode = "NODE_UNREACHABLE"
	ErrCodeLogCorrupt      ErrorCode = "LOG_CORRUPT"
	ErrCodeLogWriteFailure ErrorCode = "LOG_WRITE_FAILURE"
	ErrCodeInternal        ErrorCode = "INTERNAL"
)

// CatalogError represents a structured error with code and context
type CatalogError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CatalogError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CatalogError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to the status the shell should answer with
func (e *CatalogError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeDuplicateIdentifier:
		return http.StatusConflict
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidRecord, ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeNodeUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewCatalogError creates a new CatalogError
func NewCatalogError(code ErrorCode, message string, cause error) *CatalogError {
	return &CatalogError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CatalogError) WithDetail(key string, value interface{}) *CatalogError {
	e.Details[key] = value
	return e
}

func DuplicateIdentifier(infoID int64) *CatalogError {
	return NewCatalogError(ErrCodeDuplicateIdentifier, fmt.Sprintf("a record with info_id %d already exists", infoID), nil).
		WithDetail("info_id", infoID)
}

func NotFound(infoID int64) *CatalogError {
	return NewCatalogError(ErrCodeNotFound, fmt.Sprintf("no record found with info_id %d", infoID), nil).
		WithDetail("info_id", infoID)
}

func InvalidRecord(field, reason string) *CatalogError {
	return NewCatalogError(ErrCodeInvalidRecord, fmt.Sprintf("invalid %s: %s", field, reason), nil).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func InvalidRequest(message string, cause error) *CatalogError {
	return NewCatalogError(ErrCodeInvalidRequest, message, cause)
}

func NodeUnreachable(node string, cause error) *CatalogError {
	return NewCatalogError(ErrCodeNodeUnreachable, fmt.Sprintf("node %s unreachable", node), cause).
		WithDetail("node", node)
}

func LogCorrupt(line int, cause error) *CatalogError {
	return NewCatalogError(ErrCodeLogCorrupt, fmt.Sprintf("recovery log line %d is corrupt", line), cause).
		WithDetail("line", line)
}

func LogWriteFailure(message string, cause error) *CatalogError {
	return NewCatalogError(ErrCodeLogWriteFailure, message, cause)
}

func InternalError(message string, cause error) *CatalogError {
	return NewCatalogError(ErrCodeInternal, message, cause)
}

// GetCode extracts the error code from anywhere in an error chain
func GetCode(err error) ErrorCode {
	var ce *CatalogError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	var ce *CatalogError
	return stderrors.As(err, &ce) && ce.Code == code
}

// HTTPStatus maps any error to a response status
func HTTPStatus(err error) int {
	var ce *CatalogError
	if stderrors.As(err, &ce) {
		return ce.HTTPStatus()
	}
	return http.StatusInternalServerError
}
