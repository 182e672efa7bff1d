package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the engine
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrHTTPClient       = new(ErrCodeHTTPClient, "http client error")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrInternal         = new(ErrCodeInternal, "internal error")
	ErrSystem           = new(ErrCodeSystemError, "system error")
	ErrUnauthorized     = new(ErrCodeUnauthorized, "unauthorized")
	ErrPermissionDenied = new(ErrCodePermissionDenied, "permission denied")

	// Payment engine failures. All of them except ErrSessionLimitExceeded are
	// accumulated into the run summary instead of aborting the batch.
	ErrInvalidAmount         = new(ErrCodeInvalidAmount, "invalid amount")
	ErrLockAcquisitionFailed = new(ErrCodeLockAcquisitionFailed, "lock acquisition failed")
	ErrAddressMissing        = new(ErrCodeAddressMissing, "billing address missing")
	ErrGateway               = new(ErrCodeGateway, "payment gateway error")
	ErrLedgerWrite           = new(ErrCodeLedgerWrite, "ledger write error")
	ErrSessionLimitExceeded  = new(ErrCodeSessionLimitExceeded, "session limit exceeded")

	// engine errors win over the transport errors they usually wrap
	codePrecedence = []*InternalError{
		ErrSessionLimitExceeded,
		ErrInvalidAmount,
		ErrLockAcquisitionFailed,
		ErrAddressMissing,
		ErrGateway,
		ErrLedgerWrite,
		ErrNotFound,
		ErrAlreadyExists,
		ErrValidation,
		ErrInvalidOperation,
		ErrUnauthorized,
		ErrPermissionDenied,
		ErrHTTPClient,
		ErrDatabase,
		ErrInternal,
		ErrSystem,
	}

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrHTTPClient:            http.StatusInternalServerError,
		ErrDatabase:              http.StatusInternalServerError,
		ErrNotFound:              http.StatusNotFound,
		ErrAlreadyExists:         http.StatusConflict,
		ErrValidation:            http.StatusBadRequest,
		ErrInvalidOperation:      http.StatusBadRequest,
		ErrInternal:              http.StatusInternalServerError,
		ErrSystem:                http.StatusInternalServerError,
		ErrInvalidAmount:         http.StatusUnprocessableEntity,
		ErrLockAcquisitionFailed: http.StatusConflict,
		ErrAddressMissing:        http.StatusUnprocessableEntity,
		ErrGateway:               http.StatusBadGateway,
		ErrLedgerWrite:           http.StatusInternalServerError,
		ErrSessionLimitExceeded:  http.StatusTooManyRequests,
		ErrUnauthorized:          http.StatusUnauthorized,
		ErrPermissionDenied:      http.StatusForbidden,
	}
)

const (
	ErrCodeHTTPClient            = "http_client_error"
	ErrCodeSystemError           = "system_error"
	ErrCodeInternal              = "internal_error"
	ErrCodeNotFound              = "not_found"
	ErrCodeAlreadyExists         = "already_exists"
	ErrCodeValidation            = "validation_error"
	ErrCodeInvalidOperation      = "invalid_operation"
	ErrCodeDatabase              = "database_error"
	ErrCodeInvalidAmount         = "invalid_amount"
	ErrCodeLockAcquisitionFailed = "lock_acquisition_failed"
	ErrCodeAddressMissing        = "address_missing"
	ErrCodeGateway               = "gateway_error"
	ErrCodeLedgerWrite           = "ledger_write_error"
	ErrCodeSessionLimitExceeded  = "session_limit_exceeded"
	ErrCodeUnauthorized          = "unauthorized"
	ErrCodePermissionDenied      = "permission_denied"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

// New creates an InternalError outside of the predefined set
func New(code string, message string) *InternalError {
	return new(code, message)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsHTTPClient checks if an error is an http client error
func IsHTTPClient(err error) bool {
	return errors.Is(err, ErrHTTPClient)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsPermissionDenied checks if an error is a permission denied error
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsInvalidAmount(err error) bool {
	return errors.Is(err, ErrInvalidAmount)
}

func IsLockAcquisitionFailed(err error) bool {
	return errors.Is(err, ErrLockAcquisitionFailed)
}

func IsAddressMissing(err error) bool {
	return errors.Is(err, ErrAddressMissing)
}

func IsGateway(err error) bool {
	return errors.Is(err, ErrGateway)
}

func IsLedgerWrite(err error) bool {
	return errors.Is(err, ErrLedgerWrite)
}

// IsSessionLimitExceeded reports the only error that halts a processing run
func IsSessionLimitExceeded(err error) bool {
	return errors.Is(err, ErrSessionLimitExceeded)
}

// CodeOf returns the code of the first known sentinel the error is marked with
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range codePrecedence {
		if errors.Is(err, e) {
			return e.Code
		}
	}
	return ErrCodeSystemError
}

func HTTPStatusFromErr(err error) int {
	for _, e := range codePrecedence {
		if errors.Is(err, e) {
			return statusCodeMap[e]
		}
	}
	return http.StatusInternalServerError
}
