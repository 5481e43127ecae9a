package apperrors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/lib/pq"
)

const (
	CodeInvalidProposal   = "INVALID_PROPOSAL"
	CodeDuplicateProposal = "DUPLICATE_PROPOSAL"
	CodeItemUnavailable   = "ITEM_UNAVAILABLE"
	CodeAlreadyResolved   = "ALREADY_RESOLVED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidMessage    = "INVALID_MESSAGE"
	CodeInvalidItem       = "INVALID_ITEM"
	CodeTransientStore    = "TRANSIENT_STORE_ERROR"
	CodePermanentStore    = "PERMANENT_STORE_ERROR"
)

// AppError carries the user-facing message and HTTP mapping of a failure.
type AppError struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func InvalidProposal(message string) *AppError {
	return New(CodeInvalidProposal, message, http.StatusBadRequest, nil)
}

func DuplicateProposal() *AppError {
	return New(CodeDuplicateProposal, "you already have a pending trade proposal for this item", http.StatusConflict, nil)
}

func ItemUnavailable(message string) *AppError {
	return New(CodeItemUnavailable, message, http.StatusConflict, nil)
}

func AlreadyResolved(message string) *AppError {
	return New(CodeAlreadyResolved, message, http.StatusConflict, nil)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, http.StatusForbidden, nil)
}

func NotFound(resource string, err error) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound, err)
}

func InvalidMessage(message string) *AppError {
	return New(CodeInvalidMessage, message, http.StatusBadRequest, nil)
}

func InvalidItem(message string) *AppError {
	return New(CodeInvalidItem, message, http.StatusBadRequest, nil)
}

func TransientStore(err error) *AppError {
	appErr := New(CodeTransientStore, "the service is temporarily unavailable, please try again", http.StatusServiceUnavailable, err)
	appErr.Retryable = true
	return appErr
}

func PermanentStore(err error) *AppError {
	return New(CodePermanentStore, "the request could not be stored", http.StatusInternalServerError, err)
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether a caller may retry the failed operation unchanged.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return isTransient(err)
}

// FromStore classifies a persistence error. AppErrors pass through unchanged.
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if isTransient(err) {
		return TransientStore(err)
	}
	return PermanentStore(err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		// connection exception, transaction rollback, insufficient resources, operator intervention
		case "08", "40", "53", "57":
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Describe returns the HTTP status, code and user-facing message for err. Errors that
// are not AppErrors are classified as store failures first.
func Describe(err error) (status int, code, message string, retryable bool) {
	var appErr *AppError
	if !errors.As(FromStore(err), &appErr) {
		return http.StatusInternalServerError, CodePermanentStore, "internal error", false
	}
	return appErr.Status, appErr.Code, appErr.Message, appErr.Retryable
}
