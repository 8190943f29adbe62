package core

import "fmt"

type ErrorCode string

const (
	ErrBadRequest         ErrorCode = "ORB_BAD_REQUEST"
	ErrNotFound           ErrorCode = "ORB_NOT_FOUND"
	ErrConflictLocked     ErrorCode = "ORB_CONFLICT_LOCKED"
	ErrConflictIdempotent ErrorCode = "ORB_CONFLICT_IDEMPOTENT_MISMATCH"
	ErrConflictExists     ErrorCode = "ORB_CONFLICT_EXISTS"
	ErrPreconditionFailed ErrorCode = "ORB_PRECONDITION_FAILED"
	ErrBillingBlocked     ErrorCode = "ORB_BILLING_BLOCKED"
	ErrResourceExhausted  ErrorCode = "ORB_RESOURCE_EXHAUSTED"
	ErrApprovalDenied     ErrorCode = "ORB_APPROVAL_DENIED"
	ErrInternal           ErrorCode = "ORB_INTERNAL"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest:
		return 400
	case ErrBillingBlocked, ErrApprovalDenied:
		return 403
	case ErrNotFound:
		return 404
	case ErrConflictLocked, ErrConflictIdempotent, ErrConflictExists:
		return 409
	case ErrPreconditionFailed:
		return 412
	case ErrResourceExhausted:
		return 429
	default:
		return 500
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}
