// Package apperror defines the domain error kinds shared by every layer.
//
// Services return *AppError values (or wrap them with fmt.Errorf and %w).
// Handlers use errors.Is against the sentinels below to pick an HTTP status,
// and AppError.Message as the text shown to the user.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// Account lifecycle kinds.
	ErrDuplicateEmail      = errors.New("duplicate email")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrNotVerified         = errors.New("not verified")
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrMailDeliveryFailed  = errors.New("mail delivery failed")
	ErrMediaDeletionFailed = errors.New("media deletion failed")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, never shown to users
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func DuplicateEmail(email string) *AppError {
	return &AppError{
		Err:     ErrDuplicateEmail,
		Message: "User already exists",
		Field:   "email",
	}
}

// UserNotFound is used by the lifecycle operations. Lookups by email get a
// message that does not echo the address back.
func UserNotFound() *AppError {
	return &AppError{
		Err:     ErrUserNotFound,
		Message: "User with this email doesn't exist",
	}
}

func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "Invalid password",
	}
}

func NotVerified() *AppError {
	return &AppError{
		Err:     ErrNotVerified,
		Message: "You need to verify your email. Check your inbox.",
	}
}

// InvalidToken covers unknown, already consumed and malformed tokens.
// kind is "verification" or "reset".
func InvalidToken(kind string) *AppError {
	return &AppError{
		Err:     ErrInvalidToken,
		Message: fmt.Sprintf("Invalid %s token", kind),
	}
}

func TokenExpired(kind string) *AppError {
	return &AppError{
		Err:     ErrTokenExpired,
		Message: fmt.Sprintf("The %s token has expired", kind),
	}
}

func InvalidEmail() *AppError {
	return &AppError{
		Err:     ErrInvalidEmail,
		Message: "Invalid email",
		Field:   "email",
	}
}

func MailDeliveryFailed(cause error) *AppError {
	return &AppError{
		Err:     ErrMailDeliveryFailed,
		Message: "error while sending mail",
		Cause:   cause,
	}
}

func MediaDeletionFailed(cause error) *AppError {
	return &AppError{
		Err:     ErrMediaDeletionFailed,
		Message: "Error while deleting image from cloud storage",
		Cause:   cause,
	}
}
