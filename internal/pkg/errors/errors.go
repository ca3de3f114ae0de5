package errors

import (
	"fmt"
	"net/http"
)

// AppError carries an error code the API and CLI can act on. A scan that
// finds nothing returns an empty list; a scan that cannot authenticate
// returns an AppError with ErrCodeProviderAuth, so the two outcomes never
// blur together.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

// Unwrap supports errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// Error codes.
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConfig       = "CONFIG_ERROR"
	ErrCodeProviderAuth = "PROVIDER_AUTH_ERROR"
	ErrCodeProviderAPI  = "PROVIDER_API_ERROR"
	ErrCodeEvidenceIO   = "EVIDENCE_IO_ERROR"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeStorage      = "STORAGE_ERROR"
)

// New creates an AppError.
func New(code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

// Wrap attaches an underlying error to a new AppError.
func Wrap(err error, code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode, Internal: err}
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrCodeInternal, message, http.StatusInternalServerError)
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return New(ErrCodeBadRequest, message, http.StatusBadRequest)
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// Config creates a configuration error. These must surface loudly: a
// silently defaulted threshold changes detection semantics.
func Config(message string, err error) *AppError {
	return Wrap(err, ErrCodeConfig, message, http.StatusInternalServerError)
}

// ProviderAuth creates a credential/authorization error.
func ProviderAuth(message string, err error) *AppError {
	return Wrap(err, ErrCodeProviderAuth, message, http.StatusUnauthorized)
}

// ProviderAPI creates a provider transport error.
func ProviderAPI(message string, err error) *AppError {
	return Wrap(err, ErrCodeProviderAPI, message, http.StatusBadGateway)
}

// EvidenceIO creates an evidence filesystem error.
func EvidenceIO(message string, err error) *AppError {
	return Wrap(err, ErrCodeEvidenceIO, message, http.StatusInternalServerError)
}

// RateLimited creates a throttling error.
func RateLimited(message string) *AppError {
	return New(ErrCodeRateLimited, message, http.StatusTooManyRequests)
}

// Storage creates an incident store error.
func Storage(message string, err error) *AppError {
	return Wrap(err, ErrCodeStorage, message, http.StatusInternalServerError)
}
