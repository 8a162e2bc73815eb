package payment

import (
	"errors"
	"fmt"
)

// ============================================================================
// GATEWAY ERROR CODES
// ============================================================================
// These constants mirror domain error codes to avoid circular imports.
// The service layer maps them onto the domain taxonomy.

const (
	codeUnavailable = "unavailable"      // transport failure, timeout, 5xx - retryable
	codeRejected    = "payment_required" // provider-reported business error - permanent
	codeNotFound    = "not_found"
	codeInternal    = "internal"
)

// GatewayError represents a payment-gateway error with a code, a message
// safe to log, and the provider's own error code when one was reported.
type GatewayError struct {
	Code         string
	Message      string
	ProviderCode string // gateway's native error code, if any
	Err          error
}

func (e *GatewayError) Error() string {
	if e.ProviderCode != "" {
		return fmt.Sprintf("gateway: %s (provider code: %s)", e.Message, e.ProviderCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("gateway: %s", e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the error code for domain mapping.
func (e *GatewayError) ErrorCode() string {
	return e.Code
}

// Unavailable wraps a transport-level failure (connection error, timeout,
// 5xx response). Callers treat it as transient and retryable, never as a
// definitive paid/failed determination.
func Unavailable(message string, err error) error {
	return &GatewayError{Code: codeUnavailable, Message: message, Err: err}
}

// Rejected wraps a provider-reported business error (invalid amount,
// duplicate order number, unknown payment). Permanent; retrying the same
// request will not help.
func Rejected(message, providerCode string) error {
	return &GatewayError{Code: codeRejected, Message: message, ProviderCode: providerCode}
}

// IsUnavailable reports whether err is a transient gateway failure.
func IsUnavailable(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Code == codeUnavailable
}

// IsRejected reports whether err is a permanent provider-side rejection.
func IsRejected(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Code == codeRejected
}

var (
	// ErrPaymentNotFound is returned when the provider does not know the
	// payment id.
	ErrPaymentNotFound = &GatewayError{Code: codeNotFound, Message: "payment not found"}

	// ErrMissingCredentials is returned when a provider is constructed
	// without its required credentials.
	ErrMissingCredentials = &GatewayError{Code: codeInternal, Message: "gateway credentials are required"}
)
