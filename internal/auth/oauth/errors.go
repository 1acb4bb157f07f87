package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthenticationError represents a failure in the login flow with enough
// context to answer the waiting browser connection and the caller.
type AuthenticationError struct {
	// Type is the machine-readable error category.
	Type string `json:"type"`
	// Message is a human-readable description of the error.
	Message string `json:"message"`
	// Code is the HTTP status used when replying to the held browser connection.
	Code int `json:"code"`
	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// Common authentication error values.
var (
	// ErrListenerStartFailed indicates the loopback redirect listener could not bind.
	ErrListenerStartFailed = &AuthenticationError{
		Type:    "listener_start_failed",
		Message: "Failed to start loopback redirect listener",
		Code:    http.StatusInternalServerError,
	}

	// ErrCodeExchangeFailed indicates the authorization code could not be
	// exchanged for tokens.
	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusInternalServerError,
	}

	// ErrIdentityMismatch indicates the token was issued for a different user
	// than the account expected.
	ErrIdentityMismatch = &AuthenticationError{
		Type:    "identity_mismatch",
		Message: "Token was issued for a different user",
		Code:    http.StatusUnauthorized,
	}

	// ErrIdentityFetchFailed indicates the user profile could not be fetched
	// after a successful token exchange.
	ErrIdentityFetchFailed = &AuthenticationError{
		Type:    "identity_fetch_failed",
		Message: "Failed to fetch the authenticated user's profile",
		Code:    http.StatusInternalServerError,
	}

	// ErrServerUnreachable indicates the initial capability probe failed or
	// timed out before the flow could begin.
	ErrServerUnreachable = &AuthenticationError{
		Type:    "server_unreachable",
		Message: "Server did not answer the capability probe",
		Code:    http.StatusInternalServerError,
	}
)

// ErrBrowserClosed reports that the held browser connection went away before
// the final response could be delivered. It cancels only that delivery, never
// the flow itself.
var ErrBrowserClosed = errors.New("browser connection closed before response delivery")

// wrapAuthError attaches a cause to one of the sentinel authentication errors.
func wrapAuthError(base *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    base.Type,
		Message: base.Message,
		Code:    base.Code,
		Cause:   cause,
	}
}

// IsAuthenticationError checks whether err is an AuthenticationError.
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
