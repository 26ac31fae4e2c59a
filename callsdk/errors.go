/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// APIError is the base error type for all REST errors returned by the
// calling backend. Specific sub-types embed it, so errors.As(err, &apiErr)
// reaches the common fields regardless of the concrete type.
type APIError struct {
	// StatusCode is the HTTP status code from the response.
	StatusCode int

	// Status is the HTTP status line (e.g., "404 Not Found").
	Status string

	// Message is the error message from the response body.
	Message string

	// RetryAfter is parsed from the Retry-After header. Zero if not applicable.
	RetryAfter time.Duration

	// RawBody is the raw response body bytes, preserved for debugging.
	RawBody []byte

	// Err is an optional wrapped error for errors.Unwrap support.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error: %d", e.StatusCode)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned for HTTP 429 Too Many Requests responses.
type RateLimitError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *RateLimitError) Unwrap() error { return e.APIError }

// AuthError is returned for HTTP 401 Unauthorized responses.
type AuthError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *AuthError) Unwrap() error { return e.APIError }

// NotFoundError is returned for HTTP 404 Not Found responses.
type NotFoundError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *NotFoundError) Unwrap() error { return e.APIError }

// ValidationError is returned for HTTP 400 Bad Request responses, e.g. a
// missing callId.
type ValidationError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *ValidationError) Unwrap() error { return e.APIError }

// ServerError is returned for HTTP 5xx responses.
type ServerError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *ServerError) Unwrap() error { return e.APIError }

// apiErrorBody covers both {"message": ...} and {"success":false,"error": ...}.
type apiErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewAPIError creates a structured error from an HTTP response and its body.
func NewAPIError(resp *http.Response, body []byte) error {
	base := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RawBody:    body,
	}

	var parsed apiErrorBody
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err == nil {
			base.Message = parsed.Message
			if base.Message == "" {
				base.Message = parsed.Error
			}
		}
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			base.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return &ValidationError{APIError: base}
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{APIError: base}
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{APIError: base}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{APIError: base}
	case resp.StatusCode >= 500:
		return &ServerError{APIError: base}
	default:
		return base
	}
}

// IsRateLimited reports whether err is a rate limit error (HTTP 429).
func IsRateLimited(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a not found error (HTTP 404).
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsAuthError reports whether err is an authentication error (HTTP 401).
func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// IsServerError reports whether err is a server error (HTTP 5xx).
func IsServerError(err error) bool {
	var e *ServerError
	return errors.As(err, &e)
}

// --- Signaling and lifecycle errors ---

var (
	// ErrNotAttached is returned by room operations issued before the
	// session and plugin handle both exist.
	ErrNotAttached = errors.New("gateway session not attached")

	// ErrSessionClosed resolves transactions whose session was torn down
	// before the gateway answered.
	ErrSessionClosed = errors.New("gateway session closed")

	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("gateway session already connected")

	// ErrInvalidState is wrapped by lifecycle commands issued in a state
	// that does not allow them.
	ErrInvalidState = errors.New("invalid call state")
)

// TransportError reports a socket that could not be opened or was lost.
// It invalidates the gateway session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s failed", e.Op)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is an error frame returned by the gateway for one
// transaction. The session stays usable.
type ProtocolError struct {
	Code        int
	Reason      string
	Transaction string
	Request     string
}

func (e *ProtocolError) Error() string {
	if e.Request != "" {
		return fmt.Sprintf("gateway error %d on %s: %s", e.Code, e.Request, e.Reason)
	}
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Reason)
}

// StaleAnnouncement is logged when an incoming call is older than the
// staleness threshold. It is never shown to the user.
type StaleAnnouncement struct {
	CallID string
	Age    time.Duration
}

func (e *StaleAnnouncement) Error() string {
	return fmt.Sprintf("stale announcement for call %s (age %s)", e.CallID, e.Age)
}

// DuplicateAnnouncement is logged when an incoming call was already handled.
type DuplicateAnnouncement struct {
	CallID string
}

func (e *DuplicateAnnouncement) Error() string {
	return fmt.Sprintf("duplicate announcement for call %s", e.CallID)
}

// RemoteTermination records that the call record reached a terminal status
// written by the other party.
type RemoteTermination struct {
	CallID string
	Status string
}

func (e *RemoteTermination) Error() string {
	return fmt.Sprintf("call %s terminated remotely: %s", e.CallID, e.Status)
}

// IsTransportError reports whether err is a *TransportError.
func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsProtocolError reports whether err is a *ProtocolError.
func IsProtocolError(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}

// IsStaleAnnouncement reports whether err is a *StaleAnnouncement.
func IsStaleAnnouncement(err error) bool {
	var e *StaleAnnouncement
	return errors.As(err, &e)
}

// IsDuplicateAnnouncement reports whether err is a *DuplicateAnnouncement.
func IsDuplicateAnnouncement(err error) bool {
	var e *DuplicateAnnouncement
	return errors.As(err, &e)
}

// IsRemoteTermination reports whether err is a *RemoteTermination.
func IsRemoteTermination(err error) bool {
	var e *RemoteTermination
	return errors.As(err, &e)
}
