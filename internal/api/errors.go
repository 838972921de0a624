// Package api implements the resilient authenticated HTTP client for the
// Reparto platform: request execution with retry and backoff, single-flight
// token renewal, multipart upload, and response error classification.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, api.ErrSessionExpired) to check.
var (
	ErrSessionExpired = errors.New("api: session expired")
	ErrRateLimited    = errors.New("api: rate limited")
	ErrTimeout        = errors.New("api: request timed out")
	ErrNetwork        = errors.New("api: network unreachable")
	ErrValidation     = errors.New("api: validation failed")
	ErrForbidden      = errors.New("api: forbidden")
	ErrNotFound       = errors.New("api: not found")
	ErrServer         = errors.New("api: server error")
	ErrUnknown        = errors.New("api: unknown error")
)

// Canonical per-status messages. These take precedence over any message
// embedded in the response body: the server's wording for a 401 varies by
// endpoint, but the client always reports the same actionable message.
const (
	msgSessionExpired = "Session expired, please log in again"
	msgForbidden      = "You do not have permission to perform this action"
	msgNotFound       = "The requested resource was not found"
	msgRateLimited    = "Too many attempts, please wait before retrying"
	msgServerError    = "Server error, please try again later"
	msgGeneric        = "The request could not be completed"
)

// RateLimit carries the lockout metadata extracted from a 429 response body.
// The wire field names are the backend's Spanish API contract.
type RateLimit struct {
	RetryAfter  int       // tiempo_espera: seconds to wait
	Locked      bool      // bloqueado: account temporarily locked
	LockedUntil time.Time // bloqueado_hasta: end of the lockout window
	Kind        string    // tipo: which limiter tripped (e.g. "login")
}

// APIError is a structured request failure: HTTP status, a human-readable
// message, the raw error payload, and status-specific detail. It wraps a
// sentinel so callers can match failure kinds with errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
	Fields     map[string][]string // 400: field name -> validation messages
	RateLimit  *RateLimit          // 429 only
	Err        error               // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return "api: " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// rateLimitBody is the JSON shape of a 429 response.
type rateLimitBody struct {
	TiempoEspera   int    `json:"tiempo_espera"`
	Bloqueado      bool   `json:"bloqueado"`
	BloqueadoHasta string `json:"bloqueado_hasta"`
	Tipo           string `json:"tipo"`
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusBadRequest:
		return ErrValidation
	case code == http.StatusUnauthorized:
		return ErrSessionExpired
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= http.StatusInternalServerError:
		return ErrServer
	default:
		return ErrUnknown
	}
}

// decodeError builds the structured error for a non-2xx response.
// Message derivation order: explicit per-status message first, then the
// body's "message", "detail", or "error" field, then a generic fallback.
func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Body:       body,
		Err:        classifyStatus(status),
	}

	switch {
	case status == http.StatusUnauthorized:
		apiErr.Message = msgSessionExpired
	case status == http.StatusForbidden:
		apiErr.Message = msgForbidden
	case status == http.StatusNotFound:
		apiErr.Message = msgNotFound
	case status == http.StatusTooManyRequests:
		apiErr.Message = msgRateLimited
		apiErr.RateLimit = parseRateLimit(body)
	case status >= http.StatusInternalServerError:
		apiErr.Message = msgServerError
	default:
		apiErr.Message = bodyMessage(body)
	}

	if status == http.StatusBadRequest {
		apiErr.Fields = parseFieldErrors(body)
	}

	return apiErr
}

// bodyMessage extracts a human-readable message from an error payload,
// trying "message", then "detail", then "error".
func bodyMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}

	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Detail != "":
			return parsed.Detail
		case parsed.Error != "":
			return parsed.Error
		}
	}

	return msgGeneric
}

// parseRateLimit extracts lockout metadata from a 429 body. A malformed body
// yields an empty RateLimit rather than masking the 429 itself.
func parseRateLimit(body []byte) *RateLimit {
	var rl rateLimitBody
	if err := json.Unmarshal(body, &rl); err != nil {
		return &RateLimit{}
	}

	info := &RateLimit{
		RetryAfter: rl.TiempoEspera,
		Locked:     rl.Bloqueado,
		Kind:       rl.Tipo,
	}

	if rl.BloqueadoHasta != "" {
		if t, err := time.Parse(time.RFC3339, rl.BloqueadoHasta); err == nil {
			info.LockedUntil = t
		}
	}

	return info
}

// parseFieldErrors extracts per-field validation messages from a 400 body.
// The backend reports them as an object of field name to message list;
// scalar values are accepted as single-message fields.
func parseFieldErrors(body []byte) map[string][]string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}

	fields := make(map[string][]string)

	for name, value := range raw {
		var list []string
		if err := json.Unmarshal(value, &list); err == nil {
			fields[name] = list
			continue
		}

		var single string
		if err := json.Unmarshal(value, &single); err == nil {
			fields[name] = []string{single}
		}
	}

	if len(fields) == 0 {
		return nil
	}

	return fields
}

// classifyTransport maps a transport-level failure to ErrTimeout or
// ErrNetwork. Both are retryable; everything the server actually answered
// goes through decodeError instead.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	return ErrNetwork
}
