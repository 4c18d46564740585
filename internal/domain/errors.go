package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/davidbz/kiln/internal/retry"
)

// ErrorCode is the provider-independent failure classification.
type ErrorCode string

const (
	CodeMissingCredentials  ErrorCode = "MISSING_CREDENTIALS"
	CodeInvalidParams       ErrorCode = "INVALID_PARAMS"
	CodeContentPolicy       ErrorCode = "CONTENT_POLICY"
	CodeAuthFailed          ErrorCode = "AUTH_FAILED"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeServerError         ErrorCode = "SERVER_ERROR"
	CodeNetworkError        ErrorCode = "NETWORK_ERROR"
	CodeInvalidResponse     ErrorCode = "INVALID_RESPONSE"
	CodePayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeCancelled           ErrorCode = "CANCELLED"
	CodeUnknown             ErrorCode = "UNKNOWN"
)

// Retryable reports whether a failure with this code may succeed on a later attempt.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeRateLimit, CodeTimeout, CodeServerError, CodeNetworkError:
		return true
	default:
		return false
	}
}

// breakerNeutral codes are caused by the caller, not by the provider.
func (c ErrorCode) breakerNeutral() bool {
	switch c {
	case CodeCancelled, CodeContentPolicy, CodeInvalidParams:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidPrompt indicates an empty or non-text prompt.
	ErrInvalidPrompt = errors.New("prompt must be a non-empty string")

	// ErrNoProviders indicates an empty provider list after normalization.
	ErrNoProviders = errors.New("at least one provider is required")

	// ErrTooManyProviders indicates a provider list longer than the configured maximum.
	ErrTooManyProviders = errors.New("too many providers requested")

	// ErrInvalidGuidance indicates a guidance value outside [0, 20].
	ErrInvalidGuidance = errors.New("guidance must be between 0 and 20")

	// ErrProviderNotFound indicates no adapter is registered for a provider type.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrModelNotFound indicates the catalog has no active model for a provider key.
	ErrModelNotFound = errors.New("model not found")
)

// ProviderError is a classified failure from a single provider attempt.
type ProviderError struct {
	Provider   string
	Code       ErrorCode
	Message    string
	StatusCode int
	Retryable  bool
	Err        error
}

// NewProviderError builds a ProviderError whose retryability follows the code table.
func NewProviderError(provider string, code ErrorCode, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: code.Retryable(),
	}
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable is consulted by the retry package.
func (e *ProviderError) IsRetryable() bool {
	return e.Retryable
}

// HTTPStatus exposes the upstream status code to the retry package.
func (e *ProviderError) HTTPStatus() int {
	return e.StatusCode
}

// BreakerNeutral tells the circuit breaker not to count this failure.
func (e *ProviderError) BreakerNeutral() bool {
	return e.Code.breakerNeutral()
}

// WithStatus attaches the upstream HTTP status. A status outside the retryable set
// makes the error non-retryable whatever its code.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.StatusCode = status
	if status > 0 && !retry.IsRetryableStatus(status) {
		e.Retryable = false
	}
	return e
}

// WithCause attaches the underlying error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Err = err
	return e
}

// ProviderFailure is one entry of an aggregate failure.
type ProviderFailure struct {
	Provider   string    `json:"provider"`
	Error      string    `json:"error"`
	Type       ErrorCode `json:"type"`
	StatusCode int       `json:"statusCode,omitempty"`
	Retryable  bool      `json:"retryable"`
}

// AllProvidersFailedError is returned when no provider in the list produced an image.
type AllProvidersFailedError struct {
	Failures []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Provider, f.Type))
	}
	return fmt.Sprintf("all providers failed (%s)", strings.Join(parts, ", "))
}

// InsufficientCreditsError reports a balance too low to reserve the request cost.
type InsufficientCreditsError struct {
	Required  float64
	Available float64
	Shortfall float64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %.2f, available %.2f, shortfall %.2f",
		e.Required, e.Available, e.Shortfall)
}

// GenerationError is the terminal error surfaced by GenerationService.
// StatusCode is one of 400, 402, 429, 500, 503.
type GenerationError struct {
	RequestID  string
	StatusCode int
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	return e.Message
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// ClassifyHTTPStatus maps an upstream HTTP status to an ErrorCode.
func ClassifyHTTPStatus(status int) ErrorCode {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return CodeInvalidParams
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return CodeAuthFailed
	case status == http.StatusNotFound:
		return CodeProviderUnavailable
	case status == http.StatusRequestEntityTooLarge:
		return CodePayloadTooLarge
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout, status == statusClientClosed:
		return CodeTimeout
	case status >= http.StatusInternalServerError:
		return CodeServerError
	default:
		return CodeUnknown
	}
}

// statusClientClosed is the non-standard 499 used by nginx-fronted providers.
const statusClientClosed = 499

// ClassifyTransportError maps an error from an HTTP round trip to a ProviderError.
// parent is the request-level context: its cancellation means the caller gave up.
func ClassifyTransportError(parent context.Context, provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return NewProviderError(provider, CodeCancelled, "request cancelled").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(provider, CodeTimeout, "provider deadline exceeded").WithCause(err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(provider, CodeCancelled, "request cancelled").WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewProviderError(provider, CodeTimeout, err.Error()).WithCause(err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return NewProviderError(provider, CodeNetworkError, err.Error()).WithCause(err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewProviderError(provider, CodeNetworkError, err.Error()).WithCause(err)
	}

	return NewProviderError(provider, CodeUnknown, err.Error()).WithCause(err)
}

// IsContentPolicyMessage reports whether an upstream error body describes a safety rejection.
func IsContentPolicyMessage(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range []string{"content_policy", "content policy", "safety", "nsfw", "blocked"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
