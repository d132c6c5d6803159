// Package errs defines the typed error hierarchy the account manager and
// dispatcher raise. Callers distinguish categories with errors.As via the
// predicates in predicates.go.
package errs

import "fmt"

// BaseError is embedded by every typed error below. Code identifies the
// taxonomy row; Retryable tells a caller whether retrying the same
// operation could plausibly succeed; Metadata carries category-specific
// context for structured logging.
type BaseError struct {
	Message   string
	Code      string
	Retryable bool
	Metadata  map[string]interface{}
}

func (e *BaseError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// NoAccountsError is raised by credential lookups against an empty pool.
type NoAccountsError struct{ BaseError }

// NewNoAccountsError builds a NoAccountsError.
func NewNoAccountsError() *NoAccountsError {
	return &NoAccountsError{BaseError{
		Message:   "no accounts available",
		Code:      "no_accounts",
		Retryable: false,
	}}
}

// InvalidIndexError is raised when an account index is out of range.
type InvalidIndexError struct {
	BaseError
	Index int
	Count int
}

// NewInvalidIndexError builds an InvalidIndexError.
func NewInvalidIndexError(index, count int) *InvalidIndexError {
	return &InvalidIndexError{
		BaseError: BaseError{
			Message:   fmt.Sprintf("account index %d out of range (have %d accounts)", index, count),
			Code:      "invalid_index",
			Retryable: false,
		},
		Index: index,
		Count: count,
	}
}

// RefreshFailedError is raised when the token endpoint returns a non-2xx
// response or the refresh call fails on the network.
type RefreshFailedError struct {
	BaseError
	Cause error
}

// NewRefreshFailedError builds a RefreshFailedError.
func NewRefreshFailedError(accountID string, cause error) *RefreshFailedError {
	return &RefreshFailedError{
		BaseError: BaseError{
			Message:   fmt.Sprintf("token refresh failed for account %s: %v", accountID, cause),
			Code:      "refresh_failed",
			Retryable: true,
			Metadata:  map[string]interface{}{"account": accountID},
		},
		Cause: cause,
	}
}

func (e *RefreshFailedError) Unwrap() error { return e.Cause }

// ProjectIDUnresolvedError is raised when every fetchProjectId attempt is
// exhausted or returns an empty string.
type ProjectIDUnresolvedError struct {
	BaseError
	Attempts int
}

// NewProjectIDUnresolvedError builds a ProjectIDUnresolvedError.
func NewProjectIDUnresolvedError(accountID string, attempts int) *ProjectIDUnresolvedError {
	return &ProjectIDUnresolvedError{
		BaseError: BaseError{
			Message:   fmt.Sprintf("project id unresolved for account %s after %d attempts", accountID, attempts),
			Code:      "projectid_unresolved",
			Retryable: true,
			Metadata:  map[string]interface{}{"account": accountID, "attempts": attempts},
		},
		Attempts: attempts,
	}
}

// UpstreamError is any non-2xx, non-429 HTTP response from the upstream.
type UpstreamError struct {
	BaseError
	Status   int
	Headers  map[string]string
	BodyText string
}

// NewUpstreamError builds an UpstreamError.
func NewUpstreamError(status int, headers map[string]string, body string) *UpstreamError {
	return &UpstreamError{
		BaseError: BaseError{
			Message:   fmt.Sprintf("upstream returned status %d", status),
			Code:      "upstream_non_429",
			Retryable: false,
			Metadata:  map[string]interface{}{"status": status},
		},
		Status:   status,
		Headers:  headers,
		BodyText: body,
	}
}

// RateLimitError is a 429 upstream response, annotated with the parsed
// retry delay (if any).
type RateLimitError struct {
	BaseError
	Status     int
	Headers    map[string]string
	BodyText   string
	RetryMs    int64
	RetryKnown bool
}

// NewRateLimitError builds a RateLimitError.
func NewRateLimitError(status int, headers map[string]string, body string, retryMs int64, retryKnown bool) *RateLimitError {
	return &RateLimitError{
		BaseError: BaseError{
			Message:   "upstream rate limited the request",
			Code:      "upstream_429",
			Retryable: true,
			Metadata:  map[string]interface{}{"status": status, "retryMs": retryMs},
		},
		Status:     status,
		Headers:    headers,
		BodyText:   body,
		RetryMs:    retryMs,
		RetryKnown: retryKnown,
	}
}

// NetworkError wraps a transport failure (DNS, TLS, timeout, connection
// refused).
type NetworkError struct {
	BaseError
	Cause error
}

// NewNetworkError builds a NetworkError.
func NewNetworkError(cause error) *NetworkError {
	return &NetworkError{
		BaseError: BaseError{
			Message:   fmt.Sprintf("network error: %v", cause),
			Code:      "network",
			Retryable: true,
		},
		Cause: cause,
	}
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// ExhaustedError is the final fallback when the attempt loop completes with
// no usable response: no cached error, no last response, no last network
// error to surface.
type ExhaustedError struct {
	BaseError
	SyntheticStatus int
}

// NewExhaustedError builds an ExhaustedError.
func NewExhaustedError() *ExhaustedError {
	return &ExhaustedError{
		BaseError:       BaseError{Message: "request loop exhausted with no response", Code: "exhausted", Retryable: false},
		SyntheticStatus: 500,
	}
}
