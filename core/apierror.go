package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"pkt.systems/termai/schema"
)

// AgentAPIErrorKind classifies model API failures for recovery policy.
type AgentAPIErrorKind string

const (
	// APIErrorUnknown is an uncategorized API failure.
	APIErrorUnknown AgentAPIErrorKind = "unknown"
	// APIErrorNetworkUnavailable indicates no network connectivity.
	APIErrorNetworkUnavailable AgentAPIErrorKind = "network_unavailable"
	// APIErrorConnectionFailed indicates the host could not be reached.
	APIErrorConnectionFailed AgentAPIErrorKind = "connection_failed"
	// APIErrorConnectionLost indicates an established connection dropped.
	APIErrorConnectionLost AgentAPIErrorKind = "connection_lost"
	// APIErrorTimeout indicates the request timed out.
	APIErrorTimeout AgentAPIErrorKind = "timeout"
	// APIErrorCancelled indicates the user cancelled the request.
	APIErrorCancelled AgentAPIErrorKind = "cancelled"
	// APIErrorAPIKeyInvalid indicates the API key was rejected.
	APIErrorAPIKeyInvalid AgentAPIErrorKind = "api_key_invalid"
	// APIErrorAuthenticationFailed indicates authorization failed.
	APIErrorAuthenticationFailed AgentAPIErrorKind = "authentication_failed"
	// APIErrorRateLimited indicates the provider throttled the request.
	APIErrorRateLimited AgentAPIErrorKind = "rate_limited"
	// APIErrorModelNotFound indicates the requested model does not exist.
	APIErrorModelNotFound AgentAPIErrorKind = "model_not_found"
	// APIErrorServerOverloaded indicates the provider is overloaded.
	APIErrorServerOverloaded AgentAPIErrorKind = "server_overloaded"
	// APIErrorServiceUnavailable indicates the service is down.
	APIErrorServiceUnavailable AgentAPIErrorKind = "service_unavailable"
	// APIErrorServerError is any other server-side failure.
	APIErrorServerError AgentAPIErrorKind = "server_error"
	// APIErrorEmptyResponse indicates the model returned no content.
	APIErrorEmptyResponse AgentAPIErrorKind = "empty_response"
	// APIErrorMalformedResponse indicates an unparseable response shape.
	APIErrorMalformedResponse AgentAPIErrorKind = "malformed_response"
	// APIErrorContextLengthExceeded indicates the prompt was too large.
	APIErrorContextLengthExceeded AgentAPIErrorKind = "context_length_exceeded"
)

// AgentAPIError wraps a model API failure with a stable classification.
// It is only ever produced by the classifiers from a concrete transport
// or HTTP outcome, never from arbitrary strings.
type AgentAPIError struct {
	Kind       AgentAPIErrorKind
	StatusCode int
	Host       string
	// RetryAfter is the provider-suggested delay in seconds; 0 = unknown.
	RetryAfter int
	Body       string
	Err        error
}

func (e *AgentAPIError) Error() string {
	if e == nil {
		return "agent api error"
	}
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s (HTTP %d)", e.Kind, e.StatusCode)
	case e.Host != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Host)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *AgentAPIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClassifyHTTP maps an HTTP status and error body to the closed taxonomy.
// The provider selects dialect-specific signals (Anthropic reports
// overload as 529; others only in the body text).
func ClassifyHTTP(statusCode int, body string, provider schema.ProviderID) *AgentAPIError {
	e := &AgentAPIError{StatusCode: statusCode, Body: body}
	switch statusCode {
	case 401:
		e.Kind = APIErrorAPIKeyInvalid
	case 403:
		e.Kind = APIErrorAuthenticationFailed
	case 404:
		e.Kind = APIErrorModelNotFound
	case 429:
		e.Kind = APIErrorRateLimited
		if secs, ok := ParseRetryAfter(body); ok {
			e.RetryAfter = secs
		}
	case 503:
		e.Kind = APIErrorServiceUnavailable
	default:
		lower := strings.ToLower(body)
		switch {
		case statusCode == 529 || strings.Contains(lower, "overloaded"):
			e.Kind = APIErrorServerOverloaded
		case statusCode >= 400 && isContextLengthBody(lower, provider):
			e.Kind = APIErrorContextLengthExceeded
		case statusCode >= 400:
			e.Kind = APIErrorServerError
		default:
			e.Kind = APIErrorUnknown
		}
	}
	return e
}

func isContextLengthBody(lower string, provider schema.ProviderID) bool {
	if provider == schema.ProviderAnthropic && strings.Contains(lower, "prompt is too long") {
		return true
	}
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "maximum context")
}

// ClassifyTransport maps a transport-level failure to the closed taxonomy.
func ClassifyTransport(err error) *AgentAPIError {
	if err == nil {
		return nil
	}
	e := &AgentAPIError{Err: err}
	switch {
	case errors.Is(err, context.Canceled):
		e.Kind = APIErrorCancelled
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = APIErrorTimeout
	case isTimeoutErr(err):
		e.Kind = APIErrorTimeout
	case isNoConnectivityErr(err):
		e.Kind = APIErrorNetworkUnavailable
	case isUnreachableErr(err):
		e.Kind = APIErrorConnectionFailed
		e.Host = hostFromErr(err)
	default:
		e.Kind = APIErrorConnectionLost
	}
	return e
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNoConnectivityErr(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ENETDOWN) || errors.Is(err, syscall.ENETUNREACH)
}

func isUnreachableErr(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH)
}

func hostFromErr(err error) string {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Addr != nil {
		return opErr.Addr.String()
	}
	return ""
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry[^0-9]*([0-9]+)`)

// ParseRetryAfter scans free-form error text for a "retry ... <digits>"
// hint and returns the delay in seconds. Absence is not an error; the
// policy applies its own default delay.
func ParseRetryAfter(body string) (int, bool) {
	match := retryAfterPattern.FindStringSubmatch(body)
	if match == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return secs, true
}

// RecoveryKind enumerates the recovery actions.
type RecoveryKind string

const (
	// RecoverFail gives up on the current step.
	RecoverFail RecoveryKind = "fail"
	// RecoverRetryWithBackoff retries with delay.
	RecoverRetryWithBackoff RecoveryKind = "retry_with_backoff"
	// RecoverReduceContext shrinks the prompt before retrying.
	RecoverReduceContext RecoveryKind = "reduce_context"
	// RecoverSwitchModel falls back to another model.
	RecoverSwitchModel RecoveryKind = "switch_model"
	// RecoverUserAction requires user intervention.
	RecoverUserAction RecoveryKind = "user_action_required"
)

// RecoveryStrategy is the action the orchestrator takes for a classified
// error. A pure function of the error; the orchestrator owns the budget.
type RecoveryStrategy struct {
	Kind         RecoveryKind
	InitialDelay time.Duration
	MaxRetries   int
	Message      string
}

// RecoveryFor maps a classified error to its recovery action.
func RecoveryFor(err *AgentAPIError) RecoveryStrategy {
	if err == nil {
		return RecoveryStrategy{Kind: RecoverFail}
	}
	switch err.Kind {
	case APIErrorNetworkUnavailable, APIErrorConnectionFailed, APIErrorConnectionLost, APIErrorTimeout:
		return RecoveryStrategy{Kind: RecoverRetryWithBackoff, InitialDelay: 2 * time.Second, MaxRetries: 3}
	case APIErrorAPIKeyInvalid:
		return RecoveryStrategy{Kind: RecoverUserAction, Message: "API key was rejected; check your configured key"}
	case APIErrorAuthenticationFailed:
		return RecoveryStrategy{Kind: RecoverUserAction, Message: "authentication failed; verify account access and quota"}
	case APIErrorRateLimited:
		delay := 60 * time.Second
		if err.RetryAfter > 0 {
			delay = time.Duration(err.RetryAfter) * time.Second
		}
		return RecoveryStrategy{Kind: RecoverRetryWithBackoff, InitialDelay: delay, MaxRetries: 1}
	case APIErrorServerError:
		return RecoveryStrategy{Kind: RecoverRetryWithBackoff, InitialDelay: 5 * time.Second, MaxRetries: 3}
	case APIErrorServerOverloaded, APIErrorServiceUnavailable:
		return RecoveryStrategy{Kind: RecoverRetryWithBackoff, InitialDelay: 30 * time.Second, MaxRetries: 2}
	case APIErrorEmptyResponse, APIErrorMalformedResponse:
		return RecoveryStrategy{Kind: RecoverRetryWithBackoff, InitialDelay: time.Second, MaxRetries: 2}
	case APIErrorModelNotFound:
		return RecoveryStrategy{Kind: RecoverUserAction, Message: "model is not available; pick another model"}
	case APIErrorContextLengthExceeded:
		return RecoveryStrategy{Kind: RecoverReduceContext}
	case APIErrorCancelled:
		return RecoveryStrategy{Kind: RecoverFail}
	}
	return RecoveryStrategy{Kind: RecoverFail}
}

// IsTransient reports whether retrying without user intervention can
// succeed. The orchestrator consults this before consuming retry budget.
func IsTransient(err *AgentAPIError) bool {
	if err == nil {
		return false
	}
	switch err.Kind {
	case APIErrorNetworkUnavailable, APIErrorConnectionFailed, APIErrorConnectionLost,
		APIErrorTimeout, APIErrorRateLimited, APIErrorServerOverloaded,
		APIErrorServiceUnavailable, APIErrorServerError,
		APIErrorEmptyResponse, APIErrorMalformedResponse:
		return true
	}
	return false
}
