package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
)

// Outcome classifies one call to a grid-intensity provider or delivery
// endpoint. Providers fail over on Retryable and Rejected; sinks retry only
// Retryable.
type Outcome int

const (
	// OutcomeOK is a 2xx or 3xx response.
	OutcomeOK Outcome = iota
	// OutcomeRetryable covers 408, 429, 5xx and network faults.
	OutcomeRetryable
	// OutcomeRejected is a 401 or 403: the endpoint is up but refuses our
	// credentials. Retrying will not help, but the endpoint is unusable.
	OutcomeRejected
	// OutcomeInvalid is any other 4xx, or a request that could not be built.
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeRejected:
		return "rejected"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Unavailable reports whether the endpoint could not serve the call at all.
func (o Outcome) Unavailable() bool {
	return o == OutcomeRetryable || o == OutcomeRejected
}

// ClassifyStatus maps an HTTP status code to an Outcome.
func ClassifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 400:
		return OutcomeOK
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return OutcomeRetryable
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return OutcomeRejected
	default:
		return OutcomeInvalid
	}
}

// networkFaults are transport error texts that survive wrapping by HTTP
// clients as plain strings.
var networkFaults = []string{
	"connection reset by peer",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
}

// ClassifyTransport classifies an error returned by http.Client.Do.
// Timeouts and connection faults are Retryable, a caller cancellation or any
// other failure is Invalid.
func ClassifyTransport(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeInvalid
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return OutcomeRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeRetryable
	}
	msg := strings.ToLower(err.Error())
	for _, p := range networkFaults {
		if strings.Contains(msg, p) {
			return OutcomeRetryable
		}
	}
	return OutcomeInvalid
}

// CallError is a failed call to an external endpoint.
type CallError struct {
	Endpoint   string
	Outcome    Outcome
	StatusCode int           // 0 for transport failures
	RetryAfter time.Duration // from a Retry-After header, if any
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ResponseError returns nil for a successful response and a *CallError
// otherwise. It honors a Retry-After header given in seconds.
func ResponseError(endpoint string, resp *http.Response) error {
	outcome := ClassifyStatus(resp.StatusCode)
	if outcome == OutcomeOK {
		return nil
	}
	ce := &CallError{Endpoint: endpoint, Outcome: outcome, StatusCode: resp.StatusCode}
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
		ce.RetryAfter = time.Duration(secs) * time.Second
	}
	return ce
}

// StatusError builds the *CallError for a status code with no response at
// hand. It returns nil for a successful status.
func StatusError(endpoint string, code int) error {
	outcome := ClassifyStatus(code)
	if outcome == OutcomeOK {
		return nil
	}
	return &CallError{Endpoint: endpoint, Outcome: outcome, StatusCode: code}
}

// TransportError wraps a failure from http.Client.Do.
func TransportError(endpoint string, err error) error {
	return &CallError{Endpoint: endpoint, Outcome: ClassifyTransport(err), Err: err}
}

// OutcomeOf returns the Outcome recorded in err's chain, falling back to
// classifying it as a transport error.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Outcome
	}
	return ClassifyTransport(err)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return OutcomeOf(err) == OutcomeRetryable
}

// ErrBudgetExceeded marks a call cut short by the caller's own time budget
// rather than by the endpoint. Breakers record it as neither a success nor a
// failure.
var ErrBudgetExceeded = eris.New("call budget exceeded")
