package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mymmrac/telego/telegoapi"
)

type ErrorKind int

const (
	// KindTimeout is a long poll that elapsed without data or a transient
	// request timeout. Benign: retry immediately.
	KindTimeout ErrorKind = iota
	// KindRateLimited is a 429 from the Bot API, with a retry-after hint.
	KindRateLimited
	// KindUnreachable covers network failures and server-side errors.
	KindUnreachable
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unreachable"
	}
}

// TransportError classifies a failed Bot API call so the polling loop can
// decide between an immediate retry and the backoff controller.
type TransportError struct {
	Kind       ErrorKind
	RetryAfter time.Duration // only set for KindRateLimited
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classify wraps an error from the Bot API client into a TransportError.
func classify(err error) *TransportError {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode == 429 {
			retryAfter := 5 * time.Second
			if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
				retryAfter = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
			}
			return &TransportError{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
		}
		return &TransportError{Kind: KindUnreachable, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: KindTimeout, Err: err}
	}

	return &TransportError{Kind: KindUnreachable, Err: err}
}
