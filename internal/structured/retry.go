package structured

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultBaseDelay = time.Second
	maxRetryDelay    = 30 * time.Second
)

// retryableMarkers are substrings of error messages from SDKs and HTTP
// clients that indicate a transient failure.
var retryableMarkers = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"unexpected eof",
	"429",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"overloaded",
}

// IsRetryable reports whether err looks transient. Errors may opt in or out
// explicitly by implementing Retryable() bool.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var hs interface{ HTTPStatus() int }
	if errors.As(err, &hs) {
		switch hs.HTTPStatus() {
		case 429, 502, 503, 504:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// WithRetry calls fn until it succeeds, returns a non-retryable error, or has
// been retried maxRetries times. Delays grow exponentially from baseDelay with
// random jitter. The last error is returned unwrapped.
func WithRetry[T any](ctx context.Context, fn func(ctx context.Context) (T, error), maxRetries int, baseDelay time.Duration) (T, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	return retry.DoWithData(
		func() (T, error) { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(maxRetries)+1),
		retry.Delay(baseDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.MaxJitter(baseDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
	)
}
