package s3client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
)

// errRetryable marks a failure as safe to retry under the operation's
// idempotency class. Never attached to a response the upstream actually
// produced (a 5xx status, an S3 error document) -- only to failures that
// mean the request plausibly never reached or was never processed by the
// upstream.
var errRetryable = errors.New("retryable upstream failure")

// RetryPolicy governs how many times, and how, a failed upstream call is
// retried. The policy itself is uniform; which operations are allowed to
// retry at all is decided by the caller passing retryable=true only for
// operations whose idempotency class permits it (see ops.go).
type RetryPolicy struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (p RetryPolicy) attempts() uint {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 3
}

func (p RetryPolicy) initialDelay() time.Duration {
	if p.InitialDelay > 0 {
		return p.InitialDelay
	}
	return 100 * time.Millisecond
}

func (p RetryPolicy) maxDelay() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return 2 * time.Second
}

// withRetry runs fn, retrying on network-level failure (never on an
// upstream-produced HTTP status) when retryable is true. PutObject is
// never retryable: a client stream can't be re-read after a partial send.
// UploadPart, AbortMultipartUpload, and ListParts are idempotent and
// always retryable. CreateMultipartUpload and CompleteMultipartUpload are
// retried at most once, and only when the failure is a pure network error
// (connection refused/reset before any byte of the response was read) --
// never on a 5xx, since the upstream may have already committed the
// operation.
func withRetry(ctx context.Context, policy RetryPolicy, retryable bool, fn func() error) error {
	if !retryable {
		return fn()
	}

	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(policy.attempts()),
		retry.Delay(policy.initialDelay()),
		retry.MaxDelay(policy.maxDelay()),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errRetryable)
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("retrying upstream S3 request", "attempt", n+1, "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	if unwrapped := errors.Unwrap(err); unwrapped != nil {
		return unwrapped
	}
	return err
}

// isNetworkFailure reports whether err represents a failure that occurred
// before the upstream produced any response -- connection refused, DNS
// failure, TLS handshake failure, or a timeout reaching the peer.
func isNetworkFailure(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
