package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wxplume/srefproxy/internal/models"
	"github.com/wxplume/srefproxy/internal/observability"
)

// FetchPlumes wraps Fetch with bounded exponential backoff. Only transient
// failures (timeout, connection reset, 5xx) are retried; 4xx and parse
// failures fail immediately. On exhausting the attempt budget, the final
// error is surfaced unchanged in kind. Backoff waits are context-aware and
// never block other in-flight requests.
func (c *Client) FetchPlumes(ctx context.Context, req models.PlumeRequest) (models.RawSeries, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			observability.UpstreamRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoffDelay(attempt)):
			}
		}

		raw, err := c.Fetch(ctx, req)
		if err == nil {
			return raw, nil
		}

		lastErr = err
		if !Transient(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

// backoffDelay returns the wait before the given attempt: 2^(n-1) times the
// base delay after attempt n, so 1s before attempt 2, 2s before attempt 3.
func (c *Client) backoffDelay(attempt int) time.Duration {
	return c.retryBaseDelay << (attempt - 2)
}

// Transient reports whether err is worth retrying: transport timeout,
// connection reset, or an upstream 5xx. Everything else (4xx, parse
// failures, open circuit) fails immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	if errors.Is(err, ErrTransport) {
		errStr := err.Error()
		return strings.Contains(errStr, "connection reset") || strings.Contains(errStr, "connection refused")
	}
	return false
}
