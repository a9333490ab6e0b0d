package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wxplume/srefproxy/internal/circuitbreaker"
	"github.com/wxplume/srefproxy/internal/models"
	"github.com/wxplume/srefproxy/internal/observability"
)

// PlumeClient is implemented by clients that fetch raw plume series for one
// (station, run, parameter, date) tuple. FetchPlumes retries transient
// failures internally.
type PlumeClient interface {
	FetchPlumes(ctx context.Context, req models.PlumeRequest) (models.RawSeries, error)
}

var (
	// ErrTimeout means the transport-level timeout expired and the in-flight
	// request was aborted.
	ErrTimeout = errors.New("upstream timeout")
	// ErrTransport covers connection-level failures (reset, refused, DNS).
	ErrTransport = errors.New("upstream transport failure")
	// ErrParse means the payload was not decodable JSON even after the
	// double-decode fallback.
	ErrParse = errors.New("malformed upstream payload")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.Code)
}

const userAgent = "srefproxy/1.0 (+https://github.com/wxplume/srefproxy)"

// Client fetches ensemble plume series from the upstream data endpoint.
// Retry behavior lives in FetchPlumes; Fetch is a single attempt.
type Client struct {
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewClient creates a Client with the reference retry policy: 3 attempts,
// 1s backoff base.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	return NewClientWithRetry(baseURL, timeout, 3, time.Second)
}

// NewClientWithRetry creates a Client with explicit retry parameters.
func NewClientWithRetry(baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("upstream URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	if retryBaseDelay <= 0 {
		retryBaseDelay = time.Second
	}
	return &Client{
		baseURL:        baseURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wraps every fetch attempt in the given breaker.
func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Fetch performs a single upstream request for the tuple. No retries happen
// here. Fails with ErrTimeout, ErrTransport, *StatusError, or ErrParse.
func (c *Client) Fetch(ctx context.Context, req models.PlumeRequest) (models.RawSeries, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, req)
	}
	var result models.RawSeries
	err := c.breaker.Call(func() error {
		var callErr error
		result, callErr = c.callAPI(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) callAPI(ctx context.Context, req models.PlumeRequest) (models.RawSeries, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.buildRequest(reqCtx, req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	corrID := extractCorrelationID(ctx)
	if corrID != "" {
		httpReq.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues("error").Inc()
		observability.UpstreamDuration.WithLabelValues("error").Observe(duration)
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(status).Inc()
	observability.UpstreamDuration.WithLabelValues(status).Observe(duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	return decodeSeries(body)
}

// decodeSeries decodes the response body, tolerating the upstream's
// occasional double JSON-encoding: decode once, and if the decoded value is
// itself a string, decode that string again. This quirk is environmental;
// do not assume single encoding.
func decodeSeries(body []byte) (models.RawSeries, error) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("%w: inner decode: %v", ErrParse, err)
		}
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: payload is not an object", ErrParse)
	}

	raw := make(models.RawSeries, len(obj))
	for label, seriesVal := range obj {
		list, ok := seriesVal.([]interface{})
		if !ok {
			continue
		}
		points := make([][]interface{}, 0, len(list))
		for _, pointVal := range list {
			if pair, ok := pointVal.([]interface{}); ok {
				points = append(points, pair)
			}
		}
		raw[label] = points
	}
	return raw, nil
}

// classifyTransportError maps a transport-level failure to ErrTimeout or
// ErrTransport, preserving the underlying cause.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func (c *Client) buildRequest(ctx context.Context, req models.PlumeRequest) (*http.Request, error) {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	params := url.Values{}
	params.Set("station", strings.ToUpper(req.Station))
	params.Set("run", req.Run)
	params.Set("parameter", req.Parameter)
	params.Set("date", req.CompactDate())
	baseURL.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	return httpReq, nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
