package upstream

import (
	"context"
	"errors"

	"github.com/wxplume/srefproxy/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in logs and metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryUpstream5xx ErrorCategory = "upstream_5xx"
	ErrorCategoryUpstream4xx ErrorCategory = "upstream_4xx"
	ErrorCategoryParsing     ErrorCategory = "parsing"
	ErrorCategoryBreakerOpen ErrorCategory = "breaker_open"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code >= 500 {
			return ErrorCategoryUpstream5xx
		}
		return ErrorCategoryUpstream4xx
	}

	if errors.Is(err, ErrParse) {
		return ErrorCategoryParsing
	}

	if errors.Is(err, ErrTransport) {
		return ErrorCategoryNetwork
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorCategoryBreakerOpen
	}

	return ErrorCategoryUnknown
}
