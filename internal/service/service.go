package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wxplume/srefproxy/internal/admission"
	"github.com/wxplume/srefproxy/internal/cache"
	"github.com/wxplume/srefproxy/internal/models"
	"github.com/wxplume/srefproxy/internal/observability"
	"github.com/wxplume/srefproxy/internal/series"
	"github.com/wxplume/srefproxy/internal/ttl"
	"github.com/wxplume/srefproxy/internal/upstream"
)

// ErrAdmissionDenied is returned when a cache-miss request is rejected by the
// per-client token bucket. Callers surface it as 429; it is never retried
// internally.
var ErrAdmissionDenied = errors.New("admission denied")

// PlumeService orchestrates plume retrieval: cache lookup, admission control
// on misses, upstream fetch with retries, series processing, and conditional
// cache population. Cache hits never touch the admission controller.
type PlumeService struct {
	client     upstream.PlumeClient
	store      cache.Store
	ttlPolicy  ttl.Policy
	limiter    *admission.Limiter
	minMembers int

	// coalesce collapses concurrent miss-fetches for the same key into one
	// upstream call. Off by default; changes observable retry timing, and a
	// failed shared fetch returns its error to every waiter without caching.
	coalesce bool
	flight   singleflight.Group
}

// NewPlumeService creates a PlumeService with the provided dependencies.
// minMembers is the completeness threshold below which a successful fetch is
// returned but not cached. A nil limiter disables admission control.
func NewPlumeService(client upstream.PlumeClient, store cache.Store, ttlPolicy ttl.Policy, limiter *admission.Limiter, minMembers int, coalesce bool) *PlumeService {
	if minMembers <= 0 {
		minMembers = 10
	}
	return &PlumeService{
		client:     client,
		store:      store,
		ttlPolicy:  ttlPolicy,
		limiter:    limiter,
		minMembers: minMembers,
		coalesce:   coalesce,
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if the logger is not found or the context value has the wrong type.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetPlumes serves one (station, run, parameter, date) request. On a cache
// hit the admission controller is bypassed entirely. On a miss the client's
// bucket is checked, the upstream is fetched with retries, and the processed
// result is cached only when it meets the completeness threshold; incomplete
// results are a non-error success with CacheStatusIncomplete so a later
// request can retry the fetch.
func (s *PlumeService) GetPlumes(ctx context.Context, req models.PlumeRequest, clientID string) (models.ProcessedResult, models.CacheStatus, error) {
	key := req.CacheKey()
	start := time.Now()
	logger := loggerFromContext(ctx)

	cached, ok, err := s.store.Get(ctx, key)
	if err != nil {
		// A broken cache backend degrades to miss behavior rather than failing the request.
		if logger != nil {
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
	} else if ok {
		observability.CacheResultsTotal.WithLabelValues(string(models.CacheStatusHit)).Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("key", key), zap.Duration("duration", time.Since(start)))
		}
		return cached, models.CacheStatusHit, nil
	}

	if s.limiter != nil && !s.limiter.TryAcquire(clientID) {
		observability.AdmissionDeniedTotal.Inc()
		if logger != nil {
			logger.Debug("admission denied", zap.String("key", key), zap.String("client", clientID))
		}
		return nil, "", fmt.Errorf("%w for %s", ErrAdmissionDenied, key)
	}

	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("key", key))
	}

	raw, fetchErr := s.fetch(ctx, key, req)
	if fetchErr != nil {
		if logger != nil {
			logger.Warn("upstream fetch failed",
				zap.String("key", key),
				zap.String("category", string(upstream.CategorizeError(fetchErr))),
				zap.Error(fetchErr))
		}
		return nil, "", fmt.Errorf("fetch plumes for %s: %w", key, fetchErr)
	}

	result := series.Process(raw)
	if result.MemberCount() < s.minMembers {
		// Partial upstream snapshot: serve it, but never cache it, so it
		// cannot block a retry by a later request with the same key.
		observability.CacheResultsTotal.WithLabelValues(string(models.CacheStatusIncomplete)).Inc()
		if logger != nil {
			logger.Info("incomplete result, bypassing cache",
				zap.String("key", key),
				zap.Int("members", result.MemberCount()),
				zap.Int("required", s.minMembers))
		}
		return result, models.CacheStatusIncomplete, nil
	}

	entryTTL := s.ttlPolicy.TTL(req.Run, time.Now())
	if putErr := s.store.Put(ctx, key, result, entryTTL); putErr != nil {
		if logger != nil {
			logger.Warn("cache put failed", zap.String("key", key), zap.Error(putErr))
		}
	}

	observability.CacheResultsTotal.WithLabelValues(string(models.CacheStatusMiss)).Inc()
	if logger != nil {
		logger.Debug("plumes served", zap.String("key", key), zap.Duration("ttl", entryTTL), zap.Duration("duration", time.Since(start)))
	}
	return result, models.CacheStatusMiss, nil
}

// fetch runs the retrying upstream fetch, optionally collapsing concurrent
// fetches for the same key into a single flight.
func (s *PlumeService) fetch(ctx context.Context, key string, req models.PlumeRequest) (models.RawSeries, error) {
	if !s.coalesce {
		return s.client.FetchPlumes(ctx, req)
	}
	v, err, shared := s.flight.Do(key, func() (interface{}, error) {
		return s.client.FetchPlumes(ctx, req)
	})
	if shared {
		observability.CoalescedFetchesTotal.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(models.RawSeries), nil
}
