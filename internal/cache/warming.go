package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wxplume/srefproxy/internal/models"
	"github.com/wxplume/srefproxy/internal/observability"
)

// PlumeFetcher is implemented by the service layer to fetch plumes for a
// request tuple. Used by Warmer to avoid a circular dependency on the
// service package.
type PlumeFetcher interface {
	GetPlumes(ctx context.Context, req models.PlumeRequest, clientID string) (models.ProcessedResult, models.CacheStatus, error)
}

// warmerClientID is the admission identity used for prefetch traffic.
const warmerClientID = "cache-warmer"

// Warmer populates the cache by prefetching a configured set of plume tuples.
type Warmer struct {
	fetcher PlumeFetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that uses the given fetcher and logger.
func NewWarmer(fetcher PlumeFetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm fetches each tuple concurrently, populating the cache via the fetcher.
// Returns an aggregated error if any tuple failed.
func (w *Warmer) Warm(ctx context.Context, reqs []models.PlumeRequest) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("tuples", len(reqs)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(reqs))
	for _, req := range reqs {
		req := req
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := w.fetcher.GetPlumes(ctx, req, warmerClientID)
			if err != nil {
				errCh <- fmt.Errorf("warm %s: %w", req.CacheKey(), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("tuples", len(reqs)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval
// until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, reqs []models.PlumeRequest, interval time.Duration) error {
	if err := w.Warm(ctx, reqs); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, reqs); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
