package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wxplume/srefproxy/internal/admission"
	"github.com/wxplume/srefproxy/internal/cache"
	"github.com/wxplume/srefproxy/internal/circuitbreaker"
	"github.com/wxplume/srefproxy/internal/config"
	httphandler "github.com/wxplume/srefproxy/internal/http"
	"github.com/wxplume/srefproxy/internal/lifecycle"
	"github.com/wxplume/srefproxy/internal/models"
	"github.com/wxplume/srefproxy/internal/observability"
	"github.com/wxplume/srefproxy/internal/service"
	"github.com/wxplume/srefproxy/internal/ttl"
	"github.com/wxplume/srefproxy/internal/upstream"
	"github.com/wxplume/srefproxy/internal/validation"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	plumeClient, err := upstream.NewClientWithRetry(
		cfg.UpstreamURL,
		cfg.UpstreamTimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
	)
	if err != nil {
		logger.Fatal("upstream client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
				observability.CircuitBreakerState.Set(float64(to))
			},
		})
		plumeClient.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.Set(float64(circuitbreaker.StateClosed))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var store cache.Store
	var memStore *cache.MemoryStore
	var memcacheCloser *cache.MemcachedStore
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached store", zap.Error(err))
		}
		memcacheCloser = mc
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		memStore = cache.NewMemoryStore(cfg.CacheMaxEntries)
		if cfg.SnapshotPath != "" {
			if err := memStore.EnablePersistence(cfg.SnapshotPath, cfg.SnapshotDebounce, logger); err != nil {
				logger.Fatal("cache persistence", zap.Error(err))
			}
			logger.Info("cache persistence enabled",
				zap.String("path", cfg.SnapshotPath),
				zap.Duration("debounce", cfg.SnapshotDebounce))
		}
		store = memStore
		observability.RegisterCacheSizeGauge(func() float64 { return float64(memStore.Len()) })
		logger.Info("cache backend: memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	}

	var ttlPolicy ttl.Policy
	switch cfg.TTLStrategy {
	case "fixed":
		ttlPolicy = &ttl.FixedPolicy{Duration: cfg.TTLFixed}
		logger.Info("ttl strategy: fixed", zap.Duration("ttl", cfg.TTLFixed))
	default:
		ttlPolicy = &ttl.SchedulePolicy{
			RunHours: cfg.TTLRunHours,
			Margin:   cfg.TTLMargin,
			Min:      cfg.TTLMin,
			Max:      cfg.TTLMax,
		}
		logger.Info("ttl strategy: schedule",
			zap.Ints("run_hours", cfg.TTLRunHours),
			zap.Duration("margin", cfg.TTLMargin))
	}

	limiter := admission.NewLimiter(cfg.AdmissionCapacity, cfg.AdmissionRate)
	plumeService := service.NewPlumeService(plumeClient, store, ttlPolicy, limiter, cfg.MinMembers, cfg.CoalesceEnabled)

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StartTime:        time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	handler := httphandler.NewHandler(plumeService, store, cfg.Parameters, healthConfig, logger)

	observability.RegisterWindowGauges(cfg.DegradedWindow)

	if len(cfg.WarmTuples) > 0 {
		warmer := cache.NewWarmer(plumeService, logger)
		reqs := warmRequests(cfg.WarmTuples)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := warmer.Warm(warmCtx, reqs); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), reqs, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	var globalLimiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		globalLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/api/cache", handler.GetCacheInventory).Methods("GET")
	srefRouter := router.PathPrefix("/api/sref").Subrouter()
	srefRouter.Use(httphandler.RateLimitMiddleware(globalLimiter))
	srefRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	srefRouter.HandleFunc("/{station}/{run}/{parameter}", handler.GetPlumes).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if memStore != nil {
		if err := memStore.Flush(); err != nil {
			logger.Error("final cache snapshot", zap.Error(err))
		}
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// warmRequests expands configured warm tuples into dated plume requests,
// dropping tuples that fail validation.
func warmRequests(tuples []config.WarmTuple) []models.PlumeRequest {
	now := time.Now()
	reqs := make([]models.PlumeRequest, 0, len(tuples))
	for _, t := range tuples {
		station, err := validation.ValidateStation(t.Station)
		if err != nil {
			continue
		}
		run, err := validation.ValidateRun(t.Run)
		if err != nil {
			continue
		}
		date, _ := validation.ValidateDate("", now)
		reqs = append(reqs, models.PlumeRequest{
			Station:   station,
			Run:       run,
			Parameter: t.Parameter,
			Date:      date,
		})
	}
	return reqs
}
