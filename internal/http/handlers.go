package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wxplume/srefproxy/internal/cache"
	"github.com/wxplume/srefproxy/internal/lifecycle"
	"github.com/wxplume/srefproxy/internal/models"
	"github.com/wxplume/srefproxy/internal/service"
	"github.com/wxplume/srefproxy/internal/traffic"
	"github.com/wxplume/srefproxy/internal/upstream"
	"github.com/wxplume/srefproxy/internal/validation"
)

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	StartTime        time.Time
	// CachePing, when set, is called to check cache reachability. Used when
	// the backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	plumeService     *service.PlumeService
	store            cache.Store
	parameters       []string
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. parameters is the allowed upstream
// parameter set used for request validation.
func NewHandler(
	plumeService *service.PlumeService,
	store cache.Store,
	parameters []string,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		plumeService: plumeService,
		store:        store,
		parameters:   parameters,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetPlumes handles GET /api/sref/{station}/{run}/{parameter}?date=YYYY-MM-DD.
// Validation and admission failures short-circuit before any cache or
// upstream work; the cache status is exposed out-of-band in X-Cache.
func (h *Handler) GetPlumes(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	station, err := validation.ValidateStation(vars["station"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_STATION", err.Error())
		return
	}
	run, err := validation.ValidateRun(vars["run"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_RUN", err.Error())
		return
	}
	parameter, err := validation.ValidateParameter(vars["parameter"], h.parameters)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}
	date, err := validation.ValidateDate(r.URL.Query().Get("date"), time.Now())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}

	req := models.PlumeRequest{
		Station:   station,
		Run:       run,
		Parameter: parameter,
		Date:      date,
	}

	result, status, err := h.plumeService.GetPlumes(r.Context(), req, clientIdentity(r))
	if err != nil {
		if errors.Is(err, service.ErrAdmissionDenied) {
			traffic.RecordDenied()
			writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many upstream requests; retry later")
			return
		}
		traffic.RecordError()
		writeUpstreamError(w, r, err)
		return
	}

	traffic.RecordSuccess()
	w.Header().Set("X-Cache", string(status))
	writeJSON(w, http.StatusOK, result)
}

// clientIdentity resolves the per-client admission identity: the first
// X-Forwarded-For hop when present (the service sits behind the dashboard
// origin), otherwise the remote address host.
func clientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health. Pure read: reports status, cache size, and
// process uptime without touching core state.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["upstream"] = "unhealthy"
	} else {
		checks["upstream"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "srefproxy",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if inv, ok := h.store.(cache.Inventory); ok {
		resp["cacheEntries"] = inv.Len()
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(time.Since(h.healthConfig.StartTime).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus determines the current health status in priority
// order: shutting-down > degraded (upstream error rate breach) > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errCount, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// GetCacheInventory handles GET /api/cache: a read-only listing of cached
// keys with insertion time and remaining TTL. Listing may lazily remove
// expired entries, per the store's expiry-on-read rule, but has no other
// side effects.
func (h *Handler) GetCacheInventory(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.store.(cache.Inventory)
	if !ok {
		writeError(w, r, http.StatusNotImplemented, "INVENTORY_UNSUPPORTED", "cache backend does not support inventory listing")
		return
	}
	entries := inv.Entries()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"size":    len(entries),
		"entries": entries,
	})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeUpstreamError maps a failed fetch to 502. Parse failures get their own
// code so the dashboard can distinguish a broken payload from an unreachable
// upstream.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	code := "UPSTREAM_UNAVAILABLE"
	if errors.Is(err, upstream.ErrParse) {
		code = "UPSTREAM_PARSE_ERROR"
	}
	writeError(w, r, http.StatusBadGateway, code, "Unable to fetch plume data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
