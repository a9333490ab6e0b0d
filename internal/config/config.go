package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WarmTuple names one (station, run, parameter) combination to prefetch.
type WarmTuple struct {
	Station   string `yaml:"station"`
	Run       string `yaml:"run"`
	Parameter string `yaml:"parameter"`
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	UpstreamURL     string
	UpstreamTimeout time.Duration

	RequestTimeout time.Duration

	CacheBackend     string // "memory" or "memcached"
	CacheMaxEntries  int
	SnapshotPath     string // empty disables persistence
	SnapshotDebounce time.Duration
	MinMembers       int
	CoalesceEnabled  bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	TTLStrategy string // "schedule" or "fixed"
	TTLRunHours []int
	TTLMargin   time.Duration
	TTLMin      time.Duration
	TTLMax      time.Duration
	TTLFixed    time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration

	AdmissionCapacity int
	AdmissionRate     int

	RateLimitRPS   int // 0 disables the server-wide limiter
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	Parameters []string

	WarmTuples   []WarmTuple
	WarmInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Upstream struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"upstream"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend          string `yaml:"backend"`
		MaxEntries       int    `yaml:"max_entries"`
		SnapshotPath     string `yaml:"snapshot_path"`
		SnapshotDebounce string `yaml:"snapshot_debounce"`
		MinMembers       int    `yaml:"min_members"`
		Coalesce         bool   `yaml:"coalesce"`
		Memcached        struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	TTL struct {
		Strategy string `yaml:"strategy"`
		RunHours []int  `yaml:"run_hours"`
		Margin   string `yaml:"margin"`
		Min      string `yaml:"min"`
		Max      string `yaml:"max"`
		Fixed    string `yaml:"fixed"`
	} `yaml:"ttl"`

	Reliability struct {
		RetryMaxAttempts  int    `yaml:"retry_max_attempts"`
		RetryBaseDelay    string `yaml:"retry_base_delay"`
		AdmissionCapacity int    `yaml:"admission_capacity"`
		AdmissionRate     int    `yaml:"admission_rate_per_sec"`
		RateLimitRPS      int    `yaml:"rate_limit_rps"`
		RateLimitBurst    int    `yaml:"rate_limit_burst"`
		CircuitBreaker    struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Parameters []string `yaml:"parameters"`

	Warming struct {
		Tuples   []WarmTuple `yaml:"tuples"`
		Interval string      `yaml:"interval"`
	} `yaml:"warming"`
}

// defaultParameters is the fixed set of upstream parameter identifiers the
// proxy accepts when the config file does not override it.
var defaultParameters = []string{"temp", "dewp", "wind", "qpf", "snow", "slp", "cape"}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev).
// The upstream URL may be overridden with the UPSTREAM_URL env var.
// Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.UpstreamURL = strings.TrimSpace(os.Getenv("UPSTREAM_URL"))
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = strings.TrimSpace(fc.Upstream.URL)
	}
	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("upstream.url required (set config or UPSTREAM_URL env)")
	}
	cfg.UpstreamTimeout = parseDuration(fc.Upstream.Timeout, 15*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 60*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "memory"
	}
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 1000
	}
	cfg.SnapshotPath = strings.TrimSpace(fc.Cache.SnapshotPath)
	cfg.SnapshotDebounce = parseDuration(fc.Cache.SnapshotDebounce, 5*time.Second)
	cfg.MinMembers = fc.Cache.MinMembers
	if cfg.MinMembers <= 0 {
		cfg.MinMembers = 10
	}
	cfg.CoalesceEnabled = fc.Cache.Coalesce

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.TTLStrategy = strings.TrimSpace(strings.ToLower(fc.TTL.Strategy))
	if cfg.TTLStrategy == "" {
		cfg.TTLStrategy = "schedule"
	}
	cfg.TTLRunHours = fc.TTL.RunHours
	if len(cfg.TTLRunHours) == 0 {
		cfg.TTLRunHours = []int{3, 9, 15, 21}
	}
	cfg.TTLMargin = parseDuration(fc.TTL.Margin, 2*time.Hour)
	cfg.TTLMin = parseDuration(fc.TTL.Min, 1*time.Hour)
	cfg.TTLMax = parseDuration(fc.TTL.Max, 8*time.Hour)
	cfg.TTLFixed = parseDuration(fc.TTL.Fixed, 14*24*time.Hour)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 1*time.Second)
	cfg.AdmissionCapacity = fc.Reliability.AdmissionCapacity
	if cfg.AdmissionCapacity <= 0 {
		cfg.AdmissionCapacity = 50
	}
	cfg.AdmissionRate = fc.Reliability.AdmissionRate
	if cfg.AdmissionRate <= 0 {
		cfg.AdmissionRate = 1
	}
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS * 2
	}

	cfg.CircuitBreakerEnabled = fc.Reliability.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	cfg.CircuitBreakerSuccessThreshold = fc.Reliability.CircuitBreaker.SuccessThreshold
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.Parameters = fc.Parameters
	if len(cfg.Parameters) == 0 {
		cfg.Parameters = append([]string(nil), defaultParameters...)
	}

	cfg.WarmTuples = fc.Warming.Tuples
	cfg.WarmInterval = parseDuration(fc.Warming.Interval, 0)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal on empty
// string, parse error, or non-positive result.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values. The
// request timeout is auto-raised to cover the full retry budget (attempts
// times the transport timeout plus backoff waits).
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.TTLStrategy {
	case "schedule", "fixed":
		// valid
	default:
		return fmt.Errorf("ttl.strategy must be schedule or fixed, got %q", cfg.TTLStrategy)
	}
	for _, h := range cfg.TTLRunHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("ttl.run_hours entries must be in [0,23], got %d", h)
		}
	}
	if cfg.TTLMin > cfg.TTLMax {
		return fmt.Errorf("ttl.min (%s) must not exceed ttl.max (%s)", cfg.TTLMin, cfg.TTLMax)
	}

	retryBudget := time.Duration(cfg.RetryAttempts)*cfg.UpstreamTimeout +
		cfg.RetryBaseDelay*time.Duration((1<<uint(cfg.RetryAttempts-1))-1)
	if cfg.RequestTimeout <= retryBudget {
		cfg.RequestTimeout = retryBudget + time.Second
	}
	return nil
}
