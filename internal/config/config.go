// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, the database path, the bot credentials, and every pipeline
// tunable (queue capacities, governor thresholds, scheduler pool, transfer
// debounces).
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-voice-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// PlatformConfig holds the chat-platform API credentials.
type PlatformConfig struct {
	BotToken string // BOT_TOKEN
	APIBase  string // PLATFORM_API_BASE, empty keeps the library default
}

// QueueConfig tunes intent admission.
type QueueConfig struct {
	Capacity      int           // QUEUE_CAPACITY, global pending cap
	GuildCapacity int           // QUEUE_GUILD_CAPACITY, per-guild pending cap
	DedupWindow   time.Duration // QUEUE_DEDUP_WINDOW
}

// GovernorConfig tunes the rate governor.
type GovernorConfig struct {
	Window            time.Duration // GOVERNOR_WINDOW
	MaxCostPerWindow  float64       // GOVERNOR_MAX_COST
	WarnThreshold     float64       // GOVERNOR_WARN_PRESSURE
	CriticalThreshold float64       // GOVERNOR_CRITICAL_PRESSURE
	EmergencyDuration time.Duration // GOVERNOR_EMERGENCY_DURATION
}

// SchedulerConfig tunes the dispatch loop.
type SchedulerConfig struct {
	Tick        time.Duration // SCHEDULER_TICK
	Workers     int           // SCHEDULER_WORKERS
	BatchSize   int           // SCHEDULER_BATCH
	BackoffBase time.Duration // SCHEDULER_BACKOFF_BASE
	BackoffCap  time.Duration // SCHEDULER_BACKOFF_CAP
}

// TransferConfig tunes the ownership-transfer machine.
type TransferConfig struct {
	Debounce  time.Duration // TRANSFER_DEBOUNCE
	Staleness time.Duration // TRANSFER_STALENESS
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath         string        // SQLite path
	CreateCooldown time.Duration // per-user channel creation cooldown
	RaidExitAfter  time.Duration // raid mode auto-exit

	// HTTP rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Pipeline
	Platform  PlatformConfig
	Queue     QueueConfig
	Governor  GovernorConfig
	Scheduler SchedulerConfig
	Transfer  TransferConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:         getenv("DB_PATH", "voice.db"),
		CreateCooldown: getdur("CREATE_COOLDOWN", 10*time.Second),
		RaidExitAfter:  getdur("RAID_EXIT_AFTER", 10*time.Minute),

		// HTTP rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Pipeline
		Platform: PlatformConfig{
			BotToken: getenv("BOT_TOKEN", ""),
			APIBase:  getenv("PLATFORM_API_BASE", ""),
		},
		Queue: QueueConfig{
			Capacity:      getint("QUEUE_CAPACITY", 500),
			GuildCapacity: getint("QUEUE_GUILD_CAPACITY", 50),
			DedupWindow:   getdur("QUEUE_DEDUP_WINDOW", 5*time.Second),
		},
		Governor: GovernorConfig{
			Window:            getdur("GOVERNOR_WINDOW", 60*time.Second),
			MaxCostPerWindow:  getfloat("GOVERNOR_MAX_COST", 120),
			WarnThreshold:     getfloat("GOVERNOR_WARN_PRESSURE", 70),
			CriticalThreshold: getfloat("GOVERNOR_CRITICAL_PRESSURE", 90),
			EmergencyDuration: getdur("GOVERNOR_EMERGENCY_DURATION", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			Tick:        getdur("SCHEDULER_TICK", 50*time.Millisecond),
			Workers:     getint("SCHEDULER_WORKERS", 8),
			BatchSize:   getint("SCHEDULER_BATCH", 16),
			BackoffBase: getdur("SCHEDULER_BACKOFF_BASE", time.Second),
			BackoffCap:  getdur("SCHEDULER_BACKOFF_CAP", 30*time.Second),
		},
		Transfer: TransferConfig{
			Debounce:  getdur("TRANSFER_DEBOUNCE", 3*time.Second),
			Staleness: getdur("TRANSFER_STALENESS", 30*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-voice-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.Queue.Capacity < 1 || cfg.Queue.GuildCapacity < 1 {
		return cfg, errors.New("queue capacities must be >= 1")
	}
	if cfg.Queue.GuildCapacity > cfg.Queue.Capacity {
		return cfg, errors.New("QUEUE_GUILD_CAPACITY must not exceed QUEUE_CAPACITY")
	}
	if cfg.Governor.MaxCostPerWindow <= 0 {
		return cfg, errors.New("GOVERNOR_MAX_COST must be > 0")
	}
	if cfg.Governor.WarnThreshold <= 0 || cfg.Governor.WarnThreshold >= cfg.Governor.CriticalThreshold {
		return cfg, errors.New("GOVERNOR_WARN_PRESSURE must be positive and below GOVERNOR_CRITICAL_PRESSURE")
	}
	if cfg.Governor.CriticalThreshold > 100 {
		return cfg, errors.New("GOVERNOR_CRITICAL_PRESSURE must be <= 100")
	}
	if cfg.Scheduler.Workers < 1 {
		return cfg, errors.New("SCHEDULER_WORKERS must be >= 1")
	}
	if cfg.Scheduler.Tick <= 0 {
		return cfg, errors.New("SCHEDULER_TICK must be > 0")
	}
	if cfg.Transfer.Debounce <= 0 {
		return cfg, errors.New("TRANSFER_DEBOUNCE must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
