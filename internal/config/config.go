package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Port     string
	LogLevel string

	// Remote backend
	BackendURL     string
	JWTSecret      string
	RequestTimeout time.Duration
	RequestsPerSec float64

	// Gateway retry policy
	MaxRetries    int
	RetryBaseWait time.Duration
	RetryFactor   float64

	// Connectivity monitor
	ProbeTimeout     time.Duration
	OfflineThreshold int
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
	ReconnectFactor  float64
	ReconnectTries   int

	// Local cache
	CachePath     string
	CacheMaxBytes int64

	// Daily sweep
	SweepSchedule string

	// Overdue reminder mail
	RemindersEnabled bool
	SMTPHost         string
	SMTPPort         string
	SMTPUsername     string
	SMTPPassword     string
	SenderEmail      string
}

// NewConfig loads configuration from environment variables with defaults.
// Variables use the BILLKEEPER_ prefix, e.g. BILLKEEPER_BACKEND_URL.
func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BILLKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("backend.url", "http://localhost:9090")
	v.SetDefault("jwt.secret", "secret")
	v.SetDefault("request.timeout", 30*time.Second)
	v.SetDefault("request.per_sec", 10.0)
	v.SetDefault("retry.max", 2)
	v.SetDefault("retry.base_wait", 500*time.Millisecond)
	v.SetDefault("retry.factor", 1.5)
	v.SetDefault("probe.timeout", 8*time.Second)
	v.SetDefault("offline.threshold", 3)
	v.SetDefault("reconnect.base", 5*time.Second)
	v.SetDefault("reconnect.max", 60*time.Second)
	v.SetDefault("reconnect.factor", 1.5)
	v.SetDefault("reconnect.tries", 5)
	v.SetDefault("cache.path", "billkeeper.db")
	v.SetDefault("cache.max_bytes", int64(2<<20))
	v.SetDefault("sweep.schedule", "5 0 * * *")
	v.SetDefault("reminders.enabled", false)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", "587")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("sender.email", "noreply@billkeeper.local")

	cfg := &Config{
		Port:             v.GetString("port"),
		LogLevel:         v.GetString("log.level"),
		BackendURL:       strings.TrimRight(v.GetString("backend.url"), "/"),
		JWTSecret:        v.GetString("jwt.secret"),
		RequestTimeout:   v.GetDuration("request.timeout"),
		RequestsPerSec:   v.GetFloat64("request.per_sec"),
		MaxRetries:       v.GetInt("retry.max"),
		RetryBaseWait:    v.GetDuration("retry.base_wait"),
		RetryFactor:      v.GetFloat64("retry.factor"),
		ProbeTimeout:     v.GetDuration("probe.timeout"),
		OfflineThreshold: v.GetInt("offline.threshold"),
		ReconnectBase:    v.GetDuration("reconnect.base"),
		ReconnectMax:     v.GetDuration("reconnect.max"),
		ReconnectFactor:  v.GetFloat64("reconnect.factor"),
		ReconnectTries:   v.GetInt("reconnect.tries"),
		CachePath:        v.GetString("cache.path"),
		CacheMaxBytes:    v.GetInt64("cache.max_bytes"),
		SweepSchedule:    v.GetString("sweep.schedule"),
		RemindersEnabled: v.GetBool("reminders.enabled"),
		SMTPHost:         v.GetString("smtp.host"),
		SMTPPort:         v.GetString("smtp.port"),
		SMTPUsername:     v.GetString("smtp.username"),
		SMTPPassword:     v.GetString("smtp.password"),
		SenderEmail:      v.GetString("sender.email"),
	}

	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("BILLKEEPER_BACKEND_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("BILLKEEPER_JWT_SECRET is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("BILLKEEPER_RETRY_MAX must not be negative")
	}
	if cfg.RetryFactor < 1 {
		return nil, fmt.Errorf("BILLKEEPER_RETRY_FACTOR must be at least 1")
	}
	if cfg.OfflineThreshold < 1 {
		return nil, fmt.Errorf("BILLKEEPER_OFFLINE_THRESHOLD must be at least 1")
	}

	return cfg, nil
}
