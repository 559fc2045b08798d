// Package config loads and validates runtime configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration.
type Config struct {
	// Journal settings.
	JournalPath  string
	JournalFsync bool
	RedactFields []string // payload fields stripped before hashing/persisting

	// Permission settings.
	GrantsPath string // sqlite file for allow_always grants; empty = in-memory only

	// Ambient execution policy handed to tool handlers.
	AllowedPaths             []string
	AllowedEndpoints         []string
	AllowedCommands          []string
	RequireApprovalForWrites bool

	// Tool runtime settings.
	DefaultTimeout   time.Duration // applied when a manifest omits timeout_ms
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel    string
	ManifestDir string // directory of *.json manifests for the CLI server
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		JournalPath:              envStr("TORII_JOURNAL_PATH", "torii.journal"),
		JournalFsync:             envBool("TORII_JOURNAL_FSYNC", false),
		RedactFields:             envList("TORII_REDACT_FIELDS", nil),
		GrantsPath:               envStr("TORII_GRANTS_PATH", ""),
		AllowedPaths:             envList("TORII_ALLOWED_PATHS", nil),
		AllowedEndpoints:         envList("TORII_ALLOWED_ENDPOINTS", nil),
		AllowedCommands:          envList("TORII_ALLOWED_COMMANDS", nil),
		RequireApprovalForWrites: envBool("TORII_REQUIRE_APPROVAL_FOR_WRITES", true),
		DefaultTimeout:           envDuration("TORII_DEFAULT_TIMEOUT", 30*time.Second),
		BreakerThreshold:         envInt("TORII_BREAKER_THRESHOLD", 5),
		BreakerCooldown:          envDuration("TORII_BREAKER_COOLDOWN", 30*time.Second),
		OTELEndpoint:             envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:             envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:              envStr("OTEL_SERVICE_NAME", "torii"),
		LogLevel:                 envStr("TORII_LOG_LEVEL", "info"),
		ManifestDir:              envStr("TORII_MANIFEST_DIR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.JournalPath == "" {
		return fmt.Errorf("config: TORII_JOURNAL_PATH is required")
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("config: TORII_DEFAULT_TIMEOUT must be positive")
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("config: TORII_BREAKER_THRESHOLD must be positive")
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("config: TORII_BREAKER_COOLDOWN must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
