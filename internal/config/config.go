package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server
	ServerAddr     string
	Env            string // "development" or "production"
	AllowedOrigins []string

	// Admin gate
	JWTSigningKey string
	AdminPassword string
	DataDir       string

	// Object store
	StorageBackend      string // "r2" or "local"
	R2AccountID         string
	R2AccessKeyID       string
	R2SecretAccessKey   string
	R2Bucket            string
	R2Endpoint          string
	DashboardR2Bucket   string
	LocalStoragePath    string
	LocalStorageBaseURL string

	// Signaling
	SignalDebugEnabled       bool
	SignalDebugMaxChars      int
	DecisionTimeoutDefaultMS int64
	DecisionTimeoutMaxMS     int64

	// Redis (observer feed across instances)
	RedisURL   string
	PubSubType string // "memory" or "redis"

	// Push side channel
	FCMServerKey string
	FCMEndpoint  string

	// Rate limiting
	RateLimitPerMinute int

	// Settings write-back
	EnvFile string
}

// Load reads configuration from environment variables.
// In production, these come from the host. In dev, from .env via godotenv.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:     getEnvOrDefault("SERVER_ADDR", "0.0.0.0:5055"),
		Env:            getEnvOrDefault("APP_ENV", "development"),
		AllowedOrigins: splitEnv("ALLOWED_ORIGINS", "*"),
	}

	cfg.JWTSigningKey = os.Getenv("JWT_SIGNING_KEY")
	cfg.AdminPassword = getEnvOrDefault("ADMIN_PASSWORD", "admin")
	cfg.DataDir = getEnvOrDefault("DATA_DIR", "data")

	cfg.StorageBackend = strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", "r2"))
	cfg.R2AccountID = os.Getenv("R2_ACCOUNT_ID")
	cfg.R2AccessKeyID = os.Getenv("R2_ACCESS_KEY_ID")
	cfg.R2SecretAccessKey = os.Getenv("R2_SECRET_ACCESS_KEY")
	cfg.R2Bucket = getEnvOrDefault("R2_BUCKET_NAME", "clipboard-man-relay")
	cfg.R2Endpoint = getEnvOrDefault("R2_ENDPOINT", fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID))
	cfg.DashboardR2Bucket = getEnvOrDefault("DASHBOARD_R2_BUCKET", "clipboard-push-relay")
	cfg.LocalStoragePath = getEnvOrDefault("LOCAL_STORAGE_PATH", "data/uploads")
	cfg.LocalStorageBaseURL = strings.TrimRight(getEnvOrDefault("LOCAL_STORAGE_BASE_URL", "http://localhost:5055"), "/")

	cfg.SignalDebugEnabled = getEnvBool("SIGNAL_DEBUG_ENABLED", false)
	cfg.SignalDebugMaxChars = getEnvInt("SIGNAL_DEBUG_MAX_CHARS", 800)
	cfg.DecisionTimeoutDefaultMS = int64(getEnvInt("TRANSFER_DECISION_TIMEOUT_MS_DEFAULT", 10000))
	cfg.DecisionTimeoutMaxMS = int64(getEnvInt("TRANSFER_DECISION_TIMEOUT_MS_MAX", 30000))

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.PubSubType = getEnvOrDefault("PUBSUB_TYPE", "memory") // "memory" or "redis"

	cfg.FCMServerKey = os.Getenv("FCM_SERVER_KEY")
	cfg.FCMEndpoint = getEnvOrDefault("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send")

	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 120)

	cfg.EnvFile = getEnvOrDefault("ENV_FILE", ".env")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.StorageBackend != "r2" && c.StorageBackend != "local" {
		return fmt.Errorf("STORAGE_BACKEND must be \"r2\" or \"local\", got %q", c.StorageBackend)
	}
	if c.PubSubType != "memory" && c.PubSubType != "redis" {
		return fmt.Errorf("PUBSUB_TYPE must be \"memory\" or \"redis\", got %q", c.PubSubType)
	}
	if c.PubSubType == "redis" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when PUBSUB_TYPE=redis")
	}
	if c.DecisionTimeoutDefaultMS > c.DecisionTimeoutMaxMS {
		return fmt.Errorf("TRANSFER_DECISION_TIMEOUT_MS_DEFAULT exceeds the configured max")
	}
	if !c.IsDevelopment() {
		if len(c.JWTSigningKey) < 32 {
			return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters in production")
		}
		if c.StorageBackend == "r2" && (c.R2AccountID == "" || c.R2AccessKeyID == "" || c.R2SecretAccessKey == "") {
			return fmt.Errorf("R2 credentials are required when STORAGE_BACKEND=r2")
		}
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SettingKeys lists the env keys the settings API exposes, in display order.
var SettingKeys = []string{
	"STORAGE_BACKEND",
	"LOCAL_STORAGE_BASE_URL",
	"LOCAL_STORAGE_PATH",
	"R2_ACCOUNT_ID",
	"R2_ACCESS_KEY_ID",
	"R2_SECRET_ACCESS_KEY",
	"R2_BUCKET_NAME",
	"DASHBOARD_R2_BUCKET",
	"PUBSUB_TYPE",
	"REDIS_URL",
	"FCM_SERVER_KEY",
}

// SecretKeys are masked when read back through the settings API; an empty
// submitted value keeps whatever is already stored.
var SecretKeys = map[string]bool{
	"R2_SECRET_ACCESS_KEY": true,
	"FCM_SERVER_KEY":       true,
}

// IsSettingKey reports whether key is exposed through the settings API.
func IsSettingKey(key string) bool {
	for _, k := range SettingKeys {
		if k == key {
			return true
		}
	}
	return false
}

// WriteEnvUpdates merges updates into the env file at path, creating it if
// missing. Values take effect on the next restart; the running Config is
// deliberately left untouched.
func WriteEnvUpdates(path string, updates map[string]string) error {
	current, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read env file: %w", err)
		}
		current = map[string]string{}
	}
	for k, v := range updates {
		current[k] = v
	}
	if err := godotenv.Write(current, path); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// splitEnv splits a comma-separated env var into a slice
func splitEnv(key, defaultVal string) []string {
	val := os.Getenv(key)
	if val == "" {
		val = defaultVal
	}
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
