package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	GZip      GZipConfig
	Auth      AuthConfig
	// Middleware is the configured stack, outermost first. Empty means the
	// server's default stack.
	Middleware []MiddlewareSpec
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string
	Env             string
	Debug           bool
	H2C             bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	MountPrefix     string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// GZipConfig holds response compression settings
type GZipConfig struct {
	MinimumSize int
	Level       int
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	// BasicUsers maps user names to bcrypt password hashes.
	BasicUsers map[string]string
	Realm      string
	// JWTPublicKeyPath enables bearer tokens verified with this RSA key.
	JWTPublicKeyPath string
	JWTIssuer        string
	JWTLeeway        time.Duration
}

// MiddlewareSpec describes one entry of a configured middleware stack.
type MiddlewareSpec struct {
	Name    string         `yaml:"name"`
	Args    []any          `yaml:"args"`
	Options map[string]any `yaml:"options"`
}

// File is the layout of the optional YAML configuration file.
type File struct {
	Middleware []MiddlewareSpec `yaml:"middleware"`
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present, and
// TRELLIS_CONFIG may name a YAML file describing the middleware stack.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("SERVER_ENV", "development"),
			Debug:           getBoolEnv("SERVER_DEBUG", false),
			H2C:             getBoolEnv("SERVER_H2C", false),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getSliceEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			MountPrefix:     getEnv("SERVER_MOUNT_PREFIX", "/api"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			RPS:   getFloatEnv("RATE_LIMIT_RPS", 10),
			Burst: getIntEnv("RATE_LIMIT_BURST", 20),
		},
		GZip: GZipConfig{
			MinimumSize: getIntEnv("GZIP_MINIMUM_SIZE", 500),
			Level:       getIntEnv("GZIP_LEVEL", 9),
		},
		Auth: AuthConfig{
			BasicUsers:       getPairsEnv("AUTH_BASIC_USERS"),
			Realm:            getEnv("AUTH_REALM", "trellis"),
			JWTPublicKeyPath: getEnv("AUTH_JWT_PUBLIC_KEY", ""),
			JWTIssuer:        getEnv("AUTH_JWT_ISSUER", "trellis"),
			JWTLeeway:        getDurationEnv("AUTH_JWT_LEEWAY", 30*time.Second),
		},
	}

	if path := os.Getenv("TRELLIS_CONFIG"); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Middleware = file.Middleware
	}

	return cfg, nil
}

// LoadFile parses a YAML configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML configuration data.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &f, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// SlogLevel maps the configured level name to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks that all required configuration values are present and valid.
// It returns an error describing all validation failures, or nil if valid.
func (c *Config) Validate() error {
	var errs []error

	// Server validation
	if c.Server.Port == "" {
		errs = append(errs, errors.New("SERVER_PORT is required"))
	}
	if c.Server.Env != "development" && c.Server.Env != "production" && c.Server.Env != "test" {
		errs = append(errs, fmt.Errorf("SERVER_ENV must be 'development', 'production', or 'test', got '%s'", c.Server.Env))
	}
	if len(c.Server.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS must have at least one origin"))
	}
	if c.Server.MountPrefix != "" && !strings.HasPrefix(c.Server.MountPrefix, "/") {
		errs = append(errs, fmt.Errorf("SERVER_MOUNT_PREFIX must start with '/', got '%s'", c.Server.MountPrefix))
	}
	if c.IsProduction() && c.Server.Debug {
		errs = append(errs, errors.New("SERVER_DEBUG must be false in production"))
	}

	// Logging validation
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be 'json' or 'text', got '%s'", c.Log.Format))
	}

	// Rate limit validation
	if c.RateLimit.RPS <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be positive"))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be positive"))
	}

	// Compression validation
	if c.GZip.MinimumSize < 0 {
		errs = append(errs, errors.New("GZIP_MINIMUM_SIZE must not be negative"))
	}
	if c.GZip.Level < 1 || c.GZip.Level > 9 {
		errs = append(errs, fmt.Errorf("GZIP_LEVEL must be between 1 and 9, got %d", c.GZip.Level))
	}

	// Auth validation
	if c.Auth.JWTPublicKeyPath != "" && c.Auth.JWTIssuer == "" {
		errs = append(errs, errors.New("AUTH_JWT_ISSUER is required when AUTH_JWT_PUBLIC_KEY is set"))
	}
	if c.Auth.JWTLeeway < 0 {
		errs = append(errs, errors.New("AUTH_JWT_LEEWAY must not be negative"))
	}

	// Middleware stack validation
	for i, spec := range c.Middleware {
		if spec.Name == "" {
			errs = append(errs, fmt.Errorf("middleware[%d]: name is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getPairsEnv parses "name:value,name:value". Entries without a colon are skipped.
func getPairsEnv(key string) map[string]string {
	out := map[string]string{}
	value := os.Getenv(key)
	if value == "" {
		return out
	}
	for _, entry := range strings.Split(value, ",") {
		name, secret, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || name == "" {
			continue
		}
		out[name] = secret
	}
	return out
}
