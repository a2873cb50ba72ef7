// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor
// principles; an optional .env file is read first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/voxgate/voxgate/internal/quota"
)

// DefaultEnvFile is the dotenv file Load reads when present.
const DefaultEnvFile = ".env"

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"5003"`

	// Database (PostgreSQL)
	DatabaseURL    string `env:"DATABASE_URL,required"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	// Cache (Redis). Empty disables the auth cache and the IP rate limiter.
	RedisURL string `env:"REDIS_URL"`

	// Identity tokens
	JWTSecret string        `env:"JWT_SECRET,required"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"0s"`

	// Monthly request limits per plan
	PlanLimitFree   int `env:"PLAN_LIMIT_FREE" envDefault:"50"`
	PlanLimitSilver int `env:"PLAN_LIMIT_SILVER" envDefault:"500"`
	PlanLimitGold   int `env:"PLAN_LIMIT_GOLD" envDefault:"2000"`

	// Audio handling
	UploadDir     string `env:"UPLOAD_DIR" envDefault:"uploads"`
	FFmpegPath    string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE" envDefault:"26214400"`

	// Speech recognition service
	STTEndpoint       string        `env:"STT_ENDPOINT"`
	STTAPIKey         string        `env:"STT_API_KEY"`
	STTTimeout        time.Duration `env:"STT_TIMEOUT" envDefault:"30s"`
	STTRateLimitRPS   float64       `env:"STT_RATE_LIMIT_RPS" envDefault:"5"`
	STTRateLimitBurst int           `env:"STT_RATE_LIMIT_BURST" envDefault:"5"`
	STTRetries        int           `env:"STT_RETRIES" envDefault:"2"`

	// TLS. HTTPS is served when both files are set and exist.
	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"90s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Per-IP rate limiting of the account routes
	RateLimitIPEnabled bool `env:"RATE_LIMIT_IP_ENABLED" envDefault:"true"`
	RateLimitIPPerHour int  `env:"RATE_LIMIT_IP_PER_HOUR" envDefault:"50"`
	RateLimitIPBurst   int  `env:"RATE_LIMIT_IP_BURST" envDefault:"10"`

	// Minimum time spent on a rejected API key check
	AuthFailureMinDuration time.Duration `env:"AUTH_FAILURE_MIN_DURATION" envDefault:"200ms"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit for JSON routes in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// PlanLimits builds the quota limit table.
func (c *Config) PlanLimits() (quota.Limits, error) {
	return quota.NewLimits(c.PlanLimitFree, c.PlanLimitSilver, c.PlanLimitGold)
}

// TLSEnabled reports whether both TLS files are configured and present.
func (c *Config) TLSEnabled() bool {
	if c.TLSCertFile == "" || c.TLSKeyFile == "" {
		return false
	}
	return fileExists(c.TLSCertFile) && fileExists(c.TLSKeyFile)
}

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.PlanLimits(); err != nil {
		errs = append(errs, err)
	}
	if c.TokenTTL < 0 {
		errs = append(errs, errors.New("TOKEN_TTL must not be negative"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE must be positive"))
	}
	if c.MaxRequestBodySize <= 0 {
		errs = append(errs, errors.New("MAX_REQUEST_BODY_SIZE must be positive"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}
	if c.STTRetries < 0 {
		errs = append(errs, errors.New("STT_RETRIES must not be negative"))
	}
	if c.RateLimitIPEnabled && c.RateLimitIPBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_IP_BURST must be at least 1"))
	}

	return errors.Join(errs...)
}

// Load reads DefaultEnvFile if present, parses environment variables and
// returns a validated Config. Variables already set in the environment take
// precedence over the file.
func Load() (*Config, error) {
	return LoadFiles(DefaultEnvFile)
}

// LoadFiles is Load with explicit dotenv files. Missing files are skipped.
func LoadFiles(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
