package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration required by the API process.
// Values come from env (optionally seeded from a .env file).
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	RingCentral RingCentralConfig
	Poller      PollerConfig
	SIP         SIPConfig
	Live        LiveConfig
}

type AppConfig struct {
	Env       string `envconfig:"APP_ENV"`
	Port      int    `envconfig:"APP_PORT" default:"8080"`
	LogFormat string `envconfig:"APP_LOG_FORMAT" default:"json"`
}

type DBConfig struct {
	Host     string `envconfig:"DB_HOST"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `envconfig:"DB_SSLMODE"`
}

// RedisConfig is optional. An empty Host disables Redis-backed features
// (shared cache, live relay, cross-process sweep lock).
type RedisConfig struct {
	Host string `envconfig:"REDIS_HOST"`
	Port int    `envconfig:"REDIS_PORT" default:"6379"`
}

type AuthConfig struct {
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	JWTIssuer      string        `envconfig:"JWT_ISSUER"`
	JWTAudience    string        `envconfig:"JWT_AUDIENCE"`
	AccessTokenTTL time.Duration `envconfig:"JWT_ACCESS_TTL"`
}

type RingCentralConfig struct {
	ServerURL    string `envconfig:"RINGCENTRAL_SERVER_URL" default:"https://platform.ringcentral.com"`
	ClientID     string `envconfig:"RINGCENTRAL_CLIENT_ID"`
	ClientSecret string `envconfig:"RINGCENTRAL_CLIENT_SECRET"`
	// JWT is the RingCentral-issued credential used for the jwt-bearer grant.
	JWT string `envconfig:"RINGCENTRAL_JWT"`
	// WebhookToken, when set, must match the Verification-Token header of call events.
	WebhookToken string `envconfig:"RINGCENTRAL_WEBHOOK_TOKEN"`

	RequestsPerSecond float64       `envconfig:"RINGCENTRAL_RPS" default:"1"`
	Burst             int           `envconfig:"RINGCENTRAL_BURST" default:"2"`
	RequestTimeout    time.Duration `envconfig:"RINGCENTRAL_REQUEST_TIMEOUT" default:"15s"`

	BreakerMaxRequests uint32        `envconfig:"RINGCENTRAL_BREAKER_MAX_REQUESTS" default:"1"`
	BreakerInterval    time.Duration `envconfig:"RINGCENTRAL_BREAKER_INTERVAL" default:"60s"`
	BreakerTimeout     time.Duration `envconfig:"RINGCENTRAL_BREAKER_TIMEOUT" default:"30s"`
	BreakerFailures    uint32        `envconfig:"RINGCENTRAL_BREAKER_FAILURES" default:"5"`
}

type PollerConfig struct {
	Enabled              bool          `envconfig:"POLLER_ENABLED" default:"true"`
	Interval             time.Duration `envconfig:"POLLER_INTERVAL" default:"2m"`
	BatchSize            int           `envconfig:"POLLER_BATCH_SIZE" default:"5"`
	MaxRecordingAttempts int           `envconfig:"POLLER_MAX_RECORDING_ATTEMPTS" default:"5"`
	MaxInsightsAttempts  int           `envconfig:"POLLER_MAX_INSIGHTS_ATTEMPTS" default:"5"`
	Pacing               time.Duration `envconfig:"POLLER_PACING" default:"15s"`
	RateLimitBackoff     time.Duration `envconfig:"POLLER_RATE_LIMIT_BACKOFF" default:"60s"`
	RateLimitRetries     int           `envconfig:"POLLER_RATE_LIMIT_RETRIES" default:"3"`

	// SyncInterval of zero disables periodic call-log sync.
	SyncInterval time.Duration `envconfig:"POLLER_SYNC_INTERVAL" default:"0s"`
	SyncWindow   time.Duration `envconfig:"POLLER_SYNC_WINDOW" default:"24h"`
}

type SIPConfig struct {
	CacheTTL time.Duration `envconfig:"SIP_CACHE_TTL" default:"10m"`
}

type LiveConfig struct {
	SendBuffer     int      `envconfig:"LIVE_SEND_BUFFER" default:"16"`
	AllowedOrigins []string `envconfig:"LIVE_ALLOWED_ORIGINS"`
}

// Load reads .env (if present) and the process environment, then validates.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if err := process(&c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func process(c *Config) error {
	// Tags carry full variable names; sections are processed without a prefix.
	sections := []any{&c.App, &c.DB, &c.Redis, &c.Auth, &c.RingCentral, &c.Poller, &c.SIP, &c.Live}
	var errs []error
	for _, s := range sections {
		if err := envconfig.Process("", s); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

// Validate reports every configuration problem at once and fills
// environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	c.App.Env = strings.TrimSpace(c.App.Env)
	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	switch c.App.LogFormat {
	case "":
		c.App.LogFormat = "json"
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("APP_LOG_FORMAT must be json or text, got %q", c.App.LogFormat))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.RingCentral.ServerURL == "" {
		c.RingCentral.ServerURL = "https://platform.ringcentral.com"
	}
	if c.IsProduction() {
		if c.RingCentral.ClientID == "" || c.RingCentral.ClientSecret == "" {
			errs = append(errs, errors.New("RINGCENTRAL_CLIENT_ID and RINGCENTRAL_CLIENT_SECRET are required in production"))
		}
		if c.RingCentral.JWT == "" {
			errs = append(errs, errors.New("RINGCENTRAL_JWT is required in production"))
		}
	}
	if c.RingCentral.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("RINGCENTRAL_RPS must be > 0, got %v", c.RingCentral.RequestsPerSecond))
	}

	if c.Poller.Enabled && c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("POLLER_INTERVAL must be > 0 when the poller is enabled"))
	}
	if c.Poller.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("POLLER_BATCH_SIZE must be > 0, got %d", c.Poller.BatchSize))
	}
	if c.Poller.MaxRecordingAttempts <= 0 || c.Poller.MaxInsightsAttempts <= 0 {
		errs = append(errs, errors.New("POLLER_MAX_RECORDING_ATTEMPTS and POLLER_MAX_INSIGHTS_ATTEMPTS must be > 0"))
	}
	if c.Poller.Pacing < 0 || c.Poller.RateLimitBackoff < 0 || c.Poller.RateLimitRetries < 0 {
		errs = append(errs, errors.New("POLLER_PACING, POLLER_RATE_LIMIT_BACKOFF and POLLER_RATE_LIMIT_RETRIES must not be negative"))
	}
	if c.Poller.SyncInterval > 0 && c.Poller.SyncWindow <= 0 {
		errs = append(errs, errors.New("POLLER_SYNC_WINDOW must be > 0 when POLLER_SYNC_INTERVAL is set"))
	}

	if c.SIP.CacheTTL <= 0 {
		c.SIP.CacheTTL = 10 * time.Minute
	}
	if c.Live.SendBuffer <= 0 {
		c.Live.SendBuffer = 16
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
