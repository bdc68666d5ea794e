package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	Store    StoreConfig
	Audit    AuditConfig
	APIKeys  APIKeyConfig
	Email    EmailConfig
	IdP      IdPConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	MigrateOnStart    bool
	QueryTimeout      time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
	// Requests per minute per IP on the login security endpoints
	SecurityRateLimit int
}

// SecurityConfig drives failed-login tracking, lockout and IP blocking
type SecurityConfig struct {
	MaxFailedAttempts     int
	LockoutDuration       time.Duration
	MaxLoginAttemptsPerIP int
	IPBlockDuration       time.Duration
	EnableIPBlocking      bool
	CleanupInterval       time.Duration
	StaleAttemptAge       time.Duration
	// Service key the web app's auth routes present on the login-attempt endpoints
	ServiceAPIKey string
}

// StoreConfig selects the security state backend: "memory" (per process) or "redis" (shared)
type StoreConfig struct {
	Backend   string
	RedisURL  string
	KeyPrefix string
}

// AuditConfig configures the external audit transport. Any empty field disables it.
type AuditConfig struct {
	Endpoint  string
	APIKey    string
	ProjectID string
	Timeout   time.Duration
	QueueSize int
	Workers   int
}

// Enabled reports whether all three transport settings are present
func (c AuditConfig) Enabled() bool {
	return c.Endpoint != "" && c.APIKey != "" && c.ProjectID != ""
}

type APIKeyConfig struct {
	Pepper           string
	ExpiredRetention time.Duration
	LastUsedTimeout  time.Duration
}

type EmailConfig struct {
	AlertsEnabled bool
	AWSRegion     string
	FromAddress   string
	Timeout       time.Duration
}

// IdPConfig holds the key material used to verify identity provider session tokens
type IdPConfig struct {
	JWTPublicKeyPEM string
	JWTSecret       string
	Issuer          string
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	return load()
}

// LoadFile reads the given env file before the process environment
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return load()
}

func load() (*Config, error) {
	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "hms_sentinel"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			MigrateOnStart:    getEnvAsBool("DB_MIGRATE_ON_START", true),
			QueryTimeout:      getEnvAsDuration("DB_QUERY_TIMEOUT", 5*time.Second),
		},
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               env,
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies:    getEnvAsList("TRUSTED_PROXIES"),
			SecurityRateLimit: getEnvAsInt("SECURITY_RATE_LIMIT_PER_MINUTE", 120),
		},
		Security: SecurityConfig{
			MaxFailedAttempts:     getEnvAsInt("MAX_FAILED_ATTEMPTS", 5),
			LockoutDuration:       getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			MaxLoginAttemptsPerIP: getEnvAsInt("MAX_LOGIN_ATTEMPTS_PER_IP", 10),
			IPBlockDuration:       getEnvAsDuration("IP_BLOCK_DURATION", 60*time.Minute),
			EnableIPBlocking:      getEnvAsBool("ENABLE_IP_BLOCKING", true),
			CleanupInterval:       getEnvAsDuration("SECURITY_CLEANUP_INTERVAL", 1*time.Hour),
			StaleAttemptAge:       getEnvAsDuration("STALE_ATTEMPT_AGE", 24*time.Hour),
			ServiceAPIKey:         getEnv("SECURITY_SERVICE_API_KEY", ""),
		},
		Store: StoreConfig{
			Backend:   strings.ToLower(getEnv("SECURITY_STORE", "memory")),
			RedisURL:  getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "hms:security:"),
		},
		Audit: AuditConfig{
			Endpoint:  strings.TrimRight(getEnv("AUDIT_ENDPOINT", ""), "/"),
			APIKey:    getEnv("AUDIT_API_KEY", ""),
			ProjectID: getEnv("AUDIT_PROJECT_ID", ""),
			Timeout:   getEnvAsDuration("AUDIT_TIMEOUT", 5*time.Second),
			QueueSize: getEnvAsInt("AUDIT_QUEUE_SIZE", 1024),
			Workers:   getEnvAsInt("AUDIT_WORKERS", 2),
		},
		APIKeys: APIKeyConfig{
			Pepper:           getEnv("API_KEY_PEPPER", ""),
			ExpiredRetention: getEnvAsDuration("API_KEY_EXPIRED_RETENTION", 30*24*time.Hour),
			LastUsedTimeout:  getEnvAsDuration("API_KEY_LAST_USED_TIMEOUT", 2*time.Second),
		},
		Email: EmailConfig{
			AlertsEnabled: getEnvAsBool("ALERT_EMAIL_ENABLED", false),
			AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
			FromAddress:   getEnv("ALERT_EMAIL_FROM", ""),
			Timeout:       getEnvAsDuration("ALERT_EMAIL_TIMEOUT", 5*time.Second),
		},
		IdP: IdPConfig{
			JWTPublicKeyPEM: getEnv("IDP_JWT_PUBLIC_KEY", ""),
			JWTSecret:       getEnv("IDP_JWT_SECRET", ""),
			Issuer:          getEnv("IDP_ISSUER", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}

	if c.IdP.JWTPublicKeyPEM == "" && c.IdP.JWTSecret == "" {
		return fmt.Errorf("one of IDP_JWT_PUBLIC_KEY or IDP_JWT_SECRET is required")
	}
	if c.IdP.JWTPublicKeyPEM == "" {
		if err := validateSecret("IDP_JWT_SECRET", c.IdP.JWTSecret, c.Server.Env); err != nil {
			return err
		}
	}

	if c.Security.MaxFailedAttempts < 1 {
		return fmt.Errorf("MAX_FAILED_ATTEMPTS must be at least 1")
	}
	if c.Security.EnableIPBlocking && c.Security.MaxLoginAttemptsPerIP < 1 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS_PER_IP must be at least 1 when IP blocking is enabled")
	}
	if c.Security.LockoutDuration <= 0 || c.Security.IPBlockDuration <= 0 {
		return fmt.Errorf("lockout and IP block durations must be positive")
	}

	if c.Server.SecurityRateLimit < 1 {
		return fmt.Errorf("SECURITY_RATE_LIMIT_PER_MINUTE must be at least 1")
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SECURITY_STORE=redis")
		}
	default:
		return fmt.Errorf("unknown SECURITY_STORE %q (want memory or redis)", c.Store.Backend)
	}

	if c.APIKeys.Pepper != "" {
		if err := validateSecret("API_KEY_PEPPER", c.APIKeys.Pepper, c.Server.Env); err != nil {
			return err
		}
	}

	if c.Email.AlertsEnabled && c.Email.FromAddress == "" {
		return fmt.Errorf("ALERT_EMAIL_FROM is required when ALERT_EMAIL_ENABLED=true")
	}

	if c.Server.Env == "production" && c.Security.ServiceAPIKey == "" {
		return fmt.Errorf("SECURITY_SERVICE_API_KEY is required in production")
	}

	return nil
}

// validateSecret enforces minimum strength for shared secrets
func validateSecret(name, secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
