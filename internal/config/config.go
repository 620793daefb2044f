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
	Database    DatabaseConfig
	Server      ServerConfig
	Security    SecurityConfig
	Obfuscation ObfuscationConfig
	Admin       AdminConfig
	Notify      NotifyConfig
	Upstream    UpstreamConfig
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
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// SecurityConfig drives the login gate. Values are read once at startup and
// passed into each component at construction; nothing here is mutated at
// runtime.
type SecurityConfig struct {
	MaxAttempts            int
	LockoutDuration        time.Duration
	IncreasingLockout      bool
	CustomIPHeaders        []string
	RetentionDays          int
	RegistrationProtection bool
	UsernameBlacklist      []string
	UsernameWhitelist      []string
}

// URLStyle selects how the obfuscation slug is carried
type URLStyle string

const (
	URLStyleQueryParam URLStyle = "query_param"
	URLStylePrettyPath URLStyle = "pretty_path"
)

// RedirectMode selects where unrecognized login-path requests are sent
type RedirectMode string

const (
	RedirectHome404   RedirectMode = "home_404"
	RedirectCustomURL RedirectMode = "custom_url"
)

type ObfuscationConfig struct {
	Enabled         bool
	Slug            string
	URLStyle        URLStyle
	InvalidRedirect RedirectMode
	RedirectURL     string
	LoginPath       string
	AdminPathPrefix string
}

type AdminConfig struct {
	JWTSecret string
}

type NotifyConfig struct {
	Enabled      bool
	AWSRegion    string
	FromAddress  string
	AdminAddress string
}

// UpstreamConfig points at the host credential store. When VerifyURL is empty
// every login is refused, which is the safe default until wired up.
type UpstreamConfig struct {
	VerifyURL string
	Timeout   time.Duration
}

// CountWindow is the trailing window used when counting failures toward a
// lockout; it equals the base lockout duration.
func (s *SecurityConfig) CountWindow() time.Duration {
	return s.LockoutDuration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "lockdown"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Security: SecurityConfig{
			MaxAttempts:            getEnvAsInt("MAX_ATTEMPTS", 5),
			LockoutDuration:        time.Duration(getEnvAsInt("LOCKOUT_DURATION_MINUTES", 20)) * time.Minute,
			IncreasingLockout:      getEnvAsBool("INCREASING_LOCKOUT", true),
			CustomIPHeaders:        getEnvAsSlice("CUSTOM_IP_HEADERS"),
			RetentionDays:          getEnvAsInt("DATA_RETENTION_DAYS", 30),
			RegistrationProtection: getEnvAsBool("REGISTRATION_PROTECTION", true),
			UsernameBlacklist:      getEnvAsSlice("USERNAME_BLACKLIST"),
			UsernameWhitelist:      getEnvAsSlice("USERNAME_WHITELIST"),
		},
		Obfuscation: ObfuscationConfig{
			Enabled:         getEnvAsBool("OBFUSCATION_ENABLED", false),
			Slug:            getEnv("OBFUSCATION_SLUG", ""),
			URLStyle:        URLStyle(getEnv("OBFUSCATION_URL_STYLE", string(URLStyleQueryParam))),
			InvalidRedirect: RedirectMode(getEnv("INVALID_ACCESS_REDIRECT", string(RedirectHome404))),
			RedirectURL:     getEnv("INVALID_ACCESS_REDIRECT_URL", ""),
			LoginPath:       getEnv("LOGIN_PATH", "/wp-login.php"),
			AdminPathPrefix: getEnv("ADMIN_PATH_PREFIX", "/wp-admin"),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
		Notify: NotifyConfig{
			Enabled:      getEnvAsBool("LOCKOUT_NOTIFY_ENABLED", false),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("NOTIFY_FROM_ADDRESS", ""),
			AdminAddress: getEnv("NOTIFY_ADMIN_ADDRESS", ""),
		},
		Upstream: UpstreamConfig{
			VerifyURL: getEnv("UPSTREAM_VERIFY_URL", ""),
			Timeout:   getEnvAsDuration("UPSTREAM_VERIFY_TIMEOUT", 5*time.Second),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.Security.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Obfuscation.validate(); err != nil {
		return nil, err
	}
	if err := validateAdminSecret(cfg.Admin.JWTSecret, env); err != nil {
		return nil, err
	}
	if cfg.Notify.Enabled && (cfg.Notify.FromAddress == "" || cfg.Notify.AdminAddress == "") {
		return nil, fmt.Errorf("NOTIFY_FROM_ADDRESS and NOTIFY_ADMIN_ADDRESS are required when LOCKOUT_NOTIFY_ENABLED is set")
	}

	return cfg, nil
}

func (s *SecurityConfig) validate() error {
	if s.MaxAttempts < 3 || s.MaxAttempts > 10 {
		return fmt.Errorf("MAX_ATTEMPTS must be between 3 and 10 (got %d)", s.MaxAttempts)
	}

	minutes := int(s.LockoutDuration / time.Minute)
	if minutes < 5 || minutes > 1440 {
		return fmt.Errorf("LOCKOUT_DURATION_MINUTES must be between 5 and 1440 (got %d)", minutes)
	}

	if s.RetentionDays < 1 || s.RetentionDays > 365 {
		return fmt.Errorf("DATA_RETENTION_DAYS must be between 1 and 365 (got %d)", s.RetentionDays)
	}

	return nil
}

func (o *ObfuscationConfig) validate() error {
	if !o.Enabled {
		return nil
	}

	if o.Slug == "" {
		return fmt.Errorf("OBFUSCATION_SLUG is required when OBFUSCATION_ENABLED is set")
	}
	if strings.ContainsAny(o.Slug, "/?&=#") {
		return fmt.Errorf("OBFUSCATION_SLUG must not contain URL delimiters")
	}

	switch o.URLStyle {
	case URLStyleQueryParam, URLStylePrettyPath:
	default:
		return fmt.Errorf("OBFUSCATION_URL_STYLE must be %q or %q", URLStyleQueryParam, URLStylePrettyPath)
	}

	switch o.InvalidRedirect {
	case RedirectHome404:
	case RedirectCustomURL:
		if o.RedirectURL == "" {
			return fmt.Errorf("INVALID_ACCESS_REDIRECT_URL is required when INVALID_ACCESS_REDIRECT is %q", RedirectCustomURL)
		}
	default:
		return fmt.Errorf("INVALID_ACCESS_REDIRECT must be %q or %q", RedirectHome404, RedirectCustomURL)
	}

	return nil
}

// validateAdminSecret enforces minimum security standards for the admin API secret
func validateAdminSecret(secret, env string) error {
	if secret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET is required")
	}

	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("ADMIN_JWT_SECRET cannot be a common weak value")
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

func getEnvAsSlice(key string) []string {
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
