package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Budget        BudgetConfig
	Lock          LockConfig
	Sweeps        SweepsConfig
	Invoices      InvoicesConfig
	Notifications NotificationsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BudgetConfig governs the approval gates.
type BudgetConfig struct {
	AutoApprovalLimit float64
	DailyVelocityCap  float64
	DefaultAllowance  float64
	FallbackApprover  string
	// DivisionApprovers maps a division code to an override identity
	// allowed to decide any request in that division.
	DivisionApprovers map[string]string
}

// LockConfig tunes the advisory lock service.
type LockConfig struct {
	WaitTimeout  time.Duration
	KeyTTL       time.Duration
	PollInterval time.Duration
}

// SweepsConfig controls the scheduled recompute sweeps.
type SweepsConfig struct {
	Enabled             bool
	EncumbranceInterval time.Duration
}

// InvoicesConfig controls invoice batch generation.
type InvoicesConfig struct {
	Enabled    bool
	StorageDir string
}

// NotificationsConfig tunes the async event dispatcher.
type NotificationsConfig struct {
	Workers    int
	MaxRetries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Budget = BudgetConfig{
		AutoApprovalLimit: v.GetFloat64("BUDGET_AUTO_APPROVAL_LIMIT"),
		DailyVelocityCap:  v.GetFloat64("BUDGET_DAILY_VELOCITY_CAP"),
		DefaultAllowance:  v.GetFloat64("BUDGET_DEFAULT_ALLOWANCE"),
		FallbackApprover:  v.GetString("BUDGET_FALLBACK_APPROVER"),
		DivisionApprovers: parsePairs(v.GetString("BUDGET_DIVISION_APPROVERS")),
	}

	cfg.Lock = LockConfig{
		WaitTimeout:  parseDuration(v.GetString("LOCK_WAIT_TIMEOUT"), 30*time.Second),
		KeyTTL:       parseDuration(v.GetString("LOCK_KEY_TTL"), time.Minute),
		PollInterval: parseDuration(v.GetString("LOCK_POLL_INTERVAL"), 100*time.Millisecond),
	}

	cfg.Sweeps = SweepsConfig{
		Enabled:             v.GetBool("ENABLE_SWEEPS"),
		EncumbranceInterval: parseDuration(v.GetString("SWEEP_ENCUMBRANCE_INTERVAL"), 30*time.Minute),
	}

	cfg.Invoices = InvoicesConfig{
		Enabled:    v.GetBool("ENABLE_INVOICES"),
		StorageDir: v.GetString("INVOICES_STORAGE_DIR"),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:    v.GetInt("NOTIFICATION_WORKERS"),
		MaxRetries: v.GetInt("NOTIFICATION_MAX_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "procurement")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BUDGET_AUTO_APPROVAL_LIMIT", 200.0)
	v.SetDefault("BUDGET_DAILY_VELOCITY_CAP", 500.0)
	v.SetDefault("BUDGET_DEFAULT_ALLOWANCE", 250.0)
	v.SetDefault("BUDGET_FALLBACK_APPROVER", "business.office@example.org")
	v.SetDefault("BUDGET_DIVISION_APPROVERS", "")

	v.SetDefault("LOCK_WAIT_TIMEOUT", "30s")
	v.SetDefault("LOCK_KEY_TTL", "1m")
	v.SetDefault("LOCK_POLL_INTERVAL", "100ms")

	v.SetDefault("ENABLE_SWEEPS", true)
	v.SetDefault("SWEEP_ENCUMBRANCE_INTERVAL", "30m")

	v.SetDefault("ENABLE_INVOICES", true)
	v.SetDefault("INVOICES_STORAGE_DIR", "./invoices")

	v.SetDefault("NOTIFICATION_WORKERS", 2)
	v.SetDefault("NOTIFICATION_MAX_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parsePairs parses "US=alice@example.org,EU=bob@example.org" style maps.
func parsePairs(raw string) map[string]string {
	pairs := splitAndTrim(raw)
	if len(pairs) == 0 {
		return nil
	}
	result := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
