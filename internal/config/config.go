package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported values for DB_DRIVER.
const (
	DriverSQLCipher = "sqlite3"
	DriverPostgres  = "pgx"
	DriverMemory    = "memory"
)

type Config struct {
	// Database configuration
	DBDriver        string
	DBPath          string
	DBEncryptionKey string
	DatabaseDSN     string

	// Signing secret for session tokens
	AppSecret string

	// Challenge store
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ChallengeTTL    time.Duration
	ChallengeLength int

	// Lockout policy
	LockoutThreshold int
	LockoutDuration  time.Duration
	SessionDuration  time.Duration

	// HTTP transport
	HTTPAddr           string
	CORSAllowedOrigins []string
	TrustedProxies     []string

	// Backup configuration
	BackupDir           string
	BackupEncryptionKey string
	BackupInterval      time.Duration
	BackupRetentionDays int

	// Audit configuration
	AuditLogPath   string
	AuditAsyncMode bool

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int

	// Application settings
	Environment string
	LogLevel    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (not required in production)
	godotenv.Load()

	config := &Config{
		DBDriver:            getEnv("DB_DRIVER", DriverSQLCipher),
		DBPath:              getEnv("DB_PATH", "./data/gatekeeper.db"),
		DBEncryptionKey:     getEnv("DB_ENCRYPTION_KEY", ""),
		DatabaseDSN:         getEnv("DATABASE_DSN", ""),
		AppSecret:           getEnv("APP_SECRET", ""),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvAsInt("REDIS_DB", 0),
		ChallengeTTL:        getEnvAsDuration("CHALLENGE_TTL", 5*time.Minute),
		ChallengeLength:     getEnvAsInt("CHALLENGE_LENGTH", 6),
		LockoutThreshold:    getEnvAsInt("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:     getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
		SessionDuration:     getEnvAsDuration("SESSION_DURATION", 24*time.Hour),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		CORSAllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS"),
		TrustedProxies:      getEnvAsList("TRUSTED_PROXIES"),
		BackupDir:           getEnv("BACKUP_DIR", "./backups"),
		BackupEncryptionKey: getEnv("BACKUP_ENCRYPTION_KEY", ""),
		BackupInterval:      time.Duration(getEnvAsInt("BACKUP_INTERVAL_HOURS", 0)) * time.Hour,
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		AuditLogPath:        getEnv("AUDIT_LOG_PATH", "./logs/audit.log"),
		AuditAsyncMode:      getEnvAsBool("AUDIT_ASYNC_MODE", true),
		RateLimitRPS:        getEnvAsInt("RATE_LIMIT_REQUESTS_PER_SECOND", 10),
		RateLimitBurst:      getEnvAsInt("RATE_LIMIT_BURST", 20),
		Environment:         getEnv("APP_ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	// Validate critical configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLCipher:
		if len(c.DBEncryptionKey) < 32 {
			return fmt.Errorf("DB_ENCRYPTION_KEY must be at least 32 characters")
		}
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for driver %q", c.DBDriver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	if len(c.AppSecret) < 32 {
		return fmt.Errorf("APP_SECRET must be at least 32 characters")
	}

	if c.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be positive")
	}

	if c.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}

	if c.ChallengeLength < 4 || c.ChallengeLength > 10 {
		return fmt.Errorf("CHALLENGE_LENGTH must be between 4 and 10")
	}

	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("CHALLENGE_TTL must be positive")
	}

	if c.BackupInterval > 0 && c.BackupEncryptionKey == "" {
		return fmt.Errorf("BACKUP_ENCRYPTION_KEY is required when backups are enabled")
	}

	return nil
}

// IsProduction reports whether APP_ENV selects production behaviour.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDuration accepts Go duration strings ("30m", "1h30m").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
