package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	// Remote note store
	RemoteDriver string
	RemoteDBPath string
	RemoteDSN    string

	// Local durable storage (session record, audit log)
	LocalDBPath string

	// SQLCipher passphrase for every SQLite file the app opens
	DBEncryptionKey string

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
	_ = godotenv.Load()

	config := &Config{
		RemoteDriver:        getEnv("REMOTE_DRIVER", DriverSQLite),
		RemoteDBPath:        getEnv("REMOTE_DB_PATH", "./data/notes.db"),
		RemoteDSN:           getEnv("REMOTE_DSN", ""),
		LocalDBPath:         getEnv("LOCAL_DB_PATH", "./data/local.db"),
		DBEncryptionKey:     getEnv("DB_ENCRYPTION_KEY", ""),
		BackupDir:           getEnv("BACKUP_DIR", "./backups"),
		BackupEncryptionKey: getEnv("BACKUP_ENCRYPTION_KEY", ""),
		BackupInterval:      time.Duration(getEnvAsInt("BACKUP_INTERVAL_HOURS", 24)) * time.Hour,
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		AuditLogPath:        getEnv("AUDIT_LOG_PATH", "./logs/audit.log"),
		AuditAsyncMode:      getEnvAsBool("AUDIT_ASYNC_MODE", true),
		RateLimitRPS:        getEnvAsInt("RATE_LIMIT_REQUESTS_PER_SECOND", 10),
		RateLimitBurst:      getEnvAsInt("RATE_LIMIT_BURST", 20),
		Environment:         getEnv("APP_ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DBEncryptionKey == "" {
		return fmt.Errorf("DB_ENCRYPTION_KEY is required")
	}

	if len(c.DBEncryptionKey) < 32 {
		return fmt.Errorf("DB_ENCRYPTION_KEY must be at least 32 characters")
	}

	switch c.RemoteDriver {
	case DriverSQLite:
		if c.RemoteDBPath == "" {
			return fmt.Errorf("REMOTE_DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.RemoteDSN == "" {
			return fmt.Errorf("REMOTE_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported REMOTE_DRIVER %q", c.RemoteDriver)
	}

	if c.LocalDBPath == "" {
		return fmt.Errorf("LOCAL_DB_PATH is required")
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}

	return nil
}

// BackupsEnabled reports whether the note store can be snapshotted.
func (c *Config) BackupsEnabled() bool {
	return c.RemoteDriver == DriverSQLite && c.BackupEncryptionKey != ""
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
