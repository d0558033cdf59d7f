package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Local database
	SQLiteDBPath string

	// Remote database. Empty means no remote backend: the app runs
	// entirely on local storage.
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// AMQP. Empty URL disables event publishing.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Retry processor
	RetryBatchSize    int
	RetryInterval     time.Duration
	RetryMaxAttempts  int
	MaxPendingRetries int

	// Aggregation
	MonthsBack int

	// LegacyDivisionsURL, when set, mirrors unauthenticated division
	// updates to an older local endpoint.
	LegacyDivisionsURL string

	// UserID signs the process in at startup. Empty runs unauthenticated.
	UserID string
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/financeflow.db"),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "financeflow"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "mutation_events"),

		RetryBatchSize:    getEnvInt("RETRY_BATCH_SIZE", 10),
		RetryInterval:     getEnvDuration("RETRY_INTERVAL", 30*time.Second),
		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 5),
		MaxPendingRetries: getEnvInt("MAX_PENDING_RETRIES", 500),

		MonthsBack: getEnvInt("MONTHS_BACK", 6),

		LegacyDivisionsURL: getEnv("LEGACY_DIVISIONS_URL", ""),

		UserID: getEnv("USER_ID", ""),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate local database path
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate remote database URL if provided
	if c.DatabaseURL != "" {
		if parsedURL, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid database URL '%s': %v", c.DatabaseURL, err))
		} else if parsedURL.Scheme != "postgres" && parsedURL.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid database URL scheme '%s': must be 'postgres' or 'postgresql'", parsedURL.Scheme))
		}

		if c.DBMaxOpenConns < 1 {
			errors = append(errors, fmt.Sprintf("invalid max open connections %d: must be at least 1", c.DBMaxOpenConns))
		}
		if c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
			errors = append(errors, fmt.Sprintf("invalid max idle connections %d: must be between 0 and max open connections", c.DBMaxIdleConns))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate legacy endpoint URL if provided
	if c.LegacyDivisionsURL != "" {
		if parsedURL, err := url.Parse(c.LegacyDivisionsURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid legacy divisions URL '%s': %v", c.LegacyDivisionsURL, err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid legacy divisions URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		}
	}

	// Validate retry processor configuration
	if c.RetryBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid retry batch size %d: must be at least 1", c.RetryBatchSize))
	} else if c.RetryBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid retry batch size %d: must be at most 1000", c.RetryBatchSize))
	}

	if c.RetryInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid retry interval %v: must be at least 1 second", c.RetryInterval))
	} else if c.RetryInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid retry interval %v: must be at most 24 hours", c.RetryInterval))
	}

	if c.RetryMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid retry max attempts %d: must be at least 1", c.RetryMaxAttempts))
	}

	if c.MaxPendingRetries < 0 {
		errors = append(errors, fmt.Sprintf("invalid max pending retries %d: must not be negative", c.MaxPendingRetries))
	}

	// Validate aggregation window
	if c.MonthsBack < 1 || c.MonthsBack > 60 {
		errors = append(errors, fmt.Sprintf("invalid months back %d: must be between 1 and 60", c.MonthsBack))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
