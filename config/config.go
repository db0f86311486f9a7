package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Sink kinds selectable with AUDIT_SINK
const (
	SinkMemory   = "memory"
	SinkFile     = "file"
	SinkLog      = "log"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Only required when AUDIT_SINK=postgres
	Redis         RedisConfig
	Recorder      RecorderConfig
	Sink          SinkConfig
	Operator      OperatorConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the Redis stream sink configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// RecorderConfig holds the audit recorder and dispatcher settings
type RecorderConfig struct {
	AppendTimeout time.Duration // bound on a single sink append
	SequenceStart int64         // first sequence number handed out
	QueueSize     int           // dispatcher buffer
	Workers       int           // dispatcher workers
	StopTimeout   time.Duration // dispatcher drain bound on shutdown
}

// SinkConfig selects and configures the audit sink
type SinkConfig struct {
	Kind     string // memory, file, log, postgres, redis
	FilePath string
	Format   string // text or json, for the file sink
	Echo     bool   // also write the human-readable line to the process log
}

// OperatorConfig holds the bearer token settings for the read API
type OperatorConfig struct {
	JWTSecret string
	Issuer    string
	Role      string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Stream:   getEnv("REDIS_AUDIT_STREAM", "audit:auth_fail"),
		},
		Recorder: RecorderConfig{
			AppendTimeout: getEnvAsDuration("AUDIT_APPEND_TIMEOUT", 2*time.Second),
			SequenceStart: getEnvAsInt64("AUDIT_SEQUENCE_START", 0),
			QueueSize:     getEnvAsInt("AUDIT_QUEUE_SIZE", 10000),
			Workers:       getEnvAsInt("AUDIT_WORKERS", 1),
			StopTimeout:   getEnvAsDuration("AUDIT_STOP_TIMEOUT", 10*time.Second),
		},
		Sink: SinkConfig{
			Kind:     strings.ToLower(getEnv("AUDIT_SINK", SinkMemory)),
			FilePath: getEnv("AUDIT_SINK_FILE", "audit.log"),
			Format:   strings.ToLower(getEnv("AUDIT_SINK_FORMAT", "json")),
			Echo:     getEnvAsBool("AUDIT_SINK_ECHO", false),
		},
		Operator: OperatorConfig{
			JWTSecret: getEnv("OPERATOR_JWT_SECRET", ""),
			Issuer:    getEnv("OPERATOR_JWT_ISSUER", "authaudit"),
			Role:      getEnv("OPERATOR_ROLE", "auditor"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Sink.Kind {
	case SinkMemory, SinkLog:
	case SinkFile:
		if c.Sink.FilePath == "" {
			return fmt.Errorf("AUDIT_SINK_FILE is required for the file sink")
		}
		if c.Sink.Format != "text" && c.Sink.Format != "json" {
			return fmt.Errorf("AUDIT_SINK_FORMAT must be text or json, got %q", c.Sink.Format)
		}
	case SinkPostgres:
		if c.Database == nil {
			return fmt.Errorf("database configuration required for the postgres sink: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case SinkRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis sink")
		}
		if c.Redis.Stream == "" {
			return fmt.Errorf("REDIS_AUDIT_STREAM must not be empty")
		}
	default:
		return fmt.Errorf("unknown audit sink %q", c.Sink.Kind)
	}

	if c.Recorder.AppendTimeout <= 0 {
		return fmt.Errorf("audit append timeout must be positive")
	}
	if c.Recorder.SequenceStart < 0 {
		return fmt.Errorf("audit sequence start must not be negative")
	}
	if c.Recorder.QueueSize <= 0 {
		return fmt.Errorf("audit queue size must be positive")
	}
	if c.Recorder.Workers <= 0 {
		return fmt.Errorf("audit workers must be positive")
	}

	// The read API is open to anyone holding a token signed with the secret
	if c.IsProduction() && len(c.Operator.JWTSecret) < 32 {
		return fmt.Errorf("OPERATOR_JWT_SECRET of at least 32 bytes is required in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither DATABASE_URL nor DB_HOST is set.
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "audit"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "audit"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
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
