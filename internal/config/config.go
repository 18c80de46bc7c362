package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Database    DatabaseConfig
	Stream      StreamConfig
	Detection   DetectionConfig
	Enforcement EnforcementConfig
	Ops         OpsConfig
}

type DatabaseConfig struct {
	Host              string `validate:"required"`
	Port              int    `validate:"gte=1,lte=65535"`
	User              string `validate:"required"`
	Password          string `validate:"required"`
	Name              string `validate:"required"`
	SSLMode           string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns          int32  `validate:"gte=1"`
	MinConns          int32  `validate:"gte=0,ltefield=MaxConns"`
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type StreamConfig struct {
	URL        string `validate:"required,url"`
	Topic      string `validate:"required"`
	QueueGroup string `validate:"required"`
	Durable    string `validate:"required"`
	// StreamName binds to an existing JetStream stream instead of provisioning one.
	StreamName string
}

type DetectionConfig struct {
	Strategy          string        `validate:"oneof=rule ml"`
	FailureThreshold  int           `validate:"gte=1"`
	FailureWindow     time.Duration `validate:"gt=0"`
	MaxTravelSpeedKmH float64       `validate:"gt=0"`
	QuickSwitchWindow time.Duration `validate:"gte=0"`
	RuleBlockDuration time.Duration `validate:"gt=0"`
	MLBlockDuration   time.Duration `validate:"gt=0"`
	ModelPath         string        `validate:"required_if=Strategy ml"`
	StateMaxKeys      int           `validate:"gte=1"`
	LastSuccessTTL    time.Duration `validate:"gt=0"`
	AccumulatorTTL    time.Duration `validate:"gt=0"`
	GeoIPDBPath       string
}

type EnforcementConfig struct {
	Timeout         time.Duration `validate:"gt=0"`
	RevokeSessions  bool
	RedisURL        string `validate:"omitempty,url"`
	BreakerFailures uint32 `validate:"gte=1"`
	BreakerTimeout  time.Duration `validate:"gt=0"`
	BlockRetention  time.Duration `validate:"gte=0"`
	CleanupInterval time.Duration `validate:"gt=0"`
	// Allowlist is a comma-separated list of CIDRs that are never blocked.
	Allowlist string
	// TimeZone is the zone block timestamps are written in. It must match the
	// login web app's JVM zone when blocked_ips uses TIMESTAMP WITHOUT TIME ZONE.
	TimeZone string `validate:"required,timezone"`
}

type OpsConfig struct {
	Port      string `validate:"required,numeric"`
	Env       string `validate:"oneof=development staging production"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	RateLimit int    `validate:"gte=1"`
}

var validate = validator.New()

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "tripwire"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 10)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Stream: StreamConfig{
			URL:        getEnv("NATS_URL", "nats://localhost:4222"),
			Topic:      getEnv("NATS_TOPIC", "auth-events"),
			QueueGroup: getEnv("NATS_QUEUE_GROUP", "tripwire"),
			Durable:    getEnv("NATS_DURABLE", "tripwire"),
			StreamName: getEnv("NATS_STREAM", ""),
		},
		Detection: DetectionConfig{
			Strategy:          strings.ToLower(getEnv("DETECTOR_STRATEGY", "rule")),
			FailureThreshold:  getEnvAsInt("FAILURE_THRESHOLD", 5),
			FailureWindow:     getEnvAsDuration("FAILURE_WINDOW", 60*time.Second),
			MaxTravelSpeedKmH: getEnvAsFloat("MAX_TRAVEL_SPEED_KMH", 500),
			QuickSwitchWindow: getEnvAsDuration("QUICK_SWITCH_WINDOW", 60*time.Second),
			RuleBlockDuration: getEnvAsDuration("RULE_BLOCK_DURATION", 15*time.Minute),
			MLBlockDuration:   getEnvAsDuration("ML_BLOCK_DURATION", 30*time.Minute),
			ModelPath:         getEnv("MODEL_PATH", ""),
			StateMaxKeys:      getEnvAsInt("STATE_MAX_KEYS", 100_000),
			LastSuccessTTL:    getEnvAsDuration("LAST_SUCCESS_TTL", 24*time.Hour),
			AccumulatorTTL:    getEnvAsDuration("ACCUMULATOR_TTL", 24*time.Hour),
			GeoIPDBPath:       getEnv("GEOIP_DB_PATH", ""),
		},
		Enforcement: EnforcementConfig{
			Timeout:         getEnvAsDuration("ENFORCE_TIMEOUT", 5*time.Second),
			RevokeSessions:  getEnvAsBool("REVOKE_SESSIONS", true),
			RedisURL:        getEnv("REDIS_URL", ""),
			BreakerFailures: uint32(getEnvAsInt("BREAKER_FAILURES", 5)),
			BreakerTimeout:  getEnvAsDuration("BREAKER_TIMEOUT", 30*time.Second),
			BlockRetention:  getEnvAsDuration("BLOCK_RETENTION", 7*24*time.Hour),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			Allowlist:       getEnv("ENFORCE_ALLOWLIST", ""),
			TimeZone:        getEnv("BLOCK_TIME_ZONE", "UTC"),
		},
		Ops: OpsConfig{
			Port:      getEnv("OPS_PORT", "9090"),
			Env:       getEnv("ENV", "development"),
			LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			RateLimit: getEnvAsInt("OPS_RATE_LIMIT", 60),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every group and reports the first offending field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			return fmt.Errorf("invalid configuration: %s: %s", fe.Namespace(), formatValidationError(fe))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// IsProduction reports whether personal data must be masked in logs.
func (c *OpsConfig) IsProduction() bool {
	return c.Env == "production"
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "this field is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "numeric":
		return "must be numeric"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "ltefield":
		return fmt.Sprintf("must not exceed %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
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

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
