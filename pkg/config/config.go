package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers understood by the pipeline binaries.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	OpenSky  OpenSkyConfig
	RawStore RawStoreConfig
	Pipeline PipelineConfig
	Metrics  MetricsConfig
	SMTP     SMTPConfig

	LogLevel  string
	LogFormat string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers     []string
	TopicEvents string
}

// OpenSkyConfig holds the upstream API credentials and the bounding box
// every snapshot query is restricted to.
type OpenSkyConfig struct {
	TokenURL          string
	StatesURL         string
	ClientID          string
	ClientSecret      string
	LatMin            float64
	LatMax            float64
	LonMin            float64
	LonMax            float64
	Timeout           time.Duration
	RequestsPerSecond float64
}

type RawStoreConfig struct {
	Root string
}

type PipelineConfig struct {
	StoreDriver   string
	Interval      time.Duration
	Offset        time.Duration
	LockTTL       time.Duration
	MigrationsDir string
}

type MetricsConfig struct {
	Port int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "flight_user"),
			Password: getEnv("DB_PASSWORD", "flight_pass"),
			DBName:   getEnv("DB_NAME", "flight_analytics"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			TopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "flight.pipeline.events"),
		},
		OpenSky: OpenSkyConfig{
			TokenURL:          getEnv("OPENSKY_TOKEN_URL", "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"),
			StatesURL:         getEnv("OPENSKY_STATES_URL", "https://opensky-network.org/api/states/all"),
			ClientID:          getEnv("OPENSKY_CLIENT_ID", ""),
			ClientSecret:      getEnv("OPENSKY_CLIENT_SECRET", ""),
			LatMin:            getEnvAsFloat("OPENSKY_LAT_MIN", 6),
			LatMax:            getEnvAsFloat("OPENSKY_LAT_MAX", 37.5),
			LonMin:            getEnvAsFloat("OPENSKY_LON_MIN", 68),
			LonMax:            getEnvAsFloat("OPENSKY_LON_MAX", 97.5),
			Timeout:           getEnvAsDuration("OPENSKY_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("OPENSKY_QPS", 0.1),
		},
		RawStore: RawStoreConfig{
			Root: getEnv("RAW_STORE_ROOT", "data/bronze/sourcefiles"),
		},
		Pipeline: PipelineConfig{
			StoreDriver:   getEnv("PIPELINE_STORE", StoreDriverPostgres),
			Interval:      getEnvAsDuration("PIPELINE_INTERVAL", 15*time.Minute),
			Offset:        getEnvAsDuration("PIPELINE_OFFSET", 0),
			LockTTL:       getEnvAsDuration("PIPELINE_LOCK_TTL", 10*time.Minute),
			MigrationsDir: getEnv("PIPELINE_MIGRATIONS_DIR", "migrations"),
		},
		Metrics: MetricsConfig{
			Port: getEnvAsInt("METRICS_PORT", 8093),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "flight-pipeline@example.com"),
			To:       getEnv("SMTP_TO", "oncall@example.com"),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations no pipeline binary can run with.
func (c *Config) Validate() error {
	switch c.Pipeline.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown PIPELINE_STORE %q (want %s or %s)",
			c.Pipeline.StoreDriver, StoreDriverPostgres, StoreDriverMemory)
	}
	if c.RawStore.Root == "" {
		return errors.New("RAW_STORE_ROOT is required")
	}
	if c.OpenSky.LatMin >= c.OpenSky.LatMax || c.OpenSky.LonMin >= c.OpenSky.LonMax {
		return errors.New("opensky bounding box is empty")
	}
	if c.OpenSky.RequestsPerSecond <= 0 {
		return errors.New("OPENSKY_QPS must be positive")
	}
	if c.Pipeline.Interval < time.Minute {
		return errors.New("PIPELINE_INTERVAL must be at least 1m")
	}
	if c.Pipeline.LockTTL < time.Second {
		return errors.New("PIPELINE_LOCK_TTL must be at least 1s")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
