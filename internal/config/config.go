package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig
	Lock  LockConfig

	Scheduler SchedulerConfig
	Ingestion IngestionConfig
	Dispatch  DispatchConfig

	SettingsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LockConfig struct {
	StationTTL   time.Duration
	TaskTTL      time.Duration
	SweepOnStart bool
}

type SchedulerConfig struct {
	Enabled     bool
	Tick        time.Duration
	JobTimeout  time.Duration
	Concurrency int
	EnabledJobs string
}

type IngestionConfig struct {
	AdapterTimeout time.Duration
	ChunkSize      int
}

type DispatchConfig struct {
	SendTimeout time.Duration
	Parallelism int
	MaxRecords  int
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewSettingsHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "adl"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "adl"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "adl.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Lock: LockConfig{
			StationTTL:   getenvDuration("LOCK_STATION_TTL", 30*time.Minute),
			TaskTTL:      getenvDuration("LOCK_TASK_TTL", time.Hour),
			SweepOnStart: getenvBool("LOCK_SWEEP_ON_START", true),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			Tick:        getenvDuration("SCHEDULER_TICK", time.Minute),
			JobTimeout:  getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Minute),
			Concurrency: getenvInt("SCHEDULER_CONCURRENCY", 4),
			EnabledJobs: getenv("SCHEDULER_ENABLED_JOBS", ""),
		},
		Ingestion: IngestionConfig{
			AdapterTimeout: getenvDuration("INGESTION_ADAPTER_TIMEOUT", 2*time.Minute),
			ChunkSize:      getenvInt("INGESTION_CHUNK_SIZE", 1000),
		},
		Dispatch: DispatchConfig{
			SendTimeout: getenvDuration("DISPATCH_SEND_TIMEOUT", time.Minute),
			Parallelism: getenvInt("DISPATCH_PARALLELISM", 4),
			MaxRecords:  getenvInt("DISPATCH_MAX_RECORDS", 5000),
		},
		SettingsPath: strings.TrimSpace(getenv("ADL_SETTINGS_PATH", "")),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
