package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Catalog
	CatalogPath string

	// Conversion cache
	ConversionCacheTTL time.Duration

	// Migration runner defaults
	MigrationBatchSize            int
	MigrationMaxConcurrentBatches int
	MigrationRetryAttempts        int
	MigrationRetryDelay           time.Duration

	// Monitor
	MonitorSampleInterval     time.Duration
	MonitorErrorRateWarn      float64
	MonitorErrorRateCritical  float64
	MonitorSlowBatchThreshold time.Duration
	MonitorMaxMemoryMB        int
	MonitorMinFreeDiskMB      int
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "medcanon"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "medcanon123"),
		PostgresDB:       getEnv("POSTGRES_DB", "medcanon"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "medcanon-platform"),

		CatalogPath: getEnv("CATALOG_PATH", ""),

		ConversionCacheTTL: getDuration("CONVERSION_CACHE_TTL", 10*time.Minute),

		MigrationBatchSize:            getIntEnv("MIGRATION_BATCH_SIZE", 100),
		MigrationMaxConcurrentBatches: getIntEnv("MIGRATION_MAX_CONCURRENT_BATCHES", 3),
		MigrationRetryAttempts:        getIntEnv("MIGRATION_RETRY_ATTEMPTS", 3),
		MigrationRetryDelay:           getDuration("MIGRATION_RETRY_DELAY", time.Second),

		MonitorSampleInterval:     getDuration("MONITOR_SAMPLE_INTERVAL", 5*time.Second),
		MonitorErrorRateWarn:      getFloatEnv("MONITOR_ERROR_RATE_WARN", 5),
		MonitorErrorRateCritical:  getFloatEnv("MONITOR_ERROR_RATE_CRITICAL", 15),
		MonitorSlowBatchThreshold: getDuration("MONITOR_SLOW_BATCH_THRESHOLD", 30*time.Second),
		MonitorMaxMemoryMB:        getIntEnv("MONITOR_MAX_MEMORY_MB", 1024),
		MonitorMinFreeDiskMB:      getIntEnv("MONITOR_MIN_FREE_DISK_MB", 512),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
