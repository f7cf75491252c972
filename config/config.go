package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string
	JWTSecret  string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPass     string
	DBName     string
	DBNameTest string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioHost     string
	MinioPort     string
	MinioUsername string
	MinioPassword string
	MinioUseSSL   bool
	BucketName    string

	RabbitMQURL   string
	RabbitMQHost  string
	RabbitMQPort  string
	RabbitMQUser  string
	RabbitMQPass  string
	RabbitMQVhost string

	// Chunked storage. ChunkSize bounds the encoded fragment stored per
	// row; the backing store rejects records above its per-record ceiling.
	ChunkSize     int
	ImageMaxWidth int
	ImageQuality  int

	// Orphan sweep worker.
	SweepPrefetch    int
	SweepConcurrency int
	SweepRate        float64
	SweepBurst       int
	SweepRetryMax    int
	SweepRetryDelays []time.Duration
	SweepInterval    time.Duration
	PendingTTL       time.Duration
	SweepReportEmail string
}

var AppConfig Config

// getEnv returns the environment value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDurationList(key string, defaultValue []time.Duration) []time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := time.ParseDuration(part)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// InitConfig loads configuration from the environment.
func InitConfig() {
	AppConfig = Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8000"),
		JWTSecret:  getEnv("JWT_SECRET", "loop-dev-secret"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPass:     getEnv("DB_PASS", "root"),
		DBName:     getEnv("DB_NAME", "loop"),
		DBNameTest: getEnv("DB_NAME_TEST", "loop_test"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioHost:     getEnv("MINIO_HOST", "localhost"),
		MinioPort:     getEnv("MINIO_PORT", "9000"),
		MinioUsername: getEnv("MINIO_USERNAME", "minioadmin"),
		MinioPassword: getEnv("MINIO_PASSWORD", "minioadmin"),
		MinioUseSSL:   getEnvBool("MINIO_USE_SSL", false),
		BucketName:    getEnv("MINIO_BUCKET", "loop-legacy-files"),

		RabbitMQURL:   getEnv("RABBITMQ_URL", ""),
		RabbitMQHost:  getEnv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:  getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:  getEnv("RABBITMQ_USER", "guest"),
		RabbitMQPass:  getEnv("RABBITMQ_PASS", "guest"),
		RabbitMQVhost: getEnv("RABBITMQ_VHOST", "/"),

		ChunkSize:     getEnvInt("CHUNK_SIZE", 500000),
		ImageMaxWidth: getEnvInt("IMAGE_MAX_WIDTH", 800),
		ImageQuality:  getEnvInt("IMAGE_QUALITY", 70),

		SweepPrefetch:    getEnvInt("SWEEP_PREFETCH", 1),
		SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 2),
		SweepRate:        getEnvFloat("SWEEP_RATE", 5),
		SweepBurst:       getEnvInt("SWEEP_BURST", 2),
		SweepRetryMax:    getEnvInt("SWEEP_RETRY_MAX", 3),
		SweepRetryDelays: getEnvDurationList("SWEEP_RETRY_DELAYS", []time.Duration{
			10 * time.Second, time.Minute, 5 * time.Minute,
		}),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		PendingTTL:       getEnvDuration("PENDING_TTL", time.Hour),
		SweepReportEmail: getEnv("SWEEP_REPORT_EMAIL", ""),
	}

	if AppConfig.RabbitMQURL == "" {
		AppConfig.RabbitMQURL = fmt.Sprintf("amqp://%s:%s@%s:%s%s",
			AppConfig.RabbitMQUser,
			AppConfig.RabbitMQPass,
			AppConfig.RabbitMQHost,
			AppConfig.RabbitMQPort,
			AppConfig.RabbitMQVhost,
		)
	}
}
