package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API      APIConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Session  SessionConfig
	Realtime RealtimeConfig
	Webhook  WebhookConfig
	Limits   RateLimitConfig
	Trace    TraceConfig
}

type APIConfig struct {
	Addr       string
	PresignTTL time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type SessionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CookieName    string
	KeyPrefix     string
	LookupTimeout time.Duration
}

type RealtimeConfig struct {
	ProgressChannel string
}

type WebhookConfig struct {
	SigningSecret string
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:       env("DOCFLOW_API_ADDR", ":8080"),
			PresignTTL: envDuration("DOCFLOW_PRESIGN_TTL", 15*time.Minute),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9090"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "docflow-media"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Session: SessionConfig{
			RedisAddr:     env("SESSION_REDIS_ADDR", env("REDIS_ADDR", "localhost:6379")),
			RedisPassword: env("SESSION_REDIS_PASSWORD", env("REDIS_PASSWORD", "")),
			RedisDB:       envInt("SESSION_REDIS_DB", envInt("REDIS_DB", 0)),
			CookieName:    env("DOCFLOW_SESSION_COOKIE", "docflow_sid"),
			KeyPrefix:     env("DOCFLOW_SESSION_PREFIX", "sess:"),
			LookupTimeout: envDuration("DOCFLOW_SESSION_TIMEOUT", 5*time.Second),
		},
		Realtime: RealtimeConfig{
			ProgressChannel: env("DOCFLOW_PROGRESS_CHANNEL", "docflow:job-progress"),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("DOCFLOW_WEBHOOK_SECRET", ""),
		},
		Limits: RateLimitConfig{
			Enabled:  envBool("DOCFLOW_RATE_LIMIT_ENABLED", true),
			Capacity: envInt("DOCFLOW_RATE_LIMIT_CAPACITY", 30),
			Window:   envDuration("DOCFLOW_RATE_LIMIT_WINDOW", time.Minute),
		},
		Trace: TraceConfig{
			Exporter:     env("DOCFLOW_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("DOCFLOW_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("DOCFLOW_OTLP_INSECURE", true),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
