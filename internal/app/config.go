package app

import (
	"time"

	"github.com/slidesmith/deckgen-backend/internal/pipeline"
	"github.com/slidesmith/deckgen-backend/internal/platform/envutil"
)

// Config is the full runtime configuration, loaded once and passed down
// explicitly. There is no mutable package-level state; components read the
// snapshot they were constructed with.
type Config struct {
	Port    string
	LogMode string

	PostgresDSN  string
	RedisAddr    string // empty disables the cross-instance SSE bus
	RedisChannel string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	JWTSecret   string
	CORSOrigins []string

	QueueName          string
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	StaleAfter         time.Duration

	StreamPollInterval time.Duration
	StageTimeout       time.Duration // 0 = no per-stage timeout
	StageNames         []string
}

// LoadConfig reads the environment into a fresh snapshot.
func LoadConfig() Config {
	return Config{
		Port:    envutil.String("PORT", "8080"),
		LogMode: envutil.String("LOG_MODE", "development"),

		PostgresDSN:  envutil.String("POSTGRES_DSN", ""),
		RedisAddr:    envutil.String("REDIS_ADDR", ""),
		RedisChannel: envutil.String("REDIS_SSE_CHANNEL", "deckgen-sse"),

		OpenAIAPIKey:  envutil.String("OPENAI_API_KEY", ""),
		OpenAIBaseURL: envutil.String("OPENAI_BASE_URL", ""),
		OpenAIModel:   envutil.String("OPENAI_MODEL", ""),

		JWTSecret:   envutil.String("JWT_SECRET_KEY", ""),
		CORSOrigins: envutil.List("CORS_ORIGINS", nil),

		QueueName:          envutil.String("QUEUE_NAME", "deck-generation"),
		WorkerConcurrency:  envutil.Int("WORKER_CONCURRENCY", 4),
		WorkerPollInterval: envutil.Duration("WORKER_POLL_INTERVAL", 1*time.Second),
		StaleAfter:         envutil.Duration("WORKER_STALE_AFTER", 30*time.Minute),

		StreamPollInterval: envutil.Duration("STREAM_POLL_INTERVAL", 1*time.Second),
		StageTimeout:       envutil.Duration("STAGE_TIMEOUT", 0),
		StageNames:         envutil.List("PIPELINE_STAGES", pipeline.DefaultStageNames),
	}
}

// Reload returns a fresh snapshot from the current environment. The receiver
// is untouched; callers decide what to do with the new value.
func (c Config) Reload() Config {
	return LoadConfig()
}
