package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Asia/Tokyo"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Digest struct {
		LookbackDays       int    `envconfig:"DIGEST_LOOKBACK_DAYS" default:"7"`
		MaxEntriesPerGroup int    `envconfig:"DIGEST_MAX_ENTRIES_PER_GROUP" default:"10"`
		DefaultLimit       int    `envconfig:"DIGEST_DEFAULT_LIMIT" default:"200"`
		Concurrency        int    `envconfig:"DIGEST_CONCURRENCY" default:"4"`
		Locale             string `envconfig:"DIGEST_LOCALE" default:"ru"`
	} `envconfig:""`

	Queues struct {
		DigestRuns string `envconfig:"DIGEST_RUNS_QUEUE" default:"digest_runs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
