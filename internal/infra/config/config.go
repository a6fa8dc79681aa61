package config

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	Storage struct {
		BreakerFailures uint32        `envconfig:"STORAGE_BREAKER_FAILURES" default:"5"`
		BreakerTimeout  time.Duration `envconfig:"STORAGE_BREAKER_TIMEOUT" default:"30s"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Backend     string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Score       string `envconfig:"SCORE_QUEUE_KEY" default:"score_jobs"`
		Workers     int    `envconfig:"WORKERS" default:"4"`
		MaxAttempts int    `envconfig:"QUEUE_MAX_ATTEMPTS" default:"5"`
	} `envconfig:""`

	Scoring struct {
		FeatureWeights     string        `envconfig:"SCORING_FEATURE_WEIGHTS" default:"AUTHOR:1,MENTION:0.9,LIKE:0.8,DISCUSSION_PARTICIPATION:0.6,DISCUSSION_MENTION:0.6,CONTENT_MATCH:1,COLLABORATION_MATCH:0.7"`
		FeatureThresholds  string        `envconfig:"SCORING_FEATURE_THRESHOLDS"`
		Workers            int           `envconfig:"SCORING_WORKERS" default:"8"`
		TermWeighting      string        `envconfig:"SCORING_TERM_WEIGHTING" default:"log"`
		Similarity         string        `envconfig:"SCORING_SIMILARITY" default:"cosine"`
		TreatMissingAsZero bool          `envconfig:"SCORING_TREAT_MISSING_AS_ZERO" default:"false"`
		DecayHalfLife      time.Duration `envconfig:"SCORING_DECAY_HALF_LIFE" default:"168h"`
		DuplicateTTL       time.Duration `envconfig:"SCORING_DUPLICATE_TTL" default:"24h"`
	} `envconfig:""`

	Learning struct {
		Strategy       string        `envconfig:"LEARNING_STRATEGY" default:"time_binned"`
		MinTermWeight  float64       `envconfig:"LEARNING_MIN_TERM_WEIGHT" default:"0"`
		MinScore       float64       `envconfig:"LEARNING_MIN_SCORE" default:"0"`
		BinWidth       time.Duration `envconfig:"LEARNING_BIN_WIDTH" default:"24h"`
		AllBinsWidth   time.Duration `envconfig:"LEARNING_ALL_BINS_WIDTH" default:"720h"`
		StartTime      time.Time     `envconfig:"LEARNING_START_TIME" default:"2020-01-01T00:00:00Z"`
		CalculateLater bool          `envconfig:"LEARNING_CALCULATE_LATER" default:"false"`
	} `envconfig:""`

	Scheduler struct {
		StatsSpec       string        `envconfig:"SCHEDULER_STATS_SPEC" default:"@every 5m"`
		ConsolidateSpec string        `envconfig:"SCHEDULER_CONSOLIDATE_SPEC" default:"@every 10m"`
		ConsolidateSize int           `envconfig:"SCHEDULER_CONSOLIDATE_BATCH" default:"500"`
		RebuildSpec     string        `envconfig:"SCHEDULER_REBUILD_SPEC" default:"@daily"`
		RebuildWindow   time.Duration `envconfig:"SCHEDULER_REBUILD_WINDOW" default:"720h"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения, предварительно подмешав .env, если он есть.
func Load() AppConfig {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("не удалось прочитать .env: %v", err)
	}
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
