// Package app собирает зависимости бинарников из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stream-recommender/internal/adapters/repo"
	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/cache"
	"stream-recommender/internal/infra/clock"
	"stream-recommender/internal/infra/config"
	"stream-recommender/internal/infra/db"
	"stream-recommender/internal/infra/queue"
	"stream-recommender/internal/usecase/aggregation"
	"stream-recommender/internal/usecase/learning"
	"stream-recommender/internal/usecase/scorer"
	"stream-recommender/internal/usecase/similarity"
	"stream-recommender/internal/usecase/weighting"
)

// Resources держит открытые подключения; Close освобождает их в обратном порядке.
type Resources struct {
	Store domain.Persistence
	Redis *redis.Client
	Cache domain.Cache

	closers []func()
}

// Close закрывает все подключения.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Open подключает хранилище и Redis. Без PG_DSN используется хранилище в памяти,
// это допустимо только при APP_ENV=dev.
func Open(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*Resources, error) {
	res := &Resources{}
	if cfg.PGDSN == "" {
		if cfg.AppEnv != "dev" {
			return nil, errors.New("не указан адрес БД (PG_DSN)")
		}
		logger.Warn().Msg("app: PG_DSN не задан, используется хранилище в памяти")
		res.Store = repo.NewMemory()
	} else {
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("нет подключения к БД: %w", err)
		}
		res.closers = append(res.closers, pool.Close)
		pg := repo.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			res.Close()
			return nil, err
		}
		res.Store = repo.NewBreaker(pg, repo.BreakerConfig{
			Name:             "postgres",
			FailureThreshold: cfg.Storage.BreakerFailures,
			Timeout:          cfg.Storage.BreakerTimeout,
		}, logger)
	}

	if cfg.RedisAddr != "" {
		client, err := cache.Connect(cfg.RedisAddr)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("нет подключения к Redis: %w", err)
		}
		res.closers = append(res.closers, func() { _ = client.Close() })
		res.Redis = client
		res.Cache = cache.NewRedis(client, "recommender:")
	}
	return res, nil
}

// OpenQueue создаёт очередь задач выбранного бэкенда.
func OpenQueue(cfg config.AppConfig, res *Resources) (domain.JobQueue, error) {
	switch cfg.Queues.Backend {
	case "redis", "":
		if res.Redis == nil {
			return nil, errors.New("для очереди redis нужен REDIS_ADDR")
		}
		q := queue.NewRedisJobQueue(res.Redis, cfg.Queues.Score)
		return q, nil
	case "rabbitmq":
		if cfg.RabbitURL == "" {
			return nil, errors.New("не указан адрес RabbitMQ (RABBITMQ_URL)")
		}
		q, err := queue.NewRabbitJobQueue(cfg.RabbitURL, cfg.Queues.Score, cfg.Queues.Workers)
		if err != nil {
			return nil, err
		}
		res.closers = append(res.closers, func() { _ = q.Close() })
		return q, nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд очереди %q", cfg.Queues.Backend)
	}
}

// NewScorer собирает сервис оценки со всеми стратегиями из конфигурации.
func NewScorer(cfg config.AppConfig, store domain.Persistence, c domain.Cache, logger zerolog.Logger) (*scorer.Service, error) {
	clk := clock.Real{}
	registry := domain.DefaultFeatureRegistry()

	stats := weighting.NewStats(domain.TermFrequency{})
	termWeighting, err := weighting.New(cfg.Scoring.TermWeighting, stats)
	if err != nil {
		return nil, err
	}
	simStrategy, err := similarity.ParseStrategy(cfg.Scoring.Similarity)
	if err != nil {
		return nil, err
	}
	var decay similarity.Decay = similarity.NoDecay{}
	if cfg.Scoring.DecayHalfLife > 0 {
		decay = similarity.ExponentialDecay{HalfLife: cfg.Scoring.DecayHalfLife}
	}
	weights, err := aggregation.ParseFeatureMap(cfg.Scoring.FeatureWeights, registry)
	if err != nil {
		return nil, fmt.Errorf("веса признаков: %w", err)
	}
	thresholds, err := aggregation.ParseFeatureMap(cfg.Scoring.FeatureThresholds, registry)
	if err != nil {
		return nil, fmt.Errorf("пороги признаков: %w", err)
	}
	strategy, err := learning.NewStrategy(learning.Options{
		Kind:           cfg.Learning.Strategy,
		MinTermWeight:  cfg.Learning.MinTermWeight,
		MinScore:       cfg.Learning.MinScore,
		StartTime:      cfg.Learning.StartTime,
		BinWidth:       cfg.Learning.BinWidth,
		AllBinsWidth:   cfg.Learning.AllBinsWidth,
		CalculateLater: cfg.Learning.CalculateLater,
		Clock:          clk,
	})
	if err != nil {
		return nil, err
	}
	learner := learning.NewLearner(store, strategy, logger)

	return scorer.NewService(scorer.Deps{
		Store:     store,
		Cache:     c,
		Stats:     stats,
		Weighting: termWeighting,
		Similarity: similarity.Computer{
			Strategy:           simStrategy,
			TreatMissingAsZero: cfg.Scoring.TreatMissingAsZero,
			Decay:              decay,
			Clock:              clk,
		},
		Aggregator:   aggregation.FixedWeight{Weights: weights},
		Validator:    aggregation.ThresholdValidator{Min: thresholds},
		Learner:      learner,
		Registry:     registry,
		Clock:        clk,
		Workers:      cfg.Scoring.Workers,
		DuplicateTTL: cfg.Scoring.DuplicateTTL,
	}, logger)
}
