package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"stream-recommender/internal/app"
	"stream-recommender/internal/infra/config"
	applog "stream-recommender/internal/infra/log"
	"stream-recommender/internal/infra/metrics"
	"stream-recommender/internal/infra/queue"
	"stream-recommender/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	res, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scorer: не удалось подключить хранилища")
	}
	defer res.Close()

	jobs, err := app.OpenQueue(cfg, res)
	if err != nil {
		logger.Fatal().Err(err).Msg("scorer: не удалось инициализировать очередь")
	}
	if rq, ok := jobs.(*queue.RedisJobQueue); ok {
		moved, err := rq.Recover(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("scorer: не удалось вернуть незавершённые задачи")
		} else if moved > 0 {
			logger.Warn().Int("jobs", moved).Msg("scorer: незавершённые задачи возвращены в очередь")
		}
	}

	scorerService, err := app.NewScorer(cfg, res.Store, res.Cache, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scorer: некорректная конфигурация оценки")
	}
	if _, err := scorerService.RefreshStatistics(ctx); err != nil {
		logger.Warn().Err(err).Msg("scorer: статистика термов не загружена")
	}
	for name, desc := range scorerService.ConfigurationDescriptions() {
		logger.Info().Str("strategy", name).Msg(desc)
	}

	pool := worker.NewPool(jobs, scorerService, cfg.Queues.Workers, cfg.Queues.MaxAttempts, logger)
	logger.Info().Int("workers", cfg.Queues.Workers).Msg("scorer: запуск обработки очереди")
	if err := pool.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("scorer: обработка очереди завершилась ошибкой")
	}
	logger.Info().Msg("scorer: остановлен")
}
