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
	"stream-recommender/internal/usecase/schedule"
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
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer res.Close()

	scorerService, err := app.NewScorer(cfg, res.Store, res.Cache, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректная конфигурация оценки")
	}

	schedCfg := schedule.Config{
		StatsSpec:       cfg.Scheduler.StatsSpec,
		ConsolidateSpec: cfg.Scheduler.ConsolidateSpec,
		RebuildSpec:     cfg.Scheduler.RebuildSpec,
		ConsolidateSize: cfg.Scheduler.ConsolidateSize,
		RebuildWindow:   cfg.Scheduler.RebuildWindow,
	}
	if err := schedCfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание")
	}
	svc := schedule.NewService(scorerService, schedCfg, logger)
	if err := svc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось запустить планировщик")
	}

	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	svc.Stop()
}
