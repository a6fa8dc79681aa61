package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stream-recommender/internal/adapters/api"
	"stream-recommender/internal/adapters/terms"
	"stream-recommender/internal/app"
	"stream-recommender/internal/infra/config"
	httpinfra "stream-recommender/internal/infra/http"
	applog "stream-recommender/internal/infra/log"
	"stream-recommender/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось подключить хранилища")
	}
	defer res.Close()

	jobs, err := app.OpenQueue(cfg, res)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь")
	}
	scorerService, err := app.NewScorer(cfg, res.Store, res.Cache, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: некорректная конфигурация оценки")
	}

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	api.NewHandler(jobs, scorerService, terms.NewSimple(0), logger).Routes(srv.Router)

	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
}
