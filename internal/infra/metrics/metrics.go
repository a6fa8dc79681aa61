package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ChainCommandsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_commands_skipped_total",
		Help: "Количество пропусков в цепочках команд",
	}, []string{"chain"})

	ScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scoring_duration_seconds",
		Help:    "Время оценки одного сообщения",
		Buckets: prometheus.DefBuckets,
	})

	ScoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scores_total",
		Help: "Количество вычисленных оценок по уровню взаимодействия",
	}, []string{"interaction"})

	LearningEntriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "learning_entries_total",
		Help: "Изменения записей моделей пользователей",
	}, []string{"op"})

	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_total",
		Help: "Обработанные задачи очереди",
	}, []string{"kind", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// Операции над записями моделей для LearningEntriesTotal.
const (
	EntryOpCreate = "create"
	EntryOpUpdate = "update"
	EntryOpRemove = "remove"
	EntryOpStale  = "stale"
	EntryOpFuture = "future"
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ChainCommandsSkipped,
		ScoringDuration,
		ScoresTotal,
		LearningEntriesTotal,
		JobsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveScoring фиксирует длительность оценки сообщения.
func ObserveScoring(start time.Time) {
	ScoringDuration.Observe(time.Since(start).Seconds())
}

// IncScore увеличивает счётчик оценок для уровня взаимодействия.
func IncScore(interaction string) {
	ScoresTotal.WithLabelValues(interaction).Inc()
}

// AddLearningEntries учитывает изменения записей модели.
func AddLearningEntries(op string, n int) {
	if n <= 0 {
		return
	}
	LearningEntriesTotal.WithLabelValues(op).Add(float64(n))
}

// IncJob учитывает обработанную задачу.
func IncJob(kind, status string) {
	JobsTotal.WithLabelValues(kind, status).Inc()
}
