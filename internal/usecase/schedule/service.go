// Package schedule запускает периодическое обслуживание моделей по расписанию cron.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/metrics"
)

// Maintainer выполняет обслуживающие операции сервиса оценки.
type Maintainer interface {
	RefreshStatistics(ctx context.Context) (domain.TermFrequency, error)
	RebuildStatistics(ctx context.Context, window time.Duration) (int, error)
	Consolidate(ctx context.Context, limit int) (int, error)
}

// Config задаёт расписания в формате cron, включая дескрипторы вида "@every 5m".
type Config struct {
	StatsSpec       string
	ConsolidateSpec string
	RebuildSpec     string
	// ConsolidateSize — размер одной пачки отложенного пересчёта.
	ConsolidateSize int
	// RebuildWindow — за какой период сообщения учитываются при пересчёте статистики.
	RebuildWindow time.Duration
}

// maxConsolidateBatches ограничивает число пачек за один запуск.
const maxConsolidateBatches = 100

// Service отвечает за расписание обслуживания.
type Service struct {
	maint Maintainer
	cfg   Config
	cron  *cron.Cron
	log   zerolog.Logger
}

// NewService создаёт сервис.
func NewService(maint Maintainer, cfg Config, logger zerolog.Logger) *Service {
	if cfg.ConsolidateSize <= 0 {
		cfg.ConsolidateSize = 500
	}
	if cfg.RebuildWindow <= 0 {
		cfg.RebuildWindow = 30 * 24 * time.Hour
	}
	return &Service{
		maint: maint,
		cfg:   cfg,
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:   logger.With().Str("component", "schedule").Logger(),
	}
}

// Start регистрирует задания и запускает планировщик; пустое расписание отключает задание.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.StatsSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.StatsSpec, func() { _ = s.RunStatistics(ctx) }); err != nil {
			return fmt.Errorf("расписание статистики %q: %w", s.cfg.StatsSpec, err)
		}
	}
	if s.cfg.ConsolidateSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.ConsolidateSpec, func() { _, _ = s.RunConsolidation(ctx) }); err != nil {
			return fmt.Errorf("расписание пересчёта %q: %w", s.cfg.ConsolidateSpec, err)
		}
	}
	if s.cfg.RebuildSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.RebuildSpec, func() { _, _ = s.RunRebuild(ctx) }); err != nil {
			return fmt.Errorf("расписание пересчёта статистики %q: %w", s.cfg.RebuildSpec, err)
		}
	}
	s.cron.Start()
	s.log.Info().
		Str("stats", s.cfg.StatsSpec).
		Str("consolidate", s.cfg.ConsolidateSpec).
		Str("rebuild", s.cfg.RebuildSpec).
		Msg("schedule: планировщик запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения запущенных заданий.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("schedule: планировщик остановлен")
}

// RunStatistics перечитывает корпусную статистику.
func (s *Service) RunStatistics(ctx context.Context) error {
	tf, err := s.maint.RefreshStatistics(ctx)
	if err != nil {
		metrics.IncJob("statistics", "failed")
		s.log.Error().Err(err).Msg("schedule: не удалось обновить статистику")
		return err
	}
	metrics.IncJob("statistics", "completed")
	s.log.Debug().Int64("messages", tf.AllMessageCount).Msg("schedule: статистика обновлена")
	return nil
}

// RunRebuild пересчитывает статистику термов по сообщениям окна RebuildWindow.
func (s *Service) RunRebuild(ctx context.Context) (int, error) {
	n, err := s.maint.RebuildStatistics(ctx, s.cfg.RebuildWindow)
	if err != nil {
		metrics.IncJob("rebuild", "failed")
		s.log.Error().Err(err).Int("done", n).Msg("schedule: не удалось пересчитать статистику")
		return n, err
	}
	metrics.IncJob("rebuild", "completed")
	return n, nil
}

// RunConsolidation пересчитывает отложенные записи пачками, пока очередная пачка не окажется неполной.
func (s *Service) RunConsolidation(ctx context.Context) (int, error) {
	total := 0
	for i := 0; i < maxConsolidateBatches; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.maint.Consolidate(ctx, s.cfg.ConsolidateSize)
		total += n
		if err != nil {
			metrics.IncJob("consolidate", "failed")
			s.log.Error().Err(err).Int("done", total).Msg("schedule: ошибка пересчёта записей")
			return total, err
		}
		if n < s.cfg.ConsolidateSize {
			break
		}
	}
	metrics.IncJob("consolidate", "completed")
	if total > 0 {
		s.log.Info().Int("entries", total).Msg("schedule: записи пересчитаны")
	}
	return total, nil
}

// ErrNoJobs возвращается Validate, если не задано ни одного расписания.
var ErrNoJobs = errors.New("schedule: no jobs configured")

// Validate проверяет расписания без запуска планировщика.
func (c Config) Validate() error {
	if c.StatsSpec == "" && c.ConsolidateSpec == "" && c.RebuildSpec == "" {
		return ErrNoJobs
	}
	for _, spec := range []string{c.StatsSpec, c.ConsolidateSpec, c.RebuildSpec} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("расписание %q: %w", spec, err)
		}
	}
	return nil
}
