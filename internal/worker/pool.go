// Package worker читает задачи из очереди и передаёт их сервису оценки.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/metrics"
)

// Handler выполняет задачи очереди.
type Handler interface {
	Score(ctx context.Context, msg domain.Message, relation *domain.MessageRelation, userIDs []string, learnOnly bool) (domain.ScoringResult, error)
	Learn(ctx context.Context, obs domain.Observation) error
}

const defaultMaxDeliveryAttempts = 5

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
	jobOutcomeDropped
)

func (o jobOutcome) String() string {
	switch o {
	case jobOutcomeRetry:
		return "retry"
	case jobOutcomeDropped:
		return "dropped"
	default:
		return "completed"
	}
}

// Pool запускает несколько читателей одной очереди.
type Pool struct {
	log         zerolog.Logger
	queue       domain.JobQueue
	handler     Handler
	workers     int
	maxAttempts int
	retryDelay  time.Duration
}

// NewPool создаёт пул; workers и maxAttempts по умолчанию 1 и 5.
func NewPool(queue domain.JobQueue, handler Handler, workers, maxAttempts int, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxDeliveryAttempts
	}
	return &Pool{
		log:         logger.With().Str("component", "worker").Logger(),
		queue:       queue,
		handler:     handler,
		workers:     workers,
		maxAttempts: maxAttempts,
		retryDelay:  time.Second,
	}
}

// Run блокируется до отмены ctx.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		i := i
		g.Go(func() error {
			p.loop(gctx, p.log.With().Int("worker", i).Logger())
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, log zerolog.Logger) {
	for {
		job, ack, err := p.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			if !p.pause(ctx) {
				return
			}
			continue
		}

		jobLog := log.With().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Int("attempt", job.Attempt).
			Logger()

		outcome := p.handleJob(ctx, job, jobLog)
		metrics.IncJob(string(job.Kind), outcome.String())

		if outcome == jobOutcomeRetry && job.Attempt < p.maxAttempts {
			jobLog.Warn().Msg("worker: задача завершилась ошибкой, повторим позже")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось вернуть задачу после ошибки")
			}
			if !p.pause(ctx) {
				return
			}
			continue
		}
		if outcome == jobOutcomeRetry {
			jobLog.Error().Msg("worker: достигнут предел попыток, подтверждаем задачу")
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}

func (p *Pool) pause(ctx context.Context) bool {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *Pool) handleJob(ctx context.Context, job domain.Job, jobLog zerolog.Logger) jobOutcome {
	switch job.Kind {
	case domain.JobKindScore:
		if job.Score == nil {
			jobLog.Error().Msg("worker: задача оценки без сообщения, пропускаем")
			return jobOutcomeDropped
		}
		res, err := p.handler.Score(ctx, job.Score.Message, job.Score.Relation, job.Score.UserIDs, job.Score.LearnOnly)
		if err != nil {
			jobLog.Error().Err(err).Str("message", job.Score.Message.GlobalID).Msg("worker: не удалось оценить сообщение")
			return jobOutcomeRetry
		}
		jobLog.Info().
			Str("message", res.MessageID).
			Int("scores", len(res.Scores)).
			Bool("skipped", res.Skipped).
			Msg("worker: сообщение оценено")
		return jobOutcomeCompleted
	case domain.JobKindLearn:
		if job.Learn == nil {
			jobLog.Error().Msg("worker: задача обучения без наблюдения, пропускаем")
			return jobOutcomeDropped
		}
		if err := p.handler.Learn(ctx, job.Learn.Observation); err != nil {
			jobLog.Error().Err(err).Str("user", job.Learn.Observation.UserID).Msg("worker: не удалось обучить модель")
			return jobOutcomeRetry
		}
		return jobOutcomeCompleted
	default:
		jobLog.Error().Msg("worker: неизвестный тип задачи, пропускаем")
		return jobOutcomeDropped
	}
}
