package repo

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"stream-recommender/internal/domain"
)

// BreakerConfig задаёт параметры предохранителя хранилища.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

// Breaker оборачивает хранилище предохранителем: после серии ошибок запросы
// отклоняются с gobreaker.ErrOpenState, пока не истечёт Timeout.
type Breaker struct {
	inner domain.Persistence
	cb    *gobreaker.CircuitBreaker[any]
}

var _ domain.Persistence = (*Breaker)(nil)

// NewBreaker создаёт обёртку над inner.
func NewBreaker(inner domain.Persistence, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "storage"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("repo: состояние предохранителя изменилось")
		},
	}
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State возвращает текущее состояние предохранителя.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func guarded[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	v, _ := res.(T)
	return v, err
}

func (b *Breaker) exec(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func (b *Breaker) GetOrCreateUserModel(ctx context.Context, userID, modelType string) (domain.UserModel, error) {
	return guarded(b, func() (domain.UserModel, error) {
		return b.inner.GetOrCreateUserModel(ctx, userID, modelType)
	})
}

func (b *Breaker) GetUserModel(ctx context.Context, userID, modelType string) (domain.UserModel, bool, error) {
	var found bool
	model, err := guarded(b, func() (domain.UserModel, error) {
		m, ok, err := b.inner.GetUserModel(ctx, userID, modelType)
		found = ok
		return m, err
	})
	return model, found, err
}

func (b *Breaker) GetUserModelEntries(ctx context.Context, model domain.UserModel, termKeys []string) (map[string]*domain.UserModelEntry, error) {
	return guarded(b, func() (map[string]*domain.UserModelEntry, error) {
		return b.inner.GetUserModelEntries(ctx, model, termKeys)
	})
}

func (b *Breaker) StoreUserModelEntries(ctx context.Context, model domain.UserModel, entries []*domain.UserModelEntry) error {
	return b.exec(func() error { return b.inner.StoreUserModelEntries(ctx, model, entries) })
}

func (b *Breaker) RemoveUserModelEntries(ctx context.Context, model domain.UserModel, entries []*domain.UserModelEntry) error {
	return b.exec(func() error { return b.inner.RemoveUserModelEntries(ctx, model, entries) })
}

func (b *Breaker) ListEntriesNeedingConsolidation(ctx context.Context, limit int) ([]domain.ModelEntry, error) {
	return guarded(b, func() ([]domain.ModelEntry, error) {
		return b.inner.ListEntriesNeedingConsolidation(ctx, limit)
	})
}

func (b *Breaker) GetOrCreateTerm(ctx context.Context, category, value, groupID string) (domain.Term, error) {
	return guarded(b, func() (domain.Term, error) {
		return b.inner.GetOrCreateTerm(ctx, category, value, groupID)
	})
}

func (b *Breaker) UpdateTermCounts(ctx context.Context, messageID, groupID string, terms []domain.Term) ([]domain.Term, error) {
	return guarded(b, func() ([]domain.Term, error) {
		return b.inner.UpdateTermCounts(ctx, messageID, groupID, terms)
	})
}

func (b *Breaker) GetTermFrequency(ctx context.Context) (domain.TermFrequency, error) {
	return guarded(b, func() (domain.TermFrequency, error) {
		return b.inner.GetTermFrequency(ctx)
	})
}

func (b *Breaker) ResetTermFrequency(ctx context.Context) error {
	return b.exec(func() error { return b.inner.ResetTermFrequency(ctx) })
}

func (b *Breaker) StoreObservation(ctx context.Context, obs domain.Observation) (bool, error) {
	return guarded(b, func() (bool, error) {
		return b.inner.StoreObservation(ctx, obs)
	})
}

func (b *Breaker) GetObservations(ctx context.Context, userID, messageID string, obsType domain.ObservationType) ([]domain.Observation, error) {
	return guarded(b, func() ([]domain.Observation, error) {
		return b.inner.GetObservations(ctx, userID, messageID, obsType)
	})
}

func (b *Breaker) StoreMessage(ctx context.Context, msg domain.Message) error {
	return b.exec(func() error { return b.inner.StoreMessage(ctx, msg) })
}

func (b *Breaker) StoreMessageRelation(ctx context.Context, rel domain.MessageRelation) error {
	return b.exec(func() error { return b.inner.StoreMessageRelation(ctx, rel) })
}

func (b *Breaker) GetMessage(ctx context.Context, globalID string) (domain.Message, error) {
	return guarded(b, func() (domain.Message, error) {
		return b.inner.GetMessage(ctx, globalID)
	})
}

func (b *Breaker) GetMessagesByIDs(ctx context.Context, globalIDs []string) ([]domain.Message, error) {
	return guarded(b, func() ([]domain.Message, error) {
		return b.inner.GetMessagesByIDs(ctx, globalIDs)
	})
}

func (b *Breaker) GetMessagesSince(ctx context.Context, since time.Time, groupID string) ([]domain.Message, error) {
	return guarded(b, func() ([]domain.Message, error) {
		return b.inner.GetMessagesSince(ctx, since, groupID)
	})
}

func (b *Breaker) StoreScores(ctx context.Context, scores []domain.UserMessageScore) error {
	return b.exec(func() error { return b.inner.StoreScores(ctx, scores) })
}

func (b *Breaker) StoreFeatures(ctx context.Context, features []domain.MessageFeature) error {
	return b.exec(func() error { return b.inner.StoreFeatures(ctx, features) })
}
