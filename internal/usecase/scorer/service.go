// Package scorer оценивает сообщения для пользователей и обучает их модели.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stream-recommender/internal/chain"
	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/clock"
	"stream-recommender/internal/infra/metrics"
	"stream-recommender/internal/usecase/aggregation"
	"stream-recommender/internal/usecase/features"
	"stream-recommender/internal/usecase/learning"
	"stream-recommender/internal/usecase/similarity"
	"stream-recommender/internal/usecase/weighting"
)

const defaultDuplicateTTL = 24 * time.Hour

// Deps — зависимости сервиса оценки.
type Deps struct {
	Store      domain.Persistence
	Cache      domain.Cache
	Stats      *weighting.Stats
	Weighting  weighting.Strategy
	Similarity similarity.Computer
	Aggregator aggregation.Aggregator
	Validator  aggregation.ThresholdValidator
	Learner    *learning.Learner
	Registry   domain.FeatureRegistry
	Clock      clock.Clock

	// Workers ограничивает параллельную оценку пользователей одного сообщения.
	Workers      int
	DuplicateTTL time.Duration
}

// Service управляет цепочкой оценки сообщения.
type Service struct {
	store      domain.Persistence
	cache      domain.Cache
	stats      *weighting.Stats
	weighting  weighting.Strategy
	similarity similarity.Computer
	aggregator aggregation.Aggregator
	validator  aggregation.ThresholdValidator
	learner    *learning.Learner
	registry   domain.FeatureRegistry
	clock      clock.Clock
	workers    int
	dupTTL     time.Duration

	log      zerolog.Logger
	features *chain.Chain[*features.UserContext]
	pipeline *chain.Chain[*scoringContext]
}

// scoringContext — общий контекст верхней цепочки.
type scoringContext struct {
	message   features.MessageContext
	learnOnly bool
	scores    []domain.UserMessageScore
	rows      []domain.MessageFeature
}

// NewService собирает сервис; Store, Learner и Aggregator обязательны.
func NewService(deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("scorer: store is required")
	}
	if deps.Learner == nil {
		return nil, errors.New("scorer: learner is required")
	}
	if deps.Aggregator == nil {
		return nil, errors.New("scorer: aggregator is required")
	}
	if deps.Stats == nil {
		deps.Stats = weighting.NewStats(domain.TermFrequency{})
	}
	if deps.Weighting == nil {
		deps.Weighting = weighting.Trivial{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Similarity.Clock == nil {
		deps.Similarity.Clock = deps.Clock
	}
	if len(deps.Registry.Features()) == 0 {
		deps.Registry = domain.DefaultFeatureRegistry()
	}
	if deps.Workers <= 0 {
		deps.Workers = 4
	}
	if deps.DuplicateTTL <= 0 {
		deps.DuplicateTTL = defaultDuplicateTTL
	}

	s := &Service{
		store:      deps.Store,
		cache:      deps.Cache,
		stats:      deps.Stats,
		weighting:  deps.Weighting,
		similarity: deps.Similarity,
		aggregator: deps.Aggregator,
		validator:  deps.Validator,
		learner:    deps.Learner,
		registry:   deps.Registry,
		clock:      deps.Clock,
		workers:    deps.Workers,
		dupTTL:     deps.DuplicateTTL,
		log:        logger.With().Str("component", "scorer").Logger(),
	}
	s.features = features.NewChain(s.log, s.registry, features.Dependencies{
		Models:     s.store,
		Weighting:  s.weighting,
		Similarity: s.similarity,
	})
	s.pipeline = chain.New[*scoringContext]("scoring", s.log,
		chain.Named("duplicate-check", s.checkDuplicate),
		chain.Named("persist-message", s.persistMessage),
		chain.Named("term-counts", s.updateTermCounts),
		chain.Named("score-users", s.scoreUsers),
		chain.Named("persist-scores", s.persistScores),
		chain.Named("learn", s.learnFromMessage),
	)
	return s, nil
}

// Score оценивает сообщение для перечисленных пользователей.
// learnOnly отключает оценку и сохранение оценок, обучение выполняется.
func (s *Service) Score(ctx context.Context, msg domain.Message, relation *domain.MessageRelation, userIDs []string, learnOnly bool) (domain.ScoringResult, error) {
	defer metrics.ObserveScoring(time.Now())

	sc := &scoringContext{
		message: features.MessageContext{
			Message:  msg,
			Relation: relation,
			UserIDs:  userIDs,
			Registry: s.registry,
		},
		learnOnly: learnOnly,
	}
	out := chain.Run[*scoringContext](ctx, s.pipeline, sc)
	result := domain.ScoringResult{
		MessageID:  msg.GlobalID,
		Scores:     sc.scores,
		Skipped:    out.Skipped,
		SkipReason: out.Reason,
	}
	if out.Err != nil {
		s.log.Error().Err(out.Err).Str("message", msg.GlobalID).Msg("scorer: ошибка оценки сообщения")
		if s.cache != nil && msg.GlobalID != "" {
			if err := s.cache.Forget(context.WithoutCancel(ctx), duplicateKey(msg.GlobalID)); err != nil {
				s.log.Warn().Err(err).Str("message", msg.GlobalID).Msg("scorer: не удалось снять отметку повтора")
			}
		}
		return result, out.Err
	}
	if out.Skipped {
		s.log.Info().Str("message", msg.GlobalID).Str("reason", out.Reason).Msg("scorer: сообщение пропущено")
	}
	return result, nil
}

// Learn обучает модель пользователя по одному наблюдению.
func (s *Service) Learn(ctx context.Context, obs domain.Observation) error {
	_, out := s.learner.Learn(ctx, obs, nil)
	if out.Skipped {
		s.log.Debug().Str("user", obs.UserID).Str("reason", out.Reason).Msg("scorer: наблюдение пропущено")
	}
	return out.Err
}

// RefreshStatistics перечитывает корпусную статистику из хранилища.
func (s *Service) RefreshStatistics(ctx context.Context) (domain.TermFrequency, error) {
	tf, err := s.store.GetTermFrequency(ctx)
	if err != nil {
		return domain.TermFrequency{}, fmt.Errorf("получение статистики термов: %w", err)
	}
	s.stats.Update(tf)
	return tf, nil
}

// RebuildStatistics пересчитывает корпусную статистику по сообщениям за окно window
// и возвращает число учтённых сообщений. Более старые сообщения перестают влиять на веса термов.
func (s *Service) RebuildStatistics(ctx context.Context, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, fmt.Errorf("окно пересчёта статистики должно быть положительным, получено %s", window)
	}
	since := s.clock.Now().Add(-window)
	messages, err := s.store.GetMessagesSince(ctx, since, "")
	if err != nil {
		return 0, fmt.Errorf("выборка сообщений с %s: %w", since.Format(time.RFC3339), err)
	}
	if err := s.store.ResetTermFrequency(ctx); err != nil {
		return 0, fmt.Errorf("сброс статистики термов: %w", err)
	}
	for i, msg := range messages {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		distinct := msg.DistinctScoredTerms()
		terms := make([]domain.Term, 0, len(distinct))
		for _, st := range distinct {
			terms = append(terms, st.Term)
		}
		if _, err := s.store.UpdateTermCounts(ctx, msg.GlobalID, msg.GroupID, terms); err != nil {
			return i, fmt.Errorf("учёт сообщения %s: %w", msg.GlobalID, err)
		}
	}
	if _, err := s.RefreshStatistics(ctx); err != nil {
		return len(messages), err
	}
	s.log.Info().Int("messages", len(messages)).Time("since", since).Msg("scorer: статистика термов пересчитана")
	return len(messages), nil
}

// Consolidate выполняет отложенный пересчёт записей моделей.
func (s *Service) Consolidate(ctx context.Context, limit int) (int, error) {
	return s.learner.Consolidate(ctx, limit)
}

// ConfigurationDescriptions описывает все подключённые стратегии.
func (s *Service) ConfigurationDescriptions() map[string]string {
	return map[string]string{
		"term_weighting":       s.weighting.ConfigurationDescription(),
		"similarity":           s.similarity.ConfigurationDescription(),
		"aggregation":          s.aggregator.ConfigurationDescription(),
		"integration_strategy": s.learner.Strategy().ConfigurationDescription(),
		"threshold_validator":  s.validator.ConfigurationDescription(),
	}
}

func duplicateKey(messageID string) string {
	return "scored:" + messageID
}

func (s *Service) checkDuplicate(ctx context.Context, sc *scoringContext) chain.Result {
	msg := sc.message.Message
	if msg.GlobalID == "" {
		return chain.Skip("message without global id")
	}
	if s.cache == nil {
		return chain.Continue()
	}
	seen, err := s.cache.SeenBefore(ctx, duplicateKey(msg.GlobalID), s.dupTTL)
	if err != nil {
		s.log.Warn().Err(err).Str("message", msg.GlobalID).Msg("scorer: кэш недоступен, проверка повторов пропущена")
		return chain.Continue()
	}
	if seen {
		return chain.Skipf("duplicate message %s", msg.GlobalID)
	}
	return chain.Continue()
}

func (s *Service) persistMessage(ctx context.Context, sc *scoringContext) chain.Result {
	mc := &sc.message
	if err := s.store.StoreMessage(ctx, mc.Message); err != nil {
		return chain.Fatal(fmt.Errorf("сохранение сообщения: %w", err))
	}
	if mc.Relation == nil {
		return chain.Continue()
	}
	if mc.Relation.MessageID == "" {
		mc.Relation.MessageID = mc.Message.GlobalID
	}
	if err := s.store.StoreMessageRelation(ctx, *mc.Relation); err != nil {
		return chain.Fatal(fmt.Errorf("сохранение связи сообщения: %w", err))
	}
	ids := make([]string, 0, len(mc.Relation.RelatedMessageIDs))
	for _, id := range mc.Relation.RelatedMessageIDs {
		if id != "" && id != mc.Message.GlobalID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return chain.Continue()
	}
	related, err := s.store.GetMessagesByIDs(ctx, ids)
	if err != nil {
		return chain.Fatal(fmt.Errorf("загрузка обсуждения: %w", err))
	}
	mc.RelatedMessages = related
	return chain.Continue()
}

// updateTermCounts увеличивает счётчики термов и подставляет актуальные счётчики в сообщение.
func (s *Service) updateTermCounts(ctx context.Context, sc *scoringContext) chain.Result {
	msg := &sc.message.Message
	distinct := msg.DistinctScoredTerms()
	terms := make([]domain.Term, 0, len(distinct))
	for _, st := range distinct {
		terms = append(terms, st.Term)
	}
	updated, err := s.store.UpdateTermCounts(ctx, msg.GlobalID, msg.GroupID, terms)
	if err != nil {
		return chain.Fatal(fmt.Errorf("обновление счётчиков термов: %w", err))
	}
	byKey := make(map[string]domain.Term, len(updated))
	for _, t := range updated {
		byKey[t.Key()] = t
	}
	for i := range msg.Parts {
		for j := range msg.Parts[i].ScoredTerms {
			st := &msg.Parts[i].ScoredTerms[j]
			if t, ok := byKey[st.Term.Key()]; ok {
				st.Term = t
			}
		}
	}
	if _, err := s.RefreshStatistics(ctx); err != nil {
		return chain.Fatal(err)
	}
	return chain.Continue()
}

type userResult struct {
	score    domain.UserMessageScore
	rows     []domain.MessageFeature
	accepted bool
}

func (s *Service) scoreUsers(ctx context.Context, sc *scoringContext) chain.Result {
	if sc.learnOnly || len(sc.message.UserIDs) == 0 {
		return chain.Continue()
	}
	mc := &sc.message
	now := s.clock.Now()
	results := make([]userResult, len(mc.UserIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, userID := range mc.UserIDs {
		i, userID := i, userID
		g.Go(func() error {
			uc := features.NewUserContext(mc, userID)
			out := chain.Run[*features.UserContext](gctx, s.features, uc)
			if out.Err != nil {
				return out.Err
			}
			fa := *uc.Aggregate
			results[i] = userResult{
				score: domain.UserMessageScore{
					MessageID:        mc.Message.GlobalID,
					UserID:           userID,
					Score:            s.aggregator.Aggregate(fa),
					InteractionLevel: fa.InteractionLevel,
					ScoredAt:         now,
				},
				rows:     fa.List(s.registry),
				accepted: s.validator.Validate(fa),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return chain.Fatal(fmt.Errorf("вычисление признаков: %w", err))
	}

	for _, r := range results {
		sc.rows = append(sc.rows, r.rows...)
		if !r.accepted {
			s.log.Debug().Str("user", r.score.UserID).Str("message", r.score.MessageID).Msg("scorer: оценка ниже порогов")
			continue
		}
		sc.scores = append(sc.scores, r.score)
		metrics.IncScore(string(r.score.InteractionLevel))
	}
	return chain.Continue()
}

func (s *Service) persistScores(ctx context.Context, sc *scoringContext) chain.Result {
	if sc.learnOnly {
		return chain.Continue()
	}
	if len(sc.scores) > 0 {
		if err := s.store.StoreScores(ctx, sc.scores); err != nil {
			return chain.Fatal(fmt.Errorf("сохранение оценок: %w", err))
		}
	}
	if len(sc.rows) > 0 {
		if err := s.store.StoreFeatures(ctx, sc.rows); err != nil {
			return chain.Fatal(fmt.Errorf("сохранение признаков: %w", err))
		}
	}
	return chain.Continue()
}

func (s *Service) learnFromMessage(ctx context.Context, sc *scoringContext) chain.Result {
	msg := sc.message.Message
	for _, obs := range learning.ObservationsFromMessage(msg, s.clock.Now()) {
		_, out := s.learner.Learn(ctx, obs, &msg)
		if out.Err != nil {
			return chain.Fatal(fmt.Errorf("обучение по наблюдению %s: %w", obs.Type, out.Err))
		}
	}
	return chain.Continue()
}
