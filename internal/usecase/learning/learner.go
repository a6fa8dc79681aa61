package learning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stream-recommender/internal/chain"
	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/metrics"
)

// Store — хранилище, которое нужно обучению.
type Store interface {
	domain.UserModelRepo
	domain.MessageRepo
	domain.ObservationRepo
	GetOrCreateTerm(ctx context.Context, category, value, groupID string) (domain.Term, error)
}

// Context — контекст обучения по одному наблюдению.
type Context struct {
	Observation domain.Observation
	// Message можно передать заранее, иначе оно загружается из хранилища.
	Message *domain.Message

	Created int
	Updated int
	Removed int
}

// Learner обновляет модель пользователя по наблюдениям.
type Learner struct {
	store    Store
	strategy Strategy
	log      zerolog.Logger
	locks    *userLocks
	chain    *chain.Chain[*Context]
}

// NewLearner создаёт обучающий компонент.
func NewLearner(store Store, strategy Strategy, logger zerolog.Logger) *Learner {
	l := &Learner{
		store:    store,
		strategy: strategy,
		log:      logger.With().Str("component", "learner").Logger(),
		locks:    newUserLocks(),
	}
	l.chain = chain.New[*Context]("learning", l.log,
		chain.Named("check-observation", l.checkObservation),
		chain.Named("load-message", l.loadMessage),
		chain.Named("resolve-terms", l.resolveTerms),
		l,
		chain.Named("record-observation", l.recordObservation),
	)
	return l
}

// Strategy возвращает стратегию интеграции.
func (l *Learner) Strategy() Strategy { return l.strategy }

// Learn обновляет модель и сохраняет наблюдение.
// Наблюдение записывается только после обновления модели, поэтому после сбоя
// повторная доставка снова его учтёт. Обучение одного пользователя выполняется последовательно.
func (l *Learner) Learn(ctx context.Context, obs domain.Observation, msg *domain.Message) (*Context, chain.Outcome) {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	lc := &Context{Observation: obs, Message: msg}
	if obs.UserID != "" {
		unlock := l.locks.Lock(obs.UserID)
		defer unlock()
	}
	return lc, chain.Run[*Context](ctx, l.chain, lc)
}

// checkObservation пропускает повторы и отзывы, которым нечего отменять.
// Состояние пары (пользователь, сообщение, тип) определяется последним наблюдением.
func (l *Learner) checkObservation(ctx context.Context, lc *Context) chain.Result {
	obs := lc.Observation
	if obs.UserID == "" || obs.MessageID == "" {
		return chain.Skip("observation without user or message")
	}
	history, err := l.store.GetObservations(ctx, obs.UserID, obs.MessageID, obs.Type)
	if err != nil {
		return chain.Fatal(fmt.Errorf("получение наблюдений: %w", err))
	}
	for _, h := range history {
		if h.ID == obs.ID {
			return chain.Skipf("duplicate observation %s", obs.ID)
		}
	}
	active := len(history) > 0 && !history[len(history)-1].Retraction
	switch {
	case obs.Retraction && !active:
		return chain.Skipf("retraction without observation %s/%s/%s", obs.UserID, obs.MessageID, obs.Type)
	case !obs.Retraction && active:
		return chain.Skipf("duplicate observation %s/%s/%s", obs.UserID, obs.MessageID, obs.Type)
	}
	return chain.Continue()
}

func (l *Learner) loadMessage(ctx context.Context, lc *Context) chain.Result {
	if lc.Message != nil {
		return chain.Continue()
	}
	msg, err := l.store.GetMessage(ctx, lc.Observation.MessageID)
	if err != nil {
		return chain.Fatal(fmt.Errorf("загрузка сообщения %s: %w", lc.Observation.MessageID, err))
	}
	lc.Message = &msg
	return chain.Continue()
}

// resolveTerms подставляет идентификаторы термам, сохранённым без них.
func (l *Learner) resolveTerms(ctx context.Context, lc *Context) chain.Result {
	msg := *lc.Message
	msg.Parts = make([]domain.MessagePart, len(lc.Message.Parts))
	for i, part := range lc.Message.Parts {
		part.ScoredTerms = append([]domain.ScoredTerm(nil), part.ScoredTerms...)
		msg.Parts[i] = part
	}
	lc.Message = &msg

	resolved := make(map[string]domain.Term)
	for i := range lc.Message.Parts {
		for j := range lc.Message.Parts[i].ScoredTerms {
			st := &lc.Message.Parts[i].ScoredTerms[j]
			if st.Term.ID != 0 {
				continue
			}
			key := st.Term.Key()
			t, ok := resolved[key]
			if !ok {
				var err error
				t, err = l.store.GetOrCreateTerm(ctx, st.Term.Category, st.Term.Value, st.Term.GroupID)
				if err != nil {
					return chain.Fatal(fmt.Errorf("получение терма %s: %w", key, err))
				}
				resolved[key] = t
			}
			st.Term.ID = t.ID
		}
	}
	return chain.Continue()
}

// Name реализует chain.Namer.
func (l *Learner) Name() string { return "integrate" }

// Process интегрирует наблюдение во все модели пользователя, которые оно питает.
func (l *Learner) Process(ctx context.Context, lc *Context) chain.Result {
	terms := lc.Message.DistinctScoredTerms()
	if len(terms) == 0 {
		return chain.Skip("message has no terms")
	}
	for _, modelType := range ModelTypes(lc.Observation.Type) {
		if res := l.integrate(ctx, lc, modelType, terms); !res.IsContinue() {
			return res
		}
	}

	obs := lc.Observation
	metrics.AddLearningEntries(metrics.EntryOpCreate, lc.Created)
	metrics.AddLearningEntries(metrics.EntryOpUpdate, lc.Updated)
	metrics.AddLearningEntries(metrics.EntryOpRemove, lc.Removed)
	l.log.Debug().
		Str("user", obs.UserID).
		Str("message", obs.MessageID).
		Str("type", string(obs.Type)).
		Bool("retraction", obs.Retraction).
		Int("created", lc.Created).
		Int("updated", lc.Updated).
		Int("removed", lc.Removed).
		Msg("learning: model updated")
	return chain.Continue()
}

func (l *Learner) integrate(ctx context.Context, lc *Context, modelType string, terms []domain.ScoredTerm) chain.Result {
	obs := lc.Observation
	model, err := l.store.GetOrCreateUserModel(ctx, obs.UserID, modelType)
	if err != nil {
		return chain.Fatal(fmt.Errorf("получение модели %s: %w", modelType, err))
	}
	keys := make([]string, 0, len(terms))
	for _, st := range terms {
		keys = append(keys, st.Term.Key())
	}
	existing, err := l.store.GetUserModelEntries(ctx, model, keys)
	if err != nil {
		return chain.Fatal(fmt.Errorf("получение записей модели: %w", err))
	}

	var store, remove []*domain.UserModelEntry
	var created, updated int
	for _, st := range terms {
		entry := existing[st.Term.Key()]
		if entry == nil {
			if obs.Retraction {
				continue
			}
			e, err := l.strategy.CreateNew(model, obs.Interest, st, obs.ObservationDate)
			if err != nil {
				return l.fatal(err)
			}
			if e != nil {
				store = append(store, e)
				created++
			}
			continue
		}

		var removeEntry bool
		if obs.Retraction {
			removeEntry, err = l.strategy.Disintegrate(entry, obs.Interest, st, obs.ObservationDate)
		} else {
			removeEntry, err = l.strategy.Integrate(entry, obs.Interest, st, obs.ObservationDate)
		}
		if err != nil {
			return l.fatal(err)
		}
		if removeEntry {
			remove = append(remove, entry)
			continue
		}
		store = append(store, entry)
		updated++
	}

	if len(store) > 0 {
		if err := l.store.StoreUserModelEntries(ctx, model, store); err != nil {
			return chain.Fatal(fmt.Errorf("сохранение записей модели: %w", err))
		}
	}
	if len(remove) > 0 {
		if err := l.store.RemoveUserModelEntries(ctx, model, remove); err != nil {
			return chain.Fatal(fmt.Errorf("удаление записей модели: %w", err))
		}
	}
	lc.Created += created
	lc.Updated += updated
	lc.Removed += len(remove)
	return chain.Continue()
}

func (l *Learner) recordObservation(ctx context.Context, lc *Context) chain.Result {
	created, err := l.store.StoreObservation(ctx, lc.Observation)
	if err != nil {
		return chain.Fatal(fmt.Errorf("сохранение наблюдения: %w", err))
	}
	if !created {
		l.log.Debug().Str("observation", lc.Observation.ID).Msg("learning: observation already recorded")
	}
	return chain.Continue()
}

// ModelTypes возвращает типы моделей, которые обучаются наблюдением данного типа.
// Упоминания и отметки дополнительно питают модель сотрудничества.
func ModelTypes(t domain.ObservationType) []string {
	switch t {
	case domain.ObservationMention, domain.ObservationLike:
		return []string{domain.UserModelTypePlain, domain.UserModelTypeCollaboration}
	default:
		return []string{domain.UserModelTypePlain}
	}
}

func (l *Learner) fatal(err error) chain.Result {
	if errors.Is(err, ErrTooManyBins) {
		l.log.Error().Err(err).Msg("learning: time bin overflow")
	}
	return chain.Fatal(err)
}

// Consolidate пересчитывает записи с отложенным пересчётом и возвращает число обработанных.
func (l *Learner) Consolidate(ctx context.Context, limit int) (int, error) {
	pending, err := l.store.ListEntriesNeedingConsolidation(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("выборка записей для пересчёта: %w", err)
	}
	for _, me := range pending {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		unlock := l.locks.Lock(me.Model.UserID)
		var opErr error
		if l.strategy.Consolidate(me.Entry) {
			opErr = l.store.RemoveUserModelEntries(ctx, me.Model, []*domain.UserModelEntry{me.Entry})
			metrics.AddLearningEntries(metrics.EntryOpRemove, 1)
		} else {
			opErr = l.store.StoreUserModelEntries(ctx, me.Model, []*domain.UserModelEntry{me.Entry})
			metrics.AddLearningEntries(metrics.EntryOpUpdate, 1)
		}
		unlock()
		if opErr != nil {
			return 0, fmt.Errorf("пересчёт записи %d: %w", me.Entry.ID, opErr)
		}
	}
	return len(pending), nil
}
