package scorer

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stream-recommender/internal/adapters/repo"
	"stream-recommender/internal/chain"
	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/clock"
	"stream-recommender/internal/usecase/aggregation"
	"stream-recommender/internal/usecase/learning"
	"stream-recommender/internal/usecase/similarity"
	"stream-recommender/internal/usecase/weighting"
)

type fakeCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (c *fakeCache) SeenBefore(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.seen[key] {
		return true, nil
	}
	c.seen[key] = true
	return false, nil
}

func (c *fakeCache) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, key)
	return nil
}

type failingStore struct {
	*repo.Memory
}

func (failingStore) StoreMessage(context.Context, domain.Message) error {
	return errors.New("db down")
}

type flakyScores struct {
	*repo.Memory
	failures int
}

func (s *flakyScores) StoreScores(ctx context.Context, scores []domain.UserMessageScore) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("db down")
	}
	return s.Memory.StoreScores(ctx, scores)
}

var (
	now    = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	termGo = domain.Term{Category: domain.TermCategoryKeyword, Value: "go"}
)

func newService(t *testing.T, store domain.Persistence, cache domain.Cache, validator aggregation.ThresholdValidator) *Service {
	t.Helper()
	fake := clock.NewFake(now)
	learner := learning.NewLearner(store, learning.TermCount{}, zerolog.Nop())
	svc, err := NewService(Deps{
		Store:      store,
		Cache:      cache,
		Weighting:  weighting.Trivial{},
		Similarity: similarity.Computer{Strategy: similarity.StrategyMax},
		Aggregator: aggregation.FixedWeight{Weights: map[domain.FeatureID]float64{
			domain.FeatureAuthor:       1,
			domain.FeatureMention:      0.5,
			domain.FeatureContentMatch: 1,
		}},
		Validator: validator,
		Learner:   learner,
		Clock:     fake,
		Workers:   2,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return svc
}

func message(id, author string, mentions string) domain.Message {
	msg := domain.Message{
		GlobalID:        id,
		AuthorID:        author,
		PublicationDate: now,
		Parts: []domain.MessagePart{{
			MimeType:    "text/plain",
			Content:     "go",
			ScoredTerms: []domain.ScoredTerm{{Term: termGo, Weight: 1}},
		}},
	}
	if mentions != "" {
		msg.SetProperty(domain.PropertyMentions, mentions)
	}
	return msg
}

func scoreOf(t *testing.T, scores []domain.UserMessageScore, userID string) domain.UserMessageScore {
	t.Helper()
	for _, s := range scores {
		if s.UserID == userID {
			return s
		}
	}
	t.Fatalf("нет оценки для %s", userID)
	return domain.UserMessageScore{}
}

func TestScoreAndLearn(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	svc := newService(t, mem, nil, aggregation.ThresholdValidator{})

	res, err := svc.Score(ctx, message("m1", "alice", "bob"), nil, []string{"alice", "bob", "carol"}, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Skipped || len(res.Scores) != 3 {
		t.Fatalf("ожидали 3 оценки, получили %+v", res)
	}
	if s := scoreOf(t, res.Scores, "alice"); s.Score != 1 || s.InteractionLevel != domain.InteractionDirect {
		t.Fatalf("unexpected alice score %+v", s)
	}
	if s := scoreOf(t, res.Scores, "bob"); s.Score != 0.5 || s.InteractionLevel != domain.InteractionDirect {
		t.Fatalf("unexpected bob score %+v", s)
	}
	if s := scoreOf(t, res.Scores, "carol"); s.Score != 0 || s.InteractionLevel != domain.InteractionNone {
		t.Fatalf("unexpected carol score %+v", s)
	}
	if len(mem.Scores()) != 3 || len(mem.Features()) == 0 {
		t.Fatalf("оценки и признаки должны сохраняться")
	}

	tf, _ := mem.GetTermFrequency(ctx)
	if tf.AllMessageCount != 1 {
		t.Fatalf("ожидали 1 сообщение в статистике, получили %d", tf.AllMessageCount)
	}
	if entries := mem.Entries("bob", domain.UserModelTypePlain); len(entries) != 1 || entries[0].ScoredTerm.Weight != 0.75 {
		t.Fatalf("упоминание должно обучить модель bob: %+v", entries)
	}

	res, err = svc.Score(ctx, message("m2", "dave", ""), nil, []string{"bob"}, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if s := scoreOf(t, res.Scores, "bob"); math.Abs(s.Score-0.75) > 1e-9 {
		t.Fatalf("ожидали совпадение по содержимому 0.75, получили %+v", s)
	}
}

func TestScoreSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	svc := newService(t, mem, &fakeCache{}, aggregation.ThresholdValidator{})

	if _, err := svc.Score(ctx, message("m1", "alice", ""), nil, []string{"alice"}, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := svc.Score(ctx, message("m1", "alice", ""), nil, []string{"alice"}, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("повторное сообщение должно пропускаться")
	}
	if len(mem.Scores()) != 1 {
		t.Fatalf("ожидали одну сохранённую оценку, получили %d", len(mem.Scores()))
	}
}

func TestScoreLearnOnly(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	svc := newService(t, mem, nil, aggregation.ThresholdValidator{})

	res, err := svc.Score(ctx, message("m1", "alice", ""), nil, []string{"alice"}, true)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Scores) != 0 || len(mem.Scores()) != 0 {
		t.Fatalf("в режиме обучения оценки не сохраняются")
	}
	if len(mem.Entries("alice", domain.UserModelTypePlain)) != 1 {
		t.Fatalf("обучение должно выполняться")
	}
}

func TestScoreThresholdGate(t *testing.T) {
	mem := repo.NewMemory()
	validator := aggregation.ThresholdValidator{Min: map[domain.FeatureID]float64{domain.FeatureAuthor: 1}}
	svc := newService(t, mem, nil, validator)

	res, err := svc.Score(context.Background(), message("m1", "alice", ""), nil, []string{"alice", "carol"}, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Scores) != 1 || res.Scores[0].UserID != "alice" {
		t.Fatalf("ожидали только оценку автора, получили %+v", res.Scores)
	}
}

func TestScoreLoadsDiscussion(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	svc := newService(t, mem, nil, aggregation.ThresholdValidator{})

	if _, err := svc.Score(ctx, message("root", "erin", ""), nil, nil, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	rel := &domain.MessageRelation{RootMessageID: "root", RelatedMessageIDs: []string{"root"}}
	res, err := svc.Score(ctx, message("reply", "alice", ""), rel, []string{"erin"}, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if s := scoreOf(t, res.Scores, "erin"); s.InteractionLevel != domain.InteractionIndirect {
		t.Fatalf("erin участвует в обсуждении, получили %+v", s)
	}
}

func TestScorePersistenceFailureIsFatal(t *testing.T) {
	svc := newService(t, failingStore{repo.NewMemory()}, nil, aggregation.ThresholdValidator{})
	_, err := svc.Score(context.Background(), message("m1", "alice", ""), nil, []string{"alice"}, false)
	if !chain.IsFatal(err) {
		t.Fatalf("ожидали фатальную ошибку, получили %v", err)
	}
}

func TestScoreFailureForgetsDuplicateMark(t *testing.T) {
	cache := &fakeCache{}
	svc := newService(t, failingStore{repo.NewMemory()}, cache, aggregation.ThresholdValidator{})
	if _, err := svc.Score(context.Background(), message("m1", "alice", ""), nil, []string{"alice"}, false); err == nil {
		t.Fatalf("ожидали ошибку")
	}
	if cache.seen["scored:m1"] {
		t.Fatalf("после ошибки сообщение должно обрабатываться повторно")
	}
}

func termCount(t *testing.T, mem domain.Persistence, term domain.Term) int64 {
	t.Helper()
	stored, err := mem.GetOrCreateTerm(context.Background(), term.Category, term.Value, term.GroupID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return stored.Count
}

func TestScoreRetryCountsMessageOnce(t *testing.T) {
	ctx := context.Background()
	store := &flakyScores{Memory: repo.NewMemory(), failures: 1}
	svc := newService(t, store, &fakeCache{}, aggregation.ThresholdValidator{})

	if _, err := svc.Score(ctx, message("m1", "alice", ""), nil, []string{"alice"}, false); !chain.IsFatal(err) {
		t.Fatalf("ожидали фатальную ошибку, получили %v", err)
	}
	res, err := svc.Score(ctx, message("m1", "alice", ""), nil, []string{"alice"}, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Skipped || len(res.Scores) != 1 {
		t.Fatalf("повторная доставка должна оцениваться, получили %+v", res)
	}

	tf, _ := store.GetTermFrequency(ctx)
	if tf.AllMessageCount != 1 {
		t.Fatalf("сообщение должно учитываться один раз, получили %d", tf.AllMessageCount)
	}
	if n := termCount(t, store, termGo); n != 1 {
		t.Fatalf("терм должен учитываться один раз, получили %d", n)
	}
	if entries := store.Entries("alice", domain.UserModelTypePlain); len(entries) != 1 {
		t.Fatalf("модель автора должна обучиться один раз: %+v", entries)
	}
}

func TestRebuildStatisticsKeepsWindow(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	svc := newService(t, mem, nil, aggregation.ThresholdValidator{})

	old := message("old", "alice", "")
	old.PublicationDate = now.Add(-48 * time.Hour)
	if _, err := svc.Score(ctx, old, nil, nil, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	fresh := message("fresh", "bob", "")
	fresh.PublicationDate = now.Add(-time.Hour)
	if _, err := svc.Score(ctx, fresh, nil, nil, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n := termCount(t, mem, termGo); n != 2 {
		t.Fatalf("ожидали счётчик 2 до пересчёта, получили %d", n)
	}

	for i := 0; i < 2; i++ {
		n, err := svc.RebuildStatistics(ctx, 24*time.Hour)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if n != 1 {
			t.Fatalf("в окно попадает одно сообщение, учтено %d", n)
		}
		tf, _ := mem.GetTermFrequency(ctx)
		if tf.AllMessageCount != 1 {
			t.Fatalf("ожидали 1 сообщение в статистике, получили %d", tf.AllMessageCount)
		}
		if c := termCount(t, mem, termGo); c != 1 {
			t.Fatalf("ожидали счётчик 1 после пересчёта, получили %d", c)
		}
	}

	if _, err := svc.RebuildStatistics(ctx, 0); err == nil {
		t.Fatalf("ожидали ошибку для пустого окна")
	}
}

func TestConfigurationDescriptions(t *testing.T) {
	svc := newService(t, repo.NewMemory(), nil, aggregation.ThresholdValidator{})
	desc := svc.ConfigurationDescriptions()
	for _, key := range []string{"term_weighting", "similarity", "aggregation", "integration_strategy", "threshold_validator"} {
		if desc[key] == "" {
			t.Fatalf("нет описания %s", key)
		}
	}
}
