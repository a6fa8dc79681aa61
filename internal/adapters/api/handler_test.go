package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chi "github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"stream-recommender/internal/adapters/terms"
	"stream-recommender/internal/domain"
)

type memQueue struct {
	jobs []domain.Job
	err  error
}

func (q *memQueue) Enqueue(_ context.Context, job domain.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Receive(context.Context) (domain.Job, domain.AckFunc, error) {
	return domain.Job{}, nil, errors.New("not implemented")
}

type stubScorer struct {
	got domain.Message
}

func (s *stubScorer) Score(_ context.Context, msg domain.Message, _ *domain.MessageRelation, userIDs []string, _ bool) (domain.ScoringResult, error) {
	s.got = msg
	res := domain.ScoringResult{MessageID: msg.GlobalID}
	for _, u := range userIDs {
		res.Scores = append(res.Scores, domain.UserMessageScore{MessageID: msg.GlobalID, UserID: u, Score: 0.5, InteractionLevel: domain.InteractionNone})
	}
	return res, nil
}

func (s *stubScorer) ConfigurationDescriptions() map[string]string {
	return map[string]string{"similarity": "cosine"}
}

func newRouter(q *memQueue, s *stubScorer) http.Handler {
	r := chi.NewRouter()
	NewHandler(q, s, terms.NewSimple(0), zerolog.Nop()).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

const validMessage = `{"message":{"global_id":"m1","author_id":"alice","parts":[{"mime_type":"text/plain","content":"redis streams #golang"}]},"user_ids":["bob"]}`

func TestEnqueueMessage(t *testing.T) {
	q := &memQueue{}
	rec := do(t, newRouter(q, &stubScorer{}), http.MethodPost, "/api/v1/messages", validMessage)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.jobs) != 1 {
		t.Fatalf("ожидали одну задачу, получили %d", len(q.jobs))
	}
	job := q.jobs[0]
	if job.Kind != domain.JobKindScore || job.ID == "" || job.Score == nil {
		t.Fatalf("unexpected job %+v", job)
	}
	msg := job.Score.Message
	if len(msg.Parts[0].ScoredTerms) == 0 {
		t.Fatalf("термы должны выделяться при приёме")
	}
	if msg.Property(domain.PropertyTags) != "golang" {
		t.Fatalf("ожидали тег golang, получили %q", msg.Property(domain.PropertyTags))
	}
	if msg.PublicationDate.IsZero() {
		t.Fatalf("дата публикации заполняется по умолчанию")
	}
}

func TestEnqueueMessageValidation(t *testing.T) {
	cases := map[string]string{
		"broken json":  `{"message":`,
		"no global id": `{"message":{"author_id":"a","parts":[{"content":"x"}]}}`,
		"no parts":     `{"message":{"global_id":"m","author_id":"a"}}`,
		"empty user":   `{"message":{"global_id":"m","author_id":"a","parts":[{"content":"x"}]},"user_ids":[""]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			q := &memQueue{}
			rec := do(t, newRouter(q, &stubScorer{}), http.MethodPost, "/api/v1/messages", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("ожидали 400, получили %d", rec.Code)
			}
			if len(q.jobs) != 0 {
				t.Fatalf("задача не должна ставиться")
			}
		})
	}
}

func TestEnqueueQueueFailure(t *testing.T) {
	q := &memQueue{err: errors.New("redis down")}
	rec := do(t, newRouter(q, &stubScorer{}), http.MethodPost, "/api/v1/messages", validMessage)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидали 503, получили %d", rec.Code)
	}
}

func TestScoreMessageSync(t *testing.T) {
	s := &stubScorer{}
	rec := do(t, newRouter(&memQueue{}, s), http.MethodPost, "/api/v1/messages/score", validMessage)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var resp scoreResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if resp.MessageID != "m1" || len(resp.Scores) != 1 || resp.Scores[0].UserID != "bob" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if s.got.GlobalID != "m1" {
		t.Fatalf("сервис оценки не вызван")
	}
}

func TestEnqueueObservation(t *testing.T) {
	q := &memQueue{}
	h := newRouter(q, &stubScorer{})

	rec := do(t, h, http.MethodPost, "/api/v1/observations", `{"user_id":"bob","message_id":"m1","type":"LIKE","interest":"HIGH"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d: %s", rec.Code, rec.Body.String())
	}
	obs := q.jobs[0].Learn.Observation
	if obs.Interest != domain.InterestHigh || obs.Priority != domain.ObservationPriorityFirst || obs.ObservationDate.IsZero() {
		t.Fatalf("unexpected observation %+v", obs)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/observations", `{"user_id":"bob","message_id":"m1","type":"SHARE","interest":"HIGH"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("неизвестный тип наблюдения, ожидали 400, получили %d", rec.Code)
	}
}

func TestStrategies(t *testing.T) {
	rec := do(t, newRouter(&memQueue{}, &stubScorer{}), http.MethodGet, "/api/v1/strategies", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "cosine") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
