// Package api принимает сообщения и наблюдения по HTTP и ставит задачи в очередь.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/clock"
)

// Scorer — синхронный интерфейс сервиса оценки.
type Scorer interface {
	Score(ctx context.Context, msg domain.Message, relation *domain.MessageRelation, userIDs []string, learnOnly bool) (domain.ScoringResult, error)
	ConfigurationDescriptions() map[string]string
}

// Extractor дополняет сообщение термами.
type Extractor interface {
	Extract(msg *domain.Message)
}

const maxBodyBytes = 1 << 20

// Handler обслуживает HTTP API.
type Handler struct {
	log       zerolog.Logger
	jobs      domain.JobQueue
	scorer    Scorer
	extractor Extractor
	clock     clock.Clock
	validate  *validator.Validate
}

// NewHandler создаёт обработчик; extractor может быть nil.
func NewHandler(jobs domain.JobQueue, scorer Scorer, extractor Extractor, logger zerolog.Logger) *Handler {
	return &Handler{
		log:       logger.With().Str("component", "api").Logger(),
		jobs:      jobs,
		scorer:    scorer,
		extractor: extractor,
		clock:     clock.Real{},
		validate:  validator.New(),
	}
}

// Routes регистрирует маршруты в r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", h.enqueueMessage)
		r.Post("/messages/score", h.scoreMessage)
		r.Post("/observations", h.enqueueObservation)
		r.Get("/strategies", h.strategies)
	})
}

type messagePartRequest struct {
	MimeType    string              `json:"mime_type"`
	Content     string              `json:"content"`
	ScoredTerms []domain.ScoredTerm `json:"scored_terms"`
}

type messageRequest struct {
	GlobalID        string               `json:"global_id" validate:"required"`
	SourceID        string               `json:"source_id"`
	GroupID         string               `json:"group_id"`
	AuthorID        string               `json:"author_id" validate:"required"`
	PublicationDate time.Time            `json:"publication_date"`
	Parts           []messagePartRequest `json:"parts" validate:"required,min=1,dive"`
	Properties      map[string]string    `json:"properties"`
}

type relationRequest struct {
	RootMessageID     string   `json:"root_message_id"`
	RelatedMessageIDs []string `json:"related_message_ids" validate:"dive,required"`
}

type scoreRequest struct {
	Message   messageRequest   `json:"message"`
	Relation  *relationRequest `json:"relation"`
	UserIDs   []string         `json:"user_ids" validate:"dive,required"`
	LearnOnly bool             `json:"learn_only"`
}

type observationRequest struct {
	UserID     string    `json:"user_id" validate:"required"`
	MessageID  string    `json:"message_id" validate:"required"`
	Type       string    `json:"type" validate:"required,oneof=MESSAGE LIKE MENTION RATING"`
	Interest   string    `json:"interest" validate:"required"`
	Priority   int       `json:"priority" validate:"gte=0,lte=3"`
	ObservedAt time.Time `json:"observed_at"`
	Retraction bool      `json:"retraction"`
}

func (h *Handler) decodeScoreRequest(w http.ResponseWriter, r *http.Request) (domain.ScoreJob, bool) {
	var req scoreRequest
	if !h.decode(w, r, &req) {
		return domain.ScoreJob{}, false
	}
	msg := domain.Message{
		GlobalID:        req.Message.GlobalID,
		SourceID:        req.Message.SourceID,
		GroupID:         req.Message.GroupID,
		AuthorID:        req.Message.AuthorID,
		PublicationDate: req.Message.PublicationDate,
		Properties:      req.Message.Properties,
	}
	if msg.PublicationDate.IsZero() {
		msg.PublicationDate = h.clock.Now()
	}
	for _, p := range req.Message.Parts {
		msg.Parts = append(msg.Parts, domain.MessagePart{MimeType: p.MimeType, Content: p.Content, ScoredTerms: p.ScoredTerms})
	}
	if h.extractor != nil {
		h.extractor.Extract(&msg)
	}
	job := domain.ScoreJob{Message: msg, UserIDs: req.UserIDs, LearnOnly: req.LearnOnly}
	if req.Relation != nil {
		job.Relation = &domain.MessageRelation{
			MessageID:         msg.GlobalID,
			RootMessageID:     req.Relation.RootMessageID,
			RelatedMessageIDs: req.Relation.RelatedMessageIDs,
		}
	}
	return job, true
}

func (h *Handler) enqueueMessage(w http.ResponseWriter, r *http.Request) {
	scoreJob, ok := h.decodeScoreRequest(w, r)
	if !ok {
		return
	}
	job := domain.Job{
		ID:          uuid.NewString(),
		Kind:        domain.JobKindScore,
		Score:       &scoreJob,
		RequestedAt: h.clock.Now(),
	}
	h.enqueue(w, r, job)
}

func (h *Handler) scoreMessage(w http.ResponseWriter, r *http.Request) {
	scoreJob, ok := h.decodeScoreRequest(w, r)
	if !ok {
		return
	}
	res, err := h.scorer.Score(r.Context(), scoreJob.Message, scoreJob.Relation, scoreJob.UserIDs, scoreJob.LearnOnly)
	if err != nil {
		h.log.Error().Err(err).Str("message", scoreJob.Message.GlobalID).Msg("api: ошибка оценки")
		writeError(w, http.StatusInternalServerError, "scoring failed")
		return
	}
	writeJSON(w, http.StatusOK, scoringResponse(res))
}

func (h *Handler) enqueueObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if !h.decode(w, r, &req) {
		return
	}
	interest, err := domain.ParseInterest(req.Interest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := h.clock.Now()
	obs := domain.Observation{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Type:            domain.ObservationType(req.Type),
		MessageID:       req.MessageID,
		ObservationDate: req.ObservedAt,
		Priority:        domain.ObservationPriority(req.Priority),
		Interest:        interest,
		Retraction:      req.Retraction,
	}
	if obs.ObservationDate.IsZero() {
		obs.ObservationDate = now
	}
	if obs.Priority == 0 {
		obs.Priority = domain.ObservationPriorityFirst
	}
	job := domain.Job{
		ID:          uuid.NewString(),
		Kind:        domain.JobKindLearn,
		Learn:       &domain.LearnJob{Observation: obs},
		RequestedAt: now,
	}
	h.enqueue(w, r, job)
}

func (h *Handler) strategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.scorer.ConfigurationDescriptions())
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, job domain.Job) {
	if err := h.jobs.Enqueue(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("api: не удалось поставить задачу")
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+": "+fe.Tag())
			}
			writeError(w, http.StatusBadRequest, "validation failed: "+strings.Join(fields, "; "))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

type scoreItem struct {
	UserID           string  `json:"user_id"`
	Score            float64 `json:"score"`
	InteractionLevel string  `json:"interaction_level"`
}

type scoreResponse struct {
	MessageID  string      `json:"message_id"`
	Skipped    bool        `json:"skipped"`
	SkipReason string      `json:"skip_reason,omitempty"`
	Scores     []scoreItem `json:"scores"`
}

func scoringResponse(res domain.ScoringResult) scoreResponse {
	out := scoreResponse{
		MessageID:  res.MessageID,
		Skipped:    res.Skipped,
		SkipReason: res.SkipReason,
		Scores:     make([]scoreItem, 0, len(res.Scores)),
	}
	for _, s := range res.Scores {
		out.Scores = append(out.Scores, scoreItem{UserID: s.UserID, Score: s.Score, InteractionLevel: string(s.InteractionLevel)})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
