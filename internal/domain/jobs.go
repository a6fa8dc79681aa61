package domain

import (
	"context"
	"time"
)

// JobKind описывает вид задачи в очереди.
type JobKind string

const (
	// JobKindScore — оценить сообщение для пользователей.
	JobKindScore JobKind = "score"
	// JobKindLearn — обучить модель по наблюдению.
	JobKindLearn JobKind = "learn"
)

// ScoreJob содержит сообщение для оценки.
type ScoreJob struct {
	Message   Message          `json:"message"`
	Relation  *MessageRelation `json:"relation,omitempty"`
	UserIDs   []string         `json:"user_ids"`
	LearnOnly bool             `json:"learn_only,omitempty"`
}

// LearnJob содержит наблюдение для обучения.
type LearnJob struct {
	Observation Observation `json:"observation"`
}

// Job — конверт задачи, передаваемый через очередь.
type Job struct {
	ID          string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	Score       *ScoreJob `json:"score,omitempty"`
	Learn       *LearnJob `json:"learn,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	// Attempt — номер доставки, начиная с единицы.
	Attempt int `json:"attempt,omitempty"`
}

// AckFunc подтверждает обработку или запрашивает повторную доставку задачи.
type AckFunc func(success bool) error

// JobQueue описывает транспорт задач между компонентами.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
	Receive(ctx context.Context) (Job, AckFunc, error)
}
