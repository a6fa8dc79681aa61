package domain

import "time"

// ObservationType описывает вид наблюдения.
type ObservationType string

const (
	// ObservationMessage — пользователь написал сообщение.
	ObservationMessage ObservationType = "MESSAGE"
	// ObservationLike — пользователь отметил сообщение.
	ObservationLike ObservationType = "LIKE"
	// ObservationMention — пользователя упомянули в сообщении.
	ObservationMention ObservationType = "MENTION"
	// ObservationRating — явная оценка пользователя.
	ObservationRating ObservationType = "RATING"
)

// ObservationPriority упорядочивает наблюдения одного пользователя по сообщению.
type ObservationPriority int

const (
	ObservationPriorityFirst ObservationPriority = iota + 1
	ObservationPrioritySecond
	ObservationPriorityThird
)

// Observation — сигнал о взаимодействии пользователя с сообщением.
type Observation struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	Type            ObservationType     `json:"type"`
	MessageID       string              `json:"message_id"`
	ObservationDate time.Time           `json:"observation_date"`
	Priority        ObservationPriority `json:"priority"`
	Interest        Interest            `json:"interest"`
	Retraction      bool                `json:"retraction,omitempty"`
}
