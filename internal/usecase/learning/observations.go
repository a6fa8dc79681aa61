package learning

import (
	"time"

	"github.com/google/uuid"

	"stream-recommender/internal/domain"
)

// ObservationsFromMessage выводит наблюдения из свойств сообщения:
// автор получает MESSAGE с интересом EXTREME, упомянутые и отметившие — HIGH.
func ObservationsFromMessage(msg domain.Message, at time.Time) []domain.Observation {
	date := msg.PublicationDate
	if date.IsZero() {
		date = at
	}
	var out []domain.Observation
	seen := make(map[string]struct{})
	add := func(userID string, typ domain.ObservationType, priority domain.ObservationPriority, interest domain.Interest) {
		key := userID + "|" + string(typ)
		if userID == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, domain.Observation{
			ID:              uuid.NewString(),
			UserID:          userID,
			Type:            typ,
			MessageID:       msg.GlobalID,
			ObservationDate: date,
			Priority:        priority,
			Interest:        interest,
		})
	}

	add(msg.AuthorID, domain.ObservationMessage, domain.ObservationPriorityFirst, domain.InterestExtreme)
	for _, userID := range msg.PropertyList(domain.PropertyMentions) {
		add(userID, domain.ObservationMention, domain.ObservationPrioritySecond, domain.InterestHigh)
	}
	for _, userID := range msg.PropertyList(domain.PropertyLikes) {
		add(userID, domain.ObservationLike, domain.ObservationPrioritySecond, domain.InterestHigh)
	}
	return out
}
