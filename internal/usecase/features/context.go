package features

import (
	"stream-recommender/internal/domain"
)

// MessageContext — общий контекст оценки одного сообщения.
// После начала обработки пользователей контекст только читается.
type MessageContext struct {
	Message         domain.Message
	Relation        *domain.MessageRelation
	RelatedMessages []domain.Message
	UserIDs         []string
	Registry        domain.FeatureRegistry
}

// IsRoot сообщает, является ли сообщение корнем обсуждения.
func (mc *MessageContext) IsRoot() bool {
	return mc.Relation.IsRoot(mc.Message.GlobalID)
}

// UserContext — контекст вычисления признаков для пары (сообщение, пользователь).
type UserContext struct {
	Message   *MessageContext
	UserID    string
	Aggregate *domain.FeatureAggregate
}

// NewUserContext создаёт контекст пользователя с пустым агрегатом.
func NewUserContext(mc *MessageContext, userID string) *UserContext {
	return &UserContext{
		Message:   mc,
		UserID:    userID,
		Aggregate: domain.NewFeatureAggregate(mc.Message.GlobalID, userID),
	}
}

// Set записывает признак, если он есть в реестре.
func (uc *UserContext) Set(id domain.FeatureID, value float64) {
	if !uc.Message.Registry.Contains(id) {
		return
	}
	uc.Aggregate.Set(id, value)
}

// SetBool записывает булев признак как 0 или 1.
func (uc *UserContext) SetBool(id domain.FeatureID, value bool) {
	v := 0.0
	if value {
		v = 1
	}
	uc.Set(id, v)
}

// Value возвращает значение признака или 0.
func (uc *UserContext) Value(id domain.FeatureID) float64 {
	return uc.Aggregate.Value(id)
}

// Has сообщает, вычислен ли признак.
func (uc *UserContext) Has(id domain.FeatureID) bool {
	return uc.Aggregate.Has(id)
}
