package domain

import "fmt"

// FeatureType описывает тип значения признака.
type FeatureType string

const (
	FeatureTypeBoolean FeatureType = "BOOLEAN"
	FeatureTypeNumeric FeatureType = "NUMERIC"
	FeatureTypeOrdinal FeatureType = "ORDINAL"
	FeatureTypeNominal FeatureType = "NOMINAL"
)

// FeatureID — идентификатор признака.
type FeatureID string

// Канонические признаки.
const (
	FeatureAuthor                    FeatureID = "AUTHOR"
	FeatureMention                   FeatureID = "MENTION"
	FeatureLike                      FeatureID = "LIKE"
	FeatureMessageRoot               FeatureID = "MESSAGE_ROOT"
	FeatureDiscussionParticipation   FeatureID = "DISCUSSION_PARTICIPATION"
	FeatureDiscussionNoParticipation FeatureID = "DISCUSSION_NO_PARTICIPATION"
	FeatureDiscussionMention         FeatureID = "DISCUSSION_MENTION"
	FeatureDiscussionNoMention       FeatureID = "DISCUSSION_NO_MENTION"
	FeatureContentMatch              FeatureID = "CONTENT_MATCH"
	FeatureCollaborationMatch        FeatureID = "COLLABORATION_MATCH"
	FeatureTextLength                FeatureID = "TEXT_LENGTH"
	FeatureTermCount                 FeatureID = "TERM_COUNT"
	FeatureMentionCount              FeatureID = "MENTION_COUNT"
	FeatureLikeCount                 FeatureID = "LIKE_COUNT"
	FeatureTagCount                  FeatureID = "TAG_COUNT"
	FeatureAttachmentCount           FeatureID = "ATTACHMENT_COUNT"
)

// Feature — неизменяемое описание признака.
type Feature struct {
	ID   FeatureID
	Type FeatureType
}

// MessageFeature — вычисленное значение признака для сообщения (и пользователя).
type MessageFeature struct {
	FeatureID FeatureID
	MessageID string
	UserID    string
	Value     float64
}

// InteractionLevel классифицирует отношение пользователя к сообщению.
type InteractionLevel string

const (
	InteractionNone     InteractionLevel = "NONE"
	InteractionIndirect InteractionLevel = "INDIRECT"
	InteractionDirect   InteractionLevel = "DIRECT"
)

// FeatureAggregate — полный вектор признаков одной оценки (сообщение, пользователь).
type FeatureAggregate struct {
	MessageID        string
	UserID           string
	Features         map[FeatureID]MessageFeature
	InteractionLevel InteractionLevel
}

// NewFeatureAggregate создаёт пустой агрегат.
func NewFeatureAggregate(messageID, userID string) *FeatureAggregate {
	return &FeatureAggregate{
		MessageID:        messageID,
		UserID:           userID,
		Features:         make(map[FeatureID]MessageFeature),
		InteractionLevel: InteractionNone,
	}
}

// Set записывает значение признака.
func (fa *FeatureAggregate) Set(id FeatureID, value float64) {
	if fa.Features == nil {
		fa.Features = make(map[FeatureID]MessageFeature)
	}
	fa.Features[id] = MessageFeature{FeatureID: id, MessageID: fa.MessageID, UserID: fa.UserID, Value: value}
}

// Value возвращает значение признака или 0.
func (fa FeatureAggregate) Value(id FeatureID) float64 {
	return fa.Features[id].Value
}

// Has сообщает, вычислен ли признак.
func (fa FeatureAggregate) Has(id FeatureID) bool {
	_, ok := fa.Features[id]
	return ok
}

// List возвращает признаки агрегата в порядке реестра.
func (fa FeatureAggregate) List(registry FeatureRegistry) []MessageFeature {
	out := make([]MessageFeature, 0, len(fa.Features))
	for _, f := range registry.Features() {
		if mf, ok := fa.Features[f.ID]; ok {
			out = append(out, mf)
		}
	}
	return out
}

// FeatureRegistry — упорядоченный набор признаков, передаваемый явно.
type FeatureRegistry struct {
	features []Feature
	index    map[FeatureID]int
}

// NewFeatureRegistry создаёт реестр; повторные идентификаторы запрещены.
func NewFeatureRegistry(features ...Feature) (FeatureRegistry, error) {
	r := FeatureRegistry{index: make(map[FeatureID]int, len(features))}
	for _, f := range features {
		if f.ID == "" {
			return FeatureRegistry{}, fmt.Errorf("feature registry: empty feature id")
		}
		if _, ok := r.index[f.ID]; ok {
			return FeatureRegistry{}, fmt.Errorf("feature registry: duplicate feature %s", f.ID)
		}
		r.index[f.ID] = len(r.features)
		r.features = append(r.features, f)
	}
	return r, nil
}

// DefaultFeatureRegistry возвращает реестр канонических признаков.
func DefaultFeatureRegistry() FeatureRegistry {
	r, _ := NewFeatureRegistry(
		Feature{ID: FeatureAuthor, Type: FeatureTypeBoolean},
		Feature{ID: FeatureMention, Type: FeatureTypeBoolean},
		Feature{ID: FeatureLike, Type: FeatureTypeBoolean},
		Feature{ID: FeatureMessageRoot, Type: FeatureTypeBoolean},
		Feature{ID: FeatureDiscussionParticipation, Type: FeatureTypeBoolean},
		Feature{ID: FeatureDiscussionNoParticipation, Type: FeatureTypeBoolean},
		Feature{ID: FeatureDiscussionMention, Type: FeatureTypeBoolean},
		Feature{ID: FeatureDiscussionNoMention, Type: FeatureTypeBoolean},
		Feature{ID: FeatureContentMatch, Type: FeatureTypeNumeric},
		Feature{ID: FeatureCollaborationMatch, Type: FeatureTypeNumeric},
		Feature{ID: FeatureTextLength, Type: FeatureTypeNumeric},
		Feature{ID: FeatureTermCount, Type: FeatureTypeNumeric},
		Feature{ID: FeatureMentionCount, Type: FeatureTypeNumeric},
		Feature{ID: FeatureLikeCount, Type: FeatureTypeNumeric},
		Feature{ID: FeatureTagCount, Type: FeatureTypeNumeric},
		Feature{ID: FeatureAttachmentCount, Type: FeatureTypeNumeric},
	)
	return r
}

// Features возвращает копию списка признаков.
func (r FeatureRegistry) Features() []Feature {
	return append([]Feature(nil), r.features...)
}

// Contains проверяет, зарегистрирован ли признак.
func (r FeatureRegistry) Contains(id FeatureID) bool {
	_, ok := r.index[id]
	return ok
}

// Get возвращает признак по идентификатору.
func (r FeatureRegistry) Get(id FeatureID) (Feature, bool) {
	idx, ok := r.index[id]
	if !ok {
		return Feature{}, false
	}
	return r.features[idx], true
}
