package domain

import (
	"sort"
	"strings"
	"time"
)

// Ключи свойств сообщения.
const (
	PropertyMentions = "mentions"
	PropertyLikes    = "likes"
	PropertyTags     = "tags"
	PropertyParent   = "parent"
	PropertyTitle    = "title"
)

// Категории термов.
const (
	TermCategoryKeyword = "keyword"
	TermCategoryTag     = "tag"
	TermCategoryMention = "mention"
)

// Message описывает входящее сообщение (пост, твит, элемент ленты).
type Message struct {
	GlobalID        string            `json:"global_id"`
	SourceID        string            `json:"source_id"`
	GroupID         string            `json:"group_id,omitempty"`
	AuthorID        string            `json:"author_id"`
	PublicationDate time.Time         `json:"publication_date"`
	Parts           []MessagePart     `json:"parts"`
	Properties      map[string]string `json:"properties,omitempty"`
}

// MessagePart хранит часть сообщения с её термами.
type MessagePart struct {
	MimeType    string       `json:"mime_type"`
	Content     string       `json:"content"`
	ScoredTerms []ScoredTerm `json:"scored_terms,omitempty"`
}

// IsText сообщает, является ли часть текстовой.
func (p MessagePart) IsText() bool {
	return p.MimeType == "" || strings.HasPrefix(p.MimeType, "text/")
}

// Property возвращает значение свойства или пустую строку.
func (m Message) Property(key string) string {
	if m.Properties == nil {
		return ""
	}
	return m.Properties[key]
}

// PropertyList разбирает свойство-список, разделённое запятыми.
func (m Message) PropertyList(key string) []string {
	raw := m.Property(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PropertyContains проверяет наличие значения в свойстве-списке.
func (m Message) PropertyContains(key, value string) bool {
	if value == "" {
		return false
	}
	for _, v := range m.PropertyList(key) {
		if v == value {
			return true
		}
	}
	return false
}

// SetProperty задаёт свойство сообщения.
func (m *Message) SetProperty(key, value string) {
	if m.Properties == nil {
		m.Properties = make(map[string]string)
	}
	m.Properties[key] = value
}

// Text склеивает содержимое текстовых частей.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if !p.IsText() {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Content)
	}
	return b.String()
}

// DistinctScoredTerms возвращает термы сообщения без повторов.
// Для терма, встречающегося в нескольких частях, берётся максимальный вес.
func (m Message) DistinctScoredTerms() []ScoredTerm {
	byKey := make(map[string]ScoredTerm)
	order := make([]string, 0)
	for _, part := range m.Parts {
		for _, st := range part.ScoredTerms {
			key := st.Term.Key()
			existing, ok := byKey[key]
			if !ok {
				order = append(order, key)
				byKey[key] = st
				continue
			}
			if st.Weight > existing.Weight {
				byKey[key] = st
			}
		}
	}
	out := make([]ScoredTerm, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// Term — словарная единица с корпусным счётчиком вхождений.
type Term struct {
	ID       int64  `json:"id,omitempty"`
	Category string `json:"category"`
	Value    string `json:"value"`
	GroupID  string `json:"group_id,omitempty"`
	Count    int64  `json:"count,omitempty"`
}

// Key возвращает уникальный ключ терма.
func (t Term) Key() string {
	key := t.Category + ":" + t.Value
	if t.GroupID != "" {
		key += "@" + t.GroupID
	}
	return key
}

// ScoredTerm — пара (терм, вес), локальная для владельца.
type ScoredTerm struct {
	Term   Term    `json:"term"`
	Weight float64 `json:"weight"`
}

// TermVector отображает ключ терма в вес.
type TermVector map[string]float64

// MessageRelation связывает сообщение с остальными сообщениями обсуждения.
type MessageRelation struct {
	MessageID         string   `json:"message_id"`
	RootMessageID     string   `json:"root_message_id,omitempty"`
	RelatedMessageIDs []string `json:"related_message_ids,omitempty"`
}

// IsRoot сообщает, является ли сообщение корнем обсуждения.
func (r *MessageRelation) IsRoot(messageID string) bool {
	if r == nil || r.RootMessageID == "" {
		return true
	}
	return r.RootMessageID == messageID
}

// UserModel — модель интересов пользователя определённого типа.
type UserModel struct {
	ID        int64
	UserID    string
	ModelType string
}

// Типы моделей пользователя.
const (
	UserModelTypePlain         = "plain"
	UserModelTypeCollaboration = "collaboration"
)

// UserModelEntry хранит накопленный интерес пользователя к одному терму.
type UserModelEntry struct {
	ID                 int64
	UserModelID        int64
	ScoredTerm         ScoredTerm
	ScoreSum           float64
	ScoreCount         float64
	LastChange         time.Time
	Adapted            bool
	NeedsConsolidation bool
	TimeBins           []UserModelEntryTimeBin
}

// TimeBin возвращает корзину с указанным началом.
func (e *UserModelEntry) TimeBin(start time.Time) *UserModelEntryTimeBin {
	for i := range e.TimeBins {
		if e.TimeBins[i].TimeBinStart.Equal(start) {
			return &e.TimeBins[i]
		}
	}
	return nil
}

// AddTimeBin добавляет корзину, сохраняя порядок по началу.
func (e *UserModelEntry) AddTimeBin(bin UserModelEntryTimeBin) *UserModelEntryTimeBin {
	e.TimeBins = append(e.TimeBins, bin)
	sort.Slice(e.TimeBins, func(i, j int) bool {
		return e.TimeBins[i].TimeBinStart.Before(e.TimeBins[j].TimeBinStart)
	})
	return e.TimeBin(bin.TimeBinStart)
}

// Clone возвращает глубокую копию записи.
func (e *UserModelEntry) Clone() *UserModelEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.TimeBins != nil {
		c.TimeBins = append([]UserModelEntryTimeBin(nil), e.TimeBins...)
	}
	return &c
}

// UserModelEntryTimeBin — временное окно фиксированной ширины с частичной суммой.
type UserModelEntryTimeBin struct {
	TimeBinStart time.Time
	ScoreSum     float64
	ScoreCount   float64
}

// UserMessageScore — итоговая релевантность сообщения для пользователя.
type UserMessageScore struct {
	MessageID        string
	UserID           string
	Score            float64
	InteractionLevel InteractionLevel
	ScoredAt         time.Time
}

// ScoringResult содержит результат оценки сообщения.
type ScoringResult struct {
	MessageID  string
	Scores     []UserMessageScore
	Skipped    bool
	SkipReason string
}

// TermFrequency хранит корпусную статистику количества сообщений.
type TermFrequency struct {
	AllMessageCount    int64
	MessageGroupCounts map[string]int64
}

// MessageCount возвращает число сообщений группы или всего корпуса.
func (tf TermFrequency) MessageCount(groupID string) int64 {
	if groupID == "" {
		return tf.AllMessageCount
	}
	return tf.MessageGroupCounts[groupID]
}
