package repo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"stream-recommender/internal/domain"
)

// ErrNotFound возвращается, когда запись отсутствует.
var ErrNotFound = errors.New("repo: not found")

// Memory хранит данные в памяти процесса. Используется в тестах и в режиме dev.
type Memory struct {
	mu sync.Mutex

	models      map[string]domain.UserModel
	modelsByID  map[int64]domain.UserModel
	entries     map[int64]map[string]*domain.UserModelEntry
	nextModelID int64
	nextEntryID int64

	terms      map[string]domain.Term
	nextTermID int64
	allCount   int64
	groupCount map[string]int64
	counted    map[string]struct{}

	observations   []domain.Observation
	observationIDs map[string]struct{}
	messages     map[string]domain.Message
	relations    map[string]domain.MessageRelation

	scores   []domain.UserMessageScore
	features []domain.MessageFeature
}

var _ domain.Persistence = (*Memory)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		models:         make(map[string]domain.UserModel),
		modelsByID:     make(map[int64]domain.UserModel),
		entries:        make(map[int64]map[string]*domain.UserModelEntry),
		terms:          make(map[string]domain.Term),
		groupCount:     make(map[string]int64),
		counted:        make(map[string]struct{}),
		observationIDs: make(map[string]struct{}),
		messages:       make(map[string]domain.Message),
		relations:      make(map[string]domain.MessageRelation),
	}
}

func (m *Memory) GetOrCreateUserModel(_ context.Context, userID, modelType string) (domain.UserModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + modelType
	if model, ok := m.models[key]; ok {
		return model, nil
	}
	m.nextModelID++
	model := domain.UserModel{ID: m.nextModelID, UserID: userID, ModelType: modelType}
	m.models[key] = model
	m.modelsByID[model.ID] = model
	return model, nil
}

func (m *Memory) GetUserModel(_ context.Context, userID, modelType string) (domain.UserModel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[userID+"|"+modelType]
	return model, ok, nil
}

func (m *Memory) GetUserModelEntries(_ context.Context, model domain.UserModel, termKeys []string) (map[string]*domain.UserModelEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*domain.UserModelEntry, len(termKeys))
	stored := m.entries[model.ID]
	for _, key := range termKeys {
		if e, ok := stored[key]; ok {
			out[key] = e.Clone()
		}
	}
	return out, nil
}

func (m *Memory) StoreUserModelEntries(_ context.Context, model domain.UserModel, entries []*domain.UserModelEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.entries[model.ID]
	if !ok {
		stored = make(map[string]*domain.UserModelEntry)
		m.entries[model.ID] = stored
	}
	for _, e := range entries {
		if e.ID == 0 {
			m.nextEntryID++
			e.ID = m.nextEntryID
		}
		e.UserModelID = model.ID
		stored[e.ScoredTerm.Term.Key()] = e.Clone()
	}
	return nil
}

func (m *Memory) RemoveUserModelEntries(_ context.Context, model domain.UserModel, entries []*domain.UserModelEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.entries[model.ID]
	for _, e := range entries {
		delete(stored, e.ScoredTerm.Term.Key())
	}
	return nil
}

func (m *Memory) ListEntriesNeedingConsolidation(_ context.Context, limit int) ([]domain.ModelEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ModelEntry
	for modelID, stored := range m.entries {
		for _, e := range stored {
			if !e.NeedsConsolidation {
				continue
			}
			out = append(out, domain.ModelEntry{Model: m.modelsByID[modelID], Entry: e.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.ID < out[j].Entry.ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Entries возвращает копии всех записей модели пользователя.
func (m *Memory) Entries(userID, modelType string) []*domain.UserModelEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[userID+"|"+modelType]
	if !ok {
		return nil
	}
	out := make([]*domain.UserModelEntry, 0, len(m.entries[model.ID]))
	for _, e := range m.entries[model.ID] {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScoredTerm.Term.Key() < out[j].ScoredTerm.Term.Key() })
	return out
}

func (m *Memory) GetOrCreateTerm(_ context.Context, category, value, groupID string) (domain.Term, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.termLocked(domain.Term{Category: category, Value: value, GroupID: groupID}), nil
}

func (m *Memory) termLocked(t domain.Term) domain.Term {
	key := t.Key()
	if stored, ok := m.terms[key]; ok {
		return stored
	}
	m.nextTermID++
	stored := domain.Term{ID: m.nextTermID, Category: t.Category, Value: t.Value, GroupID: t.GroupID}
	m.terms[key] = stored
	return stored
}

func (m *Memory) UpdateTermCounts(_ context.Context, messageID, groupID string, terms []domain.Term) ([]domain.Term, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	increment := true
	if messageID != "" {
		if _, ok := m.counted[messageID]; ok {
			increment = false
		}
		m.counted[messageID] = struct{}{}
	}
	if increment {
		m.allCount++
		if groupID != "" {
			m.groupCount[groupID]++
		}
	}
	out := make([]domain.Term, 0, len(terms))
	counted := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		stored := m.termLocked(t)
		key := stored.Key()
		if _, ok := counted[key]; !ok && increment {
			counted[key] = struct{}{}
			stored.Count++
			m.terms[key] = stored
		}
		out = append(out, m.terms[key])
	}
	return out, nil
}

func (m *Memory) GetTermFrequency(context.Context) (domain.TermFrequency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := make(map[string]int64, len(m.groupCount))
	for k, v := range m.groupCount {
		groups[k] = v
	}
	return domain.TermFrequency{AllMessageCount: m.allCount, MessageGroupCounts: groups}, nil
}

func (m *Memory) ResetTermFrequency(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allCount = 0
	m.groupCount = make(map[string]int64)
	m.counted = make(map[string]struct{})
	for key, t := range m.terms {
		t.Count = 0
		m.terms[key] = t
	}
	return nil
}

func (m *Memory) StoreObservation(_ context.Context, obs domain.Observation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.observationIDs[obs.ID]; ok {
		return false, nil
	}
	m.observationIDs[obs.ID] = struct{}{}
	m.observations = append(m.observations, obs)
	return true, nil
}

func (m *Memory) GetObservations(_ context.Context, userID, messageID string, obsType domain.ObservationType) ([]domain.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Observation
	for _, obs := range m.observations {
		if userID != "" && obs.UserID != userID {
			continue
		}
		if messageID != "" && obs.MessageID != messageID {
			continue
		}
		if obsType != "" && obs.Type != obsType {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (m *Memory) StoreMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.GlobalID] = msg
	return nil
}

func (m *Memory) StoreMessageRelation(_ context.Context, rel domain.MessageRelation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations[rel.MessageID] = rel
	return nil
}

func (m *Memory) GetMessage(_ context.Context, globalID string) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[globalID]
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	return msg, nil
}

func (m *Memory) GetMessagesByIDs(_ context.Context, globalIDs []string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, 0, len(globalIDs))
	for _, id := range globalIDs {
		if msg, ok := m.messages[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *Memory) GetMessagesSince(_ context.Context, since time.Time, groupID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.messages {
		if !msg.PublicationDate.After(since) {
			continue
		}
		if groupID != "" && msg.GroupID != groupID {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicationDate.Before(out[j].PublicationDate) })
	return out, nil
}

func (m *Memory) StoreScores(_ context.Context, scores []domain.UserMessageScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, scores...)
	return nil
}

func (m *Memory) StoreFeatures(_ context.Context, features []domain.MessageFeature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features = append(m.features, features...)
	return nil
}

// Scores возвращает сохранённые оценки.
func (m *Memory) Scores() []domain.UserMessageScore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.UserMessageScore(nil), m.scores...)
}

// Features возвращает сохранённые строки матрицы признаков.
func (m *Memory) Features() []domain.MessageFeature {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.MessageFeature(nil), m.features...)
}
