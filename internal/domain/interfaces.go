package domain

import (
	"context"
	"time"
)

// UserModelRepo управляет моделями пользователей и их записями.
type UserModelRepo interface {
	GetOrCreateUserModel(ctx context.Context, userID, modelType string) (UserModel, error)
	// GetUserModel ищет модель без создания; found=false, если модели нет.
	GetUserModel(ctx context.Context, userID, modelType string) (model UserModel, found bool, err error)
	// GetUserModelEntries возвращает записи модели для указанных ключей термов.
	GetUserModelEntries(ctx context.Context, model UserModel, termKeys []string) (map[string]*UserModelEntry, error)
	// StoreUserModelEntries создаёт или обновляет пачку записей.
	StoreUserModelEntries(ctx context.Context, model UserModel, entries []*UserModelEntry) error
	RemoveUserModelEntries(ctx context.Context, model UserModel, entries []*UserModelEntry) error
	// ListEntriesNeedingConsolidation возвращает записи с отложенным пересчётом.
	ListEntriesNeedingConsolidation(ctx context.Context, limit int) ([]ModelEntry, error)
}

// ModelEntry связывает запись с моделью-владельцем.
type ModelEntry struct {
	Model UserModel
	Entry *UserModelEntry
}

// TermRepo управляет словарём термов и корпусной статистикой.
type TermRepo interface {
	GetOrCreateTerm(ctx context.Context, category, value, groupID string) (Term, error)
	// UpdateTermCounts увеличивает счётчики термов и число сообщений группы на единицу
	// и возвращает термы с актуальными счётчиками. Сообщение учитывается один раз:
	// повторный вызов с тем же messageID только возвращает текущие счётчики.
	UpdateTermCounts(ctx context.Context, messageID, groupID string, terms []Term) ([]Term, error)
	GetTermFrequency(ctx context.Context) (TermFrequency, error)
	// ResetTermFrequency обнуляет счётчики и забывает учтённые сообщения.
	ResetTermFrequency(ctx context.Context) error
}

// ObservationRepo хранит наблюдения.
type ObservationRepo interface {
	// StoreObservation сохраняет наблюдение; created=false, если наблюдение с таким ID уже есть.
	StoreObservation(ctx context.Context, obs Observation) (created bool, err error)
	// GetObservations возвращает наблюдения в порядке записи; пустые аргументы не фильтруют.
	GetObservations(ctx context.Context, userID, messageID string, obsType ObservationType) ([]Observation, error)
}

// MessageRepo хранит сообщения и их связи.
type MessageRepo interface {
	StoreMessage(ctx context.Context, msg Message) error
	StoreMessageRelation(ctx context.Context, rel MessageRelation) error
	GetMessage(ctx context.Context, globalID string) (Message, error)
	GetMessagesByIDs(ctx context.Context, globalIDs []string) ([]Message, error)
	// GetMessagesSince возвращает сообщения новее since; пустой groupID — все группы.
	GetMessagesSince(ctx context.Context, since time.Time, groupID string) ([]Message, error)
}

// ScoreRepo хранит оценки и матрицу признаков.
type ScoreRepo interface {
	StoreScores(ctx context.Context, scores []UserMessageScore) error
	StoreFeatures(ctx context.Context, features []MessageFeature) error
}

// Persistence объединяет все репозитории ядра.
type Persistence interface {
	UserModelRepo
	TermRepo
	ObservationRepo
	MessageRepo
	ScoreRepo
}

// Cache используется для отсечения повторно полученных сообщений.
type Cache interface {
	// SeenBefore помечает ключ и сообщает, был ли он уже помечен в пределах ttl.
	SeenBefore(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget снимает отметку ключа.
	Forget(ctx context.Context, key string) error
}

// Describer реализуют все подключаемые стратегии.
type Describer interface {
	ConfigurationDescription() string
}
