// Package weighting вычисляет вес терма по корпусной статистике.
package weighting

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"stream-recommender/internal/domain"
)

// Strategy вычисляет вес терма внутри группы сообщений.
type Strategy interface {
	Weight(groupID string, term domain.Term) float64
	ConfigurationDescription() string
}

// Виды стратегий в конфигурации.
const (
	KindTrivial = "trivial"
	KindLinear  = "linear"
	KindLog     = "log"
)

// Stats хранит снимок корпусной статистики и безопасен для конкурентного чтения.
type Stats struct {
	mu sync.RWMutex
	tf domain.TermFrequency
}

// NewStats создаёт статистику с начальным снимком.
func NewStats(tf domain.TermFrequency) *Stats {
	return &Stats{tf: tf}
}

// Update заменяет снимок.
func (s *Stats) Update(tf domain.TermFrequency) {
	s.mu.Lock()
	s.tf = tf
	s.mu.Unlock()
}

// MessageCount возвращает число сообщений группы или всего корпуса.
func (s *Stats) MessageCount(groupID string) int64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tf.MessageCount(groupID)
}

// Snapshot возвращает копию снимка.
func (s *Stats) Snapshot() domain.TermFrequency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make(map[string]int64, len(s.tf.MessageGroupCounts))
	for k, v := range s.tf.MessageGroupCounts {
		groups[k] = v
	}
	return domain.TermFrequency{AllMessageCount: s.tf.AllMessageCount, MessageGroupCounts: groups}
}

// Trivial всегда возвращает 1.
type Trivial struct{}

func (Trivial) Weight(string, domain.Term) float64 { return 1 }

func (Trivial) ConfigurationDescription() string { return "trivial term weighting: w=1" }

// LinearInverse — w = 1 - count/total.
type LinearInverse struct {
	Stats *Stats
}

func (l LinearInverse) Weight(groupID string, term domain.Term) float64 {
	total := l.Stats.MessageCount(groupID)
	if term.Count == 0 || total == 0 {
		return 0
	}
	return 1 - float64(term.Count)/float64(total)
}

func (LinearInverse) ConfigurationDescription() string {
	return "linear inverse term frequency: w=1-count/total"
}

// LogInverse — w = ln(total/count).
type LogInverse struct {
	Stats *Stats
}

func (l LogInverse) Weight(groupID string, term domain.Term) float64 {
	total := l.Stats.MessageCount(groupID)
	if term.Count == 0 || total == 0 {
		return 0
	}
	return math.Log(float64(total) / float64(term.Count))
}

func (LogInverse) ConfigurationDescription() string {
	return "logarithmic inverse term frequency: w=ln(total/count)"
}

// New создаёт стратегию по имени из конфигурации.
func New(kind string, stats *Stats) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindTrivial, "":
		return Trivial{}, nil
	case KindLinear:
		return LinearInverse{Stats: stats}, nil
	case KindLog:
		return LogInverse{Stats: stats}, nil
	default:
		return nil, fmt.Errorf("unknown term weighting %q", kind)
	}
}
