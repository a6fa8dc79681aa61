// Package similarity сравнивает вектор термов сообщения с моделью пользователя.
package similarity

import (
	"fmt"
	"math"
	"strings"
	"time"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/clock"
)

// Strategy выбирает формулу сравнения.
type Strategy string

const (
	StrategyMax     Strategy = "max"
	StrategyAverage Strategy = "average"
	StrategyCosine  Strategy = "cosine"
)

// ParseStrategy разбирает имя стратегии из конфигурации.
func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case StrategyMax, StrategyAverage, StrategyCosine:
		return s, nil
	case "":
		return StrategyCosine, nil
	default:
		return "", fmt.Errorf("unknown similarity strategy %q", raw)
	}
}

// Decay уменьшает вес записи пользователя в зависимости от её возраста.
type Decay interface {
	Factor(age time.Duration) float64
	ConfigurationDescription() string
}

// NoDecay не изменяет вес.
type NoDecay struct{}

func (NoDecay) Factor(time.Duration) float64 { return 1 }

func (NoDecay) ConfigurationDescription() string { return "no decay" }

// ExponentialDecay уменьшает вес вдвое за каждый HalfLife.
type ExponentialDecay struct {
	HalfLife time.Duration
}

func (d ExponentialDecay) Factor(age time.Duration) float64 {
	if d.HalfLife <= 0 || age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(d.HalfLife))
}

func (d ExponentialDecay) ConfigurationDescription() string {
	return fmt.Sprintf("exponential decay, half life %s", d.HalfLife)
}

// Computer считает сходство вектора сообщения с записями модели.
type Computer struct {
	Strategy Strategy
	// TreatMissingAsZero учитывает термы сообщения, отсутствующие в модели, как нули.
	TreatMissingAsZero bool
	Decay              Decay
	Clock              clock.Clock
}

// Similarity возвращает значение сходства; пустые векторы дают 0.
func (c Computer) Similarity(message domain.TermVector, entries map[string]*domain.UserModelEntry) float64 {
	if len(message) == 0 || len(entries) == 0 {
		return 0
	}
	switch c.Strategy {
	case StrategyMax:
		return c.maxSimilarity(message, entries)
	case StrategyAverage:
		return c.averageSimilarity(message, entries)
	default:
		return c.cosineSimilarity(message, entries)
	}
}

func (c Computer) maxSimilarity(message domain.TermVector, entries map[string]*domain.UserModelEntry) float64 {
	best := 0.0
	found := false
	for key, mw := range message {
		entry, ok := entries[key]
		if !ok || entry == nil {
			continue
		}
		v := mw * entry.ScoredTerm.Weight
		if !found || v > best {
			best = v
			found = true
		}
	}
	return best
}

func (c Computer) averageSimilarity(message domain.TermVector, entries map[string]*domain.UserModelEntry) float64 {
	sum := 0.0
	matched := 0
	for key, mw := range message {
		entry, ok := entries[key]
		if !ok || entry == nil {
			continue
		}
		sum += mw * entry.ScoredTerm.Weight
		matched++
	}
	denominator := matched
	if c.TreatMissingAsZero {
		denominator = len(message)
	}
	if denominator == 0 {
		return 0
	}
	return sum / float64(denominator)
}

func (c Computer) cosineSimilarity(message domain.TermVector, entries map[string]*domain.UserModelEntry) float64 {
	now := c.now()
	decay := c.Decay
	if decay == nil {
		decay = NoDecay{}
	}
	var dot, msgNorm, userNorm float64
	for key, mw := range message {
		entry, ok := entries[key]
		if !ok || entry == nil {
			if c.TreatMissingAsZero {
				msgNorm += mw * mw
			}
			continue
		}
		uw := entry.ScoredTerm.Weight * decay.Factor(now.Sub(entry.LastChange))
		dot += mw * uw
		msgNorm += mw * mw
		userNorm += uw * uw
	}
	if msgNorm == 0 || userNorm == 0 {
		return 0
	}
	return dot / (math.Sqrt(msgNorm) * math.Sqrt(userNorm))
}

func (c Computer) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock.Now()
}

// ConfigurationDescription описывает настройки сравнения.
func (c Computer) ConfigurationDescription() string {
	strategy := c.Strategy
	if strategy == "" {
		strategy = StrategyCosine
	}
	decay := "no decay"
	if c.Decay != nil {
		decay = c.Decay.ConfigurationDescription()
	}
	return fmt.Sprintf("%s similarity, treat missing as zero=%t, %s", strategy, c.TreatMissingAsZero, decay)
}
