// Package learning обновляет модели интересов пользователей по наблюдениям.
package learning

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/clock"
	"stream-recommender/internal/infra/metrics"
)

// ErrTooManyBins означает, что у записи оказалось больше корзин, чем помещается в окно.
var ErrTooManyBins = errors.New("learning: too many time bins")

// Strategy — стратегия интеграции наблюдения в запись модели.
// Набор реализаций закрыт: TermCount и TimeBinned.
type Strategy interface {
	// CreateNew создаёт запись; nil означает, что запись создавать не нужно.
	CreateNew(model domain.UserModel, interest domain.Interest, st domain.ScoredTerm, at time.Time) (*domain.UserModelEntry, error)
	// Integrate учитывает наблюдение; remove=true — запись стоит удалить.
	Integrate(entry *domain.UserModelEntry, interest domain.Interest, st domain.ScoredTerm, at time.Time) (remove bool, err error)
	// Disintegrate отменяет ранее учтённое наблюдение.
	Disintegrate(entry *domain.UserModelEntry, interest domain.Interest, st domain.ScoredTerm, at time.Time) (remove bool, err error)
	// Consolidate пересчитывает отложенные значения записи.
	Consolidate(entry *domain.UserModelEntry) (remove bool)
	ConfigurationDescription() string
}

// TermCount усредняет оценки интереса по всем наблюдениям терма.
type TermCount struct {
	MinTermWeight float64
	MinScore      float64
}

func (s TermCount) CreateNew(model domain.UserModel, interest domain.Interest, st domain.ScoredTerm, at time.Time) (*domain.UserModelEntry, error) {
	if st.Weight < s.MinTermWeight {
		return nil, nil
	}
	entry := &domain.UserModelEntry{
		UserModelID: model.ID,
		ScoredTerm:  domain.ScoredTerm{Term: st.Term},
		LastChange:  at,
	}
	entry.ScoreCount = 1
	entry.ScoreSum = interest.Score()
	if s.consolidate(entry) {
		return nil, nil
	}
	return entry, nil
}

func (s TermCount) Integrate(entry *domain.UserModelEntry, interest domain.Interest, st domain.ScoredTerm, at time.Time) (bool, error) {
	if st.Weight < s.MinTermWeight {
		return false, nil
	}
	entry.ScoreCount++
	entry.ScoreSum += interest.Score()
	entry.LastChange = at
	entry.Adapted = true
	return s.consolidate(entry), nil
}

func (s TermCount) Disintegrate(entry *domain.UserModelEntry, interest domain.Interest, st domain.ScoredTerm, at time.Time) (bool, error) {
	if st.Weight < s.MinTermWeight {
		return false, nil
	}
	entry.ScoreCount--
	entry.ScoreSum -= interest.Score()
	entry.LastChange = at
	entry.Adapted = true
	return s.consolidate(entry), nil
}

func (s TermCount) Consolidate(entry *domain.UserModelEntry) bool {
	entry.NeedsConsolidation = false
	return s.consolidate(entry)
}

// consolidate пересчитывает вес записи и сообщает, стоит ли её удалить.
func (s TermCount) consolidate(entry *domain.UserModelEntry) bool {
	weight := 0.0
	if entry.ScoreCount > 0 {
		weight = entry.ScoreSum / entry.ScoreCount
	}
	entry.ScoredTerm.Weight = weight
	return entry.ScoreCount <= 0 || weight <= 0 || weight < s.MinScore
}

func (s TermCount) ConfigurationDescription() string {
	return fmt.Sprintf("term count integration: min term weight=%g, min score=%g", s.MinTermWeight, s.MinScore)
}

// TimeBinned хранит оценки в корзинах фиксированной ширины и забывает старые корзины.
type TimeBinned struct {
	TermCount      TermCount
	StartTime      time.Time
	BinWidth       time.Duration
	AllBinsWidth   time.Duration
	CalculateLater bool
	Clock          clock.Clock
}

// NewTimeBinned проверяет настройки окна.
func NewTimeBinned(tc TermCount, start time.Time, binWidth, allBinsWidth time.Duration, calculateLater bool, clk clock.Clock) (TimeBinned, error) {
	if binWidth <= 0 {
		return TimeBinned{}, fmt.Errorf("time binned: bin width must be positive, got %s", binWidth)
	}
	if allBinsWidth < binWidth {
		return TimeBinned{}, fmt.Errorf("time binned: all bins width %s is less than bin width %s", allBinsWidth, binWidth)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return TimeBinned{
		TermCount:      tc,
		StartTime:      start,
		BinWidth:       binWidth,
		AllBinsWidth:   allBinsWidth,
		CalculateLater: calculateLater,
		Clock:          clk,
	}, nil
}

// MaxBins — допустимое число корзин у записи.
func (s TimeBinned) MaxBins() int {
	return int(s.AllBinsWidth / s.BinWidth)
}

// BinStart возвращает начало корзины, содержащей t.
func (s TimeBinned) BinStart(t time.Time) time.Time {
	d := t.Sub(s.StartTime)
	n := d / s.BinWidth
	if d < 0 && d%s.BinWidth != 0 {
		n--
	}
	return s.StartTime.Add(n * s.BinWidth)
}

// WindowStart возвращает начало самой старой допустимой корзины.
func (s TimeBinned) WindowStart() time.Time {
	return s.BinStart(s.now()).Add(-s.AllBinsWidth + s.BinWidth)
}

func (s TimeBinned) CreateNew(model domain.UserModel, interest domain.Interest, st domain.ScoredTerm, at time.Time) (*domain.UserModelEntry, error) {
	if st.Weight < s.TermCount.MinTermWeight {
		return nil, nil
	}
	start := s.BinStart(at)
	if !s.admit(start, s.WindowStart()) {
		return nil, nil
	}
	entry := &domain.UserModelEntry{
		UserModelID: model.ID,
		ScoredTerm:  domain.ScoredTerm{Term: st.Term},
		LastChange:  at,
	}
	entry.AddTimeBin(domain.UserModelEntryTimeBin{TimeBinStart: start, ScoreSum: interest.Score(), ScoreCount: 1})
	if s.CalculateLater {
		s.recompute(entry)
		entry.NeedsConsolidation = true
		return entry, nil
	}
	if s.recompute(entry) {
		return nil, nil
	}
	return entry, nil
}

func (s TimeBinned) Integrate(entry *domain.UserModelEntry, interest domain.Interest, st domain.ScoredTerm, at time.Time) (bool, error) {
	if st.Weight < s.TermCount.MinTermWeight {
		return false, nil
	}
	windowStart := s.WindowStart()
	start := s.BinStart(at)
	admitted := s.admit(start, windowStart)
	if err := s.checkBins(entry, windowStart, start, admitted); err != nil {
		return false, err
	}

	s.evict(entry, windowStart)
	if admitted {
		bin := entry.TimeBin(start)
		if bin == nil {
			bin = entry.AddTimeBin(domain.UserModelEntryTimeBin{TimeBinStart: start})
		}
		bin.ScoreCount++
		bin.ScoreSum += interest.Score()
		entry.LastChange = at
		entry.Adapted = true
	}
	return s.finish(entry), nil
}

func (s TimeBinned) Disintegrate(entry *domain.UserModelEntry, interest domain.Interest, st domain.ScoredTerm, at time.Time) (bool, error) {
	if st.Weight < s.TermCount.MinTermWeight {
		return false, nil
	}
	windowStart := s.WindowStart()
	if err := s.checkBins(entry, windowStart, time.Time{}, false); err != nil {
		return false, err
	}
	s.evict(entry, windowStart)

	start := s.BinStart(at)
	if bin := entry.TimeBin(start); bin != nil {
		bin.ScoreCount--
		bin.ScoreSum -= interest.Score()
		if bin.ScoreCount <= 0 {
			s.removeBin(entry, start)
		}
		entry.LastChange = at
		entry.Adapted = true
	}
	return s.finish(entry), nil
}

// admit отбрасывает наблюдения вне окна: устаревшие и с корзиной позже текущей.
func (s TimeBinned) admit(start, windowStart time.Time) bool {
	switch {
	case start.Before(windowStart):
		metrics.AddLearningEntries(metrics.EntryOpStale, 1)
		return false
	case start.After(s.BinStart(s.now())):
		metrics.AddLearningEntries(metrics.EntryOpFuture, 1)
		return false
	}
	return true
}

// checkBins проверяет число корзин после вытеснения и добавления start, не меняя запись.
func (s TimeBinned) checkBins(entry *domain.UserModelEntry, windowStart, start time.Time, adding bool) error {
	n := 0
	present := false
	for _, bin := range entry.TimeBins {
		if bin.TimeBinStart.Before(windowStart) {
			continue
		}
		n++
		if adding && bin.TimeBinStart.Equal(start) {
			present = true
		}
	}
	if adding && !present {
		n++
	}
	if n > s.MaxBins() {
		return fmt.Errorf("%w: %d bins, max %d", ErrTooManyBins, n, s.MaxBins())
	}
	return nil
}

func (s TimeBinned) Consolidate(entry *domain.UserModelEntry) bool {
	s.evict(entry, s.WindowStart())
	entry.NeedsConsolidation = false
	return s.recompute(entry)
}

func (s TimeBinned) ConfigurationDescription() string {
	return fmt.Sprintf("time binned integration: start=%s, bin width=%s, all bins width=%s, calculate later=%t; %s",
		s.StartTime.Format(time.RFC3339), s.BinWidth, s.AllBinsWidth, s.CalculateLater, s.TermCount.ConfigurationDescription())
}

func (s TimeBinned) finish(entry *domain.UserModelEntry) bool {
	if s.CalculateLater {
		entry.NeedsConsolidation = true
		return false
	}
	return s.recompute(entry)
}

// recompute суммирует уцелевшие корзины и пересчитывает вес записи.
func (s TimeBinned) recompute(entry *domain.UserModelEntry) bool {
	var sum, count float64
	for _, bin := range entry.TimeBins {
		sum += bin.ScoreSum
		count += bin.ScoreCount
	}
	entry.ScoreSum = sum
	entry.ScoreCount = count
	return s.TermCount.consolidate(entry)
}

func (s TimeBinned) evict(entry *domain.UserModelEntry, windowStart time.Time) {
	kept := entry.TimeBins[:0]
	for _, bin := range entry.TimeBins {
		if bin.TimeBinStart.Before(windowStart) {
			continue
		}
		kept = append(kept, bin)
	}
	entry.TimeBins = kept
}

func (s TimeBinned) removeBin(entry *domain.UserModelEntry, start time.Time) {
	kept := entry.TimeBins[:0]
	for _, bin := range entry.TimeBins {
		if bin.TimeBinStart.Equal(start) {
			continue
		}
		kept = append(kept, bin)
	}
	entry.TimeBins = kept
}

func (s TimeBinned) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

// Виды стратегий в конфигурации.
const (
	KindTermCount  = "term_count"
	KindTimeBinned = "time_binned"
)

// Options — настройки стратегии из конфигурации.
type Options struct {
	Kind           string
	MinTermWeight  float64
	MinScore       float64
	StartTime      time.Time
	BinWidth       time.Duration
	AllBinsWidth   time.Duration
	CalculateLater bool
	Clock          clock.Clock
}

// NewStrategy создаёт стратегию по настройкам.
func NewStrategy(opts Options) (Strategy, error) {
	tc := TermCount{MinTermWeight: opts.MinTermWeight, MinScore: opts.MinScore}
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case KindTermCount, "":
		return tc, nil
	case KindTimeBinned:
		return NewTimeBinned(tc, opts.StartTime, opts.BinWidth, opts.AllBinsWidth, opts.CalculateLater, opts.Clock)
	default:
		return nil, fmt.Errorf("unknown learning strategy %q", opts.Kind)
	}
}
