package learning

import (
	"errors"
	"math"
	"testing"
	"time"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/clock"
)

var (
	model   = domain.UserModel{ID: 7, UserID: "u", ModelType: domain.UserModelTypePlain}
	termGo  = domain.ScoredTerm{Term: domain.Term{Category: domain.TermCategoryKeyword, Value: "go"}, Weight: 1}
	day     = 24 * time.Hour
	epoch   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan10   = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	binJan  = func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	almostE = 1e-9
)

func TestTermCountRoundTrip(t *testing.T) {
	s := TermCount{}
	entry, err := s.CreateNew(model, domain.InterestHigh, termGo, jan10)
	if err != nil || entry == nil {
		t.Fatalf("ожидали новую запись: %v", err)
	}
	if entry.ScoreCount != 1 || entry.ScoreSum != 0.75 || entry.ScoredTerm.Weight != 0.75 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	before := *entry

	if remove, _ := s.Integrate(entry, domain.InterestNormal, termGo, jan10); remove {
		t.Fatalf("запись не должна удаляться")
	}
	if math.Abs(entry.ScoredTerm.Weight-0.625) > almostE {
		t.Fatalf("ожидали вес 0.625, получили %v", entry.ScoredTerm.Weight)
	}
	if remove, _ := s.Disintegrate(entry, domain.InterestNormal, termGo, jan10); remove {
		t.Fatalf("запись не должна удаляться")
	}
	if entry.ScoreCount != before.ScoreCount || math.Abs(entry.ScoreSum-before.ScoreSum) > almostE || math.Abs(entry.ScoredTerm.Weight-before.ScoredTerm.Weight) > almostE {
		t.Fatalf("integrate+disintegrate должны вернуть исходное состояние: %+v vs %+v", entry, before)
	}
}

func TestTermCountGateAndRemoval(t *testing.T) {
	s := TermCount{MinTermWeight: 0.5, MinScore: 0.3}
	weak := domain.ScoredTerm{Term: termGo.Term, Weight: 0.1}

	if entry, _ := s.CreateNew(model, domain.InterestHigh, weak, jan10); entry != nil {
		t.Fatalf("слабый терм не должен создавать запись")
	}
	if entry, _ := s.CreateNew(model, domain.InterestLow, termGo, jan10); entry != nil {
		t.Fatalf("вес 0.25 ниже MinScore, запись не нужна")
	}

	entry, _ := s.CreateNew(model, domain.InterestHigh, termGo, jan10)
	if remove, _ := s.Integrate(entry, domain.InterestExtreme, weak, jan10); remove || entry.ScoreCount != 1 {
		t.Fatalf("слабый терм не меняет запись: %+v", entry)
	}
	remove, err := s.Disintegrate(entry, domain.InterestHigh, termGo, jan10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !remove {
		t.Fatalf("запись с нулевым счётчиком должна удаляться")
	}
	if entry.ScoredTerm.Weight != 0 {
		t.Fatalf("вес пустой записи 0, получили %v", entry.ScoredTerm.Weight)
	}
}

func newTimeBinned(t *testing.T, bins int, calculateLater bool, clk clock.Clock) TimeBinned {
	t.Helper()
	s, err := NewTimeBinned(TermCount{}, epoch, day, time.Duration(bins)*day, calculateLater, clk)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return s
}

func TestBinStart(t *testing.T) {
	s := newTimeBinned(t, 3, false, clock.NewFake(jan10))
	tests := []struct {
		at   time.Time
		want time.Time
	}{
		{at: time.Date(2024, 1, 9, 5, 0, 0, 0, time.UTC), want: binJan(9)},
		{at: binJan(9), want: binJan(9)},
		{at: time.Date(2023, 12, 31, 12, 0, 0, 0, time.UTC), want: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := s.BinStart(tt.at); !got.Equal(tt.want) {
			t.Fatalf("BinStart(%s) = %s, want %s", tt.at, got, tt.want)
		}
	}
	if got := s.WindowStart(); !got.Equal(binJan(8)) {
		t.Fatalf("ожидали начало окна 8 января, получили %s", got)
	}
	if s.MaxBins() != 3 {
		t.Fatalf("ожидали 3 корзины")
	}
}

func TestNewTimeBinnedValidation(t *testing.T) {
	if _, err := NewTimeBinned(TermCount{}, epoch, 0, day, false, nil); err == nil {
		t.Fatalf("ожидали ошибку для нулевой ширины")
	}
	if _, err := NewTimeBinned(TermCount{}, epoch, 2*day, day, false, nil); err == nil {
		t.Fatalf("ожидали ошибку для окна меньше корзины")
	}
}

func TestTimeBinnedIntegrateAndEvict(t *testing.T) {
	fake := clock.NewFake(jan10)
	s := newTimeBinned(t, 3, false, fake)

	entry, err := s.CreateNew(model, domain.InterestExtreme, termGo, binJan(8).Add(time.Hour))
	if err != nil || entry == nil {
		t.Fatalf("ожидали новую запись: %v", err)
	}
	for _, at := range []time.Time{binJan(9).Add(time.Hour), jan10} {
		if _, err := s.Integrate(entry, domain.InterestNormal, termGo, at); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if len(entry.TimeBins) != 3 {
		t.Fatalf("ожидали 3 корзины, получили %d", len(entry.TimeBins))
	}
	if entry.ScoreCount != 3 || math.Abs(entry.ScoreSum-2) > almostE {
		t.Fatalf("ожидали count=3 sum=2, получили %+v", entry)
	}

	fake.Set(jan10.Add(day))
	if _, err := s.Integrate(entry, domain.InterestLow, termGo, jan10.Add(day)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(entry.TimeBins) != 3 || !entry.TimeBins[0].TimeBinStart.Equal(binJan(9)) {
		t.Fatalf("корзина 8 января должна быть вытеснена: %+v", entry.TimeBins)
	}
	if entry.ScoreCount != 3 || math.Abs(entry.ScoreSum-1.25) > almostE {
		t.Fatalf("сумма пересчитывается по оставшимся корзинам: %+v", entry)
	}
	if math.Abs(entry.ScoredTerm.Weight-1.25/3) > almostE {
		t.Fatalf("unexpected weight %v", entry.ScoredTerm.Weight)
	}
}

func TestTimeBinnedDropsStaleObservations(t *testing.T) {
	s := newTimeBinned(t, 3, false, clock.NewFake(jan10))
	stale := binJan(8).Add(-time.Hour)

	if entry, err := s.CreateNew(model, domain.InterestHigh, termGo, stale); err != nil || entry != nil {
		t.Fatalf("устаревшее наблюдение отбрасывается: %v %v", entry, err)
	}

	entry, _ := s.CreateNew(model, domain.InterestHigh, termGo, jan10)
	if _, err := s.Integrate(entry, domain.InterestExtreme, termGo, stale); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(entry.TimeBins) != 1 || entry.ScoreCount != 1 {
		t.Fatalf("устаревшее наблюдение не меняет запись: %+v", entry)
	}
}

func TestTimeBinnedDropsFutureObservations(t *testing.T) {
	s := newTimeBinned(t, 3, false, clock.NewFake(jan10))
	future := jan10.Add(2 * day)

	if entry, err := s.CreateNew(model, domain.InterestHigh, termGo, future); err != nil || entry != nil {
		t.Fatalf("наблюдение из будущего отбрасывается: %v %v", entry, err)
	}

	entry, _ := s.CreateNew(model, domain.InterestHigh, termGo, binJan(8))
	for _, at := range []time.Time{binJan(9), jan10, future, future.Add(day), future.Add(2 * day)} {
		if _, err := s.Integrate(entry, domain.InterestHigh, termGo, at); err != nil {
			t.Fatalf("не ожидали ошибку для %s: %v", at, err)
		}
	}
	if len(entry.TimeBins) != 3 || entry.ScoreCount != 3 {
		t.Fatalf("корзины из будущего не добавляются: %+v", entry.TimeBins)
	}
}

func TestTimeBinnedTooManyBins(t *testing.T) {
	s := newTimeBinned(t, 3, false, clock.NewFake(jan10))
	entry := &domain.UserModelEntry{ScoredTerm: termGo}
	for _, d := range []int{8, 9, 10, 11} {
		entry.AddTimeBin(domain.UserModelEntryTimeBin{TimeBinStart: binJan(d), ScoreSum: 0.75, ScoreCount: 1})
	}
	before := entry.Clone()

	_, err := s.Integrate(entry, domain.InterestHigh, termGo, jan10)
	if !errors.Is(err, ErrTooManyBins) {
		t.Fatalf("ожидали ErrTooManyBins, получили %v", err)
	}
	if len(entry.TimeBins) != len(before.TimeBins) || entry.TimeBins[2].ScoreCount != 1 || entry.Adapted {
		t.Fatalf("запись не должна меняться при переполнении: %+v", entry)
	}
	if _, err := s.Disintegrate(entry, domain.InterestHigh, termGo, jan10); !errors.Is(err, ErrTooManyBins) {
		t.Fatalf("ожидали ErrTooManyBins, получили %v", err)
	}
}

func TestTimeBinnedRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		existing []time.Time
		at       time.Time
		interest domain.Interest
	}{
		{name: "same bin", existing: []time.Time{jan10}, at: jan10, interest: domain.InterestNormal},
		{name: "new bin", existing: []time.Time{binJan(9)}, at: jan10, interest: domain.InterestExtreme},
		{name: "several bins", existing: []time.Time{binJan(8), binJan(9), jan10}, at: binJan(9).Add(time.Hour), interest: domain.InterestLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTimeBinned(t, 3, false, clock.NewFake(jan10))
			entry, err := s.CreateNew(model, domain.InterestHigh, termGo, tt.existing[0])
			if err != nil || entry == nil {
				t.Fatalf("ожидали новую запись: %v", err)
			}
			for _, at := range tt.existing[1:] {
				if _, err := s.Integrate(entry, domain.InterestHigh, termGo, at); err != nil {
					t.Fatalf("не ожидали ошибку: %v", err)
				}
			}
			before := entry.Clone()

			if _, err := s.Integrate(entry, tt.interest, termGo, tt.at); err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			remove, err := s.Disintegrate(entry, tt.interest, termGo, tt.at)
			if err != nil || remove {
				t.Fatalf("запись должна остаться: remove=%v err=%v", remove, err)
			}
			if entry.ScoreCount != before.ScoreCount || math.Abs(entry.ScoreSum-before.ScoreSum) > almostE {
				t.Fatalf("ожидали count=%v sum=%v, получили %+v", before.ScoreCount, before.ScoreSum, entry)
			}
			if len(entry.TimeBins) != len(before.TimeBins) {
				t.Fatalf("ожидали %d корзин, получили %d", len(before.TimeBins), len(entry.TimeBins))
			}
		})
	}
}

func TestTimeBinnedBinBoundWhileClockAdvances(t *testing.T) {
	tests := []struct {
		name           string
		bins           int
		observations   int
		calculateLater bool
	}{
		{name: "single bin", bins: 1, observations: 5},
		{name: "three bins", bins: 3, observations: 10},
		{name: "week", bins: 7, observations: 20},
		{name: "calculate later", bins: 3, observations: 10, calculateLater: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := clock.NewFake(jan10)
			s := newTimeBinned(t, tt.bins, tt.calculateLater, fake)
			entry, err := s.CreateNew(model, domain.InterestHigh, termGo, jan10)
			if err != nil || entry == nil {
				t.Fatalf("ожидали новую запись: %v", err)
			}
			for i := 1; i < tt.observations; i++ {
				now := jan10.Add(time.Duration(i) * day)
				fake.Set(now)
				if _, err := s.Integrate(entry, domain.InterestHigh, termGo, now); err != nil {
					t.Fatalf("шаг %d: не ожидали ошибку: %v", i, err)
				}
				if len(entry.TimeBins) > s.MaxBins() {
					t.Fatalf("шаг %d: %d корзин, максимум %d", i, len(entry.TimeBins), s.MaxBins())
				}
				windowStart := s.WindowStart()
				for _, bin := range entry.TimeBins {
					if bin.TimeBinStart.Before(windowStart) {
						t.Fatalf("шаг %d: корзина %s старше начала окна %s", i, bin.TimeBinStart, windowStart)
					}
				}
			}
			want := tt.observations
			if want > tt.bins {
				want = tt.bins
			}
			if len(entry.TimeBins) != want {
				t.Fatalf("ожидали %d корзин, получили %d", want, len(entry.TimeBins))
			}
		})
	}
}

func TestTimeBinnedDisintegrateRemovesEmptyBin(t *testing.T) {
	s := newTimeBinned(t, 3, false, clock.NewFake(jan10))
	entry, _ := s.CreateNew(model, domain.InterestHigh, termGo, binJan(9))
	if _, err := s.Integrate(entry, domain.InterestNormal, termGo, jan10); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	remove, err := s.Disintegrate(entry, domain.InterestNormal, termGo, jan10)
	if err != nil || remove {
		t.Fatalf("запись должна остаться: remove=%v err=%v", remove, err)
	}
	if len(entry.TimeBins) != 1 || !entry.TimeBins[0].TimeBinStart.Equal(binJan(9)) {
		t.Fatalf("пустая корзина удаляется: %+v", entry.TimeBins)
	}
	remove, _ = s.Disintegrate(entry, domain.InterestHigh, termGo, binJan(9))
	if !remove || len(entry.TimeBins) != 0 {
		t.Fatalf("запись без корзин подлежит удалению: %+v", entry)
	}
}

func TestTimeBinnedCalculateLater(t *testing.T) {
	s := newTimeBinned(t, 3, true, clock.NewFake(jan10))
	entry, _ := s.CreateNew(model, domain.InterestHigh, termGo, jan10)
	if !entry.NeedsConsolidation {
		t.Fatalf("ожидали отложенный пересчёт")
	}
	if remove, _ := s.Integrate(entry, domain.InterestNormal, termGo, jan10); remove {
		t.Fatalf("при отложенном пересчёте запись не удаляется")
	}
	if entry.ScoreCount != 1 {
		t.Fatalf("сумма не пересчитывается до консолидации: %+v", entry)
	}
	if remove := s.Consolidate(entry); remove {
		t.Fatalf("запись с положительным весом остаётся")
	}
	if entry.NeedsConsolidation || entry.ScoreCount != 2 || math.Abs(entry.ScoredTerm.Weight-0.625) > almostE {
		t.Fatalf("unexpected consolidated entry %+v", entry)
	}
}

func TestNewStrategy(t *testing.T) {
	if s, err := NewStrategy(Options{Kind: "term_count"}); err != nil || s.ConfigurationDescription() == "" {
		t.Fatalf("unexpected %v %v", s, err)
	}
	s, err := NewStrategy(Options{Kind: "time_binned", StartTime: epoch, BinWidth: day, AllBinsWidth: 7 * day})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := s.(TimeBinned); !ok {
		t.Fatalf("ожидали TimeBinned, получили %T", s)
	}
	if _, err := NewStrategy(Options{Kind: "bayes"}); err == nil {
		t.Fatalf("ожидали ошибку для неизвестной стратегии")
	}
}
