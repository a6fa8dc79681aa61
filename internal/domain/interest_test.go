package domain

import "testing"

func TestMatchInterest(t *testing.T) {
	tests := []struct {
		score float64
		want  Interest
	}{
		{score: -1, want: InterestNone},
		{score: 0, want: InterestNone},
		{score: 0.12, want: InterestNone},
		{score: 0.125, want: InterestLow},
		{score: 0.3, want: InterestLow},
		{score: 0.5, want: InterestNormal},
		{score: 0.62, want: InterestNormal},
		{score: 0.7, want: InterestHigh},
		{score: 0.875, want: InterestExtreme},
		{score: 5, want: InterestExtreme},
	}
	for _, tt := range tests {
		if got := MatchInterest(tt.score); got != tt.want {
			t.Fatalf("MatchInterest(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestMatchInterestIsMonotonic(t *testing.T) {
	prev := MatchInterest(-0.5)
	for s := -0.5; s <= 1.5; s += 0.001 {
		cur := MatchInterest(s)
		if cur < prev {
			t.Fatalf("уровень уменьшился на %v: %v после %v", s, cur, prev)
		}
		prev = cur
	}
}

func TestMatchInterestRoundTrip(t *testing.T) {
	for _, level := range Interests() {
		if got := MatchInterest(level.Score()); got != level {
			t.Fatalf("MatchInterest(%v.Score()) = %v", level, got)
		}
	}
}

func TestParseInterest(t *testing.T) {
	got, err := ParseInterest(" high ")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got != InterestHigh {
		t.Fatalf("ожидали HIGH, получили %v", got)
	}
	if _, err := ParseInterest("huge"); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного уровня")
	}
}
