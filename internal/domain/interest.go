package domain

import (
	"fmt"
	"strings"
)

// Interest — упорядоченный уровень интереса с числовой оценкой.
type Interest int

const (
	InterestNone Interest = iota
	InterestLow
	InterestNormal
	InterestHigh
	InterestExtreme
)

var interestScores = [...]float64{0, 0.25, 0.5, 0.75, 1}

var interestNames = [...]string{"NONE", "LOW", "NORMAL", "HIGH", "EXTREME"}

// Interests возвращает все уровни по возрастанию.
func Interests() []Interest {
	return []Interest{InterestNone, InterestLow, InterestNormal, InterestHigh, InterestExtreme}
}

// Score возвращает числовую оценку уровня.
func (i Interest) Score() float64 {
	if i < InterestNone || i > InterestExtreme {
		return 0
	}
	return interestScores[i]
}

func (i Interest) String() string {
	if i < InterestNone || i > InterestExtreme {
		return fmt.Sprintf("Interest(%d)", int(i))
	}
	return interestNames[i]
}

// MatchInterest сопоставляет оценке ближайший уровень.
// Границы — середины между соседними уровнями, поэтому отображение монотонно.
func MatchInterest(score float64) Interest {
	levels := Interests()
	for idx := 0; idx < len(levels)-1; idx++ {
		mid := (levels[idx].Score() + levels[idx+1].Score()) / 2
		if score < mid {
			return levels[idx]
		}
	}
	return InterestExtreme
}

// ParseInterest разбирает имя уровня без учёта регистра.
func ParseInterest(raw string) (Interest, error) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	for _, level := range Interests() {
		if level.String() == upper {
			return level, nil
		}
	}
	return InterestNone, fmt.Errorf("unknown interest %q", raw)
}

// MarshalText кодирует уровень именем.
func (i Interest) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText разбирает уровень из имени.
func (i *Interest) UnmarshalText(text []byte) error {
	parsed, err := ParseInterest(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
