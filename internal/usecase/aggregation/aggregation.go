// Package aggregation сводит вектор признаков к одной оценке релевантности.
package aggregation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"stream-recommender/internal/domain"
)

// Aggregator сводит агрегат признаков к числу в [0,1].
type Aggregator interface {
	Aggregate(fa domain.FeatureAggregate) float64
	ConfigurationDescription() string
}

// FixedWeight берёт максимум weight×value по настроенным признакам.
type FixedWeight struct {
	Weights map[domain.FeatureID]float64
}

// Aggregate возвращает максимум произведений, обрезанный до [0,1].
func (a FixedWeight) Aggregate(fa domain.FeatureAggregate) float64 {
	best := 0.0
	found := false
	for id, weight := range a.Weights {
		if !fa.Has(id) {
			continue
		}
		v := weight * fa.Value(id)
		if math.IsNaN(v) {
			v = 0
		}
		if !found || v > best {
			best = v
			found = true
		}
	}
	return clamp(best)
}

func (a FixedWeight) ConfigurationDescription() string {
	return "fixed weight max aggregation: " + describe(a.Weights)
}

// ThresholdValidator отсекает оценки с низкой уверенностью.
type ThresholdValidator struct {
	Min map[domain.FeatureID]float64
}

// Validate проходит, если порогов нет или хотя бы один признак достигает минимума.
// Отсутствующий признак считается равным 0.
func (v ThresholdValidator) Validate(fa domain.FeatureAggregate) bool {
	if len(v.Min) == 0 {
		return true
	}
	for id, threshold := range v.Min {
		if fa.Value(id) >= threshold {
			return true
		}
	}
	return false
}

func (v ThresholdValidator) ConfigurationDescription() string {
	if len(v.Min) == 0 {
		return "threshold validator: disabled"
	}
	return "threshold validator (any): " + describe(v.Min)
}

// ParseFeatureMap разбирает строку вида "AUTHOR:1,MENTION:0.5".
// Признаки проверяются по реестру.
func ParseFeatureMap(raw string, registry domain.FeatureRegistry) (map[domain.FeatureID]float64, error) {
	out := make(map[domain.FeatureID]float64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("feature map: %q: ожидается FEATURE:value", pair)
		}
		id := domain.FeatureID(strings.ToUpper(strings.TrimSpace(name)))
		if !registry.Contains(id) {
			return nil, fmt.Errorf("feature map: unknown feature %s", id)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("feature map: %s: %w", id, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("feature map: %s: значение %q не является конечным числом", id, value)
		}
		out[id] = f
	}
	return out, nil
}

func describe(m map[domain.FeatureID]float64) string {
	keys := make([]string, 0, len(m))
	for id := range m {
		keys = append(keys, string(id))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.FormatFloat(m[domain.FeatureID(k)], 'g', -1, 64))
	}
	return strings.Join(parts, ", ")
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
