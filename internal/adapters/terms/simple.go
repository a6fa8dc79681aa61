// Package terms выделяет термы из текста сообщений, пришедших без разметки.
package terms

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"stream-recommender/internal/domain"
)

var defaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "in", "is", "it", "of", "on", "or", "that", "the", "to", "with",
	"и", "в", "во", "не", "что", "на", "с", "со", "как", "а", "то", "по", "но", "из", "у", "за", "от", "это", "для",
}

// SimpleExtractor выделяет термы эвристикой: слова, #теги и @упоминания.
type SimpleExtractor struct {
	MinLength int
	stopWords map[string]struct{}
}

// NewSimple создаёт экстрактор со стандартным списком стоп-слов.
func NewSimple(minLength int) *SimpleExtractor {
	if minLength <= 0 {
		minLength = 3
	}
	stop := make(map[string]struct{}, len(defaultStopWords))
	for _, w := range defaultStopWords {
		stop[w] = struct{}{}
	}
	return &SimpleExtractor{MinLength: minLength, stopWords: stop}
}

// Extract заполняет термы текстовых частей без термов и дополняет свойства tags и mentions.
// Вес ключевого слова — частота в части, нормированная на максимальную.
func (e *SimpleExtractor) Extract(msg *domain.Message) {
	tags := newOrderedSet(msg.PropertyList(domain.PropertyTags))
	mentions := newOrderedSet(msg.PropertyList(domain.PropertyMentions))

	for i := range msg.Parts {
		part := &msg.Parts[i]
		if !part.IsText() || len(part.ScoredTerms) > 0 {
			continue
		}
		counts := make(map[string]int)
		order := make([]string, 0)
		partTags := newOrderedSet(nil)
		for _, raw := range strings.Fields(part.Content) {
			if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
				continue
			}
			switch {
			case strings.HasPrefix(raw, "#"):
				if tag := normalize(raw[1:]); tag != "" {
					partTags.add(tag)
					tags.add(tag)
				}
			case strings.HasPrefix(raw, "@"):
				if user := strings.TrimFunc(raw[1:], isTrim); user != "" {
					mentions.add(user)
				}
			default:
				word := normalize(raw)
				if utf8.RuneCountInString(word) < e.MinLength {
					continue
				}
				if _, stop := e.stopWords[word]; stop {
					continue
				}
				if counts[word] == 0 {
					order = append(order, word)
				}
				counts[word]++
			}
		}

		maxCount := 0
		for _, c := range counts {
			if c > maxCount {
				maxCount = c
			}
		}
		scored := make([]domain.ScoredTerm, 0, len(order)+len(partTags.items))
		for _, word := range order {
			scored = append(scored, domain.ScoredTerm{
				Term:   domain.Term{Category: domain.TermCategoryKeyword, Value: word, GroupID: msg.GroupID},
				Weight: float64(counts[word]) / float64(maxCount),
			})
		}
		for _, tag := range partTags.items {
			scored = append(scored, domain.ScoredTerm{
				Term:   domain.Term{Category: domain.TermCategoryTag, Value: tag, GroupID: msg.GroupID},
				Weight: 1,
			})
		}
		part.ScoredTerms = scored
	}

	if len(tags.items) > 0 {
		msg.SetProperty(domain.PropertyTags, strings.Join(tags.items, ","))
	}
	if len(mentions.items) > 0 {
		msg.SetProperty(domain.PropertyMentions, strings.Join(mentions.items, ","))
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimFunc(s, isTrim))
}

func isTrim(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func newOrderedSet(initial []string) *orderedSet {
	s := &orderedSet{seen: make(map[string]struct{})}
	for _, v := range initial {
		s.add(v)
	}
	return s
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
