package domain

import "testing"

func TestDistinctScoredTermsTakesMaxAcrossParts(t *testing.T) {
	golang := Term{Category: TermCategoryKeyword, Value: "golang"}
	redis := Term{Category: TermCategoryKeyword, Value: "redis"}
	msg := Message{Parts: []MessagePart{
		{MimeType: "text/plain", ScoredTerms: []ScoredTerm{{Term: golang, Weight: 0.2}, {Term: redis, Weight: 0.5}}},
		{MimeType: "text/html", ScoredTerms: []ScoredTerm{{Term: golang, Weight: 0.9}}},
	}}

	terms := msg.DistinctScoredTerms()
	if len(terms) != 2 {
		t.Fatalf("ожидали 2 терма, получили %d", len(terms))
	}
	if terms[0].Term.Key() != golang.Key() || terms[0].Weight != 0.9 {
		t.Fatalf("ожидали golang с весом 0.9, получили %+v", terms[0])
	}
	if terms[1].Weight != 0.5 {
		t.Fatalf("ожидали redis с весом 0.5, получили %+v", terms[1])
	}
}

func TestPropertyList(t *testing.T) {
	msg := Message{}
	msg.SetProperty(PropertyMentions, " alice, ,bob ")
	list := msg.PropertyList(PropertyMentions)
	if len(list) != 2 || list[0] != "alice" || list[1] != "bob" {
		t.Fatalf("unexpected list: %v", list)
	}
	if !msg.PropertyContains(PropertyMentions, "bob") {
		t.Fatalf("ожидали bob среди упоминаний")
	}
	if msg.PropertyContains(PropertyLikes, "bob") {
		t.Fatalf("лайков нет")
	}
}

func TestTermKeyIncludesGroup(t *testing.T) {
	plain := Term{Category: "keyword", Value: "go"}
	scoped := Term{Category: "keyword", Value: "go", GroupID: "g1"}
	if plain.Key() == scoped.Key() {
		t.Fatalf("ключи термов разных групп должны отличаться")
	}
}

func TestFeatureRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewFeatureRegistry(Feature{ID: "X", Type: FeatureTypeBoolean}, Feature{ID: "X", Type: FeatureTypeNumeric})
	if err == nil {
		t.Fatalf("ожидали ошибку для повторного признака")
	}
	r := DefaultFeatureRegistry()
	if !r.Contains(FeatureContentMatch) {
		t.Fatalf("реестр по умолчанию должен содержать CONTENT_MATCH")
	}
}
