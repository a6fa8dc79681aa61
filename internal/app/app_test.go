package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"stream-recommender/internal/adapters/repo"
	"stream-recommender/internal/infra/config"
)

func TestNewScorerFromDefaults(t *testing.T) {
	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	svc, err := NewScorer(cfg, repo.NewMemory(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	desc := svc.ConfigurationDescriptions()
	if desc["integration_strategy"] == "" || desc["term_weighting"] == "" {
		t.Fatalf("unexpected descriptions %v", desc)
	}
}

func TestNewScorerRejectsUnknownStrategies(t *testing.T) {
	cases := map[string]func(*config.AppConfig){
		"weighting":  func(c *config.AppConfig) { c.Scoring.TermWeighting = "bm25" },
		"similarity": func(c *config.AppConfig) { c.Scoring.Similarity = "jaccard" },
		"weights":    func(c *config.AppConfig) { c.Scoring.FeatureWeights = "UNKNOWN:1" },
		"learning":   func(c *config.AppConfig) { c.Learning.Strategy = "forever" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := config.Parse()
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			mutate(&cfg)
			if _, err := NewScorer(cfg, repo.NewMemory(), nil, zerolog.Nop()); err == nil {
				t.Fatalf("ожидали ошибку конфигурации")
			}
		})
	}
}

func TestOpenInMemoryForDev(t *testing.T) {
	cfg := config.AppConfig{AppEnv: "dev"}
	res, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	defer res.Close()
	if _, ok := res.Store.(*repo.Memory); !ok {
		t.Fatalf("ожидали хранилище в памяти, получили %T", res.Store)
	}
	if res.Cache != nil {
		t.Fatalf("без REDIS_ADDR кэш не создаётся")
	}

	cfg.AppEnv = "prod"
	if _, err := Open(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("в prod без PG_DSN ожидали ошибку")
	}
}
