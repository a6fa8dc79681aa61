package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("LEARNING_BIN_WIDTH", "12h")
	t.Setenv("SCORING_TREAT_MISSING_AS_ZERO", "true")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cfg.Queues.Backend != "redis" || cfg.Queues.Score != "score_jobs" {
		t.Fatalf("unexpected queue config %+v", cfg.Queues)
	}
	if cfg.Learning.BinWidth != 12*time.Hour || cfg.Learning.AllBinsWidth != 720*time.Hour {
		t.Fatalf("unexpected learning config %+v", cfg.Learning)
	}
	if !cfg.Scoring.TreatMissingAsZero {
		t.Fatalf("ожидали TreatMissingAsZero=true")
	}
	if !cfg.Learning.StartTime.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start time %s", cfg.Learning.StartTime)
	}
}

func TestParseInvalidDuration(t *testing.T) {
	t.Setenv("SCORING_DECAY_HALF_LIFE", "week")
	if _, err := Parse(); err == nil {
		t.Fatalf("ожидали ошибку разбора")
	}
}
