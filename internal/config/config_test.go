package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			UserAgent:      "test-agent",
			TotalTimeoutMS: 30000,
			FetchDeadlineS: 20,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseMS:     500,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CooldownS:        300,
		},
		Dedup: DedupConfig{
			WindowHours:         24,
			SimilarityThreshold: 0.85,
		},
		Search: SearchConfig{
			DefaultMaxAgeDays: 7,
			MaxResults:        50,
		},
		Scheduler: SchedulerConfig{
			Workers:              8,
			StaggerWindowS:       120,
			RefreshIntervalS:     300,
			LowPriorityThreshold: 5,
			SourceRPM:            30,
		},
		Sources: []SourceConfig{
			{ID: "google-news", Kind: "gnews", Active: true},
		},
		Storage: StorageConfig{
			Driver:           "sqlite",
			DSN:              "data/test.db",
			CommandTimeoutMS: 5000,
		},
		Observability: ObservabilityConfig{
			LogPath:  "logs/test.log",
			LogLevel: "info",
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing user agent", func(c *Config) { c.HTTP.UserAgent = "" }},
		{"zero retry base", func(c *Config) { c.Retry.BaseMS = 0 }},
		{"threshold above one", func(c *Config) { c.Dedup.SimilarityThreshold = 1.5 }},
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"unknown source kind", func(c *Config) { c.Sources[0].Kind = "ftp" }},
		{"rss without url", func(c *Config) { c.Sources[0].Kind = "rss"; c.Sources[0].URL = "" }},
		{"scrape without selectors", func(c *Config) { c.Sources[0].Kind = "scrape"; c.Sources[0].URL = "https://x.example" }},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "oracle" }},
		{"zero workers", func(c *Config) { c.Scheduler.Workers = 0 }},
	}

	for _, tt := range tests {
		cfg := validConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestValidateRejectsDuplicateSourceIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = append(cfg.Sources, SourceConfig{ID: "google-news", Kind: "gnews", Active: true})
	if err := cfg.Validate(); err == nil {
		t.Error("Expected duplicate source id rejected")
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := validConfig()

	if cfg.GetRetryBase() != 500*time.Millisecond {
		t.Errorf("Unexpected retry base: %v", cfg.GetRetryBase())
	}
	if cfg.GetBreakerCooldown() != 300*time.Second {
		t.Errorf("Unexpected cooldown: %v", cfg.GetBreakerCooldown())
	}
	if cfg.GetDedupWindow() != 24*time.Hour {
		t.Errorf("Unexpected dedup window: %v", cfg.GetDedupWindow())
	}
	if cfg.GetStaggerWindow() != 120*time.Second {
		t.Errorf("Unexpected stagger window: %v", cfg.GetStaggerWindow())
	}
}
