package config

import (
	"fmt"
	"time"
)

type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Retry         RetryConfig         `yaml:"retry"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	Dedup         DedupConfig         `yaml:"dedup"`
	Search        SearchConfig        `yaml:"search"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Sources       []SourceConfig      `yaml:"sources"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type HTTPConfig struct {
	UserAgent                 string `yaml:"user_agent"`
	TotalTimeoutMS            int    `yaml:"total_timeout_ms"`
	FetchDeadlineS            int    `yaml:"fetch_deadline_s"`
	MaxIdleConnections        int    `yaml:"max_idle_connections"`
	MaxIdleConnectionsPerHost int    `yaml:"max_idle_connections_per_host"`
	IdleConnectionTimeoutS    int    `yaml:"idle_connection_timeout_s"`
}

type RetryConfig struct {
	MaxRetries int `yaml:"max_retries"`
	BaseMS     int `yaml:"base_ms"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownS        int `yaml:"cooldown_s"`
}

type DedupConfig struct {
	WindowHours         int     `yaml:"window_hours"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

type SearchConfig struct {
	DefaultMaxAgeDays int `yaml:"default_max_age_days"`
	MaxResults        int `yaml:"max_results"`
}

type SchedulerConfig struct {
	Workers              int `yaml:"workers"`
	StaggerWindowS       int `yaml:"stagger_window_s"`
	RefreshIntervalS     int `yaml:"refresh_interval_s"`
	LowPriorityThreshold int `yaml:"low_priority_threshold"`
	SourceRPM            int `yaml:"source_rpm"`
}

// SourceConfig describes one external origin of articles. Kind selects the
// adapter implementation: "gnews" (search-API backed feed), "rss" (plain
// feed) or "scrape" (listing-page scraper, a heavy source).
type SourceConfig struct {
	ID        string           `yaml:"id"`
	Kind      string           `yaml:"kind"`
	URL       string           `yaml:"url"`
	Category  string           `yaml:"category"`
	Active    bool             `yaml:"active"`
	Selectors *SelectorsConfig `yaml:"selectors,omitempty"`
}

// SelectorsConfig holds CSS selectors for scrape sources.
type SelectorsConfig struct {
	CardSelectors  string   `yaml:"card_selectors"`
	TitleSelectors []string `yaml:"title_selectors"`
	URLSelectors   []string `yaml:"url_selectors"`
	BodySelectors  []string `yaml:"body_selectors"`
	ImageSelectors []string `yaml:"image_selectors"`
	DateSelectors  []string `yaml:"date_selectors"`
}

type StorageConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
}

type ObservabilityConfig struct {
	LogPath    string `yaml:"log_path"`
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Validation
func (c *Config) Validate() error {
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent is required")
	}
	if c.HTTP.TotalTimeoutMS <= 0 {
		return fmt.Errorf("http.total_timeout_ms must be > 0")
	}
	if c.HTTP.FetchDeadlineS <= 0 {
		return fmt.Errorf("http.fetch_deadline_s must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.BaseMS <= 0 {
		return fmt.Errorf("retry.base_ms must be > 0")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Breaker.CooldownS <= 0 {
		return fmt.Errorf("breaker.cooldown_s must be > 0")
	}
	if c.Dedup.WindowHours <= 0 {
		return fmt.Errorf("dedup.window_hours must be > 0")
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0, 1]")
	}
	if c.Search.DefaultMaxAgeDays <= 0 {
		return fmt.Errorf("search.default_max_age_days must be > 0")
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.StaggerWindowS <= 0 {
		return fmt.Errorf("scheduler.stagger_window_s must be > 0")
	}
	if c.Scheduler.RefreshIntervalS <= 0 {
		return fmt.Errorf("scheduler.refresh_interval_s must be > 0")
	}
	if c.Scheduler.LowPriorityThreshold <= 0 {
		return fmt.Errorf("scheduler.low_priority_threshold must be > 0")
	}
	if c.Scheduler.SourceRPM <= 0 {
		return fmt.Errorf("scheduler.source_rpm must be > 0")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate source id: %s", s.ID)
		}
		seen[s.ID] = true
		if s.Kind != "gnews" && s.Kind != "rss" && s.Kind != "scrape" {
			return fmt.Errorf("sources[%d].kind must be 'gnews', 'rss' or 'scrape'", i)
		}
		if s.Kind != "gnews" && s.URL == "" {
			return fmt.Errorf("sources[%d].url is required for kind %s", i, s.Kind)
		}
		if s.Kind == "scrape" && s.Selectors == nil {
			return fmt.Errorf("sources[%d].selectors is required for scrape sources", i)
		}
	}
	if c.Storage.Driver != "sqlite" && c.Storage.Driver != "mssql" {
		return fmt.Errorf("storage.driver must be 'sqlite' or 'mssql'")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Storage.CommandTimeoutMS <= 0 {
		return fmt.Errorf("storage.command_timeout_ms must be > 0")
	}
	if c.Observability.LogPath == "" {
		return fmt.Errorf("observability.log_path is required")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("observability.log_level is required")
	}
	return nil
}

// Getters
func (c *Config) GetTotalTimeout() time.Duration {
	return time.Duration(c.HTTP.TotalTimeoutMS) * time.Millisecond
}

func (c *Config) GetFetchDeadline() time.Duration {
	return time.Duration(c.HTTP.FetchDeadlineS) * time.Second
}

func (c *Config) GetIdleConnectionTimeout() time.Duration {
	return time.Duration(c.HTTP.IdleConnectionTimeoutS) * time.Second
}

func (c *Config) GetRetryBase() time.Duration {
	return time.Duration(c.Retry.BaseMS) * time.Millisecond
}

func (c *Config) GetBreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownS) * time.Second
}

func (c *Config) GetDedupWindow() time.Duration {
	return time.Duration(c.Dedup.WindowHours) * time.Hour
}

func (c *Config) GetStaggerWindow() time.Duration {
	return time.Duration(c.Scheduler.StaggerWindowS) * time.Second
}

func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Scheduler.RefreshIntervalS) * time.Second
}

func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Storage.CommandTimeoutMS) * time.Millisecond
}
