package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tepilora/newsradar/internal/config"
	"github.com/tepilora/newsradar/internal/dedup"
	"github.com/tepilora/newsradar/internal/normalize"
	"github.com/tepilora/newsradar/internal/observability"
	"github.com/tepilora/newsradar/internal/resilience"
	"github.com/tepilora/newsradar/internal/scheduler"
	"github.com/tepilora/newsradar/internal/search"
	"github.com/tepilora/newsradar/internal/source"
	"github.com/tepilora/newsradar/internal/storage"
	"github.com/tepilora/newsradar/internal/storage/mssql"
	"github.com/tepilora/newsradar/internal/storage/sqlite"
)

// defaultTopics seed the topic table on first start so the scheduler has
// work before any operator input.
var defaultTopics = []storage.Topic{
	{Query: "stock market", Category: "markets", Priority: 1},
	{Query: "federal reserve", Category: "economy", Priority: 1},
	{Query: "inflation", Category: "economy", Priority: 2},
	{Query: "interest rates", Category: "economy", Priority: 2},
	{Query: "geopolitics", Category: "geopolitics", Priority: 3},
	{Query: "oil prices", Category: "commodities", Priority: 3},
	{Query: "gold price", Category: "commodities", Priority: 4},
	{Query: "currency exchange", Category: "currencies", Priority: 4},
}

const defaultTopicFrequency = 30 * time.Minute

// ErrTopicScheduled rejects removal of a topic the scheduler still runs.
var ErrTopicScheduled = errors.New("topic is still scheduled")

// Orchestrator wires configuration into the running pipeline components.
type Orchestrator struct {
	cfg       *config.Config
	logger    *observability.Logger
	repo      storage.Repository
	registry  *source.Registry
	scheduler *scheduler.Scheduler
	engine    *search.Engine
}

func NewOrchestrator(cfg *config.Config, logger *observability.Logger) (*Orchestrator, error) {
	repo, err := openRepository(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	registry, err := source.NewRegistry(cfg, logger)
	if err != nil {
		if cerr := repo.Close(); cerr != nil {
			logger.Error("Failed to close storage", "error", cerr.Error())
		}
		return nil, fmt.Errorf("failed to build source registry: %w", err)
	}

	gateway := dedup.NewGateway(repo, cfg.GetDedupWindow(), cfg.Dedup.SimilarityThreshold, logger)
	retry := resilience.NewRetryPolicy(cfg.Retry.MaxRetries, cfg.GetRetryBase(), logger)
	breakers := resilience.NewBreakerSet(cfg.Breaker.FailureThreshold, cfg.GetBreakerCooldown(), logger)

	sched := scheduler.New(cfg, repo, registry, normalize.NewNormalizer(), gateway, retry, breakers, logger)

	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		repo:      repo,
		registry:  registry,
		scheduler: sched,
		engine:    search.NewEngine(repo, cfg.Search.MaxResults),
	}, nil
}

func openRepository(cfg *config.Config, logger *observability.Logger) (storage.Repository, error) {
	switch cfg.Storage.Driver {
	case "mssql":
		return mssql.NewRepository(cfg.Storage.DSN, cfg.Storage.CommandTimeoutMS, logger)
	default:
		return sqlite.NewRepository(cfg.Storage.DSN, cfg.Storage.CommandTimeoutMS, logger)
	}
}

// Run seeds topics when the table is empty and drives the scheduler until
// the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.seedTopics(ctx); err != nil {
		return err
	}

	o.logger.Info("Starting scheduler",
		"workers", o.cfg.Scheduler.Workers,
		"sources", len(o.registry.IDs()),
	)
	return o.scheduler.Run(ctx)
}

func (o *Orchestrator) seedTopics(ctx context.Context) error {
	existing, err := o.repo.ListTopics(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	o.logger.Info("Seeding default topics", "count", len(defaultTopics))
	for _, t := range defaultTopics {
		t.Active = true
		t.Sources = o.registry.IDs()
		t.UpdateFrequency = defaultTopicFrequency
		if err := o.repo.UpsertTopic(ctx, &t); err != nil {
			return fmt.Errorf("failed to seed topic %q: %w", t.Query, err)
		}
	}
	return nil
}

func (o *Orchestrator) Search(ctx context.Context, query string, maxAge time.Duration, sources []string) ([]search.ScoredArticle, error) {
	if maxAge <= 0 {
		maxAge = time.Duration(o.cfg.Search.DefaultMaxAgeDays) * 24 * time.Hour
	}
	return o.engine.Search(ctx, query, maxAge, sources)
}

func (o *Orchestrator) ListTopics(ctx context.Context) ([]storage.Topic, error) {
	return o.repo.ListTopics(ctx, false)
}

func (o *Orchestrator) AddTopic(ctx context.Context, query, category string, priority int, sources []string, frequency time.Duration) error {
	if len(sources) == 0 {
		sources = o.registry.IDs()
	}
	if frequency <= 0 {
		frequency = defaultTopicFrequency
	}
	if category == "" {
		category = "general"
	}
	topic := &storage.Topic{
		Query:           query,
		Category:        category,
		Priority:        priority,
		Active:          true,
		Sources:         sources,
		UpdateFrequency: frequency,
	}
	return o.repo.UpsertTopic(ctx, topic)
}

// RemoveTopic deletes a topic. An active topic is still referenced by
// scheduled jobs and must be toggled off first.
func (o *Orchestrator) RemoveTopic(ctx context.Context, query string) error {
	topic, err := o.repo.GetTopic(ctx, query)
	if err != nil {
		return err
	}
	if topic.Active {
		return fmt.Errorf("%w: %q must be deactivated before removal", ErrTopicScheduled, query)
	}
	return o.repo.DeleteTopic(ctx, query)
}

func (o *Orchestrator) ToggleTopic(ctx context.Context, query string, active bool) error {
	return o.repo.SetTopicActive(ctx, query, active)
}

// Status reports scheduler counters, breaker states and store size.
func (o *Orchestrator) Status(ctx context.Context) (scheduler.Status, int, error) {
	status := o.scheduler.Snapshot()
	stored, err := o.repo.CountRecent(ctx, o.cfg.GetDedupWindow())
	if err != nil {
		return status, 0, err
	}
	return status, stored, nil
}

func (o *Orchestrator) Close() {
	if err := o.repo.Close(); err != nil {
		o.logger.Error("Failed to close storage", "error", err.Error())
	}
}
