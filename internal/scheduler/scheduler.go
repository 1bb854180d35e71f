package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tepilora/newsradar/internal/config"
	"github.com/tepilora/newsradar/internal/dedup"
	"github.com/tepilora/newsradar/internal/normalize"
	"github.com/tepilora/newsradar/internal/observability"
	"github.com/tepilora/newsradar/internal/resilience"
	"github.com/tepilora/newsradar/internal/source"
	"github.com/tepilora/newsradar/internal/storage"
)

var ErrRecomputeFailed = errors.New("job set recomputation failed")

const tickInterval = time.Second

// FetcherRegistry resolves source IDs to adapters.
type FetcherRegistry interface {
	Get(id string) (source.Fetcher, bool)
	Heavy(id string) bool
}

// ScheduledJob is one recurring (topic, source) fetch pipeline.
type ScheduledJob struct {
	TopicQuery string
	Source     string
	NextRunAt  time.Time
	Interval   time.Duration
}

// Counters accumulate pipeline outcomes for status reporting.
type Counters struct {
	Fetched    atomic.Int64
	Inserted   atomic.Int64
	Updated    atomic.Int64
	Unchanged  atomic.Int64
	Suppressed atomic.Int64
	Invalid    atomic.Int64
	Failures   atomic.Int64
}

// Status is a point-in-time snapshot for the operator surface.
type Status struct {
	Jobs       []ScheduledJob
	Breakers   map[string]resilience.BreakerState
	Fetched    int64
	Inserted   int64
	Updated    int64
	Unchanged  int64
	Suppressed int64
	Invalid    int64
	Failures   int64
}

// Scheduler owns the scheduled job set and dispatches fetch pipelines
// across a bounded worker pool.
type Scheduler struct {
	cfg        *config.Config
	repo       storage.Repository
	registry   FetcherRegistry
	normalizer *normalize.Normalizer
	gateway    *dedup.Gateway
	retry      *resilience.RetryPolicy
	breakers   *resilience.BreakerSet
	logger     *observability.Logger

	mu   sync.Mutex
	jobs []ScheduledJob

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter

	counters Counters
}

func New(
	cfg *config.Config,
	repo storage.Repository,
	registry FetcherRegistry,
	normalizer *normalize.Normalizer,
	gateway *dedup.Gateway,
	retry *resilience.RetryPolicy,
	breakers *resilience.BreakerSet,
	logger *observability.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		repo:       repo,
		registry:   registry,
		normalizer: normalizer,
		gateway:    gateway,
		retry:      retry,
		breakers:   breakers,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Schedule derives the job set from the topic collection. Each active
// (topic, source) pair gets a deterministic initial offset spread across the
// stagger window by its rank in priority order, so startup load does not
// burst. Topics numerically above the low-priority threshold skip heavy
// sources.
func (s *Scheduler) Schedule(topics []storage.Topic, now time.Time) []ScheduledJob {
	ordered := make([]storage.Topic, 0, len(topics))
	for _, t := range topics {
		if t.Active {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var pairs []ScheduledJob
	for _, t := range ordered {
		for _, src := range t.Sources {
			if _, ok := s.registry.Get(src); !ok {
				s.logger.Warn("Topic references unknown source",
					"topic", t.Query, "source", src)
				continue
			}
			if t.Priority > s.cfg.Scheduler.LowPriorityThreshold && s.registry.Heavy(src) {
				continue
			}
			pairs = append(pairs, ScheduledJob{
				TopicQuery: t.Query,
				Source:     src,
				Interval:   t.UpdateFrequency,
			})
		}
	}

	window := s.cfg.GetStaggerWindow()
	for i := range pairs {
		offset := time.Duration(i) * window / time.Duration(len(pairs))
		pairs[i].NextRunAt = now.Add(offset)
	}
	return pairs
}

// Recompute reloads topics and replaces the job set. On any failure the
// previous job set stays in effect and the error is reported, not fatal.
func (s *Scheduler) Recompute(ctx context.Context) error {
	topics, err := s.repo.ListTopics(ctx, true)
	if err != nil {
		s.logger.Error("Keeping last-known-good job set", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrRecomputeFailed, err)
	}

	jobs := s.Schedule(topics, time.Now().UTC())

	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()

	s.logger.Info("Job set recomputed", "jobs", len(jobs))
	return nil
}

// Run drives the dispatch loop until the context is cancelled. In-flight
// pipelines are never preempted; cancellation stops dispatching and waits
// for running work.
func (s *Scheduler) Run(ctx context.Context) error {
	// A failed initial recompute is reported, not fatal: the refresh
	// ticker keeps retrying until a valid job set appears.
	if err := s.Recompute(ctx); err != nil {
		s.logger.Error("Starting without a job set", "error", err.Error())
	}

	var group errgroup.Group
	group.SetLimit(s.cfg.Scheduler.Workers)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	refresh := time.NewTicker(s.cfg.GetRefreshInterval())
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping, waiting for in-flight pipelines")
			if err := group.Wait(); err != nil {
				s.logger.Error("Pipeline wait failed", "error", err.Error())
			}
			return ctx.Err()
		case <-refresh.C:
			// Errors keep the previous job set; already logged.
			_ = s.Recompute(ctx)
		case now := <-ticker.C:
			s.dispatchDue(ctx, now.UTC(), &group)
		}
	}
}

// dispatchDue hands due jobs to the pool without ever blocking on a running
// pipeline. A job that finds the pool saturated keeps its run time and stays
// due for the next tick.
func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time, group *errgroup.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].NextRunAt.After(now) {
			continue
		}
		job := s.jobs[i]
		started := group.TryGo(func() error {
			s.runPipeline(ctx, job)
			return nil
		})
		if !started {
			return
		}
		s.jobs[i].NextRunAt = now.Add(s.jobs[i].Interval)
	}
}

// runPipeline executes one fetch -> normalize -> store unit of work.
// Per-record failures are logged and counted, never abort the rest of the
// batch.
func (s *Scheduler) runPipeline(ctx context.Context, job ScheduledJob) {
	fetcher, ok := s.registry.Get(job.Source)
	if !ok {
		return
	}

	if err := s.limiter(job.Source).Wait(ctx); err != nil {
		return
	}

	records, err := s.fetchWithResilience(ctx, fetcher, job)
	if err != nil {
		s.counters.Failures.Add(1)
		s.logger.Warn("Fetch pipeline failed",
			"topic", job.TopicQuery,
			"source", job.Source,
			"error", err.Error(),
		)
		return
	}
	s.counters.Fetched.Add(int64(len(records)))

	for _, raw := range records {
		article, err := s.normalizer.Normalize(raw, job.Source)
		if err != nil {
			s.counters.Invalid.Add(1)
			s.logger.Debug("Dropping invalid record",
				"source", job.Source, "error", err.Error())
			continue
		}
		if article.SearchKey == "" {
			article.SearchKey = job.TopicQuery
		}

		result, err := s.gateway.Store(ctx, article)
		if err != nil {
			s.counters.Failures.Add(1)
			s.logger.Warn("Store failed",
				"url", article.URL, "error", err.Error())
			continue
		}
		switch result {
		case dedup.Inserted:
			s.counters.Inserted.Add(1)
		case dedup.Updated:
			s.counters.Updated.Add(1)
		case dedup.Unchanged:
			s.counters.Unchanged.Add(1)
		case dedup.Suppressed:
			s.counters.Suppressed.Add(1)
		}
	}
}

// fetchWithResilience wraps the adapter call with the circuit breaker, the
// retry policy and a hard deadline per attempt.
func (s *Scheduler) fetchWithResilience(ctx context.Context, fetcher source.Fetcher, job ScheduledJob) ([]source.RawRecord, error) {
	breaker := s.breakers.For(job.Source)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	var records []source.RawRecord
	label := fmt.Sprintf("%s/%s", job.Source, job.TopicQuery)
	err := s.retry.Do(ctx, label, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.GetFetchDeadline())
		defer cancel()

		got, err := fetcher.Fetch(attemptCtx, job.TopicQuery)
		if err != nil {
			return err
		}
		records = got
		return nil
	})
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	breaker.RecordSuccess()
	return records, nil
}

func (s *Scheduler) limiter(sourceID string) *rate.Limiter {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()

	l, ok := s.limiters[sourceID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(s.cfg.Scheduler.SourceRPM)/60), 1)
		s.limiters[sourceID] = l
	}
	return l
}

// Snapshot reports the current job set, breaker states and counters.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	jobs := make([]ScheduledJob, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	return Status{
		Jobs:       jobs,
		Breakers:   s.breakers.States(),
		Fetched:    s.counters.Fetched.Load(),
		Inserted:   s.counters.Inserted.Load(),
		Updated:    s.counters.Updated.Load(),
		Unchanged:  s.counters.Unchanged.Load(),
		Suppressed: s.counters.Suppressed.Load(),
		Invalid:    s.counters.Invalid.Load(),
		Failures:   s.counters.Failures.Load(),
	}
}
