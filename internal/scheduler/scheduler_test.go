package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tepilora/newsradar/internal/config"
	"github.com/tepilora/newsradar/internal/dedup"
	"github.com/tepilora/newsradar/internal/normalize"
	"github.com/tepilora/newsradar/internal/observability"
	"github.com/tepilora/newsradar/internal/resilience"
	"github.com/tepilora/newsradar/internal/source"
	"github.com/tepilora/newsradar/internal/storage"
)

type stubFetcher struct {
	id      string
	heavy   bool
	records []source.RawRecord
	err     error
	calls   int
}

func (f *stubFetcher) ID() string  { return f.id }
func (f *stubFetcher) Heavy() bool { return f.heavy }
func (f *stubFetcher) Fetch(ctx context.Context, query string) ([]source.RawRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type stubRegistry struct {
	fetchers map[string]*stubFetcher
}

func (r *stubRegistry) Get(id string) (source.Fetcher, bool) {
	f, ok := r.fetchers[id]
	return f, ok
}

func (r *stubRegistry) Heavy(id string) bool {
	f, ok := r.fetchers[id]
	return ok && f.heavy
}

type memRepo struct {
	articles   map[string]*storage.Article
	topics     []storage.Topic
	ordinal    int64
	listErr    error
	listCalled int
}

func newMemRepo() *memRepo {
	return &memRepo{articles: make(map[string]*storage.Article)}
}

func (m *memRepo) UpsertArticle(ctx context.Context, a *storage.Article) (storage.UpsertResult, error) {
	if existing, ok := m.articles[a.URL]; ok {
		if existing.Checksum != "" && existing.Checksum == a.Checksum {
			return storage.UpsertUnchanged, nil
		}
		a.Ordinal = existing.Ordinal
		m.articles[a.URL] = a
		return storage.UpsertUpdated, nil
	}
	m.ordinal++
	a.Ordinal = m.ordinal
	m.articles[a.URL] = a
	return storage.UpsertInserted, nil
}

func (m *memRepo) ExistsByURL(ctx context.Context, url string) (bool, error) {
	_, ok := m.articles[url]
	return ok, nil
}

func (m *memRepo) FindArticles(ctx context.Context, filter storage.ArticleFilter) ([]storage.Article, error) {
	var out []storage.Article
	for _, a := range m.articles {
		out = append(out, *a)
	}
	return out, nil
}

func (m *memRepo) RecentTitles(ctx context.Context, since time.Time) ([]storage.TitleEntry, error) {
	var entries []storage.TitleEntry
	for _, a := range m.articles {
		if !a.FetchedAt.Before(since) {
			entries = append(entries, storage.TitleEntry{URL: a.URL, Title: a.Title})
		}
	}
	return entries, nil
}

func (m *memRepo) CountRecent(ctx context.Context, window time.Duration) (int, error) {
	return len(m.articles), nil
}

func (m *memRepo) ListTopics(ctx context.Context, activeOnly bool) ([]storage.Topic, error) {
	m.listCalled++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.topics, nil
}

func (m *memRepo) GetTopic(ctx context.Context, query string) (*storage.Topic, error) {
	return nil, storage.ErrNotFound
}
func (m *memRepo) UpsertTopic(ctx context.Context, topic *storage.Topic) error { return nil }
func (m *memRepo) DeleteTopic(ctx context.Context, query string) error         { return nil }
func (m *memRepo) SetTopicActive(ctx context.Context, query string, active bool) error {
	return nil
}
func (m *memRepo) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			FetchDeadlineS: 5,
		},
		Retry: config.RetryConfig{
			MaxRetries: 1,
			BaseMS:     1,
		},
		Breaker: config.BreakerConfig{
			FailureThreshold: 3,
			CooldownS:        60,
		},
		Dedup: config.DedupConfig{
			WindowHours:         24,
			SimilarityThreshold: 0.85,
		},
		Scheduler: config.SchedulerConfig{
			Workers:              4,
			StaggerWindowS:       60,
			RefreshIntervalS:     300,
			LowPriorityThreshold: 5,
			SourceRPM:            6000,
		},
	}
}

func newTestScheduler(repo *memRepo, registry *stubRegistry) *Scheduler {
	cfg := testConfig()
	logger := observability.NewNopLogger()
	gateway := dedup.NewGateway(repo, cfg.GetDedupWindow(), cfg.Dedup.SimilarityThreshold, logger)
	retry := resilience.NewRetryPolicy(cfg.Retry.MaxRetries, cfg.GetRetryBase(), logger)
	breakers := resilience.NewBreakerSet(cfg.Breaker.FailureThreshold, cfg.GetBreakerCooldown(), logger)
	return New(cfg, repo, registry, normalize.NewNormalizer(), gateway, retry, breakers, logger)
}

func TestScheduleStaggersJobOffsets(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{
		"feed-a": {id: "feed-a"},
		"feed-b": {id: "feed-b"},
	}}
	s := newTestScheduler(newMemRepo(), registry)

	now := time.Now().UTC()
	jobs := s.Schedule([]storage.Topic{
		{Query: "inflation", Priority: 1, Active: true, Sources: []string{"feed-a", "feed-b"}, UpdateFrequency: time.Hour},
	}, now)

	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].NextRunAt.Equal(jobs[1].NextRunAt) {
		t.Error("Expected distinct staggered offsets")
	}
	window := 60 * time.Second
	for _, j := range jobs {
		offset := j.NextRunAt.Sub(now)
		if offset < 0 || offset >= window {
			t.Errorf("Offset %v outside stagger window", offset)
		}
	}
}

func TestScheduleOrdersByPriority(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{
		"feed-a": {id: "feed-a"},
	}}
	s := newTestScheduler(newMemRepo(), registry)

	now := time.Now().UTC()
	jobs := s.Schedule([]storage.Topic{
		{Query: "background", Priority: 7, Active: true, Sources: []string{"feed-a"}, UpdateFrequency: time.Hour},
		{Query: "breaking", Priority: 1, Active: true, Sources: []string{"feed-a"}, UpdateFrequency: time.Hour},
	}, now)

	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].TopicQuery != "breaking" {
		t.Errorf("Expected highest priority first, got %q", jobs[0].TopicQuery)
	}
	if !jobs[0].NextRunAt.Before(jobs[1].NextRunAt) {
		t.Error("Expected higher priority topic to get the earlier slot")
	}
}

func TestScheduleExcludesHeavySourcesForLowPriority(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{
		"feed-a":    {id: "feed-a"},
		"city-page": {id: "city-page", heavy: true},
	}}
	s := newTestScheduler(newMemRepo(), registry)

	jobs := s.Schedule([]storage.Topic{
		{Query: "niche", Priority: 9, Active: true, Sources: []string{"feed-a", "city-page"}, UpdateFrequency: time.Hour},
		{Query: "breaking", Priority: 1, Active: true, Sources: []string{"feed-a", "city-page"}, UpdateFrequency: time.Hour},
	}, time.Now().UTC())

	var nicheSources, breakingSources []string
	for _, j := range jobs {
		switch j.TopicQuery {
		case "niche":
			nicheSources = append(nicheSources, j.Source)
		case "breaking":
			breakingSources = append(breakingSources, j.Source)
		}
	}
	if len(nicheSources) != 1 || nicheSources[0] != "feed-a" {
		t.Errorf("Expected low-priority topic limited to light sources, got %v", nicheSources)
	}
	if len(breakingSources) != 2 {
		t.Errorf("Expected high-priority topic on both sources, got %v", breakingSources)
	}
}

func TestScheduleSkipsInactiveAndUnknown(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{
		"feed-a": {id: "feed-a"},
	}}
	s := newTestScheduler(newMemRepo(), registry)

	jobs := s.Schedule([]storage.Topic{
		{Query: "paused", Priority: 1, Active: false, Sources: []string{"feed-a"}, UpdateFrequency: time.Hour},
		{Query: "live", Priority: 1, Active: true, Sources: []string{"feed-a", "gone"}, UpdateFrequency: time.Hour},
	}, time.Now().UTC())

	if len(jobs) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(jobs))
	}
	if jobs[0].TopicQuery != "live" || jobs[0].Source != "feed-a" {
		t.Errorf("Unexpected job %+v", jobs[0])
	}
}

func TestDispatchDueAdvancesNextRun(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{"feed-a": {id: "feed-a"}}}
	s := newTestScheduler(newMemRepo(), registry)

	now := time.Now().UTC()
	s.jobs = []ScheduledJob{
		{TopicQuery: "due", Source: "feed-a", NextRunAt: now.Add(-time.Second), Interval: time.Hour},
		{TopicQuery: "later", Source: "feed-a", NextRunAt: now.Add(time.Minute), Interval: time.Hour},
	}

	var group errgroup.Group
	group.SetLimit(4)
	s.dispatchDue(context.Background(), now, &group)
	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}

	if registry.fetchers["feed-a"].calls == 0 {
		t.Error("Expected the due job dispatched")
	}
	if !s.jobs[0].NextRunAt.Equal(now.Add(time.Hour)) {
		t.Errorf("Expected next run advanced by interval, got %v", s.jobs[0].NextRunAt)
	}
	if !s.jobs[1].NextRunAt.Equal(now.Add(time.Minute)) {
		t.Errorf("Expected not-yet-due job untouched, got %v", s.jobs[1].NextRunAt)
	}
}

func TestDispatchDueNeverBlocksOnSaturatedPool(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{"feed-a": {id: "feed-a"}}}
	s := newTestScheduler(newMemRepo(), registry)

	now := time.Now().UTC()
	s.jobs = []ScheduledJob{
		{TopicQuery: "due", Source: "feed-a", NextRunAt: now.Add(-time.Second), Interval: time.Hour},
	}

	var group errgroup.Group
	group.SetLimit(1)
	release := make(chan struct{})
	if !group.TryGo(func() error {
		<-release
		return nil
	}) {
		t.Fatal("Expected to occupy the pool")
	}

	done := make(chan struct{})
	go func() {
		s.dispatchDue(context.Background(), now, &group)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatchDue blocked on a running pipeline")
	}

	if !s.jobs[0].NextRunAt.Equal(now.Add(-time.Second)) {
		t.Error("Expected undispatched job to stay due for the next tick")
	}
	close(release)
	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}

	// With capacity back, the job dispatches on the next tick.
	s.dispatchDue(context.Background(), now, &group)
	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}
	if registry.fetchers["feed-a"].calls == 0 {
		t.Error("Expected the job dispatched once the pool had room")
	}
}

func TestRecomputeKeepsLastKnownGoodOnError(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{"feed-a": {id: "feed-a"}}}
	repo := newMemRepo()
	repo.topics = []storage.Topic{
		{Query: "inflation", Priority: 1, Active: true, Sources: []string{"feed-a"}, UpdateFrequency: time.Hour},
	}
	s := newTestScheduler(repo, registry)

	if err := s.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if len(s.Snapshot().Jobs) != 1 {
		t.Fatalf("Expected 1 job after recompute")
	}

	repo.listErr = errors.New("store down")
	err := s.Recompute(context.Background())
	if !errors.Is(err, ErrRecomputeFailed) {
		t.Errorf("Expected ErrRecomputeFailed, got %v", err)
	}
	if len(s.Snapshot().Jobs) != 1 {
		t.Error("Expected previous job set retained after failed recompute")
	}
}

func TestRunSurvivesFailedInitialRecompute(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{"feed-a": {id: "feed-a"}}}
	repo := newMemRepo()
	repo.listErr = errors.New("store down")
	s := newTestScheduler(repo, registry)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if errors.Is(err, ErrRecomputeFailed) {
		t.Fatal("Expected failed initial recompute to be non-fatal")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected run to stop on context, got %v", err)
	}
}

func TestPipelineCountsInvalidRecords(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{
		"feed-a": {id: "feed-a", records: []source.RawRecord{
			{Title: "Valid story", URL: "https://a.example/1", PublishedAt: time.Now().UTC()},
			{Title: "", URL: "https://a.example/2"},
		}},
	}}
	repo := newMemRepo()
	s := newTestScheduler(repo, registry)

	s.runPipeline(context.Background(), ScheduledJob{TopicQuery: "inflation", Source: "feed-a"})

	status := s.Snapshot()
	if status.Fetched != 2 {
		t.Errorf("Expected 2 fetched, got %d", status.Fetched)
	}
	if status.Inserted != 1 {
		t.Errorf("Expected 1 inserted, got %d", status.Inserted)
	}
	if status.Invalid != 1 {
		t.Errorf("Expected 1 invalid, got %d", status.Invalid)
	}
}

func TestPipelineFailureTripsBreakerAfterThreshold(t *testing.T) {
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{
		"feed-a": {id: "feed-a", err: errors.New("connection refused")},
	}}
	s := newTestScheduler(newMemRepo(), registry)

	job := ScheduledJob{TopicQuery: "inflation", Source: "feed-a"}
	for i := 0; i < 3; i++ {
		s.runPipeline(context.Background(), job)
	}

	status := s.Snapshot()
	if status.Failures != 3 {
		t.Errorf("Expected 3 failures, got %d", status.Failures)
	}
	if status.Breakers["feed-a"] != resilience.StateOpen {
		t.Errorf("Expected breaker open, got %v", status.Breakers["feed-a"])
	}

	// Open breaker short-circuits without calling the adapter.
	calls := registry.fetchers["feed-a"].calls
	s.runPipeline(context.Background(), job)
	if registry.fetchers["feed-a"].calls != calls {
		t.Error("Expected open breaker to skip the adapter call")
	}
}

// End-to-end: one topic on two sources publishing the same story under a
// shared URL with slightly different titles converges to one stored article.
func TestEndToEndSharedStoryStoredOnce(t *testing.T) {
	now := time.Now().UTC()
	registry := &stubRegistry{fetchers: map[string]*stubFetcher{
		"feed-a": {id: "feed-a", records: []source.RawRecord{
			{Title: "Inflation cools for third straight month", URL: "https://wire.example/story", PublishedAt: now},
		}},
		"feed-b": {id: "feed-b", records: []source.RawRecord{
			{Title: "Inflation cools for third straight month.", URL: "https://wire.example/story", PublishedAt: now},
			{Title: "Inflation cools for third straight month!", URL: "https://mirror.example/copy", PublishedAt: now},
		}},
	}}
	repo := newMemRepo()
	repo.topics = []storage.Topic{
		{Query: "inflation", Priority: 1, Active: true, Sources: []string{"feed-a", "feed-b"}, UpdateFrequency: time.Hour},
	}
	s := newTestScheduler(repo, registry)

	jobs := s.Schedule(repo.topics, now)
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 scheduled jobs, got %d", len(jobs))
	}
	if jobs[0].NextRunAt.Equal(jobs[1].NextRunAt) {
		t.Error("Expected distinct staggered offsets")
	}

	for _, job := range jobs {
		s.runPipeline(context.Background(), job)
	}

	if len(repo.articles) != 1 {
		t.Fatalf("Expected exactly one stored article, got %d", len(repo.articles))
	}
	status := s.Snapshot()
	if status.Suppressed != 1 {
		t.Errorf("Expected the mirrored URL suppressed, got %d", status.Suppressed)
	}
}
