package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps driver-level connectivity failures.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrConflict reports a concurrent write the store refused.
	ErrConflict = errors.New("storage conflict")
	// ErrNotFound reports a missing topic.
	ErrNotFound = errors.New("not found")
)

// ArticleFilter selects articles for FindArticles. Query is matched
// case-insensitively as a substring of title or body.
type ArticleFilter struct {
	Since   time.Time
	Sources []string
	Query   string
	Limit   int
}

// Repository is the persistence contract for articles and topics. Upsert
// atomicity per URL is the driver's responsibility; callers may race on the
// same URL and last write wins.
type Repository interface {
	// UpsertArticle inserts or updates by canonical URL.
	UpsertArticle(ctx context.Context, article *Article) (UpsertResult, error)

	// ExistsByURL reports whether an article with this canonical URL is
	// stored, regardless of how long ago it was fetched.
	ExistsByURL(ctx context.Context, url string) (bool, error)

	// FindArticles returns matches ordered by published_at descending,
	// then insertion order descending.
	FindArticles(ctx context.Context, filter ArticleFilter) ([]Article, error)

	// RecentTitles returns URL+title pairs of articles ingested since the
	// given time, for near-duplicate title comparison.
	RecentTitles(ctx context.Context, since time.Time) ([]TitleEntry, error)

	// CountRecent counts articles ingested within the window.
	CountRecent(ctx context.Context, window time.Duration) (int, error)

	ListTopics(ctx context.Context, activeOnly bool) ([]Topic, error)
	GetTopic(ctx context.Context, query string) (*Topic, error)
	UpsertTopic(ctx context.Context, topic *Topic) error
	DeleteTopic(ctx context.Context, query string) error
	SetTopicActive(ctx context.Context, query string, active bool) error

	Close() error
}
