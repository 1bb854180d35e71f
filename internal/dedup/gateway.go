package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/tepilora/newsradar/internal/observability"
	"github.com/tepilora/newsradar/internal/similarity"
	"github.com/tepilora/newsradar/internal/storage"
)

type Result int

const (
	Inserted Result = iota
	Updated
	Unchanged
	Suppressed
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Gateway is the single write path into article storage. The URL upsert
// handles exact re-ingestion; the title comparison catches cross-source
// republication under a different URL.
type Gateway struct {
	repo      storage.Repository
	window    time.Duration
	threshold float64
	logger    *observability.Logger
}

func NewGateway(repo storage.Repository, window time.Duration, threshold float64, logger *observability.Logger) *Gateway {
	return &Gateway{
		repo:      repo,
		window:    window,
		threshold: threshold,
		logger:    logger,
	}
}

// Store upserts one article. Same-URL re-ingestion always goes through to
// the idempotent upsert, no matter how long ago the record was fetched; a
// new URL is first compared against titles fetched within the window and
// suppressed when one is similar above the threshold.
func (g *Gateway) Store(ctx context.Context, article *storage.Article) (Result, error) {
	known, err := g.repo.ExistsByURL(ctx, article.URL)
	if err != nil {
		return 0, fmt.Errorf("url lookup: %w", err)
	}
	if known {
		// Known URL: the upsert itself is the dedup.
		return g.upsert(ctx, article)
	}

	recent, err := g.repo.RecentTitles(ctx, time.Now().UTC().Add(-g.window))
	if err != nil {
		return 0, fmt.Errorf("recent titles: %w", err)
	}

	for _, entry := range recent {
		ratio := similarity.Ratio(article.Title, entry.Title)
		if ratio > g.threshold {
			g.logger.Info("Suppressing near-duplicate title",
				"url", article.URL,
				"duplicate_of", entry.URL,
				"similarity", fmt.Sprintf("%.3f", ratio),
			)
			return Suppressed, nil
		}
	}

	return g.upsert(ctx, article)
}

func (g *Gateway) upsert(ctx context.Context, article *storage.Article) (Result, error) {
	res, err := g.repo.UpsertArticle(ctx, article)
	if err != nil {
		return 0, err
	}
	switch res {
	case storage.UpsertInserted:
		return Inserted, nil
	case storage.UpsertUpdated:
		return Updated, nil
	default:
		return Unchanged, nil
	}
}
