package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tepilora/newsradar/internal/storage"
)

const (
	recencyWeight = 5.0
	titleWeight   = 3.0
	bodyWeight    = 0.2
)

// ScoredArticle pairs an article with its relevance score.
type ScoredArticle struct {
	storage.Article
	Score float64
}

// Engine ranks stored articles by a composite recency and keyword score.
type Engine struct {
	repo       storage.Repository
	maxResults int
}

func NewEngine(repo storage.Repository, maxResults int) *Engine {
	return &Engine{repo: repo, maxResults: maxResults}
}

// Search returns articles matching the query as a case-insensitive substring
// of title or body, newest-relevant first. An empty query returns nothing.
func (e *Engine) Search(ctx context.Context, query string, maxAge time.Duration, allowedSources []string) ([]ScoredArticle, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	now := time.Now().UTC()
	candidates, err := e.repo.FindArticles(ctx, storage.ArticleFilter{
		Since:   now.Add(-maxAge),
		Sources: allowedSources,
		Query:   query,
	})
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}

	maxAgeDays := maxAge.Hours() / 24
	scored := make([]ScoredArticle, 0, len(candidates))
	for _, a := range candidates {
		scored = append(scored, ScoredArticle{
			Article: a,
			Score:   Score(a, query, now, maxAgeDays),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].PublishedAt.Equal(scored[j].PublishedAt) {
			return scored[i].PublishedAt.After(scored[j].PublishedAt)
		}
		return scored[i].Ordinal < scored[j].Ordinal
	})

	if e.maxResults > 0 && len(scored) > e.maxResults {
		scored = scored[:e.maxResults]
	}
	return scored, nil
}

// Score computes 5*recency + 3*title_matches + 0.2*body_matches, where
// recency decays linearly to zero at the age boundary and match counts are
// non-overlapping case-insensitive substring occurrences.
func Score(a storage.Article, query string, now time.Time, maxAgeDays float64) float64 {
	return recencyWeight*Recency(a.PublishedAt, now, maxAgeDays) +
		titleWeight*float64(CountMatches(a.Title, query)) +
		bodyWeight*float64(CountMatches(a.Body, query))
}

func Recency(publishedAt, now time.Time, maxAgeDays float64) float64 {
	if maxAgeDays <= 0 {
		return 0
	}
	ageDays := now.Sub(publishedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	frac := ageDays / maxAgeDays
	if frac > 1 {
		frac = 1
	}
	return 1 - frac
}

func CountMatches(text, query string) int {
	if query == "" {
		return 0
	}
	return strings.Count(strings.ToLower(text), strings.ToLower(query))
}
