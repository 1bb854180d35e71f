package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tepilora/newsradar/internal/observability"
	"github.com/tepilora/newsradar/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    ordinal      INTEGER PRIMARY KEY AUTOINCREMENT,
    url          TEXT NOT NULL UNIQUE,
    title        TEXT NOT NULL,
    body         TEXT NOT NULL DEFAULT '',
    published_at TIMESTAMP NOT NULL,
    source       TEXT NOT NULL,
    search_key   TEXT NOT NULL DEFAULT '',
    image_url    TEXT NOT NULL DEFAULT '',
    keywords     TEXT NOT NULL DEFAULT '[]',
    checksum     TEXT NOT NULL DEFAULT '',
    fetched_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at DESC);
CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source);
CREATE INDEX IF NOT EXISTS idx_articles_fetched ON articles(fetched_at);

CREATE TABLE IF NOT EXISTS topics (
    query              TEXT PRIMARY KEY,
    category           TEXT NOT NULL DEFAULT 'general',
    priority           INTEGER NOT NULL DEFAULT 5,
    active             INTEGER NOT NULL DEFAULT 1,
    sources            TEXT NOT NULL DEFAULT '[]',
    update_frequency_s INTEGER NOT NULL,
    created_at         TIMESTAMP NOT NULL,
    updated_at         TIMESTAMP NOT NULL
);
`

type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *observability.Logger
}

func NewRepository(dsn string, commandTimeoutMS int, logger *observability.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets concurrent pipeline readers proceed during upserts;
	// busy_timeout serializes racing writers instead of erroring.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Repository{
		db:             db,
		commandTimeout: time.Duration(commandTimeoutMS) * time.Millisecond,
		logger:         logger,
	}, nil
}

// UpsertArticle inserts or updates by URL. The checksum comparison skips
// rewriting rows whose content did not change.
func (r *Repository) UpsertArticle(ctx context.Context, article *storage.Article) (storage.UpsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", storage.ErrUnavailable, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT checksum FROM articles WHERE url = ?`, article.URL).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		keywords := marshalList(article.Keywords)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO articles (url, title, body, published_at, source, search_key, image_url, keywords, checksum, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			article.URL, article.Title, article.Body, article.PublishedAt.UTC(), article.Source,
			article.SearchKey, article.ImageURL, keywords, article.Checksum, article.FetchedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("%w: insert: %v", storage.ErrUnavailable, err)
		}
		if ordinal, err := res.LastInsertId(); err == nil {
			article.Ordinal = ordinal
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("%w: commit: %v", storage.ErrUnavailable, err)
		}
		return storage.UpsertInserted, nil
	case err != nil:
		return 0, fmt.Errorf("%w: select: %v", storage.ErrUnavailable, err)
	}

	if existing != "" && existing == article.Checksum {
		return storage.UpsertUnchanged, nil
	}

	keywords := marshalList(article.Keywords)
	_, err = tx.ExecContext(ctx, `
		UPDATE articles SET title = ?, body = ?, published_at = ?, source = ?,
			search_key = ?, image_url = ?, keywords = ?, checksum = ?, fetched_at = ?
		WHERE url = ?`,
		article.Title, article.Body, article.PublishedAt.UTC(), article.Source,
		article.SearchKey, article.ImageURL, keywords, article.Checksum,
		article.FetchedAt.UTC(), article.URL)
	if err != nil {
		return 0, fmt.Errorf("%w: update: %v", storage.ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", storage.ErrUnavailable, err)
	}
	return storage.UpsertUpdated, nil
}

func (r *Repository) ExistsByURL(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE url = ?`, url).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", storage.ErrUnavailable, err)
	}
	return count > 0, nil
}

func (r *Repository) FindArticles(ctx context.Context, filter storage.ArticleFilter) ([]storage.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if !filter.Since.IsZero() {
		where = append(where, "published_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if len(filter.Sources) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Sources))
		where = append(where, fmt.Sprintf("source IN (%s)", placeholders[:len(placeholders)-1]))
		for _, s := range filter.Sources {
			args = append(args, s)
		}
	}
	if filter.Query != "" {
		where = append(where, "(instr(lower(title), ?) > 0 OR instr(lower(body), ?) > 0)")
		q := strings.ToLower(filter.Query)
		args = append(args, q, q)
	}

	query := `SELECT ordinal, url, title, body, published_at, source, search_key, image_url, keywords, checksum, fetched_at FROM articles`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY published_at DESC, ordinal DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var articles []storage.Article
	for rows.Next() {
		var a storage.Article
		var keywords string
		if err := rows.Scan(&a.Ordinal, &a.URL, &a.Title, &a.Body, &a.PublishedAt, &a.Source,
			&a.SearchKey, &a.ImageURL, &keywords, &a.Checksum, &a.FetchedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", storage.ErrUnavailable, err)
		}
		a.Keywords = unmarshalList(keywords)
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (r *Repository) RecentTitles(ctx context.Context, since time.Time) ([]storage.TitleEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT url, title FROM articles WHERE fetched_at >= ?`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: recent titles: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var entries []storage.TitleEntry
	for rows.Next() {
		var e storage.TitleEntry
		if err := rows.Scan(&e.URL, &e.Title); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", storage.ErrUnavailable, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) CountRecent(ctx context.Context, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE fetched_at >= ?`,
		time.Now().UTC().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count recent: %v", storage.ErrUnavailable, err)
	}
	return count, nil
}

func (r *Repository) ListTopics(ctx context.Context, activeOnly bool) ([]storage.Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	query := `SELECT query, category, priority, active, sources, update_frequency_s, created_at, updated_at FROM topics`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY priority ASC, query ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list topics: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var topics []storage.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

func (r *Repository) GetTopic(ctx context.Context, query string) (*storage.Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT query, category, priority, active, sources, update_frequency_s, created_at, updated_at
		 FROM topics WHERE query = ?`, query)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: topic %q", storage.ErrNotFound, query)
	}
	return t, err
}

func (r *Repository) UpsertTopic(ctx context.Context, topic *storage.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO topics (query, category, priority, active, sources, update_frequency_s, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET
			category = excluded.category,
			priority = excluded.priority,
			active = excluded.active,
			sources = excluded.sources,
			update_frequency_s = excluded.update_frequency_s,
			updated_at = excluded.updated_at`,
		topic.Query, topic.Category, topic.Priority, boolToInt(topic.Active),
		marshalList(topic.Sources), int(topic.UpdateFrequency/time.Second), now, now)
	if err != nil {
		return fmt.Errorf("%w: upsert topic: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (r *Repository) DeleteTopic(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM topics WHERE query = ?`, query)
	if err != nil {
		return fmt.Errorf("%w: delete topic: %v", storage.ErrUnavailable, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: topic %q", storage.ErrNotFound, query)
	}
	return nil
}

func (r *Repository) SetTopicActive(ctx context.Context, query string, active bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE topics SET active = ?, updated_at = ? WHERE query = ?`,
		boolToInt(active), time.Now().UTC(), query)
	if err != nil {
		return fmt.Errorf("%w: toggle topic: %v", storage.ErrUnavailable, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: topic %q", storage.ErrNotFound, query)
	}
	return nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (*storage.Topic, error) {
	var t storage.Topic
	var active int
	var sources string
	var freqS int
	if err := row.Scan(&t.Query, &t.Category, &t.Priority, &active, &sources, &freqS, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan topic: %v", storage.ErrUnavailable, err)
	}
	t.Active = active != 0
	t.Sources = unmarshalList(sources)
	t.UpdateFrequency = time.Duration(freqS) * time.Second
	return &t, nil
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(data string) []string {
	var items []string
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil
	}
	return items
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
