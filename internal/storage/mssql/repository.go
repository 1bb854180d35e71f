package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/tepilora/newsradar/internal/observability"
	"github.com/tepilora/newsradar/internal/storage"
)

type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *observability.Logger
}

func NewRepository(dsn string, commandTimeoutMS int, logger *observability.Logger) (*Repository, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := &Repository{
		db:             db,
		commandTimeout: time.Duration(commandTimeoutMS) * time.Millisecond,
		logger:         logger,
	}
	if err := r.ensureSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.commandTimeout)
	defer cancel()

	statements := []string{
		`IF OBJECT_ID('Articles', 'U') IS NULL
		CREATE TABLE Articles (
			[Ordinal]     BIGINT IDENTITY(1,1) PRIMARY KEY,
			[URL]         NVARCHAR(900) NOT NULL UNIQUE,
			[Title]       NVARCHAR(1000) NOT NULL,
			[Body]        NVARCHAR(MAX) NOT NULL DEFAULT '',
			[PublishedAt] DATETIME2 NOT NULL,
			[Source]      NVARCHAR(200) NOT NULL,
			[SearchKey]   NVARCHAR(400) NOT NULL DEFAULT '',
			[ImageURL]    NVARCHAR(900) NOT NULL DEFAULT '',
			[Keywords]    NVARCHAR(2000) NOT NULL DEFAULT '',
			[CheckSum]    NVARCHAR(64) NOT NULL DEFAULT '',
			[FetchedAt]   DATETIME2 NOT NULL
		)`,
		`IF OBJECT_ID('Topics', 'U') IS NULL
		CREATE TABLE Topics (
			[Query]           NVARCHAR(400) NOT NULL PRIMARY KEY,
			[Category]        NVARCHAR(100) NOT NULL DEFAULT 'general',
			[Priority]        INT NOT NULL DEFAULT 5,
			[Active]          BIT NOT NULL DEFAULT 1,
			[Sources]         NVARCHAR(2000) NOT NULL DEFAULT '',
			[UpdateFrequencyS] INT NOT NULL,
			[CreatedAt]       DATETIME2 NOT NULL,
			[UpdatedAt]       DATETIME2 NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// UpsertArticle inserts or updates by URL via MERGE. A matching checksum
// leaves the row untouched so repeat polls do not churn the table.
func (r *Repository) UpsertArticle(ctx context.Context, article *storage.Article) (storage.UpsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var existing string
	err := r.db.QueryRowContext(ctx,
		`SELECT [CheckSum] FROM Articles WHERE [URL] = @URL`,
		sql.Named("URL", article.URL)).Scan(&existing)
	found := true
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return 0, fmt.Errorf("%w: select: %v", storage.ErrUnavailable, err)
	}
	if found && existing != "" && existing == article.Checksum {
		return storage.UpsertUnchanged, nil
	}

	query := `
		MERGE INTO Articles AS target
		USING (SELECT @URL AS URL) AS source
		ON target.[URL] = source.URL
		WHEN MATCHED THEN
			UPDATE SET
				[Title] = @Title,
				[Body] = @Body,
				[PublishedAt] = @PublishedAt,
				[Source] = @Source,
				[SearchKey] = @SearchKey,
				[ImageURL] = @ImageURL,
				[Keywords] = @Keywords,
				[CheckSum] = @CheckSum,
				[FetchedAt] = @FetchedAt
		WHEN NOT MATCHED THEN
			INSERT ([URL], [Title], [Body], [PublishedAt], [Source], [SearchKey], [ImageURL], [Keywords], [CheckSum], [FetchedAt])
			VALUES (@URL, @Title, @Body, @PublishedAt, @Source, @SearchKey, @ImageURL, @Keywords, @CheckSum, @FetchedAt);
	`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare: %v", storage.ErrUnavailable, err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			r.logger.Error("Failed to close statement", "error", err.Error())
		}
	}()

	_, err = stmt.ExecContext(ctx,
		sql.Named("URL", article.URL),
		sql.Named("Title", article.Title),
		sql.Named("Body", article.Body),
		sql.Named("PublishedAt", article.PublishedAt.UTC()),
		sql.Named("Source", article.Source),
		sql.Named("SearchKey", article.SearchKey),
		sql.Named("ImageURL", article.ImageURL),
		sql.Named("Keywords", strings.Join(article.Keywords, ",")),
		sql.Named("CheckSum", article.Checksum),
		sql.Named("FetchedAt", article.FetchedAt.UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert: %v", storage.ErrUnavailable, err)
	}

	if found {
		return storage.UpsertUpdated, nil
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT [Ordinal] FROM Articles WHERE [URL] = @URL`,
		sql.Named("URL", article.URL)).Scan(&article.Ordinal); err != nil {
		r.logger.Warn("Failed to read article ordinal", "url", article.URL, "error", err.Error())
	}
	return storage.UpsertInserted, nil
}

func (r *Repository) ExistsByURL(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM Articles WHERE [URL] = @URL`,
		sql.Named("URL", url)).Scan(&count)
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
		where = append(where, "[PublishedAt] >= @Since")
		args = append(args, sql.Named("Since", filter.Since.UTC()))
	}
	if len(filter.Sources) > 0 {
		names := make([]string, len(filter.Sources))
		for i, s := range filter.Sources {
			name := fmt.Sprintf("Source%d", i)
			names[i] = "@" + name
			args = append(args, sql.Named(name, s))
		}
		where = append(where, fmt.Sprintf("[Source] IN (%s)", strings.Join(names, ", ")))
	}
	if filter.Query != "" {
		where = append(where, "(CHARINDEX(@Query, LOWER([Title])) > 0 OR CHARINDEX(@Query, LOWER([Body])) > 0)")
		args = append(args, sql.Named("Query", strings.ToLower(filter.Query)))
	}

	query := `SELECT [Ordinal], [URL], [Title], [Body], [PublishedAt], [Source], [SearchKey], [ImageURL], [Keywords], [CheckSum], [FetchedAt] FROM Articles`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY [PublishedAt] DESC, [Ordinal] DESC"
	if filter.Limit > 0 {
		query += " OFFSET 0 ROWS FETCH NEXT @Limit ROWS ONLY"
		args = append(args, sql.Named("Limit", filter.Limit))
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
		a.Keywords = splitList(keywords)
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (r *Repository) RecentTitles(ctx context.Context, since time.Time) ([]storage.TitleEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT [URL], [Title] FROM Articles WHERE [FetchedAt] >= @Since`,
		sql.Named("Since", since.UTC()))
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
		`SELECT COUNT(*) FROM Articles WHERE [FetchedAt] >= @Since`,
		sql.Named("Since", time.Now().UTC().Add(-window))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count recent: %v", storage.ErrUnavailable, err)
	}
	return count, nil
}

func (r *Repository) ListTopics(ctx context.Context, activeOnly bool) ([]storage.Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	query := `SELECT [Query], [Category], [Priority], [Active], [Sources], [UpdateFrequencyS], [CreatedAt], [UpdatedAt] FROM Topics`
	if activeOnly {
		query += ` WHERE [Active] = 1`
	}
	query += ` ORDER BY [Priority] ASC, [Query] ASC`

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
		`SELECT [Query], [Category], [Priority], [Active], [Sources], [UpdateFrequencyS], [CreatedAt], [UpdatedAt]
		 FROM Topics WHERE [Query] = @Query`,
		sql.Named("Query", query))
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
		MERGE INTO Topics AS target
		USING (SELECT @Query AS Query) AS source
		ON target.[Query] = source.Query
		WHEN MATCHED THEN
			UPDATE SET
				[Category] = @Category,
				[Priority] = @Priority,
				[Active] = @Active,
				[Sources] = @Sources,
				[UpdateFrequencyS] = @UpdateFrequencyS,
				[UpdatedAt] = @Now
		WHEN NOT MATCHED THEN
			INSERT ([Query], [Category], [Priority], [Active], [Sources], [UpdateFrequencyS], [CreatedAt], [UpdatedAt])
			VALUES (@Query, @Category, @Priority, @Active, @Sources, @UpdateFrequencyS, @Now, @Now);`,
		sql.Named("Query", topic.Query),
		sql.Named("Category", topic.Category),
		sql.Named("Priority", topic.Priority),
		sql.Named("Active", topic.Active),
		sql.Named("Sources", strings.Join(topic.Sources, ",")),
		sql.Named("UpdateFrequencyS", int(topic.UpdateFrequency/time.Second)),
		sql.Named("Now", now),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert topic: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (r *Repository) DeleteTopic(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM Topics WHERE [Query] = @Query`, sql.Named("Query", query))
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
		`UPDATE Topics SET [Active] = @Active, [UpdatedAt] = @Now WHERE [Query] = @Query`,
		sql.Named("Active", active),
		sql.Named("Now", time.Now().UTC()),
		sql.Named("Query", query))
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
	var sources string
	var freqS int
	if err := row.Scan(&t.Query, &t.Category, &t.Priority, &t.Active, &sources, &freqS, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan topic: %v", storage.ErrUnavailable, err)
	}
	t.Sources = splitList(sources)
	t.UpdateFrequency = time.Duration(freqS) * time.Second
	return &t, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
