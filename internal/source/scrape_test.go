package source

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tepilora/newsradar/internal/config"
	"github.com/tepilora/newsradar/internal/observability"
)

const listingHTML = `
<html><body>
<div class="news-list">
	<article class="card">
		<h2 class="title">Central bank holds rates steady</h2>
		<a class="link" href="/news/rates-steady">more</a>
		<p class="summary">Policy makers left the benchmark unchanged.</p>
		<time class="date">2026-08-30</time>
	</article>
	<article class="card">
		<h2 class="title"></h2>
		<a class="link" href="/news/no-title">more</a>
	</article>
	<article class="card">
		<h2 class="title">Oil slides on supply news</h2>
		<a class="link" href="https://other.example.com/oil"></a>
		<time class="date">30.08.2026</time>
	</article>
</div>
</body></html>`

func testSelectors() *config.SelectorsConfig {
	return &config.SelectorsConfig{
		CardSelectors:  "article.card",
		TitleSelectors: []string{"h2.title"},
		URLSelectors:   []string{"a.link"},
		BodySelectors:  []string{"p.summary"},
		DateSelectors:  []string{"time.date"},
	}
}

func TestParseListing(t *testing.T) {
	f, err := NewScrapeFetcher("city-news", "https://example.com/news", testSelectors(), nil, "test-agent", observability.NewNopLogger())
	if err != nil {
		t.Fatalf("NewScrapeFetcher failed: %v", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingHTML))
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}

	records := f.parseListing(doc)
	if len(records) != 2 {
		t.Fatalf("Expected 2 records (title-less card dropped), got %d", len(records))
	}

	first := records[0]
	if first.Title != "Central bank holds rates steady" {
		t.Errorf("Unexpected title: %q", first.Title)
	}
	if first.URL != "https://example.com/news/rates-steady" {
		t.Errorf("Expected relative URL resolved against base, got %q", first.URL)
	}
	if first.Description != "Policy makers left the benchmark unchanged." {
		t.Errorf("Unexpected description: %q", first.Description)
	}
	want := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Errorf("Expected published_at %v, got %v", want, first.PublishedAt)
	}

	second := records[1]
	if second.URL != "https://other.example.com/oil" {
		t.Errorf("Expected absolute URL kept as-is, got %q", second.URL)
	}
	if !second.PublishedAt.Equal(want) {
		t.Errorf("Expected dd.mm.yyyy date parsed, got %v", second.PublishedAt)
	}
}

func TestParseListingDateFallback(t *testing.T) {
	before := time.Now().UTC()
	got := parseListingDate("not a date")
	if got.Before(before.Add(-time.Second)) {
		t.Errorf("Expected unparseable date to fall back to now, got %v", got)
	}
}

func TestScrapeFetcherIsHeavy(t *testing.T) {
	f, err := NewScrapeFetcher("city-news", "https://example.com/news", testSelectors(), nil, "test-agent", observability.NewNopLogger())
	if err != nil {
		t.Fatalf("NewScrapeFetcher failed: %v", err)
	}
	if !f.Heavy() {
		t.Error("Scrape sources must report heavy")
	}
	g := NewGoogleNewsFetcher("gnews", nil, "test-agent")
	if g.Heavy() {
		t.Error("Feed sources must not report heavy")
	}
}
