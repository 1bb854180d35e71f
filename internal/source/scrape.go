package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tepilora/newsradar/internal/config"
	"github.com/tepilora/newsradar/internal/observability"
)

// ScrapeFetcher parses a listing page with configured CSS selectors. It is a
// heavy source: a full page download and DOM parse per run, so the scheduler
// reserves it for high-priority topics.
type ScrapeFetcher struct {
	id         string
	listingURL string
	base       *url.URL
	selectors  *config.SelectorsConfig
	client     *http.Client
	userAgent  string
	logger     *observability.Logger
}

func NewScrapeFetcher(id, listingURL string, selectors *config.SelectorsConfig, client *http.Client, userAgent string, logger *observability.Logger) (*ScrapeFetcher, error) {
	base, err := url.Parse(listingURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing URL: %w", err)
	}
	return &ScrapeFetcher{
		id:         id,
		listingURL: listingURL,
		base:       base,
		selectors:  selectors,
		client:     client,
		userAgent:  userAgent,
		logger:     logger,
	}, nil
}

func (f *ScrapeFetcher) ID() string { return f.id }

func (f *ScrapeFetcher) Heavy() bool { return true }

func (f *ScrapeFetcher) Fetch(ctx context.Context, _ string) ([]RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.listingURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing fetch %s: %w", f.listingURL, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Warn("Failed to close response body", "error", err.Error())
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: listing returned status %d", ErrInvalidResponse, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return f.parseListing(doc), nil
}

func (f *ScrapeFetcher) parseListing(doc *goquery.Document) []RawRecord {
	var records []RawRecord

	doc.Find(f.selectors.CardSelectors).Each(func(i int, sel *goquery.Selection) {
		title := trySelectors(sel, f.selectors.TitleSelectors)
		if title == "" {
			return
		}
		rawURL := trySelectors(sel, f.selectors.URLSelectors)
		if rawURL == "" {
			return
		}

		rec := RawRecord{
			Title:       title,
			URL:         f.resolveURL(rawURL),
			Description: trySelectors(sel, f.selectors.BodySelectors),
			ImageURL:    f.resolveURL(trySelectors(sel, f.selectors.ImageSelectors)),
			PublishedAt: parseListingDate(trySelectors(sel, f.selectors.DateSelectors)),
		}
		records = append(records, rec)
	})

	return records
}

func (f *ScrapeFetcher) resolveURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return f.base.ResolveReference(ref).String()
}

func trySelectors(s *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		found := s.Find(selector).First()
		if text := strings.TrimSpace(found.Text()); text != "" {
			return text
		}
		if attr, exists := found.Attr("href"); exists && attr != "" {
			return attr
		}
		if attr, exists := found.Attr("src"); exists && attr != "" {
			return attr
		}
	}
	return ""
}

var listingDateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006",
}

func parseListingDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range listingDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
