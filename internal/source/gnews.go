package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
)

const googleNewsSearchURL = "https://news.google.com/rss/search"

// GoogleNewsFetcher queries the Google News RSS search endpoint, so every
// topic query maps to a fresh result feed.
type GoogleNewsFetcher struct {
	id     string
	parser *gofeed.Parser
}

func NewGoogleNewsFetcher(id string, client *http.Client, userAgent string) *GoogleNewsFetcher {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &GoogleNewsFetcher{id: id, parser: parser}
}

func (f *GoogleNewsFetcher) ID() string { return f.id }

func (f *GoogleNewsFetcher) Heavy() bool { return false }

func (f *GoogleNewsFetcher) Fetch(ctx context.Context, query string) ([]RawRecord, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidResponse)
	}

	feedURL := fmt.Sprintf("%s?q=%s&hl=en-US&gl=US&ceid=US:en",
		googleNewsSearchURL, url.QueryEscape(query))

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("google news fetch: %w", err)
	}

	records := make([]RawRecord, 0, len(feed.Items))
	for _, item := range feed.Items {
		records = append(records, itemToRecord(item, query))
	}
	return records, nil
}

func itemToRecord(item *gofeed.Item, searchKey string) RawRecord {
	rec := RawRecord{
		Title:       item.Title,
		URL:         item.Link,
		Description: item.Description,
		Body:        item.Content,
		SearchKey:   searchKey,
	}
	if item.PublishedParsed != nil {
		rec.PublishedAt = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		rec.PublishedAt = item.UpdatedParsed.UTC()
	} else {
		rec.PublishedAt = time.Now().UTC()
	}
	if item.Image != nil {
		rec.ImageURL = item.Image.URL
	} else {
		for _, enc := range item.Enclosures {
			if enc.Type == "image/jpeg" || enc.Type == "image/png" {
				rec.ImageURL = enc.URL
				break
			}
		}
	}
	return rec
}
