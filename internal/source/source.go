package source

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var ErrInvalidResponse = errors.New("invalid source response")

// RawRecord is one article as a source adapter saw it, before normalization.
type RawRecord struct {
	Title       string
	URL         string
	Description string
	Body        string
	PublishedAt time.Time
	ImageURL    string
	SearchKey   string
}

// Fetcher is the capability every source adapter implements. Fetch returns
// the records currently visible for the query; adapters that do not support
// query-scoped retrieval ignore the argument and return their full feed.
type Fetcher interface {
	ID() string
	// Heavy marks full-page scraping sources so the scheduler can keep
	// them off low-priority topics.
	Heavy() bool
	Fetch(ctx context.Context, query string) ([]RawRecord, error)
}

// NewHTTPClient builds the shared outbound client used by all adapters.
func NewHTTPClient(totalTimeout, idleTimeout time.Duration, maxIdle, maxIdlePerHost int) *http.Client {
	return &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        maxIdle,
			MaxIdleConnsPerHost: maxIdlePerHost,
			IdleConnTimeout:     idleTimeout,
		},
	}
}
