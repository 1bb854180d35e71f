package source

import (
	"fmt"
	"net/http"

	"github.com/tepilora/newsradar/internal/config"
	"github.com/tepilora/newsradar/internal/observability"
)

// Registry maps source IDs to adapter implementations. It is built once at
// startup from configuration; lookups after that are read-only.
type Registry struct {
	fetchers map[string]Fetcher
	order    []string
}

func NewRegistry(cfg *config.Config, logger *observability.Logger) (*Registry, error) {
	client := NewHTTPClient(
		cfg.GetTotalTimeout(),
		cfg.GetIdleConnectionTimeout(),
		cfg.HTTP.MaxIdleConnections,
		cfg.HTTP.MaxIdleConnectionsPerHost,
	)

	r := &Registry{fetchers: make(map[string]Fetcher)}
	for _, sc := range cfg.Sources {
		if !sc.Active {
			logger.Info("Skipping inactive source", "source", sc.ID)
			continue
		}
		f, err := buildFetcher(sc, client, cfg.HTTP.UserAgent, logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.ID, err)
		}
		r.fetchers[sc.ID] = f
		r.order = append(r.order, sc.ID)
	}
	if len(r.fetchers) == 0 {
		return nil, fmt.Errorf("no active sources configured")
	}
	return r, nil
}

func buildFetcher(sc config.SourceConfig, client *http.Client, userAgent string, logger *observability.Logger) (Fetcher, error) {
	switch sc.Kind {
	case "gnews":
		return NewGoogleNewsFetcher(sc.ID, client, userAgent), nil
	case "rss":
		return NewFeedFetcher(sc.ID, sc.URL, client, userAgent), nil
	case "scrape":
		return NewScrapeFetcher(sc.ID, sc.URL, sc.Selectors, client, userAgent, logger)
	default:
		return nil, fmt.Errorf("unknown source kind: %s", sc.Kind)
	}
}

func (r *Registry) Get(id string) (Fetcher, bool) {
	f, ok := r.fetchers[id]
	return f, ok
}

// IDs returns source IDs in configuration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

func (r *Registry) Heavy(id string) bool {
	f, ok := r.fetchers[id]
	return ok && f.Heavy()
}
