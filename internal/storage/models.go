package storage

import "time"

// Article is the canonical stored shape of one ingested news item. URL is
// the unique key: re-ingesting the same URL overwrites fields in place.
type Article struct {
	URL         string
	Title       string
	Body        string
	PublishedAt time.Time
	Source      string
	SearchKey   string
	ImageURL    string
	Keywords    []string
	Checksum    string
	FetchedAt   time.Time

	// Ordinal is assigned by the store on first insert and reflects
	// insertion order. Zero for articles not yet persisted.
	Ordinal int64
}

// Topic is a tracked search query with scheduling metadata. Identified
// uniquely by Query. Priority 1 is highest; topics whose priority number
// exceeds the configured low-priority threshold are kept off heavy sources.
type Topic struct {
	Query           string
	Category        string
	Priority        int
	Active          bool
	Sources         []string
	UpdateFrequency time.Duration
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TitleEntry is a recent title used for near-duplicate comparison.
type TitleEntry struct {
	URL   string
	Title string
}

type UpsertResult int

const (
	UpsertInserted UpsertResult = iota
	UpsertUpdated
	// UpsertUnchanged means the URL existed and the content checksum
	// matched, so no fields were rewritten.
	UpsertUnchanged
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	case UpsertUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}
