package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tepilora/newsradar/internal/checksum"
	"github.com/tepilora/newsradar/internal/source"
	"github.com/tepilora/newsradar/internal/storage"
)

var ErrMissingField = errors.New("missing required field")

const maxKeywords = 8

var stopwords = map[string]bool{
	"about": true, "after": true, "against": true, "because": true,
	"before": true, "being": true, "between": true, "could": true,
	"during": true, "every": true, "from": true, "have": true,
	"into": true, "more": true, "most": true, "other": true,
	"over": true, "said": true, "says": true, "some": true,
	"such": true, "than": true, "that": true, "their": true,
	"there": true, "these": true, "they": true, "this": true,
	"through": true, "under": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "while": true,
	"will": true, "with": true, "would": true, "your": true,
}

var (
	wordRe     = regexp.MustCompile(`[a-z]{4,}`)
	multiSpace = regexp.MustCompile(`\s+`)
)

// Normalizer maps raw adapter records into the canonical stored shape.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize validates, cleans and enriches one raw record. A record without
// a title or URL is invalid and must be dropped by the caller.
func (n *Normalizer) Normalize(raw source.RawRecord, sourceID string) (*storage.Article, error) {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title", ErrMissingField)
	}
	url := CanonicalURL(raw.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: url", ErrMissingField)
	}

	body := CleanHTML(raw.Body)
	if body == "" {
		body = CleanHTML(raw.Description)
	}

	publishedAt := raw.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = n.now().UTC()
	}

	article := &storage.Article{
		URL:         url,
		Title:       title,
		Body:        body,
		PublishedAt: publishedAt.UTC(),
		Source:      sourceID,
		SearchKey:   raw.SearchKey,
		ImageURL:    strings.TrimSpace(raw.ImageURL),
		Keywords:    ExtractKeywords(title, body, maxKeywords),
		FetchedAt:   n.now().UTC(),
	}
	article.Checksum = checksum.ContentHash(article.URL, article.Title, article.Body, article.PublishedAt)
	return article, nil
}

// CanonicalURL trims whitespace and drops the fragment so the same page
// always maps to one store key.
func CanonicalURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	if idx := strings.Index(urlStr, "#"); idx > -1 {
		urlStr = urlStr[:idx]
	}
	return strings.TrimRight(urlStr, "/")
}

// CleanHTML extracts readable text from an HTML snippet.
func CleanHTML(html string) string {
	if html == "" {
		return ""
	}
	if !strings.Contains(html, "<") {
		return collapse(html)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapse(html)
	}
	doc.Find("script, style, nav, footer").Remove()
	return collapse(doc.Text())
}

func collapse(text string) string {
	text = strings.ReplaceAll(text, " ", " ")
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ExtractKeywords derives lightweight tags from title and body: lower-cased
// alphabetic runs of length >= 4, minus stopwords, top-N by frequency. An
// auxiliary signal only, not classification.
func ExtractKeywords(title, body string, limit int) []string {
	text := strings.ToLower(title + " " + body)

	counts := make(map[string]int)
	var order []string
	for _, word := range wordRe.FindAllString(text, -1) {
		if stopwords[word] {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	// Stable rank: by frequency, then first occurrence.
	rank := make(map[string]int, len(order))
	for i, w := range order {
		rank[w] = i
	}
	sort.Slice(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return rank[order[i]] < rank[order[j]]
	})

	if len(order) > limit {
		order = order[:limit]
	}
	return order
}
