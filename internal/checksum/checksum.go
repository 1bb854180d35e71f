package checksum

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// ContentHash hashes the fields of an article that matter for change
// detection. Stores compare it on upsert to skip rewriting identical rows.
// Formula: SHA256(url|title|body|published_date_iso)
func ContentHash(url, title, body string, publishedAt time.Time) string {
	dateISO := publishedAt.UTC().Format("2006-01-02")

	content := fmt.Sprintf("%s|%s|%s|%s", url, title, body, dateISO)

	hash := sha256.Sum256([]byte(content))

	return fmt.Sprintf("%x", hash)
}

// Verify reports whether the hash matches the given fields.
func Verify(expectedHash, url, title, body string, publishedAt time.Time) bool {
	return ContentHash(url, title, body, publishedAt) == expectedHash
}
