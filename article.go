package sitecrawl

import (
	"time"

	"github.com/google/uuid"
)

// ArticleRecord is one archived article snapshot. Records are immutable
// once created: the extractor builds one per fetched article page and the
// runner appends it to the site's archive file exactly once.
type ArticleRecord struct {
	Site      string     `json:"site"`
	URL       string     `json:"url"`
	Title     *string    `json:"title"`
	Author    *string    `json:"author,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	Body      string     `json:"body"`
	CrawlID   uuid.UUID  `json:"crawl_id"`
	CrawledAt time.Time  `json:"crawled_at"`
}

// CrawlInfo identifies one invocation of the crawler. Every record written
// during the invocation carries the same crawl ID and timestamp, so rows in
// a site's archive can be grouped by the run that produced them.
type CrawlInfo struct {
	ID        uuid.UUID
	StartedAt time.Time
}

// NewCrawlInfo stamps a fresh crawl identity for one invocation.
func NewCrawlInfo() CrawlInfo {
	return CrawlInfo{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
	}
}
