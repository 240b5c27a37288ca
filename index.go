package sitecrawl

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Index records crawl runs and the articles they wrote in a SQLite
// database, so the flat archive files can be queried by run.
type Index struct {
	db *sql.DB
}

// CrawlRow summarizes one recorded crawl run.
type CrawlRow struct {
	CrawlID    uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Written    int
	Aborted    int
}

// OpenIndex opens (or creates) the crawl index at the given path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	ix := &Index{db: db}
	if err := ix.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	return ix, nil
}

// initSchema creates the index tables if they don't exist.
func (ix *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawls (
		crawl_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		written INTEGER DEFAULT 0,
		aborted INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS articles (
		site TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT,
		crawl_id TEXT NOT NULL,
		crawled_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS articles_by_site ON articles (site);
	CREATE INDEX IF NOT EXISTS articles_by_crawl ON articles (crawl_id);
	`

	_, err := ix.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// BeginCrawl records the start of a crawl run.
func (ix *Index) BeginCrawl(info CrawlInfo) error {
	query := "INSERT INTO crawls (crawl_id, started_at) VALUES (?, ?)"
	_, err := ix.db.Exec(query, info.ID.String(), info.StartedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record crawl start: %w", err)
	}
	return nil
}

// FinishCrawl records the end of a crawl run with its totals.
func (ix *Index) FinishCrawl(info CrawlInfo, written, aborted int) error {
	query := "UPDATE crawls SET finished_at = ?, written = ?, aborted = ? WHERE crawl_id = ?"
	_, err := ix.db.Exec(query, time.Now().UTC().Format(time.RFC3339), written, aborted, info.ID.String())
	if err != nil {
		return fmt.Errorf("failed to record crawl finish: %w", err)
	}
	return nil
}

// RecordArticle indexes one written article record.
func (ix *Index) RecordArticle(rec ArticleRecord) error {
	query := "INSERT INTO articles (site, url, title, crawl_id, crawled_at) VALUES (?, ?, ?, ?, ?)"
	_, err := ix.db.Exec(query,
		rec.Site,
		rec.URL,
		rec.Title,
		rec.CrawlID.String(),
		rec.CrawledAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to index article: %w", err)
	}
	return nil
}

// Crawl retrieves one recorded crawl run by ID.
func (ix *Index) Crawl(id uuid.UUID) (*CrawlRow, error) {
	query := "SELECT crawl_id, started_at, finished_at, written, aborted FROM crawls WHERE crawl_id = ?"

	var (
		idStr      string
		startedAt  string
		finishedAt *string
		row        CrawlRow
	)
	err := ix.db.QueryRow(query, id.String()).Scan(&idStr, &startedAt, &finishedAt, &row.Written, &row.Aborted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl: %w", err)
	}

	row.CrawlID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse crawl id: %w", err)
	}
	row.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse crawl start time: %w", err)
	}
	if finishedAt != nil {
		t, err := time.Parse(time.RFC3339, *finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse crawl finish time: %w", err)
		}
		row.FinishedAt = &t
	}

	return &row, nil
}

// ArticleCount returns the number of indexed articles for a site.
func (ix *Index) ArticleCount(siteID string) (int, error) {
	var count int
	err := ix.db.QueryRow("SELECT COUNT(*) FROM articles WHERE site = ?", siteID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return count, nil
}
