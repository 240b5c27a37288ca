package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/sitecrawl"
	"github.com/pevans/sitecrawl/config"
	"github.com/pevans/sitecrawl/extract"
)

// fakeFetcher serves canned markup by URL. Unknown URLs fail like a fetch
// that exhausted its retries.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	requests []string
}

func (f *fakeFetcher) GetWithDelay(ctx context.Context, pageURL string, delay time.Duration) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, pageURL)
	markup, ok := f.pages[pageURL]
	f.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("fetch %s: HTTP 503", pageURL)
	}
	return markup, nil
}

func (f *fakeFetcher) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func listingHTML(links ...string) string {
	html := "<html><body>"
	for _, link := range links {
		html += fmt.Sprintf(`<a class="story" href="%s">story</a>`, link)
	}
	return html + "</body></html>"
}

func articleHTML(title string) string {
	return fmt.Sprintf(`<html><body>
<h1 class="headline">%s</h1>
<span class="byline">By Jane Doe</span>
<div class="article-body"><p>Body of %s.</p></div>
</body></html>`, title, title)
}

func testSite() config.Site {
	return config.Site{
		ID:  "example.com",
		URL: "https://example.com/news",
		Listing: config.Listing{
			LinkSelector: "a.story",
			Pagination: config.Pagination{
				Kind:         config.PaginationNextLink,
				NextSelector: "a.next",
			},
		},
		Article: config.Article{
			Title:  &config.Field{Selector: "h1.headline"},
			Author: &config.Field{Selector: "span.byline"},
			Body:   &config.Field{Selector: "div.article-body"},
		},
	}
}

func newTestRunner(t *testing.T, fetcher Fetcher, index *sitecrawl.Index) (*Runner, *sitecrawl.Archive) {
	t.Helper()
	archive, err := sitecrawl.NewArchive(filepath.Join(t.TempDir(), "articles"))
	require.NoError(t, err)

	r := New(Options{
		Fetcher:     fetcher,
		Extractor:   extract.New(nil),
		Archive:     archive,
		Index:       index,
		Concurrency: 2,
		Crawl:       sitecrawl.NewCrawlInfo(),
	})
	return r, archive
}

func TestRunSite_EndToEnd(t *testing.T) {
	// Three article links, next-link pagination configured but no next
	// link present: one listing page, three records, COMPLETED.
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news": listingHTML("/a", "/b", "/c"),
		"https://example.com/a":    articleHTML("Article A"),
		"https://example.com/b":    articleHTML("Article B"),
		"https://example.com/c":    articleHTML("Article C"),
	}}
	r, archive := newTestRunner(t, fetcher, nil)

	report := r.RunSite(context.Background(), Job{Site: testSite(), MaxArticles: -1})

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 3, report.Written)
	assert.Equal(t, 0, report.Skipped)

	result, err := archive.Read("example.com")
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	for _, rec := range result.Records {
		assert.Equal(t, "example.com", rec.Site)
		require.NotNil(t, rec.Title)
		require.NotNil(t, rec.Author)
		assert.Equal(t, "Jane Doe", *rec.Author)
		assert.NotEmpty(t, rec.Body)
		assert.Equal(t, r.crawl.ID, rec.CrawlID)
	}
}

func TestRunSite_MaxArticlesZero(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news": listingHTML("/a"),
	}}
	r, archive := newTestRunner(t, fetcher, nil)

	report := r.RunSite(context.Background(), Job{Site: testSite(), MaxArticles: 0})

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, 0, report.Written)
	assert.Equal(t, 0, fetcher.requestCount(), "a zero cap must not fetch anything")

	result, err := archive.Read("example.com")
	require.NoError(t, err)
	assert.Empty(t, result.Records)
}

func TestRunSite_SoftCap(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news": listingHTML("/a", "/b", "/c", "/d"),
		"https://example.com/a":    articleHTML("Article A"),
		"https://example.com/b":    articleHTML("Article B"),
		"https://example.com/c":    articleHTML("Article C"),
		"https://example.com/d":    articleHTML("Article D"),
	}}
	r, _ := newTestRunner(t, fetcher, nil)

	report := r.RunSite(context.Background(), Job{Site: testSite(), MaxArticles: 2})

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, 2, report.Written, "no more than the cap is dispatched")
}

func TestRunSite_ExtractionFailureSkips(t *testing.T) {
	// /b has no body and nothing for readability to recover.
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news": listingHTML("/a", "/b", "/c"),
		"https://example.com/a":    articleHTML("Article A"),
		"https://example.com/b":    "<html><body></body></html>",
		"https://example.com/c":    articleHTML("Article C"),
	}}
	r, archive := newTestRunner(t, fetcher, nil)

	report := r.RunSite(context.Background(), Job{Site: testSite(), MaxArticles: -1})

	assert.Equal(t, StateCompleted, report.State, "a skipped article must not abort the run")
	assert.Equal(t, 2, report.Written)
	assert.Equal(t, 1, report.Skipped)

	result, err := archive.Read("example.com")
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
}

func TestRunSite_ArticleFetchFailureSkips(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news": listingHTML("/a", "/gone"),
		"https://example.com/a":    articleHTML("Article A"),
	}}
	r, _ := newTestRunner(t, fetcher, nil)

	report := r.RunSite(context.Background(), Job{Site: testSite(), MaxArticles: -1})

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, 1, report.Written)
	assert.Equal(t, 1, report.Skipped)
}

func TestRunSite_ListingFailureAborts(t *testing.T) {
	// Numbered pagination; page 2 is not served, so its fetch fails after
	// retries. Records from page 1 must survive.
	site := testSite()
	site.Listing.Pagination = config.Pagination{
		Kind:        config.PaginationNumbered,
		URLTemplate: "https://example.com/news/page/%d",
	}

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news/page/1": listingHTML("/a", "/b"),
		"https://example.com/a":           articleHTML("Article A"),
		"https://example.com/b":           articleHTML("Article B"),
	}}
	r, archive := newTestRunner(t, fetcher, nil)

	report := r.RunSite(context.Background(), Job{Site: site, MaxArticles: -1})

	assert.Equal(t, StateAborted, report.State)
	assert.Error(t, report.Err)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 2, report.Written)

	result, err := archive.Read("example.com")
	require.NoError(t, err)
	assert.Len(t, result.Records, 2, "records written before the abort stay in the archive")
}

func TestRunSite_FeedListing(t *testing.T) {
	feedXML := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Feed Site</title>
<item><title>A</title><link>https://feedsite.org/a</link></item>
<item><title>B</title><link>https://feedsite.org/b</link></item>
<item><title>A again</title><link>https://feedsite.org/a</link></item>
</channel></rss>`

	site := config.Site{
		ID:      "feedsite.org",
		URL:     "https://feedsite.org/rss.xml",
		Listing: config.Listing{Kind: "feed"},
		Article: config.Article{
			Title: &config.Field{Selector: "h1.headline"},
			Body:  &config.Field{Selector: "div.article-body"},
		},
	}

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://feedsite.org/rss.xml": feedXML,
		"https://feedsite.org/a":       articleHTML("Article A"),
		"https://feedsite.org/b":       articleHTML("Article B"),
	}}
	r, archive := newTestRunner(t, fetcher, nil)

	report := r.RunSite(context.Background(), Job{Site: site, MaxArticles: -1})

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, 2, report.Written, "duplicate feed items collapse to one article")

	result, err := archive.Read("feedsite.org")
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
}

func TestRunAll_AbortIsLocalToSite(t *testing.T) {
	good := testSite()
	bad := testSite()
	bad.ID = "broken.example"
	bad.URL = "https://broken.example/news"

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news": listingHTML("/a"),
		"https://example.com/a":    articleHTML("Article A"),
		// broken.example's listing is never served.
	}}

	index, err := sitecrawl.OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer index.Close()

	r, _ := newTestRunner(t, fetcher, index)

	reports := r.RunAll(context.Background(), []Job{
		{Site: bad, MaxArticles: -1},
		{Site: good, MaxArticles: -1},
	})

	require.Len(t, reports, 2)
	assert.Equal(t, StateAborted, reports[0].State)
	assert.Equal(t, StateCompleted, reports[1].State, "one site's abort must not stop the others")
	assert.Equal(t, 1, reports[1].Written)

	row, err := index.Crawl(r.crawl.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.NotNil(t, row.FinishedAt)
	assert.Equal(t, 1, row.Written)
	assert.Equal(t, 1, row.Aborted)

	count, err := index.ArticleCount("example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
