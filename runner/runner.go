package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pevans/sitecrawl"
	"github.com/pevans/sitecrawl/config"
	"github.com/pevans/sitecrawl/extract"
	"github.com/pevans/sitecrawl/paginate"
)

// State is the lifecycle state of one site run. Runs always start PENDING
// and finish COMPLETED or ABORTED; there is no resumption across runs.
type State string

const (
	StatePending     State = "PENDING"
	StateFetching    State = "FETCHING_LISTING"
	StateDispatching State = "DISPATCHING_ARTICLES"
	StateCompleted   State = "COMPLETED"
	StateAborted     State = "ABORTED"
)

// Fetcher retrieves page markup with a per-site politeness delay. It is
// satisfied by *fetch.Fetcher.
type Fetcher interface {
	GetWithDelay(ctx context.Context, pageURL string, delay time.Duration) (string, error)
}

// Job is one site crawl request: the site to crawl and an optional cap on
// articles. A negative MaxArticles means unbounded; zero means the run
// dispatches nothing.
type Job struct {
	Site        config.Site
	MaxArticles int
}

// Report summarizes one finished site run.
type Report struct {
	Site    string
	State   State
	Pages   int
	Written int
	Skipped int
	Err     error
}

// Options configures a Runner.
type Options struct {
	Fetcher   Fetcher
	Extractor *extract.Extractor
	Archive   *sitecrawl.Archive
	// Index is optional; a nil index disables crawl indexing.
	Index *sitecrawl.Index
	// Concurrency bounds in-flight article fetches per site (default: 4).
	Concurrency int
	Logger      *slog.Logger
	Crawl       sitecrawl.CrawlInfo
}

// Runner drives site crawls end to end: it walks listing pages, dispatches
// article fetch+extract on a bounded worker pool, and appends records to
// the archive. Site runs share nothing mutable beyond the fetcher's
// politeness state, so failures stay local to their site.
type Runner struct {
	fetcher     Fetcher
	extractor   *extract.Extractor
	archive     *sitecrawl.Archive
	index       *sitecrawl.Index
	concurrency int
	logger      *slog.Logger
	crawl       sitecrawl.CrawlInfo
}

// New creates a runner for one invocation.
func New(opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		fetcher:     opts.Fetcher,
		extractor:   opts.Extractor,
		archive:     opts.Archive,
		index:       opts.Index,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		crawl:       opts.Crawl,
	}
}

// siteFetcher binds a site's politeness delay to the shared fetcher so the
// pagination walker can use the plain Get shape.
type siteFetcher struct {
	fetcher Fetcher
	delay   time.Duration
}

func (f siteFetcher) Get(ctx context.Context, pageURL string) (string, error) {
	return f.fetcher.GetWithDelay(ctx, pageURL, f.delay)
}

// RunAll runs each job in turn and records the invocation in the crawl
// index when one is configured. A site's abort never aborts the others.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) []Report {
	if r.index != nil {
		if err := r.index.BeginCrawl(r.crawl); err != nil {
			r.logger.Warn("failed to record crawl start", "err", err)
		}
	}

	reports := make([]Report, 0, len(jobs))
	written, aborted := 0, 0
	for _, job := range jobs {
		report := r.RunSite(ctx, job)
		written += report.Written
		if report.State == StateAborted {
			aborted++
		}
		reports = append(reports, report)
	}

	if r.index != nil {
		if err := r.index.FinishCrawl(r.crawl, written, aborted); err != nil {
			r.logger.Warn("failed to record crawl finish", "err", err)
		}
	}

	return reports
}

// RunSite crawls one site. The article cap is a soft bound: no more than
// MaxArticles fetches are dispatched, but skipped articles are not
// replaced, so the written count can land under the cap. A listing-page
// failure aborts the run; records already appended stay in the archive.
func (r *Runner) RunSite(ctx context.Context, job Job) Report {
	site := job.Site
	report := Report{Site: site.ID, State: StatePending}
	log := r.logger.With("site", site.ID)

	log.Info("starting site run", "url", site.URL)

	if job.MaxArticles == 0 {
		report.State = StateCompleted
		return report
	}

	delay, err := site.DelayDuration()
	if err != nil {
		// Validated at config load; reaching this means a bug upstream.
		report.State = StateAborted
		report.Err = err
		return report
	}
	fetcher := siteFetcher{fetcher: r.fetcher, delay: delay}

	var (
		mu      sync.Mutex
		written int
		skipped int
	)

	urls := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for articleURL := range urls {
				if ctx.Err() != nil {
					continue
				}
				ok := r.crawlArticle(ctx, fetcher, site, articleURL, log)
				mu.Lock()
				if ok {
					written++
				} else {
					skipped++
				}
				mu.Unlock()
			}
		}()
	}

	report.State = StateFetching
	dispatched := 0
	listingErr := r.walkListing(ctx, fetcher, site, func(page paginate.Page) bool {
		report.Pages++
		report.State = StateDispatching
		log.Debug("listing page fetched", "url", page.URL, "links", len(page.Links))

		for _, link := range page.Links {
			if job.MaxArticles > 0 && dispatched >= job.MaxArticles {
				return false
			}
			select {
			case urls <- link:
				dispatched++
			case <-ctx.Done():
				return false
			}
		}
		return !(job.MaxArticles > 0 && dispatched >= job.MaxArticles)
	})

	close(urls)
	wg.Wait()

	report.Written = written
	report.Skipped = skipped

	switch {
	case listingErr != nil && !errors.Is(listingErr, context.Canceled):
		report.State = StateAborted
		report.Err = listingErr
		log.Error("site run aborted", "pages", report.Pages, "written", written, "err", listingErr)
	case ctx.Err() != nil:
		// Interrupted: dispatch stopped, in-flight work drained, partial
		// output stays written.
		report.State = StateCompleted
		log.Info("site run interrupted", "pages", report.Pages, "written", written, "skipped", skipped)
	default:
		report.State = StateCompleted
		log.Info("site run completed", "pages", report.Pages, "written", written, "skipped", skipped)
	}

	return report
}

// walkListing feeds listing pages to dispatch until the walker is
// exhausted, dispatch declines more, or a listing fetch fails.
func (r *Runner) walkListing(ctx context.Context, fetcher siteFetcher, site config.Site, dispatch func(paginate.Page) bool) error {
	if site.Listing.Kind == "feed" {
		page, err := r.fetchFeedListing(ctx, fetcher, site)
		if err != nil {
			return err
		}
		dispatch(page)
		return nil
	}

	walker := paginate.NewWalker(site, fetcher)
	for {
		page, ok, err := walker.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !dispatch(page) {
			return nil
		}
	}
}

// crawlArticle fetches, extracts, archives, and indexes one article.
// Failures are local: they are logged and counted, never fatal to the run.
func (r *Runner) crawlArticle(ctx context.Context, fetcher siteFetcher, site config.Site, articleURL string, log *slog.Logger) bool {
	markup, err := fetcher.Get(ctx, articleURL)
	if err != nil {
		log.Warn("article fetch failed", "url", articleURL, "err", err)
		return false
	}

	rec, err := r.extractor.Extract(site, markup, articleURL)
	if err != nil {
		log.Warn("article skipped", "url", articleURL, "err", err)
		return false
	}

	rec.CrawlID = r.crawl.ID
	rec.CrawledAt = time.Now().UTC()

	if err := r.archive.Append(rec); err != nil {
		log.Error("failed to archive article", "url", articleURL, "err", err)
		return false
	}
	if r.index != nil {
		if err := r.index.RecordArticle(rec); err != nil {
			log.Warn("failed to index article", "url", articleURL, "err", err)
		}
	}

	log.Debug("article archived", "url", articleURL)
	return true
}
