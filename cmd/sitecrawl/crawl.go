package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/pevans/sitecrawl"
	"github.com/pevans/sitecrawl/config"
	"github.com/pevans/sitecrawl/extract"
	"github.com/pevans/sitecrawl/fetch"
	"github.com/pevans/sitecrawl/runner"
)

// runCrawl implements the crawl subcommand. It returns the process exit
// code: 0 when every site run completed, 1 when any site aborted or the
// invocation itself failed.
func runCrawl(args []string) int {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configPath := fs.String("config", getEnv("SITECRAWL_CONFIG", "site_configs.yml"), "Path to the site configuration document")
	output := fs.String("output", getEnv("SITECRAWL_OUTPUT", "articles"), "Directory for per-site archive files")
	indexPath := fs.String("index", "index.db", "Crawl index database, relative to the output directory (empty disables)")
	maxArticles := fs.Int("max-articles-per-site", -1, "Cap on archived articles per site (negative: unbounded)")
	sites := fs.String("sites", "", "Comma-separated site identifiers to crawl (default: all)")
	concurrency := fs.Int("concurrency", 4, "In-flight article fetches per site")
	delay := fs.Duration("delay", time.Second, "Politeness delay between requests to the same host")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	fs.Parse(args)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	jobs, err := selectJobs(store, *sites, *maxArticles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	archive, err := sitecrawl.NewArchive(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var index *sitecrawl.Index
	if *indexPath != "" {
		path := *indexPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(*output, path)
		}
		index, err = sitecrawl.OpenIndex(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer index.Close()
	}

	fetcher, err := fetch.New(fetch.Options{
		Delay:  *delay,
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// An interrupt stops new dispatch; in-flight fetches drain and partial
	// output stays on disk.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	crawl := sitecrawl.NewCrawlInfo()
	logger.Info("starting crawl", "crawl_id", crawl.ID, "sites", len(jobs))

	r := runner.New(runner.Options{
		Fetcher:     fetcher,
		Extractor:   extract.New(logger),
		Archive:     archive,
		Index:       index,
		Concurrency: *concurrency,
		Logger:      logger,
		Crawl:       crawl,
	})

	reports := r.RunAll(ctx, jobs)
	printSummary(reports)

	for _, report := range reports {
		if report.State == runner.StateAborted {
			return 1
		}
	}
	return 0
}

// selectJobs resolves the --sites flag against the config store. An empty
// selection means every configured site, in document order.
func selectJobs(store *config.Store, selection string, maxArticles int) ([]runner.Job, error) {
	ids := store.IDs()
	if selection != "" {
		ids = nil
		for _, id := range strings.Split(selection, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := store.Site(id); !ok {
				return nil, fmt.Errorf("unknown site: %s", id)
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("no sites selected")
		}
	}

	jobs := make([]runner.Job, 0, len(ids))
	for _, id := range ids {
		site, _ := store.Site(id)
		jobs = append(jobs, runner.Job{Site: site, MaxArticles: maxArticles})
	}
	return jobs, nil
}

func printSummary(reports []runner.Report) {
	fmt.Println()
	fmt.Printf("%-30s %-22s %8s %8s %8s\n", "SITE", "STATE", "PAGES", "WRITTEN", "SKIPPED")
	fmt.Println(strings.Repeat("-", 80))

	totalWritten, totalAborted := 0, 0
	for _, report := range reports {
		fmt.Printf("%-30s %-22s %8d %8d %8d\n",
			report.Site, report.State, report.Pages, report.Written, report.Skipped)
		if report.Err != nil {
			fmt.Printf("  %v\n", report.Err)
		}
		totalWritten += report.Written
		if report.State == runner.StateAborted {
			totalAborted++
		}
	}

	fmt.Println()
	fmt.Printf("%d articles written, %d site(s) aborted\n", totalWritten, totalAborted)
}
