package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pevans/sitecrawl/config"
)

// runSites implements the sites subcommand: a table of the configured
// sites and how their listings are walked.
func runSites(args []string) int {
	fs := flag.NewFlagSet("sites", flag.ExitOnError)
	configPath := fs.String("config", getEnv("SITECRAWL_CONFIG", "site_configs.yml"), "Path to the site configuration document")
	fs.Parse(args)

	store, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("%-30s %-8s %-10s %s\n", "SITE", "LISTING", "PAGING", "URL")
	fmt.Println("----------------------------------------------------------------------------------------------------")

	for _, id := range store.IDs() {
		site, _ := store.Site(id)

		listing := site.Listing.Kind
		if listing == "" {
			listing = "html"
		}
		paging := string(site.Listing.Pagination.Kind)
		if paging == "" {
			paging = string(config.PaginationNone)
		}

		url := site.URL
		if len(url) > 48 {
			url = url[:45] + "..."
		}

		fmt.Printf("%-30s %-8s %-10s %s\n", id, listing, paging, url)
	}

	return 0
}
