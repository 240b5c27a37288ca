package runner

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/pevans/sitecrawl/config"
	"github.com/pevans/sitecrawl/paginate"
)

// fetchFeedListing handles the "feed" listing kind: the site's entry URL
// is an RSS or Atom feed and each item link is an article URL. The gofeed
// library detects the format, so both work transparently. Feeds are a
// single listing page; pagination never applies.
func (r *Runner) fetchFeedListing(ctx context.Context, fetcher siteFetcher, site config.Site) (paginate.Page, error) {
	body, err := fetcher.Get(ctx, site.URL)
	if err != nil {
		return paginate.Page{}, err
	}

	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return paginate.Page{}, fmt.Errorf("failed to parse feed %s: %w", site.URL, err)
	}

	page := paginate.Page{URL: site.URL}
	seen := make(map[string]bool)
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		link, ok := paginate.NormalizeURL(item.Link)
		if !ok || seen[link] {
			continue
		}
		seen[link] = true
		page.Links = append(page.Links, link)
	}

	return page, nil
}
