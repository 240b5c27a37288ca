package paginate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pevans/sitecrawl/config"
)

// PageFetcher retrieves the markup of a listing page. It is satisfied by
// *fetch.Fetcher; tests substitute canned responses.
type PageFetcher interface {
	Get(ctx context.Context, pageURL string) (string, error)
}

// Page is one fetched listing page: its URL and the article links found on
// it, normalized and deduplicated against earlier pages of the same walk.
type Page struct {
	URL   string
	Links []string
}

// Walker produces a lazy, finite, non-restartable sequence of listing
// pages for a site, starting from the configured entry URL. Termination
// depends on the pagination descriptor: "none" yields exactly the entry
// page; "next" follows the next-link selector until it matches nothing or
// resolves to an already-fetched listing page; "numbered" substitutes
// increasing page indexes into the URL template until a page yields zero
// new article links. A max-pages bound caps all three.
type Walker struct {
	site  config.Site
	fetch PageFetcher

	page    int
	nextURL string
	done    bool
	seen    map[string]bool
	visited map[string]bool
}

// NewWalker creates a walker for one site run. Walkers are single-use:
// once exhausted they stay exhausted.
func NewWalker(site config.Site, fetch PageFetcher) *Walker {
	return &Walker{
		site:    site,
		fetch:   fetch,
		nextURL: site.URL,
		seen:    make(map[string]bool),
		visited: make(map[string]bool),
	}
}

// Next fetches and returns the next listing page. The second return is
// false once the sequence is exhausted. A fetch or parse failure ends the
// walk and is returned to the caller; per the site-run contract a listing
// failure aborts the site.
func (w *Walker) Next(ctx context.Context) (Page, bool, error) {
	if w.done {
		return Page{}, false, nil
	}
	if err := ctx.Err(); err != nil {
		w.done = true
		return Page{}, false, err
	}

	w.page++
	pag := w.site.Listing.Pagination

	pageURL := w.nextURL
	if pag.Kind == config.PaginationNumbered {
		pageURL = pag.PageURL(w.page)
	}

	markup, err := w.fetch.Get(ctx, pageURL)
	if err != nil {
		w.done = true
		return Page{}, false, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		w.done = true
		return Page{}, false, fmt.Errorf("failed to parse listing page %s: %w", pageURL, err)
	}

	if norm, ok := NormalizeURL(pageURL); ok {
		w.visited[norm] = true
	}

	raw := collectLinks(doc, w.site.Listing.LinkSelector, pageURL)
	page := Page{URL: pageURL}
	for _, link := range raw {
		if w.seen[link] {
			continue
		}
		w.seen[link] = true
		page.Links = append(page.Links, link)
	}

	maxPages := w.site.Listing.MaxPages
	switch pag.Kind {
	case config.PaginationNextLink:
		// A next link pointing back at an already-fetched listing page is
		// a terminal condition too; some sites cycle their last page back
		// to the first, which would otherwise walk forever.
		next, ok := nextLink(doc, pag.NextSelector, pageURL)
		if !ok || w.visited[next] {
			w.done = true
		}
		w.nextURL = next
	case config.PaginationNumbered:
		// A page with zero new article links is the terminal page; the
		// one after it is never requested. Checking new links (not raw)
		// also stops sites that echo their last page for out-of-range
		// indexes.
		if len(page.Links) == 0 {
			w.done = true
		}
	default:
		w.done = true
	}

	if maxPages > 0 && w.page >= maxPages {
		w.done = true
	}

	return page, true, nil
}

// collectLinks applies a link selector to a listing page and returns the
// normalized article URLs it matches. Selected nodes that are not anchors
// are searched for a descendant anchor.
func collectLinks(doc *goquery.Document, selector, pageURL string) []string {
	if selector == "" {
		return nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			href, ok = s.Find("a[href]").First().Attr("href")
		}
		if !ok || href == "" {
			return
		}

		link, ok := Normalize(base, href)
		if !ok {
			return
		}
		links = append(links, link)
	})

	return links
}

// nextLink resolves the "next page" link on a listing page. The second
// return is false when the selector matches nothing, the walk's terminal
// condition.
func nextLink(doc *goquery.Document, selector, pageURL string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}

	sel := doc.Find(selector).First()
	href, ok := sel.Attr("href")
	if !ok {
		href, ok = sel.Find("a[href]").First().Attr("href")
	}
	if !ok || href == "" {
		return "", false
	}

	next, ok := Normalize(base, href)
	return next, ok
}

// Normalize resolves href against base and canonicalizes the result so
// duplicate links from the same run compare equal: scheme and host are
// lowercased, the fragment is dropped, and a trailing slash is trimmed.
// Links that aren't http(s) are rejected.
func Normalize(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}

	u := base.ResolveReference(ref)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	s := u.String()
	s = strings.TrimSuffix(s, "/")
	return s, true
}

// NormalizeURL is Normalize for an absolute URL string.
func NormalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() {
		return "", false
	}
	return Normalize(u, "")
}
