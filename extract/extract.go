package extract

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/pevans/sitecrawl"
	"github.com/pevans/sitecrawl/config"
)

// Error describes an article whose content could not be extracted even via
// the readability fallback. The article is skipped; the site run continues.
type Error struct {
	URL string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %s", e.URL, e.Msg)
}

// Extractor applies a site's extract specs to article page markup. Field
// selectors that match nothing degrade to null fields; only an empty body
// after the readability fallback fails the article.
type Extractor struct {
	logger *slog.Logger
}

// New creates an extractor. A nil logger uses the default.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract builds an article record from page markup using the site's
// configured selectors. The returned record carries the site id, URL, and
// extracted fields; the caller stamps crawl information before archiving.
func (e *Extractor) Extract(site config.Site, pageHTML, pageURL string) (sitecrawl.ArticleRecord, error) {
	rec := sitecrawl.ArticleRecord{
		Site: site.ID,
		URL:  pageURL,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return rec, &Error{URL: pageURL, Msg: fmt.Sprintf("unparseable markup: %v", err)}
	}

	rec.Title = selectField(doc, site.Article.Title)
	if author := selectField(doc, site.Article.Author); author != nil {
		if authors := SplitAuthors(*author); len(authors) > 0 {
			joined := strings.Join(authors, ", ")
			rec.Author = &joined
		}
	}
	if dateText := selectField(doc, site.Article.Date); dateText != nil {
		rec.Published = ParseDate(*dateText, site.Article.DateFormat)
		if rec.Published == nil {
			e.logger.Debug("unparseable date", "url", pageURL, "date", *dateText)
		}
	}

	if body := selectField(doc, site.Article.Body); body != nil {
		rec.Body = *body
		return rec, nil
	}

	// Body selector matched nothing (or only empty text): fall back to
	// generic readability extraction of the whole page.
	e.logger.Debug("body selector matched nothing, trying readability", "url", pageURL)

	fallback, err := e.readabilityFallback(pageHTML, pageURL)
	if err != nil || strings.TrimSpace(fallback.text) == "" {
		return rec, &Error{URL: pageURL, Msg: "no article body found"}
	}

	rec.Body = normalizeSpace(fallback.text)
	if rec.Title == nil && fallback.title != "" {
		title := normalizeSpace(fallback.title)
		rec.Title = &title
	}
	if rec.Author == nil && fallback.byline != "" {
		if authors := SplitAuthors(fallback.byline); len(authors) > 0 {
			joined := strings.Join(authors, ", ")
			rec.Author = &joined
		}
	}

	return rec, nil
}

type fallbackResult struct {
	title  string
	byline string
	text   string
}

func (e *Extractor) readabilityFallback(pageHTML, pageURL string) (fallbackResult, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return fallbackResult{}, err
	}

	article, err := readability.FromReader(strings.NewReader(pageHTML), u)
	if err != nil {
		return fallbackResult{}, err
	}

	return fallbackResult{
		title:  article.Title,
		byline: article.Byline,
		text:   article.TextContent,
	}, nil
}

// selectField resolves an extract spec against a document. It returns nil
// when the field is not configured, the selector matches nothing, or every
// match is empty after whitespace normalization.
func selectField(doc *goquery.Document, f *config.Field) *string {
	if f == nil {
		return nil
	}

	var values []string
	doc.Find(f.Selector).Each(func(i int, s *goquery.Selection) {
		var raw string
		if f.Attr != "" {
			raw, _ = s.Attr(f.Attr)
		} else {
			raw = s.Text()
		}
		if v := normalizeSpace(raw); v != "" {
			values = append(values, v)
		}
	})
	if len(values) == 0 {
		return nil
	}

	var out string
	switch f.Match {
	case config.MatchLast:
		out = values[len(values)-1]
	case config.MatchLargest:
		out = values[0]
		for _, v := range values[1:] {
			if len(v) > len(out) {
				out = v
			}
		}
	case config.MatchConcat:
		out = strings.Join(values, ", ")
	case config.MatchAll:
		out = strings.Join(values, "\n")
	default: // first
		out = values[0]
	}

	return &out
}

// normalizeSpace collapses runs of whitespace to single spaces and trims.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SimplifyByline strips common byline decoration ("By ..." prefixes,
// trailing punctuation) and collapses whitespace.
func SimplifyByline(byline string) string {
	s := normalizeSpace(byline)
	for _, prefix := range []string{"By ", "by ", "BY "} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	return strings.TrimRight(s, " |-")
}

// SplitAuthors splits a byline naming several authors on common
// delimiters. A byline with no delimiters comes back as a single author.
func SplitAuthors(byline string) []string {
	s := SimplifyByline(byline)
	if s == "" {
		return nil
	}

	for _, sep := range []string{", ", " and ", " & "} {
		if strings.Contains(s, sep) {
			var authors []string
			for _, part := range strings.Split(s, sep) {
				if part = strings.TrimSpace(part); part != "" {
					authors = append(authors, part)
				}
			}
			return authors
		}
	}

	return []string{s}
}
