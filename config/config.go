package config

import (
	"fmt"
	"time"
)

// PaginationKind selects how listing pages after the first are discovered.
type PaginationKind string

const (
	// PaginationNone crawls only the entry listing page.
	PaginationNone PaginationKind = "none"
	// PaginationNextLink follows a "next page" link selector on each
	// fetched listing page until it matches nothing.
	PaginationNextLink PaginationKind = "next"
	// PaginationNumbered substitutes an increasing page index into a URL
	// template until a page yields zero article links.
	PaginationNumbered PaginationKind = "numbered"
)

// MatchRule selects which matched node (or combination) an extract spec
// resolves to when a selector matches more than one node.
type MatchRule string

const (
	MatchFirst   MatchRule = "first"
	MatchLast    MatchRule = "last"
	MatchLargest MatchRule = "largest"
	MatchConcat  MatchRule = "concat"
	MatchAll     MatchRule = "all"
)

// Pagination is a tagged descriptor for walking listing pages. Exactly the
// fields for its kind are meaningful: NextSelector for "next", URLTemplate
// (with a single %d verb), Start, and Stride for "numbered".
type Pagination struct {
	Kind         PaginationKind `yaml:"kind"`
	NextSelector string         `yaml:"next_selector,omitempty"`
	URLTemplate  string         `yaml:"url_template,omitempty"`
	Start        int            `yaml:"start,omitempty"`
	Stride       int            `yaml:"stride,omitempty"`
}

// Listing describes how to discover article links for a site. Kind "html"
// applies LinkSelector to fetched listing pages; kind "feed" treats the
// entry URL as an RSS/Atom feed whose item links are the article URLs.
type Listing struct {
	Kind         string     `yaml:"kind,omitempty"` // "html" (default) or "feed"
	LinkSelector string     `yaml:"link_selector,omitempty"`
	Pagination   Pagination `yaml:"pagination,omitempty"`
	MaxPages     int        `yaml:"max_pages,omitempty"` // 0 means unbounded
}

// Field describes how to extract one article field: a CSS selector, an
// optional attribute to read instead of the node text, and a match rule
// applied when the selector matches more than one node.
type Field struct {
	Selector string    `yaml:"selector"`
	Attr     string    `yaml:"attr,omitempty"`
	Match    MatchRule `yaml:"match,omitempty"` // default: first
}

// Article maps article fields to extract specs. Any spec may be omitted;
// missing fields degrade to null rather than failing extraction.
type Article struct {
	Title      *Field `yaml:"title,omitempty"`
	Author     *Field `yaml:"author,omitempty"`
	Date       *Field `yaml:"date,omitempty"`
	Body       *Field `yaml:"body,omitempty"`
	DateFormat string `yaml:"date_format,omitempty"` // Go layout, "unix", or "unixmilli"
}

// Site is the extraction configuration for one crawled site.
type Site struct {
	ID      string  `yaml:"-"`
	URL     string  `yaml:"url"`
	Listing Listing `yaml:"listing"`
	Article Article `yaml:"article"`
	Delay   string  `yaml:"delay,omitempty"` // per-host politeness override, e.g. "2s"
}

// DelayDuration parses the site's politeness delay override. A zero
// duration means the fetcher's default applies.
func (s *Site) DelayDuration() (time.Duration, error) {
	if s.Delay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Delay)
	if err != nil {
		return 0, &Error{Site: s.ID, Msg: fmt.Sprintf("invalid delay %q", s.Delay)}
	}
	return d, nil
}

// Error describes an invalid or malformed site configuration. Config
// errors are fatal at startup; they abort the whole invocation.
type Error struct {
	Site string
	Msg  string
}

func (e *Error) Error() string {
	if e.Site == "" {
		return fmt.Sprintf("config: %s", e.Msg)
	}
	return fmt.Sprintf("config: site %q: %s", e.Site, e.Msg)
}

// Validate checks a site configuration for the invariants the runner
// depends on. It does not touch the network.
func (s *Site) Validate() error {
	if s.URL == "" {
		return &Error{Site: s.ID, Msg: "url is required"}
	}

	switch s.Listing.Kind {
	case "", "html":
		if s.Listing.LinkSelector == "" {
			return &Error{Site: s.ID, Msg: "listing.link_selector is required"}
		}
	case "feed":
		// Feed items carry their own links; pagination never applies.
		if s.Listing.Pagination.Kind != "" && s.Listing.Pagination.Kind != PaginationNone {
			return &Error{Site: s.ID, Msg: "feed listings do not paginate"}
		}
	default:
		return &Error{Site: s.ID, Msg: fmt.Sprintf("unknown listing kind %q", s.Listing.Kind)}
	}

	switch s.Listing.Pagination.Kind {
	case "", PaginationNone:
	case PaginationNextLink:
		if s.Listing.Pagination.NextSelector == "" {
			return &Error{Site: s.ID, Msg: "pagination.next_selector is required for kind \"next\""}
		}
	case PaginationNumbered:
		if s.Listing.Pagination.URLTemplate == "" {
			return &Error{Site: s.ID, Msg: "pagination.url_template is required for kind \"numbered\""}
		}
		if err := validateURLTemplate(s.Listing.Pagination.URLTemplate); err != nil {
			return &Error{Site: s.ID, Msg: err.Error()}
		}
	default:
		return &Error{Site: s.ID, Msg: fmt.Sprintf("unknown pagination kind %q", s.Listing.Pagination.Kind)}
	}

	if s.Article.Title == nil && s.Article.Author == nil && s.Article.Date == nil && s.Article.Body == nil {
		return &Error{Site: s.ID, Msg: "at least one article extract spec is required"}
	}

	if _, err := s.DelayDuration(); err != nil {
		return err
	}

	for name, f := range map[string]*Field{
		"title":  s.Article.Title,
		"author": s.Article.Author,
		"date":   s.Article.Date,
		"body":   s.Article.Body,
	} {
		if f == nil {
			continue
		}
		if f.Selector == "" {
			return &Error{Site: s.ID, Msg: fmt.Sprintf("article.%s.selector is required", name)}
		}
		switch f.Match {
		case "", MatchFirst, MatchLast, MatchLargest, MatchConcat, MatchAll:
		default:
			return &Error{Site: s.ID, Msg: fmt.Sprintf("article.%s: unknown match rule %q", name, f.Match)}
		}
	}

	return nil
}

// validateURLTemplate checks that a numbered pagination template carries
// exactly one %d verb and nothing else fmt would substitute, so PageURL
// can never produce garbage URLs at runtime.
func validateURLTemplate(template string) error {
	verbs := 0
	runes := []rune(template)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' {
			continue
		}
		if i+1 >= len(runes) {
			return fmt.Errorf("pagination.url_template has a trailing %%")
		}
		switch runes[i+1] {
		case 'd':
			verbs++
		case '%':
			// Literal percent.
		default:
			return fmt.Errorf("pagination.url_template has an unsupported verb %%%c; only %%d is allowed", runes[i+1])
		}
		i++
	}
	if verbs != 1 {
		return fmt.Errorf("pagination.url_template must contain exactly one %%d, found %d", verbs)
	}
	return nil
}

// PageURL returns the listing URL for a 1-based page number under a
// numbered pagination descriptor.
func (p Pagination) PageURL(page int) string {
	start := p.Start
	if start == 0 {
		start = 1
	}
	stride := p.Stride
	if stride == 0 {
		stride = 1
	}
	return fmt.Sprintf(p.URLTemplate, start+(page-1)*stride)
}
