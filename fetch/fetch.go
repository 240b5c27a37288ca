package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Error describes an HTTP fetch that failed after the configured retries.
// Status is zero when the request never produced a response.
type Error struct {
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Fetcher.
type Options struct {
	// UserAgent overrides the default browser user agent.
	UserAgent string
	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration
	// Retries is the number of retry attempts after a failed request
	// (default: 2). Retries apply to transport errors and 5xx responses.
	Retries int
	// Delay is the minimum interval between consecutive requests to the
	// same host (default: 1s).
	Delay time.Duration
	// Logger for debug messages.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retries == 0 {
		o.Retries = 2
	}
	if o.Delay <= 0 {
		o.Delay = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Fetcher retrieves page markup over HTTP with bounded retries and a
// per-host politeness delay. It is safe for concurrent use; concurrent
// requests to the same host are spaced by the politeness delay.
type Fetcher struct {
	client *resty.Client
	delay  time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	next map[string]time.Time // earliest allowed request time per host
}

// New creates a fetcher. The underlying client carries a cookie jar and a
// Cloudflare bypass transport; several of the crawled sites sit behind
// Cloudflare's anti-bot check.
func New(opts Options) (*Fetcher, error) {
	opts.defaults()

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("User-Agent", opts.UserAgent)
	client.SetTimeout(opts.Timeout)
	client.SetRetryCount(opts.Retries)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(5 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})

	return &Fetcher{
		client: client,
		delay:  opts.Delay,
		logger: opts.Logger,
		next:   make(map[string]time.Time),
	}, nil
}

// Get fetches the page at the given URL and returns its markup. A non-2xx
// response after retries, or a transport failure, returns an *Error.
func (f *Fetcher) Get(ctx context.Context, pageURL string) (string, error) {
	return f.get(ctx, pageURL, f.delay)
}

// GetWithDelay is Get with a per-site politeness delay override.
func (f *Fetcher) GetWithDelay(ctx context.Context, pageURL string, delay time.Duration) (string, error) {
	if delay <= 0 {
		delay = f.delay
	}
	return f.get(ctx, pageURL, delay)
}

func (f *Fetcher) get(ctx context.Context, pageURL string, delay time.Duration) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", &Error{URL: pageURL, Err: err}
	}

	if err := f.waitHost(ctx, u.Hostname(), delay); err != nil {
		return "", &Error{URL: pageURL, Err: err}
	}

	f.logger.Debug("fetching page", "url", pageURL)

	res, err := f.client.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return "", &Error{URL: pageURL, Err: err}
	}
	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		return "", &Error{URL: pageURL, Status: res.StatusCode()}
	}

	return res.String(), nil
}

// waitHost reserves the next request slot for a host and sleeps until it
// arrives. Each caller claims a slot under the lock, so concurrent
// requests to the same host stay spaced by the delay.
func (f *Fetcher) waitHost(ctx context.Context, host string, delay time.Duration) error {
	f.mu.Lock()
	now := time.Now()
	slot := f.next[host]
	if slot.Before(now) {
		slot = now
	}
	f.next[host] = slot.Add(delay)
	f.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
