// Package feed fetches RSS 2.0 feeds and extracts the items used to seed
// new page bundles.
package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/backoff/v2"
)

const (
	// DefaultLimit is the number of leading feed items considered.
	DefaultLimit = 3
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	maxFeedBytes = 10 << 20
)

// pubDateLayouts are the RFC 822 variants accepted for pubDate, with and
// without the weekday prefix.
var pubDateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
}

// ErrStatus is returned when the feed responds with a non-200 status.
var ErrStatus = errors.New("feed: unexpected status")

// Item is one usable feed entry.
type Item struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Summary   string    `json:"summary"`
	Published time.Time `json:"published"`
}

type rssDoc struct {
	Channel *struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client *http.Client
	policy backoff.Policy
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.client = &http.Client{Timeout: d} }
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(f *Fetcher) { f.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithClock sets the clock used when an item has no parseable pubDate.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a Fetcher. By default requests time out after
// DefaultTimeout and transient failures are retried with exponential backoff.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: DefaultTimeout},
		policy: backoff.Exponential(
			backoff.WithMinInterval(2*time.Second),
			backoff.WithMaxInterval(20*time.Second),
			backoff.WithJitterFactor(0.1),
			backoff.WithMaxRetries(2),
		),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the feed at url and returns its usable items among the
// first limit entries.
func (f *Fetcher) Fetch(ctx context.Context, url string, limit int) ([]Item, error) {
	var lastErr error
	b := f.policy.Start(ctx)
	for backoff.Continue(b) {
		data, err := f.get(ctx, url)
		if err == nil {
			return Parse(bytes.NewReader(data), limit, f.now())
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		f.logger.Warn("feed fetch failed, retrying",
			slog.String("url", url), slog.String("error", err.Error()))
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, fmt.Errorf("feed: fetch %s: %w", url, lastErr)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("%s: HTTP %d", ErrStatus, e.code) }
func (e *statusError) Unwrap() error { return ErrStatus }

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
}

// Parse decodes an RSS 2.0 document. Only the first limit entries are
// considered, and those without both title and link are dropped, so fewer
// than limit items may be returned. A non-positive limit means DefaultLimit.
func Parse(r io.Reader, limit int, now time.Time) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var doc rssDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("feed: parse: %w", err)
	}
	if doc.Channel == nil {
		return []Item{}, nil
	}

	raw := doc.Channel.Items
	if len(raw) > limit {
		raw = raw[:limit]
	}
	items := make([]Item, 0, len(raw))
	for _, it := range raw {
		title := strings.TrimSpace(it.Title)
		link := strings.TrimSpace(it.Link)
		if title == "" || link == "" {
			continue
		}
		items = append(items, Item{
			Title:     title,
			Link:      link,
			Summary:   strings.TrimSpace(it.Description),
			Published: ParsePubDate(strings.TrimSpace(it.PubDate), now),
		})
	}
	return items, nil
}

// ParsePubDate parses an RFC 822 date, falling back to now in UTC.
func ParsePubDate(raw string, now time.Time) time.Time {
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return now.UTC()
}
