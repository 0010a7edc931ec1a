// Package bundle writes page bundles (a directory holding index.md and its
// resources) for feed items.
package bundle

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // short content-addressed suffix, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/starford/postvault/internal/feed"
	"github.com/starford/postvault/internal/parser"
	"github.com/starford/postvault/internal/storage"
)

const (
	// IndexName is the bundle's content file.
	IndexName = "index.md"
	// CoverName is the bundle's cover image.
	CoverName = "cover.png"
	// SummaryLength is written into generated front matter.
	SummaryLength = 30

	maxSlugWord   = 32
	maxSummary    = 160
	sourceLabel   = "引用元"
	fallbackWords = "post"
)

// ErrBundleExists is returned when the target bundle directory already exists.
var ErrBundleExists = errors.New("bundle: already exists")

var nonAlnum = regexp.MustCompile(`[^0-9a-zA-Z]+`)

// Slug returns YYYYMMDD-<ascii words>-<sha1(link)[:8]>, with the date taken
// from now in UTC. Titles without ASCII letters or digits use "post".
func Slug(title, link string, now time.Time) string {
	words := strings.ToLower(strings.Trim(nonAlnum.ReplaceAllString(title, "-"), "-"))
	if words == "" {
		words = fallbackWords
	}
	if len(words) > maxSlugWord {
		words = words[:maxSlugWord]
	}
	sum := sha1.Sum([]byte(link)) //nolint:gosec
	return fmt.Sprintf("%s-%s-%s", now.UTC().Format("20060102"), words, hex.EncodeToString(sum[:])[:8])
}

// Article is the generated content for one item.
type Article struct {
	// Body is Markdown; empty means the item's feed summary is used.
	Body string
	// Cover holds PNG bytes written as cover.png; nil writes no cover.
	Cover []byte
}

type coverTable struct {
	Image    string `toml:"image"`
	Alt      string `toml:"alt"`
	Relative bool   `toml:"relative"`
	Hidden   bool   `toml:"hidden"`
}

type frontMatter struct {
	Title         string      `toml:"title"`
	Date          time.Time   `toml:"date"`
	Draft         bool        `toml:"draft"`
	Categories    []string    `toml:"categories,omitempty"`
	Summary       string      `toml:"summary"`
	SummaryLength int         `toml:"summaryLength"`
	Tags          []string    `toml:"tags"`
	Cover         *coverTable `toml:"cover,omitempty"`
}

// Render builds the index.md source for item.
func Render(item feed.Item, article Article, category string) ([]byte, error) {
	body := strings.TrimRight(article.Body, " \t\r\n")
	if body == "" {
		body = strings.TrimSpace(item.Summary)
	}
	summary := item.Summary
	if summary == "" {
		summary = summarize(body)
	}

	fm := frontMatter{
		Title:         item.Title,
		Date:          item.Published.UTC(),
		Summary:       summary,
		SummaryLength: SummaryLength,
		Tags:          []string{},
	}
	if category != "" {
		fm.Categories = []string{category}
	}
	if article.Cover != nil {
		fm.Cover = &coverTable{Image: CoverName, Alt: item.Title, Relative: true}
	}

	var buf bytes.Buffer
	buf.WriteString(parser.Delimiter + "\n")
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(fm); err != nil {
		return nil, fmt.Errorf("bundle: encode front matter: %w", err)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(parser.Delimiter + "\n\n")
	if body != "" {
		buf.WriteString(body + "\n\n")
	}
	fmt.Fprintf(&buf, "> [%s](%s)\n", sourceLabel, item.Link)
	return buf.Bytes(), nil
}

// summarize flattens line breaks and cuts to maxSummary runes.
func summarize(body string) string {
	plain := strings.Join(strings.FieldsFunc(body, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
	runes := []rune(plain)
	if len(runes) <= maxSummary {
		return plain
	}
	return string(runes[:maxSummary-3]) + "..."
}

// Writer creates bundles under a directory of a storage.Provider.
type Writer struct {
	store    storage.Provider
	dir      string
	category string
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithCategory adds a single category to generated front matter.
func WithCategory(c string) Option {
	return func(w *Writer) { w.category = strings.TrimSpace(c) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithClock sets the clock used for slug dates.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a Writer that places bundles under dir.
func NewWriter(store storage.Provider, dir string, opts ...Option) *Writer {
	w := &Writer{store: store, dir: strings.Trim(dir, "/"), logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// BundleDir returns the content-root relative directory for item.
func (w *Writer) BundleDir(item feed.Item) string {
	return path.Join(w.dir, Slug(item.Title, item.Link, w.now()))
}

// Write creates the bundle for item and returns the path of its index.md.
// An existing bundle is left untouched and ErrBundleExists is returned.
func (w *Writer) Write(item feed.Item, article Article) (string, error) {
	bundleDir := w.BundleDir(item)
	if w.store.Exists(bundleDir) {
		return "", fmt.Errorf("%w: %s", ErrBundleExists, bundleDir)
	}

	content, err := Render(item, article, w.category)
	if err != nil {
		return "", err
	}
	if article.Cover != nil {
		if err := w.store.Write(path.Join(bundleDir, CoverName), article.Cover); err != nil {
			return "", fmt.Errorf("bundle: write cover: %w", err)
		}
	}
	indexPath := path.Join(bundleDir, IndexName)
	if err := w.store.Write(indexPath, content); err != nil {
		return "", fmt.Errorf("bundle: write index: %w", err)
	}
	return indexPath, nil
}

// ImportStats summarizes an Import run.
type ImportStats struct {
	Written []string `json:"written"`
	Skipped []string `json:"skipped"`
}

// ArticleFunc produces the article for an item. A nil ArticleFunc uses the
// feed summary as body and writes no cover.
type ArticleFunc func(feed.Item) (Article, error)

// Import writes a bundle for each item, skipping those that already exist.
func (w *Writer) Import(items []feed.Item, gen ArticleFunc) (ImportStats, error) {
	stats := ImportStats{Written: []string{}, Skipped: []string{}}
	for _, item := range items {
		if dir := w.BundleDir(item); w.store.Exists(dir) {
			w.logger.Info("skipping existing bundle", slog.String("path", dir))
			stats.Skipped = append(stats.Skipped, dir)
			continue
		}
		var article Article
		if gen != nil {
			a, err := gen(item)
			if err != nil {
				return stats, fmt.Errorf("bundle: article for %q: %w", item.Title, err)
			}
			article = a
		}
		p, err := w.Write(item, article)
		if err != nil {
			return stats, err
		}
		w.logger.Info("bundle written", slog.String("path", p))
		stats.Written = append(stats.Written, p)
	}
	return stats, nil
}
