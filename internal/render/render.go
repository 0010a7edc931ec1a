// Package render converts post bodies to HTML and derives listing summaries.
package render

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"

	pparser "github.com/starford/postvault/internal/parser"
)

// DefaultSummaryLength is used when a post sets summaryLength to zero.
const DefaultSummaryLength = 70

// Options configures the goldmark engine.
type Options struct {
	// Extensions names goldmark extensions to enable; empty means GFM,
	// linkify, task lists and footnotes.
	Extensions []string
	// Unsafe allows raw HTML in bodies to pass through.
	Unsafe bool
	// DefaultSummaryLength overrides DefaultSummaryLength when positive.
	DefaultSummaryLength int
}

// Renderer renders Markdown bodies. It is safe for concurrent use.
type Renderer struct {
	md            goldmark.Markdown
	summaryLength int
}

// Rendered is the output of rendering one body.
type Rendered struct {
	HTML string `json:"html"`
	// Summary is the teaser HTML (marker) or plain-text auto summary.
	Summary string `json:"summary"`
	// Truncated reports whether content exists beyond the summary.
	Truncated bool `json:"truncated"`
	// FromMarker reports whether the summary came from a summary-break line.
	FromMarker bool `json:"from_marker"`
}

// New builds a Renderer from opts.
func New(opts Options) *Renderer {
	rendererOptions := []renderer.Option{}
	if opts.Unsafe {
		rendererOptions = append(rendererOptions, html.WithUnsafe())
	}

	md := goldmark.New(
		goldmark.WithExtensions(collectExtensions(opts.Extensions)...),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(rendererOptions...),
	)

	n := opts.DefaultSummaryLength
	if n <= 0 {
		n = DefaultSummaryLength
	}
	return &Renderer{md: md, summaryLength: n}
}

// HTML converts a Markdown body to HTML.
func (r *Renderer) HTML(body string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("render: convert: %w", err)
	}
	return buf.String(), nil
}

// Render converts body to HTML and computes its summary. summaryLength is
// the post's own setting; zero falls back to the renderer default. The
// summary-break line itself is not part of the HTML.
func (r *Renderer) Render(body string, summaryLength int) (*Rendered, error) {
	teaser, rest, found := pparser.SplitSummary(body)
	if found {
		full, err := r.HTML(teaser + "\n" + rest)
		if err != nil {
			return nil, err
		}
		summary, err := r.HTML(teaser)
		if err != nil {
			return nil, err
		}
		return &Rendered{
			HTML:       full,
			Summary:    summary,
			Truncated:  strings.TrimSpace(rest) != "",
			FromMarker: true,
		}, nil
	}

	full, err := r.HTML(body)
	if err != nil {
		return nil, err
	}
	if summaryLength <= 0 {
		summaryLength = r.summaryLength
	}
	summary, truncated := Summarize(PlainText(full), summaryLength)
	return &Rendered{HTML: full, Summary: summary, Truncated: truncated}, nil
}

// PlainText strips tags from rendered HTML and collapses whitespace.
func PlainText(h string) string {
	var b strings.Builder
	inTag := false
	for _, r := range h {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(stdhtml.UnescapeString(b.String())), " ")
}

// Summarize keeps the first n words of text. Each CJK rune counts as one
// word, since such scripts do not separate words with spaces.
func Summarize(text string, n int) (string, bool) {
	count := 0
	inWord := false
	for i, r := range text {
		switch {
		case isCJK(r):
			if count == n {
				return strings.TrimSpace(text[:i]), true
			}
			count++
			inWord = false
		case unicode.IsSpace(r):
			inWord = false
		default:
			if !inWord {
				if count == n {
					return strings.TrimSpace(text[:i]), true
				}
				count++
				inWord = true
			}
		}
	}
	return text, false
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

var extensionRegistry = map[string]goldmark.Extender{
	"gfm":           extension.GFM,
	"table":         extension.Table,
	"strikethrough": extension.Strikethrough,
	"linkify":       extension.Linkify,
	"tasklist":      extension.TaskList,
	"definition":    extension.DefinitionList,
	"footnote":      extension.Footnote,
	"typographer":   extension.Typographer,
}

func collectExtensions(names []string) []goldmark.Extender {
	if len(names) == 0 {
		return []goldmark.Extender{
			extension.GFM,
			extension.Linkify,
			extension.TaskList,
			extension.Footnote,
		}
	}

	seen := map[string]struct{}{}
	var out []goldmark.Extender
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		ext, ok := extensionRegistry[key]
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ext)
	}
	return out
}

// KnownExtension reports whether name is a supported extension.
func KnownExtension(name string) bool {
	_, ok := extensionRegistry[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
