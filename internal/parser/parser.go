// Package parser splits post files into TOML front matter and Markdown body
// and decodes the front matter into typed post fields.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/frontmatter"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/starford/postvault/internal/models"
)

// Delimiter opens and closes the front matter block.
const Delimiter = "+++"

var (
	// ErrMalformedFrontMatter is returned when delimiters are missing or
	// mismatched, or the block is not valid TOML.
	ErrMalformedFrontMatter = errors.New("malformed front matter")
	// ErrMissingField is returned when required metadata is absent.
	ErrMissingField = errors.New("missing field")
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	tomlFormat = frontmatter.NewFormat(Delimiter, Delimiter, toml.Unmarshal)
)

// FieldError reports a front matter key whose value has the wrong type or range.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Result holds the output of parsing a post file.
type Result struct {
	FrontMatter   map[string]any
	Body          string
	Title         string
	Date          time.Time
	Draft         bool
	SummaryLength int
	Tags          []string
	Cover         models.Cover

	// Missing lists required keys that were absent.
	Missing []string
	// FieldErrors lists keys present with an unusable value.
	FieldErrors []*FieldError
}

// Err summarises missing and invalid fields. It returns nil for a usable post.
func (r *Result) Err() error {
	var errs []error
	if len(r.Missing) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(r.Missing, ", ")))
	}
	for _, fe := range r.FieldErrors {
		errs = append(errs, fe)
	}
	return errors.Join(errs...)
}

// Post converts the result into a models.Post, failing when Err is non-nil.
func (r *Result) Post(path, checksum string) (*models.Post, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	return &models.Post{
		Path:          path,
		Date:          r.Date,
		Draft:         r.Draft,
		Title:         r.Title,
		SummaryLength: r.SummaryLength,
		Tags:          append([]string{}, r.Tags...),
		Cover:         r.Cover,
		Body:          r.Body,
		FrontMatter:   r.FrontMatter,
		Checksum:      checksum,
	}, nil
}

// Normalize strips a leading byte order mark and converts CRLF line endings.
func Normalize(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if bytes.IndexByte(data, '\r') < 0 {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
}

// SplitFrontMatter separates the front matter block from the body. The first
// line must be exactly "+++" and a later line exactly "+++" closes the block.
func SplitFrontMatter(data []byte) ([]byte, string, error) {
	data = Normalize(data)

	first, rest, found := bytes.Cut(data, []byte("\n"))
	if string(first) != Delimiter {
		return nil, "", fmt.Errorf("%w: first line must be %q", ErrMalformedFrontMatter, Delimiter)
	}
	if !found {
		return nil, "", fmt.Errorf("%w: no closing %q", ErrMalformedFrontMatter, Delimiter)
	}

	pos := 0
	for pos <= len(rest) {
		line, _, hasNL := bytes.Cut(rest[pos:], []byte("\n"))
		if string(line) == Delimiter {
			bodyStart := pos + len(line)
			if hasNL {
				bodyStart++
			}
			return rest[:pos], string(rest[bodyStart:]), nil
		}
		if !hasNL {
			break
		}
		pos += len(line) + 1
	}
	return nil, "", fmt.Errorf("%w: no closing %q", ErrMalformedFrontMatter, Delimiter)
}

// Parse decodes the front matter and typed fields of a post file. Only
// structural problems are returned as errors; field problems are recorded on
// the Result so callers can report all of them at once.
func Parse(data []byte) (*Result, error) {
	data = Normalize(data)

	_, body, err := SplitFrontMatter(data)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	rest, err := frontmatter.MustParse(bytes.NewReader(data), &raw, tomlFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	// The decoder trims delimiter lines, so "+++ " would close its block
	// before ours. Both must end at the same line.
	if string(rest) != body {
		return nil, fmt.Errorf("%w: %q must stand alone on its line", ErrMalformedFrontMatter, Delimiter)
	}

	r := &Result{FrontMatter: raw, Body: body}
	r.decodeFields()
	return r, nil
}

func (r *Result) decodeFields() {
	fm := r.FrontMatter

	if v, ok := fm["title"]; !ok {
		r.Missing = append(r.Missing, "title")
	} else {
		r.Title = r.stringField("title", v)
	}

	if v, ok := fm["date"]; !ok {
		r.Missing = append(r.Missing, "date")
	} else if t, err := parseDate(v); err != nil {
		r.fieldErr("date", err.Error())
	} else {
		r.Date = t
	}

	if v, ok := fm["draft"]; ok {
		r.Draft = r.boolField("draft", v)
	}

	if v, ok := fm["summaryLength"]; ok {
		switch n := v.(type) {
		case int64:
			if n < 0 {
				r.fieldErr("summaryLength", "must be non-negative")
			} else {
				r.SummaryLength = int(n)
			}
		default:
			r.fieldErr("summaryLength", "must be an integer")
		}
	}

	if v, ok := fm["tags"]; ok {
		r.Tags = r.tagsField(v)
	}

	if v, ok := fm["cover"]; ok {
		table, isTable := v.(map[string]any)
		if !isTable {
			r.fieldErr("cover", "must be a table")
			return
		}
		r.Cover.Image = r.stringField("cover.image", table["image"])
		r.Cover.Alt = r.stringField("cover.alt", table["alt"])
		if b, ok := table["relative"]; ok {
			r.Cover.Relative = r.boolField("cover.relative", b)
		}
		if b, ok := table["hidden"]; ok {
			r.Cover.Hidden = r.boolField("cover.hidden", b)
		}
	}
}

func (r *Result) fieldErr(field, msg string) {
	r.FieldErrors = append(r.FieldErrors, &FieldError{Field: field, Message: msg})
}

func (r *Result) boolField(field string, v any) bool {
	b, ok := v.(bool)
	if !ok {
		r.fieldErr(field, "must be a boolean")
	}
	return b
}

func (r *Result) stringField(field string, v any) string {
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fieldErr(field, "must be text")
	}
	return s
}

// tagsField collapses the tag list to a set, keeping first-seen order.
func (r *Result) tagsField(v any) []string {
	list, ok := v.([]any)
	if !ok {
		r.fieldErr("tags", "must be a list of text")
		return nil
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			r.fieldErr("tags", "must be a list of text")
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if seen.Add(s) {
			out = append(out, s)
		}
	}
	return out
}

// Zone names the TOML decoder gives to values written without an offset.
var localZones = []string{"datetime-local", "date-local", "time-local"}

// parseDate accepts a TOML offset datetime or an RFC 3339 string carrying an
// offset. Local dates and datetimes are rejected.
func parseDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		if slices.Contains(localZones, d.Location().String()) {
			return time.Time{}, errors.New("must be a timestamp with offset, got a local date or time")
		}
		return d, nil
	case string:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(d))
		if err != nil {
			return time.Time{}, fmt.Errorf("must be a timestamp with offset, got %q", d)
		}
		return t, nil
	default:
		return time.Time{}, errors.New("must be a timestamp with offset")
	}
}
