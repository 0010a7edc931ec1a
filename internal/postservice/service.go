// Package postservice coordinates storage, index and rendering of posts.
package postservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/starford/postvault/internal/apperr"
	"github.com/starford/postvault/internal/checksum"
	"github.com/starford/postvault/internal/conformance"
	"github.com/starford/postvault/internal/index"
	"github.com/starford/postvault/internal/models"
	"github.com/starford/postvault/internal/parser"
	"github.com/starford/postvault/internal/render"
	"github.com/starford/postvault/internal/storage"
)

// CoverRoute is the URL prefix under which bundle-relative covers are served.
const CoverRoute = "/api/covers/"

// PostDetail is the full representation of a post.
type PostDetail struct {
	Path          string         `json:"path"`
	Title         string         `json:"title"`
	Date          time.Time      `json:"date"`
	Draft         bool           `json:"draft"`
	SummaryLength int            `json:"summary_length"`
	Tags          []string       `json:"tags"`
	Cover         models.Cover   `json:"cover"`
	CoverURL      string         `json:"cover_url,omitempty"`
	Content       string         `json:"content"`
	HTML          string         `json:"html"`
	Summary       string         `json:"summary"`
	Truncated     bool           `json:"truncated"`
	FrontMatter   map[string]any `json:"front_matter,omitempty"`
	Checksum      string         `json:"checksum"`
}

// PostListItem is a lightweight item in a list response. Hidden covers are
// left out.
type PostListItem struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	Draft     bool      `json:"draft"`
	Tags      []string  `json:"tags"`
	CoverURL  string    `json:"cover_url,omitempty"`
	CoverAlt  string    `json:"cover_alt,omitempty"`
	Summary   string    `json:"summary"`
	Truncated bool      `json:"truncated"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidationError carries the conformance report of a rejected post.
type ValidationError struct {
	Report *conformance.Report
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", apperr.ErrInvalid, e.Report.Err())
}

func (e *ValidationError) Unwrap() error { return apperr.ErrInvalid }

// Service coordinates storage and index operations.
type Service struct {
	store    storage.Provider
	db       index.PostIndex
	renderer *render.Renderer
}

// Option configures a Service.
type Option func(*Service)

// WithRenderer overrides the default renderer.
func WithRenderer(r *render.Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

// NewService creates a new post service.
func NewService(store storage.Provider, db index.PostIndex, opts ...Option) *Service {
	s := &Service{store: store, db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.renderer == nil {
		s.renderer = render.New(render.Options{})
	}
	return s
}

// GetPost reads a post from storage, parses and renders it.
func (s *Service) GetPost(_ context.Context, p string) (*PostDetail, error) {
	if !isPostPath(p) {
		return nil, apperr.ErrNotFound
	}
	data, err := s.read(p)
	if err != nil {
		return nil, err
	}
	return s.buildDetail(p, data)
}

// CreatePost validates, writes and indexes a new post.
func (s *Service) CreatePost(_ context.Context, p string, content []byte) (*PostDetail, error) {
	if err := checkPostPath(p); err != nil {
		return nil, err
	}
	if s.store.Exists(p) {
		return nil, apperr.ErrAlreadyExists
	}
	if err := s.validate(p, content); err != nil {
		return nil, err
	}
	if err := s.store.Write(p, content); err != nil {
		return nil, err
	}
	if err := s.IndexFile(p, content); err != nil {
		return nil, err
	}
	return s.buildDetail(p, content)
}

// UpdatePost replaces a post's content with optimistic concurrency: ifMatch,
// when non-empty, must match the current checksum.
func (s *Service) UpdatePost(_ context.Context, p string, content []byte, ifMatch string) (*PostDetail, error) {
	if !isPostPath(p) {
		return nil, apperr.ErrNotFound
	}
	existing, err := s.read(p)
	if err != nil {
		return nil, err
	}
	if !checksum.Matches(ifMatch, checksum.Sum(existing)) {
		return nil, apperr.ErrConflict
	}
	if err := s.validate(p, content); err != nil {
		return nil, err
	}
	if err := s.store.Write(p, content); err != nil {
		return nil, err
	}
	if err := s.IndexFile(p, content); err != nil {
		return nil, err
	}
	return s.buildDetail(p, content)
}

// DeletePost removes a post from storage and index.
func (s *Service) DeletePost(_ context.Context, p string) error {
	if !isPostPath(p) || !s.store.Exists(p) {
		return apperr.ErrNotFound
	}
	if err := s.store.Delete(p); err != nil {
		return err
	}
	if err := s.db.DeletePost(p); err != nil {
		return err
	}
	return nil
}

// ListPosts returns a page of posts with summaries.
func (s *Service) ListPosts(_ context.Context, opts index.ListOptions) ([]PostListItem, int, error) {
	rows, total, err := s.db.ListPosts(opts)
	if err != nil {
		return nil, 0, err
	}
	items := make([]PostListItem, 0, len(rows))
	for _, r := range rows {
		out, err := s.renderer.Render(r.Body, r.SummaryLength)
		if err != nil {
			return nil, 0, err
		}
		item := PostListItem{
			Path:      r.Path,
			Title:     r.Title,
			Date:      r.Date,
			Draft:     r.Draft,
			Tags:      nonNilSlice(r.Tags),
			Summary:   out.Summary,
			Truncated: out.Truncated,
			Checksum:  r.Checksum,
			UpdatedAt: r.UpdatedAt,
		}
		if !r.Cover.Hidden {
			item.CoverURL = CoverURL(r.Path, r.Cover)
			item.CoverAlt = r.Cover.Alt
		}
		items = append(items, item)
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	res, err := s.db.Search(query, limit)
	return nonNilSlice(res), err
}

// Tags returns tag usage counts over published posts.
func (s *Service) Tags(_ context.Context) ([]index.TagCount, error) {
	tags, err := s.db.Tags()
	return nonNilSlice(tags), err
}

// Validate runs the conformance checks on content as if stored at p.
func (s *Service) Validate(_ context.Context, p string, content []byte) *conformance.Report {
	return conformance.Check(p, content, s.store.Exists)
}

// ValidateAll checks every post under dir.
func (s *Service) ValidateAll(ctx context.Context, dir string) ([]*conformance.Report, error) {
	metas, err := s.store.List(dir)
	if err != nil {
		return nil, err
	}
	reports := make([]*conformance.Report, 0, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := s.store.Read(m.Path)
		if err != nil {
			return nil, err
		}
		reports = append(reports, conformance.Check(m.Path, data, s.store.Exists))
	}
	return reports, nil
}

// ReadCover returns the bytes of a bundle resource referenced as a cover.
// Paths leaving the content root are reported as not found.
func (s *Service) ReadCover(_ context.Context, p string) ([]byte, error) {
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return nil, apperr.ErrNotFound
	}
	return s.read(clean)
}

// IndexFile parses data and upserts it into the index.
func (s *Service) IndexFile(p string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	post, err := res.Post(p, checksum.Sum(data))
	if err != nil {
		return err
	}
	return s.db.UpsertPost(index.RowFromPost(post, time.Now()))
}

// CoverURL resolves the public URL of a post's cover image.
func CoverURL(postPath string, c models.Cover) string {
	if c.Image == "" {
		return ""
	}
	if !c.Relative || strings.Contains(c.Image, "://") {
		return c.Image
	}
	return CoverRoute + path.Join(path.Dir(postPath), c.Image)
}

func (s *Service) read(p string) ([]byte, error) {
	data, err := s.store.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Service) validate(p string, content []byte) error {
	rep := conformance.Check(p, content, s.store.Exists)
	if !rep.OK() {
		return &ValidationError{Report: rep}
	}
	return nil
}

func (s *Service) buildDetail(p string, data []byte) (*PostDetail, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, &ValidationError{Report: conformance.Check(p, data, nil)}
	}
	post, err := res.Post(p, checksum.Sum(data))
	if err != nil {
		return nil, &ValidationError{Report: conformance.Check(p, data, nil)}
	}
	out, err := s.renderer.Render(post.Body, post.SummaryLength)
	if err != nil {
		return nil, err
	}
	return &PostDetail{
		Path:          p,
		Title:         post.Title,
		Date:          post.Date,
		Draft:         post.Draft,
		SummaryLength: post.SummaryLength,
		Tags:          nonNilSlice(post.Tags),
		Cover:         post.Cover,
		CoverURL:      CoverURL(p, post.Cover),
		Content:       string(data),
		HTML:          out.HTML,
		Summary:       out.Summary,
		Truncated:     out.Truncated,
		FrontMatter:   post.FrontMatter,
		Checksum:      post.Checksum,
	}, nil
}

// isPostPath reports whether p names a post document: a .md file that is
// not a section page and has no hidden segment.
func isPostPath(p string) bool {
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return false
	}
	for _, seg := range strings.Split(path.Dir(clean), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return false
		}
	}
	return storage.IsPostFile(path.Base(clean))
}

func checkPostPath(p string) error {
	if !isPostPath(p) {
		return &ValidationError{Report: &conformance.Report{Path: p, Issues: []conformance.Issue{{
			Rule:     conformance.RulePath,
			Severity: conformance.SeverityError,
			Message:  "post path must be a .md file that is not hidden or a section page",
		}}}}
	}
	return nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
