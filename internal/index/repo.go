package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/postvault/internal/apperr"
	"github.com/starford/postvault/internal/models"
)

// PostRow represents a row in the posts table.
type PostRow struct {
	Path          string
	Title         string
	Date          time.Time
	Draft         bool
	SummaryLength int
	Cover         models.Cover
	Checksum      string
	Tags          []string
	Body          string
	UpdatedAt     time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// TagCount is a tag with the number of published posts carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// ListOptions controls ListPosts.
type ListOptions struct {
	Limit         int
	Offset        int
	Tag           string
	IncludeDrafts bool
	// Sort is one of "date" (newest first, default), "title", "path", "updated_at".
	Sort string
}

const defaultSearchLimit = 20

var sortColumns = map[string]string{
	"":           "p.date_unix DESC, p.path",
	"date":       "p.date_unix DESC, p.path",
	"title":      "p.title, p.path",
	"path":       "p.path",
	"updated_at": "p.updated_at DESC, p.path",
}

const postColumns = `p.path, p.title, p.date, p.draft, p.summary_length,
	p.cover_image, p.cover_alt, p.cover_relative, p.cover_hidden,
	p.checksum, p.tags, p.body, p.updated_at`

// UpsertPost inserts or replaces a post, its FTS entry, and its tags within a transaction.
func (db *DB) UpsertPost(p PostRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = tx.Exec(`
		INSERT INTO posts (path, title, date, date_unix, draft, summary_length,
			cover_image, cover_alt, cover_relative, cover_hidden,
			checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title          = excluded.title,
			date           = excluded.date,
			date_unix      = excluded.date_unix,
			draft          = excluded.draft,
			summary_length = excluded.summary_length,
			cover_image    = excluded.cover_image,
			cover_alt      = excluded.cover_alt,
			cover_relative = excluded.cover_relative,
			cover_hidden   = excluded.cover_hidden,
			checksum       = excluded.checksum,
			tags           = excluded.tags,
			body           = excluded.body,
			updated_at     = excluded.updated_at
	`, p.Path, p.Title, p.Date.Format(time.RFC3339), p.Date.Unix(), p.Draft, p.SummaryLength,
		p.Cover.Image, p.Cover.Alt, p.Cover.Relative, p.Cover.Hidden,
		p.Checksum, string(tagsJSON), p.Body, updated.UTC())
	if err != nil {
		return fmt.Errorf("index: upsert post: %w", err)
	}

	p.Tags = tags
	if err := ftsUpsert(tx, p); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM post_tags WHERE path = ?`, p.Path); err != nil {
		return fmt.Errorf("index: clear tags: %w", err)
	}
	if len(tags) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO post_tags (path, tag) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare tag insert: %w", err)
		}
		defer stmt.Close()
		for _, tag := range tags {
			if _, err := stmt.Exec(p.Path, tag); err != nil {
				return fmt.Errorf("index: insert tag: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeletePost removes a post, its FTS entry, and its tags.
func (db *DB) DeletePost(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM post_tags WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete tags: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM posts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete post: %w", err)
	}
	return tx.Commit()
}

// Search returns published posts matching query, best match first. A blank
// query matches nothing.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	stmt, args := searchSQL(query, limit)
	rows, err := db.conn.Query(stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet); err != nil {
			return nil, fmt.Errorf("index: scan search result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// likeSearchSQL matches the query as a substring of title, body or tags,
// newest first. The snippet is the start of the body.
func likeSearchSQL(query string, limit int) (string, []any) {
	like := "%" + escapeLike(query) + "%"
	return `
		SELECT p.path, p.title, substr(p.body, 1, 200)
		FROM posts p
		WHERE p.draft = 0
		  AND (p.title LIKE ?1 ESCAPE '\' OR p.body LIKE ?1 ESCAPE '\' OR p.tags LIKE ?1 ESCAPE '\')
		ORDER BY p.date_unix DESC, p.path
		LIMIT ?2`, []any{like, limit}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// GetChecksum returns the stored checksum for a post, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM posts WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns path to checksum for every indexed post.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// GetPost returns a single indexed post or apperr.ErrNotFound.
func (db *DB) GetPost(path string) (*PostRow, error) {
	row := db.conn.QueryRow(`SELECT `+postColumns+` FROM posts p WHERE p.path = ?`, path)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get post: %w", err)
	}
	return p, nil
}

// ListPosts returns a page of posts and the total number matching the filter.
func (db *DB) ListPosts(opts ListOptions) ([]PostRow, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	order, ok := sortColumns[opts.Sort]
	if !ok {
		order = sortColumns["date"]
	}

	var where []string
	var args []any
	if !opts.IncludeDrafts {
		where = append(where, "p.draft = 0")
	}
	if opts.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM post_tags t WHERE t.path = p.path AND t.tag = ?)")
		args = append(args, opts.Tag)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM posts p`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count posts: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+postColumns+` FROM posts p`+clause+
		` ORDER BY `+order+` LIMIT ? OFFSET ?`, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list posts: %w", err)
	}
	defer rows.Close()

	var out []PostRow
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("index: scan post: %w", err)
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

// Tags returns every tag used by a published post with its post count.
func (db *DB) Tags() ([]TagCount, error) {
	rows, err := db.conn.Query(`
		SELECT t.tag, count(*)
		FROM post_tags t JOIN posts p ON p.path = t.path
		WHERE p.draft = 0
		GROUP BY t.tag
		ORDER BY count(*) DESC, t.tag
	`)
	if err != nil {
		return nil, fmt.Errorf("index: tags: %w", err)
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(s scanner) (*PostRow, error) {
	var (
		p        PostRow
		date     string
		tagsJSON string
	)
	if err := s.Scan(&p.Path, &p.Title, &date, &p.Draft, &p.SummaryLength,
		&p.Cover.Image, &p.Cover.Alt, &p.Cover.Relative, &p.Cover.Hidden,
		&p.Checksum, &tagsJSON, &p.Body, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if date != "" {
		t, err := time.Parse(time.RFC3339, date)
		if err != nil {
			return nil, fmt.Errorf("bad stored date %q: %w", date, err)
		}
		p.Date = t
	}
	_ = json.Unmarshal([]byte(tagsJSON), &p.Tags)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return &p, nil
}
