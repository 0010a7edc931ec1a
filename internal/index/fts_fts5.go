//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"
)

// initFTS creates the trigram FTS table. When it is created over an index
// that already holds posts, the table is backfilled from posts and post_tags.
func initFTS(conn *sql.DB) error {
	var exists int
	if err := conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'posts_fts'`).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	if _, err := conn.Exec(`
		CREATE VIRTUAL TABLE posts_fts USING fts5(
			path UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'trigram'
		)`); err != nil {
		return err
	}
	_, err := conn.Exec(`
		INSERT INTO posts_fts (path, title, body, tags)
		SELECT p.path, p.title, p.body,
		       coalesce((SELECT group_concat(t.tag, ' ') FROM post_tags t WHERE t.path = p.path), '')
		FROM posts p`)
	return err
}

func ftsUpsert(tx *sql.Tx, p PostRow) error {
	if err := ftsDelete(tx, p.Path); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO posts_fts (path, title, body, tags) VALUES (?, ?, ?, ?)`,
		p.Path, p.Title, p.Body, strings.Join(p.Tags, " ")); err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) error {
	if _, err := tx.Exec(`DELETE FROM posts_fts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete fts: %w", err)
	}
	return nil
}

// trigramLen is the shortest query the trigram tokenizer can match.
const trigramLen = 3

// searchSQL ranks published posts by bm25. The trigram tokenizer lets
// Japanese text match without word segmentation. Shorter queries, such as
// two-character Japanese words, fall back to a substring scan.
func searchSQL(query string, limit int) (string, []any) {
	if utf8.RuneCountInString(query) < trigramLen {
		return likeSearchSQL(query, limit)
	}
	return `
		SELECT f.path, f.title, snippet(posts_fts, 2, '<b>', '</b>', '...', 32)
		FROM posts_fts f JOIN posts p ON p.path = f.path
		WHERE posts_fts MATCH ? AND p.draft = 0
		ORDER BY rank
		LIMIT ?`, []any{phrase(query), limit}
}

// phrase quotes free text so FTS5 does not parse punctuation as syntax.
func phrase(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}
