// Package index keeps a SQLite projection of the content root for listing,
// tag browsing and search. Full-text search uses FTS5 when built with the
// sqlite_fts5 tag and falls back to LIKE otherwise.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// migrations run in order; PRAGMA user_version holds how many have been applied.
var migrations = []string{
	`CREATE TABLE posts (
		path           TEXT PRIMARY KEY,
		title          TEXT NOT NULL DEFAULT '',
		date           TEXT NOT NULL DEFAULT '',
		date_unix      INTEGER NOT NULL DEFAULT 0,
		draft          INTEGER NOT NULL DEFAULT 0,
		summary_length INTEGER NOT NULL DEFAULT 0,
		cover_image    TEXT NOT NULL DEFAULT '',
		cover_alt      TEXT NOT NULL DEFAULT '',
		cover_relative INTEGER NOT NULL DEFAULT 0,
		cover_hidden   INTEGER NOT NULL DEFAULT 0,
		checksum       TEXT NOT NULL DEFAULT '',
		tags           TEXT NOT NULL DEFAULT '[]',
		body           TEXT NOT NULL DEFAULT '',
		updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE post_tags (
		path TEXT NOT NULL REFERENCES posts(path) ON DELETE CASCADE,
		tag  TEXT NOT NULL,
		UNIQUE(path, tag)
	);
	CREATE INDEX idx_posts_date ON posts(draft, date_unix);
	CREATE INDEX idx_post_tags_tag ON post_tags(tag);`,

	`CREATE INDEX idx_posts_updated ON posts(updated_at);`,
}

// DB is the SQLite-backed PostIndex.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the index at path, migrates it and prepares search.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: prepare search: %w", err)
	}
	return &DB{conn: conn}, nil
}

func migrate(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("index: read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("index: schema version %d is newer than this binary (%d)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("index: begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("index: migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("index: record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("index: commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
