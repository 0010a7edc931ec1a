//go:build !sqlite_fts5

package index

import "database/sql"

func initFTS(*sql.DB) error { return nil }

func ftsUpsert(*sql.Tx, PostRow) error { return nil }

func ftsDelete(*sql.Tx, string) error { return nil }

func searchSQL(query string, limit int) (string, []any) {
	return likeSearchSQL(query, limit)
}
