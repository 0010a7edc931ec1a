//go:build sqlite_fts5

package index

import (
	"testing"
	"time"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM posts_fts`).Scan(&count); err != nil {
		t.Fatalf("posts_fts table missing: %v", err)
	}
}

func TestFTS5_SearchJapanese(t *testing.T) {
	db := testDB(t)
	r := row("fts.md", "収益化", time.Now(), "ゲーム")
	r.Body = "リワード広告は離脱率を上げずに収益を伸ばせる"
	if err := db.UpsertPost(r); err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}

	results, err := db.Search("離脱率", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "fts.md" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_ShortQueries(t *testing.T) {
	db := testDB(t)
	r := row("ad.md", "収益化", time.Now(), "ゲーム")
	r.Body = "リワード広告は離脱率を上げずに収益を伸ばせる"
	if err := db.UpsertPost(r); err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}

	for _, q := range []string{"広告", "収益", "離"} {
		results, err := db.Search(q, 10)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(results) != 1 || results[0].Path != "ad.md" {
			t.Errorf("Search(%q) = %+v", q, results)
		}
	}
	if results, _ := db.Search("%", 10); len(results) != 0 {
		t.Errorf("Search(%%) = %+v, want literal match only", results)
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	r := row("gone.md", "Gone", time.Now())
	r.Body = "vanishing content"
	_ = db.UpsertPost(r)
	_ = db.DeletePost("gone.md")

	results, _ := db.Search("vanishing", 10)
	if len(results) != 0 {
		t.Errorf("deleted post still in FTS index: %+v", results)
	}
}

func TestFTS5_DraftsExcluded(t *testing.T) {
	db := testDB(t)
	r := row("draft.md", "Draft", time.Now())
	r.Body = "secretdraftword"
	r.Draft = true
	_ = db.UpsertPost(r)

	results, _ := db.Search("secretdraftword", 10)
	if len(results) != 0 {
		t.Errorf("draft leaked into search: %+v", results)
	}
}
