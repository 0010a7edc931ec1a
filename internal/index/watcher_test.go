package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/postvault/internal/storage"
)

// watcherTestEnv sets up a content dir, storage, and DB for watcher tests.
func watcherTestEnv(t *testing.T) (string, storage.Provider, *DB) {
	t.Helper()
	contentDir := t.TempDir()
	store, err := storage.NewFS(contentDir)
	if err != nil {
		t.Fatal(err)
	}
	dbFile, err := os.CreateTemp("", "postvault-watcher-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })
	db, err := Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return contentDir, store, db
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	contentDir, store, db := watcherTestEnv(t)
	logger := quietLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string

	go Watch(ctx, db, store, contentDir, logger, func(kind, path string) {
		mu.Lock()
		events = append(events, kind+":"+path)
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(contentDir, "new.md"), post("New"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("new.md")
		return cs != ""
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "created:new.md" {
				return true
			}
		}
		return false
	}, "expected created:new.md callback")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	contentDir, store, db := watcherTestEnv(t)
	logger := quietLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, contentDir, logger, nil)

	time.Sleep(100 * time.Millisecond)

	subDir := filepath.Join(contentDir, "subdir")
	_ = os.MkdirAll(subDir, 0o755)

	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "deep.md"), post("Deep"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("subdir/deep.md")
		return cs != ""
	}, "file in new subdir not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	contentDir, store, db := watcherTestEnv(t)
	logger := quietLogger()

	_ = os.WriteFile(filepath.Join(contentDir, "del.md"), post("Delete Me"), 0o644)
	_, _ = Sync(context.Background(), db, store, logger)

	cs, _ := db.GetChecksum("del.md")
	if cs == "" {
		t.Fatal("precondition: file should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, contentDir, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(contentDir, "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("del.md")
		return cs == ""
	}, "deleted file still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	contentDir, store, db := watcherTestEnv(t)
	logger := quietLogger()

	_ = os.WriteFile(filepath.Join(contentDir, "old.md"), post("Rename"), 0o644)
	_, _ = Sync(context.Background(), db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, contentDir, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(contentDir, "old.md"), filepath.Join(contentDir, "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetChecksum("old.md")
		newCS, _ := db.GetChecksum("renamed.md")
		return oldCS == "" && newCS != ""
	}, "rename reconciliation failed: old path should be removed and new path indexed")
}

func post(title string) []byte {
	return []byte("+++\ntitle = \"" + title + "\"\ndate = 2025-01-01T00:00:00Z\n+++\nbody\n")
}

func TestWatcher_InvalidEditDropsPost(t *testing.T) {
	contentDir, store, db := watcherTestEnv(t)
	logger := quietLogger()

	target := filepath.Join(contentDir, "edit.md")
	_ = os.WriteFile(target, post("Edit"), 0o644)
	_, _ = Sync(context.Background(), db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, contentDir, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(target, []byte("front matter removed\n"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("edit.md")
		return cs == ""
	}, "post that no longer parses should leave the index")
}

func TestWatcher_AtomicReplaceEmitsOneUpdate(t *testing.T) {
	contentDir, store, db := watcherTestEnv(t)
	logger := quietLogger()

	if err := store.Write("posts/a/index.md", post("First")); err != nil {
		t.Fatal(err)
	}
	_, _ = Sync(context.Background(), db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	go Watch(ctx, db, store, contentDir, logger, func(kind, path string) {
		mu.Lock()
		events = append(events, kind+":"+path)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	if err := store.Write("posts/a/index.md", post("Second")); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		row, err := db.GetPost("posts/a/index.md")
		return err == nil && row.Title == "Second"
	}, "replaced post not re-indexed")

	time.Sleep(2 * settleDelay)
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != "updated:posts/a/index.md" {
		t.Errorf("events = %v, want exactly updated:posts/a/index.md", events)
	}
}

func TestWatcher_UnchangedContentSilent(t *testing.T) {
	contentDir, store, db := watcherTestEnv(t)
	logger := quietLogger()

	target := filepath.Join(contentDir, "same.md")
	_ = os.WriteFile(target, post("Same"), 0o644)
	_, _ = Sync(context.Background(), db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	go Watch(ctx, db, store, contentDir, logger, func(string, string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(target, post("Same"), 0o644)
	time.Sleep(4 * settleDelay)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callbacks = %d for an identical rewrite, want 0", calls)
	}
}

func TestWatcher_DirRenameReconciles(t *testing.T) {
	contentDir, store, db := watcherTestEnv(t)
	logger := quietLogger()

	if err := store.Write("posts/old/index.md", post("Moved")); err != nil {
		t.Fatal(err)
	}
	_, _ = Sync(context.Background(), db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, db, store, contentDir, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(contentDir, "posts", "old"), filepath.Join(contentDir, "posts", "new"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetChecksum("posts/old/index.md")
		newCS, _ := db.GetChecksum("posts/new/index.md")
		return oldCS == "" && newCS != ""
	}, "bundle directory rename not reconciled")
}
