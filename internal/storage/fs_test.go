package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("+++\ntitle = \"Hello\"\n+++\nWorld\n")
	if err := s.Write("hello.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("hello.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWrite_CreatesBundleDirs(t *testing.T) {
	s := tempRoot(t)
	if err := s.Write("posts/20250314-a-1234abcd/index.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists("posts/20250314-a-1234abcd") {
		t.Error("bundle dir not created")
	}
	got, err := s.Read("./posts//20250314-a-1234abcd/index.md")
	if err != nil {
		t.Fatalf("Read uncleaned path: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWrite_ReplacesWithoutTempLeftovers(t *testing.T) {
	s := tempRoot(t)
	if err := s.Write("posts/a/index.md", []byte("original")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("posts/a/index.md", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("posts/a/index.md")
	if string(got) != "updated" {
		t.Errorf("content = %q, want updated", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), "posts", "a", tempPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestWrite_RootRejected(t *testing.T) {
	s := tempRoot(t)
	for _, p := range []string{"", ".", "posts/.."} {
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("Write(%q) should fail", p)
		}
	}
}

func TestDelete(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.md"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read deleted = %v, want ErrNotExist", err)
	}
	if err := s.Delete("del.md"); err == nil {
		t.Error("second delete should fail")
	}
}

func TestList(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("about.md", []byte("a"))
	_ = s.Write("posts/b/index.md", []byte("b"))
	_ = s.Write("posts/b/cover.png", []byte("png"))
	_ = s.Write("posts/_index.md", []byte("section"))
	_ = s.Write(".git/HEAD.md", []byte("hidden"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	paths := map[string]bool{}
	for _, it := range items {
		paths[it.Path] = true
		if it.Checksum == "" {
			t.Errorf("missing checksum for %s", it.Path)
		}
		if it.UpdatedAt.IsZero() {
			t.Errorf("missing mod time for %s", it.Path)
		}
	}
	if len(items) != 2 || !paths["about.md"] || !paths["posts/b/index.md"] {
		t.Errorf("paths = %v, want about.md and posts/b/index.md", paths)
	}

	sub, err := s.List("posts")
	if err != nil {
		t.Fatalf("List(posts): %v", err)
	}
	if len(sub) != 1 || sub[0].Path != "posts/b/index.md" {
		t.Errorf("List(posts) = %+v", sub)
	}
}

func TestList_MissingDir(t *testing.T) {
	s := tempRoot(t)
	if _, err := s.List("nope"); err == nil {
		t.Error("expected error for missing dir")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)
	for _, p := range []string{"../../etc/passwd", "../outside.md", "/etc/shadow", "posts/../../x.md"} {
		if _, err := s.Read(p); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("Read(%q) = %v, want ErrOutsideRoot", p, err)
		}
		if err := s.Write(p, []byte("x")); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("Write(%q) = %v, want ErrOutsideRoot", p, err)
		}
		if _, err := s.List(p); err == nil {
			t.Errorf("List(%q) should fail", p)
		}
	}
}

func TestSymlinkEscapeBlocked(t *testing.T) {
	s := tempRoot(t)
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.md"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(s.Root(), "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := s.Read("link/secret.md"); err == nil {
		t.Error("read through escaping symlink should fail")
	}
	if err := s.Write("link/new.md", []byte("x")); err == nil {
		t.Error("write through escaping symlink should fail")
	}
}

func TestExists(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("posts/x/cover.png", []byte("png"))
	if !s.Exists("posts/x/cover.png") {
		t.Error("file should exist")
	}
	if !s.Exists("posts/x") {
		t.Error("bundle dir should exist")
	}
	if s.Exists("posts/y") {
		t.Error("missing dir reported as existing")
	}
	if s.Exists("../escape") {
		t.Error("traversal must report false")
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(file); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestClose(t *testing.T) {
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Read("a.md"); err == nil {
		t.Error("read after close should fail")
	}
}

func TestIsPostFile(t *testing.T) {
	cases := map[string]bool{
		"index.md":           true,
		"hello-world.md":     true,
		"cover.png":          false,
		"_index.md":          false,
		".postvault-tmp-abc": false,
		".draft.md":          false,
		"notes.markdown":     false,
	}
	for name, want := range cases {
		if got := IsPostFile(name); got != want {
			t.Errorf("IsPostFile(%q) = %v, want %v", name, got, want)
		}
	}
}
