package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/postvault/internal/bundle"
	"github.com/starford/postvault/internal/conformance"
	"github.com/starford/postvault/internal/feed"
	"github.com/starford/postvault/internal/index"
	"github.com/starford/postvault/internal/mcpserver"
	"github.com/starford/postvault/internal/storage"
)

// ValidateOptions controls the validate command.
type ValidateOptions struct {
	// Paths are files or directories on disk. Empty checks the content root.
	Paths []string
	// JSON prints reports as a JSON array instead of text lines.
	JSON bool
}

// Validate checks posts against the content contract and prints a report.
// It fails when any post has an error-level issue.
func Validate(ctx context.Context, vo ValidateOptions, opts ...Option) error {
	rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	var reports []*conformance.Report
	if len(vo.Paths) == 0 {
		reports, err = rt.service().ValidateAll(ctx, "")
	} else {
		reports, err = validateFiles(ctx, vo.Paths)
	}
	if err != nil {
		return err
	}

	if err := printReports(rt.app.out, reports, vo.JSON); err != nil {
		return err
	}

	failed := 0
	for _, r := range reports {
		if !r.OK() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d posts failed validation", failed, len(reports))
	}
	return nil
}

// validateFiles checks files on disk, expanding directories to their .md files.
func validateFiles(ctx context.Context, paths []string) ([]*conformance.Report, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(fp string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() && fp != p && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !d.IsDir() && storage.IsPostFile(d.Name()) {
				files = append(files, fp)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	exists := func(p string) bool {
		_, err := os.Stat(filepath.FromSlash(p))
		return err == nil
	}
	reports := make([]*conformance.Report, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, f := range files {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(f)
			if err != nil {
				return err
			}
			reports[i] = conformance.Check(filepath.ToSlash(f), data, exists)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func printReports(w io.Writer, reports []*conformance.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	for _, r := range reports {
		if len(r.Issues) == 0 {
			fmt.Fprintf(w, "ok    %s\n", r.Path)
			continue
		}
		status := "ok"
		if !r.OK() {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%-5s %s\n", status, r.Path)
		for _, is := range r.Issues {
			field := ""
			if is.Field != "" {
				field = " (" + is.Field + ")"
			}
			fmt.Fprintf(w, "      %s [%s]%s %s\n", is.Severity, is.Rule, field, is.Message)
		}
	}
	return nil
}

// Reindex synchronizes the SQLite index with the content root.
func Reindex(ctx context.Context, opts ...Option) error {
	rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	stats, err := index.Sync(ctx, rt.db, rt.store, rt.logger)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	fmt.Fprintf(rt.app.out, "indexed %d, unchanged %d, skipped %d, removed %d\n",
		stats.Indexed, stats.Unchanged, stats.Skipped, stats.Removed)
	return nil
}

// Import fetches the configured feed and writes a page bundle for each new
// item, then indexes them.
func Import(ctx context.Context, opts ...Option) error {
	rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	fc := rt.cfg.Feed
	if fc.URL == "" {
		return fmt.Errorf("import: feed.url is not configured")
	}

	fetcher := feed.NewFetcher(feed.WithTimeout(fc.Timeout), feed.WithLogger(rt.logger))
	items, err := fetcher.Fetch(ctx, fc.URL, fc.Limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		rt.logger.Info("No entries found in feed", slog.String("url", fc.URL))
		return nil
	}

	writer := bundle.NewWriter(rt.store, fc.Dir, bundle.WithCategory(fc.Category), bundle.WithLogger(rt.logger))
	stats, err := writer.Import(items, nil)
	if err != nil {
		return err
	}
	rt.sync(ctx)

	fmt.Fprintf(rt.app.out, "written %d, skipped %d\n", len(stats.Written), len(stats.Skipped))
	for _, p := range stats.Written {
		fmt.Fprintf(rt.app.out, "  %s\n", p)
	}
	return nil
}

// ServeMCP runs the MCP server on stdio while keeping the index current.
// Logs go to the configured log output, which must not be stdout.
func ServeMCP(ctx context.Context, opts ...Option) error {
	rt, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	defer rt.close()

	rt.sync(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return index.Watch(gCtx, rt.db, rt.store, rt.cfg.Content.Path, rt.logger, nil)
	})
	g.Go(func() error {
		defer cancel()
		return mcpserver.New(rt.service(), rt.store, rt.app.version).ServeStdio()
	})
	return g.Wait()
}
