package index

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/postvault/internal/checksum"
	"github.com/starford/postvault/internal/models"
	"github.com/starford/postvault/internal/parser"
	"github.com/starford/postvault/internal/storage"
)

// SyncStats summarises one Sync pass.
type SyncStats struct {
	Indexed   int `json:"indexed"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Removed   int `json:"removed"`
}

// RowFromPost converts a parsed post into an index row.
func RowFromPost(p *models.Post, updatedAt time.Time) PostRow {
	return PostRow{
		Path:          p.Path,
		Title:         p.Title,
		Date:          p.Date,
		Draft:         p.Draft,
		SummaryLength: p.SummaryLength,
		Cover:         p.Cover,
		Checksum:      p.Checksum,
		Tags:          p.Tags,
		Body:          p.Body,
		UpdatedAt:     updatedAt,
	}
}

// Sync walks the content root and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files that no longer parse are dropped from the index
//   - files removed from disk are deleted from the index
//
// Parsing runs concurrently; index writes are serialised.
func Sync(ctx context.Context, db PostIndex, store storage.Provider, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats

	metas, err := store.List("")
	if err != nil {
		return stats, err
	}
	checksums, err := db.AllChecksums()
	if err != nil {
		return stats, err
	}

	disk := make(map[string]struct{}, len(metas))
	var changed []models.PostMetadata
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		if checksums[m.Path] == m.Checksum {
			stats.Unchanged++
			continue
		}
		changed = append(changed, m)
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, m := range changed {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			data, err := store.Read(m.Path)
			if err != nil {
				logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
				mu.Lock()
				stats.Skipped++
				mu.Unlock()
				return nil
			}
			post, parseErr := parsePost(m.Path, data)

			mu.Lock()
			defer mu.Unlock()
			if parseErr != nil {
				logger.Warn("sync: invalid post skipped", slog.String("path", m.Path), slog.String("error", parseErr.Error()))
				if _, indexed := checksums[m.Path]; indexed {
					_ = db.DeletePost(m.Path)
				}
				stats.Skipped++
				return nil
			}
			if err := db.UpsertPost(RowFromPost(post, m.UpdatedAt)); err != nil {
				logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
				stats.Skipped++
				return nil
			}
			logger.Debug("sync: indexed", slog.String("path", m.Path))
			stats.Indexed++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.DeletePost(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("path", p))
		stats.Removed++
	}

	return stats, nil
}

func parsePost(path string, data []byte) (*models.Post, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	return res.Post(path, checksum.Sum(data))
}

// indexFile parses data and upserts it, removing the entry when the file no
// longer parses.
func indexFile(db PostIndex, path string, data []byte) error {
	post, err := parsePost(path, data)
	if err != nil {
		_ = db.DeletePost(path)
		return err
	}
	return db.UpsertPost(RowFromPost(post, time.Now()))
}
