package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/susamn/obsidian-web/internal/checksum"
	"github.com/susamn/obsidian-web/internal/index/store"
	"github.com/susamn/obsidian-web/internal/models"
	"github.com/susamn/obsidian-web/internal/storage"
)

// progress is reported after every batch written during the walk.
type progress struct {
	Indexed int // written or already up to date
	Skipped int // failed to read or extract
	Total   int
}

func (p progress) remaining() int {
	if r := p.Total - p.Indexed - p.Skipped; r > 0 {
		return r
	}
	return 0
}

// bootstrapper performs the initial full walk of the vault.
type bootstrapper struct {
	fs        storage.Provider
	open      store.Opener
	location  string
	batchSize int
	logger    *slog.Logger
	report    func(progress)
}

// run opens the index and brings it in line with the vault. The returned
// index is non-nil whenever it was opened, even if run fails afterwards.
// A cancelled run returns an error wrapping the context error and leaves
// the index at the last completed batch.
func (b *bootstrapper) run(ctx context.Context) (store.Index, progress, error) {
	idx, err := b.open(b.location)
	if err != nil {
		return nil, progress{}, fmt.Errorf("indexer: open index %s: %w", b.location, err)
	}

	total := 0
	err = b.fs.Walk(ctx, func(string) error {
		total++
		return nil
	})
	if err != nil {
		return idx, progress{}, fmt.Errorf("indexer: count files: %w", err)
	}
	b.logger.Info("indexer: bootstrap started",
		slog.String("root", b.fs.Root()),
		slog.Int("total", total))

	p := progress{Total: total}
	checksums, _ := idx.(store.Checksummer)
	seen := make(map[string]struct{}, total)
	batch := make([]models.Document, 0, b.batchSize)
	pendingReport := false

	flush := func() error {
		if len(batch) > 0 {
			if err := idx.UpsertBatch(batch); err != nil {
				return fmt.Errorf("indexer: write batch: %w", err)
			}
			p.Indexed += len(batch)
			batch = batch[:0]
		}
		if b.report != nil {
			b.report(p)
		}
		pendingReport = false
		return nil
	}

	err = b.fs.Walk(ctx, func(rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[rel] = struct{}{}
		pendingReport = true

		data, err := b.fs.Read(rel)
		if err != nil {
			p.Skipped++
			b.logger.Warn("indexer: read failed", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		if checksums != nil {
			if cs, err := checksums.Checksum(rel); err == nil && cs != "" && cs == checksum.Sum(data) {
				p.Indexed++
				return nil
			}
		}
		doc, err := buildDocument(rel, data)
		if err != nil {
			p.Skipped++
			b.logger.Warn("indexer: extract failed", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		batch = append(batch, doc)
		if len(batch) >= b.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return idx, p, err
	}
	if len(batch) > 0 || pendingReport {
		if err := flush(); err != nil {
			return idx, p, err
		}
	}

	b.prune(idx, seen)
	b.logger.Info("indexer: bootstrap finished",
		slog.Int("indexed", p.Indexed),
		slog.Int("skipped", p.Skipped),
		slog.Int("total", p.Total))
	return idx, p, nil
}

// prune deletes keys whose files are no longer in the vault.
func (b *bootstrapper) prune(idx store.Index, seen map[string]struct{}) {
	lister, ok := idx.(store.Lister)
	if !ok {
		return
	}
	keys, err := lister.Keys()
	if err != nil {
		b.logger.Warn("indexer: list keys failed", slog.String("error", err.Error()))
		return
	}
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		if err := idx.Delete(k); err != nil {
			b.logger.Warn("indexer: prune failed", slog.String("path", k), slog.String("error", err.Error()))
			continue
		}
		b.logger.Debug("indexer: removed stale", slog.String("path", k))
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
