// Package watcher turns file-system notifications under the vault into
// change events.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/susamn/obsidian-web/internal/models"
	"github.com/susamn/obsidian-web/internal/storage"
)

// Sink receives change events. It must not block for long.
type Sink func(models.ChangeEvent)

// Keys lists the vault-relative paths currently held by the index.
type Keys func() ([]string, error)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault root and forwards change
// events for eligible files to sink until ctx is cancelled.
//
// New directories created at runtime are added to the watch list, and any
// markdown files already inside them are reported as created. A rename is
// reported as a delete of the old path; the new path arrives as a create.
//
// fsnotify reports only the directory itself when a directory is renamed or
// removed. Such events schedule a debounced reconcile that reports a delete
// for every indexed key under the directory that no longer exists on disk.
// keys may be nil, which disables the reconcile.
func Watch(ctx context.Context, vault storage.Provider, logger *slog.Logger, sink Sink, keys Keys) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := vault.Root()
	if err := addDirsRecursive(w, vault, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	prefixes := make(map[string]struct{})

	scheduleReconcile := func(dir string) {
		prefixes[dir] = struct{}{}
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcileRemovedDirs(vault, logger, sink, keys, prefixes)
			prefixes = make(map[string]struct{})

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if dir, ok := removedDir(vault, ev); ok && keys != nil {
				scheduleReconcile(dir)
			}
			handle(w, vault, logger, sink, ev)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func handle(w *fsnotify.Watcher, vault storage.Provider, logger *slog.Logger, sink Sink, ev fsnotify.Event) {
	root := vault.Root()
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if !vault.ShouldInclude(rel, true) {
				return
			}
			if addErr := addDirsRecursive(w, vault, ev.Name); addErr != nil {
				logger.Warn("watcher: add new dir failed",
					slog.String("path", rel),
					slog.String("error", addErr.Error()))
			} else {
				logger.Debug("watcher: watching new dir", slog.String("path", rel))
			}
			emitExisting(vault, ev.Name, sink)
			return
		}
	}

	if !vault.ShouldInclude(rel, false) {
		return
	}

	var kind models.ChangeKind
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = models.ChangeCreated
	case ev.Op&fsnotify.Write != 0:
		kind = models.ChangeModified
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = models.ChangeDeleted
	default:
		return
	}
	logger.Debug("watcher: change", slog.String("path", rel), slog.String("op", kind.String()))
	sink(models.ChangeEvent{Path: rel, Kind: kind, ObservedAt: time.Now()})
}

// removedDir reports the vault-relative path of a rename or remove that
// may have been a directory. Paths eligible as notes are handled as files.
func removedDir(vault storage.Provider, ev fsnotify.Event) (string, bool) {
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return "", false
	}
	rel, err := filepath.Rel(vault.Root(), ev.Name)
	if err != nil || rel == "." {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || vault.ShouldInclude(rel, false) || !vault.ShouldInclude(rel, true) {
		return "", false
	}
	return rel, true
}

// reconcileRemovedDirs reports a delete for each indexed key under one of
// prefixes whose file is gone.
func reconcileRemovedDirs(vault storage.Provider, logger *slog.Logger, sink Sink, keys Keys, prefixes map[string]struct{}) {
	indexed, err := keys()
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}
	sort.Strings(indexed)
	root := vault.Root()
	removed := 0
	for _, key := range indexed {
		if !underAny(key, prefixes) {
			continue
		}
		if _, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(key))); !os.IsNotExist(statErr) {
			continue
		}
		sink(models.ChangeEvent{Path: key, Kind: models.ChangeDeleted, ObservedAt: time.Now()})
		logger.Debug("reconcile: removed stale", slog.String("path", key))
		removed++
	}
	if removed > 0 {
		logger.Info("reconcile: done", slog.Int("removed", removed))
	}
}

func underAny(key string, prefixes map[string]struct{}) bool {
	for dir := range prefixes {
		if strings.HasPrefix(key, dir+"/") {
			return true
		}
	}
	return false
}

// emitExisting reports eligible files already present in a new directory.
func emitExisting(vault storage.Provider, dir string, sink Sink) {
	root := vault.Root()
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if path != dir && !vault.ShouldInclude(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if vault.ShouldInclude(rel, false) {
			sink(models.ChangeEvent{Path: rel, Kind: models.ChangeCreated, ObservedAt: time.Now()})
		}
		return nil
	})
}

// addDirsRecursive adds dir and its eligible subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, vault storage.Provider, dir string) error {
	root := vault.Root()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root {
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil && !vault.ShouldInclude(filepath.ToSlash(rel), true) {
				return filepath.SkipDir
			}
		}
		return w.Add(path)
	})
}
