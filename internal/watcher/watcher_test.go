package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/susamn/obsidian-web/internal/indexer"
	"github.com/susamn/obsidian-web/internal/models"
	"github.com/susamn/obsidian-web/internal/storage"
	"github.com/susamn/obsidian-web/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (r *recorder) sink(ev models.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) has(path string, kind models.ChangeKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Path == path && ev.Kind == kind {
			return true
		}
	}
	return false
}

func (r *recorder) any(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Path == path {
			return true
		}
	}
	return false
}

// watcherTestEnv starts Watch on a fresh vault and returns its root.
func watcherTestEnv(t *testing.T, files map[string]string) (string, *recorder) {
	t.Helper()
	vaultDir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(vaultDir, filepath.FromSlash(rel))
		_ = os.MkdirAll(filepath.Dir(p), 0o755)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	vault, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rec := &recorder{}
	go func() {
		defer close(done)
		if err := Watch(ctx, vault, logger, rec.sink, nil); err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	return vaultDir, rec
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

func TestWatcher_NewFileCreated(t *testing.T) {
	vaultDir, rec := watcherTestEnv(t, nil)

	_ = os.WriteFile(filepath.Join(vaultDir, "new.md"), []byte("# New"), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.has("new.md", models.ChangeCreated)
	}, "expected created event for new.md")
}

func TestWatcher_WriteModified(t *testing.T) {
	vaultDir, rec := watcherTestEnv(t, map[string]string{"edit.md": "# Before"})

	_ = os.WriteFile(filepath.Join(vaultDir, "edit.md"), []byte("# After"), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.has("edit.md", models.ChangeModified)
	}, "expected modified event for edit.md")
}

func TestWatcher_DeleteAndRename(t *testing.T) {
	vaultDir, rec := watcherTestEnv(t, map[string]string{"del.md": "x", "old.md": "y"})

	_ = os.Remove(filepath.Join(vaultDir, "del.md"))
	_ = os.Rename(filepath.Join(vaultDir, "old.md"), filepath.Join(vaultDir, "renamed.md"))

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.has("del.md", models.ChangeDeleted) &&
			rec.has("old.md", models.ChangeDeleted) &&
			rec.has("renamed.md", models.ChangeCreated)
	}, "expected delete, rename-delete and create events")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	vaultDir, rec := watcherTestEnv(t, nil)

	subDir := filepath.Join(vaultDir, "subdir")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "deep.md"), []byte("# Deep"), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.has("subdir/deep.md", models.ChangeCreated)
	}, "file in new subdir not reported")
}

func TestWatcher_IneligibleIgnored(t *testing.T) {
	vaultDir, rec := watcherTestEnv(t, nil)

	_ = os.WriteFile(filepath.Join(vaultDir, "notes.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(vaultDir, ".hidden.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(vaultDir, "seen.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.any("seen.md")
	}, "expected event for seen.md")
	if rec.any("notes.txt") || rec.any(".hidden.md") {
		t.Error("ineligible files must not produce events")
	}
}

func TestWatcher_DirRemoveReconciles(t *testing.T) {
	vaultDir := t.TempDir()
	testutil.WriteFiles(t, vaultDir, map[string]string{"sub/a.md": "a", "sub/deep/b.md": "b", "keep.md": "k"})
	vault, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	indexed := []string{"keep.md", "sub/a.md", "sub/deep/b.md", "subway.md"}
	keys := func() ([]string, error) { return indexed, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rec := &recorder{}
	go func() {
		defer close(done)
		_ = Watch(ctx, vault, slog.New(slog.NewJSONHandler(io.Discard, nil)), rec.sink, keys)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)

	_ = os.RemoveAll(filepath.Join(vaultDir, "sub"))

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.has("sub/a.md", models.ChangeDeleted) && rec.has("sub/deep/b.md", models.ChangeDeleted)
	}, "expected deletes for keys under the removed dir")
	if rec.any("keep.md") || rec.any("subway.md") {
		t.Error("keys outside the removed dir must not be reported")
	}
}

func TestWatcher_DirRenameUpdatesIndex(t *testing.T) {
	vaultDir, _ := testutil.TestVault(t, map[string]string{"sub/a.md": "# A"})
	mem := testutil.NewMemIndex()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := indexer.New(indexer.Config{
		VaultPath:     vaultDir,
		IndexPath:     "mem",
		Open:          mem.Opener(),
		FlushInterval: 20 * time.Millisecond,
		Logger:        logger,
	})
	t.Cleanup(func() { _ = svc.Stop() })
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, 10*time.Millisecond, func() bool {
		return svc.State() == indexer.StateReady
	}, "service not ready")

	vault, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, vault, logger, svc.SubmitChange, svc.IndexedKeys)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(vaultDir, "sub"), filepath.Join(vaultDir, "moved"))

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		_, stale := mem.Doc("sub/a.md")
		_, moved := mem.Doc("moved/a.md")
		n, _ := svc.DocCount()
		return !stale && moved && n == 1
	}, "index still holds the old directory's notes")
}
