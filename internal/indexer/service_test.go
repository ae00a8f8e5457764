package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susamn/obsidian-web/internal/apperr"
	"github.com/susamn/obsidian-web/internal/index/bleve"
	"github.com/susamn/obsidian-web/internal/index/store"
	"github.com/susamn/obsidian-web/internal/models"
	"github.com/susamn/obsidian-web/internal/testutil"
)

const waitFor = 5 * time.Second

func memService(t *testing.T, files map[string]string, mutate func(*Config)) (*Service, *testutil.MemIndex, string) {
	t.Helper()
	dir, _ := testutil.TestVault(t, files)
	mem := testutil.NewMemIndex()
	cfg := Config{
		VaultPath:     dir,
		IndexPath:     "mem",
		Open:          mem.Opener(),
		FlushInterval: 20 * time.Millisecond,
		Logger:        discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc := New(cfg)
	t.Cleanup(func() { _ = svc.Stop() })
	return svc, mem, dir
}

func waitState(t *testing.T, svc *Service, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return svc.State() == want }, waitFor, 5*time.Millisecond,
		"state = %s, want %s", svc.State(), want)
}

func assertConserved(t *testing.T, m Metrics) {
	t.Helper()
	assert.Equal(t, m.Submitted, m.Processed+m.Dropped+m.Pending, "metrics: %+v", m)
}

func collect(t *testing.T, ch <-chan Status) []Status {
	t.Helper()
	var out []Status
	timeout := time.After(waitFor)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, st)
		case <-timeout:
			t.Fatal("status stream not closed")
			return out
		}
	}
}

func TestService_StartTwice(t *testing.T) {
	svc, _, _ := memService(t, map[string]string{"a.md": "# A"}, nil)
	require.NoError(t, svc.Start(context.Background()))
	assert.ErrorIs(t, svc.Start(context.Background()), apperr.ErrAlreadyStarted)

	waitState(t, svc, StateReady)
	assert.ErrorIs(t, svc.Start(context.Background()), apperr.ErrAlreadyStarted)
}

func TestService_StartAfterStop(t *testing.T) {
	svc, _, _ := memService(t, nil, nil)
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
	assert.Equal(t, StateStopped, svc.State())
	assert.ErrorIs(t, svc.Start(context.Background()), apperr.ErrStopped)
}

func TestService_StartValidates(t *testing.T) {
	svc := New(Config{IndexPath: "x", Open: testutil.NewMemIndex().Opener(), Logger: discardLogger()})
	assert.Error(t, svc.Start(context.Background()))
	assert.Equal(t, StateStandby, svc.State())

	svc = New(Config{VaultPath: t.TempDir(), IndexPath: "x", Logger: discardLogger()})
	assert.Error(t, svc.Start(context.Background()))
}

func TestService_ReadyAndStop(t *testing.T) {
	svc, mem, _ := memService(t, map[string]string{"a.md": "# A", "b.md": "# B"}, nil)

	_, err := svc.DocCount()
	assert.ErrorIs(t, err, apperr.ErrNotReady)

	require.NoError(t, svc.Start(context.Background()))
	waitState(t, svc, StateReady)

	n, err := svc.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	hits, err := svc.Search("B", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b.md", hits[0].Path)

	_, err = svc.Backlinks("a")
	assert.ErrorIs(t, err, apperr.ErrUnsupported)

	require.NoError(t, svc.Stop())
	assert.True(t, mem.Closed())
	_, err = svc.Search("B", 10)
	assert.ErrorIs(t, err, apperr.ErrNotReady)
}

func TestService_StatusStream(t *testing.T) {
	svc, _, _ := memService(t, numberedNotes(250), nil)
	require.NoError(t, svc.Start(context.Background()))
	waitState(t, svc, StateReady)
	require.NoError(t, svc.Stop())

	statuses := collect(t, svc.StatusUpdates())
	require.NotEmpty(t, statuses)

	var progressCount int
	for _, st := range statuses {
		if st.State == StateInitialIndexing && st.Total > 0 {
			progressCount++
		}
	}
	assert.Equal(t, 3, progressCount)

	last := statuses[len(statuses)-1]
	assert.Equal(t, StateStopped, last.State)
	assert.Equal(t, 250, last.Indexed)
	assert.Equal(t, StateReady, statuses[len(statuses)-2].State)
}

func TestService_ErrorWhenVaultMissing(t *testing.T) {
	svc, _, _ := memService(t, nil, func(c *Config) {
		c.VaultPath = filepath.Join(c.VaultPath, "missing")
	})
	require.NoError(t, svc.Start(context.Background()))
	waitState(t, svc, StateError)
	assert.Error(t, svc.Err())

	statuses := collect(t, svc.StatusUpdates())
	last := statuses[len(statuses)-1]
	assert.Equal(t, StateError, last.State)
	assert.NotEmpty(t, last.Error)

	require.NoError(t, svc.Stop())
	assert.Equal(t, StateStopped, svc.State())
}

func TestService_ErrorWhenIndexCannotOpen(t *testing.T) {
	svc, mem, _ := memService(t, map[string]string{"a.md": "# A"}, nil)
	mem.OpenErr = errors.New("locked")

	require.NoError(t, svc.Start(context.Background()))
	waitState(t, svc, StateError)
	assert.ErrorContains(t, svc.Err(), "locked")
}

func TestService_CancelDuringBootstrap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, mem, _ := memService(t, numberedNotes(250), nil)
	mem.OnUpsert = func([]models.Document) error {
		cancel()
		return nil
	}

	require.NoError(t, svc.Start(ctx))
	waitState(t, svc, StateCancelled)

	statuses := collect(t, svc.StatusUpdates())
	assert.Equal(t, StateCancelled, statuses[len(statuses)-1].State)
	assert.Equal(t, []int{100}, mem.Batches())

	require.NoError(t, svc.Stop())
	assert.Equal(t, StateStopped, svc.State())
}

func TestService_CancelInSteadyStateFlushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, mem, dir := memService(t, nil, func(c *Config) { c.FlushInterval = time.Hour })
	require.NoError(t, svc.Start(ctx))
	waitState(t, svc, StateReady)

	testutil.WriteFiles(t, dir, map[string]string{"late.md": "# Late"})
	svc.SubmitChange(change("late.md", models.ChangeCreated))
	require.Eventually(t, func() bool { return svc.coal.size() == 1 }, waitFor, 5*time.Millisecond)

	cancel()
	waitState(t, svc, StateCancelled)

	_, ok := mem.Doc("late.md")
	assert.True(t, ok, "pending change must be flushed on cancel")
	m := svc.Metrics()
	assert.Equal(t, uint64(1), m.Processed)
	assertConserved(t, m)
}

func TestService_SubmitDoesNotWaitForLock(t *testing.T) {
	svc, _, _ := memService(t, nil, nil)
	require.NoError(t, svc.Start(context.Background()))
	waitState(t, svc, StateReady)

	svc.mu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.SubmitChange(change("a.md", models.ChangeModified))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("SubmitChange blocked on the service lock")
	}
	svc.mu.Unlock()
	<-done
	assert.Equal(t, uint64(1), svc.Metrics().Submitted)
}

func TestService_IndexedKeys(t *testing.T) {
	svc, _, _ := memService(t, map[string]string{"a.md": "# A", "sub/b.md": "# B"}, nil)
	_, err := svc.IndexedKeys()
	assert.ErrorIs(t, err, apperr.ErrNotReady)

	require.NoError(t, svc.Start(context.Background()))
	waitState(t, svc, StateReady)

	keys, err := svc.IndexedKeys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.md", "sub/b.md"}, keys)
}

func TestService_SubmitNeverBlocks(t *testing.T) {
	svc, _, _ := memService(t, nil, func(c *Config) { c.BufferCapacity = 1 })

	var slowest time.Duration
	for i := 0; i < 1000; i++ {
		start := time.Now()
		svc.SubmitChange(change("a.md", models.ChangeModified))
		if d := time.Since(start); d > slowest {
			slowest = d
		}
	}
	assert.Less(t, slowest, 10*time.Millisecond)

	m := svc.Metrics()
	assert.Equal(t, uint64(1000), m.Submitted)
	assert.Equal(t, uint64(999), m.Dropped)
	assert.Equal(t, uint64(1), m.Pending)
	assertConserved(t, m)
}

func TestService_InvalidEventsDiscarded(t *testing.T) {
	svc, _, _ := memService(t, nil, nil)
	svc.SubmitChange(models.ChangeEvent{Path: "", Kind: models.ChangeCreated})
	svc.SubmitChange(models.ChangeEvent{Path: "a.md", Kind: models.ChangeKind(42)})
	assert.Zero(t, svc.Metrics().Submitted)
}

func TestService_NotReadyEventsDropped(t *testing.T) {
	release := make(chan struct{})
	svc, mem, _ := memService(t, map[string]string{"a.md": "# A"}, nil)
	mem.OnUpsert = func([]models.Document) error {
		<-release
		return nil
	}

	for i := 0; i < 5; i++ {
		svc.SubmitChange(change("a.md", models.ChangeModified))
	}
	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool { return svc.Metrics().Dropped == 5 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateInitialIndexing, svc.State())
	close(release)

	waitState(t, svc, StateReady)
	assertConserved(t, svc.Metrics())
}

func TestService_ThresholdFlush(t *testing.T) {
	svc, mem, dir := memService(t, nil, func(c *Config) {
		c.FlushInterval = time.Hour
		c.FlushThreshold = 3
	})
	require.NoError(t, svc.Start(context.Background()))
	waitState(t, svc, StateReady)

	testutil.WriteFiles(t, dir, map[string]string{"x.md": "x", "y.md": "y", "z.md": "z"})
	svc.SubmitChange(change("x.md", models.ChangeCreated))
	svc.SubmitChange(change("y.md", models.ChangeCreated))
	svc.SubmitChange(change(filepath.Join(dir, "z.md"), models.ChangeCreated))

	require.Eventually(t, func() bool { return svc.Metrics().Processed == 3 }, waitFor, 5*time.Millisecond)
	n, _ := mem.DocCount()
	assert.Equal(t, uint64(3), n)
}

func TestService_ConservationUnderLoad(t *testing.T) {
	svc, _, dir := memService(t, nil, func(c *Config) { c.BufferCapacity = 64 })
	require.NoError(t, svc.Start(context.Background()))
	waitState(t, svc, StateReady)

	testutil.WriteFiles(t, dir, map[string]string{"a.md": "a", "b.md": "b", "c.md": "c"})
	kinds := []models.ChangeKind{models.ChangeCreated, models.ChangeModified, models.ChangeDeleted}
	paths := []string{"a.md", "b.md", "c.md", "notes.txt", "../escape.md"}
	for i := 0; i < 2000; i++ {
		svc.SubmitChange(change(paths[i%len(paths)], kinds[i%len(kinds)]))
		if i%100 == 0 {
			assertConserved(t, svc.Metrics())
		}
	}

	require.Eventually(t, func() bool { return svc.Metrics().Pending == 0 }, waitFor, 5*time.Millisecond)
	m := svc.Metrics()
	assert.Equal(t, uint64(2000), m.Submitted)
	assertConserved(t, m)

	require.NoError(t, svc.Stop())
	assertConserved(t, svc.Metrics())
}

func TestService_StopDrainsQueueAsDropped(t *testing.T) {
	svc, _, _ := memService(t, nil, nil)
	for i := 0; i < 3; i++ {
		svc.SubmitChange(change("a.md", models.ChangeCreated))
	}
	require.NoError(t, svc.Stop())

	m := svc.Metrics()
	assert.Equal(t, uint64(3), m.Dropped)
	assert.Zero(t, m.Pending)

	svc.SubmitChange(change("a.md", models.ChangeCreated))
	assert.Equal(t, uint64(4), svc.Metrics().Dropped)
}

func TestService_VanishedFileRemovedOnFlush(t *testing.T) {
	svc, mem, _ := memService(t, map[string]string{"a.md": "# A"}, nil)
	require.NoError(t, svc.Start(context.Background()))
	waitState(t, svc, StateReady)

	svc.SubmitChange(change("a.md", models.ChangeModified))
	require.Eventually(t, func() bool {
		_, ok := mem.Doc("a.md")
		return ok && svc.Metrics().Processed == 1
	}, waitFor, 5*time.Millisecond)

	svc.SubmitChange(change("ghost.md", models.ChangeCreated))
	require.Eventually(t, func() bool { return svc.Metrics().Processed == 2 }, waitFor, 5*time.Millisecond)
	_, ok := mem.Doc("ghost.md")
	assert.False(t, ok)
}

func TestService_EndToEnd(t *testing.T) {
	dir, _ := testutil.TestVault(t, map[string]string{
		"one.md": "# One\noriginal text",
		"two.md": "# Two\nsecond note",
	})
	svc := New(Config{
		VaultPath:     dir,
		IndexPath:     filepath.Join(t.TempDir(), "vault.bleve"),
		Open:          bleve.Opener,
		FlushInterval: 200 * time.Millisecond,
		Logger:        discardLogger(),
	})
	t.Cleanup(func() { _ = svc.Stop() })

	events := make(chan IndexEvent, 16)
	svc.Subscribe(func(ev IndexEvent) { events <- ev })

	require.NoError(t, svc.Start(context.Background()))

	var rebuild IndexEvent
	select {
	case rebuild = <-events:
	case <-time.After(waitFor):
		t.Fatal("no rebuild notification")
	}
	require.Equal(t, KindRebuild, rebuild.Kind)
	require.NotNil(t, rebuild.Index)
	assert.Equal(t, StateReady, svc.State())

	n, err := rebuild.Index.DocCount()
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)

	testutil.WriteFiles(t, dir, map[string]string{
		"three.md": "# Three\nbrand new",
		"one.md":   "# One\nrewritten text",
	})
	require.NoError(t, os.Remove(filepath.Join(dir, "two.md")))

	svc.SubmitChange(change("three.md", models.ChangeCreated))
	svc.SubmitChange(change("one.md", models.ChangeModified))
	svc.SubmitChange(change("two.md", models.ChangeDeleted))

	require.Eventually(t, func() bool {
		m := svc.Metrics()
		return m.Processed == 3 && m.Pending == 0
	}, waitFor, 10*time.Millisecond)

	n, err = svc.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	keys, err := rebuild.Index.(store.Lister).Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one.md", "three.md"}, keys)

	hits, err := svc.Search("rewritten", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "one.md", hits[0].Path)

	var incremental IndexEvent
	require.Eventually(t, func() bool {
		select {
		case ev := <-events:
			if ev.Kind == KindIncremental {
				incremental = ev
				return true
			}
		default:
		}
		return false
	}, waitFor, 10*time.Millisecond)
	assert.Nil(t, incremental.Index)
	assert.NotEmpty(t, incremental.Paths)
}
