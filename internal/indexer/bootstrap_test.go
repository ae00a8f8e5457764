package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susamn/obsidian-web/internal/index/bleve"
	"github.com/susamn/obsidian-web/internal/index/store"
	"github.com/susamn/obsidian-web/internal/models"
	"github.com/susamn/obsidian-web/internal/storage"
	"github.com/susamn/obsidian-web/internal/testutil"
)

func numberedNotes(n int) map[string]string {
	files := make(map[string]string, n)
	for i := 0; i < n; i++ {
		files[fmt.Sprintf("notes/n%03d.md", i)] = fmt.Sprintf("# Note %d\nbody #tag%d", i, i)
	}
	return files
}

func newBootstrapper(fs storage.Provider, open store.Opener, reports *[]progress) *bootstrapper {
	return &bootstrapper{
		fs:        fs,
		open:      open,
		location:  "mem",
		batchSize: DefaultBatchSize,
		logger:    discardLogger(),
		report:    func(p progress) { *reports = append(*reports, p) },
	}
}

func TestBootstrap_ProgressPerBatch(t *testing.T) {
	_, fs := testutil.TestVault(t, numberedNotes(250))
	mem := testutil.NewMemIndex()

	var reports []progress
	idx, p, err := newBootstrapper(fs, mem.Opener(), &reports).run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, idx)

	require.Len(t, reports, 3)
	assert.Equal(t, []int{100, 200, 250}, []int{reports[0].Indexed, reports[1].Indexed, reports[2].Indexed})
	assert.Equal(t, []int{150, 50, 0}, []int{reports[0].remaining(), reports[1].remaining(), reports[2].remaining()})
	assert.Equal(t, 250, p.Total)
	assert.Equal(t, []int{100, 100, 50}, mem.Batches())

	n, _ := mem.DocCount()
	assert.Equal(t, uint64(250), n)
}

func TestBootstrap_CancelKeepsLastBatch(t *testing.T) {
	_, fs := testutil.TestVault(t, numberedNotes(250))
	mem := testutil.NewMemIndex()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem.OnUpsert = func([]models.Document) error {
		cancel()
		return nil
	}

	var reports []progress
	idx, _, err := newBootstrapper(fs, mem.Opener(), &reports).run(ctx)
	require.Error(t, err)
	assert.True(t, isCancellation(err))
	assert.NotNil(t, idx)

	assert.Equal(t, []int{100}, mem.Batches())
	n, _ := mem.DocCount()
	assert.Equal(t, uint64(100), n)
}

func TestBootstrap_SkipsBadFiles(t *testing.T) {
	_, fs := testutil.TestVault(t, map[string]string{
		"good.md":   "# Good",
		"binary.md": "abc\x00def",
		"notes.txt": "ignored",
	})
	mem := testutil.NewMemIndex()

	var reports []progress
	_, p, err := newBootstrapper(fs, mem.Opener(), &reports).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 1, p.Indexed)
	assert.Equal(t, 1, p.Skipped)
	assert.Equal(t, 0, p.remaining())

	_, ok := mem.Doc("good.md")
	assert.True(t, ok)
	_, ok = mem.Doc("binary.md")
	assert.False(t, ok)
}

func TestBootstrap_UnchangedFilesNotRewritten(t *testing.T) {
	_, fs := testutil.TestVault(t, numberedNotes(5))
	mem := testutil.NewMemIndex()

	var reports []progress
	b := newBootstrapper(fs, mem.Opener(), &reports)
	_, _, err := b.run(context.Background())
	require.NoError(t, err)
	_, p, err := b.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{5}, mem.Batches())
	assert.Equal(t, 5, p.Indexed)
}

func TestBootstrap_PrunesStaleKeys(t *testing.T) {
	_, fs := testutil.TestVault(t, map[string]string{"keep.md": "# Keep"})
	mem := testutil.NewMemIndex()
	require.NoError(t, mem.UpsertBatch([]models.Document{{Path: "gone.md"}}))

	var reports []progress
	_, _, err := newBootstrapper(fs, mem.Opener(), &reports).run(context.Background())
	require.NoError(t, err)

	keys, _ := mem.Keys()
	assert.Equal(t, []string{"keep.md"}, keys)
}

func TestBootstrap_OpenFailure(t *testing.T) {
	_, fs := testutil.TestVault(t, nil)
	mem := testutil.NewMemIndex()
	mem.OpenErr = errors.New("disk on fire")

	var reports []progress
	idx, _, err := newBootstrapper(fs, mem.Opener(), &reports).run(context.Background())
	require.Error(t, err)
	assert.Nil(t, idx)
	assert.False(t, isCancellation(err))
}

func TestBootstrap_IdempotentReopen(t *testing.T) {
	_, fs := testutil.TestVault(t, numberedNotes(30))
	location := filepath.Join(t.TempDir(), "vault.bleve")

	var reports []progress
	b := newBootstrapper(fs, bleve.Opener, &reports)
	b.location = location

	idx, _, err := b.run(context.Background())
	require.NoError(t, err)
	first, err := idx.DocCount()
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx, _, err = b.run(context.Background())
	require.NoError(t, err)
	defer idx.Close()
	second, err := idx.DocCount()
	require.NoError(t, err)

	assert.Equal(t, uint64(30), first)
	assert.GreaterOrEqual(t, second, first)
}
