package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"variant-engine/internal/cluster/local"
	"variant-engine/internal/dispatch"
	"variant-engine/internal/shared/model"
	"variant-engine/internal/shared/objstore"
)

func upload(t *testing.T, store *objstore.MemStore, key, body string) {
	t.Helper()
	err := store.Upload(context.Background(), key, strings.NewReader(body), int64(len(body)), "application/json")
	require.NoError(t, err)
}

// readArchive returns entry name -> content for every file in the tar.gz.
func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	entries := make(map[string]string)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = string(body)
	}
	return entries
}

func TestArchiveRunLayout(t *testing.T) {
	store := objstore.NewMemStore()
	upload(t, store, "run-1/variant-0000/output.json", `{"v":0}`)
	upload(t, store, "run-1/variant-0001/output.json", `{"v":1}`)
	upload(t, store, "run-1/variant-0001/metrics.csv", "a,b\n1,2\n")
	// Objects of another run must stay out of the archive.
	upload(t, store, "run-2/variant-0000/output.json", `{"v":9}`)

	a := New(store, t.TempDir(), nil)
	path, err := a.ArchiveRun(context.Background(), "run-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, a.Path("run-1"), path)

	entries := readArchive(t, path)
	require.Len(t, entries, 3)
	assert.Equal(t, `{"v":0}`, entries["run-1/variant-0000/output.json"])
	assert.Equal(t, `{"v":1}`, entries["run-1/variant-0001/output.json"])
	assert.Equal(t, "a,b\n1,2\n", entries["run-1/variant-0001/metrics.csv"])
}

func TestArchivePartialRun(t *testing.T) {
	// A run with failed variants archives whatever results exist.
	store := objstore.NewMemStore()
	upload(t, store, "run-1/variant-0000/output.json", "ok")
	upload(t, store, "run-1/variant-0002/output.json", "ok")

	a := New(store, t.TempDir(), nil)
	path, err := a.ArchiveRun(context.Background(), "run-1", Options{})
	require.NoError(t, err)

	entries := readArchive(t, path)
	assert.Len(t, entries, 2)
	_, hasFailed := entries["run-1/variant-0001/output.json"]
	assert.False(t, hasFailed)
}

func TestArchiveAfterDispatch(t *testing.T) {
	// Full composition over the in-process cluster: dispatch four variants,
	// one failing permanently, then archive whatever the jobs deposited. The
	// archive must hold exactly one subtree per succeeded variant.
	store := objstore.NewMemStore()
	client := local.New().WithResults(store)
	client.SetBehavior("variant-0002", local.Behavior{AlwaysFail: true})

	variants := make([]model.Variant, 4)
	for i := range variants {
		variants[i] = model.Variant{
			Index:      i,
			ID:         fmt.Sprintf("variant-%04d", i),
			Assignment: map[string]any{"index": i},
		}
	}
	run := model.NewRun(variants)

	d := dispatch.New(client, dispatch.Options{
		ConcurrencyLimit: 2,
		MaxAttempts:      2,
		JobTimeout:       2 * time.Second,
		PollInterval:     2 * time.Millisecond,
	}, nil)
	result, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)
	require.Equal(t, []string{"variant-0000", "variant-0001", "variant-0003"}, result.Succeeded)
	require.Equal(t, []string{"variant-0002"}, result.Failed)

	a := New(store, t.TempDir(), nil)
	path, err := a.ArchiveRun(context.Background(), run.ID, Options{})
	require.NoError(t, err)

	entries := readArchive(t, path)
	require.Len(t, entries, 3)
	for _, id := range result.Succeeded {
		assert.Contains(t, entries, run.ID+"/"+id+"/output.json")
	}
	for name := range entries {
		assert.NotContains(t, name, "variant-0002")
	}
}

func TestArchiveEmptyRun(t *testing.T) {
	a := New(objstore.NewMemStore(), t.TempDir(), nil)
	path, err := a.ArchiveRun(context.Background(), "run-empty", Options{})
	require.NoError(t, err)
	assert.Empty(t, readArchive(t, path))
}

func TestArchiveIdempotentOverwrite(t *testing.T) {
	store := objstore.NewMemStore()
	upload(t, store, "run-1/variant-0000/output.json", "first")

	a := New(store, t.TempDir(), nil)
	path1, err := a.ArchiveRun(context.Background(), "run-1", Options{})
	require.NoError(t, err)

	upload(t, store, "run-1/variant-0000/output.json", "second")
	upload(t, store, "run-1/variant-0001/output.json", "new")
	path2, err := a.ArchiveRun(context.Background(), "run-1", Options{})
	require.NoError(t, err)

	assert.Equal(t, path1, path2)
	entries := readArchive(t, path2)
	assert.Equal(t, "second", entries["run-1/variant-0000/output.json"])
	assert.Len(t, entries, 2)
}

func TestArchiveUnreadableFailsClosed(t *testing.T) {
	store := objstore.NewMemStore()
	upload(t, store, "run-1/variant-0000/output.json", "ok")

	a := New(store, t.TempDir(), nil)
	refs := []string{"run-1/variant-0000/output.json", "run-1/variant-0001/missing.json"}

	_, err := a.Archive(context.Background(), "run-1", refs, Options{})
	require.ErrorIs(t, err, model.ErrArchiveIO)

	// No partial archive appears at the final path.
	_, statErr := os.Stat(a.Path("run-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestArchiveSkipUnreadable(t *testing.T) {
	store := objstore.NewMemStore()
	upload(t, store, "run-1/variant-0000/output.json", "ok")

	a := New(store, t.TempDir(), nil)
	refs := []string{"run-1/variant-0001/missing.json", "run-1/variant-0000/output.json"}

	path, err := a.Archive(context.Background(), "run-1", refs, Options{SkipUnreadable: true})
	require.NoError(t, err)

	entries := readArchive(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries["run-1/variant-0000/output.json"])
}

func TestArchiveUnprefixedRefs(t *testing.T) {
	// Refs lacking the run prefix are namespaced under the run id.
	store := objstore.NewMemStore()
	upload(t, store, "loose/object.txt", "data")

	a := New(store, t.TempDir(), nil)
	path, err := a.Archive(context.Background(), "run-1", []string{"loose/object.txt"}, Options{})
	require.NoError(t, err)

	entries := readArchive(t, path)
	assert.Equal(t, "data", entries["run-1/loose/object.txt"])
}

func TestArchiveCancelled(t *testing.T) {
	store := objstore.NewMemStore()
	upload(t, store, "run-1/variant-0000/output.json", "ok")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(store, t.TempDir(), nil)
	_, err := a.ArchiveRun(ctx, "run-1", Options{})
	assert.ErrorIs(t, err, model.ErrArchiveIO)
}

func TestArchiveLeavesNoTempFiles(t *testing.T) {
	store := objstore.NewMemStore()
	upload(t, store, "run-1/variant-0000/output.json", "ok")
	dir := t.TempDir()

	a := New(store, dir, nil)
	_, err := a.ArchiveRun(context.Background(), "run-1", Options{})
	require.NoError(t, err)
	_, err = a.Archive(context.Background(), "run-1", []string{"run-1/absent"}, Options{})
	require.Error(t, err)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, f := range files {
		assert.False(t, strings.HasPrefix(f.Name(), ".archive-"),
			"temp files must be cleaned up on both success and failure")
	}
}
