package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bestseller-crawler/internal/storage/local"
)

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func newStore(t *testing.T) (*local.BlobStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	return store, dir
}

// readSnapshot returns the file contents and the names of every file in its directory.
func readSnapshot(t *testing.T, path string) (string, []string) {
	t.Helper()
	// #nosec G304 -- test reads from its own temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return string(data), names
}

func TestNewCreatesSnapshotDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "snapshots", "bestsellers")
	_, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "write check must not leave files behind")
}

func TestNewRejectsBadDirs(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{BaseDir: "  "})
	require.ErrorContains(t, err, "storage.local.base_dir")

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.ErrorContains(t, err, "not a directory")
}

func TestNewRejectsReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	t.Parallel()

	dir := t.TempDir()
	// #nosec G302 -- read-only on purpose.
	require.NoError(t, os.Chmod(dir, 0o500))
	// #nosec G302 -- restore so TempDir cleanup succeeds.
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	_, err := local.New(local.Config{BaseDir: dir})
	require.ErrorContains(t, err, "not writable")
}

func TestPutObjectWritesRunSnapshot(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	body := `[{"rank":1,"title":"Late Bloomers"}]`
	uri, err := store.PutObject(context.Background(), "bestsellers/0192-run.json", "application/json", strings.NewReader(body))
	require.NoError(t, err)

	want := filepath.Join(dir, "bestsellers", "0192-run.json")
	require.Equal(t, "file://"+filepath.ToSlash(want), uri)
	got, names := readSnapshot(t, want)
	require.JSONEq(t, body, got)
	require.Equal(t, []string{"0192-run.json"}, names)
}

func TestPutObjectReplacesSnapshot(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	ctx := context.Background()
	_, err := store.PutObject(ctx, "latest.json", "application/json", strings.NewReader(`{"count":3}`))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "/latest.json", "application/json", strings.NewReader(`{"count":5}`))
	require.NoError(t, err)

	got, names := readSnapshot(t, filepath.Join(dir, "latest.json"))
	require.JSONEq(t, `{"count":5}`, got)
	require.Equal(t, []string{"latest.json"}, names)
}

func TestPutObjectKeepsPreviousSnapshotOnReadError(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	ctx := context.Background()
	_, err := store.PutObject(ctx, "latest.json", "application/json", strings.NewReader(`{"count":3}`))
	require.NoError(t, err)

	_, err = store.PutObject(ctx, "latest.json", "application/json", brokenReader{})
	require.ErrorContains(t, err, "connection reset")

	got, names := readSnapshot(t, filepath.Join(dir, "latest.json"))
	require.JSONEq(t, `{"count":3}`, got)
	require.Equal(t, []string{"latest.json"}, names, "temp file must be cleaned up")
}

func TestPutObjectRejectsBadNames(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	for _, name := range []string{"", "   ", "../escape.json", "bestsellers/../../escape.json"} {
		_, err := store.PutObject(context.Background(), name, "application/json", strings.NewReader("{}"))
		require.Error(t, err, "name %q", name)
	}
}
