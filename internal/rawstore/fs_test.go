package rawstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotKey_Layout(t *testing.T) {
	ts := time.Date(2024, 5, 2, 7, 3, 9, 0, time.UTC)

	assert.Equal(t, "year=2024/month=05/day=02", DayPrefix(ts))
	assert.Equal(t, "year=2024/month=05/day=02/opensky_070309.json", SnapshotKey(ts))
}

func TestSnapshotKey_UsesUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2024, 5, 2, 2, 0, 0, 0, ist) // 2024-05-01 20:30 UTC

	assert.Equal(t, "year=2024/month=05/day=01/opensky_203000.json", SnapshotKey(ts))
}

func TestFSStore_WriteListRead(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())

	key := "year=2024/month=05/day=01/opensky_100000.json"
	require.NoError(t, store.Write(ctx, key, []byte(`{"states":[]}`)))

	keys, err := store.List(ctx, "year=2024/month=05/day=01")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	data, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"states":[]}`, string(data))
}

func TestFSStore_WriteRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())
	key := "year=2024/month=05/day=01/opensky_100000.json"

	require.NoError(t, store.Write(ctx, key, []byte("first")))
	err := store.Write(ctx, key, []byte("second"))
	assert.True(t, errors.Is(err, ErrExists), "got %v", err)

	data, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestFSStore_ListMissingPrefix(t *testing.T) {
	store := NewFSStore(t.TempDir())

	_, err := store.List(context.Background(), "year=2030/month=01/day=01")
	assert.True(t, errors.Is(err, ErrPrefixNotFound), "got %v", err)
}

func TestFSStore_ListEmptyPrefix(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "year=2024", "month=05", "day=01"), 0o755))
	store := NewFSStore(root)

	keys, err := store.List(context.Background(), "year=2024/month=05/day=01")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFSStore_ListSkipsTempFilesAndDirs(t *testing.T) {
	root := t.TempDir()
	day := filepath.Join(root, "year=2024", "month=05", "day=01")
	require.NoError(t, os.MkdirAll(filepath.Join(day, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(day, ".tmp-123"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(day, "b.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(day, "a.json"), []byte("{}"), 0o644))

	keys, err := NewFSStore(root).List(context.Background(), "year=2024/month=05/day=01")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"year=2024/month=05/day=01/a.json",
		"year=2024/month=05/day=01/b.json",
	}, keys)
}

func TestFSStore_RejectsEmptyKey(t *testing.T) {
	store := NewFSStore(t.TempDir())
	assert.Error(t, store.Write(context.Background(), "", []byte("x")))
}
