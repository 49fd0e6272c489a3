package cas_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/adapters/cas"
	"go.trai.ch/keel/internal/core/domain"
)

func TestStore_PutGet(t *testing.T) {
	root := t.TempDir()
	store := cas.NewStore()

	info := domain.BuildInfo{
		UnitID:      "core 1.0.0 lib:core",
		Fingerprint: "abc123",
		OutDir:      filepath.Join(root, "target", "core"),
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, store.Put(root, info))

	got, err := store.Get(root, info.UnitID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, info.Fingerprint, got.Fingerprint)
	assert.Equal(t, info.OutDir, got.OutDir)
	assert.True(t, info.Timestamp.Equal(got.Timestamp))

	entries, err := os.ReadDir(domain.StorePath(root))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestStore_GetMissing(t *testing.T) {
	store := cas.NewStore()
	got, err := store.Get(t.TempDir(), "nope 1.0.0 lib:nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Overwrite(t *testing.T) {
	root := t.TempDir()
	store := cas.NewStore()

	require.NoError(t, store.Put(root, domain.BuildInfo{UnitID: "u", Fingerprint: "one"}))
	require.NoError(t, store.Put(root, domain.BuildInfo{UnitID: "u", Fingerprint: "two"}))

	got, err := store.Get(root, "u")
	require.NoError(t, err)
	assert.Equal(t, "two", got.Fingerprint)
}

func TestStore_CorruptFile(t *testing.T) {
	root := t.TempDir()
	store := cas.NewStore()
	require.NoError(t, store.Put(root, domain.BuildInfo{UnitID: "u", Fingerprint: "one"}))

	entries, err := os.ReadDir(domain.StorePath(root))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	path := filepath.Join(domain.StorePath(root), entries[0].Name())
	require.NoError(t, os.WriteFile(path, []byte("{not json"), domain.FilePerm))

	_, err = store.Get(root, "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrStoreReadFailed.Error())
}

func TestStore_ConcurrentPuts(t *testing.T) {
	root := t.TempDir()
	store := cas.NewStore()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			assert.NoError(t, store.Put(root, domain.BuildInfo{UnitID: id, Fingerprint: id}))
		}()
	}
	wg.Wait()

	for i := range 16 {
		id := string(rune('a' + i))
		got, err := store.Get(root, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, id, got.Fingerprint)
	}
}
