package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	testStoreContract(t, store)
}

func TestFileStore_Permissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	require.NoError(t, store.Save(context.Background(), "corp", testAuthState(t, "at-1")))

	info, err = os.Stat(store.path("corp"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Equal(t, hashKey("corp")+".json", filepath.Base(store.path("corp")))
}

func TestFileStore_ListSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "corp", testAuthState(t, "at-1")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0700))

	keys, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"corp"}, keys)
}

func TestFileStore_CancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Save(ctx, "corp", testAuthState(t, "at-1")), context.Canceled)
	_, err = store.Load(ctx, "corp")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}

func TestFileStore_Watch(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	store.debounceInterval = 20 * time.Millisecond

	// A second store on the same directory plays the other process.
	other, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, other.Save(context.Background(), "existing", testAuthState(t, "at-0")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan ChangeEvent, 16)
	require.NoError(t, store.Watch(ctx, func(e ChangeEvent) { events <- e }))

	require.NoError(t, other.Save(context.Background(), "corp", testAuthState(t, "at-1")))
	require.NoError(t, other.Save(context.Background(), "corp", testAuthState(t, "at-2")))

	waitForChange(t, events, "corp", OperationSaved)

	require.NoError(t, other.Delete(context.Background(), "existing"))

	waitForChange(t, events, "existing", OperationDeleted)
}

// waitForChange drains events until the wanted one arrives. Debouncing
// merges most bursts, but the watcher may still report a save twice.
func waitForChange(t *testing.T, events <-chan ChangeEvent, key string, op ChangeOperation) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Key == key && e.Operation == op {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s %s", op, key)
		}
	}
}
