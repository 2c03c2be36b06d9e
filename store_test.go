package b23bot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, doc Document) *ConfigStore {
	t.Helper()
	store, err := CreateStore(filepath.Join(t.TempDir(), "config.toml"), doc)
	require.NoError(t, err)
	return store
}

func TestOpenStore_ReadsTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `host = "127.0.0.1"
port = 3001
root = [10001]
admin = [20002, 20002]
plugins = ["cmd", "demo"]
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	store, err := OpenStore(path)
	require.NoError(t, err)

	doc := store.Snapshot()
	assert.Equal(t, "127.0.0.1", doc.Host)
	assert.Equal(t, 3001, doc.Port)
	assert.Equal(t, []int64{20002}, doc.Admin, "duplicates dropped")
	assert.Equal(t, []string{"cmd", "demo"}, store.Plugins())
	assert.True(t, store.IsRoot(10001))
	assert.True(t, store.IsAdmin(10001), "roots are admins")
	assert.True(t, store.IsAdmin(20002))
	assert.False(t, store.IsRoot(20002))
}

func TestOpenStore_Errors(t *testing.T) {
	_, err := OpenStore(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("host = ["), 0o600))
	_, err = OpenStore(path)
	assert.Error(t, err)
}

func TestConfigStore_AddAdminPersists(t *testing.T) {
	store := newTestStore(t, Document{Host: "h", Port: 1})

	added, err := store.AddAdmin(5)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.AddAdmin(5)
	require.NoError(t, err)
	assert.False(t, added, "second add is a no-op")

	reopened, err := OpenStore(store.Path())
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, reopened.Snapshot().Admin)
}

func TestConfigStore_AddRootPersists(t *testing.T) {
	store := newTestStore(t, Document{Root: []int64{1}})

	added, err := store.AddRoot(2)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []int64{1, 2}, store.Roots())

	reopened, err := OpenStore(store.Path())
	require.NoError(t, err)
	assert.True(t, reopened.IsRoot(2))
}

func TestConfigStore_UpdateErrorLeavesDocument(t *testing.T) {
	store := newTestStore(t, Document{Plugins: []string{"cmd"}})

	err := store.Update(func(d *Document) error {
		d.Plugins = append(d.Plugins, "demo")
		return errors.New("abort")
	})
	assert.EqualError(t, err, "abort")
	assert.Equal(t, []string{"cmd"}, store.Plugins())

	reopened, err := OpenStore(store.Path())
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd"}, reopened.Plugins())
}

func TestConfigStore_SnapshotIsCopy(t *testing.T) {
	store := newTestStore(t, Document{Plugins: []string{"cmd"}})

	doc := store.Snapshot()
	doc.Plugins[0] = "mutated"
	assert.Equal(t, []string{"cmd"}, store.Plugins())
}

func TestConfigStore_WritesEveryKey(t *testing.T) {
	store := newTestStore(t, Document{Host: "h", Port: 1})

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	for _, key := range []string{"host", "port", "root", "admin", "plugins"} {
		assert.Contains(t, string(raw), key)
	}
	assert.NotContains(t, string(raw), "access_token")

	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file renamed away")
}
