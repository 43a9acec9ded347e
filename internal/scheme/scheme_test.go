package scheme

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScheme(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDir_ParsesEachConfFileAsOneScheme(t *testing.T) {
	dir := t.TempDir()
	writeScheme(t, dir, "http.conf", "batch = add [set] [ip]\nunblock = del [set] [ip]\nports = 80,443\n")
	writeScheme(t, dir, "all.conf", "batch = add [set] [ip]\nunblock = del [set] [ip]\n")
	writeScheme(t, dir, "ignored.txt", "batch = nope\n")

	store, err := LoadDir(dir, "http")
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "http"}, store.Names())

	sc, err := store.Resolve("http")
	require.NoError(t, err)
	assert.Equal(t, []int{80, 443}, sc.Ports)
	assert.Equal(t, "add [set] [ip]", sc.Batch)
}

func TestLoadDir_MissingDirectoryIsNotAnError(t *testing.T) {
	store, err := LoadDir(filepath.Join(t.TempDir(), "missing"), "http")
	require.NoError(t, err)
	assert.Empty(t, store.Names())
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	store := NewStore("http")
	require.NoError(t, store.Load("http", nil))
	sc, err := store.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "http", sc.Name)

	sc, err = store.Resolve("unknown")
	require.NoError(t, err)
	assert.Equal(t, "http", sc.Name)
}

func TestResolve_ErrorsWhenNeitherNamedNorDefaultExists(t *testing.T) {
	store := NewStore("missing-default")
	_, err := store.Resolve("unknown")
	assert.Error(t, err)
}

func TestLoad_RejectsBadSchemeName(t *testing.T) {
	store := NewStore("http")
	err := store.Load("Bad Name", nil)
	assert.Error(t, err)
}
