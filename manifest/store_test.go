package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilecraft/tilestream/internal/fs"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(nil, dir, nil)

	m := demoManifest()
	require.NoError(t, s.Save(m))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, m.PackageID, loaded.PackageID)
	assert.Equal(t, m.Chunks, loaded.Chunks)
}

func TestStoreLoadMissing(t *testing.T) {
	s := NewStore(nil, t.TempDir(), nil)
	_, err := s.Load()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreSaveRejectsInvalid(t *testing.T) {
	s := NewStore(nil, t.TempDir(), nil)

	m := demoManifest()
	m.Version = "0.9"
	assert.ErrorIs(t, s.Save(m), ErrUnsupportedVersion)
}

func TestStoreSaveCleansUpOnWriteFault(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.SetLimit(8)

	s := NewStore(ffs, dir, nil)
	require.Error(t, s.Save(demoManifest()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed save leaves no temp files behind")
}

func TestStoreLoadRejectsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(nil, dir, nil)

	m := demoManifest()
	require.NoError(t, s.Save(m))

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"points"`, `"areas"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	_, err = s.Load()
	var mismatch *IdentityMismatchError
	assert.ErrorAs(t, err, &mismatch)
}
