package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchiveFixture(t *testing.T, payload []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiles.pack")
	require.NoError(t, os.WriteFile(path, payload, 0644))
	return path
}

func TestMappingReadsFileContents(t *testing.T) {
	payload := []byte("TPK1\x00\x01\x02\x03tile payload bytes")
	path := writeArchiveFixture(t, payload)

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, len(payload), m.Len())
	assert.Equal(t, payload, m.Bytes())
	assert.Equal(t, payload[4:8], m.Bytes()[4:8])
}

func TestMappingAdviseHints(t *testing.T) {
	path := writeArchiveFixture(t, make([]byte, 8192))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	for _, pattern := range []AccessPattern{AccessNormal, AccessSequential, AccessRandom, AccessWillNeed} {
		assert.NoError(t, m.Advise(pattern))
	}
}

func TestMappingEmptyFile(t *testing.T) {
	path := writeArchiveFixture(t, nil)

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.Len())
	assert.NoError(t, m.Advise(AccessRandom))
}

func TestMappingClose(t *testing.T) {
	path := writeArchiveFixture(t, []byte("short-lived"))

	m, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Nil(t, m.Bytes())
	assert.ErrorIs(t, m.Advise(AccessRandom), ErrClosed)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.pack"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
