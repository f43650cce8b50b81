package manifest

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tilecraft/tilestream/codec"
	"github.com/tilecraft/tilestream/internal/fs"
)

// Store reads and writes the manifest of a package directory with atomic
// replace semantics: writers never leave a torn manifest behind.
type Store struct {
	fs    fs.FileSystem
	dir   string
	codec codec.Codec
	mu    sync.Mutex
}

// NewStore creates a store rooted at the package directory. A nil filesystem
// or codec selects the defaults.
func NewStore(fsys fs.FileSystem, dir string, c codec.Codec) *Store {
	if fsys == nil {
		fsys = fs.Default
	}
	if c == nil {
		c = codec.Default
	}
	return &Store{fs: fsys, dir: dir, codec: c}
}

// Load reads and validates the package manifest. A missing manifest surfaces
// as os.ErrNotExist.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fs.OpenFile(filepath.Join(s.dir, FileName), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := s.codec.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Save validates and atomically replaces the package manifest: write to a
// temp file, sync, rename over the final name, sync the directory.
func (s *Store) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.Validate(); err != nil {
		return err
	}

	data, err := s.codec.Marshal(m)
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, FileName)
	tmpPath := path + ".tmp"

	f, err := s.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return err
	}

	if err := s.fs.Rename(tmpPath, path); err != nil {
		s.fs.Remove(tmpPath)
		return err
	}
	return s.syncDir()
}

func (s *Store) syncDir() error {
	f, err := s.fs.OpenFile(s.dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
