package fs

import (
	"errors"
	"os"
	"sync"
)

// ErrInjected is the failure FaultyFS surfaces unless a custom error is set.
var ErrInjected = errors.New("fs: injected fault")

// FaultyFS wraps a FileSystem and fails writes once a byte budget is spent,
// or fails every Sync. It exists to prove the atomic-replace path never
// leaves a torn file behind.
type FaultyFS struct {
	FS FileSystem
	// Err replaces ErrInjected when non-nil.
	Err error

	mu       sync.Mutex
	limit    int64
	written  int64
	failSync bool
}

// NewFaultyFS wraps fsys, or Default when nil. No faults are armed yet.
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{FS: fsys, limit: -1}
}

// SetLimit arms write failure: any write that would push the total bytes
// written through this filesystem past limit fails whole.
func (f *FaultyFS) SetLimit(limit int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
}

// FailSync makes every Sync fail.
func (f *FaultyFS) FailSync(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSync = fail
}

// Written returns the bytes successfully written so far.
func (f *FaultyFS) Written() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func (f *FaultyFS) fault() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f}, nil
}

func (f *FaultyFS) Rename(oldpath, newpath string) error  { return f.FS.Rename(oldpath, newpath) }
func (f *FaultyFS) Remove(name string) error              { return f.FS.Remove(name) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }

type faultyFile struct {
	File
	fs *FaultyFS
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	ff.fs.mu.Lock()
	over := ff.fs.limit >= 0 && ff.fs.written+int64(len(p)) > ff.fs.limit
	if !over {
		ff.fs.written += int64(len(p))
	}
	ff.fs.mu.Unlock()

	if over {
		return 0, ff.fs.fault()
	}
	return ff.File.Write(p)
}

func (ff *faultyFile) Sync() error {
	ff.fs.mu.Lock()
	fail := ff.fs.failSync
	ff.fs.mu.Unlock()

	if fail {
		return ff.fs.fault()
	}
	return ff.File.Sync()
}
