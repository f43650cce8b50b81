// Package fs abstracts the few filesystem operations the atomic-replace
// write path needs (open, rename, remove, sync), so tests can inject
// failures at exact points of the temp-write/sync/rename sequence.
//
// Production code uses Default. Tests wrap it in a FaultyFS to make a
// write or sync fail partway and assert that no torn file survives.
//
// Operations take no context.Context: local filesystem calls are fast and
// not interruptible at the syscall level anyway. Sources doing remote I/O
// (HTTP, S3) live in the source package and are context-aware there.
package fs

import (
	"io"
	"os"
)

// File is an open file on which the atomic write sequence operates.
type File interface {
	io.ReadWriteCloser
	Sync() error
}

// FileSystem is the operation set of the atomic-replace write path.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
	Stat(name string) (os.FileInfo, error)
}

// LocalFS is the production FileSystem backed by the os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) Rename(oldpath, newpath string) error  { return os.Rename(oldpath, newpath) }
func (LocalFS) Remove(name string) error              { return os.Remove(name) }
func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

// Default is the local filesystem.
var Default FileSystem = LocalFS{}
