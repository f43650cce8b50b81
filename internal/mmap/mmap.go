// Package mmap maps packed tile archives into memory for zero-copy reads.
//
// Archives are opened read-only and shared: the tile index and payloads are
// sliced straight out of the mapping without buffering through the heap.
// Advise passes access-pattern hints to the kernel; archive lookups are
// random-access by nature.
//
// A Mapping is safe for concurrent readers. Close is idempotent, but callers
// must not touch a slice returned by Bytes after Close returns.
package mmap

import (
	"errors"
	"os"
	"sync/atomic"
)

// ErrClosed is returned when operating on a closed mapping.
var ErrClosed = errors.New("mmap: mapping is closed")

// AccessPattern hints how the mapped bytes will be read.
type AccessPattern int

const (
	AccessNormal AccessPattern = iota
	AccessSequential
	AccessRandom
	AccessWillNeed
)

// Mapping is a read-only memory-mapped file.
type Mapping struct {
	data   []byte
	munmap func([]byte) error
	closed atomic.Bool
}

// Open maps the file at path read-only. Empty files produce an empty but
// valid mapping.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return &Mapping{}, nil
	}

	data, munmap, err := osMap(f, int(fi.Size()))
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data, munmap: munmap}, nil
}

// Bytes borrows the mapped contents. Returns nil once the mapping is closed.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Len returns the mapped size in bytes.
func (m *Mapping) Len() int { return len(m.data) }

// Advise forwards an access-pattern hint to the kernel. The hint is
// advisory; platforms without an equivalent ignore it.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	return osAdvise(m.data, pattern)
}

// Close unmaps the file. Further calls are no-ops.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.munmap == nil || m.data == nil {
		return nil
	}
	return m.munmap(m.data)
}
