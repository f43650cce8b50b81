package source

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/tilecraft/tilestream/internal/mmap"
	"github.com/tilecraft/tilestream/model"
)

// Packed tile archive: a single file holding many tiles with an index up
// front, memory-mapped for random access without per-tile file handles.
//
// Layout: magic, version, flags, tile count, then count index entries of
// (z, x, y, offset, length) sorted by (z, x, y), then the payload bytes.
// Offsets are relative to the start of the payload section.

var archiveMagic = [4]byte{'T', 'S', 'A', 'R'}

const (
	archiveVersion    = 1
	archiveHeaderSize = 4 + 2 + 2 + 4
	archiveEntrySize  = 1 + 4 + 4 + 8 + 8
)

var (
	// ErrArchiveCorrupt indicates a structurally invalid archive file.
	ErrArchiveCorrupt = errors.New("source: corrupt tile archive")
)

// ArchiveSource serves tiles from a packed archive file via mmap.
type ArchiveSource struct {
	meta    Metadata
	mapping *mmap.Mapping
	index   map[model.TileCoord]archiveSpan
	payload []byte
}

type archiveSpan struct {
	offset uint64
	length uint64
}

// OpenArchive memory-maps the archive at path and parses its index.
func OpenArchive(path, name string, format model.TileFormat) (*ArchiveSource, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	src, err := parseArchive(m.Bytes())
	if err != nil {
		m.Close()
		return nil, err
	}
	src.mapping = m
	src.meta = Metadata{
		Name:    name,
		MaxZoom: 22,
		Format:  format,
	}
	// Index lookups are random access.
	_ = m.Advise(mmap.AccessRandom)
	return src, nil
}

func parseArchive(data []byte) (*ArchiveSource, error) {
	if len(data) < archiveHeaderSize {
		return nil, fmt.Errorf("%w: short header", ErrArchiveCorrupt)
	}
	if [4]byte(data[:4]) != archiveMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrArchiveCorrupt)
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != archiveVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrArchiveCorrupt, v)
	}
	count := int(binary.LittleEndian.Uint32(data[8:12]))

	indexEnd := archiveHeaderSize + count*archiveEntrySize
	if len(data) < indexEnd {
		return nil, fmt.Errorf("%w: truncated index", ErrArchiveCorrupt)
	}
	payload := data[indexEnd:]

	index := make(map[model.TileCoord]archiveSpan, count)
	off := archiveHeaderSize
	for i := 0; i < count; i++ {
		coord := model.TileCoord{
			Z: data[off],
			X: binary.LittleEndian.Uint32(data[off+1:]),
			Y: binary.LittleEndian.Uint32(data[off+5:]),
		}
		span := archiveSpan{
			offset: binary.LittleEndian.Uint64(data[off+9:]),
			length: binary.LittleEndian.Uint64(data[off+17:]),
		}
		if span.offset+span.length > uint64(len(payload)) {
			return nil, fmt.Errorf("%w: entry %s out of range", ErrArchiveCorrupt, coord)
		}
		index[coord] = span
		off += archiveEntrySize
	}

	return &ArchiveSource{index: index, payload: payload}, nil
}

// Close unmaps the archive. Tiles returned by GetTile remain valid (they
// are copies).
func (s *ArchiveSource) Close() error {
	if s.mapping == nil {
		return nil
	}
	return s.mapping.Close()
}

// Len returns the number of tiles in the archive.
func (s *ArchiveSource) Len() int { return len(s.index) }

func (s *ArchiveSource) Metadata() Metadata { return s.meta }

func (s *ArchiveSource) GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	span, ok := s.index[coord]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(s.payload[span.offset : span.offset+span.length]), nil
}

func (s *ArchiveSource) HasTile(ctx context.Context, coord model.TileCoord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := s.index[coord]
	return ok, nil
}

func (s *ArchiveSource) GetTiles(ctx context.Context, coords []model.TileCoord) (map[model.TileCoord][]byte, error) {
	out := make(map[model.TileCoord][]byte, len(coords))
	for _, coord := range coords {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if span, ok := s.index[coord]; ok {
			out[coord] = slices.Clone(s.payload[span.offset : span.offset+span.length])
		}
	}
	return out, nil
}

// ArchiveWriter assembles a packed archive. Output is deterministic: tiles
// are written in ascending (z, x, y) order regardless of Add order.
type ArchiveWriter struct {
	tiles map[model.TileCoord][]byte
}

// NewArchiveWriter creates an empty writer.
func NewArchiveWriter() *ArchiveWriter {
	return &ArchiveWriter{tiles: make(map[model.TileCoord][]byte)}
}

// Add stages a tile payload. The slice is not copied.
func (w *ArchiveWriter) Add(coord model.TileCoord, data []byte) {
	w.tiles[coord] = data
}

// WriteFile writes the archive atomically: temp file, sync, rename.
func (w *ArchiveWriter) WriteFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := w.encode(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	// Success: the temp file is now the final file.
	tmpName = ""
	return nil
}

func (w *ArchiveWriter) encode(out *bufio.Writer) error {
	coords := make([]model.TileCoord, 0, len(w.tiles))
	for c := range w.tiles {
		coords = append(coords, c)
	}
	slices.SortFunc(coords, model.TileCoord.Compare)

	var header [archiveHeaderSize]byte
	copy(header[:4], archiveMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], archiveVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(coords)))
	if _, err := out.Write(header[:]); err != nil {
		return err
	}

	var offset uint64
	var entry [archiveEntrySize]byte
	for _, c := range coords {
		entry[0] = c.Z
		binary.LittleEndian.PutUint32(entry[1:], c.X)
		binary.LittleEndian.PutUint32(entry[5:], c.Y)
		binary.LittleEndian.PutUint64(entry[9:], offset)
		binary.LittleEndian.PutUint64(entry[17:], uint64(len(w.tiles[c])))
		if _, err := out.Write(entry[:]); err != nil {
			return err
		}
		offset += uint64(len(w.tiles[c]))
	}

	for _, c := range coords {
		if _, err := out.Write(w.tiles[c]); err != nil {
			return err
		}
	}
	return nil
}
