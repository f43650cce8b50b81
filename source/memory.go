package source

import (
	"context"
	"sync"

	"github.com/tilecraft/tilestream/model"
)

// MemorySource is an in-memory tile source, useful for tests and for
// serving dynamically generated tiles.
type MemorySource struct {
	meta  Metadata
	mu    sync.RWMutex
	tiles map[model.TileCoord][]byte
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource(name string, format model.TileFormat) *MemorySource {
	return &MemorySource{
		meta: Metadata{
			Name:    name,
			MaxZoom: 22,
			Format:  format,
		},
		tiles: make(map[model.TileCoord][]byte),
	}
}

func (s *MemorySource) Metadata() Metadata { return s.meta }

// SetTile stores a tile payload. The slice is not copied.
func (s *MemorySource) SetTile(coord model.TileCoord, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[coord] = data
}

// RemoveTile deletes a tile, returning its previous payload.
func (s *MemorySource) RemoveTile(coord model.TileCoord) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.tiles[coord]
	delete(s.tiles, coord)
	return data, ok
}

// Len returns the number of stored tiles.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiles)
}

func (s *MemorySource) GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.tiles[coord]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *MemorySource) HasTile(ctx context.Context, coord model.TileCoord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tiles[coord]
	return ok, nil
}

func (s *MemorySource) GetTiles(ctx context.Context, coords []model.TileCoord) (map[model.TileCoord][]byte, error) {
	out := make(map[model.TileCoord][]byte, len(coords))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, coord := range coords {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if data, ok := s.tiles[coord]; ok {
			out[coord] = data
		}
	}
	return out, nil
}
