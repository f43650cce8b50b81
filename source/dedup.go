package source

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/tilecraft/tilestream/model"
)

// DedupSource collapses concurrent fetches of the same tile into a single
// call to the wrapped source. Useful in front of slow backends (HTTP, object
// stores) when many sessions ask for the same tile at once.
type DedupSource struct {
	inner TileSource
	group singleflight.Group
}

// NewDedupSource wraps inner with per-tile request coalescing.
func NewDedupSource(inner TileSource) *DedupSource {
	return &DedupSource{inner: inner}
}

func (s *DedupSource) Metadata() Metadata { return s.inner.Metadata() }

func (s *DedupSource) GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error) {
	v, err, _ := s.group.Do(coord.String(), func() (any, error) {
		return s.inner.GetTile(ctx, coord)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *DedupSource) HasTile(ctx context.Context, coord model.TileCoord) (bool, error) {
	return s.inner.HasTile(ctx, coord)
}

func (s *DedupSource) GetTiles(ctx context.Context, coords []model.TileCoord) (map[model.TileCoord][]byte, error) {
	return CollectTiles(ctx, s, coords)
}
