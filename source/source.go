// Package source defines the TileSource abstraction: where tile payloads
// come from. Implementations cover the local filesystem, memory, HTTP XYZ
// endpoints, packed archives, and object stores (see the s3 and minio
// subpackages), plus composites for fallback and request deduplication.
package source

import (
	"context"
	"errors"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tilecraft/tilestream/model"
)

// ErrNotFound is returned when a tile does not exist in a source.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Metadata describes a tile source.
type Metadata struct {
	Name        string
	Description string
	Attribution string
	MinZoom     uint8
	MaxZoom     uint8
	Format      model.TileFormat
}

// TileSource serves tile payloads by coordinate.
//
// GetTile returns ErrNotFound for missing tiles; any other error is a real
// failure (I/O, network). Implementations must be safe for concurrent use.
type TileSource interface {
	Metadata() Metadata

	// GetTile returns the raw payload for the coordinate.
	GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error)

	// HasTile checks existence without fetching the payload.
	HasTile(ctx context.Context, coord model.TileCoord) (bool, error)

	// GetTiles fetches a batch. Missing tiles are omitted from the result;
	// the first real failure aborts the batch.
	GetTiles(ctx context.Context, coords []model.TileCoord) (map[model.TileCoord][]byte, error)
}

// batchFetchLimit caps per-batch fetch concurrency in CollectTiles.
const batchFetchLimit = 8

// CollectTiles implements GetTiles on top of GetTile with bounded
// concurrency. Shared by implementations without a native batch path.
func CollectTiles(ctx context.Context, src TileSource, coords []model.TileCoord) (map[model.TileCoord][]byte, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchFetchLimit)

	var mu sync.Mutex
	out := make(map[model.TileCoord][]byte, len(coords))

	for _, coord := range coords {
		g.Go(func() error {
			data, err := src.GetTile(ctx, coord)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out[coord] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// hasByGet implements HasTile for sources without a cheap existence check.
func hasByGet(ctx context.Context, src TileSource, coord model.TileCoord) (bool, error) {
	_, err := src.GetTile(ctx, coord)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
