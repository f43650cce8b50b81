package source

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tilecraft/tilestream/model"
)

// FallbackSource tries child sources in their configured order and serves
// the first hit. A child error is logged and the next child consulted;
// ErrNotFound surfaces only when every child misses.
type FallbackSource struct {
	meta     Metadata
	children []TileSource
	logger   *slog.Logger
}

// NewFallbackSource composes children in fixed priority order. Metadata is
// inherited from the first child. A nil logger discards child errors.
func NewFallbackSource(name string, children []TileSource, logger *slog.Logger) *FallbackSource {
	meta := Metadata{Name: name, MaxZoom: 22}
	if len(children) > 0 {
		meta = children[0].Metadata()
		meta.Name = name
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FallbackSource{meta: meta, children: children, logger: logger}
}

func (s *FallbackSource) Metadata() Metadata { return s.meta }

func (s *FallbackSource) GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error) {
	for _, child := range s.children {
		data, err := child.GetTile(ctx, coord)
		switch {
		case err == nil:
			return data, nil
		case errors.Is(err, ErrNotFound):
			continue
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			s.logger.Debug("fallback child failed",
				slog.String("source", child.Metadata().Name),
				slog.String("tile", coord.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil, ErrNotFound
}

func (s *FallbackSource) HasTile(ctx context.Context, coord model.TileCoord) (bool, error) {
	return hasByGet(ctx, s, coord)
}

func (s *FallbackSource) GetTiles(ctx context.Context, coords []model.TileCoord) (map[model.TileCoord][]byte, error) {
	return CollectTiles(ctx, s, coords)
}
