package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tilecraft/tilestream/model"
)

// FilesystemSource serves tiles from a z/x/y.ext directory tree.
type FilesystemSource struct {
	meta Metadata
	root string
	ext  string
}

// NewFilesystemSource creates a source rooted at dir, serving files named
// z/x/y.ext. The format is derived from the extension unless overridden via
// WithMetadata.
func NewFilesystemSource(dir, name, ext string) *FilesystemSource {
	return &FilesystemSource{
		meta: Metadata{
			Name:    name,
			MaxZoom: 22,
			Format:  model.FormatFromExtension(ext),
		},
		root: dir,
		ext:  ext,
	}
}

// WithMetadata replaces the source metadata.
func (s *FilesystemSource) WithMetadata(meta Metadata) *FilesystemSource {
	s.meta = meta
	return s
}

func (s *FilesystemSource) Metadata() Metadata { return s.meta }

func (s *FilesystemSource) path(coord model.TileCoord) string {
	return filepath.Join(s.root, fmt.Sprintf("%d", coord.Z), fmt.Sprintf("%d", coord.X),
		fmt.Sprintf("%d.%s", coord.Y, s.ext))
}

func (s *FilesystemSource) GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// os.ErrNotExist from ReadFile is already ErrNotFound.
	return os.ReadFile(s.path(coord))
}

func (s *FilesystemSource) HasTile(ctx context.Context, coord model.TileCoord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := os.Stat(s.path(coord)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FilesystemSource) GetTiles(ctx context.Context, coords []model.TileCoord) (map[model.TileCoord][]byte, error) {
	return CollectTiles(ctx, s, coords)
}
