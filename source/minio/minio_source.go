// Package minio provides a tile source backed by MinIO or any
// S3-compatible object store reachable through the MinIO client.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/tilecraft/tilestream/model"
	"github.com/tilecraft/tilestream/source"
)

// Source implements source.TileSource over a MinIO bucket. Tiles are
// stored under "<prefix><z>/<x>/<y>.<ext>".
type Source struct {
	client *minio.Client
	bucket string
	prefix string
	ext    string
	meta   source.Metadata
}

// NewSource creates a MinIO tile source. prefix is prepended to all keys
// (e.g. "world/"); ext defaults to "mvt".
func NewSource(client *minio.Client, bucket, prefix, ext string) *Source {
	if ext == "" {
		ext = "mvt"
	}
	return &Source{
		client: client,
		bucket: bucket,
		prefix: prefix,
		ext:    ext,
		meta: source.Metadata{
			Name:    bucket,
			MaxZoom: 22,
			Format:  model.FormatFromExtension(ext),
		},
	}
}

// WithMetadata replaces the source metadata.
func (s *Source) WithMetadata(meta source.Metadata) *Source {
	s.meta = meta
	return s
}

func (s *Source) key(coord model.TileCoord) string {
	return path.Join(s.prefix, fmt.Sprintf("%d/%d/%d.%s", coord.Z, coord.X, coord.Y, s.ext))
}

func (s *Source) Metadata() source.Metadata { return s.meta }

func (s *Source) GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(coord), minio.GetObjectOptions{})
	if err != nil {
		return nil, translateErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateErr(err)
	}
	return data, nil
}

func (s *Source) HasTile(ctx context.Context, coord model.TileCoord) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(coord), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Source) GetTiles(ctx context.Context, coords []model.TileCoord) (map[model.TileCoord][]byte, error) {
	return source.CollectTiles(ctx, s, coords)
}

// PutTile uploads a tile payload. Used by publishing tools; the streaming
// path never writes.
func (s *Source) PutTile(ctx context.Context, coord model.TileCoord, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(coord),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func translateErr(err error) error {
	if isNotFound(err) {
		return source.ErrNotFound
	}
	return err
}
