package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilecraft/tilestream/model"
	"github.com/tilecraft/tilestream/source"
)

type fakeS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    []string
}

func newFakeS3Client() *fakeS3Client {
	return &fakeS3Client{objects: make(map[string][]byte)}
}

func (c *fakeS3Client) GetObject(_ context.Context, params *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := aws.ToString(params.Key)
	c.gets = append(c.gets, key)
	data, ok := c.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentRange:  aws.String(fmt.Sprintf("bytes 0-%d/%d", len(data)-1, len(data))),
	}, nil
}

func (c *fakeS3Client) HeadObject(_ context.Context, params *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func TestS3SourceGetTile(t *testing.T) {
	client := newFakeS3Client()
	client.objects["world/3/1/2.mvt"] = []byte("tile-payload")

	src := NewSource(client, "tiles", Options(WithPrefix("world/")))

	data, err := src.GetTile(context.Background(), model.TileCoord{Z: 3, X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte("tile-payload"), data)
}

func TestS3SourceGetTileMissing(t *testing.T) {
	src := NewSource(newFakeS3Client(), "tiles", Options())

	_, err := src.GetTile(context.Background(), model.TileCoord{Z: 0, X: 0, Y: 0})
	require.ErrorIs(t, err, source.ErrNotFound)
}

func TestS3SourceHasTile(t *testing.T) {
	client := newFakeS3Client()
	client.objects["5/9/11.png"] = []byte{0x89}

	src := NewSource(client, "tiles", Options(WithExtension("png")))

	ok, err := src.HasTile(context.Background(), model.TileCoord{Z: 5, X: 9, Y: 11})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = src.HasTile(context.Background(), model.TileCoord{Z: 5, X: 9, Y: 12})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3SourceGetTilesOmitsMissing(t *testing.T) {
	client := newFakeS3Client()
	client.objects["1/0/0.mvt"] = []byte("a")
	client.objects["1/1/1.mvt"] = []byte("b")

	src := NewSource(client, "tiles", Options())

	got, err := src.GetTiles(context.Background(), []model.TileCoord{
		{Z: 1, X: 0, Y: 0},
		{Z: 1, X: 0, Y: 1}, // missing
		{Z: 1, X: 1, Y: 1},
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("a"), got[model.TileCoord{Z: 1, X: 0, Y: 0}])
	assert.Equal(t, []byte("b"), got[model.TileCoord{Z: 1, X: 1, Y: 1}])
}

func TestS3SourceKeyLayout(t *testing.T) {
	client := newFakeS3Client()
	src := NewSource(client, "tiles", Options(WithPrefix("base/v2"), WithExtension("webp")))

	_, _ = src.GetTile(context.Background(), model.TileCoord{Z: 12, X: 654, Y: 1583})

	require.NotEmpty(t, client.gets)
	assert.Equal(t, "base/v2/12/654/1583.webp", client.gets[0])
}

func TestS3SourceMetadataDefaults(t *testing.T) {
	src := NewSource(newFakeS3Client(), "tiles", Options(WithExtension("png")))

	meta := src.Metadata()
	assert.Equal(t, "tiles", meta.Name)
	assert.Equal(t, model.FormatPNG, meta.Format)
}

func TestVersionStorePublishAndLatest(t *testing.T) {
	store := NewVersionStore(newFakeDDBClient(), "dataset-versions")
	ctx := context.Background()

	_, err := store.Latest(ctx, "roads")
	require.ErrorIs(t, err, ErrNoVersions)

	require.NoError(t, store.Publish(ctx, Commit{
		Dataset:      "roads",
		Seq:          1,
		Version:      "2026-08-01",
		ManifestPath: "roads/2026-08-01/dataset.manifest.json",
	}))
	require.NoError(t, store.Publish(ctx, Commit{
		Dataset: "roads",
		Seq:     2,
		Version: "2026-08-15",
	}))

	latest, err := store.Latest(ctx, "roads")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Seq)
	assert.Equal(t, model.Version("2026-08-15"), latest.Version)
}

func TestVersionStoreConcurrentCommit(t *testing.T) {
	store := NewVersionStore(newFakeDDBClient(), "dataset-versions")
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, Commit{Dataset: "roads", Seq: 1, Version: "a"}))

	err := store.Publish(ctx, Commit{Dataset: "roads", Seq: 1, Version: "b"})
	require.ErrorIs(t, err, ErrConcurrentCommit)

	// The loser must not have overwritten the winner.
	latest, err := store.Latest(ctx, "roads")
	require.NoError(t, err)
	assert.Equal(t, model.Version("a"), latest.Version)
}

func TestVersionStoreIsolatesDatasets(t *testing.T) {
	store := NewVersionStore(newFakeDDBClient(), "dataset-versions")
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, Commit{Dataset: "roads", Seq: 1, Version: "r1"}))
	require.NoError(t, store.Publish(ctx, Commit{Dataset: "rivers", Seq: 1, Version: "w1"}))

	latest, err := store.Latest(ctx, "rivers")
	require.NoError(t, err)
	assert.Equal(t, model.Version("w1"), latest.Version)
}

func TestVersionStoreAtAndRetract(t *testing.T) {
	store := NewVersionStore(newFakeDDBClient(), "dataset-versions")
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, Commit{Dataset: "roads", Seq: 1, Version: "a"}))
	require.NoError(t, store.Publish(ctx, Commit{Dataset: "roads", Seq: 2, Version: "b"}))

	c, err := store.At(ctx, "roads", 1)
	require.NoError(t, err)
	assert.Equal(t, model.Version("a"), c.Version)

	require.NoError(t, store.Retract(ctx, "roads", 2))

	latest, err := store.Latest(ctx, "roads")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest.Seq)
}

func TestVersionStoreRejectsEmptyVersion(t *testing.T) {
	store := NewVersionStore(newFakeDDBClient(), "dataset-versions")

	err := store.Publish(context.Background(), Commit{Dataset: "roads", Seq: 1})
	require.Error(t, err)
}
