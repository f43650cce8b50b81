// Package s3 provides an S3-backed tile source and a DynamoDB-backed
// dataset version store.
//
// # Usage
//
//	src, err := s3.New(ctx, "my-tiles",
//	    s3.WithPrefix("world/"),
//	    s3.WithRegion("us-east-1"),
//	    s3.WithExtension("mvt"),
//	)
//
// Tiles are stored under "<prefix><z>/<x>/<y>.<ext>".
package s3

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tilecraft/tilestream/model"
	"github.com/tilecraft/tilestream/source"
)

// Client is the subset of the S3 API the source uses.
type Client interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Source implements source.TileSource for S3.
type Source struct {
	client     Client
	downloader *manager.Downloader
	bucket     string
	prefix     string
	ext        string
	meta       source.Metadata
}

// Option configures New.
type Option func(*options)

type options struct {
	prefix string
	region string
	ext    string
	name   string
	format model.TileFormat
}

// WithPrefix sets the key prefix prepended to all tiles (e.g. "world/").
func WithPrefix(prefix string) Option { return func(o *options) { o.prefix = prefix } }

// WithRegion overrides the AWS region.
func WithRegion(region string) Option { return func(o *options) { o.region = region } }

// WithExtension sets the tile file extension (default "mvt").
func WithExtension(ext string) Option { return func(o *options) { o.ext = ext } }

// WithName sets the source name reported in metadata (default the bucket).
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithFormat overrides the tile format; by default it is derived from the
// extension.
func WithFormat(f model.TileFormat) Option { return func(o *options) { o.format = f } }

// New creates an S3 tile source using the default AWS credential chain.
func New(ctx context.Context, bucket string, opts ...Option) (*Source, error) {
	o := options{ext: "mvt"}
	for _, opt := range opts {
		opt(&o)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	return NewSource(s3.NewFromConfig(cfg), bucket, o), nil
}

// NewSource creates a source from an existing client. Prefer New unless you
// need custom client configuration.
func NewSource(client Client, bucket string, o options) *Source {
	if o.ext == "" {
		o.ext = "mvt"
	}
	name := o.name
	if name == "" {
		name = bucket
	}
	format := o.format
	if format == model.FormatUnknown {
		format = model.FormatFromExtension(o.ext)
	}
	return &Source{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     o.prefix,
		ext:        o.ext,
		meta: source.Metadata{
			Name:    name,
			MaxZoom: 22,
			Format:  format,
		},
	}
}

// Options assembles an options value for NewSource.
func Options(opts ...Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (s *Source) key(coord model.TileCoord) string {
	return path.Join(s.prefix, fmt.Sprintf("%d/%d/%d.%s", coord.Z, coord.X, coord.Y, s.ext))
}

func (s *Source) Metadata() source.Metadata { return s.meta }

func (s *Source) GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(coord)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, source.ErrNotFound
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Source) HasTile(ctx context.Context, coord model.TileCoord) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(coord)),
	})
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

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
