package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tilecraft/tilestream/model"
)

// HTTPStatusError reports a non-success response from an HTTP tile
// endpoint.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("source: %s: unexpected status %d", e.URL, e.StatusCode)
}

// HTTPSource serves tiles from an XYZ URL template, e.g.
// "https://tiles.example.com/{z}/{x}/{y}.png".
type HTTPSource struct {
	meta     Metadata
	template string
	client   *http.Client
}

// NewHTTPSource creates a source for the URL template. A nil client selects
// http.DefaultClient.
func NewHTTPSource(template, name string, format model.TileFormat, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		meta: Metadata{
			Name:    name,
			MaxZoom: 22,
			Format:  format,
		},
		template: template,
		client:   client,
	}
}

// WithMetadata replaces the source metadata.
func (s *HTTPSource) WithMetadata(meta Metadata) *HTTPSource {
	s.meta = meta
	return s
}

func (s *HTTPSource) Metadata() Metadata { return s.meta }

func (s *HTTPSource) tileURL(coord model.TileCoord) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(int(coord.Z)),
		"{x}", strconv.FormatUint(uint64(coord.X), 10),
		"{y}", strconv.FormatUint(uint64(coord.Y), 10),
	)
	return r.Replace(s.template)
}

func (s *HTTPSource) GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error) {
	url := s.tileURL(coord)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (s *HTTPSource) HasTile(ctx context.Context, coord model.TileCoord) (bool, error) {
	url := s.tileURL(coord)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return true, nil
}

func (s *HTTPSource) GetTiles(ctx context.Context, coords []model.TileCoord) (map[model.TileCoord][]byte, error) {
	return CollectTiles(ctx, s, coords)
}
