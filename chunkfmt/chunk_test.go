package chunkfmt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoChunk() *Chunk {
	return &Chunk{Features: []Feature{
		{
			ID: "sfo",
			Properties: map[string]string{
				"name": "San Francisco",
				"time": "1700000000",
			},
			Geometry: Geometry{
				Kind:   GeomPoint,
				Points: []GeoPoint{{Lon: -122.4194, Lat: 37.7749}},
			},
		},
		{
			ID: "corridor-1",
			Properties: map[string]string{
				"start": "100",
				"end":   "200",
			},
			Geometry: Geometry{
				Kind: GeomLineString,
				Points: []GeoPoint{
					{Lon: -122.4, Lat: 37.8},
					{Lon: -121.9, Lat: 37.4},
					{Lon: -121.3, Lat: 37.0},
				},
			},
		},
		{
			Geometry: Geometry{
				Kind: GeomPolygon,
				Rings: [][]GeoPoint{{
					{Lon: 0, Lat: 0},
					{Lon: 1, Lat: 0},
					{Lon: 1, Lat: 1},
					{Lon: 0, Lat: 0},
				}},
			},
		},
	}}
}

func TestChunkRoundTrip(t *testing.T) {
	orig := demoChunk()
	data, err := EncodeChunk(orig, false)
	require.NoError(t, err)

	got, err := DecodeChunk(data)
	require.NoError(t, err)
	require.Len(t, got.Features, 3)

	assert.Equal(t, "sfo", got.Features[0].ID)
	assert.Equal(t, orig.Features[0].Properties, got.Features[0].Properties)
	assert.InDelta(t, -122.4194, got.Features[0].Geometry.Points[0].Lon, 1e-6)
	assert.InDelta(t, 37.7749, got.Features[0].Geometry.Points[0].Lat, 1e-6)

	// Instant from "time" property, in microseconds.
	assert.Equal(t, int64(1_700_000_000_000_000), got.Features[0].StartUS)
	assert.Equal(t, got.Features[0].StartUS, got.Features[0].EndUS)

	// Range from "start"/"end".
	assert.Equal(t, int64(100_000_000), got.Features[1].StartUS)
	assert.Equal(t, int64(200_000_000), got.Features[1].EndUS)

	// No time properties: forever.
	assert.Equal(t, int64(math.MinInt64), got.Features[2].StartUS)
	assert.Equal(t, int64(math.MaxInt64), got.Features[2].EndUS)
}

func TestChunkEncodingIsDeterministic(t *testing.T) {
	a, err := EncodeChunk(demoChunk(), false)
	require.NoError(t, err)
	b, err := EncodeChunk(demoChunk(), false)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunkCompressedRoundTrip(t *testing.T) {
	// Repetitive geometry so lz4 actually engages.
	c := &Chunk{}
	for i := 0; i < 64; i++ {
		c.Features = append(c.Features, Feature{
			Geometry: Geometry{Kind: GeomPoint, Points: []GeoPoint{{Lon: 10, Lat: 20}}},
		})
	}

	plain, err := EncodeChunk(c, false)
	require.NoError(t, err)
	packed, err := EncodeChunk(c, true)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain))

	h, err := DecodeChunkHeader(packed)
	require.NoError(t, err)
	assert.True(t, h.Compressed())

	got, err := DecodeChunk(packed)
	require.NoError(t, err)
	assert.Len(t, got.Features, 64)
}

func TestChunkHeaderBakedMetadata(t *testing.T) {
	data, err := EncodeChunk(demoChunk(), false)
	require.NoError(t, err)

	h, err := DecodeChunkHeader(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.FeatureCount)

	assert.Equal(t, QuantizeDeg(-122.4194), h.LonLatBoundsQ[0])
	assert.Equal(t, QuantizeDeg(1.0), h.LonLatBoundsQ[1])
	assert.Equal(t, QuantizeDeg(0.0), h.LonLatBoundsQ[2])
	assert.Equal(t, QuantizeDeg(37.8), h.LonLatBoundsQ[3])

	// The forever feature stretches the baked time bounds to the full range.
	assert.Equal(t, int64(math.MinInt64), h.TimeBoundsUS[0])
	assert.Equal(t, int64(math.MaxInt64), h.TimeBoundsUS[1])
}

func TestChunkRejectsBadMagic(t *testing.T) {
	data, err := EncodeChunk(demoChunk(), false)
	require.NoError(t, err)
	data[0] = 'X'

	_, err = DecodeChunk(data)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestChunkRejectsUnknownVersion(t *testing.T) {
	data, err := EncodeChunk(demoChunk(), false)
	require.NoError(t, err)
	data[4] = 99

	var unsupported *UnsupportedVersionError
	_, err = DecodeChunk(data)
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, uint16(99), unsupported.Found)
}

func TestChunkRejectsCorruptBody(t *testing.T) {
	data, err := EncodeChunk(demoChunk(), false)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF

	_, err = DecodeChunk(data)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestChunkRejectsTruncated(t *testing.T) {
	data, err := EncodeChunk(demoChunk(), false)
	require.NoError(t, err)

	_, err = DecodeChunk(data[:10])
	assert.Error(t, err)
}

func TestEncodeRejectsMalformedPoint(t *testing.T) {
	c := &Chunk{Features: []Feature{{
		Geometry: Geometry{Kind: GeomPoint, Points: []GeoPoint{{}, {}}},
	}}}

	var geomErr *GeometryError
	_, err := EncodeChunk(c, false)
	assert.ErrorAs(t, err, &geomErr)
}

func TestEncodeRejectsUnknownGeometryKind(t *testing.T) {
	c := &Chunk{Features: []Feature{{Geometry: Geometry{Kind: 42}}}}
	var geomErr *GeometryError
	_, err := EncodeChunk(c, false)
	assert.ErrorAs(t, err, &geomErr)
}

func TestMultiPolygonRoundTrip(t *testing.T) {
	c := &Chunk{Features: []Feature{{
		ID: "islands",
		Geometry: Geometry{
			Kind: GeomMultiPolygon,
			Polygons: [][][]GeoPoint{
				{{{Lon: 0, Lat: 0}, {Lon: 1, Lat: 0}, {Lon: 0, Lat: 1}}},
				{{{Lon: 5, Lat: 5}, {Lon: 6, Lat: 5}, {Lon: 5, Lat: 6}}},
			},
		},
	}}}

	data, err := EncodeChunk(c, false)
	require.NoError(t, err)
	got, err := DecodeChunk(data)
	require.NoError(t, err)

	require.Len(t, got.Features, 1)
	assert.Len(t, got.Features[0].Geometry.Polygons, 2)
}

func TestEmptyChunk(t *testing.T) {
	data, err := EncodeChunk(&Chunk{}, false)
	require.NoError(t, err)

	h, err := DecodeChunkHeader(data)
	require.NoError(t, err)
	assert.Equal(t, [4]int32{0, 0, 0, 0}, h.LonLatBoundsQ)

	got, err := DecodeChunk(data)
	require.NoError(t, err)
	assert.Empty(t, got.Features)
}

func TestQuantizationClampsExtremes(t *testing.T) {
	assert.Equal(t, int32(math.MaxInt32), QuantizeDeg(1e12))
	assert.Equal(t, int32(math.MinInt32), QuantizeDeg(-1e12))
	assert.InDelta(t, 12.345678, DequantizeDeg(QuantizeDeg(12.345678)), 1e-6)
}
