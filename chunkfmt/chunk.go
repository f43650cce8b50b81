// Package chunkfmt implements the binary formats resources travel in: vector
// chunks (quantized feature geometry with properties and time spans) and
// float32 sample grids.
//
// Both formats carry a magic/version header, baked metadata for pruning
// without a full decode, and a CRC32 over the uncompressed body. Encoding is
// deterministic: the same logical content always produces the same bytes.
package chunkfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"slices"
	"strconv"

	"github.com/pierrec/lz4/v4"
)

var chunkMagic = [4]byte{'T', 'S', 'V', 'C'}

const (
	// ChunkVersionV1 lacks the baked metadata block.
	ChunkVersionV1 = 1
	// ChunkVersionV2 adds quantized bounds, time bounds, and the body CRC.
	ChunkVersionV2 = 2

	chunkVersionLatest = ChunkVersionV2

	flagLZ4 uint16 = 1 << 0

	// degScale quantizes degrees to 1e-6 (~0.11m at the equator).
	degScale = 1_000_000.0
)

var (
	ErrInvalidMagic = errors.New("chunkfmt: invalid magic")
	ErrChecksum     = errors.New("chunkfmt: body checksum mismatch")
	ErrTruncated    = errors.New("chunkfmt: unexpected end of data")
	ErrInvalidData  = errors.New("chunkfmt: malformed data")
)

// UnsupportedVersionError reports a chunk written by an unknown format
// version.
type UnsupportedVersionError struct {
	Found uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("chunkfmt: unsupported version %d", e.Found)
}

// GeometryKind tags the shape of a feature's geometry.
type GeometryKind uint8

const (
	GeomPoint GeometryKind = iota + 1
	GeomMultiPoint
	GeomLineString
	GeomMultiLineString
	GeomPolygon
	GeomMultiPolygon
)

// GeoPoint is a WGS84 position in degrees.
type GeoPoint struct {
	Lon float64
	Lat float64
}

// Geometry holds one feature's shape. The populated field depends on Kind:
// Points for Point/MultiPoint/LineString, Rings for MultiLineString/Polygon,
// Polygons for MultiPolygon.
type Geometry struct {
	Kind     GeometryKind
	Points   []GeoPoint
	Rings    [][]GeoPoint
	Polygons [][][]GeoPoint
}

// Feature is one vector feature: optional id, inclusive time span in
// microseconds, string properties, and geometry.
type Feature struct {
	ID         string
	StartUS    int64
	EndUS      int64
	Properties map[string]string
	Geometry   Geometry
}

// Chunk is a decoded vector chunk.
type Chunk struct {
	Features []Feature
}

// ChunkHeader is the decoded fixed-size prefix. Loaders use it to prune
// chunks by bounds or time without decoding the body.
type ChunkHeader struct {
	Version      uint16
	Flags        uint16
	FeatureCount uint32
	// [minLonQ, maxLonQ, minLatQ, maxLatQ] at 1e-6 degrees.
	LonLatBoundsQ [4]int32
	// [minStartUS, maxEndUS].
	TimeBoundsUS [2]int64
	BodyCRC      uint32
}

// Compressed reports whether the body is lz4 block compressed.
func (h *ChunkHeader) Compressed() bool { return h.Flags&flagLZ4 != 0 }

// QuantizeDeg maps degrees to the chunk quantization grid.
func QuantizeDeg(v float64) int32 {
	q := math.Round(v * degScale)
	if q > math.MaxInt32 {
		return math.MaxInt32
	}
	if q < math.MinInt32 {
		return math.MinInt32
	}
	return int32(q)
}

// DequantizeDeg maps a quantized coordinate back to degrees.
func DequantizeDeg(q int32) float64 { return float64(q) / degScale }

// InferTimeSpanUS derives a feature's time span from its properties, in
// microseconds: "time" or "timestamp" (seconds) yields an instant,
// "start"+"end" (seconds) a range, anything else the full range.
func InferTimeSpanUS(props map[string]string) (startUS, endUS int64) {
	num := func(key string) (float64, bool) {
		s, ok := props[key]
		if !ok {
			return 0, false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	toUS := func(sec float64) int64 {
		us := math.Round(sec * 1e6)
		if us >= math.MaxInt64 {
			return math.MaxInt64
		}
		if us <= math.MinInt64 {
			return math.MinInt64
		}
		return int64(us)
	}

	if t, ok := num("time"); ok {
		us := toUS(t)
		return us, us
	}
	if t, ok := num("timestamp"); ok {
		us := toUS(t)
		return us, us
	}
	s, okS := num("start")
	e, okE := num("end")
	if okS && okE {
		return toUS(s), toUS(e)
	}
	return math.MinInt64, math.MaxInt64
}

// EncodeChunk serializes the chunk. With compress set, the body is lz4 block
// compressed when that actually shrinks it; the CRC always covers the
// uncompressed body.
func EncodeChunk(c *Chunk, compress bool) ([]byte, error) {
	body, header, err := encodeBody(c)
	if err != nil {
		return nil, err
	}
	header.BodyCRC = crc32.ChecksumIEEE(body)

	flags := uint16(0)
	stored := body
	if compress && len(body) > 0 {
		dst := make([]byte, lz4.CompressBlockBound(len(body)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("chunkfmt: lz4 compress: %w", err)
		}
		if n > 0 && n < len(body) {
			flags |= flagLZ4
			stored = dst[:n]
		}
	}

	out := make([]byte, 0, chunkHeaderSize+8+len(stored))
	out = append(out, chunkMagic[:]...)
	out = binary.LittleEndian.AppendUint16(out, chunkVersionLatest)
	out = binary.LittleEndian.AppendUint16(out, flags)
	out = binary.LittleEndian.AppendUint32(out, header.FeatureCount)
	for _, q := range header.LonLatBoundsQ {
		out = binary.LittleEndian.AppendUint32(out, uint32(q))
	}
	for _, t := range header.TimeBoundsUS {
		out = binary.LittleEndian.AppendUint64(out, uint64(t))
	}
	out = binary.LittleEndian.AppendUint32(out, header.BodyCRC)
	// Uncompressed body length, needed to size the lz4 output buffer.
	out = binary.LittleEndian.AppendUint64(out, uint64(len(body)))
	out = append(out, stored...)
	return out, nil
}

// chunkHeaderSize is the fixed prefix through BodyCRC for the current
// version: magic, version, flags, count, bounds, time bounds, crc.
const chunkHeaderSize = 4 + 2 + 2 + 4 + 16 + 16 + 4

// DecodeChunkHeader reads only the fixed prefix.
func DecodeChunkHeader(data []byte) (*ChunkHeader, error) {
	if len(data) < 8 {
		return nil, ErrTruncated
	}
	if [4]byte(data[:4]) != chunkMagic {
		return nil, ErrInvalidMagic
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != ChunkVersionV1 && version != ChunkVersionV2 {
		return nil, &UnsupportedVersionError{Found: version}
	}

	h := &ChunkHeader{
		Version: version,
		Flags:   binary.LittleEndian.Uint16(data[6:8]),
	}
	if len(data) < 12 {
		return nil, ErrTruncated
	}
	h.FeatureCount = binary.LittleEndian.Uint32(data[8:12])

	if version == ChunkVersionV1 {
		// v1 has no baked metadata: report the full ranges.
		h.TimeBoundsUS = [2]int64{math.MinInt64, math.MaxInt64}
		return h, nil
	}

	if len(data) < chunkHeaderSize {
		return nil, ErrTruncated
	}
	off := 12
	for i := range h.LonLatBoundsQ {
		h.LonLatBoundsQ[i] = int32(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	for i := range h.TimeBoundsUS {
		h.TimeBoundsUS[i] = int64(binary.LittleEndian.Uint64(data[off:]))
		off += 8
	}
	h.BodyCRC = binary.LittleEndian.Uint32(data[off:])
	return h, nil
}

// DecodeChunk deserializes a chunk, verifying version, checksum, and
// structure.
func DecodeChunk(data []byte) (*Chunk, error) {
	h, err := DecodeChunkHeader(data)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch h.Version {
	case ChunkVersionV1:
		body = data[12:]
	case ChunkVersionV2:
		rest := data[chunkHeaderSize:]
		if len(rest) < 8 {
			return nil, ErrTruncated
		}
		rawLen := binary.LittleEndian.Uint64(rest[:8])
		stored := rest[8:]
		if h.Compressed() {
			body = make([]byte, rawLen)
			n, err := lz4.UncompressBlock(stored, body)
			if err != nil {
				return nil, fmt.Errorf("chunkfmt: lz4 decompress: %w", err)
			}
			if uint64(n) != rawLen {
				return nil, fmt.Errorf("%w: body length %d, expected %d", ErrInvalidData, n, rawLen)
			}
		} else {
			if uint64(len(stored)) != rawLen {
				return nil, fmt.Errorf("%w: body length %d, expected %d", ErrInvalidData, len(stored), rawLen)
			}
			body = stored
		}
		if crc32.ChecksumIEEE(body) != h.BodyCRC {
			return nil, ErrChecksum
		}
	}

	return decodeBody(body, int(h.FeatureCount))
}

func encodeBody(c *Chunk) ([]byte, *ChunkHeader, error) {
	h := &ChunkHeader{
		Version:      chunkVersionLatest,
		FeatureCount: uint32(len(c.Features)),
	}

	minLonQ, maxLonQ := int32(math.MaxInt32), int32(math.MinInt32)
	minLatQ, maxLatQ := int32(math.MaxInt32), int32(math.MinInt32)
	minStartUS, maxEndUS := int64(math.MaxInt64), int64(math.MinInt64)

	var out []byte
	for i := range c.Features {
		f := &c.Features[i]

		geomBytes, err := encodeGeometry(&f.Geometry)
		if err != nil {
			return nil, nil, fmt.Errorf("feature %d: %w", i, err)
		}
		walkPoints(&f.Geometry, func(p GeoPoint) {
			lonQ, latQ := QuantizeDeg(p.Lon), QuantizeDeg(p.Lat)
			minLonQ, maxLonQ = min(minLonQ, lonQ), max(maxLonQ, lonQ)
			minLatQ, maxLatQ = min(minLatQ, latQ), max(maxLatQ, latQ)
		})

		startUS, endUS := f.StartUS, f.EndUS
		if startUS == 0 && endUS == 0 {
			startUS, endUS = InferTimeSpanUS(f.Properties)
		}
		minStartUS = min(minStartUS, startUS)
		maxEndUS = max(maxEndUS, endUS)

		out = append(out, byte(f.Geometry.Kind))
		out = appendString(out, f.ID)
		out = binary.LittleEndian.AppendUint64(out, uint64(startUS))
		out = binary.LittleEndian.AppendUint64(out, uint64(endUS))
		out = appendProperties(out, f.Properties)
		out = binary.AppendUvarint(out, uint64(len(geomBytes)))
		out = append(out, geomBytes...)
	}

	if minLonQ == math.MaxInt32 {
		minLonQ, maxLonQ, minLatQ, maxLatQ = 0, 0, 0, 0
	}
	if minStartUS == math.MaxInt64 {
		minStartUS, maxEndUS = math.MinInt64, math.MaxInt64
	}
	h.LonLatBoundsQ = [4]int32{minLonQ, maxLonQ, minLatQ, maxLatQ}
	h.TimeBoundsUS = [2]int64{minStartUS, maxEndUS}
	return out, h, nil
}

func decodeBody(body []byte, count int) (*Chunk, error) {
	r := &reader{data: body}
	c := &Chunk{Features: make([]Feature, 0, count)}
	for i := 0; i < count; i++ {
		tag, err := r.byte()
		if err != nil {
			return nil, err
		}

		id, err := r.str()
		if err != nil {
			return nil, err
		}
		startUS, err := r.u64()
		if err != nil {
			return nil, err
		}
		endUS, err := r.u64()
		if err != nil {
			return nil, err
		}
		props, err := readProperties(r)
		if err != nil {
			return nil, err
		}
		geomLen, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		geomBytes, err := r.bytes(int(geomLen))
		if err != nil {
			return nil, err
		}
		geom, err := decodeGeometry(GeometryKind(tag), geomBytes)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		c.Features = append(c.Features, Feature{
			ID:         id,
			StartUS:    int64(startUS),
			EndUS:      int64(endUS),
			Properties: props,
			Geometry:   *geom,
		})
	}
	if r.pos != len(r.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidData, len(r.data)-r.pos)
	}
	return c, nil
}

// appendProperties writes the property map as length-prefixed key/value
// pairs in ascending key order, keeping the encoding canonical.
func appendProperties(out []byte, props map[string]string) []byte {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out = binary.AppendUvarint(out, uint64(len(keys)))
	for _, k := range keys {
		out = appendString(out, k)
		out = appendString(out, props[k])
	}
	return out
}

func readProperties(r *reader) (map[string]string, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	props := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := r.str()
		if err != nil {
			return nil, err
		}
		v, err := r.str()
		if err != nil {
			return nil, err
		}
		props[k] = v
	}
	return props, nil
}

func appendString(out []byte, s string) []byte {
	out = binary.AppendUvarint(out, uint64(len(s)))
	return append(out, s...)
}
