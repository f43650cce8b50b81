package chunkfmt

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

var gridMagic = [4]byte{'T', 'S', 'G', 'R'}

const (
	gridVersion    = 1
	gridHeaderSize = 4 + 2 + 2 + 4 + 4 + 4 + 4
)

// Grid is a rectangular float32 sample grid, the raster tile payload.
// Samples are row-major: rows run north to south, columns west to east.
// Samples equal to NoData (bitwise, so NaN sentinels work) carry no value.
type Grid struct {
	Width   uint32
	Height  uint32
	NoData  float32
	Samples []float32
}

// At returns the sample at column x, row y (row 0 is the northernmost).
func (g *Grid) At(x, y uint32) float32 {
	return g.Samples[int(y)*int(g.Width)+int(x)]
}

// IsNoData reports whether the sample is the no-data sentinel. Comparison is
// on the bit pattern so a NaN sentinel matches itself.
func (g *Grid) IsNoData(v float32) bool {
	return math.Float32bits(v) == math.Float32bits(g.NoData)
}

// Validate checks that the sample slice matches the declared dimensions.
func (g *Grid) Validate() error {
	if want := int(g.Width) * int(g.Height); len(g.Samples) != want {
		return fmt.Errorf("%w: %d samples for %dx%d grid", ErrInvalidData, len(g.Samples), g.Width, g.Height)
	}
	return nil
}

// EncodeGrid serializes the grid with a CRC32 over the sample bytes.
func EncodeGrid(g *Grid) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(g.Samples)*4)
	for _, v := range g.Samples {
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(v))
	}

	out := make([]byte, 0, gridHeaderSize+len(body))
	out = append(out, gridMagic[:]...)
	out = binary.LittleEndian.AppendUint16(out, gridVersion)
	out = binary.LittleEndian.AppendUint16(out, 0) // flags, reserved
	out = binary.LittleEndian.AppendUint32(out, g.Width)
	out = binary.LittleEndian.AppendUint32(out, g.Height)
	out = binary.LittleEndian.AppendUint32(out, math.Float32bits(g.NoData))
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
	return append(out, body...), nil
}

// DecodeGrid deserializes a grid, verifying magic, version, dimensions, and
// checksum.
func DecodeGrid(data []byte) (*Grid, error) {
	if len(data) < gridHeaderSize {
		return nil, ErrTruncated
	}
	if [4]byte(data[:4]) != gridMagic {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != gridVersion {
		return nil, &UnsupportedVersionError{Found: v}
	}

	g := &Grid{
		Width:  binary.LittleEndian.Uint32(data[8:12]),
		Height: binary.LittleEndian.Uint32(data[12:16]),
		NoData: math.Float32frombits(binary.LittleEndian.Uint32(data[16:20])),
	}
	wantCRC := binary.LittleEndian.Uint32(data[20:24])

	body := data[gridHeaderSize:]
	want := int(g.Width) * int(g.Height)
	if len(body) != want*4 {
		return nil, fmt.Errorf("%w: %d body bytes for %dx%d grid", ErrInvalidData, len(body), g.Width, g.Height)
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, ErrChecksum
	}

	g.Samples = make([]float32, want)
	for i := range g.Samples {
		g.Samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return g, nil
}
