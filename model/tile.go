package model

import (
	"fmt"
	"math"
)

// TileCoord addresses a tile in the ZXY scheme (web mercator tiling).
type TileCoord struct {
	Z uint8
	X uint32
	Y uint32
}

// NewTileCoord returns the coordinate (z, x, y).
func NewTileCoord(z uint8, x, y uint32) TileCoord {
	return TileCoord{Z: z, X: x, Y: y}
}

// String returns the "z/x/y" form used in resource keys.
func (c TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// ParseTileCoord parses the "z/x/y" form produced by String.
func ParseTileCoord(s string) (TileCoord, error) {
	var z uint8
	var x, y uint32
	if _, err := fmt.Sscanf(s, "%d/%d/%d", &z, &x, &y); err != nil {
		return TileCoord{}, fmt.Errorf("invalid tile coordinate %q: %w", s, err)
	}
	return TileCoord{Z: z, X: x, Y: y}, nil
}

// Compare orders coordinates by (z, x, y).
func (c TileCoord) Compare(o TileCoord) int {
	switch {
	case c.Z != o.Z:
		if c.Z < o.Z {
			return -1
		}
		return 1
	case c.X != o.X:
		if c.X < o.X {
			return -1
		}
		return 1
	case c.Y != o.Y:
		if c.Y < o.Y {
			return -1
		}
		return 1
	}
	return 0
}

// Key returns the ResourceKey addressing this tile within a dataset.
func (c TileCoord) Key(dataset DatasetID, variant string) ResourceKey {
	return ResourceKey{Dataset: dataset, Resource: c.String(), Variant: variant}
}

// TilesAtZoom returns the number of tiles at zoom level z (2^z * 2^z).
func TilesAtZoom(z uint8) uint64 {
	return 1 << (2 * uint64(z))
}

// BoundsWGS84 returns the geographic bounds of the tile as
// (lonMin, latMin, lonMax, latMax) in degrees.
func (c TileCoord) BoundsWGS84() (lonMin, latMin, lonMax, latMax float64) {
	n := float64(uint64(1) << c.Z)
	lonMin = float64(c.X)/n*360.0 - 180.0
	lonMax = float64(c.X+1)/n*360.0 - 180.0

	// Web mercator Y increases southwards.
	latMax = tileYToLat(c.Y, c.Z)
	latMin = tileYToLat(c.Y+1, c.Z)
	return lonMin, latMin, lonMax, latMax
}

// Center returns the geographic center of the tile in degrees.
func (c TileCoord) Center() (lon, lat float64) {
	lonMin, latMin, lonMax, latMax := c.BoundsWGS84()
	return (lonMin + lonMax) / 2, (latMin + latMax) / 2
}

func tileYToLat(y uint32, z uint8) float64 {
	n := math.Pi - 2.0*math.Pi*float64(y)/float64(uint64(1)<<z)
	return math.Atan(0.5*(math.Exp(n)-math.Exp(-n))) * 180.0 / math.Pi
}
