package model

import (
	"cmp"
	"fmt"
)

// DatasetID identifies a dataset (a package of tiles/chunks).
type DatasetID string

// Version is an opaque dataset version identifier, typically a content hash.
// The empty string means "no version pinned".
type Version string

// EntityID is a dense identifier for an indexed entity.
type EntityID uint32

// ResourceKey uniquely identifies a cacheable resource within a dataset.
// Resource is a tile coordinate ("z/x/y") or a chunk id; Variant separates
// alternative encodings of the same resource (e.g. compression level).
type ResourceKey struct {
	Dataset  DatasetID
	Resource string
	Variant  string
}

// Compare returns a total order over keys: (Dataset, Resource, Variant).
func (k ResourceKey) Compare(o ResourceKey) int {
	if c := cmp.Compare(k.Dataset, o.Dataset); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Resource, o.Resource); c != 0 {
		return c
	}
	return cmp.Compare(k.Variant, o.Variant)
}

// String returns a stable textual form of the key.
func (k ResourceKey) String() string {
	if k.Variant == "" {
		return fmt.Sprintf("%s/%s", k.Dataset, k.Resource)
	}
	return fmt.Sprintf("%s/%s@%s", k.Dataset, k.Resource, k.Variant)
}

// TileFormat identifies the encoding of a tile payload.
type TileFormat uint8

const (
	FormatUnknown TileFormat = iota
	FormatMVT
	FormatGeoJSON
	FormatPNG
	FormatJPEG
	FormatWebP
	FormatHeightF32
	FormatHeightI16
	FormatQuantizedMesh
)

// FormatFromExtension maps a file extension to a TileFormat.
func FormatFromExtension(ext string) TileFormat {
	switch ext {
	case "mvt", "pbf":
		return FormatMVT
	case "json", "geojson":
		return FormatGeoJSON
	case "png":
		return FormatPNG
	case "jpg", "jpeg":
		return FormatJPEG
	case "webp":
		return FormatWebP
	case "bin", "raw", "f32":
		return FormatHeightF32
	case "terrain":
		return FormatQuantizedMesh
	default:
		return FormatUnknown
	}
}

// ContentType returns the MIME type for the format.
func (f TileFormat) ContentType() string {
	switch f {
	case FormatMVT:
		return "application/vnd.mapbox-vector-tile"
	case FormatGeoJSON:
		return "application/geo+json"
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatQuantizedMesh:
		return "application/vnd.quantized-mesh"
	default:
		return "application/octet-stream"
	}
}

// String returns the canonical short name of the format.
func (f TileFormat) String() string {
	switch f {
	case FormatMVT:
		return "mvt"
	case FormatGeoJSON:
		return "geojson"
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatWebP:
		return "webp"
	case FormatHeightF32:
		return "height-f32"
	case FormatHeightI16:
		return "height-i16"
	case FormatQuantizedMesh:
		return "quantized-mesh"
	default:
		return "unknown"
	}
}
