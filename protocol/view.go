package protocol

import (
	"math"

	"github.com/tilecraft/tilestream/model"
)

// ViewID identifies a view-state snapshot. Clients increase it
// monotonically so the server can order updates and cancel stale views.
type ViewID uint64

// Default camera parameters applied when the client omits them.
const (
	DefaultFOVDeg  = 60.0
	DefaultMaxZoom = 14
)

// ViewState is the camera snapshot a client sends to drive tile
// prioritization.
type ViewState struct {
	ViewID ViewID `json:"view_id"`

	// Camera position in WGS84.
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	AltitudeM float64 `json:"altitude_m"`

	YawDeg   float64 `json:"yaw_deg,omitempty"`
	PitchDeg float64 `json:"pitch_deg,omitempty"`

	ViewportWidth  uint32 `json:"viewport_width"`
	ViewportHeight uint32 `json:"viewport_height"`

	FOVDeg  float64 `json:"fov_deg,omitempty"`
	MaxZoom uint8   `json:"max_zoom,omitempty"`

	// Sources the client wants tiles from. Empty means all subscribed
	// sources.
	Layers []string `json:"layers,omitempty"`
}

// withDefaults fills omitted optional fields.
func (v ViewState) withDefaults() ViewState {
	if v.FOVDeg == 0 {
		v.FOVDeg = DefaultFOVDeg
	}
	if v.MaxZoom == 0 {
		v.MaxZoom = DefaultMaxZoom
	}
	return v
}

// EstimatedZoom estimates the appropriate zoom level for the camera
// altitude: z=0 at ~20,000 km, one level per halving.
func (v ViewState) EstimatedZoom() uint8 {
	v = v.withDefaults()
	z := int32(math.Floor(math.Log2(20_000_000.0 / math.Max(v.AltitudeM, 1.0))))
	if z < 0 {
		z = 0
	}
	if z > int32(v.MaxZoom) {
		z = int32(v.MaxZoom)
	}
	return uint8(z)
}

// ViewRadiusDeg estimates the visible radius in degrees from altitude and
// field of view. 1 degree ~ 111 km at the surface.
func (v ViewState) ViewRadiusDeg() float64 {
	v = v.withDefaults()
	halfFOVRad := (v.FOVDeg / 2.0) * math.Pi / 180.0
	groundRadiusM := v.AltitudeM * math.Tan(halfFOVRad)
	return math.Min(groundRadiusM/111_000.0, 180.0)
}

// TileVisible reports whether the tile plausibly overlaps the view. It is a
// radius test around the camera center, not a true frustum.
func (v ViewState) TileVisible(coord model.TileCoord) bool {
	lonMin, latMin, lonMax, latMax := coord.BoundsWGS84()
	radius := v.ViewRadiusDeg()
	lonOK := lonMax >= v.Lon-radius && lonMin <= v.Lon+radius
	latOK := latMax >= v.Lat-radius && latMin <= v.Lat+radius
	return lonOK && latOK
}

// PriorityPolicy combines zoom mismatch and distance from the view center
// into a tile priority. Lower values are served first. The default weights
// are a starting point, not a contract; tune per deployment.
type PriorityPolicy struct {
	// ZoomWeight is the cost of one zoom level of mismatch between the
	// tile and the view's estimated zoom.
	ZoomWeight uint32

	// DistScale converts degrees of distance from the view center into
	// priority units.
	DistScale float64
}

// DefaultPriorityPolicy matches one zoom level of mismatch to 10 degrees
// of distance.
func DefaultPriorityPolicy() PriorityPolicy {
	return PriorityPolicy{ZoomWeight: 10_000, DistScale: 1_000}
}

// TilePriority computes the priority of a tile under the view. Lower is
// better.
func (p PriorityPolicy) TilePriority(v ViewState, coord model.TileCoord) uint32 {
	centerLon, centerLat := coord.Center()

	dlon := math.Abs(centerLon - v.Lon)
	dlat := math.Abs(centerLat - v.Lat)
	dist := math.Sqrt(dlon*dlon + dlat*dlat)

	zoomDiff := int32(coord.Z) - int32(v.EstimatedZoom())
	if zoomDiff < 0 {
		zoomDiff = -zoomDiff
	}
	return uint32(zoomDiff)*p.ZoomWeight + uint32(dist*p.DistScale)
}

// VisibleTiles enumerates the tiles at zoom z that pass the view's
// visibility test, in ascending (x, y) order.
func VisibleTiles(v ViewState, z uint8) []model.TileCoord {
	v = v.withDefaults()
	n := uint32(1) << z
	radius := v.ViewRadiusDeg()

	xMin := lonToTileX(v.Lon-radius, z)
	xMax := lonToTileX(v.Lon+radius, z)
	yMin := latToTileY(math.Min(v.Lat+radius, 85.0), z) // y grows southwards
	yMax := latToTileY(math.Max(v.Lat-radius, -85.0), z)

	var out []model.TileCoord
	for x := xMin; x <= xMax; x++ {
		for y := yMin; y <= yMax; y++ {
			coord := model.TileCoord{Z: z, X: x % n, Y: min(y, n-1)}
			if v.TileVisible(coord) {
				out = append(out, coord)
			}
		}
	}
	return out
}

func lonToTileX(lon float64, z uint8) uint32 {
	n := uint32(1) << z
	x := int32(math.Floor((lon + 180.0) / 360.0 * float64(n)))
	return uint32(max(0, min(x, int32(n)-1)))
}

func latToTileY(lat float64, z uint8) uint32 {
	n := uint32(1) << z
	latRad := lat * math.Pi / 180.0
	y := int32(math.Floor((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * float64(n)))
	return uint32(max(0, min(y, int32(n)-1)))
}
