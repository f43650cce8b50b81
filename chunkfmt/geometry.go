package chunkfmt

import (
	"encoding/binary"
	"fmt"
)

// GeometryError reports a malformed or mismatched geometry.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("chunkfmt: invalid geometry: %s", e.Reason)
}

func (k GeometryKind) String() string {
	switch k {
	case GeomPoint:
		return "point"
	case GeomMultiPoint:
		return "multipoint"
	case GeomLineString:
		return "linestring"
	case GeomMultiLineString:
		return "multilinestring"
	case GeomPolygon:
		return "polygon"
	case GeomMultiPolygon:
		return "multipolygon"
	default:
		return fmt.Sprintf("geometry(%d)", uint8(k))
	}
}

func encodeGeometry(g *Geometry) ([]byte, error) {
	var out []byte
	switch g.Kind {
	case GeomPoint:
		if len(g.Points) != 1 {
			return nil, &GeometryError{Reason: fmt.Sprintf("point needs exactly 1 position, got %d", len(g.Points))}
		}
		out = appendQuantized(out, g.Points[0])
	case GeomMultiPoint, GeomLineString:
		out = binary.AppendUvarint(out, uint64(len(g.Points)))
		for _, p := range g.Points {
			out = appendQuantized(out, p)
		}
	case GeomMultiLineString, GeomPolygon:
		out = binary.AppendUvarint(out, uint64(len(g.Rings)))
		for _, ring := range g.Rings {
			out = binary.AppendUvarint(out, uint64(len(ring)))
			for _, p := range ring {
				out = appendQuantized(out, p)
			}
		}
	case GeomMultiPolygon:
		out = binary.AppendUvarint(out, uint64(len(g.Polygons)))
		for _, poly := range g.Polygons {
			out = binary.AppendUvarint(out, uint64(len(poly)))
			for _, ring := range poly {
				out = binary.AppendUvarint(out, uint64(len(ring)))
				for _, p := range ring {
					out = appendQuantized(out, p)
				}
			}
		}
	default:
		return nil, &GeometryError{Reason: fmt.Sprintf("unknown kind %d", uint8(g.Kind))}
	}
	return out, nil
}

func decodeGeometry(kind GeometryKind, data []byte) (*Geometry, error) {
	r := &reader{data: data}
	g := &Geometry{Kind: kind}

	switch kind {
	case GeomPoint:
		p, err := readQuantized(r)
		if err != nil {
			return nil, err
		}
		g.Points = []GeoPoint{p}
	case GeomMultiPoint, GeomLineString:
		pts, err := readPoints(r)
		if err != nil {
			return nil, err
		}
		g.Points = pts
	case GeomMultiLineString, GeomPolygon:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		g.Rings = make([][]GeoPoint, 0, n)
		for i := uint64(0); i < n; i++ {
			ring, err := readPoints(r)
			if err != nil {
				return nil, err
			}
			g.Rings = append(g.Rings, ring)
		}
	case GeomMultiPolygon:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		g.Polygons = make([][][]GeoPoint, 0, n)
		for i := uint64(0); i < n; i++ {
			nrings, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			rings := make([][]GeoPoint, 0, nrings)
			for j := uint64(0); j < nrings; j++ {
				ring, err := readPoints(r)
				if err != nil {
					return nil, err
				}
				rings = append(rings, ring)
			}
			g.Polygons = append(g.Polygons, rings)
		}
	default:
		return nil, &GeometryError{Reason: fmt.Sprintf("unknown tag %d", uint8(kind))}
	}

	if r.pos != len(r.data) {
		return nil, &GeometryError{Reason: "trailing bytes"}
	}
	return g, nil
}

// walkPoints visits every position in the geometry.
func walkPoints(g *Geometry, visit func(GeoPoint)) {
	for _, p := range g.Points {
		visit(p)
	}
	for _, ring := range g.Rings {
		for _, p := range ring {
			visit(p)
		}
	}
	for _, poly := range g.Polygons {
		for _, ring := range poly {
			for _, p := range ring {
				visit(p)
			}
		}
	}
}

func appendQuantized(out []byte, p GeoPoint) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(QuantizeDeg(p.Lon)))
	return binary.LittleEndian.AppendUint32(out, uint32(QuantizeDeg(p.Lat)))
}

func readQuantized(r *reader) (GeoPoint, error) {
	lonQ, err := r.u32()
	if err != nil {
		return GeoPoint{}, err
	}
	latQ, err := r.u32()
	if err != nil {
		return GeoPoint{}, err
	}
	return GeoPoint{
		Lon: DequantizeDeg(int32(lonQ)),
		Lat: DequantizeDeg(int32(latQ)),
	}, nil
}

func readPoints(r *reader) ([]GeoPoint, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	pts := make([]GeoPoint, 0, n)
	for i := uint64(0); i < n; i++ {
		p, err := readQuantized(r)
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

// reader is a bounds-checked cursor over a byte slice.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) str() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad varint", ErrInvalidData)
	}
	r.pos += n
	return v, nil
}
