package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidBounds marks bounds whose min exceeds max on some axis.
	ErrInvalidBounds = errors.New("invalid bounds")

	// ErrInvalidSpan marks time spans with NaN endpoints or start > end.
	ErrInvalidSpan = errors.New("invalid time span")
)

// AABB is an axis-aligned bounding box in three dimensions.
type AABB struct {
	Min [3]float64
	Max [3]float64
}

// NewAABB returns the box spanning min..max.
func NewAABB(min, max [3]float64) AABB {
	return AABB{Min: min, Max: max}
}

// Valid reports whether Min <= Max on every axis.
func (b AABB) Valid() bool {
	for i := 0; i < 3; i++ {
		if b.Min[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Validate returns a descriptive error for malformed bounds.
func (b AABB) Validate() error {
	for i := 0; i < 3; i++ {
		if b.Min[i] > b.Max[i] {
			return fmt.Errorf("%w: min exceeds max on axis %d: %g > %g", ErrInvalidBounds, i, b.Min[i], b.Max[i])
		}
	}
	return nil
}

// Intersects reports whether the boxes overlap (inclusive of faces).
func (b AABB) Intersects(o AABB) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] < o.Min[i] || b.Min[i] > o.Max[i] {
			return false
		}
	}
	return true
}

// Union returns the smallest box containing both b and o.
func (b AABB) Union(o AABB) AABB {
	var out AABB
	for i := 0; i < 3; i++ {
		out.Min[i] = math.Min(b.Min[i], o.Min[i])
		out.Max[i] = math.Max(b.Max[i], o.Max[i])
	}
	return out
}

// Centroid returns the center point along the given axis.
func (b AABB) Centroid(axis int) float64 {
	return (b.Min[axis] + b.Max[axis]) * 0.5
}

// WidestAxis returns the axis with the largest extent. Ties prefer X, then Y.
func (b AABB) WidestAxis() int {
	ex := b.Max[0] - b.Min[0]
	ey := b.Max[1] - b.Min[1]
	ez := b.Max[2] - b.Min[2]
	if ex >= ey && ex >= ez {
		return 0
	}
	if ey >= ez {
		return 1
	}
	return 2
}

// TimeSpan is a closed interval on the timeline. A span with infinite
// endpoints on both sides is "forever" and overlaps every window; entities
// without explicit time are ingested with a forever span.
type TimeSpan struct {
	Start float64
	End   float64
}

// Forever returns the span that is always active.
func Forever() TimeSpan {
	return TimeSpan{Start: math.Inf(-1), End: math.Inf(1)}
}

// Instant returns the degenerate span [t, t].
func Instant(t float64) TimeSpan {
	return TimeSpan{Start: t, End: t}
}

// Span returns the bounded span [start, end].
func Span(start, end float64) TimeSpan {
	return TimeSpan{Start: start, End: end}
}

// IsForever reports whether the span is unbounded on both sides.
func (s TimeSpan) IsForever() bool {
	return math.IsInf(s.Start, -1) && math.IsInf(s.End, 1)
}

// Valid reports whether Start <= End. NaN endpoints are invalid.
func (s TimeSpan) Valid() bool {
	return !math.IsNaN(s.Start) && !math.IsNaN(s.End) && s.Start <= s.End
}

// Validate returns a descriptive error for malformed spans.
func (s TimeSpan) Validate() error {
	if !s.Valid() {
		return fmt.Errorf("%w: start exceeds end: [%g, %g]", ErrInvalidSpan, s.Start, s.End)
	}
	return nil
}

// Overlaps reports inclusive overlap: s.Start <= o.End && s.End >= o.Start.
func (s TimeSpan) Overlaps(o TimeSpan) bool {
	return s.Start <= o.End && s.End >= o.Start
}

// Contains reports whether t lies within the span, endpoints inclusive.
func (s TimeSpan) Contains(t float64) bool {
	return t >= s.Start && t <= s.End
}
