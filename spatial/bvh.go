// Package spatial implements a deterministic bounding volume hierarchy (BVH)
// over entity bounds.
//
// The tree is a flat, arena-backed node array rebuilt wholesale by Build —
// no owning pointers, no incremental mutation. Partitioning splits at the
// median centroid along the widest axis; float comparisons go through the
// canonical total ordering so ties (including signed zero and NaN) resolve
// identically on every platform, with a final tie-break on ascending entity
// id.
//
// Ordering contract: every query returns entity ids in ascending order,
// irrespective of traversal order.
package spatial

import (
	"fmt"
	"math"
	"slices"

	"github.com/tilecraft/tilestream/internal/floats"
	"github.com/tilecraft/tilestream/model"
)

const leafMax = 8

// Item is one entity with its bounds.
type Item struct {
	ID     model.EntityID
	Bounds model.AABB
}

// node is an arena-addressed BVH node. Leaves hold a range into the item
// arena; internal nodes hold child indices.
type node struct {
	bounds model.AABB
	// left/right are child node indices, or -1 for leaves.
	left  int32
	right int32
	// start/end delimit the leaf's items in the arena.
	start int32
	end   int32
}

func (n *node) leaf() bool { return n.left < 0 }

// Index is an immutable BVH. Queries are read-only and safe for concurrent
// use.
type Index struct {
	nodes []node
	items []Item
}

// Build constructs the index. Malformed bounds (min exceeding max on any
// axis) are rejected before any state is created.
func Build(items []Item) (*Index, error) {
	for _, it := range items {
		if err := it.Bounds.Validate(); err != nil {
			return nil, fmt.Errorf("entity %d: %w", it.ID, err)
		}
	}
	idx := &Index{items: slices.Clone(items)}
	if len(idx.items) > 0 {
		idx.buildNode(0, len(idx.items))
	}
	return idx, nil
}

// Len returns the number of indexed entities.
func (x *Index) Len() int { return len(x.items) }

// buildNode builds the subtree over items[start:end] and returns its node
// index.
func (x *Index) buildNode(start, end int) int32 {
	span := x.items[start:end]
	bounds := span[0].Bounds
	for _, it := range span[1:] {
		bounds = bounds.Union(it.Bounds)
	}

	self := int32(len(x.nodes))
	if len(span) <= leafMax {
		x.nodes = append(x.nodes, node{
			bounds: bounds,
			left:   -1, right: -1,
			start: int32(start), end: int32(end),
		})
		return self
	}

	axis := bounds.WidestAxis()
	slices.SortFunc(span, func(a, b Item) int {
		if c := floats.TotalCompare(a.Bounds.Centroid(axis), b.Bounds.Centroid(axis)); c != 0 {
			return c
		}
		// Equal centroids under canonical comparison: ascending id.
		if a.ID != b.ID {
			if a.ID < b.ID {
				return -1
			}
			return 1
		}
		return 0
	})

	mid := start + len(span)/2
	// Reserve the slot before recursing so child indices are stable.
	x.nodes = append(x.nodes, node{bounds: bounds, left: -1, right: -1})
	left := x.buildNode(start, mid)
	right := x.buildNode(mid, end)
	x.nodes[self].left = left
	x.nodes[self].right = right
	return self
}

// Query returns all entities whose bounds intersect the query box, in
// ascending id order.
func (x *Index) Query(query model.AABB) []model.EntityID {
	if len(x.nodes) == 0 {
		return nil
	}
	var hits []model.EntityID
	stack := []int32{0}
	for len(stack) > 0 {
		ni := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &x.nodes[ni]
		if !n.bounds.Intersects(query) {
			continue
		}
		if n.leaf() {
			for _, it := range x.items[n.start:n.end] {
				if it.Bounds.Intersects(query) {
					hits = append(hits, it.ID)
				}
			}
			continue
		}
		stack = append(stack, n.right, n.left)
	}
	return sortDedup(hits)
}

// Plane is a half-space boundary in Hessian normal form: a point p is on
// the inside when dot(Normal, p) + Offset >= 0.
type Plane struct {
	Normal [3]float64
	Offset float64
}

// Frustum is a convex volume bounded by planes with inward-facing normals.
// A camera frustum has six; any convex plane set works.
type Frustum []Plane

// QueryFrustum returns all entities whose bounds intersect the volume, in
// ascending id order. Culling tests the box corner farthest along each
// plane normal, so boxes straddling a corner of the volume may be reported
// conservatively.
func (x *Index) QueryFrustum(f Frustum) []model.EntityID {
	if len(x.nodes) == 0 {
		return nil
	}
	var hits []model.EntityID
	stack := []int32{0}
	for len(stack) > 0 {
		ni := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &x.nodes[ni]
		if outsideFrustum(f, n.bounds) {
			continue
		}
		if n.leaf() {
			for _, it := range x.items[n.start:n.end] {
				if !outsideFrustum(f, it.Bounds) {
					hits = append(hits, it.ID)
				}
			}
			continue
		}
		stack = append(stack, n.right, n.left)
	}
	return sortDedup(hits)
}

// outsideFrustum reports whether the box lies fully outside some plane.
func outsideFrustum(f Frustum, box model.AABB) bool {
	for _, p := range f {
		// Corner of the box farthest along the plane normal.
		var v [3]float64
		for i := 0; i < 3; i++ {
			if p.Normal[i] >= 0 {
				v[i] = box.Max[i]
			} else {
				v[i] = box.Min[i]
			}
		}
		if p.Normal[0]*v[0]+p.Normal[1]*v[1]+p.Normal[2]*v[2]+p.Offset < 0 {
			return true
		}
	}
	return false
}

// QueryRay returns all entities whose bounds intersect the ray
// origin + t*dir for t in [tMin, tMax], in ascending id order.
func (x *Index) QueryRay(origin, dir [3]float64, tMin, tMax float64) []model.EntityID {
	if len(x.nodes) == 0 {
		return nil
	}
	var hits []model.EntityID
	stack := []int32{0}
	for len(stack) > 0 {
		ni := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &x.nodes[ni]
		if !rayIntersects(origin, dir, n.bounds, tMin, tMax) {
			continue
		}
		if n.leaf() {
			for _, it := range x.items[n.start:n.end] {
				if rayIntersects(origin, dir, it.Bounds, tMin, tMax) {
					hits = append(hits, it.ID)
				}
			}
			continue
		}
		stack = append(stack, n.right, n.left)
	}
	return sortDedup(hits)
}

// rayIntersects performs slab intersection against the box.
func rayIntersects(origin, dir [3]float64, box model.AABB, tMin, tMax float64) bool {
	for axis := 0; axis < 3; axis++ {
		o, d := origin[axis], dir[axis]
		if math.Abs(d) < 1e-12 {
			if o < box.Min[axis] || o > box.Max[axis] {
				return false
			}
			continue
		}
		inv := 1.0 / d
		t1 := (box.Min[axis] - o) * inv
		t2 := (box.Max[axis] - o) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tMin = math.Max(tMin, t1)
		tMax = math.Min(tMax, t2)
		if tMax < tMin {
			return false
		}
	}
	return true
}

func sortDedup(ids []model.EntityID) []model.EntityID {
	slices.Sort(ids)
	return slices.Compact(ids)
}
