// Package temporal implements a deterministic interval tree over entity time
// spans for overlap queries against a time window.
//
// Overlap is inclusive: span.Start <= window.End && span.End >= window.Start.
// A "forever" span has infinite endpoints on both sides and therefore
// overlaps every window; entities ingested without explicit time carry a
// forever span.
//
// Nodes live in a flat arena rebuilt wholesale on Build, and every query
// returns entity ids in ascending order.
package temporal

import (
	"fmt"
	"slices"

	"github.com/tilecraft/tilestream/internal/floats"
	"github.com/tilecraft/tilestream/model"
)

// Item is one entity with its time span.
type Item struct {
	ID   model.EntityID
	Span model.TimeSpan
}

// node is an arena-addressed interval-tree node. Items whose span straddles
// center are stored on the node itself as a range into the item arena.
type node struct {
	center float64
	start  int32
	end    int32
	left   int32
	right  int32
}

// Index is an immutable interval tree. Queries are read-only and safe for
// concurrent use.
type Index struct {
	nodes []node
	items []Item
}

// Build constructs the index. Spans whose start exceeds their end (or with
// NaN endpoints) are rejected before any state is created.
func Build(items []Item) (*Index, error) {
	for _, it := range items {
		if err := it.Span.Validate(); err != nil {
			return nil, fmt.Errorf("entity %d: %w", it.ID, err)
		}
	}
	idx := &Index{items: make([]Item, 0, len(items))}
	if len(items) > 0 {
		idx.buildNode(slices.Clone(items))
	}
	return idx, nil
}

// Len returns the number of indexed entities.
func (x *Index) Len() int { return len(x.items) }

func (x *Index) buildNode(items []Item) int32 {
	center := chooseCenter(items)

	var left, right, here []Item
	for _, it := range items {
		switch {
		case it.Span.End < center:
			left = append(left, it)
		case it.Span.Start > center:
			right = append(right, it)
		default:
			here = append(here, it)
		}
	}

	// Stable ordering of straddling items for deterministic layout.
	slices.SortFunc(here, func(a, b Item) int {
		if c := floats.TotalCompare(a.Span.Start, b.Span.Start); c != 0 {
			return c
		}
		if c := floats.TotalCompare(a.Span.End, b.Span.End); c != 0 {
			return c
		}
		if a.ID != b.ID {
			if a.ID < b.ID {
				return -1
			}
			return 1
		}
		return 0
	})

	self := int32(len(x.nodes))
	start := int32(len(x.items))
	x.items = append(x.items, here...)
	x.nodes = append(x.nodes, node{
		center: center,
		start:  start, end: int32(len(x.items)),
		left: -1, right: -1,
	})

	if len(left) > 0 {
		child := x.buildNode(left)
		x.nodes[self].left = child
	}
	if len(right) > 0 {
		child := x.buildNode(right)
		x.nodes[self].right = child
	}
	return self
}

// chooseCenter picks the median span endpoint under canonical float order.
func chooseCenter(items []Item) float64 {
	endpoints := make([]float64, 0, len(items)*2)
	for _, it := range items {
		endpoints = append(endpoints, it.Span.Start, it.Span.End)
	}
	slices.SortFunc(endpoints, floats.TotalCompare)
	return endpoints[len(endpoints)/2]
}

// Query returns all entities whose span overlaps the window, in ascending id
// order.
func (x *Index) Query(window model.TimeSpan) []model.EntityID {
	if len(x.nodes) == 0 {
		return nil
	}
	var hits []model.EntityID
	x.queryNode(0, window, &hits)
	slices.Sort(hits)
	return slices.Compact(hits)
}

// QueryAt returns all entities active at the instant t.
func (x *Index) QueryAt(t float64) []model.EntityID {
	return x.Query(model.Instant(t))
}

func (x *Index) queryNode(ni int32, window model.TimeSpan, out *[]model.EntityID) {
	n := &x.nodes[ni]
	for _, it := range x.items[n.start:n.end] {
		if it.Span.Overlaps(window) {
			*out = append(*out, it.ID)
		}
	}
	if window.Start < n.center && n.left >= 0 {
		x.queryNode(n.left, window, out)
	}
	if window.End > n.center && n.right >= 0 {
		x.queryNode(n.right, window, out)
	}
}
