package spatial

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilecraft/tilestream/model"
)

func box(minX, minY, minZ, maxX, maxY, maxZ float64) model.AABB {
	return model.NewAABB([3]float64{minX, minY, minZ}, [3]float64{maxX, maxY, maxZ})
}

func unitBoxAt(x float64) model.AABB {
	return box(x, 0, 0, x+1, 1, 1)
}

func TestBuildRejectsMalformedBounds(t *testing.T) {
	_, err := Build([]Item{
		{ID: 1, Bounds: box(1, 0, 0, 0, 1, 1)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min exceeds max")
}

func TestQueryReturnsAscendingIDs(t *testing.T) {
	idx, err := Build([]Item{
		{ID: 2, Bounds: box(10, 0, 0, 11, 1, 1)},
		{ID: 1, Bounds: box(0, 0, 0, 1, 1, 1)},
		{ID: 3, Bounds: box(0.5, 0.5, 0.5, 2, 2, 2)},
	})
	require.NoError(t, err)

	hits := idx.Query(box(0.25, 0.25, 0.25, 1.5, 1.5, 1.5))
	assert.Equal(t, []model.EntityID{1, 3}, hits)
}

func TestQueryIdempotent(t *testing.T) {
	var items []Item
	for i := 0; i < 50; i++ {
		items = append(items, Item{ID: model.EntityID(i), Bounds: unitBoxAt(float64(i % 10))})
	}
	idx, err := Build(items)
	require.NoError(t, err)

	q := box(2.5, 0, 0, 6.5, 1, 1)
	first := idx.Query(q)
	second := idx.Query(q)
	assert.Equal(t, first, second)
	assert.True(t, slices.IsSorted(first))
}

func TestBuildIsInputOrderIndependent(t *testing.T) {
	a := []Item{
		{ID: 1, Bounds: unitBoxAt(0)},
		{ID: 2, Bounds: unitBoxAt(2)},
		{ID: 3, Bounds: unitBoxAt(4)},
		{ID: 4, Bounds: unitBoxAt(6)},
		{ID: 5, Bounds: unitBoxAt(8)},
		{ID: 6, Bounds: unitBoxAt(10)},
		{ID: 7, Bounds: unitBoxAt(12)},
		{ID: 8, Bounds: unitBoxAt(14)},
		{ID: 9, Bounds: unitBoxAt(16)},
		{ID: 10, Bounds: unitBoxAt(18)},
	}
	b := slices.Clone(a)
	slices.Reverse(b)

	q := box(3.0, 0, 0, 13.0, 1, 1)
	ia, err := Build(a)
	require.NoError(t, err)
	ib, err := Build(b)
	require.NoError(t, err)
	assert.Equal(t, ia.Query(q), ib.Query(q))
}

func TestEqualCentroidsTieBreakOnID(t *testing.T) {
	// All centroids identical: the sort must fall back to ascending id and
	// produce the same tree for any input permutation.
	var items []Item
	for i := 20; i >= 1; i-- {
		items = append(items, Item{ID: model.EntityID(i), Bounds: unitBoxAt(0)})
	}
	idx, err := Build(items)
	require.NoError(t, err)

	hits := idx.Query(box(0, 0, 0, 1, 1, 1))
	want := make([]model.EntityID, 20)
	for i := range want {
		want[i] = model.EntityID(i + 1)
	}
	assert.Equal(t, want, hits)
}

func TestSignedZeroCentroidsCompareEqual(t *testing.T) {
	negZero := math.Copysign(0, -1)
	idx, err := Build([]Item{
		{ID: 2, Bounds: box(negZero, 0, 0, negZero, 1, 1)},
		{ID: 1, Bounds: box(0, 0, 0, 0, 1, 1)},
	})
	require.NoError(t, err)

	hits := idx.Query(box(-0.5, 0, 0, 0.5, 1, 1))
	assert.Equal(t, []model.EntityID{1, 2}, hits)
}

func TestQueryEmptyIndex(t *testing.T) {
	idx, err := Build(nil)
	require.NoError(t, err)
	assert.Empty(t, idx.Query(box(0, 0, 0, 1, 1, 1)))
}

// axisFrustum builds the plane set of the box min..max with inward normals.
func axisFrustum(min, max [3]float64) Frustum {
	var f Frustum
	for i := 0; i < 3; i++ {
		var lo, hi Plane
		lo.Normal[i] = 1
		lo.Offset = -min[i]
		hi.Normal[i] = -1
		hi.Offset = max[i]
		f = append(f, lo, hi)
	}
	return f
}

func TestQueryFrustum(t *testing.T) {
	idx, err := Build([]Item{
		{ID: 1, Bounds: unitBoxAt(0)},
		{ID: 2, Bounds: unitBoxAt(5)},
		{ID: 3, Bounds: unitBoxAt(1.5)},
		{ID: 4, Bounds: box(0, 10, 0, 1, 11, 1)},
	})
	require.NoError(t, err)

	// Volume x in [0,3]: catches 1 and 3, excludes 2 (x) and 4 (y).
	f := axisFrustum([3]float64{0, 0, 0}, [3]float64{3, 2, 2})
	assert.Equal(t, []model.EntityID{1, 3}, idx.QueryFrustum(f))
}

func TestQueryFrustumSlantedPlane(t *testing.T) {
	idx, err := Build([]Item{
		{ID: 1, Bounds: unitBoxAt(0)},
		{ID: 2, Bounds: unitBoxAt(5)},
	})
	require.NoError(t, err)

	// Half-space x + y >= 4: box 1 tops out at x+y=2, box 2 reaches 7.
	f := Frustum{{Normal: [3]float64{1, 1, 0}, Offset: -4}}
	assert.Equal(t, []model.EntityID{2}, idx.QueryFrustum(f))
}

func TestQueryFrustumNoPlanesReturnsAll(t *testing.T) {
	idx, err := Build([]Item{
		{ID: 2, Bounds: unitBoxAt(5)},
		{ID: 1, Bounds: unitBoxAt(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.EntityID{1, 2}, idx.QueryFrustum(nil))
}

func TestQueryRay(t *testing.T) {
	idx, err := Build([]Item{
		{ID: 1, Bounds: unitBoxAt(0)},
		{ID: 2, Bounds: unitBoxAt(5)},
		{ID: 3, Bounds: box(0, 5, 0, 1, 6, 1)},
	})
	require.NoError(t, err)

	// Ray along +X at y=z=0.5 hits boxes 1 and 2 but not 3.
	hits := idx.QueryRay([3]float64{-1, 0.5, 0.5}, [3]float64{1, 0, 0}, 0, 100)
	assert.Equal(t, []model.EntityID{1, 2}, hits)
}
