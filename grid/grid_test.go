package grid

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akvist/nonbond/geom"
)

func randomSystem(n int, l float64, seed int64) []geom.Vec {
	gen := rand.New(rand.NewSource(seed))
	xs := make([]geom.Vec, n)
	for i := range xs {
		for dim := 0; dim < 3; dim++ {
			xs[i][dim] = gen.Float64() * l
		}
	}
	return xs
}

func TestRebuildBinsEveryParticle(t *testing.T) {
	xs := randomSystem(500, 6.0, 1)
	box := geom.NewCubicBox(6.0)

	g := &SpatialGrid{}
	require.NoError(t, g.Rebuild(xs, box, 1.1))

	assert.Equal(t, 500, len(g.Index))
	seen := make(map[int32]bool)
	for c := 0; c < g.Volume(); c++ {
		for _, i := range g.CellParticles(c) {
			assert.False(t, seen[i], "particle binned twice")
			seen[i] = true
		}
	}
	assert.Equal(t, 500, len(seen))
}

func TestRebuildCellEdgeBounds(t *testing.T) {
	xs := randomSystem(4000, 10.0, 2)
	box := geom.NewCubicBox(10.0)

	g := &SpatialGrid{}
	require.NoError(t, g.Rebuild(xs, box, 1.2))

	for dim := 0; dim < 3; dim++ {
		edge := 10.0 / float64(g.Cells[dim])
		assert.True(t, edge >= 1.2/maxSubdiv, "edge below rCut/maxSubdiv")
	}

	// Dense systems should subdivide below the cutoff for occupancy.
	ratio := 10.0 / 1.2
	assert.True(t, g.Cells[0] > int(ratio), "no subdivision on dense system")
}

func TestRebuildDeterministic(t *testing.T) {
	xs := randomSystem(300, 5.0, 3)
	box := geom.NewCubicBox(5.0)

	g1, g2 := &SpatialGrid{}, &SpatialGrid{}
	require.NoError(t, g1.Rebuild(xs, box, 1.0))
	require.NoError(t, g2.Rebuild(xs, box, 1.0))

	assert.Equal(t, g1.Cells, g2.Cells)
	assert.Equal(t, g1.Start, g2.Start)
	assert.Equal(t, g1.Index, g2.Index)
}

func TestRebuildDegenerateBox(t *testing.T) {
	xs := randomSystem(32, 1.9, 4)
	box := geom.NewCubicBox(1.9)

	g := &SpatialGrid{}
	err := g.Rebuild(xs, box, 1.0)
	require.Error(t, err)
	_, ok := err.(*geom.DegenerateBoxError)
	assert.True(t, ok, "expected DegenerateBoxError, got %v", err)
}

func TestCellOfWrapsOutOfBox(t *testing.T) {
	box := geom.NewCubicBox(4.0)
	xs := []geom.Vec{{-0.5, 4.5, 2.0}}

	g := &SpatialGrid{}
	require.NoError(t, g.Rebuild(xs, box, 1.0))

	total := 0
	for c := 0; c < g.Volume(); c++ {
		total += len(g.CellParticles(c))
	}
	assert.Equal(t, 1, total)
}

func TestSearchRangeCoversSkewedFolds(t *testing.T) {
	// c leans halfway along b, the legal maximum, so displacements mostly
	// along z reach several cells in fractional y.
	box, err := geom.NewBox(
		geom.Vec{2.4, 0, 0}, geom.Vec{0, 12, 0}, geom.Vec{0, 6, 2.4},
	)
	require.NoError(t, err)

	xs := randomSystem(900, 2.4, 7)
	g := &SpatialGrid{}
	require.NoError(t, g.Rebuild(xs, box, 1.1))

	// Any displacement of length RCut must stay within the range, in cell
	// units, along every dimension.
	r := g.SearchRange()
	gen := rand.New(rand.NewSource(8))
	for trial := 0; trial < 1000; trial++ {
		var d geom.Vec
		for dim := 0; dim < 3; dim++ {
			d[dim] = gen.NormFloat64()
		}
		scale := 1.1 / math.Sqrt(d.Norm2())
		for dim := 0; dim < 3; dim++ {
			d[dim] *= scale
		}

		f := box.Frac(&d)
		for dim := 0; dim < 3; dim++ {
			cells := math.Abs(f[dim]) * float64(g.Cells[dim])
			assert.True(t, cells <= float64(r[dim]),
				"dim %d: %g cells for range %d", dim, cells, r[dim])
		}
	}
}

func TestSearchRangeCoversCutoff(t *testing.T) {
	xs := randomSystem(2000, 8.0, 5)
	box := geom.NewCubicBox(8.0)

	g := &SpatialGrid{}
	require.NoError(t, g.Rebuild(xs, box, 1.5))

	r := g.SearchRange()
	for dim := 0; dim < 3; dim++ {
		edge := 8.0 / float64(g.Cells[dim])
		assert.True(t, float64(r[dim])*edge >= 1.5, "stencil too short")
	}
}
