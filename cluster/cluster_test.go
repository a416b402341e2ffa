package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akvist/nonbond/geom"
	"github.com/akvist/nonbond/grid"
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

func buildSet(t *testing.T, xs []geom.Vec, l, rc float64) *Set {
	box := geom.NewCubicBox(l)
	g := &grid.SpatialGrid{}
	require.NoError(t, g.Rebuild(xs, box, rc))
	set, err := Build(g, xs, Properties{})
	require.NoError(t, err)
	return set
}

func TestBuildCoversAllParticles(t *testing.T) {
	xs := randomSystem(233, 5.0, 1)
	set := buildSet(t, xs, 5.0, 1.1)

	seen := make(map[int32]bool)
	pads := 0
	for slot := range set.Orig {
		if set.Orig[slot] < 0 {
			pads++
			continue
		}
		assert.False(t, seen[set.Orig[slot]], "particle in two slots")
		seen[set.Orig[slot]] = true
	}
	assert.Equal(t, 233, len(seen))
	assert.Equal(t, set.NClusters*Width, 233+pads)
}

func TestSentinelsOutsideBox(t *testing.T) {
	xs := randomSystem(101, 4.0, 2)
	set := buildSet(t, xs, 4.0, 1.0)

	for slot := range set.Orig {
		if set.Orig[slot] >= 0 {
			continue
		}
		assert.True(t, set.X[slot] < -4.0, "sentinel inside box")
		assert.Equal(t, 0.0, set.Q[slot], "sentinel charge")
		assert.Equal(t, int32(SentinelType), set.Type[slot])
	}

	// Distinct sentinels must be separated by more than the cutoff, so
	// sentinel-sentinel pairs also fail the cutoff test.
	for a := range set.Orig {
		if set.Orig[a] >= 0 {
			continue
		}
		for b := a + 1; b < len(set.Orig); b++ {
			if set.Orig[b] >= 0 {
				continue
			}
			dx := set.X[a] - set.X[b]
			dy := set.Y[a] - set.Y[b]
			dz := set.Z[a] - set.Z[b]
			assert.True(t, dx*dx+dy*dy+dz*dz > 1.0, "sentinels too close")
		}
	}
}

func TestBoundingBoxesExcludePadding(t *testing.T) {
	xs := randomSystem(57, 4.0, 3)
	set := buildSet(t, xs, 4.0, 1.0)

	for ci := 0; ci < set.NClusters; ci++ {
		for dim := 0; dim < 3; dim++ {
			assert.True(t, set.BBMin[ci][dim] >= 0, "bb includes sentinel")
			assert.True(t, set.BBMax[ci][dim] <= 4.0, "bb outside box")
		}
		for s := 0; s < Width; s++ {
			slot := ci*Width + s
			if set.Orig[slot] < 0 {
				continue
			}
			x := [3]float64{set.X[slot], set.Y[slot], set.Z[slot]}
			for dim := 0; dim < 3; dim++ {
				assert.True(t, x[dim] >= set.BBMin[ci][dim])
				assert.True(t, x[dim] <= set.BBMax[ci][dim])
			}
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	xs := randomSystem(150, 5.0, 4)
	box := geom.NewCubicBox(5.0)

	g1, g2 := &grid.SpatialGrid{}, &grid.SpatialGrid{}
	require.NoError(t, g1.Rebuild(xs, box, 1.0))
	require.NoError(t, g2.Rebuild(xs, box, 1.0))

	s1, err := Build(g1, xs, Properties{})
	require.NoError(t, err)
	s2, err := Build(g2, xs, Properties{})
	require.NoError(t, err)

	assert.Equal(t, s1.X, s2.X)
	assert.Equal(t, s1.Orig, s2.Orig)
	assert.Equal(t, s1.Cell, s2.Cell)
	assert.Equal(t, s1.BBMin, s2.BBMin)
}

func TestPropertiesReordered(t *testing.T) {
	xs := randomSystem(40, 4.0, 5)
	q := make([]float64, 40)
	ty := make([]int32, 40)
	for i := range q {
		q[i] = float64(i) * 0.25
		ty[i] = int32(i % 3)
	}

	box := geom.NewCubicBox(4.0)
	g := &grid.SpatialGrid{}
	require.NoError(t, g.Rebuild(xs, box, 1.0))
	set, err := Build(g, xs, Properties{Charges: q, Types: ty})
	require.NoError(t, err)

	for slot, p := range set.Orig {
		if p < 0 {
			continue
		}
		assert.Equal(t, q[p], set.Q[slot])
		assert.Equal(t, ty[p], set.Type[slot])
	}
}

func TestBBDistSq(t *testing.T) {
	xs := []geom.Vec{
		{0.5, 0.5, 0.5}, {1.0, 1.0, 1.0},
		{3.5, 0.5, 0.5}, {3.8, 1.0, 1.0},
	}
	set := buildSet(t, xs, 4.0, 1.0)
	require.True(t, set.NClusters >= 1)

	zero := geom.Vec{}
	d2 := set.BBDistSq(0, 0, &zero)
	assert.Equal(t, 0.0, d2, "self distance")

	// Shifting a cluster by a full box length moves its bounding box away.
	shift := geom.Vec{4, 0, 0}
	assert.True(t, set.BBDistSq(0, 0, &shift) > 0)
}

func TestPropertyLengthMismatch(t *testing.T) {
	xs := randomSystem(10, 4.0, 6)
	box := geom.NewCubicBox(4.0)
	g := &grid.SpatialGrid{}
	require.NoError(t, g.Rebuild(xs, box, 1.0))

	_, err := Build(g, xs, Properties{Charges: make([]float64, 9)})
	assert.Error(t, err)
}
