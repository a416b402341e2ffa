/*package cluster groups spatially adjacent particles into fixed-width
clusters with an SoA coordinate layout. Clusters are what the pair list and
the nonbonded kernels operate on: every cluster has exactly Width slots, and
slots beyond a cell's particle count are padded with sentinel entries that
can never contribute an interaction.
*/
package cluster

import (
	"fmt"

	"github.com/akvist/nonbond/geom"
	"github.com/akvist/nonbond/grid"
)

// Width is the number of particle slots per cluster. Pair masks are sized
// for Width*Width atom pairs, so changing this requires changing the mask
// type in the pairlist package as well.
const Width = 4

// Properties carries the per-particle static data that gets reordered into
// cluster layout alongside the coordinates. Nil slices default to zero.
type Properties struct {
	Charges []float64
	Types   []int32
	Groups  []int32
}

// Set is the cluster decomposition of one search step. All slices use
// cluster-slot indexing: slot s of cluster c is element c*Width + s.
// Immutable once built.
type Set struct {
	N         int // real particles
	NClusters int
	Box       geom.Box

	X, Y, Z, Q []float64
	Type       []int32
	Group      []int32

	// Orig maps cluster slots back to input particle indices; -1 marks a
	// padding slot.
	Orig []int32

	// Cell is the grid cell each cluster was built from.
	Cell []int32

	// BBMin and BBMax bound the real (non-padding) particles per cluster.
	BBMin, BBMax []geom.Vec

	cellStart []int32
	cells     [3]int

	// wrap is the periodic offset applied to each real slot at build time.
	// Refresh reapplies it so displacements stay consistent with the
	// pair-list shifts while particles drift between searches.
	wrap []geom.Vec
}

// SentinelType is the van-der-Waals type assigned to padding slots. Callers
// building parameter tables must leave its coefficients zero; NewParams in
// the kernel package does this automatically.
const SentinelType = -1

// Build groups the particles of g into padded clusters, cell by cell in
// ascending cell order. xs must be the positions g was rebuilt from.
func Build(g *grid.SpatialGrid, xs []geom.Vec, props Properties) (*Set, error) {
	n := len(xs)
	if props.Charges != nil && len(props.Charges) != n {
		return nil, fmt.Errorf(
			"cluster: %d charges for %d particles", len(props.Charges), n,
		)
	}
	if props.Types != nil && len(props.Types) != n {
		return nil, fmt.Errorf(
			"cluster: %d types for %d particles", len(props.Types), n,
		)
	}
	if props.Groups != nil && len(props.Groups) != n {
		return nil, fmt.Errorf(
			"cluster: %d energy groups for %d particles", len(props.Groups), n,
		)
	}

	volume := g.Volume()
	set := &Set{
		N:         n,
		Box:       g.Box,
		cells:     g.Cells,
		cellStart: make([]int32, volume+1),
	}

	nc := 0
	for c := 0; c < volume; c++ {
		set.cellStart[c] = int32(nc)
		nc += (len(g.CellParticles(c)) + Width - 1) / Width
	}
	set.cellStart[volume] = int32(nc)
	set.NClusters = nc

	slots := nc * Width
	set.X = make([]float64, slots)
	set.Y = make([]float64, slots)
	set.Z = make([]float64, slots)
	set.Q = make([]float64, slots)
	set.Type = make([]int32, slots)
	set.Group = make([]int32, slots)
	set.Orig = make([]int32, slots)
	set.wrap = make([]geom.Vec, slots)
	set.Cell = make([]int32, nc)
	set.BBMin = make([]geom.Vec, nc)
	set.BBMax = make([]geom.Vec, nc)

	d := g.Box.Diag()
	rc := g.RCut
	pad := 0 // running sentinel count, spreads sentinels apart

	ci := 0
	for c := 0; c < volume; c++ {
		parts := g.CellParticles(c)
		for lo := 0; lo < len(parts); lo += Width {
			set.Cell[ci] = int32(c)

			min := geom.Vec{}
			max := geom.Vec{}
			for s := 0; s < Width; s++ {
				slot := ci*Width + s
				if lo+s < len(parts) {
					p := parts[lo+s]
					x := xs[p]
					g.Box.Wrap(&x)

					set.X[slot], set.Y[slot], set.Z[slot] = x[0], x[1], x[2]
					w := x
					w.Sub(&xs[p])
					set.wrap[slot] = w
					set.Orig[slot] = p
					if props.Charges != nil {
						set.Q[slot] = props.Charges[p]
					}
					if props.Types != nil {
						set.Type[slot] = props.Types[p]
					}
					if props.Groups != nil {
						set.Group[slot] = props.Groups[p]
					}

					if s == 0 {
						min, max = x, x
					} else {
						for dim := 0; dim < 3; dim++ {
							if x[dim] < min[dim] {
								min[dim] = x[dim]
							}
							if x[dim] > max[dim] {
								max[dim] = x[dim]
							}
						}
					}
				} else {
					// Sentinel: far outside the box and spread apart so no
					// sentinel pair can pass a cutoff test, with zero charge
					// and a type whose coefficients are zero as a second
					// guarantee.
					pad++
					off := float64(pad) * (rc + 1)
					set.X[slot] = -d[0] - off
					set.Y[slot] = -d[1] - off
					set.Z[slot] = -d[2] - off
					set.Orig[slot] = -1
					set.Type[slot] = SentinelType
				}
			}
			set.BBMin[ci], set.BBMax[ci] = min, max
			ci++
		}
	}

	return set, nil
}

// Refresh updates slot coordinates from new positions without rebinning.
// Used on reuse steps, where cluster membership is stale by at most the
// pair-list buffer. Bounding boxes are not updated; they are only consumed
// during list construction.
func (set *Set) Refresh(xs []geom.Vec) error {
	if len(xs) != set.N {
		return fmt.Errorf("cluster: refresh with %d positions for %d particles",
			len(xs), set.N)
	}
	for slot, p := range set.Orig {
		if p < 0 {
			continue
		}
		w := &set.wrap[slot]
		set.X[slot] = xs[p][0] + w[0]
		set.Y[slot] = xs[p][1] + w[1]
		set.Z[slot] = xs[p][2] + w[2]
	}
	return nil
}

// ClustersInCell returns the half-open cluster index range built from cell c.
func (set *Set) ClustersInCell(c int) (lo, hi int32) {
	return set.cellStart[c], set.cellStart[c+1]
}

// RealSlots returns how many of cluster ci's slots hold real particles.
func (set *Set) RealSlots(ci int) int {
	n := 0
	for s := 0; s < Width; s++ {
		if set.Orig[ci*Width+s] >= 0 {
			n++
		}
	}
	return n
}

// BBDistSq returns the squared minimum distance between the bounding boxes
// of clusters ci and cj, with shift applied to cj's box.
func (set *Set) BBDistSq(ci, cj int, shift *geom.Vec) float64 {
	sum := 0.0
	for dim := 0; dim < 3; dim++ {
		lo := set.BBMin[cj][dim] + shift[dim]
		hi := set.BBMax[cj][dim] + shift[dim]

		var gap float64
		if lo > set.BBMax[ci][dim] {
			gap = lo - set.BBMax[ci][dim]
		} else if hi < set.BBMin[ci][dim] {
			gap = set.BBMin[ci][dim] - hi
		}
		sum += gap * gap
	}
	return sum
}
