/*package grid bins the particles of a local domain into a 3D grid of cells
sized near the interaction cutoff. The grid is rebuilt on every search step
and is the starting point for cluster and pair-list construction.
*/
package grid

import (
	"math"

	"github.com/akvist/nonbond/geom"
)

const (
	// DefaultOccupancy is the average particle count per cell the grid
	// aims for when subdividing below the cutoff length.
	DefaultOccupancy = 4

	// maxSubdiv bounds how far below the cutoff the cell edge may shrink.
	// Cells smaller than rCut/maxSubdiv make the neighbor stencil larger
	// without improving pruning.
	maxSubdiv = 2
)

// SpatialGrid holds the cell decomposition of a set of positions. Cell
// contents are stored in CSR form: the particles of cell c are
// Index[Start[c]:Start[c+1]], in ascending particle order.
type SpatialGrid struct {
	Box   geom.Box
	RCut  float64 // cutoff plus buffer used at the last rebuild
	Cells [3]int

	Start []int32
	Index []int32

	// Occupancy is the target mean particle count per cell. Zero means
	// DefaultOccupancy.
	Occupancy int

	counts []int32
}

// Volume returns the total number of cells.
func (g *SpatialGrid) Volume() int {
	return g.Cells[0] * g.Cells[1] * g.Cells[2]
}

// Rebuild bins xs into cells. rCutBuf is the interaction cutoff plus the
// pair-list buffer; the cell edge never drops below rCutBuf/maxSubdiv.
// Returns a DegenerateBoxError if the box cannot support minimum imaging
// at rCutBuf.
func (g *SpatialGrid) Rebuild(
	xs []geom.Vec, box geom.Box, rCutBuf float64,
) error {
	if err := box.Check(rCutBuf); err != nil {
		return err
	}

	g.Box = box
	g.RCut = rCutBuf

	occ := g.Occupancy
	if occ <= 0 {
		occ = DefaultOccupancy
	}

	d := box.Diag()
	vol := d[0] * d[1] * d[2]
	n := len(xs)

	// Cell edge targeting occ particles per cell, clamped to
	// [rCutBuf/maxSubdiv, inf).
	target := math.Cbrt(vol * float64(occ) / math.Max(float64(n), 1))
	if target < rCutBuf/maxSubdiv {
		target = rCutBuf / maxSubdiv
	}

	for dim := 0; dim < 3; dim++ {
		c := int(d[dim] / target)
		if c < 1 {
			c = 1
		}
		g.Cells[dim] = c
	}

	volume := g.Volume()
	if cap(g.Start) < volume+1 {
		g.Start = make([]int32, volume+1)
		g.counts = make([]int32, volume)
	}
	g.Start = g.Start[:volume+1]
	g.counts = g.counts[:volume]
	for i := range g.counts {
		g.counts[i] = 0
	}

	if cap(g.Index) < n {
		g.Index = make([]int32, n)
	}
	g.Index = g.Index[:n]

	for i := range xs {
		g.counts[g.cellOf(&xs[i])]++
	}

	g.Start[0] = 0
	for c := 0; c < volume; c++ {
		g.Start[c+1] = g.Start[c] + g.counts[c]
		g.counts[c] = 0
	}

	// Particles are visited in ascending index order, so each cell's
	// contents come out sorted and rebuilds are reproducible.
	for i := range xs {
		c := g.cellOf(&xs[i])
		g.Index[g.Start[c]+g.counts[c]] = int32(i)
		g.counts[c]++
	}

	return nil
}

// cellOf returns the flat cell index of x, wrapping coordinates outside the
// primary cell.
func (g *SpatialGrid) cellOf(x *geom.Vec) int {
	f := g.Box.Frac(x)
	var c [3]int
	for dim := 0; dim < 3; dim++ {
		fd := f[dim] - math.Floor(f[dim])
		cd := int(fd * float64(g.Cells[dim]))
		if cd >= g.Cells[dim] {
			cd = g.Cells[dim] - 1
		}
		c[dim] = cd
	}
	return g.CellIndex(c[0], c[1], c[2])
}

// CellIndex returns the flat index of cell coordinates (x, y, z), which may
// lie outside [0, Cells) and are wrapped periodically.
func (g *SpatialGrid) CellIndex(x, y, z int) int {
	x = pMod(x, g.Cells[0])
	y = pMod(y, g.Cells[1])
	z = pMod(z, g.Cells[2])
	return x + y*g.Cells[0] + z*g.Cells[0]*g.Cells[1]
}

// CellCoords returns the cell coordinates of a flat cell index.
func (g *SpatialGrid) CellCoords(idx int) (x, y, z int) {
	area := g.Cells[0] * g.Cells[1]
	x = idx % g.Cells[0]
	y = (idx % area) / g.Cells[0]
	z = idx / area
	return x, y, z
}

// CellParticles returns the particle indices binned into cell c.
func (g *SpatialGrid) CellParticles(c int) []int32 {
	return g.Index[g.Start[c]:g.Start[c+1]]
}

// SearchRange returns, per dimension, how many cells away from a given cell
// the pair search has to look to cover RCut.
//
// Cells tile fractional space, so the range along a dimension is set by the
// largest fractional extent a cutoff-length displacement can reach there. For
// a skewed box that extent picks up the folds of the higher dimensions: a
// displacement mostly along c still moves the fractional y coordinate by
// c[1]/b[1] of the box.
func (g *SpatialGrid) SearchRange() [3]int {
	a, b, c := g.Box.Vectors()

	// Rows of the inverse box matrix. A Cartesian displacement d has
	// fractional coordinates f[dim] = rows[dim] . d, so a cutoff sphere
	// spans RCut*|rows[dim]| in fractional units along dim.
	rows := [3]geom.Vec{
		{1 / a[0], -b[0] / (a[0] * b[1]),
			(b[0]*c[1] - b[1]*c[0]) / (a[0] * b[1] * c[2])},
		{0, 1 / b[1], -c[1] / (b[1] * c[2])},
		{0, 0, 1 / c[2]},
	}

	var r [3]int
	for dim := 0; dim < 3; dim++ {
		frac := g.RCut * math.Sqrt(rows[dim].Norm2())
		r[dim] = int(math.Ceil(frac * float64(g.Cells[dim])))
		if r[dim] > g.Cells[dim] {
			r[dim] = g.Cells[dim]
		}
	}
	return r
}

// pMod computes the positive modulo x % y.
func pMod(x, y int) int {
	m := x % y
	if m < 0 {
		m += y
	}
	return m
}
