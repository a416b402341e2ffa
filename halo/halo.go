/*package halo moves boundary-region particle data between the domains of a
spatially decomposed system. Coordinates travel outward before force
evaluation (owned particles near a face become ghosts on the neighbor) and
ghost forces travel back afterwards. Exchanges are phased per axis: an axis
completes, with all received data merged, before the next axis starts, so
edge and corner ghosts ride the later phases instead of needing diagonal
neighbor messages.
*/
package halo

import (
	"fmt"

	"github.com/akvist/nonbond/geom"
)

// Decomposition is a rectangular rank grid over the simulation box. Rank 0
// owns the lowest corner; the x coordinate varies fastest.
type Decomposition struct {
	Box   geom.Box
	Ranks [3]int

	edge [3]float64
}

// NewDecomposition splits box into nx*ny*nz domains. Triclinic boxes are
// not supported; decomposition planes must be axis-aligned.
func NewDecomposition(box geom.Box, nx, ny, nz int) (*Decomposition, error) {
	if box.Triclinic() {
		return nil, fmt.Errorf("halo: domain decomposition requires a rectangular box")
	}
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("halo: invalid rank grid %dx%dx%d", nx, ny, nz)
	}
	dec := &Decomposition{Box: box, Ranks: [3]int{nx, ny, nz}}
	d := box.Diag()
	for a := 0; a < 3; a++ {
		dec.edge[a] = d[a] / float64(dec.Ranks[a])
	}
	return dec, nil
}

// NRanks returns the total number of domains.
func (dec *Decomposition) NRanks() int {
	return dec.Ranks[0] * dec.Ranks[1] * dec.Ranks[2]
}

// Coords returns the rank's grid coordinates.
func (dec *Decomposition) Coords(rank int) [3]int {
	cx := rank % dec.Ranks[0]
	cy := (rank / dec.Ranks[0]) % dec.Ranks[1]
	cz := rank / (dec.Ranks[0] * dec.Ranks[1])
	return [3]int{cx, cy, cz}
}

// Rank returns the rank at the given grid coordinates.
func (dec *Decomposition) Rank(c [3]int) int {
	return (c[2]*dec.Ranks[1]+c[1])*dec.Ranks[0] + c[0]
}

// Neighbor returns the periodic neighbor of rank along axis in direction
// dir (-1 or +1). With a single rank along the axis this is rank itself.
func (dec *Decomposition) Neighbor(rank, axis, dir int) int {
	c := dec.Coords(rank)
	n := dec.Ranks[axis]
	c[axis] = ((c[axis]+dir)%n + n) % n
	return dec.Rank(c)
}

// Bounds returns the rank's owned region, [lo, hi) per axis.
func (dec *Decomposition) Bounds(rank int) (lo, hi geom.Vec) {
	c := dec.Coords(rank)
	for a := 0; a < 3; a++ {
		lo[a] = float64(c[a]) * dec.edge[a]
		hi[a] = lo[a] + dec.edge[a]
	}
	return lo, hi
}

// RankOf returns the rank owning position x, wrapping x into the box first.
func (dec *Decomposition) RankOf(x geom.Vec) int {
	dec.Box.Wrap(&x)
	var c [3]int
	for a := 0; a < 3; a++ {
		c[a] = int(x[a] / dec.edge[a])
		if c[a] >= dec.Ranks[a] { // wrapped coordinate at the upper edge
			c[a] = dec.Ranks[a] - 1
		}
	}
	return dec.Rank(c)
}
