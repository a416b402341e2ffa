/*package pairlist builds the cluster pair list consumed by the nonbonded
kernels: for every i-cluster, the j-clusters within the buffered cutoff,
each with a periodic shift and a 16-bit mask saying which of the Width*Width
atom pairs actually interact.

Each unordered cluster pair appears exactly once. The double loop is pruned
symmetrically (cj >= ci, with periodic self images kept for exactly one of
the two opposing shifts), and the kernels evaluate both force directions per
entry.
*/
package pairlist

import (
	"fmt"
	"math"

	"github.com/akvist/nonbond/cluster"
	"github.com/akvist/nonbond/geom"
	"github.com/akvist/nonbond/grid"
)

// Mask marks which atom pairs of a cluster pair interact: bit ii*Width+jj
// is set when slot ii of the i-cluster interacts with slot jj of the
// j-cluster. Cleared bits are exclusions, padding slots, or the self-pair
// triangle.
type Mask uint16

// MaskAll has every pair bit set.
const MaskAll Mask = 0xffff

// Bit reports whether the (ii, jj) pair bit is set.
func (m Mask) Bit(ii, jj int) bool {
	return m&(1<<(uint(ii*cluster.Width+jj))) != 0
}

func (m Mask) clear(ii, jj int) Mask {
	return m &^ (1 << uint(ii*cluster.Width+jj))
}

// Entry is one cluster pair: while evaluating it, every atom of cluster CJ
// is displaced by Shift, the periodic image offset shared by the whole
// cluster pair.
//
// Mask is the interaction mask. Corr is the correction mask: pairs that are
// chemically excluded but must still be visited by kernels that subtract a
// long-range real-space complement (reaction field or Ewald). A pair bit is
// never set in both.
type Entry struct {
	CI, CJ int32
	Mask   Mask
	Corr   Mask
	Shift  geom.Vec
}

// PairListOverflowError reports that the candidate pair count exceeded the
// configured memory budget. Truncating the list instead would silently
// drop interactions, so this is fatal.
type PairListOverflowError struct {
	Entries, Budget int
}

func (err *PairListOverflowError) Error() string {
	return fmt.Sprintf(
		"pair list grew to %d entries, exceeding its budget of %d",
		err.Entries, err.Budget,
	)
}

// List is the output of one search step, immutable until the next rebuild.
type List struct {
	Entries        []Entry
	Cutoff, Buffer float64
	NClusters      int
}

// MaxSafeSteps estimates for how many integration steps of length dt the
// list stays valid if no particle moves faster than vMax: the list misses
// nothing until two particles have each crossed half the buffer. This is a
// diagnostic; rebuild cadence is enforced by the caller.
func (l *List) MaxSafeSteps(vMax, dt float64) int {
	if vMax <= 0 || dt <= 0 {
		return math.MaxInt32
	}
	steps := math.Floor(l.Buffer / 2 / (vMax * dt))
	if steps > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(steps)
}

// Builder holds pair-list construction parameters. The zero value is not
// usable; Cutoff must be positive.
type Builder struct {
	Cutoff float64
	Buffer float64

	// MaxEntries is the entry budget; builds that would exceed it fail
	// with a PairListOverflowError. Zero means unlimited.
	MaxEntries int
}

// Build emits the pair list for one cluster set. ex may be nil when the
// topology has no exclusions.
func (b *Builder) Build(
	g *grid.SpatialGrid, set *cluster.Set, ex *Exclusions,
) (*List, error) {
	if b.Cutoff <= 0 {
		return nil, fmt.Errorf("pairlist: cutoff %g must be positive", b.Cutoff)
	}
	rl := b.Cutoff + b.Buffer
	if rl > g.RCut {
		return nil, fmt.Errorf(
			"pairlist: buffered cutoff %g exceeds the grid's search range %g",
			rl, g.RCut,
		)
	}

	rl2 := rl * rl
	r := g.SearchRange()

	list := &List{
		Cutoff:    b.Cutoff,
		Buffer:    b.Buffer,
		NClusters: set.NClusters,
	}

	// Per-cluster padding masks, so padding bits are cleared with two ANDs
	// instead of slot lookups per candidate.
	padI := make([]Mask, set.NClusters)
	padJ := make([]Mask, set.NClusters)
	for ci := 0; ci < set.NClusters; ci++ {
		mi, mj := MaskAll, MaskAll
		for s := 0; s < cluster.Width; s++ {
			if set.Orig[ci*cluster.Width+s] >= 0 {
				continue
			}
			for k := 0; k < cluster.Width; k++ {
				mi = mi.clear(s, k)
				mj = mj.clear(k, s)
			}
		}
		padI[ci], padJ[ci] = mi, mj
	}

	for ci := 0; ci < set.NClusters; ci++ {
		cx, cy, cz := g.CellCoords(int(set.Cell[ci]))

		for dz := -r[2]; dz <= r[2]; dz++ {
			kz := floorDiv(cz+dz, g.Cells[2])
			for dy := -r[1]; dy <= r[1]; dy++ {
				ky := floorDiv(cy+dy, g.Cells[1])
				for dx := -r[0]; dx <= r[0]; dx++ {
					kx := floorDiv(cx+dx, g.Cells[0])

					c := g.CellIndex(cx+dx, cy+dy, cz+dz)
					shift := g.Box.ShiftVec(kx, ky, kz)

					lo, hi := set.ClustersInCell(c)
					for cj := lo; cj < hi; cj++ {
						entry, ok := b.candidate(
							set, ci, int(cj), kx, ky, kz, &shift, rl2,
						)
						if !ok {
							continue
						}
						entry.Mask &= padI[ci] & padJ[cj]

						if !ex.Empty() {
							foldExclusions(&entry, set, ex)
						}

						list.Entries = append(list.Entries, entry)
						if b.MaxEntries > 0 && len(list.Entries) > b.MaxEntries {
							return nil, &PairListOverflowError{
								len(list.Entries), b.MaxEntries,
							}
						}
					}
				}
			}
		}
	}

	return list, nil
}

// candidate applies the symmetric-elimination and bounding-box tests to one
// (ci, cj, image) triple.
func (b *Builder) candidate(
	set *cluster.Set, ci, cj, kx, ky, kz int, shift *geom.Vec, rl2 float64,
) (Entry, bool) {
	if cj < ci {
		return Entry{}, false
	}

	mask := MaskAll
	if cj == ci {
		if kx == 0 && ky == 0 && kz == 0 {
			// Self pair: keep only the strict upper triangle so each pair
			// inside the cluster is counted once and never against itself.
			for ii := 0; ii < cluster.Width; ii++ {
				for jj := 0; jj <= ii; jj++ {
					mask = mask.clear(ii, jj)
				}
			}
		} else if !lexPositive(kz, ky, kx) {
			// A cluster meets its own periodic image once per opposing
			// shift pair; keep one of the two.
			return Entry{}, false
		}
	}

	if set.BBDistSq(ci, cj, shift) > rl2 {
		return Entry{}, false
	}

	return Entry{CI: int32(ci), CJ: int32(cj), Mask: mask, Shift: *shift}, true
}

func foldExclusions(entry *Entry, set *cluster.Set, ex *Exclusions) {
	for ii := 0; ii < cluster.Width; ii++ {
		oi := set.Orig[int(entry.CI)*cluster.Width+ii]
		if oi < 0 {
			continue
		}
		for jj := 0; jj < cluster.Width; jj++ {
			if !entry.Mask.Bit(ii, jj) {
				continue
			}
			oj := set.Orig[int(entry.CJ)*cluster.Width+jj]
			if oj < 0 {
				continue
			}
			if ex.Excluded(oi, oj) {
				entry.Mask = entry.Mask.clear(ii, jj)
				entry.Corr |= 1 << uint(ii*cluster.Width+jj)
			}
		}
	}
}

func lexPositive(a, b, c int) bool {
	if a != 0 {
		return a > 0
	}
	if b != 0 {
		return b > 0
	}
	return c > 0
}

// floorDiv computes the floor of x/y for positive y.
func floorDiv(x, y int) int {
	q := x / y
	if x%y != 0 && (x < 0) != (y < 0) {
		q--
	}
	return q
}
