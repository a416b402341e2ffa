/*package kernel evaluates short-range nonbonded forces and energies over a
cluster pair list. The inner loop is a scalar transcription of a
SIMD-cluster kernel: per cluster pair it applies one shared periodic shift,
walks the unmasked atom pairs, and accumulates force, energy, and virial
into a workspace. Workspaces are private to one worker; merging them is the
caller's job.

The kernels are generic over the arithmetic precision. All pair arithmetic
runs in the instantiated type; converting inputs into the workspace is the
only place values change width.
*/
package kernel

import (
	"fmt"
	"math"

	"github.com/akvist/nonbond/cluster"
	"github.com/akvist/nonbond/pairlist"
)

// Real is the precision the kernels are instantiated at.
type Real interface {
	~float32 | ~float64
}

// CoulombConstantMD is 1/(4 pi eps0) in kJ mol⁻¹ nm e⁻², the value used
// with MD units (nm, kJ/mol, elementary charges).
const CoulombConstantMD = 138.935458

// DefaultMinDistance is the default floor for pair distances, guarding the
// 1/r² singularity against coincident coordinates. Clamping is never an
// error, but trips are counted: overlapping atoms are an input problem the
// caller should be able to diagnose.
const DefaultMinDistance = 1e-3

// PreconditionError reports malformed kernel input: a pair list and
// workspace that disagree about the cluster count, or an entry range
// outside the list. These are caller bugs, not runtime conditions.
type PreconditionError struct {
	Msg string
}

func (err *PreconditionError) Error() string { return err.Msg }

// Options configures a kernel workspace. The zero value is not valid;
// Cutoff must be positive.
type Options struct {
	Cutoff         float64
	Electrostatics Electrostatics

	// EwaldBeta is the Ewald splitting parameter, shared with the
	// external reciprocal-space solver. Required for EwaldReal.
	EwaldBeta float64

	// EpsilonRF is the dielectric constant beyond the cutoff for
	// ReactionField; <= 0 selects the conducting limit.
	EpsilonRF float64

	// CoulombConstant scales charge products into energy units. Zero
	// means CoulombConstantMD.
	CoulombConstant float64

	// MinDistance floors pair distances before inversion. Zero means
	// DefaultMinDistance.
	MinDistance float64

	// ShiftPotential shifts the electrostatic and Lennard-Jones
	// potentials to zero at the cutoff (where the treatment supports it).
	ShiftPotential bool

	// Groups is the number of energy groups. Values below 2 disable
	// per-group energy binning.
	Groups int
}

// Workspace holds one worker's converted inputs and accumulation buffers.
// Accumulators are public so the reduction step can drain them; everything
// else is fixed at construction.
type Workspace[T Real] struct {
	FX, FY, FZ []T

	VCoulomb, VVdw T

	// GroupCoulomb and GroupVdw are Groups*Groups matrices binning the
	// energies by (group i, group j) pair, folded onto gi <= gj. Nil when
	// group binning is off.
	GroupCoulomb, GroupVdw []T

	// Virial accumulates sum(d ⊗ f) in the order xx, yy, zz, xy, xz, yz.
	// The conventional factor 1/2 is applied during reduction.
	Virial [6]T

	// ClampCount is how many visited pairs hit the distance floor.
	ClampCount int

	nClusters  int
	x, y, z, q []T
	typRow     []int32 // type row offset into c6/c12, sentinel remapped
	typCol     []int32 // type column index, sentinel remapped
	group      []int32
	c6, c12    []T
	stride     int

	coul     coulombTerms[T]
	qfac     T
	rc2      T
	minRsq   T
	rcInv6   T
	shiftVdw bool
	needExcl bool
	nGroups  int
}

// NewWorkspace converts a cluster set into kernel layout at precision T.
// One workspace per worker; they share nothing.
func NewWorkspace[T Real](
	set *cluster.Set, p *Params, opts Options,
) (*Workspace[T], error) {
	if opts.Cutoff <= 0 {
		return nil, fmt.Errorf("kernel: cutoff %g must be positive", opts.Cutoff)
	}

	coul, err := newCoulombTerms[T](&opts)
	if err != nil {
		return nil, err
	}

	minDist := opts.MinDistance
	if minDist == 0 {
		minDist = DefaultMinDistance
	}
	qfac := opts.CoulombConstant
	if qfac == 0 {
		qfac = CoulombConstantMD
	}

	n := set.NClusters * cluster.Width
	ws := &Workspace[T]{
		nClusters: set.NClusters,
		x:         make([]T, n),
		y:         make([]T, n),
		z:         make([]T, n),
		q:         make([]T, n),
		typRow:    make([]int32, n),
		typCol:    make([]int32, n),
		group:     make([]int32, n),
		FX:        make([]T, n),
		FY:        make([]T, n),
		FZ:        make([]T, n),
		stride:    p.NTypes + 1,

		coul:     coul,
		qfac:     T(qfac),
		rc2:      T(opts.Cutoff * opts.Cutoff),
		minRsq:   T(minDist * minDist),
		shiftVdw: opts.ShiftPotential,
		needExcl: opts.Electrostatics.needsExclusionForces(),
	}

	rcInv := 1 / opts.Cutoff
	rc3 := rcInv * rcInv * rcInv
	ws.rcInv6 = T(rc3 * rc3)

	if opts.Groups >= 2 {
		ws.nGroups = opts.Groups
		ws.GroupCoulomb = make([]T, opts.Groups*opts.Groups)
		ws.GroupVdw = make([]T, opts.Groups*opts.Groups)
	}

	for slot := range set.Type {
		t := set.Type[slot]
		if t < 0 {
			t = int32(p.NTypes) // sentinel row, zero coefficients
		} else if int(t) >= p.NTypes {
			return nil, fmt.Errorf(
				"kernel: particle type %d outside the %d-type table",
				t, p.NTypes,
			)
		}
		ws.typRow[slot] = t * int32(ws.stride)
		ws.typCol[slot] = t

		g := set.Group[slot]
		if ws.nGroups > 0 && int(g) >= ws.nGroups {
			return nil, fmt.Errorf(
				"kernel: energy group %d outside the configured %d groups",
				g, ws.nGroups,
			)
		}
		ws.group[slot] = g
	}

	ws.c6 = make([]T, len(p.c6))
	ws.c12 = make([]T, len(p.c12))
	for i := range p.c6 {
		ws.c6[i] = T(p.c6[i])
		ws.c12[i] = T(p.c12[i])
	}

	ws.LoadPositions(set)
	for slot := range set.Q {
		ws.q[slot] = T(set.Q[slot])
	}

	return ws, nil
}

// LoadPositions refreshes the workspace coordinates from the cluster set.
// Called on every step; cheap compared to the pair loop.
func (ws *Workspace[T]) LoadPositions(set *cluster.Set) {
	for slot := range set.X {
		ws.x[slot] = T(set.X[slot])
		ws.y[slot] = T(set.Y[slot])
		ws.z[slot] = T(set.Z[slot])
	}
}

// Reset zeroes the accumulators for the next step.
func (ws *Workspace[T]) Reset() {
	for i := range ws.FX {
		ws.FX[i], ws.FY[i], ws.FZ[i] = 0, 0, 0
	}
	ws.VCoulomb, ws.VVdw = 0, 0
	for i := range ws.GroupCoulomb {
		ws.GroupCoulomb[i] = 0
		ws.GroupVdw[i] = 0
	}
	ws.Virial = [6]T{}
	ws.ClampCount = 0
}

// Compute evaluates pair-list entries [lo, hi) into ws. Different workers
// call this on disjoint ranges of the same list with their own workspaces.
func Compute[T Real](ws *Workspace[T], list *pairlist.List, lo, hi int) error {
	if list == nil {
		return &PreconditionError{"kernel: nil pair list"}
	}
	if list.NClusters != ws.nClusters {
		return &PreconditionError{fmt.Sprintf(
			"kernel: pair list built over %d clusters, workspace over %d",
			list.NClusters, ws.nClusters,
		)}
	}
	if lo < 0 || hi > len(list.Entries) || lo > hi {
		return &PreconditionError{fmt.Sprintf(
			"kernel: entry range [%d, %d) outside list of %d",
			lo, hi, len(list.Entries),
		)}
	}

	const w = cluster.Width

	for k := lo; k < hi; k++ {
		e := &list.Entries[k]

		// The correction mask only matters for treatments that touch
		// excluded pairs.
		process := e.Mask
		if ws.needExcl {
			process |= e.Corr
		}
		if process == 0 {
			continue
		}

		ai := int(e.CI) * w
		aj := int(e.CJ) * w
		sx, sy, sz := T(e.Shift[0]), T(e.Shift[1]), T(e.Shift[2])

		for ii := 0; ii < w; ii++ {
			rowBits := (uint16(process) >> uint(ii*w)) & 0xf
			if rowBits == 0 {
				continue
			}

			xi := ws.x[ai+ii]
			yi := ws.y[ai+ii]
			zi := ws.z[ai+ii]
			qi := ws.qfac * ws.q[ai+ii]
			ti := int(ws.typRow[ai+ii])
			gi := ws.group[ai+ii]

			var fix, fiy, fiz T

			for jj := 0; jj < w; jj++ {
				if rowBits&(1<<uint(jj)) == 0 {
					continue
				}
				interact := e.Mask.Bit(ii, jj)

				dx := xi - (ws.x[aj+jj] + sx)
				dy := yi - (ws.y[aj+jj] + sy)
				dz := zi - (ws.z[aj+jj] + sz)
				rsq := dx*dx + dy*dy + dz*dz

				if rsq >= ws.rc2 {
					continue
				}
				if rsq < ws.minRsq {
					rsq = ws.minRsq
					ws.ClampCount++
				}

				rinv := T(1 / math.Sqrt(float64(rsq)))
				rinvsq := rinv * rinv
				rinvExcl := rinv
				if !interact {
					rinvExcl = 0
				}

				qq := qi * ws.q[aj+jj]
				frCoul := qq * ws.coul.force(rsq, rinv, rinvExcl)
				vCoul := qq * ws.coul.energy(rsq, rinv, rinvExcl, interact)

				var frLJ, vLJ T
				if interact {
					tj := int(ws.typCol[aj+jj])
					c6 := ws.c6[ti+tj]
					c12 := ws.c12[ti+tj]
					rinv6 := rinvsq * rinvsq * rinvsq
					frLJ = (12*c12*rinv6 - 6*c6) * rinv6
					vLJ = (c12*rinv6 - c6) * rinv6
					if ws.shiftVdw {
						vLJ -= (c12*ws.rcInv6 - c6) * ws.rcInv6
					}
				}

				fscal := (frCoul + frLJ) * rinvsq
				fx := fscal * dx
				fy := fscal * dy
				fz := fscal * dz

				fix += fx
				fiy += fy
				fiz += fz
				ws.FX[aj+jj] -= fx
				ws.FY[aj+jj] -= fy
				ws.FZ[aj+jj] -= fz

				ws.VCoulomb += vCoul
				ws.VVdw += vLJ
				if ws.nGroups > 0 {
					gj := ws.group[aj+jj]
					a, b := gi, gj
					if a > b {
						a, b = b, a
					}
					bin := int(a)*ws.nGroups + int(b)
					ws.GroupCoulomb[bin] += vCoul
					ws.GroupVdw[bin] += vLJ
				}

				ws.Virial[0] += dx * fx
				ws.Virial[1] += dy * fy
				ws.Virial[2] += dz * fz
				ws.Virial[3] += dx * fy
				ws.Virial[4] += dx * fz
				ws.Virial[5] += dy * fz
			}

			ws.FX[ai+ii] += fix
			ws.FY[ai+ii] += fiy
			ws.FZ[ai+ii] += fiz
		}
	}

	return nil
}
