/*package geom contains primitives for working with positions and
displacements inside periodic simulation boxes, including triclinic ones.
*/
package geom

import (
	"fmt"
	"math"
)

// Vec is a point or displacement in simulation coordinates.
type Vec [3]float64

func (v *Vec) Add(u *Vec) {
	v[0] += u[0]
	v[1] += u[1]
	v[2] += u[2]
}

func (v *Vec) Sub(u *Vec) {
	v[0] -= u[0]
	v[1] -= u[1]
	v[2] -= u[2]
}

func (v *Vec) ScaleSelf(s float64) {
	v[0] *= s
	v[1] *= s
	v[2] *= s
}

// Norm2 returns the squared length of v.
func (v *Vec) Norm2() float64 {
	return v[0]*v[0] + v[1]*v[1] + v[2]*v[2]
}

// DegenerateBoxError is returned when a box is too small to apply the
// minimum-image convention at the requested interaction range.
type DegenerateBoxError struct {
	Dim    int
	Extent float64
	RCut   float64
}

func (err *DegenerateBoxError) Error() string {
	return fmt.Sprintf(
		"box extent %g along dimension %d is smaller than twice the "+
			"interaction range %g", err.Extent, err.Dim, err.RCut,
	)
}

// Box is a periodic simulation box. The box vectors form a lower-triangular
// matrix: a = (ax, 0, 0), b = (bx, by, 0), c = (cx, cy, cz). A cubic box is
// the special case where the off-diagonal terms vanish and ax = by = cz.
type Box struct {
	v         [3]Vec
	triclinic bool
}

// NewCubicBox returns a cubic box with edge length l.
func NewCubicBox(l float64) Box {
	box := Box{}
	box.v[0] = Vec{l, 0, 0}
	box.v[1] = Vec{0, l, 0}
	box.v[2] = Vec{0, 0, l}
	return box
}

// NewBox returns a box with the given vectors. The vectors must be
// lower-triangular with positive diagonal elements, and the skew of the
// off-diagonal terms may not exceed half the corresponding diagonal, which
// is the usual reduced form for triclinic cells.
func NewBox(a, b, c Vec) (Box, error) {
	box := Box{v: [3]Vec{a, b, c}}

	if a[1] != 0 || a[2] != 0 || b[2] != 0 {
		return Box{}, fmt.Errorf(
			"box vectors are not lower-triangular: a = %v, b = %v", a, b,
		)
	}
	if a[0] <= 0 || b[1] <= 0 || c[2] <= 0 {
		return Box{}, fmt.Errorf(
			"box diagonal (%g, %g, %g) must be positive", a[0], b[1], c[2],
		)
	}
	if math.Abs(b[0]) > a[0]/2 ||
		math.Abs(c[0]) > a[0]/2 ||
		math.Abs(c[1]) > b[1]/2 {
		return Box{}, fmt.Errorf(
			"box is too skewed: off-diagonal terms may not exceed half " +
				"the diagonal",
		)
	}

	box.triclinic = b[0] != 0 || c[0] != 0 || c[1] != 0
	return box, nil
}

// Vectors returns the three box vectors.
func (box *Box) Vectors() (a, b, c Vec) {
	return box.v[0], box.v[1], box.v[2]
}

// Diag returns the diagonal elements of the box matrix. For a rectangular
// box these are the edge lengths.
func (box *Box) Diag() Vec {
	return Vec{box.v[0][0], box.v[1][1], box.v[2][2]}
}

// Triclinic returns true if the box has nonzero off-diagonal terms.
func (box *Box) Triclinic() bool { return box.triclinic }

// Volume returns the box volume, the determinant of the box matrix.
func (box *Box) Volume() float64 {
	return box.v[0][0] * box.v[1][1] * box.v[2][2]
}

// Check returns a DegenerateBoxError if any perpendicular extent of the box
// is smaller than twice rCut, in which case the minimum-image convention
// cannot be applied safely.
func (box *Box) Check(rCut float64) error {
	d := box.Diag()
	for dim := 0; dim < 3; dim++ {
		if d[dim] < 2*rCut {
			return &DegenerateBoxError{dim, d[dim], rCut}
		}
	}
	return nil
}

// Frac converts x to fractional coordinates along the box vectors. The box
// matrix is lower-triangular, so this is a forward substitution.
func (box *Box) Frac(x *Vec) Vec {
	fz := x[2] / box.v[2][2]
	fy := (x[1] - fz*box.v[2][1]) / box.v[1][1]
	fx := (x[0] - fz*box.v[2][0] - fy*box.v[1][0]) / box.v[0][0]
	return Vec{fx, fy, fz}
}

// Wrap maps x into the primary cell, [0, 1) in fractional coordinates.
func (box *Box) Wrap(x *Vec) {
	f := box.Frac(x)
	for dim := 2; dim >= 0; dim-- {
		n := math.Floor(f[dim])
		if n != 0 {
			x[0] -= n * box.v[dim][0]
			x[1] -= n * box.v[dim][1]
			x[2] -= n * box.v[dim][2]
		}
	}
}

// MinImage replaces d with the shortest periodic image of d. Dimensions are
// folded in z, y, x order so the triclinic off-diagonal terms are accounted
// for before the dimensions they contribute to.
func (box *Box) MinImage(d *Vec) {
	for dim := 2; dim >= 0; dim-- {
		for d[dim] > box.v[dim][dim]/2 {
			d[0] -= box.v[dim][0]
			d[1] -= box.v[dim][1]
			d[2] -= box.v[dim][2]
		}
		for d[dim] < -box.v[dim][dim]/2 {
			d[0] += box.v[dim][0]
			d[1] += box.v[dim][1]
			d[2] += box.v[dim][2]
		}
	}
}

// ShiftVec returns the displacement corresponding to crossing the periodic
// boundary (ix, iy, iz) times along each box vector. Pair-list entries store
// one such shift per cluster pair.
func (box *Box) ShiftVec(ix, iy, iz int) Vec {
	fx, fy, fz := float64(ix), float64(iy), float64(iz)
	return Vec{
		fx*box.v[0][0] + fy*box.v[1][0] + fz*box.v[2][0],
		fx*box.v[0][1] + fy*box.v[1][1] + fz*box.v[2][1],
		fx*box.v[0][2] + fy*box.v[1][2] + fz*box.v[2][2],
	}
}
