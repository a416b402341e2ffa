package kernel

import (
	"fmt"
	"math"
)

// Electrostatics selects the short-range electrostatics treatment.
type Electrostatics int

const (
	// Coulomb is the plain 1/r interaction truncated at the cutoff.
	Coulomb Electrostatics = iota
	// CoulombShifted subtracts the potential at the cutoff so the energy
	// goes to zero smoothly at rc.
	CoulombShifted
	// ReactionField adds the reaction-field response of a dielectric
	// continuum beyond the cutoff.
	ReactionField
	// EwaldReal is the real-space complement of an Ewald (or PME) sum; the
	// reciprocal part is computed by an external grid solver sharing the
	// same splitting parameter.
	EwaldReal
)

func (e Electrostatics) String() string {
	switch e {
	case Coulomb:
		return "Coulomb"
	case CoulombShifted:
		return "CoulombShifted"
	case ReactionField:
		return "ReactionField"
	case EwaldReal:
		return "EwaldReal"
	}
	return fmt.Sprintf("Electrostatics(%d)", int(e))
}

// needsExclusionForces reports whether the treatment has to visit excluded
// pairs inside the cutoff: reaction field and Ewald both apply a correction
// there that the long-range part implicitly adds back.
func (e Electrostatics) needsExclusionForces() bool {
	return e == ReactionField || e == EwaldReal
}

// coulombTerms is the per-pair electrostatics strategy, chosen once at
// workspace construction. Both methods are only called for pairs inside
// the cutoff. Returns are per unit charge product: force returns F·r/qq
// (the caller multiplies by 1/r²), energy returns V/qq. rinvExcl is rinv
// masked to zero for excluded pairs, so correction-only terms survive.
type coulombTerms[T Real] interface {
	force(rsq, rinv, rinvExcl T) T
	energy(rsq, rinv, rinvExcl T, interact bool) T
}

type plainCoulomb[T Real] struct{}

func (plainCoulomb[T]) force(rsq, rinv, rinvExcl T) T { return rinvExcl }

func (plainCoulomb[T]) energy(rsq, rinv, rinvExcl T, interact bool) T {
	return rinvExcl
}

type shiftedCoulomb[T Real] struct {
	vShift T // 1/rc
}

func (c shiftedCoulomb[T]) force(rsq, rinv, rinvExcl T) T { return rinvExcl }

func (c shiftedCoulomb[T]) energy(rsq, rinv, rinvExcl T, interact bool) T {
	if !interact {
		return 0
	}
	return rinvExcl - c.vShift
}

type reactionField[T Real] struct {
	krf, crf T
}

// newReactionField derives the reaction-field constants from the cutoff and
// the relative dielectric beyond it. epsRF <= 0 means the conducting
// (epsilon -> infinity) limit.
func newReactionField[T Real](rc, epsRF float64) reactionField[T] {
	rc3 := rc * rc * rc
	var krf float64
	if epsRF <= 0 {
		krf = 1 / (2 * rc3)
	} else {
		krf = (epsRF - 1) / ((2*epsRF + 1) * rc3)
	}
	crf := 1/rc + krf*rc*rc
	return reactionField[T]{T(krf), T(crf)}
}

func (c reactionField[T]) force(rsq, rinv, rinvExcl T) T {
	return rinvExcl - 2*c.krf*rsq
}

func (c reactionField[T]) energy(rsq, rinv, rinvExcl T, interact bool) T {
	return rinvExcl + c.krf*rsq - c.crf
}

type ewaldReal[T Real] struct {
	beta   T
	shift  T // erfc(beta*rc)/rc, subtracted from interacting pairs
	twoBPi T // 2*beta/sqrt(pi)
}

func newEwaldReal[T Real](rc, beta float64, shifted bool) ewaldReal[T] {
	e := ewaldReal[T]{
		beta:   T(beta),
		twoBPi: T(2 * beta / math.Sqrt(math.Pi)),
	}
	if shifted {
		e.shift = T(math.Erfc(beta*rc) / rc)
	}
	return e
}

func (c ewaldReal[T]) force(rsq, rinv, rinvExcl T) T {
	r := rsq * rinv // masked r
	br := float64(c.beta * r)
	corr := T(math.Erf(br))*rinv - c.twoBPi*T(math.Exp(-br*br))
	// For interacting pairs this is erfc(br)/r plus the Gaussian term; for
	// excluded pairs it is minus the reciprocal-space complement that the
	// grid solver adds back.
	return rinvExcl - corr
}

func (c ewaldReal[T]) energy(rsq, rinv, rinvExcl T, interact bool) T {
	r := rsq * rinv
	br := float64(c.beta * r)
	v := rinvExcl - T(math.Erf(br))*rinv
	if interact {
		v -= c.shift
	}
	return v
}

// newCoulombTerms builds the strategy for the configured treatment.
func newCoulombTerms[T Real](opts *Options) (coulombTerms[T], error) {
	switch opts.Electrostatics {
	case Coulomb:
		return plainCoulomb[T]{}, nil
	case CoulombShifted:
		return shiftedCoulomb[T]{T(1 / opts.Cutoff)}, nil
	case ReactionField:
		return newReactionField[T](opts.Cutoff, opts.EpsilonRF), nil
	case EwaldReal:
		if opts.EwaldBeta <= 0 {
			return nil, fmt.Errorf(
				"kernel: Ewald real-space kernel needs a positive splitting "+
					"parameter, got %g", opts.EwaldBeta,
			)
		}
		return newEwaldReal[T](
			opts.Cutoff, opts.EwaldBeta, opts.ShiftPotential,
		), nil
	}
	return nil, fmt.Errorf(
		"kernel: unknown electrostatics treatment %d", int(opts.Electrostatics),
	)
}
