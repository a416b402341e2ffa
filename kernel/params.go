package kernel

import (
	"fmt"
	"math"
)

// CombinationRule selects how per-type Lennard-Jones parameters combine
// into pair coefficients.
type CombinationRule int

const (
	// Geometric combines C6 and C12 as geometric means.
	Geometric CombinationRule = iota
	// LorentzBerthelot averages sigmas and takes the geometric mean of
	// epsilons.
	LorentzBerthelot
)

func (r CombinationRule) String() string {
	switch r {
	case Geometric:
		return "Geometric"
	case LorentzBerthelot:
		return "LorentzBerthelot"
	}
	return fmt.Sprintf("CombinationRule(%d)", int(r))
}

// Params is the symmetric table of pair Lennard-Jones coefficients, built
// once per run from per-type parameters and read-only afterwards. The table
// carries one extra sentinel type with zero coefficients for cluster
// padding slots.
type Params struct {
	NTypes   int
	c6, c12  []float64
	sentinel int
}

// NewParams derives the pair table from per-type (sigma, epsilon) under the
// given combination rule.
func NewParams(rule CombinationRule, sigma, eps []float64) (*Params, error) {
	if len(sigma) != len(eps) {
		return nil, fmt.Errorf(
			"kernel: %d sigmas but %d epsilons", len(sigma), len(eps),
		)
	}
	if rule != Geometric && rule != LorentzBerthelot {
		return nil, fmt.Errorf("kernel: invalid combination rule %d", int(rule))
	}
	for i := range sigma {
		if sigma[i] < 0 || eps[i] < 0 {
			return nil, fmt.Errorf(
				"kernel: negative LJ parameters for type %d", i,
			)
		}
	}

	nt := len(sigma)
	p := &Params{NTypes: nt, sentinel: nt}
	stride := nt + 1
	p.c6 = make([]float64, stride*stride)
	p.c12 = make([]float64, stride*stride)

	for i := 0; i < nt; i++ {
		for j := 0; j < nt; j++ {
			var s, e float64
			switch rule {
			case LorentzBerthelot:
				s = (sigma[i] + sigma[j]) / 2
				e = math.Sqrt(eps[i] * eps[j])
			case Geometric:
				// Geometric on the C6/C12 level is the same as geometric
				// means of both sigma and epsilon.
				s = math.Sqrt(sigma[i] * sigma[j])
				e = math.Sqrt(eps[i] * eps[j])
			}
			s6 := s * s * s * s * s * s
			p.c6[i*stride+j] = 4 * e * s6
			p.c12[i*stride+j] = 4 * e * s6 * s6
		}
	}

	return p, nil
}

// NewParamsC6C12 builds the table from an explicit symmetric nt*nt pair
// coefficient matrix, bypassing combination rules.
func NewParamsC6C12(nt int, c6, c12 []float64) (*Params, error) {
	if len(c6) != nt*nt || len(c12) != nt*nt {
		return nil, fmt.Errorf(
			"kernel: pair tables must be %d*%d, got %d and %d",
			nt, nt, len(c6), len(c12),
		)
	}
	p := &Params{NTypes: nt, sentinel: nt}
	stride := nt + 1
	p.c6 = make([]float64, stride*stride)
	p.c12 = make([]float64, stride*stride)
	for i := 0; i < nt; i++ {
		for j := 0; j < nt; j++ {
			p.c6[i*stride+j] = c6[i*nt+j]
			p.c12[i*stride+j] = c12[i*nt+j]
		}
	}
	return p, nil
}

// Pair returns the C6 and C12 coefficients for a type pair. Negative type
// indices address the sentinel type.
func (p *Params) Pair(ti, tj int32) (c6, c12 float64) {
	i, j := int(ti), int(tj)
	if i < 0 {
		i = p.sentinel
	}
	if j < 0 {
		j = p.sentinel
	}
	stride := p.NTypes + 1
	return p.c6[i*stride+j], p.c12[i*stride+j]
}
