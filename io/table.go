package io

import (
	"fmt"

	"github.com/phil-mansfield/table"
)

// ReadTypeTable reads per-type Lennard-Jones parameters from a whitespace
// separated text table with columns: type index, sigma, epsilon. Lines
// starting with # are comments. Every type in [0, n) must appear exactly
// once; order in the file does not matter.
func ReadTypeTable(fname string) (sigma, eps []float64, err error) {
	cols, err := table.ReadTable(fname, []int{0, 1, 2}, nil)
	if err != nil {
		return nil, nil, err
	}

	idxs, sigCol, epsCol := cols[0], cols[1], cols[2]
	n := len(idxs)
	sigma = make([]float64, n)
	eps = make([]float64, n)
	seen := make([]bool, n)

	for row := range idxs {
		i := int(idxs[row])
		if float64(i) != idxs[row] || i < 0 || i >= n {
			return nil, nil, fmt.Errorf(
				"io: type index %g on row %d of %s is not in [0, %d)",
				idxs[row], row, fname, n,
			)
		}
		if seen[i] {
			return nil, nil, fmt.Errorf(
				"io: type %d appears twice in %s", i, fname,
			)
		}
		if sigCol[row] < 0 || epsCol[row] < 0 {
			return nil, nil, fmt.Errorf(
				"io: negative LJ parameters for type %d in %s", i, fname,
			)
		}
		seen[i] = true
		sigma[i] = sigCol[row]
		eps[i] = epsCol[row]
	}
	return sigma, eps, nil
}
