package pairlist

import "sort"

// Exclusions is the static table of chemically excluded particle pairs
// (bonded 1-2/1-3/1-4 neighbors and exclusion groups). It is built once at
// setup from the topology and read-only afterwards.
type Exclusions struct {
	adj   [][]int32
	count int
}

// NewExclusions returns an empty table for n particles.
func NewExclusions(n int) *Exclusions {
	return &Exclusions{adj: make([][]int32, n)}
}

// AddPair marks particles i and j as mutually excluded.
func (ex *Exclusions) AddPair(i, j int) {
	if i == j {
		return
	}
	if ex.has(int32(i), int32(j)) {
		return
	}
	ex.adj[i] = insert(ex.adj[i], int32(j))
	ex.adj[j] = insert(ex.adj[j], int32(i))
	ex.count++
}

// AddGroup excludes every pair within the given set of particles.
func (ex *Exclusions) AddGroup(members []int) {
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			ex.AddPair(members[a], members[b])
		}
	}
}

// Excluded returns true if the (i, j) pair is excluded.
func (ex *Exclusions) Excluded(i, j int32) bool {
	if ex == nil {
		return false
	}
	return ex.has(i, j)
}

// Empty returns true if no pairs have been added.
func (ex *Exclusions) Empty() bool {
	return ex == nil || ex.count == 0
}

func (ex *Exclusions) has(i, j int32) bool {
	a := ex.adj[i]
	k := sort.Search(len(a), func(m int) bool { return a[m] >= j })
	return k < len(a) && a[k] == j
}

func insert(a []int32, v int32) []int32 {
	k := sort.Search(len(a), func(m int) bool { return a[m] >= v })
	a = append(a, 0)
	copy(a[k+1:], a[k:])
	a[k] = v
	return a
}
