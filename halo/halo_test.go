package halo

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akvist/nonbond/geom"
)

func randomPositions(n int, l float64, seed int64) []geom.Vec {
	gen := rand.New(rand.NewSource(seed))
	xs := make([]geom.Vec, n)
	for i := range xs {
		for dim := 0; dim < 3; dim++ {
			xs[i][dim] = gen.Float64() * l
		}
	}
	return xs
}

// distribute splits particles over the decomposition by owner rank.
func distribute(dec *Decomposition, xs []geom.Vec) (globals [][]int32, owned [][]geom.Vec) {
	globals = make([][]int32, dec.NRanks())
	owned = make([][]geom.Vec, dec.NRanks())
	for i, x := range xs {
		r := dec.RankOf(x)
		globals[r] = append(globals[r], int32(i))
		owned[r] = append(owned[r], x)
	}
	return globals, owned
}

func makeDomains(t *testing.T, dec *Decomposition, margin float64, xs []geom.Vec) []*Domain {
	ts := NewChannelMesh(dec.NRanks())
	globals, owned := distribute(dec, xs)

	doms := make([]*Domain, dec.NRanks())
	for r := range doms {
		dm, err := NewDomain(dec, r, ts[r], margin)
		require.NoError(t, err)
		require.NoError(t, dm.SetOwned(globals[r], owned[r]))
		doms[r] = dm
	}
	return doms
}

// runAll executes f for every domain concurrently, as the real exchange
// does, and fails on the first error.
func runAll(t *testing.T, doms []*Domain, f func(*Domain) error) {
	var wg sync.WaitGroup
	errs := make([]error, len(doms))
	for i := range doms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f(doms[i])
		}(i)
	}
	wg.Wait()
	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
}

func TestDecompositionGeometry(t *testing.T) {
	box := geom.NewCubicBox(6.0)
	dec, err := NewDecomposition(box, 3, 2, 1)
	require.NoError(t, err)

	assert.Equal(t, 6, dec.NRanks())
	for r := 0; r < dec.NRanks(); r++ {
		assert.Equal(t, r, dec.Rank(dec.Coords(r)))
	}

	// Periodic wrap along x.
	assert.Equal(t, 2, dec.Neighbor(0, 0, -1))
	assert.Equal(t, 0, dec.Neighbor(2, 0, 1))
	// Single-rank axis neighbors itself.
	assert.Equal(t, 0, dec.Neighbor(0, 2, 1))

	assert.Equal(t, 0, dec.RankOf(geom.Vec{0.5, 0.5, 0.5}))
	assert.Equal(t, 2, dec.RankOf(geom.Vec{5.5, 0.5, 0.5}))
	assert.Equal(t, 0, dec.RankOf(geom.Vec{6.5, 0.5, 0.5}), "wraps before assigning")

	lo, hi := dec.Bounds(4)
	assert.Equal(t, geom.Vec{2, 3, 0}, lo)
	assert.Equal(t, geom.Vec{4, 6, 6}, hi)
}

func TestDecompositionRejectsBadInput(t *testing.T) {
	box, err := geom.NewBox(
		geom.Vec{6, 0, 0}, geom.Vec{2, 6, 0}, geom.Vec{0, 0, 6},
	)
	require.NoError(t, err)
	_, err = NewDecomposition(box, 2, 1, 1)
	assert.Error(t, err, "triclinic boxes cannot be decomposed")

	_, err = NewDecomposition(geom.NewCubicBox(6.0), 0, 1, 1)
	assert.Error(t, err)

	dec, err := NewDecomposition(geom.NewCubicBox(4.0), 2, 1, 1)
	require.NoError(t, err)
	ts := NewChannelMesh(2)
	_, err = NewDomain(dec, 0, ts[0], 1.5)
	assert.Error(t, err, "domain narrower than two margins")
}

func TestGhostSelection(t *testing.T) {
	const l, margin = 4.0, 0.9
	box := geom.NewCubicBox(l)
	dec, err := NewDecomposition(box, 2, 1, 1)
	require.NoError(t, err)

	xs := randomPositions(48, l, 41)
	doms := makeDomains(t, dec, margin, xs)
	runAll(t, doms, func(dm *Domain) error {
		return dm.GatherGhosts(context.Background(), 0)
	})

	for r, dm := range doms {
		lo, hi := dec.Bounds(r)

		type ghost struct {
			id         int32
			ix, iy, iz int
		}
		local := make(map[ghost]geom.Vec)
		for slot := dm.NOwned(); slot < len(dm.Positions()); slot++ {
			p := dm.Positions()[slot]
			id := dm.GlobalIDs()[slot]
			w := xs[id]
			box.Wrap(&w)
			g := ghost{
				id: id,
				ix: int(math.Round((p[0] - w[0]) / l)),
				iy: int(math.Round((p[1] - w[1]) / l)),
				iz: int(math.Round((p[2] - w[2]) / l)),
			}
			_, dup := local[g]
			require.False(t, dup, "rank %d got image %v twice", r, g)
			local[g] = p
		}

		// Every image inside the margin-expanded bounds, except the owned
		// zero-shift copy, must be present exactly where expected.
		want := 0
		for j := range xs {
			w := xs[j]
			box.Wrap(&w)
			for ix := -1; ix <= 1; ix++ {
				for iy := -1; iy <= 1; iy++ {
					for iz := -1; iz <= 1; iz++ {
						p := geom.Vec{
							w[0] + float64(ix)*l,
							w[1] + float64(iy)*l,
							w[2] + float64(iz)*l,
						}
						inside := true
						for a := 0; a < 3; a++ {
							if p[a] <= lo[a]-margin || p[a] >= hi[a]+margin {
								inside = false
							}
						}
						ownCopy := ix == 0 && iy == 0 && iz == 0 &&
							dec.RankOf(w) == r
						if !inside || ownCopy {
							continue
						}
						want++
						got, ok := local[ghost{int32(j), ix, iy, iz}]
						if assert.True(t, ok, "rank %d missing image of %d (%d,%d,%d)",
							r, j, ix, iy, iz) {
							for a := 0; a < 3; a++ {
								assert.InDelta(t, p[a], got[a], 1e-9)
							}
						}
					}
				}
			}
		}
		assert.Equal(t, want, len(local), "rank %d has stray ghosts", r)
	}
}

// pairForce is a smooth test interaction: f = d / |d|^4.
func pairForce(d *geom.Vec) geom.Vec {
	rsq := d.Norm2()
	f := *d
	f.ScaleSelf(1 / (rsq * rsq))
	return f
}

func TestForcesMatchSingleDomain(t *testing.T) {
	const l, rc = 4.0, 0.9
	rc2 := rc * rc
	box := geom.NewCubicBox(l)
	xs := randomPositions(64, l, 43)

	// Single-domain reference over minimum-image pairs.
	ref := make([]geom.Vec, len(xs))
	for i := 0; i < len(xs); i++ {
		for j := i + 1; j < len(xs); j++ {
			d := xs[i]
			d.Sub(&xs[j])
			box.MinImage(&d)
			if d.Norm2() >= rc2 {
				continue
			}
			f := pairForce(&d)
			ref[i].Add(&f)
			ref[j].Sub(&f)
		}
	}

	grids := [][3]int{{2, 1, 1}, {2, 2, 2}}
	for _, rg := range grids {
		dec, err := NewDecomposition(box, rg[0], rg[1], rg[2])
		require.NoError(t, err)
		doms := makeDomains(t, dec, rc, xs)

		runAll(t, doms, func(dm *Domain) error {
			return dm.GatherGhosts(context.Background(), 0)
		})

		// Each pair is computed on the rank owning the lower global id; the
		// partner's share lands on its local copy, ghost or owned, and the
		// reverse exchange carries ghost shares home.
		forces := make([][]geom.Vec, len(doms))
		for r, dm := range doms {
			ps := dm.Positions()
			gl := dm.GlobalIDs()
			forces[r] = make([]geom.Vec, len(ps))
			for i := 0; i < dm.NOwned(); i++ {
				for j := 0; j < len(ps); j++ {
					if gl[i] >= gl[j] {
						continue
					}
					d := ps[i]
					d.Sub(&ps[j])
					if d.Norm2() >= rc2 {
						continue
					}
					f := pairForce(&d)
					forces[r][i].Add(&f)
					forces[r][j].Sub(&f)
				}
			}
		}

		runAll(t, doms, func(dm *Domain) error {
			r := dm.rank
			return dm.ReturnForces(context.Background(), 0, forces[r])
		})

		got := make([]geom.Vec, len(xs))
		for r, dm := range doms {
			for i := 0; i < dm.NOwned(); i++ {
				got[dm.GlobalIDs()[i]] = forces[r][i]
			}
		}
		for i := range ref {
			for a := 0; a < 3; a++ {
				tol := 1e-9 * math.Max(math.Abs(ref[i][a]), 1.0)
				assert.InDelta(t, ref[i][a], got[i][a], tol,
					"grid %v, particle %d", rg, i)
			}
		}
	}
}

func TestRefreshGhosts(t *testing.T) {
	const l, margin = 4.0, 0.9
	box := geom.NewCubicBox(l)
	dec, err := NewDecomposition(box, 2, 1, 1)
	require.NoError(t, err)

	xs := randomPositions(48, l, 47)
	doms := makeDomains(t, dec, margin, xs)
	runAll(t, doms, func(dm *Domain) error {
		return dm.GatherGhosts(context.Background(), 0)
	})

	// Record each ghost's image offset from its owner.
	type key struct{ rank, slot int }
	offsets := make(map[key]geom.Vec)
	for r, dm := range doms {
		for slot := dm.NOwned(); slot < len(dm.Positions()); slot++ {
			off := dm.Positions()[slot]
			w := xs[dm.GlobalIDs()[slot]]
			box.Wrap(&w)
			off.Sub(&w)
			offsets[key{r, slot}] = off
		}
	}

	// Drift everything a little, well under the margin.
	gen := rand.New(rand.NewSource(48))
	moved := make([]geom.Vec, len(xs))
	for i := range xs {
		moved[i] = xs[i]
		for a := 0; a < 3; a++ {
			moved[i][a] += (gen.Float64() - 0.5) * 0.05
		}
	}

	runAll(t, doms, func(dm *Domain) error {
		upd := make([]geom.Vec, dm.NOwned())
		for i := 0; i < dm.NOwned(); i++ {
			upd[i] = moved[dm.GlobalIDs()[i]]
		}
		if err := dm.UpdateOwned(upd); err != nil {
			return err
		}
		return dm.RefreshGhosts(context.Background(), 1)
	})

	for r, dm := range doms {
		for slot := dm.NOwned(); slot < len(dm.Positions()); slot++ {
			w := moved[dm.GlobalIDs()[slot]]
			box.Wrap(&w)
			off := offsets[key{r, slot}]
			for a := 0; a < 3; a++ {
				assert.InDelta(
					t, w[a]+off[a], dm.Positions()[slot][a], 1e-12,
					"rank %d slot %d", r, slot,
				)
			}
		}
	}
}

func TestTimeoutIsCommunicationFailure(t *testing.T) {
	box := geom.NewCubicBox(4.0)
	dec, err := NewDecomposition(box, 2, 1, 1)
	require.NoError(t, err)

	ts := NewChannelMesh(2)
	dm, err := NewDomain(dec, 0, ts[0], 0.9)
	require.NoError(t, err)
	dm.Timeout = 20 * time.Millisecond
	require.NoError(t, dm.SetOwned(nil, nil))

	// Rank 1 never answers.
	err = dm.GatherGhosts(context.Background(), 0)
	var cf *CommunicationFailure
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, 0, cf.Rank)
	assert.Equal(t, 1, cf.Peer)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTagMismatchIsCommunicationFailure(t *testing.T) {
	box := geom.NewCubicBox(4.0)
	dec, err := NewDecomposition(box, 2, 1, 1)
	require.NoError(t, err)

	ts := NewChannelMesh(2)
	dm, err := NewDomain(dec, 0, ts[0], 0.9)
	require.NoError(t, err)
	require.NoError(t, dm.SetOwned(nil, nil))

	// A stale message from a previous step arrives first.
	stale := &Message{Kind: KindGather, Step: 99, Axis: 0, Dir: 0}
	require.NoError(t, ts[1].Send(context.Background(), 0, stale))

	err = dm.GatherGhosts(context.Background(), 0)
	var cf *CommunicationFailure
	require.ErrorAs(t, err, &cf)
	assert.Contains(t, cf.Error(), "tag mismatch")
}
