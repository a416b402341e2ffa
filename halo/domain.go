package halo

import (
	"context"
	"fmt"
	"time"

	"github.com/akvist/nonbond/geom"
)

// DefaultTimeout bounds every individual send and receive.
const DefaultTimeout = 10 * time.Second

// Domain is one rank's view of the decomposed system: its owned particles
// followed by the ghosts gathered from neighbors. Local indices below
// NOwned() are owned; the rest are ghost images whose forces are returned
// to their owners by ReturnForces.
type Domain struct {
	// Timeout bounds each transport operation. Zero means DefaultTimeout.
	Timeout time.Duration

	dec    *Decomposition
	tp     Transport
	rank   int
	coords [3]int
	lo, hi geom.Vec
	margin float64

	nOwned int
	global []int32
	xs     []geom.Vec

	// Forward-phase bookkeeping, indexed [axis][dir]. sent holds the local
	// indices shipped in that phase; recvOff/recvLen locate the ghost block
	// received in it. Reused by RefreshGhosts and ReturnForces.
	sent      [3][2][]int32
	sentShift [3][2]geom.Vec
	recvOff   [3][2]int
	recvLen   [3][2]int
}

// NewDomain sets up rank's side of the exchange. margin is the interaction
// range ghosts must cover, usually cutoff plus the pair-list buffer. Every
// domain must be at least two margins wide so the two slabs of an axis
// cannot overlap; overlap would duplicate ghosts and double-count pairs.
func NewDomain(
	dec *Decomposition, rank int, tp Transport, margin float64,
) (*Domain, error) {
	if rank < 0 || rank >= dec.NRanks() {
		return nil, fmt.Errorf("halo: rank %d outside %d-rank grid", rank, dec.NRanks())
	}
	if margin <= 0 {
		return nil, fmt.Errorf("halo: margin %g must be positive", margin)
	}
	for a := 0; a < 3; a++ {
		if dec.edge[a] < 2*margin {
			return nil, fmt.Errorf(
				"halo: domain extent %g along axis %d is smaller than twice "+
					"the margin %g", dec.edge[a], a, margin,
			)
		}
	}

	dm := &Domain{dec: dec, tp: tp, rank: rank, margin: margin}
	dm.coords = dec.Coords(rank)
	dm.lo, dm.hi = dec.Bounds(rank)
	return dm, nil
}

// SetOwned installs the rank's owned particles. Positions are wrapped into
// the primary cell; they must land inside the rank's bounds.
func (dm *Domain) SetOwned(global []int32, xs []geom.Vec) error {
	if len(global) != len(xs) {
		return fmt.Errorf("halo: %d ids for %d positions", len(global), len(xs))
	}
	dm.nOwned = len(xs)
	dm.global = append(dm.global[:0], global...)
	dm.xs = append(dm.xs[:0], xs...)
	for i := range dm.xs {
		dm.dec.Box.Wrap(&dm.xs[i])
		if dm.dec.RankOf(dm.xs[i]) != dm.rank {
			return fmt.Errorf(
				"halo: particle %d at %v is not owned by rank %d",
				global[i], dm.xs[i], dm.rank,
			)
		}
	}
	return nil
}

// UpdateOwned refreshes owned coordinates in place, for reuse steps where
// ownership has not been re-derived. Order must match the SetOwned call.
func (dm *Domain) UpdateOwned(xs []geom.Vec) error {
	if len(xs) != dm.nOwned {
		return fmt.Errorf("halo: update with %d positions for %d owned",
			len(xs), dm.nOwned)
	}
	for i := range xs {
		dm.xs[i] = xs[i]
		dm.dec.Box.Wrap(&dm.xs[i])
	}
	return nil
}

// NOwned returns the number of owned particles.
func (dm *Domain) NOwned() int { return dm.nOwned }

// Positions returns owned positions followed by ghost images. Valid until
// the next gather or refresh.
func (dm *Domain) Positions() []geom.Vec { return dm.xs }

// GlobalIDs returns the global particle id of each local slot.
func (dm *Domain) GlobalIDs() []int32 { return dm.global }

func (dm *Domain) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	d := dm.Timeout
	if d == 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(parent, d)
}

// slab selects, among the first limit local particles, those within margin
// of the face faced by direction d along axis a, with the periodic shift
// their coordinates need on the receiving side.
func (dm *Domain) slab(a, d, limit int) ([]int32, geom.Vec) {
	var idx []int32
	if d == 0 {
		for i := 0; i < limit; i++ {
			if dm.xs[i][a] < dm.lo[a]+dm.margin {
				idx = append(idx, int32(i))
			}
		}
	} else {
		for i := 0; i < limit; i++ {
			if dm.xs[i][a] > dm.hi[a]-dm.margin {
				idx = append(idx, int32(i))
			}
		}
	}

	var shift geom.Vec
	if d == 0 && dm.coords[a] == 0 {
		shift[a] = dm.dec.edge[a] * float64(dm.dec.Ranks[a])
	} else if d == 1 && dm.coords[a] == dm.dec.Ranks[a]-1 {
		shift[a] = -dm.dec.edge[a] * float64(dm.dec.Ranks[a])
	}
	return idx, shift
}

func (dm *Domain) fail(peer, step int, op string, err error) error {
	return &CommunicationFailure{
		Rank: dm.rank, Peer: peer, Step: step, Op: op, Err: err,
	}
}

// swap sends m to one neighbor of the phase and receives the symmetric
// message from the other, validating its tags.
func (dm *Domain) swap(
	parent context.Context, to, from int, m *Message,
) (*Message, error) {
	ctx, cancel := dm.ctx(parent)
	defer cancel()

	if err := dm.tp.Send(ctx, to, m); err != nil {
		return nil, dm.fail(to, m.Step, "send", err)
	}
	got, err := dm.tp.Recv(ctx, from)
	if err != nil {
		return nil, dm.fail(from, m.Step, "recv", err)
	}
	if got.Kind != m.Kind || got.Step != m.Step ||
		got.Axis != m.Axis || got.Dir != m.Dir {
		return nil, dm.fail(from, m.Step, "recv", fmt.Errorf(
			"tag mismatch: got (kind %d, step %d, axis %d, dir %d), "+
				"want (kind %d, step %d, axis %d, dir %d)",
			got.Kind, got.Step, got.Axis, got.Dir,
			m.Kind, m.Step, m.Axis, m.Dir,
		))
	}
	return got, nil
}

func shiftedCoords(xs []geom.Vec, idx []int32, shift geom.Vec) []geom.Vec {
	out := make([]geom.Vec, len(idx))
	for k, i := range idx {
		out[k] = xs[i]
		out[k].Add(&shift)
	}
	return out
}

// GatherGhosts reselects and fetches ghosts for a search step. Previous
// ghosts are discarded. Axes run X, Y, Z; within an axis the minus
// direction completes before the plus direction. Selection for an axis
// includes ghosts received on earlier axes, which is what carries edge and
// corner images without diagonal messages.
func (dm *Domain) GatherGhosts(ctx context.Context, step int) error {
	dm.xs = dm.xs[:dm.nOwned]
	dm.global = dm.global[:dm.nOwned]

	for a := 0; a < 3; a++ {
		pool := len(dm.xs) // same-axis ghosts must not bounce back
		for d := 0; d < 2; d++ {
			idx, shift := dm.slab(a, d, pool)
			dm.sent[a][d] = idx
			dm.sentShift[a][d] = shift

			to := dm.dec.Neighbor(dm.rank, a, 2*d-1)
			from := dm.dec.Neighbor(dm.rank, a, 1-2*d)

			gl := make([]int32, len(idx))
			for k, i := range idx {
				gl[k] = dm.global[i]
			}
			m := &Message{
				Kind: KindGather, Step: step, Axis: a, Dir: d,
				Payload: shiftedCoords(dm.xs, idx, shift),
				Global:  gl,
			}
			got, err := dm.swap(ctx, to, from, m)
			if err != nil {
				return err
			}
			if len(got.Payload) != len(got.Global) {
				return dm.fail(from, step, "recv", fmt.Errorf(
					"%d coordinates with %d ids", len(got.Payload), len(got.Global),
				))
			}

			dm.recvOff[a][d] = len(dm.xs)
			dm.recvLen[a][d] = len(got.Payload)
			dm.xs = append(dm.xs, got.Payload...)
			dm.global = append(dm.global, got.Global...)
		}
	}
	return nil
}

// RefreshGhosts resends coordinates along the selection from the last
// GatherGhosts, overwriting ghost blocks in place. Used on reuse steps; the
// pair-list buffer covers the drift since the last selection.
func (dm *Domain) RefreshGhosts(ctx context.Context, step int) error {
	for a := 0; a < 3; a++ {
		for d := 0; d < 2; d++ {
			to := dm.dec.Neighbor(dm.rank, a, 2*d-1)
			from := dm.dec.Neighbor(dm.rank, a, 1-2*d)

			m := &Message{
				Kind: KindRefresh, Step: step, Axis: a, Dir: d,
				Payload: shiftedCoords(dm.xs, dm.sent[a][d], dm.sentShift[a][d]),
			}
			got, err := dm.swap(ctx, to, from, m)
			if err != nil {
				return err
			}
			if len(got.Payload) != dm.recvLen[a][d] {
				return dm.fail(from, step, "recv", fmt.Errorf(
					"refresh block of %d for a selection of %d",
					len(got.Payload), dm.recvLen[a][d],
				))
			}
			copy(dm.xs[dm.recvOff[a][d]:], got.Payload)
		}
	}
	return nil
}

// ReturnForces sends ghost force contributions back to their owners and
// adds received contributions into forces, which must be indexed like
// Positions(). Phases run in exact reverse of the gather (Z, Y, X; plus
// before minus) so contributions deposited on late-phase ghosts are merged
// before the earlier phase carries them further home.
func (dm *Domain) ReturnForces(ctx context.Context, step int, forces []geom.Vec) error {
	if len(forces) != len(dm.xs) {
		return fmt.Errorf("halo: %d forces for %d local particles",
			len(forces), len(dm.xs))
	}

	for a := 2; a >= 0; a-- {
		for d := 1; d >= 0; d-- {
			// Reverse of forward phase (a, d): the ghost block we received
			// goes back to its sender; our sent slab's forces come home.
			to := dm.dec.Neighbor(dm.rank, a, 1-2*d)
			from := dm.dec.Neighbor(dm.rank, a, 2*d-1)

			off, n := dm.recvOff[a][d], dm.recvLen[a][d]
			m := &Message{
				Kind: KindReturn, Step: step, Axis: a, Dir: d,
				Payload: append([]geom.Vec(nil), forces[off:off+n]...),
			}
			got, err := dm.swap(ctx, to, from, m)
			if err != nil {
				return err
			}
			if len(got.Payload) != len(dm.sent[a][d]) {
				return dm.fail(from, step, "recv", fmt.Errorf(
					"force block of %d for a slab of %d",
					len(got.Payload), len(dm.sent[a][d]),
				))
			}
			for k, i := range dm.sent[a][d] {
				forces[i].Add(&got.Payload[k])
			}
		}
	}
	return nil
}
