/*package nonbond computes short-range nonbonded forces and energies for a
molecular system in a periodic box: neighbor search over a cell grid,
fixed-width particle clusters, a buffered Verlet pair list, and scalar
cluster kernels for electrostatics and Lennard-Jones interactions, evaluated
by a pool of workers with per-worker accumulation buffers.

The Engine is driven by an external integrator: it receives positions and a
search flag every step and returns forces, energies, and the virial. Search
steps rebuild the grid, clusters, and pair list; reuse steps keep them and
rely on the pair-list buffer.
*/
package nonbond

import (
	"fmt"
	"log"
	"math"
	"runtime"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/akvist/nonbond/cluster"
	"github.com/akvist/nonbond/geom"
	"github.com/akvist/nonbond/grid"
	"github.com/akvist/nonbond/io"
	"github.com/akvist/nonbond/kernel"
	"github.com/akvist/nonbond/pairlist"
)

// Topology is the static per-particle description, immutable for the run.
// Changing it requires Reinit, which drops all search state.
type Topology struct {
	Charges []float64
	Types   []int32
	Groups  []int32

	// Sigma and Eps are per-type Lennard-Jones parameters, combined into
	// pair coefficients under the configured combination rule.
	Sigma, Eps []float64

	Exclusions *pairlist.Exclusions
}

func (top *Topology) check() error {
	n := len(top.Charges)
	if len(top.Types) != n {
		return fmt.Errorf("nonbond: %d types for %d charges", len(top.Types), n)
	}
	if top.Groups != nil && len(top.Groups) != n {
		return fmt.Errorf("nonbond: %d groups for %d charges", len(top.Groups), n)
	}
	if len(top.Sigma) != len(top.Eps) {
		return fmt.Errorf("nonbond: %d sigmas for %d epsilons",
			len(top.Sigma), len(top.Eps))
	}
	for i, t := range top.Types {
		if t < 0 || int(t) >= len(top.Sigma) {
			return fmt.Errorf("nonbond: particle %d has type %d, but the "+
				"topology has %d types", i, t, len(top.Sigma))
		}
	}
	return nil
}

// Result is one step's output. Forces are per input particle, in input
// order, always in float64 regardless of the kernel precision.
type Result struct {
	Forces []geom.Vec

	Coulomb, Vdw float64

	// Dispersion is the homogeneous long-range tail beyond the cutoff,
	// already included in Vdw. Zero unless enabled in the config.
	Dispersion float64

	// GroupCoulomb and GroupVdw are Groups x Groups energy matrices,
	// upper-triangular (the (i, j) bin with i <= j holds the whole
	// unordered pair sum). Nil unless Groups >= 2 in the config.
	GroupCoulomb, GroupVdw *mat.Dense

	// Virial is the 3x3 tensor sum of -(1/2) d (x) f over all pairs.
	Virial *mat.SymDense

	// Clamped counts pairs that hit the distance floor this step.
	// Nonzero values mean overlapping input coordinates.
	Clamped int

	// Entries is the pair-list size, for diagnostics.
	Entries int
}

// Engine evaluates nonbonded forces for one domain.
type Engine struct {
	cfg  io.RunConfig
	top  Topology
	opts kernel.Options

	params  *kernel.Params
	workers int
	logf    bool
	single  bool

	// tailC6 is (2 pi / 3) sum_ij C6(t_i, t_j) over all particle pairs,
	// precomputed for the homogeneous dispersion tail. Zero when the
	// correction is disabled.
	tailC6 float64

	g    *grid.SpatialGrid
	set  *cluster.Set
	list *pairlist.List
	bld  pairlist.Builder

	ws64 []*kernel.Workspace[float64]
	ws32 []*kernel.Workspace[float32]

	ms runtime.MemStats
}

// New validates the configuration against the topology and prepares the
// parameter tables. Search state is built on the first Step call.
func New(cfg *io.RunConfig, top *Topology) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng := &Engine{cfg: *cfg}

	el, err := cfg.ElectrostaticsType()
	if err != nil {
		return nil, err
	}
	eng.opts = kernel.Options{
		Cutoff:         cfg.Cutoff,
		Electrostatics: el,
		EwaldBeta:      cfg.EwaldBeta,
		EpsilonRF:      cfg.EpsilonRF,
		MinDistance:    cfg.MinDistance,
		ShiftPotential: cfg.ShiftPotential,
		Groups:         cfg.Groups,
	}
	eng.bld = pairlist.Builder{
		Cutoff:     cfg.Cutoff,
		Buffer:     cfg.Buffer,
		MaxEntries: cfg.MaxPairEntries,
	}

	eng.workers = cfg.Workers
	if eng.workers == 0 {
		eng.workers = runtime.NumCPU()
	}
	eng.logf = cfg.Log
	eng.single = cfg.Single()

	if err := eng.Reinit(top); err != nil {
		return nil, err
	}
	return eng, nil
}

// Reinit installs a new topology. All search state is dropped; the next
// Step must be a search step.
func (eng *Engine) Reinit(top *Topology) error {
	if err := top.check(); err != nil {
		return err
	}
	rule, err := eng.cfg.Rule()
	if err != nil {
		return err
	}
	params, err := kernel.NewParams(rule, top.Sigma, top.Eps)
	if err != nil {
		return err
	}

	eng.top = *top
	eng.params = params
	eng.tailC6 = 0
	if eng.cfg.DispersionCorrection {
		eng.tailC6 = tailC6(params, top.Types, len(top.Sigma))
	}
	eng.g, eng.set, eng.list = nil, nil, nil
	eng.ws64, eng.ws32 = nil, nil
	return nil
}

// tailC6 returns (2 pi / 3) sum over all ordered particle pairs of the C6
// coefficient, computed from per-type counts rather than the n^2 pair loop.
func tailC6(p *kernel.Params, types []int32, nt int) float64 {
	counts := make([]float64, nt)
	for _, t := range types {
		counts[t]++
	}
	sum := 0.0
	for a := 0; a < nt; a++ {
		for b := 0; b < nt; b++ {
			c6, _ := p.Pair(int32(a), int32(b))
			sum += counts[a] * counts[b] * c6
		}
	}
	return 2 * math.Pi / 3 * sum
}

// MaxSafeSteps estimates how many further reuse steps the current pair list
// tolerates for a maximum particle speed and timestep. Purely diagnostic;
// the caller decides the search stride.
func (eng *Engine) MaxSafeSteps(vMax, dt float64) (int, error) {
	if eng.list == nil {
		return 0, fmt.Errorf("nonbond: no pair list built yet")
	}
	return eng.list.MaxSafeSteps(vMax, dt), nil
}

// Entries returns the current pair-list size, or 0 before the first search.
func (eng *Engine) Entries() int {
	if eng.list == nil {
		return 0
	}
	return len(eng.list.Entries)
}

func (eng *Engine) search(xs []geom.Vec, box geom.Box) error {
	eng.g = &grid.SpatialGrid{}
	if err := eng.g.Rebuild(xs, box, eng.cfg.Cutoff+eng.cfg.Buffer); err != nil {
		return err
	}

	props := cluster.Properties{
		Charges: eng.top.Charges,
		Types:   eng.top.Types,
		Groups:  eng.top.Groups,
	}
	set, err := cluster.Build(eng.g, xs, props)
	if err != nil {
		return err
	}
	eng.set = set

	eng.list, err = eng.bld.Build(eng.g, eng.set, eng.top.Exclusions)
	if err != nil {
		return err
	}

	if eng.single {
		eng.ws32, err = newPool[float32](eng.set, eng.params, eng.opts, eng.workers)
	} else {
		eng.ws64, err = newPool[float64](eng.set, eng.params, eng.opts, eng.workers)
	}
	if err != nil {
		return err
	}

	if eng.logf {
		runtime.ReadMemStats(&eng.ms)
		log.Printf(
			"nonbond: search step: %d clusters, %d pair entries, "+
				"Alloc: %5d MB, Sys: %5d MB",
			eng.set.NClusters, len(eng.list.Entries),
			eng.ms.Alloc>>20, eng.ms.Sys>>20,
		)
	}
	return nil
}

// Step evaluates forces and energies for the given positions. Search steps
// rebuild all search state; reuse steps require that no particle has moved
// more than half the buffer since the last search.
func (eng *Engine) Step(xs []geom.Vec, box geom.Box, search bool) (*Result, error) {
	if len(xs) != len(eng.top.Charges) {
		return nil, fmt.Errorf("nonbond: %d positions for %d particles",
			len(xs), len(eng.top.Charges))
	}
	if eng.set == nil && !search {
		return nil, fmt.Errorf("nonbond: first step after init must be a search step")
	}

	if search {
		if err := eng.search(xs, box); err != nil {
			return nil, err
		}
	} else {
		if err := eng.set.Refresh(xs); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Forces: make([]geom.Vec, len(xs)),
		Virial: mat.NewSymDense(3, nil),
	}
	var err error
	if eng.single {
		err = runPool(eng.ws32, eng.set, eng.list, eng.workers, search, res)
	} else {
		err = runPool(eng.ws64, eng.set, eng.list, eng.workers, search, res)
	}
	if err != nil {
		return nil, err
	}
	res.Entries = len(eng.list.Entries)

	if eng.tailC6 != 0 {
		rc := eng.cfg.Cutoff
		res.Dispersion = -eng.tailC6 / (box.Volume() * rc * rc * rc)
		res.Vdw += res.Dispersion
	}

	if eng.logf && res.Clamped > 0 {
		log.Printf(
			"nonbond: %d pair distances clamped to the floor; the input "+
				"has overlapping particles", res.Clamped,
		)
	}
	return res, nil
}

// newPool builds one kernel workspace per worker.
func newPool[T kernel.Real](
	set *cluster.Set, p *kernel.Params, opts kernel.Options, workers int,
) ([]*kernel.Workspace[T], error) {
	wss := make([]*kernel.Workspace[T], workers)
	for id := range wss {
		ws, err := kernel.NewWorkspace[T](set, p, opts)
		if err != nil {
			return nil, err
		}
		wss[id] = ws
	}
	return wss, nil
}

// runPool forks the pair-list range over the workers, joins them, and
// reduces the per-worker buffers into res. The reduction is serial, so each
// particle's force is an exact any-order sum of its contributions.
func runPool[T kernel.Real](
	wss []*kernel.Workspace[T], set *cluster.Set, list *pairlist.List,
	workers int, reload bool, res *Result,
) error {
	for _, ws := range wss {
		if !reload {
			ws.LoadPositions(set)
		}
		ws.Reset()
	}

	n := len(list.Entries)
	chunk := (n + workers - 1) / workers
	errs := make([]error, workers)
	out := make(chan int, workers)

	job := func(id int) {
		lo := id * chunk
		hi := lo + chunk
		if lo > n {
			lo = n
		}
		if hi > n {
			hi = n
		}
		errs[id] = kernel.Compute(wss[id], list, lo, hi)
		out <- id
	}
	for id := 0; id < workers-1; id++ {
		go job(id)
	}
	job(workers - 1)
	for i := 0; i < workers; i++ {
		<-out
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	reduce(wss, set, res)
	return nil
}

// addSlots accumulates a worker buffer into the float64 merge target.
func addSlots[T kernel.Real](dst []float64, src []T) {
	if s, ok := any(src).([]float64); ok {
		floats.Add(dst, s)
		return
	}
	for i, v := range src {
		dst[i] += float64(v)
	}
}

func reduce[T kernel.Real](
	wss []*kernel.Workspace[T], set *cluster.Set, res *Result,
) {
	slots := set.NClusters * cluster.Width
	fx := make([]float64, slots)
	fy := make([]float64, slots)
	fz := make([]float64, slots)

	var vir [6]float64
	var groupCoul, groupVdw []float64
	if len(wss[0].GroupCoulomb) > 0 {
		groupCoul = make([]float64, len(wss[0].GroupCoulomb))
		groupVdw = make([]float64, len(wss[0].GroupVdw))
	}

	for _, ws := range wss {
		addSlots(fx, ws.FX)
		addSlots(fy, ws.FY)
		addSlots(fz, ws.FZ)
		res.Coulomb += float64(ws.VCoulomb)
		res.Vdw += float64(ws.VVdw)
		for k := 0; k < 6; k++ {
			vir[k] += float64(ws.Virial[k])
		}
		if groupCoul != nil {
			addSlots(groupCoul, ws.GroupCoulomb)
			addSlots(groupVdw, ws.GroupVdw)
		}
		res.Clamped += ws.ClampCount
	}

	for slot, p := range set.Orig {
		if p < 0 {
			continue
		}
		res.Forces[p][0] += fx[slot]
		res.Forces[p][1] += fy[slot]
		res.Forces[p][2] += fz[slot]
	}

	res.Virial.SetSym(0, 0, -0.5*vir[0])
	res.Virial.SetSym(1, 1, -0.5*vir[1])
	res.Virial.SetSym(2, 2, -0.5*vir[2])
	res.Virial.SetSym(0, 1, -0.5*vir[3])
	res.Virial.SetSym(0, 2, -0.5*vir[4])
	res.Virial.SetSym(1, 2, -0.5*vir[5])

	if groupCoul != nil {
		ng := 0
		for ng*ng < len(groupCoul) {
			ng++
		}
		res.GroupCoulomb = mat.NewDense(ng, ng, groupCoul)
		res.GroupVdw = mat.NewDense(ng, ng, groupVdw)
	}
}
