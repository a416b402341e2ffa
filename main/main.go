package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/akvist/nonbond"
	"github.com/akvist/nonbond/geom"
	"github.com/akvist/nonbond/io"
	"github.com/akvist/nonbond/pairlist"
)

func main() {
	var (
		configFile    string
		typeFile      string
		exampleConfig bool
		particles     int
		boxEdge       float64
		steps         int
		searchStride  int
		seed          int64
	)

	flag.StringVar(
		&configFile, "Config", "",
		"Run configuration file ([Run] section).",
	)
	flag.StringVar(
		&typeFile, "Types", "",
		"Lennard-Jones type table: columns are type index, sigma, epsilon. "+
			"Without it two built-in types are used.",
	)
	flag.BoolVar(
		&exampleConfig, "ExampleConfig", false,
		"Print an example configuration file to stdout and exit.",
	)
	flag.IntVar(&particles, "Particles", 1000, "Number of random particles.")
	flag.Float64Var(&boxEdge, "Box", 5.0, "Cubic box edge length in nm.")
	flag.IntVar(&steps, "Steps", 100, "Force evaluations to run.")
	flag.IntVar(
		&searchStride, "SearchStride", 10,
		"Steps between pair-list rebuilds.",
	)
	flag.Int64Var(&seed, "Seed", 1, "Random seed for the generated system.")

	flag.Parse()

	if exampleConfig {
		fmt.Println(io.ExampleRunFile)
		return
	}
	if configFile == "" {
		log.Fatalf("nonbond requires a -Config file; see -ExampleConfig.")
	}

	cfg, err := io.ReadRunConfig(configFile)
	if err != nil {
		log.Fatalf("Error reading %s: %s", configFile, err.Error())
	}

	sigma, eps := []float64{0.30, 0.25}, []float64{0.50, 0.80}
	if typeFile != "" {
		sigma, eps, err = io.ReadTypeTable(typeFile)
		if err != nil {
			log.Fatalf("Error reading %s: %s", typeFile, err.Error())
		}
	}

	top, xs := randomSystem(particles, boxEdge, seed, sigma, eps, cfg.Groups)
	box := geom.NewCubicBox(boxEdge)

	eng, err := nonbond.New(cfg, top)
	if err != nil {
		log.Fatalf("Error setting up the engine: %s", err.Error())
	}

	var snap *io.SnapshotWriter
	if cfg.SnapshotFile != "" {
		f, err := os.Create(cfg.SnapshotFile)
		if err != nil {
			log.Fatalf("Error creating %s: %s", cfg.SnapshotFile, err.Error())
		}
		defer f.Close()
		snap, err = io.NewSnapshotWriter(f)
		if err != nil {
			log.Fatalf("Error creating snapshot writer: %s", err.Error())
		}
		defer snap.Close()
	}

	gen := rand.New(rand.NewSource(seed + 1))
	for step := 0; step < steps; step++ {
		search := step%searchStride == 0
		res, err := eng.Step(xs, box, search)
		if err != nil {
			log.Fatalf("Error on step %d: %s", step, err.Error())
		}

		log.Printf(
			"step %4d: Coulomb = %12.4f, VdW = %12.4f, pairs = %d",
			step, res.Coulomb, res.Vdw, res.Entries,
		)
		if res.Clamped > 0 {
			log.Printf("step %4d: %d clamped pair distances", step, res.Clamped)
		}

		if snap != nil {
			frame := &io.Frame{
				Step: step, Coulomb: res.Coulomb, Vdw: res.Vdw,
				Virial: [3]float64{
					res.Virial.At(0, 0), res.Virial.At(1, 1), res.Virial.At(2, 2),
				},
				Clamped: res.Clamped,
				Forces:  res.Forces,
			}
			if err := snap.WriteFrame(frame); err != nil {
				log.Fatalf("Error writing snapshot frame: %s", err.Error())
			}
		}

		// Stand-in for the integrator: a small random drift, bounded so the
		// pair list stays valid between searches.
		drift := 0.4 * cfg.Buffer / float64(searchStride)
		for i := range xs {
			for dim := 0; dim < 3; dim++ {
				xs[i][dim] += (gen.Float64() - 0.5) * drift
			}
		}
	}
}

// randomSystem generates a random particle set over the given types.
func randomSystem(
	n int, l float64, seed int64, sigma, eps []float64, groups int,
) (*nonbond.Topology, []geom.Vec) {
	gen := rand.New(rand.NewSource(seed))
	top := &nonbond.Topology{
		Charges:    make([]float64, n),
		Types:      make([]int32, n),
		Groups:     make([]int32, n),
		Sigma:      sigma,
		Eps:        eps,
		Exclusions: pairlist.NewExclusions(n),
	}
	xs := make([]geom.Vec, n)
	for i := 0; i < n; i++ {
		top.Charges[i] = gen.Float64() - 0.5
		top.Types[i] = int32(i % len(sigma))
		if groups >= 2 {
			top.Groups[i] = int32(i % groups)
		}
		for dim := 0; dim < 3; dim++ {
			xs[i][dim] = gen.Float64() * l
		}
	}
	return top, xs
}
