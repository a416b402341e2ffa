/*package io reads run configuration, Lennard-Jones type tables, and writes
compressed per-step snapshots for regression comparison.
*/
package io

import (
	"fmt"
	"strings"

	"gopkg.in/gcfg.v1"

	"github.com/akvist/nonbond/kernel"
)

const ExampleRunFile = `[Run]

#######################
# Required Parameters #
#######################

# Interaction cutoff and pair-list buffer, in nm. The pair list is built out
# to Cutoff + Buffer and stays valid until a particle has moved more than
# half the buffer.
Cutoff = 1.0
Buffer = 0.1

# Short-range electrostatics treatment. One of:
# [ Coulomb | Shifted | ReactionField | Ewald ]
Electrostatics = ReactionField

#######################
# Optional Parameters #
#######################

# Dielectric constant beyond the cutoff for ReactionField. Leave unset (or
# non-positive) for the conducting limit.
# EpsilonRF = 78.0

# Ewald splitting parameter in 1/nm. Required with Electrostatics = Ewald;
# must match the value given to the reciprocal-space solver.
# EwaldBeta = 3.12

# How per-type Lennard-Jones parameters combine into pair coefficients.
# One of [ Geometric | LorentzBerthelot ]. Default is Geometric.
# CombinationRule = Geometric

# Arithmetic precision of the force kernels, [ Single | Double ].
# Default is Double.
# Precision = Double

# Worker goroutines for force evaluation. Default is one per CPU.
# Workers = 8

# Number of energy groups. Set to 2 or more to get the per-group-pair
# energy matrix in the results.
# Groups = 2

# Shift the electrostatic and Lennard-Jones potentials to zero at the
# cutoff. Default is true.
# ShiftPotential = true

# Add the analytic long-range dispersion tail beyond the cutoff to the
# van-der-Waals energy, assuming a homogeneous system.
# DispersionCorrection = false

# Distance floor in nm applied before computing 1/r, protecting against
# overlapping input coordinates. Floor trips are counted and logged.
# MinDistance = 0.001

# Upper bound on pair-list entries. Exceeding it is an error rather than a
# silent truncation. Zero means unlimited.
# MaxPairEntries = 0

# Write a zstd-compressed snapshot of forces and energies after every step.
# SnapshotFile = run.snap.zst

# Log progress and diagnostics to standard error.
# Log = true`

// RunConfig is the [Run] section of a run file.
type RunConfig struct {
	Cutoff float64
	Buffer float64

	Electrostatics string
	EpsilonRF      float64
	EwaldBeta      float64

	CombinationRule string
	Precision       string

	Workers              int
	Groups               int
	ShiftPotential       bool
	DispersionCorrection bool
	MinDistance          float64
	MaxPairEntries       int

	SnapshotFile string
	Log          bool
}

type runWrapper struct {
	Run RunConfig
}

// DefaultRunConfig returns the defaults a run file is read on top of.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Electrostatics:  "Coulomb",
		CombinationRule: "Geometric",
		Precision:       "Double",
		ShiftPotential:  true,
	}
}

func (con *RunConfig) ValidCutoff() bool { return con.Cutoff > 0 }
func (con *RunConfig) ValidBuffer() bool { return con.Buffer >= 0 }
func (con *RunConfig) ValidElectrostatics() bool {
	_, err := con.ElectrostaticsType()
	return err == nil
}
func (con *RunConfig) ValidEwaldBeta() bool {
	if strings.EqualFold(con.Electrostatics, "Ewald") {
		return con.EwaldBeta > 0
	}
	return true
}
func (con *RunConfig) ValidCombinationRule() bool {
	_, err := con.Rule()
	return err == nil
}
func (con *RunConfig) ValidPrecision() bool {
	return strings.EqualFold(con.Precision, "Single") ||
		strings.EqualFold(con.Precision, "Double")
}
func (con *RunConfig) ValidWorkers() bool     { return con.Workers >= 0 }
func (con *RunConfig) ValidGroups() bool      { return con.Groups >= 0 }
func (con *RunConfig) ValidMinDistance() bool { return con.MinDistance >= 0 }
func (con *RunConfig) ValidMaxPairEntries() bool {
	return con.MaxPairEntries >= 0
}

// Validate runs every Valid* predicate and reports the first failure.
func (con *RunConfig) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"Cutoff", con.ValidCutoff()},
		{"Buffer", con.ValidBuffer()},
		{"Electrostatics", con.ValidElectrostatics()},
		{"EwaldBeta", con.ValidEwaldBeta()},
		{"CombinationRule", con.ValidCombinationRule()},
		{"Precision", con.ValidPrecision()},
		{"Workers", con.ValidWorkers()},
		{"Groups", con.ValidGroups()},
		{"MinDistance", con.ValidMinDistance()},
		{"MaxPairEntries", con.ValidMaxPairEntries()},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("io: invalid value for the %s variable", c.name)
		}
	}
	return nil
}

// ElectrostaticsType maps the config string onto the kernel enum.
func (con *RunConfig) ElectrostaticsType() (kernel.Electrostatics, error) {
	switch strings.ToLower(con.Electrostatics) {
	case "coulomb":
		return kernel.Coulomb, nil
	case "shifted":
		return kernel.CoulombShifted, nil
	case "reactionfield":
		return kernel.ReactionField, nil
	case "ewald":
		return kernel.EwaldReal, nil
	}
	return 0, fmt.Errorf(
		"io: unknown electrostatics treatment %q", con.Electrostatics,
	)
}

// Rule maps the config string onto the kernel combination rule.
func (con *RunConfig) Rule() (kernel.CombinationRule, error) {
	switch strings.ToLower(con.CombinationRule) {
	case "geometric":
		return kernel.Geometric, nil
	case "lorentzberthelot":
		return kernel.LorentzBerthelot, nil
	}
	return 0, fmt.Errorf(
		"io: unknown combination rule %q", con.CombinationRule,
	)
}

// Single reports whether the kernels run in single precision.
func (con *RunConfig) Single() bool {
	return strings.EqualFold(con.Precision, "Single")
}

// ReadRunConfig reads and validates a run file.
func ReadRunConfig(fname string) (*RunConfig, error) {
	wrap := runWrapper{Run: *DefaultRunConfig()}
	if err := gcfg.ReadFileInto(&wrap, fname); err != nil {
		return nil, err
	}
	if err := wrap.Run.Validate(); err != nil {
		return nil, err
	}
	return &wrap.Run, nil
}

// ParseRunConfig reads a run file from a string.
func ParseRunConfig(text string) (*RunConfig, error) {
	wrap := runWrapper{Run: *DefaultRunConfig()}
	if err := gcfg.ReadStringInto(&wrap, text); err != nil {
		return nil, err
	}
	if err := wrap.Run.Validate(); err != nil {
		return nil, err
	}
	return &wrap.Run, nil
}
