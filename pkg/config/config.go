/*
Copyright 2025 The vacthermo Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"math"

	"github.com/vacthermo/vacthermo/pkg/core"
)

// BinMode selects how histogram edges are derived.
type BinMode string

const (
	BinModeFixedWidth BinMode = "fixed_width"
	BinModeFixedCount BinMode = "fixed_count"
	BinModeExplicit   BinMode = "explicit"
)

// DefaultBinCount is used when no bin specification is given.
const DefaultBinCount = 50

// BinSpec describes histogram binning. Only the field matching Mode is read.
type BinSpec struct {
	Mode  BinMode   `json:"mode" yaml:"mode" mapstructure:"mode"`
	Width float64   `json:"width,omitempty" yaml:"width,omitempty" mapstructure:"width"`
	NBins int       `json:"n_bins,omitempty" yaml:"n_bins,omitempty" mapstructure:"n_bins"`
	Edges []float64 `json:"edges,omitempty" yaml:"edges,omitempty" mapstructure:"edges"`
}

// FixedWidth returns a spec with edges spaced by width from the sample minimum.
func FixedWidth(width float64) BinSpec {
	return BinSpec{Mode: BinModeFixedWidth, Width: width}
}

// FixedCount returns a spec splitting the observed range into n equal bins.
func FixedCount(n int) BinSpec {
	return BinSpec{Mode: BinModeFixedCount, NBins: n}
}

// Explicit returns a spec with caller-supplied edges.
func Explicit(edges ...float64) BinSpec {
	e := make([]float64, len(edges))
	copy(e, edges)
	return BinSpec{Mode: BinModeExplicit, Edges: e}
}

// DefaultBinSpec returns FixedCount(DefaultBinCount).
func DefaultBinSpec() BinSpec {
	return FixedCount(DefaultBinCount)
}

// Solver defaults.
const (
	DefaultTolerance          = 1e-6
	DefaultMaxIterations      = 200
	DefaultMaxOuterIterations = 100
	DefaultBracketPadding     = 10.0
	DefaultRootMethod         = "illinois"
	DefaultWeighting          = "grand-canonical"
)

// SolverConfig parameterises the chemical-potential solver.
type SolverConfig struct {
	// Tolerance is the relative concentration tolerance: |c - x| <= Tolerance*x.
	Tolerance float64 `json:"tolerance" yaml:"tolerance" mapstructure:"tolerance"`
	// MaxIterations caps each one-dimensional root find.
	MaxIterations int `json:"maxIterations" yaml:"maxIterations" mapstructure:"max_iterations"`
	// MaxOuterIterations caps the multi-species fixed-point loop.
	MaxOuterIterations int `json:"maxOuterIterations" yaml:"maxOuterIterations" mapstructure:"max_outer_iterations"`
	// BracketPadding widens the [min H, max H] bracket on both sides (eV).
	BracketPadding float64 `json:"bracketPadding" yaml:"bracketPadding" mapstructure:"bracket_padding"`
	// RootMethod is "bisection" or "illinois".
	RootMethod string `json:"rootMethod" yaml:"rootMethod" mapstructure:"root_method"`
	// Weighting names the reweighting strategy ("grand-canonical", "dilute", "independent-site").
	Weighting string `json:"weighting" yaml:"weighting" mapstructure:"weighting"`
	// BoltzmannConstant in eV/K.
	BoltzmannConstant float64 `json:"boltzmannConstant" yaml:"boltzmannConstant" mapstructure:"boltzmann_constant"`
	// SeedFromReference starts the outer loop from the least-squares reference potentials.
	SeedFromReference bool `json:"seedFromReference,omitempty" yaml:"seedFromReference,omitempty" mapstructure:"seed_from_reference"`
}

// DefaultSolverConfig returns the default solver configuration.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Tolerance:          DefaultTolerance,
		MaxIterations:      DefaultMaxIterations,
		MaxOuterIterations: DefaultMaxOuterIterations,
		BracketPadding:     DefaultBracketPadding,
		RootMethod:         DefaultRootMethod,
		Weighting:          DefaultWeighting,
		BoltzmannConstant:  core.BoltzmannConstant,
	}
}

// WithDefaults fills zero-valued fields from DefaultSolverConfig.
func (c SolverConfig) WithDefaults() SolverConfig {
	d := DefaultSolverConfig()
	if c.Tolerance == 0 {
		c.Tolerance = d.Tolerance
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxOuterIterations == 0 {
		c.MaxOuterIterations = d.MaxOuterIterations
	}
	if c.BracketPadding == 0 {
		c.BracketPadding = d.BracketPadding
	}
	if c.RootMethod == "" {
		c.RootMethod = d.RootMethod
	}
	if c.Weighting == "" {
		c.Weighting = d.Weighting
	}
	if c.BoltzmannConstant == 0 {
		c.BoltzmannConstant = d.BoltzmannConstant
	}
	return c
}

// Validate checks for invalid configuration values.
func (c SolverConfig) Validate() error {
	if !(c.Tolerance > 0) || c.Tolerance >= 1 {
		return fmt.Errorf("tolerance must be in (0, 1), got %g", c.Tolerance)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("maxIterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.MaxOuterIterations < 1 {
		return fmt.Errorf("maxOuterIterations must be >= 1, got %d", c.MaxOuterIterations)
	}
	if c.BracketPadding < 0 || math.IsInf(c.BracketPadding, 0) || math.IsNaN(c.BracketPadding) {
		return fmt.Errorf("bracketPadding must be finite and >= 0, got %g", c.BracketPadding)
	}
	if !(c.BoltzmannConstant > 0) {
		return fmt.Errorf("boltzmannConstant must be > 0, got %g", c.BoltzmannConstant)
	}
	return nil
}

// Conditions is one thermodynamic query: a temperature and per-species targets.
type Conditions struct {
	// Temperature in K.
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	// Targets maps species to the requested vacancy concentration.
	Targets map[core.Species]float64 `json:"targets" yaml:"targets" mapstructure:"targets"`
}

// Validate checks the temperature and that at least one target is present.
// Target ranges are left to the solver, which reports unreachable targets itself.
func (c Conditions) Validate() error {
	if !(c.Temperature > 0) || math.IsInf(c.Temperature, 0) {
		return fmt.Errorf("temperature must be finite and > 0, got %g", c.Temperature)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target concentration is required")
	}
	for s, x := range c.Targets {
		if s == "" {
			return fmt.Errorf("target with empty species")
		}
		if math.IsNaN(x) {
			return fmt.Errorf("target for %q is NaN", s)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c Conditions) Clone() Conditions {
	out := Conditions{Temperature: c.Temperature}
	if c.Targets != nil {
		out.Targets = make(map[core.Species]float64, len(c.Targets))
		for k, v := range c.Targets {
			out.Targets[k] = v
		}
	}
	return out
}
