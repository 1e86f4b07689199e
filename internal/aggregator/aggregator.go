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

package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/pkg/config"
	"github.com/vacthermo/vacthermo/pkg/core"
	"github.com/vacthermo/vacthermo/pkg/solver"
)

// ErrInconsistentState is returned when the concentration evaluated at solved
// potentials does not reproduce the requested target.
var ErrInconsistentState = errors.New("aggregator: concentration does not match target")

// Aggregator computes ensemble averages with the same weighting the solver uses.
type Aggregator struct {
	solver *solver.Solver
}

// New returns an Aggregator bound to s.
func New(s *solver.Solver) *Aggregator {
	return &Aggregator{solver: s}
}

// Solver returns the underlying solver.
func (a *Aggregator) Solver() *solver.Solver { return a.solver }

// Evaluate computes the thermodynamic state of ens at fixed mu and temperature.
func (a *Aggregator) Evaluate(ens *solver.Ensemble, mu core.ChemicalPotentialVector, temperature float64) (core.ThermodynamicState, error) {
	kT, err := core.ThermalEnergy(temperature, a.solver.Config().BoltzmannConstant)
	if err != nil {
		return core.ThermodynamicState{}, err
	}
	obs := ens.Observe(a.solver.Weighting(), mu, kT)
	conc := make(map[core.Species]float64, len(mu))
	for s := range mu {
		conc[s] = obs.Concentration[s]
	}
	return core.ThermodynamicState{
		ChemicalPotentials:    mu.Clone(),
		Temperature:           temperature,
		MeanFormationEnthalpy: obs.MeanEnthalpy,
		MeanFormationVolume:   obs.MeanVolume,
		VacancyConcentration:  conc,
		TotalConcentration:    obs.Total,
	}, nil
}

// Aggregate solves for cond and evaluates the state at the solved potentials.
// Every species must reproduce its target within the solver tolerance.
func (a *Aggregator) Aggregate(ctx context.Context, ens *solver.Ensemble, cond config.Conditions) (core.ThermodynamicState, solver.Result, error) {
	return a.AggregateFrom(ctx, ens, cond, nil)
}

// AggregateFrom is Aggregate with a solver seed.
func (a *Aggregator) AggregateFrom(ctx context.Context, ens *solver.Ensemble, cond config.Conditions, seed core.ChemicalPotentialVector) (core.ThermodynamicState, solver.Result, error) {
	res, err := a.solver.SolveFrom(ctx, ens, cond, seed)
	if err != nil {
		return core.ThermodynamicState{}, solver.Result{}, err
	}
	state, err := a.Evaluate(ens, res.ChemicalPotentials, cond.Temperature)
	if err != nil {
		return core.ThermodynamicState{}, res, err
	}
	if err := a.CheckConsistency(state, cond); err != nil {
		return core.ThermodynamicState{}, res, err
	}
	return state, res, nil
}

// CheckConsistency asserts that state reproduces every target of cond.
func (a *Aggregator) CheckConsistency(state core.ThermodynamicState, cond config.Conditions) error {
	tol := a.solver.Config().Tolerance
	for _, s := range core.SortedSpecies(cond.Targets) {
		x := cond.Targets[s]
		c, ok := state.VacancyConcentration[s]
		if !ok || math.Abs(c-x) > tol*x {
			return fmt.Errorf("%w: species %s has %g, target %g (tolerance %g)", ErrInconsistentState, s, c, x, tol)
		}
	}
	return nil
}

// SweepResult is the outcome of one sweep point. Err is set when the point failed.
type SweepResult struct {
	Index      int
	Conditions config.Conditions
	State      core.ThermodynamicState
	Solve      solver.Result
	Err        error
}

// Sweep solves every point independently. Results are returned in input order.
// A failing point records its error and does not affect the others; only
// context cancellation aborts the sweep.
func (a *Aggregator) Sweep(ctx context.Context, ens *solver.Ensemble, points []config.Conditions, concurrency int) ([]SweepResult, error) {
	logger := logging.FromContext(ctx)
	out := make([]SweepResult, len(points))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)
	for i, p := range points {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cond := p.Clone()
			state, res, err := a.Aggregate(gctx, ens, cond)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			out[i] = SweepResult{Index: i, Conditions: cond, State: state, Solve: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range out {
		if r.Err != nil {
			failed++
		}
	}
	logger.V(logging.DEBUG).Info("Sweep complete",
		"points", len(points),
		"failed", failed)
	return out, nil
}

// TemperaturePoints builds sweep points sharing targets across temperatures.
func TemperaturePoints(targets map[core.Species]float64, temperatures []float64) []config.Conditions {
	out := make([]config.Conditions, len(temperatures))
	for i, t := range temperatures {
		out[i] = config.Conditions{Temperature: t, Targets: targets}.Clone()
	}
	return out
}

// TemperatureProfile evaluates the state at fixed mu across temperatures.
func (a *Aggregator) TemperatureProfile(ens *solver.Ensemble, mu core.ChemicalPotentialVector, temperatures []float64) ([]core.ThermodynamicState, error) {
	out := make([]core.ThermodynamicState, len(temperatures))
	for i, t := range temperatures {
		s, err := a.Evaluate(ens, mu, t)
		if err != nil {
			return nil, fmt.Errorf("temperature %g: %w", t, err)
		}
		out[i] = s
	}
	return out, nil
}
