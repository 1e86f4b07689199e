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

	"golang.org/x/sync/errgroup"

	"github.com/vacthermo/vacthermo/pkg/core"
	"github.com/vacthermo/vacthermo/pkg/solver"
)

// TimestepState is the state evaluated from a single timestep's samples.
type TimestepState struct {
	Timestep int
	Samples  int
	// Empty marks timesteps without samples. State is zero-valued for them.
	Empty bool
	State core.ThermodynamicState
}

// TimeResolved evaluates each timestep on its own at the pooled potentials mu.
// Empty timesteps are kept as Empty entries.
func (a *Aggregator) TimeResolved(ctx context.Context, ds core.TimestepDataset, mu core.ChemicalPotentialVector, temperature float64, concurrency int) ([]TimestepState, error) {
	if _, err := core.ThermalEnergy(temperature, a.solver.Config().BoltzmannConstant); err != nil {
		return nil, err
	}
	entries := ds.Entries()
	out := make([]TimestepState, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ts := TimestepState{Timestep: e.Timestep, Samples: len(e.Samples), Empty: e.Empty()}
			if !ts.Empty {
				state, err := a.Evaluate(solver.EnsembleFromSamples(e.Samples), mu, temperature)
				if err != nil {
					return err
				}
				ts.State = state
			}
			out[i] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ErrNoEnthalpyPerAtom marks timesteps without a recorded enthalpy per atom.
var ErrNoEnthalpyPerAtom = errors.New("aggregator: no enthalpy per atom")

// ReferenceTimestep holds the reference potentials of one timestep and the
// states they give at each requested temperature.
type ReferenceTimestep struct {
	Timestep int
	Samples  int
	Empty    bool
	// EnthalpyPerAtom is nil when the timestep has none.
	EnthalpyPerAtom *float64
	Potentials      core.ChemicalPotentialVector
	// States follow the temperatures passed to ReferenceTimeResolved.
	States []core.ThermodynamicState
	// Err records why no potentials were estimated for this timestep.
	Err error
}

// ReferenceTimeResolved estimates reference potentials from every timestep's
// own samples and enthalpy per atom, then evaluates them across temperatures.
// Timesteps that are empty, lack an enthalpy or cannot be fitted are kept with
// Err set; only invalid temperatures and cancellation fail the call.
func (a *Aggregator) ReferenceTimeResolved(ctx context.Context, ds core.TimestepDataset, enthalpy map[int]float64,
	composition map[core.Species]float64, temperatures []float64, concurrency int,
) ([]ReferenceTimestep, error) {
	for _, t := range temperatures {
		if _, err := core.ThermalEnergy(t, a.solver.Config().BoltzmannConstant); err != nil {
			return nil, err
		}
	}
	entries := ds.Entries()
	out := make([]ReferenceTimestep, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rt := ReferenceTimestep{Timestep: e.Timestep, Samples: len(e.Samples), Empty: e.Empty()}
			defer func() { out[i] = rt }()
			h, ok := enthalpy[e.Timestep]
			if !ok {
				rt.Err = fmt.Errorf("%w: timestep %d", ErrNoEnthalpyPerAtom, e.Timestep)
				return nil
			}
			rt.EnthalpyPerAtom = &h
			if rt.Empty {
				rt.Err = fmt.Errorf("%w: timestep %d is empty", solver.ErrInsufficientSamples, e.Timestep)
				return nil
			}
			ens := solver.EnsembleFromSamples(e.Samples)
			mu, err := solver.ReferencePotentials(ens, composition, h)
			if err != nil {
				rt.Err = err
				return nil
			}
			states, err := a.TemperatureProfile(ens, mu, temperatures)
			if err != nil {
				return fmt.Errorf("timestep %d: %w", e.Timestep, err)
			}
			rt.Potentials, rt.States = mu, states
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
