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

// Package fluctuation derives occupation-number covariances from solved
// chemical potentials.
//
// With the normalised partition estimate Xi(mu) = sum_i w_i exp(-(H_i - mu_i)/kT)
// and species shares pi_a = Xi_a / Xi, the covariance
//
//	Cov(n_a, n_b) = kT^2 d^2 ln Xi / d mu_a d mu_b = pi_a delta_ab - pi_a pi_b
//
// is symmetric with non-negative diagonal. The scalar fluctuation is
// Delta n = sqrt(trace) = sqrt(1 - sum_a pi_a^2).
package fluctuation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/vacthermo/vacthermo/pkg/core"
	"github.com/vacthermo/vacthermo/pkg/solver"
)

// ErrNonPhysicalFluctuation is returned when a variance comes out negative or non-finite.
var ErrNonPhysicalFluctuation = errors.New("fluctuation: non-physical fluctuation")

// Estimator computes fluctuation matrices.
type Estimator struct {
	boltzmann float64
}

// NewEstimator returns an Estimator using the Boltzmann constant kB (eV/K).
// A non-positive kB selects core.BoltzmannConstant.
func NewEstimator(kB float64) *Estimator {
	if kB <= 0 {
		kB = core.BoltzmannConstant
	}
	return &Estimator{boltzmann: kB}
}

// Result is a fluctuation estimate at one state.
type Result struct {
	Temperature float64
	Matrix      core.FluctuationMatrix
	// Shares are the species probabilities pi_a of the partition estimate.
	Shares map[core.Species]float64
	// Magnitude is Delta n = sqrt(trace).
	Magnitude float64
}

// Estimate computes the covariance at the potentials and temperature of state.
func (e *Estimator) Estimate(ens *solver.Ensemble, state core.ThermodynamicState) (Result, error) {
	kT, err := core.ThermalEnergy(state.Temperature, e.boltzmann)
	if err != nil {
		return Result{}, err
	}
	shares := ens.ProbabilityShares(state.ChemicalPotentials, kT)
	m, err := FromShares(shares)
	if err != nil {
		return Result{}, fmt.Errorf("temperature %g: %w", state.Temperature, err)
	}
	return Result{
		Temperature: state.Temperature,
		Matrix:      m,
		Shares:      shares,
		Magnitude:   math.Sqrt(math.Max(m.Trace(), 0)),
	}, nil
}

// FromShares builds diag(pi) - pi pi^T. The diagonal is computed as
// pi_a * sum_{b != a} pi_b so it stays non-negative under rounding.
func FromShares(shares map[core.Species]float64) (core.FluctuationMatrix, error) {
	species := core.SortedSpecies(shares)
	if len(species) == 0 {
		return core.FluctuationMatrix{}, fmt.Errorf("%w: empty partition estimate", ErrNonPhysicalFluctuation)
	}
	pi := make([]float64, len(species))
	for i, s := range species {
		pi[i] = shares[s]
		if math.IsNaN(pi[i]) || math.IsInf(pi[i], 0) || pi[i] < 0 {
			return core.FluctuationMatrix{}, fmt.Errorf("%w: share of %s is %g", ErrNonPhysicalFluctuation, s, pi[i])
		}
	}

	n := len(pi)
	cov := mat.NewSymDense(n, nil)
	others := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		others = others[:0]
		for j := 0; j < n; j++ {
			if j != i {
				others = append(others, pi[j])
			}
		}
		v := pi[i] * floats.SumCompensated(others)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return core.FluctuationMatrix{}, fmt.Errorf("%w: variance of %s is %g", ErrNonPhysicalFluctuation, species[i], v)
		}
		cov.SetSym(i, i, v)
		for j := i + 1; j < n; j++ {
			cov.SetSym(i, j, -pi[i]*pi[j])
		}
	}
	return core.NewFluctuationMatrix(species, cov)
}

// ProfilePoint is Delta n at one temperature.
type ProfilePoint struct {
	Temperature float64
	// Beta is 1/kT in 1/eV.
	Beta      float64
	Magnitude float64
}

// Profile evaluates Delta n across temperatures at fixed mu.
func (e *Estimator) Profile(ens *solver.Ensemble, mu core.ChemicalPotentialVector, temperatures []float64) ([]ProfilePoint, error) {
	out := make([]ProfilePoint, len(temperatures))
	for i, t := range temperatures {
		r, err := e.Estimate(ens, core.ThermodynamicState{ChemicalPotentials: mu, Temperature: t})
		if err != nil {
			return nil, err
		}
		out[i] = ProfilePoint{Temperature: t, Beta: 1 / (e.boltzmann * t), Magnitude: r.Magnitude}
	}
	return out, nil
}
