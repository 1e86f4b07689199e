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

package solver

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/pkg/config"
	"github.com/vacthermo/vacthermo/pkg/core"
)

// Solver finds chemical potentials that reproduce target vacancy concentrations.
// A Solver is immutable and safe for concurrent use.
type Solver struct {
	cfg       config.SolverConfig
	weighting Weighting
	method    RootMethod
}

// Option configures a Solver.
type Option func(*Solver)

// WithWeighting uses w instead of the strategy named in the configuration.
// Config().Weighting reports w.Name().
func WithWeighting(w Weighting) Option {
	return func(s *Solver) { s.weighting = w }
}

// NewSolver validates cfg (after filling defaults) and resolves its strategies.
func NewSolver(cfg config.SolverConfig, opts ...Option) (*Solver, error) {
	s := &Solver{}
	for _, o := range opts {
		o(s)
	}
	cfg = cfg.WithDefaults()
	if s.weighting != nil {
		cfg.Weighting = s.weighting.Name()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid solver config: %w", err)
	}
	if s.weighting == nil {
		w, err := NewWeightingByName(cfg.Weighting)
		if err != nil {
			return nil, err
		}
		s.weighting = w
	}
	m, err := ParseRootMethod(cfg.RootMethod)
	if err != nil {
		return nil, err
	}
	s.cfg, s.method = cfg, m
	return s, nil
}

// Config returns the effective configuration.
func (s *Solver) Config() config.SolverConfig { return s.cfg }

// Weighting returns the reweighting strategy in use.
func (s *Solver) Weighting() Weighting { return s.weighting }

// Result is a converged solve.
type Result struct {
	ChemicalPotentials core.ChemicalPotentialVector
	Concentrations     map[core.Species]float64
	// Temperature in K and ThermalEnergy (kT) in eV.
	Temperature   float64
	ThermalEnergy float64
	// OuterIterations is the number of Gauss-Seidel sweeps performed.
	OuterIterations int
	// RootIterations counts residual evaluations across all root finds and joint steps.
	RootIterations int
	// Brackets holds the chemical-potential search interval per species.
	Brackets map[core.Species][2]float64
}

// Solve finds mu for cond, starting each species at the low end of its bracket.
func (s *Solver) Solve(ctx context.Context, ens *Ensemble, cond config.Conditions) (Result, error) {
	return s.SolveFrom(ctx, ens, cond, nil)
}

// SolveFrom is Solve with an initial guess. Seed values are clamped into the
// bracket; species missing from seed start at the low end.
func (s *Solver) SolveFrom(ctx context.Context, ens *Ensemble, cond config.Conditions, seed core.ChemicalPotentialVector) (Result, error) {
	logger := logging.FromContext(ctx)

	if err := cond.Validate(); err != nil {
		return Result{}, err
	}
	kT, err := core.ThermalEnergy(cond.Temperature, s.cfg.BoltzmannConstant)
	if err != nil {
		return Result{}, err
	}

	species := core.SortedSpecies(cond.Targets)
	brackets := make(map[core.Species][2]float64, len(species))
	mu := make(core.ChemicalPotentialVector, len(species))
	for _, sp := range species {
		x := cond.Targets[sp]
		if !(x > 0) || x >= 1 {
			return Result{}, speciesErr(sp, ErrTargetUnreachable, "target %g outside (0, 1)", x)
		}
		lo, hi, ok := ens.EnthalpyRange(sp)
		if !ok {
			return Result{}, speciesErr(sp, ErrInsufficientSamples, "no samples in ensemble of %d candidates", ens.Len())
		}
		lo -= s.cfg.BracketPadding
		hi += s.cfg.BracketPadding
		brackets[sp] = [2]float64{lo, hi}
		mu[sp] = lo
		if v, ok := seed[sp]; ok && !math.IsNaN(v) {
			mu[sp] = math.Min(math.Max(v, lo), hi)
		}
	}
	if ens.TotalWeight() <= 0 {
		return Result{}, fmt.Errorf("%w: ensemble has no sites", ErrInsufficientSamples)
	}

	res := Result{Temperature: cond.Temperature, ThermalEnergy: kT, Brackets: brackets}
	withinTol := func(g float64) bool {
		return math.Abs(math.Expm1(g)) <= s.cfg.Tolerance
	}
	// root finds aim below the outer tolerance so coupling drift does not undo them
	withinInner := func(g float64) bool {
		return math.Abs(math.Expm1(g)) <= 0.25*s.cfg.Tolerance
	}

	for outer := 1; outer <= s.cfg.MaxOuterIterations; outer++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res.OuterIterations = outer
		for _, sp := range species {
			lnx := math.Log(cond.Targets[sp])
			trial := mu.Clone()
			residual := func(m float64) float64 {
				trial[sp] = m
				return ens.logConcentration(s.weighting, trial, kT, sp) - lnx
			}
			b := brackets[sp]
			flo, fhi := residual(b[0]), residual(b[1])
			res.RootIterations += 2
			if flo >= 0 {
				if !withinTol(flo) {
					return Result{}, speciesErr(sp, ErrTargetUnreachable,
						"target %g below minimum concentration %g at mu=%g", cond.Targets[sp], math.Exp(flo+lnx), b[0])
				}
				mu[sp] = b[0]
				continue
			}
			if fhi <= 0 {
				if !withinTol(fhi) {
					return Result{}, speciesErr(sp, ErrTargetUnreachable,
						"target %g above maximum concentration %g at mu=%g", cond.Targets[sp], math.Exp(fhi+lnx), b[1])
				}
				mu[sp] = b[1]
				continue
			}
			root, iters, err := rootProblem{
				f: residual, done: withinInner,
				lo: b[0], hi: b[1], flo: flo, fhi: fhi,
			}.find(s.method, s.cfg.MaxIterations)
			res.RootIterations += iters
			if err != nil {
				return Result{}, speciesErr(sp, err, "outer iteration %d", outer)
			}
			mu[sp] = root
		}

		allWithin := func(obs Observables) bool {
			for _, sp := range species {
				if !withinTol(obs.LogConcentration[sp] - math.Log(cond.Targets[sp])) {
					return false
				}
			}
			return true
		}
		obs := ens.Observe(s.weighting, mu, kT)
		converged := allWithin(obs)
		if !converged && len(species) > 1 {
			// one-species-at-a-time updates crawl when the species crowd the
			// same sites, so follow each sweep with a joint step
			next, evals, ok := s.coupledStep(ens, cond, species, mu, kT, brackets)
			res.RootIterations += evals
			if ok {
				mu = next
				obs = ens.Observe(s.weighting, mu, kT)
				converged = allWithin(obs)
			}
		}
		logger.V(logging.TRACE).Info("Outer iteration",
			"iteration", outer,
			"mu", mu,
			"converged", converged)
		if converged {
			res.ChemicalPotentials = mu.Clone()
			res.Concentrations = make(map[core.Species]float64, len(species))
			for _, sp := range species {
				res.Concentrations[sp] = obs.Concentration[sp]
			}
			logger.V(logging.DEBUG).Info("Solved chemical potentials",
				"temperature", cond.Temperature,
				"weighting", s.weighting.Name(),
				"method", s.method,
				"outerIterations", res.OuterIterations,
				"rootIterations", res.RootIterations,
				"mu", res.ChemicalPotentials)
			return res, nil
		}
	}
	return Result{}, fmt.Errorf("%w: %d outer iterations without a simultaneous fixed point",
		ErrMaxIterationsExceeded, s.cfg.MaxOuterIterations)
}

// coupledStep takes one damped Newton step on g(mu) = ln c(mu) - ln x over
// all targeted species at once. The Jacobian is a forward difference. The
// step is halved until it lowers |g|; ok is false when no step does.
func (s *Solver) coupledStep(ens *Ensemble, cond config.Conditions, species []core.Species,
	mu core.ChemicalPotentialVector, kT float64, brackets map[core.Species][2]float64,
) (next core.ChemicalPotentialVector, evals int, ok bool) {
	n := len(species)
	residual := func(m core.ChemicalPotentialVector) []float64 {
		evals++
		obs := ens.Observe(s.weighting, m, kT)
		g := make([]float64, n)
		for i, sp := range species {
			g[i] = obs.LogConcentration[sp] - math.Log(cond.Targets[sp])
		}
		return g
	}

	g0 := residual(mu)
	h := 1e-5 * kT
	jac := mat.NewDense(n, n, nil)
	for j, sp := range species {
		shifted := mu.Clone()
		shifted[sp] += h
		gj := residual(shifted)
		for i := range species {
			jac.Set(i, j, (gj[i]-g0[i])/h)
		}
	}
	rhs := make([]float64, n)
	floats.ScaleTo(rhs, -1, g0)
	var step mat.VecDense
	if err := step.SolveVec(jac, mat.NewVecDense(n, rhs)); err != nil {
		return mu, evals, false
	}

	norm0 := floats.Norm(g0, 2)
	for lambda := 1.0; lambda >= 1.0/64; lambda /= 2 {
		next = mu.Clone()
		for j, sp := range species {
			b := brackets[sp]
			next[sp] = math.Min(math.Max(mu[sp]+lambda*step.AtVec(j), b[0]), b[1])
		}
		if floats.Norm(residual(next), 2) < norm0 {
			return next, evals, true
		}
	}
	return mu, evals, false
}
