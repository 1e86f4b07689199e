// Package solver finds the chemical potentials that make reweighted vacancy
// insertion samples reproduce target vacancy concentrations.
//
// Key Components:
//
//   - Ensemble: compiled, immutable candidate/site structure built from samples or histograms
//   - Weighting: pluggable reweighting strategy (grand-canonical, dilute, independent-site)
//   - Solver: per-species bracketed root find inside an explicit Gauss-Seidel outer loop
//   - ReferencePotentials: least-squares estimate from site statistics, usable as a seed
//
// Reweighting:
//
// For chemical potentials mu, candidate i of species s gets the reduced logit
// a_i = -(H_i - mu_s)/kT. The Weighting turns the logits of the candidates sharing
// a site into occupation probabilities p_i, and the concentration of species s is
// the site-weighted mean of sum_{i in s} p_i. All normalisation happens in log
// space on minimum-shifted enthalpies, so no exponential overflows.
//
// Solve strategy:
//  1. Bracket every targeted species at [min H - pad, max H + pad]
//  2. For each species in turn, root-find ln c_s(mu_s) = ln x_s with the others fixed
//  3. After each sweep, check every species against its target
//  4. Stop when all pass, or fail with ErrMaxIterationsExceeded
//
// Example usage:
//
//	s, err := solver.NewSolver(config.DefaultSolverConfig())
//	if err != nil {
//	    return err
//	}
//	ens := solver.EnsembleFromDataset(ds)
//	res, err := s.Solve(ctx, ens, config.Conditions{
//	    Temperature: 1000,
//	    Targets:     map[core.Species]float64{"Fe": 1e-4},
//	})
//	switch {
//	case errors.Is(err, solver.ErrTargetUnreachable):
//	    // widen BracketPadding or change the target
//	case err != nil:
//	    return err
//	}
//	log.Info("solved", "mu", res.ChemicalPotentials, "sweeps", res.OuterIterations)
//
// Errors are never turned into placeholder values: ErrInsufficientSamples,
// ErrTargetUnreachable and ErrMaxIterationsExceeded abort the call and carry the
// offending species through *SpeciesError.
package solver
