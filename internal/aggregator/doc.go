// Package aggregator computes ensemble-averaged vacancy thermodynamics from
// solved chemical potentials.
//
// Core Concepts:
//
// The aggregator reweights the insertion ensemble with the solver's weighting
// strategy, holding the chemical potentials fixed:
//   - Vacancy concentration per species and in total
//   - Effective formation enthalpy <H - mu> = -d ln c / d beta
//   - Effective formation volume, the same average taken over formation volumes
//
// Example usage:
//
//	agg := aggregator.New(s)
//	state, res, err := agg.Aggregate(ctx, ens, cond)
//	if err != nil {
//	    return err
//	}
//	log.Info("aggregated",
//	    "mu", state.ChemicalPotentials,
//	    "enthalpy", state.MeanFormationEnthalpy,
//	    "volume", state.MeanFormationVolume,
//	    "sweeps", res.OuterIterations)
//
// Consistency:
//
// Aggregate re-evaluates the concentration at the solved potentials and fails
// with ErrInconsistentState when any species misses its target by more than the
// solver tolerance. It never returns a state that disagrees with its request.
//
// Sweeps:
//
// Sweep solves a list of conditions. Each point starts from scratch, so the
// results do not depend on the order of the points or on how many run at once.
// Failed points carry their error in SweepResult.Err.
//
// TemperatureProfile and TimeResolved evaluate at fixed potentials, across
// temperatures and across timesteps respectively.
package aggregator
