// Package config provides the validated value objects that parameterise each
// pipeline stage.
//
// Configuration Types:
//
//   - BinSpec: histogram binning (fixed_width, fixed_count, explicit)
//   - SolverConfig: tolerance, iteration caps, bracket padding, root method and weighting
//   - Conditions: temperature plus per-species target vacancy concentrations
//
// Loading these values from files, environment variables and flags is the job of
// internal/config. This package only defines the shapes, their defaults and the
// checks each stage relies on.
//
// Example usage:
//
//	cfg := config.DefaultSolverConfig()
//	cfg.Tolerance = 1e-8
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
//	cond := config.Conditions{
//	    Temperature: 1200,
//	    Targets:     map[core.Species]float64{"Fe": 1e-4, "Al": 2e-5},
//	}
//
// Defaults:
//   - Tolerance 1e-6 (relative)
//   - BracketPadding 10 eV
//   - Weighting grand-canonical, RootMethod illinois
package config
