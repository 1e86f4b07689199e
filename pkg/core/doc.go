// Package core provides the value types shared by every stage of the vacancy
// thermodynamics pipeline.
//
// This package contains the domain records that flow between stages:
//
//   - InsertionSample: one vacancy-insertion attempt (site, species, formation enthalpy and volume)
//   - TimestepDataset: samples grouped by simulation timestep, ordered and unique
//   - Histogram: binned empirical distribution with explicit edges and a total count
//   - ChemicalPotentialVector: species to chemical potential mapping (eV)
//   - ThermodynamicState: ensemble averages at a fixed set of chemical potentials
//   - FluctuationMatrix: symmetric covariance of species occupation numbers
//
// Every type is a value object. Constructors validate invariants and accessors
// return copies, so no stage can mutate the output of another.
//
// Example usage:
//
//	ds, err := core.NewTimestepDataset([]core.TimestepEntry{
//	    {Timestep: 0, Samples: nil},
//	    {Timestep: 5, Samples: samples},
//	})
//	if err != nil {
//	    return err
//	}
//	for _, entry := range ds.Entries() {
//	    log.Info("timestep", "t", entry.Timestep, "samples", len(entry.Samples))
//	}
//
// The core package is designed to be:
//   - Immutable (value types, defensive copies)
//   - Checked at construction time
//   - Independent of storage and transport concerns
package core
