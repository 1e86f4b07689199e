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

package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// BoltzmannConstant in eV/K (CODATA 2018).
const BoltzmannConstant = 8.617333262e-5

var (
	ErrNegativeTimestep   = errors.New("core: timestep must be non-negative")
	ErrUnorderedTimesteps = errors.New("core: timesteps must be unique and increasing")
	ErrTimestepMismatch   = errors.New("core: sample timestep does not match its entry")
	ErrInvalidHistogram   = errors.New("core: invalid histogram")
	ErrNonPositiveTemp    = errors.New("core: temperature must be positive")
)

// Species identifies the chemical species that occupied a site before a vacancy was inserted.
type Species string

// InsertionSample is a single vacancy-insertion attempt recorded at one timestep.
type InsertionSample struct {
	// Timestep is the simulation step the sample was recorded at.
	Timestep int
	// SiteID identifies the lattice site within the timestep's configuration.
	SiteID int
	// Species is the species occupying the site before insertion.
	Species Species
	// FormationEnthalpy is the local formation enthalpy (eV), excluding the chemical potential.
	FormationEnthalpy float64
	// FormationVolume is the local formation volume (Å^3).
	FormationVolume float64
}

// SiteKey groups candidates that compete for the same lattice site.
type SiteKey struct {
	Timestep int
	SiteID   int
}

// Key returns the site grouping key for the sample.
func (s InsertionSample) Key() SiteKey {
	return SiteKey{Timestep: s.Timestep, SiteID: s.SiteID}
}

// TimestepEntry holds the samples recorded at a single timestep. Samples may be empty.
type TimestepEntry struct {
	Timestep int
	Samples  []InsertionSample
}

// Empty reports whether no samples were recorded for the timestep.
func (e TimestepEntry) Empty() bool {
	return len(e.Samples) == 0
}

// TimestepDataset is an ordered collection of timestep entries.
// Timesteps are unique and strictly increasing.
type TimestepDataset struct {
	entries []TimestepEntry
}

// NewTimestepDataset validates and copies entries into a dataset.
func NewTimestepDataset(entries []TimestepEntry) (TimestepDataset, error) {
	out := make([]TimestepEntry, len(entries))
	for i, e := range entries {
		if e.Timestep < 0 {
			return TimestepDataset{}, fmt.Errorf("%w: got %d", ErrNegativeTimestep, e.Timestep)
		}
		if i > 0 && e.Timestep <= entries[i-1].Timestep {
			return TimestepDataset{}, fmt.Errorf("%w: %d follows %d",
				ErrUnorderedTimesteps, e.Timestep, entries[i-1].Timestep)
		}
		for _, s := range e.Samples {
			if s.Timestep != e.Timestep {
				return TimestepDataset{}, fmt.Errorf("%w: sample at %d in entry %d",
					ErrTimestepMismatch, s.Timestep, e.Timestep)
			}
		}
		out[i] = TimestepEntry{Timestep: e.Timestep, Samples: cloneSamples(e.Samples)}
	}
	return TimestepDataset{entries: out}, nil
}

// Len returns the number of timestep entries, empty ones included.
func (d TimestepDataset) Len() int {
	return len(d.entries)
}

// Entries returns a copy of the entries in timestep order.
func (d TimestepDataset) Entries() []TimestepEntry {
	out := make([]TimestepEntry, len(d.entries))
	for i, e := range d.entries {
		out[i] = TimestepEntry{Timestep: e.Timestep, Samples: cloneSamples(e.Samples)}
	}
	return out
}

// Entry returns the entry for a timestep.
func (d TimestepDataset) Entry(timestep int) (TimestepEntry, bool) {
	i := sort.Search(len(d.entries), func(i int) bool { return d.entries[i].Timestep >= timestep })
	if i == len(d.entries) || d.entries[i].Timestep != timestep {
		return TimestepEntry{}, false
	}
	e := d.entries[i]
	return TimestepEntry{Timestep: e.Timestep, Samples: cloneSamples(e.Samples)}, true
}

// Timesteps returns the timesteps in order.
func (d TimestepDataset) Timesteps() []int {
	out := make([]int, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.Timestep
	}
	return out
}

// EmptyTimesteps returns the timesteps that carry no samples.
func (d TimestepDataset) EmptyTimesteps() []int {
	var out []int
	for _, e := range d.entries {
		if e.Empty() {
			out = append(out, e.Timestep)
		}
	}
	return out
}

// SampleCount returns the total number of samples across all timesteps.
func (d TimestepDataset) SampleCount() int {
	n := 0
	for _, e := range d.entries {
		n += len(e.Samples)
	}
	return n
}

// Samples returns all samples pooled in timestep order.
func (d TimestepDataset) Samples() []InsertionSample {
	out := make([]InsertionSample, 0, d.SampleCount())
	for _, e := range d.entries {
		out = append(out, e.Samples...)
	}
	return out
}

// Species returns the sorted set of species present in the dataset.
func (d TimestepDataset) Species() []Species {
	seen := make(map[Species]struct{})
	for _, e := range d.entries {
		for _, s := range e.Samples {
			seen[s.Species] = struct{}{}
		}
	}
	return SortedSpecies(seen)
}

func cloneSamples(in []InsertionSample) []InsertionSample {
	if in == nil {
		return nil
	}
	out := make([]InsertionSample, len(in))
	copy(out, in)
	return out
}

// SortedSpecies returns the keys of a species set in lexical order.
func SortedSpecies[V any](set map[Species]V) []Species {
	out := make([]Species, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ChemicalPotentialVector maps species to chemical potential (eV).
type ChemicalPotentialVector map[Species]float64

// Clone returns an independent copy.
func (v ChemicalPotentialVector) Clone() ChemicalPotentialVector {
	if v == nil {
		return nil
	}
	out := make(ChemicalPotentialVector, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Species returns the species in lexical order.
func (v ChemicalPotentialVector) Species() []Species {
	return SortedSpecies(v)
}

// ThermodynamicState holds ensemble averages evaluated at fixed chemical potentials.
type ThermodynamicState struct {
	ChemicalPotentials ChemicalPotentialVector
	// Temperature in K.
	Temperature float64
	// MeanFormationEnthalpy is the concentration-weighted average of H - mu (eV).
	MeanFormationEnthalpy float64
	// MeanFormationVolume is the concentration-weighted average formation volume (Å^3).
	MeanFormationVolume float64
	// VacancyConcentration is the per-species vacancy site fraction.
	VacancyConcentration map[Species]float64
	// TotalConcentration is the sum of VacancyConcentration.
	TotalConcentration float64
}

// Clone returns a deep copy of the state.
func (s ThermodynamicState) Clone() ThermodynamicState {
	out := s
	out.ChemicalPotentials = s.ChemicalPotentials.Clone()
	if s.VacancyConcentration != nil {
		out.VacancyConcentration = make(map[Species]float64, len(s.VacancyConcentration))
		for k, v := range s.VacancyConcentration {
			out.VacancyConcentration[k] = v
		}
	}
	return out
}

// ThermalEnergy returns kT in eV for temperature in K.
func ThermalEnergy(temperature, boltzmann float64) (float64, error) {
	if !(temperature > 0) || math.IsInf(temperature, 0) {
		return 0, fmt.Errorf("%w: got %g", ErrNonPositiveTemp, temperature)
	}
	if boltzmann <= 0 {
		boltzmann = BoltzmannConstant
	}
	return boltzmann * temperature, nil
}
