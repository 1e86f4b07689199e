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
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/vacthermo/vacthermo/pkg/core"
)

// ReferencePotentials estimates chemical potentials from site statistics alone.
//
// For every species pair (a, b) it requires mu_a - mu_b to equal the mean of
// H_a - H_b over sites that carry candidates of both species, and closes the
// system with sum_a x_a mu_a = -enthalpyPerAtom, where x is the bulk composition.
// The overdetermined system is solved in the least-squares sense.
func ReferencePotentials(ens *Ensemble, composition map[core.Species]float64, enthalpyPerAtom float64) (core.ChemicalPotentialVector, error) {
	species := core.SortedSpecies(composition)
	if len(species) == 0 {
		return nil, fmt.Errorf("%w: empty composition", ErrInsufficientSamples)
	}
	col := make(map[core.Species]int, len(species))
	for i, s := range species {
		col[s] = i
		if ens.Count(s) == 0 {
			return nil, speciesErr(s, ErrInsufficientSamples, "no candidates for reference potentials")
		}
	}

	// per-site enthalpy by species; the first candidate of a species wins
	perSite := make([]map[core.Species]float64, 0, len(ens.sites))
	for _, site := range ens.sites {
		m := make(map[core.Species]float64, len(site))
		for _, i := range site {
			c := ens.candidates[i]
			if _, ok := col[c.Species]; !ok {
				continue
			}
			if _, seen := m[c.Species]; !seen {
				m[c.Species] = c.Enthalpy
			}
		}
		perSite = append(perSite, m)
	}

	var rows [][]float64
	var rhs []float64
	for i := 0; i < len(species); i++ {
		for j := i + 1; j < len(species); j++ {
			a, b := species[i], species[j]
			var diffs []float64
			for _, m := range perSite {
				ha, okA := m[a]
				hb, okB := m[b]
				if okA && okB {
					diffs = append(diffs, ha-hb)
				}
			}
			if len(diffs) == 0 {
				continue
			}
			row := make([]float64, len(species))
			row[col[a]] = 1
			row[col[b]] = -1
			rows = append(rows, row)
			rhs = append(rhs, stat.Mean(diffs, nil))
		}
	}
	closing := make([]float64, len(species))
	for s, x := range composition {
		closing[col[s]] = x
	}
	rows = append(rows, closing)
	rhs = append(rhs, -enthalpyPerAtom)

	if len(rows) < len(species) {
		return nil, fmt.Errorf("%w: %d equations for %d species", ErrRankDeficient, len(rows), len(species))
	}

	A := mat.NewDense(len(rows), len(species), nil)
	for r, row := range rows {
		A.SetRow(r, row)
	}
	b := mat.NewVecDense(len(rhs), rhs)

	var x mat.VecDense
	if err := x.SolveVec(A, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRankDeficient, err)
	}

	out := make(core.ChemicalPotentialVector, len(species))
	for i, s := range species {
		out[s] = x.AtVec(i)
	}
	return out, nil
}
