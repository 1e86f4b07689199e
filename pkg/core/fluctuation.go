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
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FluctuationMatrix is the covariance of species occupation numbers.
// It is backed by a symmetric matrix, so Cov(a, b) == Cov(b, a) always holds.
type FluctuationMatrix struct {
	species []Species
	index   map[Species]int
	cov     *mat.SymDense
}

// NewFluctuationMatrix copies cov and labels its rows with species.
func NewFluctuationMatrix(species []Species, cov mat.Symmetric) (FluctuationMatrix, error) {
	if cov == nil {
		if len(species) != 0 {
			return FluctuationMatrix{}, fmt.Errorf("core: %d species but no covariance", len(species))
		}
		return FluctuationMatrix{index: map[Species]int{}}, nil
	}
	if cov.SymmetricDim() != len(species) {
		return FluctuationMatrix{}, fmt.Errorf("core: covariance dimension %d does not match %d species",
			cov.SymmetricDim(), len(species))
	}
	index := make(map[Species]int, len(species))
	for i, s := range species {
		if _, dup := index[s]; dup {
			return FluctuationMatrix{}, fmt.Errorf("core: duplicate species %q", s)
		}
		index[s] = i
	}
	labels := make([]Species, len(species))
	copy(labels, species)
	var sym *mat.SymDense
	if len(species) > 0 {
		sym = mat.NewSymDense(len(species), nil)
		sym.CopySym(cov)
	}
	return FluctuationMatrix{species: labels, index: index, cov: sym}, nil
}

// Species returns the row labels in order.
func (m FluctuationMatrix) Species() []Species {
	out := make([]Species, len(m.species))
	copy(out, m.species)
	return out
}

// Dim returns the number of species.
func (m FluctuationMatrix) Dim() int {
	return len(m.species)
}

// At returns Cov(a, b).
func (m FluctuationMatrix) At(a, b Species) (float64, bool) {
	i, ok := m.index[a]
	if !ok {
		return 0, false
	}
	j, ok := m.index[b]
	if !ok {
		return 0, false
	}
	return m.cov.At(i, j), true
}

// Variance returns Cov(s, s).
func (m FluctuationMatrix) Variance(s Species) (float64, bool) {
	return m.At(s, s)
}

// Trace returns the sum of the variances.
func (m FluctuationMatrix) Trace() float64 {
	if m.cov == nil {
		return 0
	}
	return mat.Trace(m.cov)
}

// Dense returns a row-major copy of the matrix.
func (m FluctuationMatrix) Dense() [][]float64 {
	n := len(m.species)
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = m.cov.At(i, j)
		}
	}
	return out
}
