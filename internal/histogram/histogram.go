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

// Package histogram bins insertion samples into empirical distributions.
//
// Bins are half-open [e_i, e_i+1) except the last, which is closed. Values outside
// the edges and non-finite values are dropped from the counts but included in the
// histogram total, so sum(counts) <= total always holds.
package histogram

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/vacthermo/vacthermo/pkg/config"
	"github.com/vacthermo/vacthermo/pkg/core"
)

// ErrInvalidBinSpec is returned when a bin specification cannot produce valid edges.
var ErrInvalidBinSpec = errors.New("histogram: invalid bin spec")

// MaxBins bounds the number of bins a data-driven spec may produce.
const MaxBins = 1 << 20

// Build bins values according to spec.
func Build(values []float64, spec config.BinSpec) (core.Histogram, error) {
	edges, err := Edges(values, spec)
	if err != nil {
		return core.Histogram{}, err
	}
	if len(edges) == 0 {
		return core.NewHistogram(nil, nil, len(values))
	}
	return core.NewHistogram(edges, Count(values, edges), len(values))
}

// Edges derives bin edges for values. Data-driven modes return nil edges when
// values holds no finite entry.
func Edges(values []float64, spec config.BinSpec) ([]float64, error) {
	switch spec.Mode {
	case config.BinModeExplicit:
		return explicitEdges(spec.Edges)
	case config.BinModeFixedWidth:
		if !(spec.Width > 0) || math.IsInf(spec.Width, 0) {
			return nil, fmt.Errorf("%w: width must be finite and > 0, got %g", ErrInvalidBinSpec, spec.Width)
		}
		lo, hi, ok := finiteRange(values)
		if !ok {
			return nil, nil
		}
		return fixedWidthEdges(lo, hi, spec.Width)
	case config.BinModeFixedCount:
		if spec.NBins <= 0 || spec.NBins > MaxBins {
			return nil, fmt.Errorf("%w: n_bins must be in [1, %d], got %d", ErrInvalidBinSpec, MaxBins, spec.NBins)
		}
		lo, hi, ok := finiteRange(values)
		if !ok {
			return nil, nil
		}
		return fixedCountEdges(lo, hi, spec.NBins)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidBinSpec, spec.Mode)
	}
}

// Count assigns each value to its bin. edges must be strictly increasing.
func Count(values []float64, edges []float64) []int {
	counts := make([]int, len(edges)-1)
	for _, v := range values {
		if i, ok := binIndex(v, edges); ok {
			counts[i]++
		}
	}
	return counts
}

func binIndex(v float64, edges []float64) (int, bool) {
	last := len(edges) - 1
	if math.IsNaN(v) || v < edges[0] || v > edges[last] {
		return 0, false
	}
	if v == edges[last] {
		return last - 1, true
	}
	i := sort.SearchFloat64s(edges, v)
	if edges[i] == v {
		return i, true
	}
	return i - 1, true
}

func explicitEdges(edges []float64) ([]float64, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("%w: explicit mode needs at least 2 edges, got %d", ErrInvalidBinSpec, len(edges))
	}
	for i, e := range edges {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return nil, fmt.Errorf("%w: edge %d is not finite", ErrInvalidBinSpec, i)
		}
		if i > 0 && e <= edges[i-1] {
			return nil, fmt.Errorf("%w: edges must be strictly increasing (edge %d = %g after %g)",
				ErrInvalidBinSpec, i, e, edges[i-1])
		}
	}
	out := make([]float64, len(edges))
	copy(out, edges)
	return out, nil
}

func fixedWidthEdges(lo, hi, width float64) ([]float64, error) {
	span := math.Ceil((hi - lo) / width)
	if span > MaxBins {
		return nil, fmt.Errorf("%w: width %g over range [%g, %g] exceeds %d bins",
			ErrInvalidBinSpec, width, lo, hi, MaxBins)
	}
	n := int(span)
	if n < 1 {
		n = 1
	}
	// rounding may leave the maximum just past the last edge
	for lo+float64(n)*width < hi {
		n++
	}
	if n > MaxBins {
		return nil, fmt.Errorf("%w: width %g over range [%g, %g] gives %d bins (max %d)",
			ErrInvalidBinSpec, width, lo, hi, n, MaxBins)
	}
	edges := make([]float64, n+1)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	if !strictlyIncreasing(edges) {
		return nil, fmt.Errorf("%w: width %g too small for range [%g, %g]", ErrInvalidBinSpec, width, lo, hi)
	}
	return edges, nil
}

func fixedCountEdges(lo, hi float64, n int) ([]float64, error) {
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges := make([]float64, n+1)
	step := (hi - lo) / float64(n)
	for i := range edges {
		edges[i] = lo + float64(i)*step
	}
	edges[n] = hi
	if !strictlyIncreasing(edges) {
		return nil, fmt.Errorf("%w: %d bins cannot resolve range [%g, %g]", ErrInvalidBinSpec, n, lo, hi)
	}
	return edges, nil
}

func finiteRange(values []float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		ok = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, ok
}

func strictlyIncreasing(edges []float64) bool {
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return false
		}
	}
	return true
}
