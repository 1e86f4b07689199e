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
	"math"
)

// Histogram is a binned empirical distribution.
// Edges are strictly increasing, len(Counts) == len(Edges)-1, and sum(Counts) <= Total.
// A histogram with no edges is empty.
type Histogram struct {
	edges  []float64
	counts []int
	total  int
}

// NewHistogram validates and copies its inputs.
func NewHistogram(edges []float64, counts []int, total int) (Histogram, error) {
	if len(edges) == 0 {
		if len(counts) != 0 {
			return Histogram{}, fmt.Errorf("%w: counts without edges", ErrInvalidHistogram)
		}
		if total < 0 {
			return Histogram{}, fmt.Errorf("%w: negative total %d", ErrInvalidHistogram, total)
		}
		return Histogram{total: total}, nil
	}
	if len(edges) < 2 {
		return Histogram{}, fmt.Errorf("%w: need at least 2 edges, got %d", ErrInvalidHistogram, len(edges))
	}
	if len(counts) != len(edges)-1 {
		return Histogram{}, fmt.Errorf("%w: %d counts for %d edges", ErrInvalidHistogram, len(counts), len(edges))
	}
	for i, e := range edges {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return Histogram{}, fmt.Errorf("%w: non-finite edge at %d", ErrInvalidHistogram, i)
		}
		if i > 0 && e <= edges[i-1] {
			return Histogram{}, fmt.Errorf("%w: edges not strictly increasing at %d", ErrInvalidHistogram, i)
		}
	}
	sum := 0
	for i, c := range counts {
		if c < 0 {
			return Histogram{}, fmt.Errorf("%w: negative count in bin %d", ErrInvalidHistogram, i)
		}
		sum += c
	}
	if sum > total {
		return Histogram{}, fmt.Errorf("%w: binned %d exceeds total %d", ErrInvalidHistogram, sum, total)
	}
	h := Histogram{
		edges:  make([]float64, len(edges)),
		counts: make([]int, len(counts)),
		total:  total,
	}
	copy(h.edges, edges)
	copy(h.counts, counts)
	return h, nil
}

// Edges returns a copy of the bin edges.
func (h Histogram) Edges() []float64 {
	out := make([]float64, len(h.edges))
	copy(out, h.edges)
	return out
}

// Counts returns a copy of the bin counts.
func (h Histogram) Counts() []int {
	out := make([]int, len(h.counts))
	copy(out, h.counts)
	return out
}

// Total is the number of samples fed into the build, binned or not.
func (h Histogram) Total() int {
	return h.total
}

// NumBins returns the number of bins.
func (h Histogram) NumBins() int {
	return len(h.counts)
}

// Empty reports whether the histogram has no bins.
func (h Histogram) Empty() bool {
	return len(h.edges) == 0
}

// Binned returns the number of samples that fell inside the edges.
func (h Histogram) Binned() int {
	n := 0
	for _, c := range h.counts {
		n += c
	}
	return n
}

// Dropped returns the number of samples outside the edges or non-finite.
func (h Histogram) Dropped() int {
	return h.total - h.Binned()
}

// Centers returns the bin midpoints.
func (h Histogram) Centers() []float64 {
	out := make([]float64, len(h.counts))
	for i := range h.counts {
		out[i] = 0.5 * (h.edges[i] + h.edges[i+1])
	}
	return out
}

// Density returns counts normalised so the histogram integrates to one over its edges.
// An empty or all-zero histogram yields zeros.
func (h Histogram) Density() []float64 {
	out := make([]float64, len(h.counts))
	binned := h.Binned()
	if binned == 0 {
		return out
	}
	for i, c := range h.counts {
		out[i] = float64(c) / (float64(binned) * (h.edges[i+1] - h.edges[i]))
	}
	return out
}
