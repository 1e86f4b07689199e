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

package histogram

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/pkg/config"
	"github.com/vacthermo/vacthermo/pkg/core"
)

// Quantity selects which sample field is binned.
type Quantity string

const (
	FormationEnthalpy Quantity = "formation_enthalpy"
	FormationVolume   Quantity = "formation_volume"
)

// Value extracts the quantity from a sample.
func (q Quantity) Value(s core.InsertionSample) (float64, error) {
	switch q {
	case FormationEnthalpy:
		return s.FormationEnthalpy, nil
	case FormationVolume:
		return s.FormationVolume, nil
	default:
		return 0, fmt.Errorf("histogram: unknown quantity %q", q)
	}
}

// TimestepHistogram is the histogram of a single timestep.
type TimestepHistogram struct {
	Timestep  int
	Histogram core.Histogram
}

// Set is a pooled histogram plus one histogram per timestep sharing the pooled edges.
type Set struct {
	Quantity    Quantity
	Species     []core.Species
	Pooled      core.Histogram
	PerTimestep []TimestepHistogram
}

// SetOptions configures BuildSet.
type SetOptions struct {
	// Species restricts the samples to these species. Empty means all species.
	Species []core.Species
	// Concurrency bounds the per-timestep workers. Values < 1 mean one worker.
	Concurrency int
}

// BuildSet builds the pooled histogram over every sample in ds and one
// histogram per timestep, in timestep order. Empty timesteps get a histogram
// with zero counts.
func BuildSet(ctx context.Context, ds core.TimestepDataset, q Quantity, spec config.BinSpec, opts SetOptions) (Set, error) {
	logger := logging.FromContext(ctx)
	if _, err := q.Value(core.InsertionSample{}); err != nil {
		return Set{}, err
	}

	filter := make(map[core.Species]struct{}, len(opts.Species))
	for _, s := range opts.Species {
		filter[s] = struct{}{}
	}

	entries := ds.Entries()
	perStep := make([][]float64, len(entries))
	var pooled []float64
	for i, e := range entries {
		perStep[i] = extract(e.Samples, q, filter)
		pooled = append(pooled, perStep[i]...)
	}

	pooledHist, err := Build(pooled, spec)
	if err != nil {
		return Set{}, err
	}

	out := Set{
		Quantity:    q,
		Species:     append([]core.Species(nil), opts.Species...),
		Pooled:      pooledHist,
		PerTimestep: make([]TimestepHistogram, len(entries)),
	}

	edges := pooledHist.Edges()
	g, gctx := errgroup.WithContext(ctx)
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var h core.Histogram
			var err error
			if len(edges) == 0 {
				h, err = core.NewHistogram(nil, nil, len(perStep[i]))
			} else {
				h, err = core.NewHistogram(edges, Count(perStep[i], edges), len(perStep[i]))
			}
			if err != nil {
				return fmt.Errorf("timestep %d: %w", entries[i].Timestep, err)
			}
			out.PerTimestep[i] = TimestepHistogram{Timestep: entries[i].Timestep, Histogram: h}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Set{}, err
	}

	logger.V(logging.DEBUG).Info("Built histogram set",
		"quantity", q,
		"timesteps", len(entries),
		"pooledTotal", pooledHist.Total(),
		"pooledBinned", pooledHist.Binned(),
		"bins", pooledHist.NumBins())
	return out, nil
}

// BuildPerSpecies builds one Set per species present in ds.
func BuildPerSpecies(ctx context.Context, ds core.TimestepDataset, q Quantity, spec config.BinSpec, concurrency int) (map[core.Species]Set, error) {
	out := make(map[core.Species]Set)
	for _, s := range ds.Species() {
		set, err := BuildSet(ctx, ds, q, spec, SetOptions{Species: []core.Species{s}, Concurrency: concurrency})
		if err != nil {
			return nil, fmt.Errorf("species %s: %w", s, err)
		}
		out[s] = set
	}
	return out, nil
}

func extract(samples []core.InsertionSample, q Quantity, filter map[core.Species]struct{}) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if len(filter) > 0 {
			if _, ok := filter[s.Species]; !ok {
				continue
			}
		}
		v, _ := q.Value(s)
		out = append(out, v)
	}
	return out
}
