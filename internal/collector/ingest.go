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

package collector

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/pkg/core"
)

type timestepResult struct {
	entry    core.TimestepEntry
	warnings []Warning
}

// Ingest reads every timestep through src and assembles the dataset in
// timestep order. Reads run in parallel, at most concurrency at a time.
// Warnings come back grouped by timestep, in timestep order.
func Ingest(ctx context.Context, src SampleSource, tag string, timesteps []int, concurrency int) (core.TimestepDataset, []Warning, error) {
	log := logging.FromContext(ctx).WithValues("source", src.Name(), "tag", tag)

	order := slices.Clone(timesteps)
	slices.Sort(order)
	for i, t := range order {
		if t < 0 {
			return core.TimestepDataset{}, nil, fmt.Errorf("%w: %d", core.ErrNegativeTimestep, t)
		}
		if i > 0 && order[i-1] == t {
			return core.TimestepDataset{}, nil, fmt.Errorf("%w: %d listed twice", core.ErrUnorderedTimesteps, t)
		}
	}

	results := make([]timestepResult, len(order))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)
	for i, t := range order {
		g.Go(func() error {
			r, err := readTimestep(gctx, src, tag, t)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.TimestepDataset{}, nil, err
	}

	entries := make([]core.TimestepEntry, len(results))
	var warnings []Warning
	for i, r := range results {
		entries[i] = r.entry
		warnings = append(warnings, r.warnings...)
	}
	for _, w := range warnings {
		log.V(logging.DEBUG).Info("ingestion warning", "kind", w.Kind, "timestep", w.Timestep, "key", w.Key, "line", w.Line, "message", w.Message)
	}

	ds, err := core.NewTimestepDataset(entries)
	if err != nil {
		return core.TimestepDataset{}, nil, err
	}
	log.V(logging.DEBUG).Info("ingested", "timesteps", ds.Len(), "samples", ds.SampleCount(), "empty", len(ds.EmptyTimesteps()), "warnings", len(warnings))
	return ds, warnings, nil
}

func readTimestep(ctx context.Context, src SampleSource, tag string, t int) (timestepResult, error) {
	if err := ctx.Err(); err != nil {
		return timestepResult{}, err
	}
	r := timestepResult{entry: core.TimestepEntry{Timestep: t}}
	samples, warnings, err := src.Read(ctx, tag, t)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		r.warnings = []Warning{{Kind: EmptyTimestepWarning, Timestep: t, Message: fmt.Sprintf("artifact missing: %v", err)}}
		return r, nil
	case err != nil:
		return timestepResult{}, fmt.Errorf("collector: timestep %d: %w", t, err)
	}
	r.entry.Samples = samples
	r.warnings = warnings
	if len(samples) == 0 {
		r.warnings = append(r.warnings, Warning{Kind: EmptyTimestepWarning, Timestep: t, Message: "no valid samples"})
	}
	return r, nil
}

// IngestAll discovers the timesteps available for tag and ingests them.
func IngestAll(ctx context.Context, src SampleSource, tag string, concurrency int) (core.TimestepDataset, []Warning, error) {
	timesteps, err := src.Timesteps(ctx, tag)
	if err != nil {
		return core.TimestepDataset{}, nil, err
	}
	return Ingest(ctx, src, tag, timesteps, concurrency)
}
