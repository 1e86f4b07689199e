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

package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/collector"
	runconfig "github.com/vacthermo/vacthermo/internal/config"
	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/internal/utils/typemap"
)

// RequestFromConfig resolves a validated run configuration against store:
// it discovers the type count from the data file, opens the sample source and
// reads the timestep list.
func RequestFromConfig(ctx context.Context, cfg runconfig.RunConfig, store blob.Store) (Request, error) {
	log := logging.FromContext(ctx)

	var discovered *typemap.Discovery
	if cfg.DataFile != "" {
		data, err := blob.ReadAll(ctx, store, cfg.DataFile)
		if err != nil {
			return Request{}, fmt.Errorf("read data file: %w", err)
		}
		d, err := typemap.Discover(ctx, bytes.NewReader(data))
		if err != nil {
			return Request{}, fmt.Errorf("data file %s: %w", cfg.DataFile, err)
		}
		discovered = &d
		log.V(logging.DEBUG).Info("Discovered atom types", "dataFile", cfg.DataFile, "types", d.NumTypes)
	}
	tm, err := cfg.ResolveTypeMap(discovered)
	if err != nil {
		return Request{}, fmt.Errorf("type map: %w", err)
	}

	src, err := collector.NewSampleSource(collector.SourceKind(cfg.Source.Kind), store, collector.SourceOptions{
		Prefix:  cfg.Source.Prefix,
		TypeMap: tm,
	})
	if err != nil {
		return Request{}, err
	}

	timesteps := cfg.Timesteps
	if len(timesteps) == 0 && cfg.TimestepsFile != "" {
		data, err := blob.ReadAll(ctx, store, cfg.TimestepsFile)
		if err != nil {
			return Request{}, fmt.Errorf("read timesteps file: %w", err)
		}
		if timesteps, err = collector.ParseTimesteps(bytes.NewReader(data)); err != nil {
			return Request{}, fmt.Errorf("timesteps file %s: %w", cfg.TimestepsFile, err)
		}
	}

	cond, err := cfg.Conditions()
	if err != nil {
		return Request{}, err
	}
	comp, err := cfg.CompositionMap()
	if err != nil {
		return Request{}, err
	}
	points, err := cfg.SweepPoints()
	if err != nil {
		return Request{}, err
	}

	return Request{
		System:        cfg.System,
		Source:        src,
		Timesteps:     timesteps,
		Conditions:    cond,
		Composition:   comp,
		Bins:          cfg.Bins,
		UseHistograms: cfg.UseHistograms,
		Temperatures:  cfg.Temperatures,
		TimeResolved:  cfg.TimeResolved,

		ReferenceTimeResolved: cfg.ReferenceTimeResolved,
		SweepPoints:           points,
		Overrides:             runconfig.ParseSpeciesOverrides(ctx, cfg.SpeciesOverrides),
		Concurrency:           cfg.Concurrency,
	}, nil
}
