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

package main

import (
	"github.com/spf13/cobra"

	"github.com/vacthermo/vacthermo/api/v1alpha1"
	"github.com/vacthermo/vacthermo/internal/collector"
	"github.com/vacthermo/vacthermo/internal/engines/pipeline"
	"github.com/vacthermo/vacthermo/internal/histogram"
	"github.com/vacthermo/vacthermo/internal/report"
	"github.com/vacthermo/vacthermo/pkg/core"
)

func newHistogramCmd(a *app) *cobra.Command {
	var (
		quantity   string
		species    []string
		perSpecies bool
	)
	cmd := &cobra.Command{
		Use:   "histogram",
		Short: "Build pooled and per-timestep histograms",
		Long: `histogram ingests the samples of --system and prints the pooled histogram of
--quantity together with one histogram per timestep on the same edges.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			req, err := pipeline.RequestFromConfig(a.ctx, a.cfg, store)
			if err != nil {
				return err
			}
			var ds core.TimestepDataset
			if len(req.Timesteps) == 0 {
				ds, _, err = collector.IngestAll(a.ctx, req.Source, req.System, req.Concurrency)
			} else {
				ds, _, err = collector.Ingest(a.ctx, req.Source, req.System, req.Timesteps, req.Concurrency)
			}
			if err != nil {
				return err
			}

			q := histogram.Quantity(quantity)
			var records []v1alpha1.HistogramRecord
			if perSpecies {
				sets, err := histogram.BuildPerSpecies(a.ctx, ds, q, req.Bins, req.Concurrency)
				if err != nil {
					return err
				}
				for _, s := range core.SortedSpecies(sets) {
					records = append(records, report.HistogramRecord(sets[s]))
				}
			} else {
				filter := make([]core.Species, len(species))
				for i, s := range species {
					filter[i] = core.Species(s)
				}
				set, err := histogram.BuildSet(a.ctx, ds, q, req.Bins, histogram.SetOptions{Species: filter, Concurrency: req.Concurrency})
				if err != nil {
					return err
				}
				records = append(records, report.HistogramRecord(set))
			}
			return a.encode(cmd.OutOrStdout(), records)
		},
	}
	f := cmd.Flags()
	f.StringVar(&quantity, "quantity", string(histogram.FormationEnthalpy), "formation_enthalpy or formation_volume")
	f.StringSliceVar(&species, "species", nil, "restrict to these species")
	f.BoolVar(&perSpecies, "per_species", false, "one histogram per species")
	f.String("bins.mode", "", "fixed_count, fixed_width or explicit")
	f.Int("bins.n_bins", 0, "bin count for fixed_count")
	f.Float64("bins.width", 0, "bin width for fixed_width")
	f.StringSlice("bins.edges", nil, "edges for explicit")
	return cmd
}
