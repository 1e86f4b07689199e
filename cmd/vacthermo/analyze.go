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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vacthermo/vacthermo/api/v1alpha1"
	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/engines/pipeline"
	"github.com/vacthermo/vacthermo/internal/metrics"
	"github.com/vacthermo/vacthermo/internal/report"
	"github.com/vacthermo/vacthermo/internal/resultstore"
	"github.com/vacthermo/vacthermo/pkg/core"
)

// runPipeline resolves the configuration against the artifact store and runs
// the engine. mutate, if set, adjusts the request first.
func (a *app) runPipeline(mutate func(*pipeline.Request)) (*pipeline.Output, *metrics.Recorder, blob.Store, error) {
	store, err := a.store()
	if err != nil {
		return nil, nil, nil, err
	}
	req, err := pipeline.RequestFromConfig(a.ctx, a.cfg, store)
	if err != nil {
		return nil, nil, nil, err
	}
	if mutate != nil {
		mutate(&req)
	}
	rec := metrics.NewRecorder()
	eng, err := pipeline.NewEngine(a.cfg.Solver, pipeline.WithRecorder(rec))
	if err != nil {
		return nil, nil, nil, err
	}
	out, err := eng.Run(a.ctx, req)
	if err != nil {
		return nil, nil, nil, err
	}
	return out, rec, store, nil
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var printMetrics bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the full analysis and publish the report",
		Long: `analyze ingests the insertion samples of --system, solves for the chemical
potentials at --temperature and --targets, evaluates profiles, fluctuations
and sweeps, then writes the report to the artifact store, the SQL result store
and the metrics textfile, whichever are configured.

The command fails when the main solve fails, after the report is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, rec, store, err := a.runPipeline(nil)
			if err != nil {
				return err
			}
			rep := report.Build(out)

			pub := &report.Publisher{
				Store:           store,
				Recorder:        rec,
				MetricsTextfile: a.cfg.Output.MetricsTextfile,
				Format:          v1alpha1.Format(a.cfg.Output.Format),
			}
			if db := a.cfg.Output.Database; db.Driver != "" {
				rs, err := resultstore.Open(a.ctx, resultstore.Dialect(db.Driver), db.DSN)
				if err != nil {
					return err
				}
				defer func() { _ = rs.Close() }()
				pub.Results = rs
			}
			key := a.cfg.ReportKey()
			if _, err := pub.Publish(a.ctx, rep, key); err != nil {
				return err
			}

			printSummary(cmd, rep, key)
			if printMetrics {
				if err := rec.Dump(cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			if out.SolveErr != nil {
				return fmt.Errorf("run %s: %w", out.RunID, out.SolveErr)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64("temperature", 0, "temperature of the main solve (K)")
	f.StringSlice("targets", nil, "target concentrations, Species=x")
	f.StringSlice("composition", nil, "bulk composition, Species=fraction")
	f.StringSlice("temperatures", nil, "profile temperatures (K)")
	f.Bool("time_resolved", false, "evaluate every timestep at the solved potentials")
	f.Bool("reference_time_resolved", false, "fit and evaluate reference potentials per timestep")
	f.Bool("use_histograms", false, "solve on per-species enthalpy histograms")
	f.String("output.report_key", "", "artifact key of the report")
	f.String("output.metrics_textfile", "", "node-exporter textfile for run metrics")
	f.BoolVar(&printMetrics, "print_metrics", false, "print run metrics after the summary")
	return cmd
}

func printSummary(cmd *cobra.Command, rep *v1alpha1.AnalysisReport, key string) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	fmt.Fprintf(w, "run\t%s\n", rep.Metadata.RunID)
	fmt.Fprintf(w, "report\t%s\n", key)
	fmt.Fprintf(w, "samples\t%d in %d timesteps\n", rep.Status.Ingestion.Samples, len(rep.Status.Ingestion.Timesteps))
	for _, c := range rep.Status.Conditions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Type, c.Status, c.Reason)
	}
	sol := rep.Status.Solution
	if sol == nil {
		return
	}
	fmt.Fprintf(w, "temperature\t%g K\n", sol.Temperature)
	fmt.Fprintf(w, "concentration\t%.6g\n", sol.TotalConcentration)
	fmt.Fprintf(w, "formation enthalpy\t%.6g eV\n", sol.MeanFormationEnthalpy)
	fmt.Fprintf(w, "formation volume\t%.6g\n", sol.MeanFormationVolume)
	mu := make(core.ChemicalPotentialVector, len(sol.ChemicalPotentials))
	for s, v := range sol.ChemicalPotentials {
		mu[core.Species(s)] = v
	}
	for _, s := range mu.Species() {
		fmt.Fprintf(w, "mu %s\t%.6g eV\tx=%.6g\n", s, mu[s], sol.Concentrations[string(s)])
	}
}
