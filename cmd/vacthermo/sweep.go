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
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vacthermo/vacthermo/internal/engines/pipeline"
	"github.com/vacthermo/vacthermo/internal/report"
)

func newSweepCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Solve a temperature and target grid",
		Long: `sweep solves every point of --sweep.temperatures crossed with
--sweep.target_sets (or --targets) independently and prints the potentials.
Failed points are listed with their error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.Sweep.Temperatures) == 0 {
				return errors.New("sweep: no --sweep.temperatures given")
			}
			out, _, _, err := a.runPipeline(func(r *pipeline.Request) {
				r.Temperatures = nil
				r.TimeResolved = false
				r.ReferenceTimeResolved = false
			})
			if err != nil {
				return err
			}
			return a.encode(cmd.OutOrStdout(), report.Build(out).Status.Sweep)
		},
	}
	f := cmd.Flags()
	f.StringSlice("targets", nil, "target concentrations, Species=x")
	f.StringSlice("sweep.temperatures", nil, "sweep temperatures (K)")
	f.StringArray("sweep.target_sets", nil, "target sets, Species=x,Species=x")
	return cmd
}

func newFluctuationCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fluctuation",
		Short: "Print the occupation fluctuation against temperature",
		Long: `fluctuation solves at --temperature and --targets, then evaluates the scalar
occupation-number fluctuation at the solved potentials for every
--temperatures entry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.Temperatures) == 0 {
				return errors.New("fluctuation: no --temperatures given")
			}
			out, _, _, err := a.runPipeline(func(r *pipeline.Request) {
				r.SweepPoints = nil
				r.TimeResolved = false
				r.ReferenceTimeResolved = false
			})
			if err != nil {
				return err
			}
			if out.SolveErr != nil {
				return out.SolveErr
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "T (K)\tbeta (1/eV)\tdelta n\tconcentration")
			for _, p := range out.Profile {
				fmt.Fprintf(w, "%g\t%.6g\t%.6g\t%.6g\n", p.State.Temperature, p.Beta, p.Fluctuation, p.State.TotalConcentration)
			}
			return w.Flush()
		},
	}
	f := cmd.Flags()
	f.Float64("temperature", 0, "temperature of the solve (K)")
	f.StringSlice("targets", nil, "target concentrations, Species=x")
	f.StringSlice("temperatures", nil, "profile temperatures (K)")
	return cmd
}
