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
	"bytes"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/collector"
	"github.com/vacthermo/vacthermo/internal/resultstore"
	"github.com/vacthermo/vacthermo/internal/utils/typemap"
)

func newTypesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "Count atom types in a LAMMPS data file",
		Long: `types reads --data_file from the artifact store, counts the entries of its
Masses section and prints the species each numeric type maps to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.DataFile == "" {
				return errors.New("types: --data_file is required")
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			data, err := blob.ReadAll(a.ctx, store, a.cfg.DataFile)
			if err != nil {
				return err
			}
			d, err := typemap.Discover(a.ctx, bytes.NewReader(data))
			if err != nil {
				return err
			}
			tm, err := a.cfg.ResolveTypeMap(&d)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), d.NumTypes)
			fmt.Fprintln(cmd.OutOrStdout(), tm.String())
			return nil
		},
	}
	cmd.Flags().String("data_file", "", "artifact key of the LAMMPS data file")
	cmd.Flags().String("type_map", "", "explicit type map, 1=Co,2=Ni")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the run configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Load already validated; report what it resolved to.
			cond, err := a.cfg.Conditions()
			if err != nil {
				return err
			}
			points, err := a.cfg.SweepPoints()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "system\t%s\n", a.cfg.System)
			fmt.Fprintf(w, "store\t%s\n", a.cfg.Blob.Driver)
			fmt.Fprintf(w, "source\t%s\n", a.cfg.Source.Kind)
			fmt.Fprintf(w, "temperature\t%g K\n", cond.Temperature)
			fmt.Fprintf(w, "targets\t%d\n", len(cond.Targets))
			fmt.Fprintf(w, "solver\t%s / %s\n", a.cfg.Solver.Weighting, a.cfg.Solver.RootMethod)
			fmt.Fprintf(w, "sweep points\t%d\n", len(points))
			fmt.Fprintf(w, "report\t%s\n", a.cfg.ReportKey())
			fmt.Fprintln(w, "configuration valid")
			return w.Flush()
		},
	}
}

func newJobsCmd(a *app) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Write PBS scripts for the insertion runs",
		Long: `jobs writes one PBS script per tag and timestep to the artifact store under
--jobs.prefix. Timesteps come from --timesteps or --timesteps_file. Tags
default to --system.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			timesteps := a.cfg.Timesteps
			if len(timesteps) == 0 && a.cfg.TimestepsFile != "" {
				data, err := blob.ReadAll(a.ctx, store, a.cfg.TimestepsFile)
				if err != nil {
					return err
				}
				if timesteps, err = collector.ParseTimesteps(bytes.NewReader(data)); err != nil {
					return err
				}
			}
			if len(tags) == 0 {
				tags = []string{a.cfg.System}
			}
			infos, err := a.cfg.Jobs.Write(a.ctx, store, tags, timesteps)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintln(cmd.OutOrStdout(), info.Key)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&tags, "tags", nil, "system tags, defaults to --system")
	f.String("timesteps_file", "", "artifact key of a whitespace-separated timestep list")
	f.String("jobs.prefix", "", "key prefix of the scripts")
	f.Int("jobs.ncpus", 0, "MPI ranks per job")
	f.String("jobs.walltime", "", "PBS walltime")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	open := func() (*resultstore.SQLStore, error) {
		db := a.cfg.Output.Database
		if db.Driver == "" {
			return nil, errors.New("runs: no --output.database.driver configured")
		}
		return resultstore.Open(a.ctx, resultstore.Dialect(db.Driver), db.DSN)
	}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = rs.Close() }()
			runs, err := rs.ListRuns(a.ctx, a.cfg.System)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSYSTEM\tCREATED\tT (K)\tSOLVED\tCONCENTRATION")
			for _, r := range runs {
				conc := "-"
				if r.TotalConcentration != nil {
					conc = fmt.Sprintf("%.6g", *r.TotalConcentration)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%t\t%s\n", r.RunID, r.System, r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), r.Temperature, r.Solved, conc)
			}
			return w.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("run id: %w", err)
			}
			rs, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = rs.Close() }()
			rep, err := rs.GetReport(a.ctx, id)
			if err != nil {
				return err
			}
			return a.encode(cmd.OutOrStdout(), rep)
		},
	}
	cmd.AddCommand(show)

	pf := cmd.PersistentFlags()
	pf.String("output.database.driver", "", "sqlite or postgres")
	pf.String("output.database.dsn", "", "database connection string")
	return cmd
}
