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
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vacthermo/vacthermo/internal/blob"
	runconfig "github.com/vacthermo/vacthermo/internal/config"
	"github.com/vacthermo/vacthermo/internal/logging"
)

// app carries the loaded configuration between the root and subcommands.
type app struct {
	configPath string
	cfg        runconfig.RunConfig
	ctx        context.Context
	log        logr.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "vacthermo",
		Short: "Vacancy thermodynamics from insertion runs",
		Long: `vacthermo reads per-timestep vacancy insertion energies written by MD/MC
runs, solves for the chemical potentials that reproduce target vacancy
concentrations and reports formation enthalpies, volumes and fluctuations.

Settings come from --config (YAML or JSON), VACTHERMO_* environment
variables and flags, later ones winning.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "run configuration file")
	pf.String("system", "", "system tag the artifacts are stored under")
	pf.String("blob.driver", "", "artifact store driver (fs, s3, memory)")
	pf.String("blob.root", "", "root directory of the fs driver")
	pf.String("source.kind", "", "sample source (columnar, legacy)")
	pf.StringSlice("timesteps", nil, "timesteps to ingest")
	pf.Int("concurrency", 0, "parallel workers")
	pf.String("output.format", "", "report encoding (json, yaml)")
	pf.String("logging.mode", "", "log encoder (development, production)")
	pf.IntP("logging.verbosity", "v", 0, "log verbosity")

	root.AddCommand(
		newAnalyzeCmd(a),
		newHistogramCmd(a),
		newSweepCmd(a),
		newFluctuationCmd(a),
		newTypesCmd(a),
		newValidateCmd(a),
		newJobsCmd(a),
		newRunsCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := runconfig.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logging.Options{Mode: cfg.Logging.Mode, Verbosity: cfg.Logging.Verbosity})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a.cfg = cfg
	a.log = logger.WithName("vacthermo").WithValues("command", cmd.Name())
	a.ctx = logging.IntoContext(ctx, a.log)
	return nil
}

func (a *app) store() (blob.Store, error) {
	return blob.Open(a.ctx, a.cfg.Blob)
}

// encode writes v in the configured output format.
func (a *app) encode(w io.Writer, v any) error {
	if a.cfg.Output.Format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
