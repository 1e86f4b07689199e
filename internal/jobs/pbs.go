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

// Package jobs renders PBS batch scripts that launch the insertion runs.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"

	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/logging"
)

// ContentType of rendered scripts.
const ContentType = "application/x-sh"

// Config describes the batch resources and the engine invocation.
type Config struct {
	// Prefix is prepended to every script key.
	Prefix       string `mapstructure:"prefix"`
	NCPUs        int    `mapstructure:"ncpus" validate:"gte=1"`
	MemoryGB     int    `mapstructure:"memory_gb" validate:"gte=1"`
	Walltime     string `mapstructure:"walltime" validate:"required"`
	Interconnect string `mapstructure:"interconnect" validate:"required"`
	// Executable is the engine binary, Input its script.
	Executable string `mapstructure:"executable" validate:"required"`
	Input      string `mapstructure:"input" validate:"required"`
	LogDir     string `mapstructure:"log_dir" validate:"required"`
}

// DefaultConfig matches the cluster the insertion runs were first submitted to.
func DefaultConfig() Config {
	return Config{
		NCPUs:        32,
		MemoryGB:     64,
		Walltime:     "72:00:00",
		Interconnect: "any",
		Executable:   "~/software/lammps/lammps-2Aug2023/build/lmp",
		Input:        "insertions.in",
		LogDir:       "logs",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that every field needed by the template is set.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	return nil
}

const scriptTemplate = `#!/bin/bash
#PBS -S /bin/bash
#PBS -N ins{{.Timestep}}{{.Tag}}
#PBS -l select=1:ncpus={{.NCPUs}}:mpiprocs={{.NCPUs}}:mem={{.MemoryGB}}gb:interconnect={{.Interconnect}},walltime={{.Walltime}}
#PBS -j oe
cd $PBS_O_WORKDIR
mpirun -np {{.NCPUs}} {{.Executable}} -in {{.Input}} -var tag {{.Tag}} -var t {{.Timestep}} -log {{.LogDir}}/{{.Tag}}/insertions{{.Timestep}}.log
`

var script = template.Must(template.New("pbs").Parse(scriptTemplate))

type scriptData struct {
	Config
	Tag      string
	Timestep int
}

// Script is one rendered job.
type Script struct {
	Tag      string
	Timestep int
	Key      string
	Content  []byte
}

// ScriptName is insertions_<tag>_<t>.pbs.
func ScriptName(tag string, t int) string {
	return fmt.Sprintf("insertions_%s_%d.pbs", tag, t)
}

// Render produces the script for one (tag, timestep).
func (c Config) Render(tag string, t int) (Script, error) {
	if tag == "" || strings.ContainsAny(tag, " \t\n/") {
		return Script{}, fmt.Errorf("jobs: invalid tag %q", tag)
	}
	if t < 0 {
		return Script{}, fmt.Errorf("jobs: negative timestep %d", t)
	}
	var buf bytes.Buffer
	if err := script.Execute(&buf, scriptData{Config: c, Tag: tag, Timestep: t}); err != nil {
		return Script{}, fmt.Errorf("jobs: render %s/%d: %w", tag, t, err)
	}
	return Script{
		Tag:      tag,
		Timestep: t,
		Key:      blob.Join(c.Prefix, ScriptName(tag, t)),
		Content:  buf.Bytes(),
	}, nil
}

// RenderAll renders every (tag, timestep) pair, tags sorted and timesteps in
// the order given.
func (c Config) RenderAll(tags []string, timesteps []int) ([]Script, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(tags) == 0 || len(timesteps) == 0 {
		return nil, errors.New("jobs: need at least one tag and one timestep")
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	out := make([]Script, 0, len(sorted)*len(timesteps))
	for _, tag := range sorted {
		for _, t := range timesteps {
			s, err := c.Render(tag, t)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// Write renders and stores every script, returning the stored objects.
func (c Config) Write(ctx context.Context, store blob.Store, tags []string, timesteps []int) ([]blob.Info, error) {
	scripts, err := c.RenderAll(tags, timesteps)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)
	infos := make([]blob.Info, 0, len(scripts))
	for _, s := range scripts {
		info, err := store.Put(ctx, s.Key, bytes.NewReader(s.Content), blob.PutOptions{
			ContentType: ContentType,
			Metadata:    map[string]string{"tag": s.Tag, "timestep": fmt.Sprint(s.Timestep)},
		})
		if err != nil {
			return infos, fmt.Errorf("jobs: store %s: %w", s.Key, err)
		}
		log.V(logging.DEBUG).Info("Wrote job script", "key", s.Key)
		infos = append(infos, info)
	}
	return infos, nil
}
