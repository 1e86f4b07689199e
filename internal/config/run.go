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

// Package config loads run configuration for vacthermo commands.
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/jobs"
	"github.com/vacthermo/vacthermo/internal/utils/typemap"
	pkgconfig "github.com/vacthermo/vacthermo/pkg/config"
	"github.com/vacthermo/vacthermo/pkg/core"
)

// EnvPrefix prefixes environment overrides, e.g. VACTHERMO_TEMPERATURE.
const EnvPrefix = "VACTHERMO"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// SourceConfig selects how insertion artifacts are read.
type SourceConfig struct {
	// Kind is "columnar" or "legacy".
	Kind   string `mapstructure:"kind" validate:"omitempty,oneof=columnar legacy"`
	Prefix string `mapstructure:"prefix"`
}

// DatabaseConfig selects the SQL result store. An empty Driver disables it.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required_with=Driver"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	// ReportKey is the artifact key of the report. Empty selects
	// reports/<system>/report.<format>.
	ReportKey string `mapstructure:"report_key"`
	Format    string `mapstructure:"format" validate:"oneof=json yaml"`
	// MetricsTextfile is a node-exporter textfile path for run metrics.
	MetricsTextfile string         `mapstructure:"metrics_textfile"`
	Database        DatabaseConfig `mapstructure:"database"`
}

// SweepConfig is the grid of independent solves: every temperature crossed
// with every target set.
type SweepConfig struct {
	Temperatures []float64 `mapstructure:"temperatures" validate:"dive,gt=0"`
	// TargetSets are "Sp=x,Sp=x" entries. Empty uses the run's Targets.
	TargetSets []string `mapstructure:"target_sets" validate:"dive,required,contains=="`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Mode      string `mapstructure:"mode" validate:"omitempty,oneof=development production dev prod console json"`
	Verbosity int    `mapstructure:"verbosity" validate:"gte=0,lte=10"`
}

// RunConfig is the complete configuration of an analysis run.
//
// Species-keyed settings are lists of "Species=value" strings so that species
// labels keep their case through every configuration layer.
type RunConfig struct {
	// System is the tag insertion artifacts are stored under.
	System string       `mapstructure:"system" validate:"required"`
	Blob   blob.Config  `mapstructure:"blob"`
	Source SourceConfig `mapstructure:"source"`

	// TypeMap is "1=Co,2=Ni,..." and overrides the built-in map for System.
	TypeMap string `mapstructure:"type_map"`
	// DataFile is a LAMMPS data file key whose Masses section fixes the type count.
	DataFile string `mapstructure:"data_file"`

	// Timesteps to ingest. Empty means read TimestepsFile, or discover from the store.
	Timesteps     []int  `mapstructure:"timesteps" validate:"dive,gte=0"`
	TimestepsFile string `mapstructure:"timesteps_file"`

	// Temperature of the main solve (K).
	Temperature float64 `mapstructure:"temperature" validate:"gt=0"`
	// Targets are "Species=concentration" pairs.
	Targets []string `mapstructure:"targets" validate:"dive,required,contains=="`
	// Composition are "Species=fraction" pairs for the reference potentials.
	// Empty means equiatomic.
	Composition []string `mapstructure:"composition" validate:"dive,required,contains=="`
	// Temperatures drive the temperature and fluctuation profiles.
	Temperatures []float64 `mapstructure:"temperatures" validate:"dive,gt=0"`
	// TimeResolved evaluates every timestep at the pooled potentials.
	TimeResolved bool `mapstructure:"time_resolved"`
	// ReferenceTimeResolved fits reference potentials to every timestep.
	ReferenceTimeResolved bool        `mapstructure:"reference_time_resolved"`
	Sweep                 SweepConfig `mapstructure:"sweep"`

	Solver pkgconfig.SolverConfig `mapstructure:"solver"`
	Bins   pkgconfig.BinSpec      `mapstructure:"bins"`
	// UseHistograms solves on per-species enthalpy histograms instead of raw samples.
	UseHistograms bool `mapstructure:"use_histograms"`

	Concurrency int `mapstructure:"concurrency" validate:"gte=0"`

	// SpeciesOverrides holds raw YAML entries, see ParseSpeciesOverrides.
	SpeciesOverrides map[string]string `mapstructure:"species_overrides"`

	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
	// Jobs configures the insertion batch scripts.
	Jobs jobs.Config `mapstructure:"jobs"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	d := pkgconfig.DefaultSolverConfig()
	// string keys without a default are invisible to AutomaticEnv during Unmarshal
	for _, key := range []string{
		"system", "type_map", "data_file", "timesteps_file", "source.prefix",
		"output.report_key", "output.metrics_textfile", "output.database.driver", "output.database.dsn",
		"blob.s3.bucket", "blob.s3.region", "blob.s3.endpoint", "blob.s3.prefix",
		"blob.s3.access_key_id", "blob.s3.secret_access_key", "blob.s3.session_token",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.root", ".")
	v.SetDefault("source.kind", "columnar")
	v.SetDefault("temperature", 1000.0)
	v.SetDefault("solver.tolerance", d.Tolerance)
	v.SetDefault("solver.max_iterations", d.MaxIterations)
	v.SetDefault("solver.max_outer_iterations", d.MaxOuterIterations)
	v.SetDefault("solver.bracket_padding", d.BracketPadding)
	v.SetDefault("solver.root_method", d.RootMethod)
	v.SetDefault("solver.weighting", d.Weighting)
	v.SetDefault("solver.boltzmann_constant", d.BoltzmannConstant)
	v.SetDefault("bins.mode", string(pkgconfig.BinModeFixedCount))
	v.SetDefault("bins.n_bins", pkgconfig.DefaultBinCount)
	v.SetDefault("concurrency", 4)
	v.SetDefault("output.format", "json")
	v.SetDefault("logging.mode", "development")

	j := jobs.DefaultConfig()
	v.SetDefault("jobs.prefix", j.Prefix)
	v.SetDefault("jobs.ncpus", j.NCPUs)
	v.SetDefault("jobs.memory_gb", j.MemoryGB)
	v.SetDefault("jobs.walltime", j.Walltime)
	v.SetDefault("jobs.interconnect", j.Interconnect)
	v.SetDefault("jobs.executable", j.Executable)
	v.SetDefault("jobs.input", j.Input)
	v.SetDefault("jobs.log_dir", j.LogDir)
}

// Load reads path (YAML or JSON, optional), then VACTHERMO_* environment
// variables, then flags. Later layers win. The result is validated.
func Load(path string, flags *pflag.FlagSet) (RunConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return RunConfig{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return RunConfig{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Solver = cfg.Solver.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate runs field validation and the cross-field checks.
func (c RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("%w: solver: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Conditions(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.SweepPoints(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	comp, err := c.CompositionMap()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	tm, err := c.ResolveTypeMap(nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return crossValidate(tm, comp)
}

// crossValidate checks that composition names exactly the mapped species and
// sums to one.
func crossValidate(tm typemap.TypeMap, comp map[core.Species]float64) error {
	if len(comp) == 0 || tm == nil {
		return nil
	}
	known := make(map[core.Species]bool, tm.Len())
	for _, s := range tm.Species() {
		known[s] = true
	}
	sum := 0.0
	for s, x := range comp {
		if !known[s] {
			return fmt.Errorf("%w: composition names %s, which is not in the type map %s", ErrInvalidConfig, s, tm)
		}
		sum += x
	}
	if len(comp) != tm.Len() {
		return fmt.Errorf("%w: composition covers %d of %d species", ErrInvalidConfig, len(comp), tm.Len())
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: composition sums to %g", ErrInvalidConfig, sum)
	}
	return nil
}

// Conditions returns the main solve request.
func (c RunConfig) Conditions() (pkgconfig.Conditions, error) {
	targets, err := ParsePairs(c.Targets)
	if err != nil {
		return pkgconfig.Conditions{}, fmt.Errorf("targets: %w", err)
	}
	return pkgconfig.Conditions{Temperature: c.Temperature, Targets: targets}, nil
}

// SweepPoints expands Sweep into solve requests, temperatures outermost.
// It returns nil when no sweep temperatures are set.
func (c RunConfig) SweepPoints() ([]pkgconfig.Conditions, error) {
	if len(c.Sweep.Temperatures) == 0 {
		return nil, nil
	}
	var sets []map[core.Species]float64
	for _, entry := range c.Sweep.TargetSets {
		targets, err := ParsePairs([]string{entry})
		if err != nil {
			return nil, fmt.Errorf("sweep target set %q: %w", entry, err)
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("sweep target set %q is empty", entry)
		}
		sets = append(sets, targets)
	}
	if len(sets) == 0 {
		base, err := ParsePairs(c.Targets)
		if err != nil {
			return nil, fmt.Errorf("targets: %w", err)
		}
		sets = append(sets, base)
	}
	points := make([]pkgconfig.Conditions, 0, len(c.Sweep.Temperatures)*len(sets))
	for _, t := range c.Sweep.Temperatures {
		for _, targets := range sets {
			points = append(points, pkgconfig.Conditions{Temperature: t, Targets: targets}.Clone())
		}
	}
	return points, nil
}

// CompositionMap parses Composition.
func (c RunConfig) CompositionMap() (map[core.Species]float64, error) {
	comp, err := ParsePairs(c.Composition)
	if err != nil {
		return nil, fmt.Errorf("composition: %w", err)
	}
	for s, x := range comp {
		if !(x > 0) || x > 1 {
			return nil, fmt.Errorf("composition of %s must be in (0, 1], got %g", s, x)
		}
	}
	return comp, nil
}

// ResolveTypeMap combines TypeMap, the discovery result from DataFile (may be
// nil) and the built-in map for System. It returns nil, nil when nothing maps
// the system's types, which is fine for columnar sources with named species.
func (c RunConfig) ResolveTypeMap(discovered *typemap.Discovery) (typemap.TypeMap, error) {
	var explicit typemap.TypeMap
	if c.TypeMap != "" {
		m, err := typemap.Parse(c.TypeMap)
		if err != nil {
			return nil, err
		}
		explicit = m
	}
	m, err := typemap.Resolve(c.System, explicit, discovered)
	if errors.Is(err, typemap.ErrNoTypes) && explicit == nil && discovered == nil {
		return nil, nil
	}
	return m, err
}

// ReportKey returns the configured report key or the default for System.
func (c RunConfig) ReportKey() string {
	if c.Output.ReportKey != "" {
		return c.Output.ReportKey
	}
	return blob.Join("reports", c.System, "report."+c.Output.Format)
}

// ParsePairs parses "Species=value" entries. Entries may also hold several
// comma-separated pairs.
func ParsePairs(entries []string) (map[core.Species]float64, error) {
	out := make(map[core.Species]float64)
	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			k, v, ok := strings.Cut(pair, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return nil, fmt.Errorf("entry %q is not Species=value", pair)
			}
			x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("entry %q has no finite value", pair)
			}
			s := core.Species(k)
			if _, dup := out[s]; dup {
				return nil, fmt.Errorf("species %s given twice", s)
			}
			out[s] = x
		}
	}
	return out, nil
}
