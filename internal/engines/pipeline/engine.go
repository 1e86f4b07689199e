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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/vacthermo/vacthermo/internal/aggregator"
	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/collector"
	runconfig "github.com/vacthermo/vacthermo/internal/config"
	"github.com/vacthermo/vacthermo/internal/fluctuation"
	"github.com/vacthermo/vacthermo/internal/histogram"
	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/internal/metrics"
	"github.com/vacthermo/vacthermo/pkg/config"
	"github.com/vacthermo/vacthermo/pkg/core"
	"github.com/vacthermo/vacthermo/pkg/solver"
)

// Stage names, used as the stage label of the duration metric.
const (
	StageIngest    = "ingest"
	StageHistogram = "histogram"
	StageReference = "reference"
	// StageReferenceProfile evaluates the reference potentials across temperatures.
	StageReferenceProfile = "reference_profile"
	// StageReferenceTimeResolved fits reference potentials per timestep.
	StageReferenceTimeResolved = "reference_time_resolved"
	StageSolve                 = "solve"
	StageProfile               = "profile"
	StageTimeResolved          = "time_resolved"
	StageFluctuation           = "fluctuation"
	StageSweep                 = "sweep"
)

// ErrInvalidRequest is returned for requests the engine cannot start.
var ErrInvalidRequest = errors.New("pipeline: invalid request")

// Request is one analysis run.
type Request struct {
	// System is the tag the artifacts are stored under.
	System string
	Source collector.SampleSource
	// Timesteps to ingest. Empty discovers them from Source.
	Timesteps []int

	Conditions config.Conditions
	// Composition weights the reference potentials. Empty means equiatomic
	// over the analysed species.
	Composition map[core.Species]float64

	Bins config.BinSpec
	// UseHistograms solves on per-species enthalpy histograms.
	UseHistograms bool

	// Temperatures for the temperature and fluctuation profiles.
	Temperatures []float64
	TimeResolved bool
	// ReferenceTimeResolved fits reference potentials to every timestep and
	// evaluates them at Temperatures, or at the main temperature when empty.
	ReferenceTimeResolved bool
	SweepPoints           []config.Conditions

	Overrides   runconfig.SpeciesOverrideData
	Concurrency int
}

func (r Request) validate() error {
	if r.System == "" {
		return fmt.Errorf("%w: system is required", ErrInvalidRequest)
	}
	if r.Source == nil {
		return fmt.Errorf("%w: sample source is required", ErrInvalidRequest)
	}
	if err := r.Conditions.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for i, p := range r.SweepPoints {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: sweep point %d: %v", ErrInvalidRequest, i, err)
		}
	}
	for _, t := range r.Temperatures {
		if !(t > 0) {
			return fmt.Errorf("%w: profile temperature %g", ErrInvalidRequest, t)
		}
	}
	return nil
}

// ProfilePoint is the state at one profile temperature.
type ProfilePoint struct {
	State core.ThermodynamicState
	// Beta is 1/kT in 1/eV.
	Beta        float64
	Fluctuation float64
}

// Output is everything a run produced.
type Output struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Request    Request
	// SolverConfig is the configuration the engine solved with.
	SolverConfig config.SolverConfig

	// Conditions are the main solve request after species overrides.
	Conditions config.Conditions

	Dataset  core.TimestepDataset
	Warnings []collector.Warning
	// Species are all ingested species; Excluded those removed by overrides.
	Species  []core.Species
	Excluded []core.Species

	// Histograms holds the pooled enthalpy and volume sets, then one enthalpy
	// set per species.
	Histograms []histogram.Set

	// EnthalpyPerAtom is nil when the source does not carry it.
	EnthalpyPerAtom *float64
	Reference       core.ChemicalPotentialVector
	ReferenceErr    error
	// ReferenceProfile evaluates Reference at the request temperatures.
	ReferenceProfile      []ProfilePoint
	ReferenceTimeResolved []aggregator.ReferenceTimestep

	State    core.ThermodynamicState
	Solve    solver.Result
	SolveErr error

	Profile      []ProfilePoint
	TimeResolved []aggregator.TimestepState
	Fluctuation  *fluctuation.Result
	Sweep        []aggregator.SweepResult
}

// Solved reports whether the main solve succeeded.
func (o *Output) Solved() bool {
	return o.SolveErr == nil && o.State.ChemicalPotentials != nil
}

// Engine runs analyses with one solver configuration.
type Engine struct {
	agg       *aggregator.Aggregator
	estimator *fluctuation.Estimator
	recorder  *metrics.Recorder
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder records run metrics on r instead of a private recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRunIDs replaces uuid.New.
func WithRunIDs(next func() uuid.UUID) Option {
	return func(e *Engine) { e.newID = next }
}

// NewEngine builds an engine around a solver for cfg.
func NewEngine(cfg config.SolverConfig, opts ...Option) (*Engine, error) {
	s, err := solver.NewSolver(cfg)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		agg:       aggregator.New(s),
		estimator: fluctuation.NewEstimator(s.Config().BoltzmannConstant),
		now:       time.Now,
		newID:     uuid.New,
	}
	for _, o := range opts {
		o(e)
	}
	if e.recorder == nil {
		e.recorder = metrics.NewRecorder()
	}
	return e, nil
}

// Recorder returns the metrics recorder of the engine.
func (e *Engine) Recorder() *metrics.Recorder { return e.recorder }

// Run executes every stage for req. Errors are returned for invalid requests,
// fatal ingestion failures, cancellation and non-physical results; solve
// failures are reported in Output.SolveErr.
func (e *Engine) Run(ctx context.Context, req Request) (*Output, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	out := &Output{
		RunID:        e.newID(),
		StartedAt:    e.now().UTC(),
		Request:      req,
		SolverConfig: e.agg.Solver().Config(),
	}
	log := logging.FromContext(ctx).WithValues("runID", out.RunID.String(), "system", req.System)
	ctx = logging.IntoContext(ctx, log)
	log.Info("Starting analysis", "source", req.Source.Name(), "timesteps", len(req.Timesteps))

	ds, err := e.ingest(ctx, req, out)
	if err != nil {
		return nil, err
	}

	cond := req.Conditions.Clone()
	cond.Targets = req.Overrides.ApplyTargets(cond.Targets, out.Species)
	if len(cond.Targets) == 0 {
		return nil, fmt.Errorf("%w: species overrides removed every target", ErrInvalidRequest)
	}
	out.Conditions = cond

	if err := e.histograms(ctx, req, ds, out); err != nil {
		return nil, err
	}
	ens, err := e.ensemble(req, ds, out)
	if err != nil {
		return nil, err
	}
	enthalpy := e.reference(ctx, req, ds, ens, out)
	if err := e.referenceStages(ctx, req, ds, ens, enthalpy, out); err != nil {
		return nil, err
	}

	stop := e.recorder.StartStage(StageSolve)
	var seed core.ChemicalPotentialVector
	if e.agg.Solver().Config().SeedFromReference {
		seed = out.Reference
	}
	state, res, err := e.agg.AggregateFrom(ctx, ens, cond, seed)
	stop()
	e.recorder.ObserveSolve(res, err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error(err, "Main solve failed", "temperature", cond.Temperature)
		out.SolveErr = err
	} else {
		out.State, out.Solve = state, res
		e.recorder.SetState(req.System, state)
		log.Info("Solved chemical potentials",
			"mu", state.ChemicalPotentials,
			"concentration", state.TotalConcentration,
			"enthalpy", state.MeanFormationEnthalpy,
			"volume", state.MeanFormationVolume,
			"sweeps", res.OuterIterations)
		if err := e.afterSolve(ctx, req, ds, ens, out); err != nil {
			return nil, err
		}
	}

	if err := e.sweep(ctx, req, ens, out); err != nil {
		return nil, err
	}
	out.FinishedAt = e.now().UTC()
	return out, nil
}

func (e *Engine) ingest(ctx context.Context, req Request, out *Output) (core.TimestepDataset, error) {
	defer e.recorder.StartStage(StageIngest)()
	var (
		ds       core.TimestepDataset
		warnings []collector.Warning
		err      error
	)
	if len(req.Timesteps) == 0 {
		ds, warnings, err = collector.IngestAll(ctx, req.Source, req.System, req.Concurrency)
	} else {
		ds, warnings, err = collector.Ingest(ctx, req.Source, req.System, req.Timesteps, req.Concurrency)
	}
	if err != nil {
		return core.TimestepDataset{}, fmt.Errorf("ingest %s: %w", req.System, err)
	}
	out.Warnings = warnings
	out.Species = ds.Species()

	byKind := make(map[string]int)
	for k, n := range collector.CountByKind(warnings) {
		byKind[string(k)] = n
	}
	e.recorder.ObserveIngest(req.System, ds.SampleCount(), len(ds.EmptyTimesteps()), byKind)

	drop := make(map[core.Species]bool)
	for _, s := range out.Species {
		if req.Overrides.Excluded(s) {
			drop[s] = true
			out.Excluded = append(out.Excluded, s)
		}
	}
	if len(drop) > 0 {
		if ds, err = withoutSpecies(ds, drop); err != nil {
			return core.TimestepDataset{}, err
		}
	}
	out.Dataset = ds
	logging.FromContext(ctx).Info("Ingested samples",
		"timesteps", ds.Len(), "empty", len(ds.EmptyTimesteps()),
		"samples", ds.SampleCount(), "warnings", len(warnings), "excluded", out.Excluded)
	return ds, nil
}

func withoutSpecies(ds core.TimestepDataset, drop map[core.Species]bool) (core.TimestepDataset, error) {
	entries := ds.Entries()
	for i, e := range entries {
		kept := make([]core.InsertionSample, 0, len(e.Samples))
		for _, s := range e.Samples {
			if !drop[s.Species] {
				kept = append(kept, s)
			}
		}
		entries[i].Samples = kept
	}
	return core.NewTimestepDataset(entries)
}

func (e *Engine) histograms(ctx context.Context, req Request, ds core.TimestepDataset, out *Output) error {
	defer e.recorder.StartStage(StageHistogram)()
	opts := histogram.SetOptions{Concurrency: req.Concurrency}
	for _, q := range []histogram.Quantity{histogram.FormationEnthalpy, histogram.FormationVolume} {
		set, err := histogram.BuildSet(ctx, ds, q, req.Bins, opts)
		if err != nil {
			return fmt.Errorf("histogram %s: %w", q, err)
		}
		out.Histograms = append(out.Histograms, set)
	}
	perSpecies, err := histogram.BuildPerSpecies(ctx, ds, histogram.FormationEnthalpy, req.Bins, req.Concurrency)
	if err != nil {
		return fmt.Errorf("histogram per species: %w", err)
	}
	for _, s := range core.SortedSpecies(perSpecies) {
		out.Histograms = append(out.Histograms, perSpecies[s])
	}
	return nil
}

func (e *Engine) ensemble(req Request, ds core.TimestepDataset, out *Output) (*solver.Ensemble, error) {
	if !req.UseHistograms {
		return solver.EnsembleFromDataset(ds), nil
	}
	hists := make(map[core.Species]core.Histogram)
	for _, set := range out.Histograms[2:] {
		if len(set.Species) != 1 {
			return nil, fmt.Errorf("pipeline: per-species histogram covers %d species", len(set.Species))
		}
		hists[set.Species[0]] = set.Pooled
	}
	return solver.EnsembleFromHistograms(hists), nil
}

// reference estimates least-squares potentials when the source carries the
// enthalpy per atom, and returns the per-timestep enthalpies it read.
// Failures are recorded, never fatal.
func (e *Engine) reference(ctx context.Context, req Request, ds core.TimestepDataset, ens *solver.Ensemble, out *Output) map[int]float64 {
	src, ok := req.Source.(collector.EnthalpySource)
	if !ok {
		return nil
	}
	defer e.recorder.StartStage(StageReference)()
	log := logging.FromContext(ctx)

	enthalpy := make(map[int]float64)
	var values []float64
	for _, t := range ds.Timesteps() {
		h, err := src.EnthalpyPerAtom(ctx, req.System, t)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			out.ReferenceErr = err
			log.Error(err, "Reading enthalpy per atom failed", "timestep", t)
			return nil
		}
		enthalpy[t] = h
		values = append(values, h)
	}
	if len(values) == 0 {
		return nil
	}
	h := stat.Mean(values, nil)
	out.EnthalpyPerAtom = &h

	mu, err := solver.ReferencePotentials(ens, composition(req, ens), h)
	if err != nil {
		out.ReferenceErr = err
		log.V(logging.DEBUG).Info("No reference potentials", "reason", err.Error())
		return enthalpy
	}
	out.Reference = mu
	log.V(logging.DEBUG).Info("Reference potentials", "mu", mu, "enthalpyPerAtom", h)
	return enthalpy
}

// composition is the requested bulk composition, equiatomic over the
// ensemble's species when none was given.
func composition(req Request, ens *solver.Ensemble) map[core.Species]float64 {
	if len(req.Composition) > 0 {
		return req.Composition
	}
	species := ens.Species()
	comp := make(map[core.Species]float64, len(species))
	for _, s := range species {
		comp[s] = 1 / float64(len(species))
	}
	return comp
}

// referenceStages evaluates the pooled reference potentials across the request
// temperatures and, when asked, fits and evaluates them per timestep. Both run
// whether or not the main solve succeeds.
func (e *Engine) referenceStages(ctx context.Context, req Request, ds core.TimestepDataset, ens *solver.Ensemble, enthalpy map[int]float64, out *Output) error {
	if out.Reference != nil && len(req.Temperatures) > 0 {
		profile, err := e.profile(ens, out.Reference, req.Temperatures, StageReferenceProfile)
		if err != nil {
			return fmt.Errorf("reference profile: %w", err)
		}
		out.ReferenceProfile = profile
	}

	if !req.ReferenceTimeResolved || len(enthalpy) == 0 {
		return nil
	}
	temps := req.Temperatures
	if len(temps) == 0 {
		temps = []float64{req.Conditions.Temperature}
	}
	stop := e.recorder.StartStage(StageReferenceTimeResolved)
	rts, err := e.agg.ReferenceTimeResolved(ctx, ds, enthalpy, composition(req, ens), temps, req.Concurrency)
	stop()
	if err != nil {
		return fmt.Errorf("reference time resolved: %w", err)
	}
	fitted := 0
	for _, rt := range rts {
		if rt.Err == nil {
			fitted++
		}
	}
	logging.FromContext(ctx).V(logging.DEBUG).Info("Per-timestep reference potentials",
		"timesteps", len(rts), "fitted", fitted, "temperatures", len(temps))
	out.ReferenceTimeResolved = rts
	return nil
}

// profile evaluates the state and fluctuation magnitude at mu across temperatures.
func (e *Engine) profile(ens *solver.Ensemble, mu core.ChemicalPotentialVector, temperatures []float64, stage string) ([]ProfilePoint, error) {
	defer e.recorder.StartStage(stage)()
	states, err := e.agg.TemperatureProfile(ens, mu, temperatures)
	if err != nil {
		return nil, err
	}
	fl, err := e.estimator.Profile(ens, mu, temperatures)
	if err != nil {
		return nil, fmt.Errorf("fluctuation profile: %w", err)
	}
	points := make([]ProfilePoint, len(states))
	for i := range states {
		points[i] = ProfilePoint{State: states[i], Beta: fl[i].Beta, Fluctuation: fl[i].Magnitude}
	}
	return points, nil
}

func (e *Engine) afterSolve(ctx context.Context, req Request, ds core.TimestepDataset, ens *solver.Ensemble, out *Output) error {
	mu := out.State.ChemicalPotentials

	if len(req.Temperatures) > 0 {
		profile, err := e.profile(ens, mu, req.Temperatures, StageProfile)
		if err != nil {
			return fmt.Errorf("temperature profile: %w", err)
		}
		out.Profile = profile
	}

	if req.TimeResolved {
		stop := e.recorder.StartStage(StageTimeResolved)
		ts, err := e.agg.TimeResolved(ctx, ds, mu, out.State.Temperature, req.Concurrency)
		stop()
		if err != nil {
			return fmt.Errorf("time resolved: %w", err)
		}
		out.TimeResolved = ts
	}

	stop := e.recorder.StartStage(StageFluctuation)
	fl, err := e.estimator.Estimate(ens, out.State)
	stop()
	if err != nil {
		return fmt.Errorf("fluctuation: %w", err)
	}
	out.Fluctuation = &fl
	e.recorder.SetFluctuation(req.System, fl.Magnitude)
	return nil
}

func (e *Engine) sweep(ctx context.Context, req Request, ens *solver.Ensemble, out *Output) error {
	if len(req.SweepPoints) == 0 {
		return nil
	}
	defer e.recorder.StartStage(StageSweep)()
	points := make([]config.Conditions, len(req.SweepPoints))
	for i, p := range req.SweepPoints {
		points[i] = p.Clone()
		points[i].Targets = req.Overrides.ApplyTargets(p.Targets, nil)
	}
	results, err := e.agg.Sweep(ctx, ens, points, req.Concurrency)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	for _, r := range results {
		e.recorder.ObserveSolve(r.Solve, r.Err)
	}
	out.Sweep = results
	return nil
}
