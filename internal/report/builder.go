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

package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vacthermo/vacthermo/api/v1alpha1"
	"github.com/vacthermo/vacthermo/internal/aggregator"
	"github.com/vacthermo/vacthermo/internal/collector"
	"github.com/vacthermo/vacthermo/internal/engines/pipeline"
	"github.com/vacthermo/vacthermo/internal/histogram"
	"github.com/vacthermo/vacthermo/pkg/core"
	"github.com/vacthermo/vacthermo/pkg/solver"
)

// Build converts a finished run into a report.
func Build(out *pipeline.Output) *v1alpha1.AnalysisReport {
	req := out.Request
	rep := v1alpha1.NewAnalysisReport(out.RunID.String(), req.System, out.FinishedAt)

	cfg := out.SolverConfig
	rep.Spec = v1alpha1.AnalysisSpec{
		Source:      req.Source.Name(),
		Timesteps:   out.Dataset.Timesteps(),
		Temperature: out.Conditions.Temperature,
		Targets:     speciesMap(out.Conditions.Targets),
		Composition: speciesMap(req.Composition),
		Solver: v1alpha1.SolverSettings{
			Weighting:          cfg.Weighting,
			RootMethod:         cfg.RootMethod,
			Tolerance:          cfg.Tolerance,
			MaxIterations:      cfg.MaxIterations,
			MaxOuterIterations: cfg.MaxOuterIterations,
			BracketPadding:     cfg.BracketPadding,
			BoltzmannConstant:  cfg.BoltzmannConstant,
		},
		Bins: v1alpha1.BinSettings{
			Mode:  string(req.Bins.Mode),
			Width: req.Bins.Width,
			NBins: req.Bins.NBins,
			Edges: append([]float64(nil), req.Bins.Edges...),
		},
		UseHistograms: req.UseHistograms,
	}
	if len(rep.Spec.Bins.Edges) == 0 {
		rep.Spec.Bins.Edges = nil
	}

	st := &rep.Status
	st.Ingestion = ingestion(out)
	st.Species = species(out)
	if out.Solved() {
		st.Solution = solution(out.State, out.Solve)
	}
	if out.Reference != nil {
		st.ReferencePotentials = speciesMap(out.Reference)
	}
	if out.EnthalpyPerAtom != nil {
		h := *out.EnthalpyPerAtom
		st.EnthalpyPerAtom = &h
	}
	for _, p := range out.ReferenceProfile {
		st.ReferenceProfile = append(st.ReferenceProfile, profilePoint(p))
	}
	for _, rt := range out.ReferenceTimeResolved {
		st.ReferenceTimeResolved = append(st.ReferenceTimeResolved, referenceTimestep(rt))
	}
	for _, set := range out.Histograms {
		st.Histograms = append(st.Histograms, HistogramRecord(set))
	}
	for _, p := range out.Profile {
		st.TemperatureProfile = append(st.TemperatureProfile, profilePoint(p))
	}
	for _, ts := range out.TimeResolved {
		st.TimeResolved = append(st.TimeResolved, v1alpha1.TimestepPoint{
			Timestep:              ts.Timestep,
			Samples:               ts.Samples,
			Empty:                 ts.Empty,
			TotalConcentration:    ts.State.TotalConcentration,
			MeanFormationEnthalpy: ts.State.MeanFormationEnthalpy,
			MeanFormationVolume:   ts.State.MeanFormationVolume,
		})
	}
	if fl := out.Fluctuation; fl != nil {
		names := make([]string, 0, fl.Matrix.Dim())
		for _, s := range fl.Matrix.Species() {
			names = append(names, string(s))
		}
		st.Fluctuation = &v1alpha1.Fluctuation{
			Temperature: fl.Temperature,
			Magnitude:   fl.Magnitude,
			Species:     names,
			Covariance:  fl.Matrix.Dense(),
		}
	}
	for _, r := range out.Sweep {
		st.Sweep = append(st.Sweep, sweepPoint(r))
	}
	setConditions(st, out)
	return rep
}

func profilePoint(p pipeline.ProfilePoint) v1alpha1.ProfilePoint {
	return v1alpha1.ProfilePoint{
		Temperature:           p.State.Temperature,
		Beta:                  p.Beta,
		TotalConcentration:    p.State.TotalConcentration,
		MeanFormationEnthalpy: p.State.MeanFormationEnthalpy,
		MeanFormationVolume:   p.State.MeanFormationVolume,
		Fluctuation:           p.Fluctuation,
	}
}

func referenceTimestep(rt aggregator.ReferenceTimestep) v1alpha1.ReferenceTimestep {
	r := v1alpha1.ReferenceTimestep{
		Timestep:           rt.Timestep,
		Samples:            rt.Samples,
		Empty:              rt.Empty,
		ChemicalPotentials: speciesMap(rt.Potentials),
	}
	if rt.EnthalpyPerAtom != nil {
		h := *rt.EnthalpyPerAtom
		r.EnthalpyPerAtom = &h
	}
	if rt.Err != nil {
		r.Error = rt.Err.Error()
	}
	for _, s := range rt.States {
		r.States = append(r.States, v1alpha1.ReferenceState{
			Temperature:           s.Temperature,
			Concentrations:        speciesMap(s.VacancyConcentration),
			TotalConcentration:    s.TotalConcentration,
			MeanFormationEnthalpy: s.MeanFormationEnthalpy,
			MeanFormationVolume:   s.MeanFormationVolume,
		})
	}
	return r
}

func speciesMap[M ~map[core.Species]float64](in M) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for s, v := range in {
		out[string(s)] = v
	}
	return out
}

func ingestion(out *pipeline.Output) v1alpha1.IngestionSummary {
	sum := v1alpha1.IngestionSummary{
		Timesteps:      out.Dataset.Timesteps(),
		EmptyTimesteps: out.Dataset.EmptyTimesteps(),
		Samples:        out.Dataset.SampleCount(),
	}
	if len(sum.EmptyTimesteps) == 0 {
		sum.EmptyTimesteps = nil
	}
	for _, w := range out.Warnings {
		sum.Warnings = append(sum.Warnings, v1alpha1.WarningRecord{
			Kind:     string(w.Kind),
			Timestep: w.Timestep,
			Key:      w.Key,
			Line:     w.Line,
			Message:  w.Message,
		})
	}
	return sum
}

func species(out *pipeline.Output) []v1alpha1.SpeciesInfo {
	counts := make(map[core.Species]int)
	for _, s := range out.Dataset.Samples() {
		counts[s.Species]++
	}
	excluded := make(map[core.Species]bool, len(out.Excluded))
	for _, s := range out.Excluded {
		excluded[s] = true
	}
	infos := make([]v1alpha1.SpeciesInfo, 0, len(out.Species))
	for _, s := range out.Species {
		color, label := out.Request.Overrides.Presentation(s)
		infos = append(infos, v1alpha1.SpeciesInfo{
			Name:     string(s),
			Label:    label,
			Color:    color,
			Samples:  counts[s],
			Excluded: excluded[s],
		})
	}
	return infos
}

func solution(state core.ThermodynamicState, res solver.Result) *v1alpha1.Solution {
	return &v1alpha1.Solution{
		Temperature:           state.Temperature,
		ChemicalPotentials:    speciesMap(state.ChemicalPotentials),
		Concentrations:        speciesMap(state.VacancyConcentration),
		TotalConcentration:    state.TotalConcentration,
		MeanFormationEnthalpy: state.MeanFormationEnthalpy,
		MeanFormationVolume:   state.MeanFormationVolume,
		OuterIterations:       res.OuterIterations,
		RootIterations:        res.RootIterations,
	}
}

// HistogramRecord converts a histogram set.
func HistogramRecord(set histogram.Set) v1alpha1.HistogramRecord {
	rec := v1alpha1.HistogramRecord{
		Quantity: string(set.Quantity),
		Edges:    set.Pooled.Edges(),
		Counts:   set.Pooled.Counts(),
		Total:    set.Pooled.Total(),
	}
	if len(set.Species) == 1 {
		rec.Species = string(set.Species[0])
	}
	for _, th := range set.PerTimestep {
		rec.PerTimestep = append(rec.PerTimestep, v1alpha1.TimestepCounts{
			Timestep: th.Timestep,
			Counts:   th.Histogram.Counts(),
			Total:    th.Histogram.Total(),
		})
	}
	return rec
}

func sweepPoint(r aggregator.SweepResult) v1alpha1.SweepPoint {
	p := v1alpha1.SweepPoint{
		Temperature: r.Conditions.Temperature,
		Targets:     speciesMap(r.Conditions.Targets),
	}
	if r.Err != nil {
		p.Error = r.Err.Error()
		return p
	}
	p.ChemicalPotentials = speciesMap(r.State.ChemicalPotentials)
	p.Concentrations = speciesMap(r.State.VacancyConcentration)
	return p
}

// SolveReason maps a solve error to a condition reason.
func SolveReason(err error) string {
	switch {
	case err == nil:
		return v1alpha1.ReasonSolveSucceeded
	case errors.Is(err, solver.ErrTargetUnreachable):
		return v1alpha1.ReasonTargetUnreachable
	case errors.Is(err, solver.ErrInsufficientSamples):
		return v1alpha1.ReasonInsufficientSamples
	case errors.Is(err, solver.ErrMaxIterationsExceeded):
		return v1alpha1.ReasonMaxIterations
	case errors.Is(err, aggregator.ErrInconsistentState):
		return v1alpha1.ReasonInconsistentState
	default:
		return v1alpha1.ReasonSolveFailed
	}
}

func setConditions(st *v1alpha1.AnalysisStatus, out *pipeline.Output) {
	at := out.FinishedAt

	samples := v1alpha1.Condition{Type: v1alpha1.TypeSamplesAvailable, LastTransitionTime: at}
	empty := out.Dataset.EmptyTimesteps()
	switch {
	case out.Dataset.SampleCount() == 0:
		samples.Status, samples.Reason = v1alpha1.ConditionFalse, v1alpha1.ReasonNoSamples
		samples.Message = fmt.Sprintf("no samples in %d timesteps", out.Dataset.Len())
	case len(empty) > 0:
		samples.Status, samples.Reason = v1alpha1.ConditionTrue, v1alpha1.ReasonEmptyTimesteps
		samples.Message = fmt.Sprintf("%d samples; timesteps without samples: %s", out.Dataset.SampleCount(), joinInts(empty))
	default:
		samples.Status, samples.Reason = v1alpha1.ConditionTrue, v1alpha1.ReasonSamplesFound
		samples.Message = fmt.Sprintf("%d samples in %d timesteps", out.Dataset.SampleCount(), out.Dataset.Len())
	}
	if n := collector.CountByKind(out.Warnings)[collector.IngestionWarning]; n > 0 {
		samples.Message += fmt.Sprintf(" (%d records skipped)", n)
	}
	st.SetCondition(samples)

	solved := v1alpha1.Condition{Type: v1alpha1.TypeSolved, LastTransitionTime: at, Reason: SolveReason(out.SolveErr)}
	consistent := v1alpha1.Condition{Type: v1alpha1.TypeConsistent, LastTransitionTime: at}
	switch {
	case out.SolveErr == nil:
		solved.Status = v1alpha1.ConditionTrue
		solved.Message = fmt.Sprintf("converged in %d sweeps at %g K", out.Solve.OuterIterations, out.Conditions.Temperature)
		consistent.Status, consistent.Reason = v1alpha1.ConditionTrue, v1alpha1.ReasonStateConsistent
		consistent.Message = "every species matches its target within tolerance"
	case errors.Is(out.SolveErr, aggregator.ErrInconsistentState):
		solved.Status = v1alpha1.ConditionFalse
		solved.Message = out.SolveErr.Error()
		consistent.Status, consistent.Reason = v1alpha1.ConditionFalse, v1alpha1.ReasonInconsistentState
		consistent.Message = out.SolveErr.Error()
	default:
		solved.Status = v1alpha1.ConditionFalse
		solved.Message = out.SolveErr.Error()
		consistent.Status, consistent.Reason = v1alpha1.ConditionUnknown, v1alpha1.ReasonSolveFailed
		consistent.Message = "state was not evaluated"
	}
	st.SetCondition(solved)
	st.SetCondition(consistent)
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
