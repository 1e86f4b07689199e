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

// Package v1alpha1 holds the versioned document types vacthermo writes for
// downstream plotting and archival.
package v1alpha1

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// GroupVersion identifies this API version.
	GroupVersion = "vacthermo.io/v1alpha1"
	// KindAnalysisReport is the kind of AnalysisReport documents.
	KindAnalysisReport = "AnalysisReport"
)

// TypeMeta identifies the schema of a document.
type TypeMeta struct {
	APIVersion string `json:"apiVersion" yaml:"apiVersion"`
	Kind       string `json:"kind" yaml:"kind"`
}

// ReportMeta identifies one analysis run.
type ReportMeta struct {
	// RunID is a UUID assigned when the run starts.
	RunID string `json:"runID" yaml:"runID"`

	// System is the tag the insertion artifacts were read from (e.g. "cantor").
	System string `json:"system" yaml:"system"`

	// CreatedAt is when the report was assembled.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// +optional
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// AnalysisSpec records the inputs of the run.
type AnalysisSpec struct {
	// Source is the sample source kind ("columnar" or "legacy").
	Source string `json:"source" yaml:"source"`

	// Timesteps requested for ingestion, ascending.
	Timesteps []int `json:"timesteps" yaml:"timesteps"`

	// Temperature of the main solve in K.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// Targets maps species to requested vacancy concentrations.
	Targets map[string]float64 `json:"targets" yaml:"targets"`

	// Composition maps species to atomic fractions, used for reference potentials.
	// +optional
	Composition map[string]float64 `json:"composition,omitempty" yaml:"composition,omitempty"`

	Solver SolverSettings `json:"solver" yaml:"solver"`

	// Bins describes the histogram binning.
	Bins BinSettings `json:"bins" yaml:"bins"`

	// UseHistograms is set when the solve ran on binned enthalpies.
	// +optional
	UseHistograms bool `json:"useHistograms,omitempty" yaml:"useHistograms,omitempty"`
}

// SolverSettings echoes the solver configuration.
type SolverSettings struct {
	Weighting          string  `json:"weighting" yaml:"weighting"`
	RootMethod         string  `json:"rootMethod" yaml:"rootMethod"`
	Tolerance          float64 `json:"tolerance" yaml:"tolerance"`
	MaxIterations      int     `json:"maxIterations" yaml:"maxIterations"`
	MaxOuterIterations int     `json:"maxOuterIterations" yaml:"maxOuterIterations"`
	BracketPadding     float64 `json:"bracketPadding" yaml:"bracketPadding"`
	BoltzmannConstant  float64 `json:"boltzmannConstant" yaml:"boltzmannConstant"`
}

// BinSettings echoes the histogram bin specification.
type BinSettings struct {
	Mode  string    `json:"mode" yaml:"mode"`
	Width float64   `json:"width,omitempty" yaml:"width,omitempty"`
	NBins int       `json:"nBins,omitempty" yaml:"nBins,omitempty"`
	Edges []float64 `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// AnalysisStatus holds the results.
type AnalysisStatus struct {
	Ingestion IngestionSummary `json:"ingestion" yaml:"ingestion"`

	// Species lists every species seen, in sorted order.
	Species []SpeciesInfo `json:"species" yaml:"species"`

	// Solution is the main solve. Nil when the solve failed.
	// +optional
	Solution *Solution `json:"solution,omitempty" yaml:"solution,omitempty"`

	// ReferencePotentials is the least-squares estimate, when composition and
	// enthalpy per atom were available.
	// +optional
	ReferencePotentials map[string]float64 `json:"referencePotentials,omitempty" yaml:"referencePotentials,omitempty"`

	// EnthalpyPerAtom is the mean over the timesteps that recorded one.
	// +optional
	EnthalpyPerAtom *float64 `json:"enthalpyPerAtom,omitempty" yaml:"enthalpyPerAtom,omitempty"`

	// ReferenceProfile evaluates the reference potentials across temperatures.
	// +optional
	ReferenceProfile []ProfilePoint `json:"referenceProfile,omitempty" yaml:"referenceProfile,omitempty"`

	// ReferenceTimeResolved fits reference potentials to each timestep.
	// +optional
	ReferenceTimeResolved []ReferenceTimestep `json:"referenceTimeResolved,omitempty" yaml:"referenceTimeResolved,omitempty"`

	// +optional
	Histograms []HistogramRecord `json:"histograms,omitempty" yaml:"histograms,omitempty"`

	// TemperatureProfile evaluates the solved potentials across temperatures.
	// +optional
	TemperatureProfile []ProfilePoint `json:"temperatureProfile,omitempty" yaml:"temperatureProfile,omitempty"`

	// TimeResolved evaluates each timestep at the solved potentials.
	// +optional
	TimeResolved []TimestepPoint `json:"timeResolved,omitempty" yaml:"timeResolved,omitempty"`

	// +optional
	Fluctuation *Fluctuation `json:"fluctuation,omitempty" yaml:"fluctuation,omitempty"`

	// +optional
	Sweep []SweepPoint `json:"sweep,omitempty" yaml:"sweep,omitempty"`

	// Conditions represent the latest observations of the run's state.
	// +listType=map
	// +listMapKey=type
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// IngestionSummary describes what was read.
type IngestionSummary struct {
	Timesteps      []int           `json:"timesteps" yaml:"timesteps"`
	EmptyTimesteps []int           `json:"emptyTimesteps,omitempty" yaml:"emptyTimesteps,omitempty"`
	Samples        int             `json:"samples" yaml:"samples"`
	Warnings       []WarningRecord `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// WarningRecord is a non-fatal ingestion problem.
type WarningRecord struct {
	Kind     string `json:"kind" yaml:"kind"`
	Timestep int    `json:"timestep" yaml:"timestep"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
	Message  string `json:"message" yaml:"message"`
}

// SpeciesInfo carries per-species presentation data.
type SpeciesInfo struct {
	Name    string `json:"name" yaml:"name"`
	Label   string `json:"label" yaml:"label"`
	Color   string `json:"color,omitempty" yaml:"color,omitempty"`
	Samples int    `json:"samples" yaml:"samples"`
	// Excluded is set when an override removed the species from the analysis.
	Excluded bool `json:"excluded,omitempty" yaml:"excluded,omitempty"`
}

// Solution is a solved thermodynamic state.
type Solution struct {
	Temperature           float64            `json:"temperature" yaml:"temperature"`
	ChemicalPotentials    map[string]float64 `json:"chemicalPotentials" yaml:"chemicalPotentials"`
	Concentrations        map[string]float64 `json:"concentrations" yaml:"concentrations"`
	TotalConcentration    float64            `json:"totalConcentration" yaml:"totalConcentration"`
	MeanFormationEnthalpy float64            `json:"meanFormationEnthalpy" yaml:"meanFormationEnthalpy"`
	MeanFormationVolume   float64            `json:"meanFormationVolume" yaml:"meanFormationVolume"`
	OuterIterations       int                `json:"outerIterations" yaml:"outerIterations"`
	RootIterations        int                `json:"rootIterations" yaml:"rootIterations"`
}

// HistogramRecord is a pooled histogram with per-timestep counts on the same edges.
type HistogramRecord struct {
	// Quantity is "formation_enthalpy" or "formation_volume".
	Quantity string `json:"quantity" yaml:"quantity"`
	// Species is empty for the all-species histogram.
	// +optional
	Species     string           `json:"species,omitempty" yaml:"species,omitempty"`
	Edges       []float64        `json:"edges" yaml:"edges"`
	Counts      []int            `json:"counts" yaml:"counts"`
	Total       int              `json:"total" yaml:"total"`
	PerTimestep []TimestepCounts `json:"perTimestep,omitempty" yaml:"perTimestep,omitempty"`
}

// TimestepCounts are one timestep's counts.
type TimestepCounts struct {
	Timestep int   `json:"timestep" yaml:"timestep"`
	Counts   []int `json:"counts" yaml:"counts"`
	Total    int   `json:"total" yaml:"total"`
}

// ProfilePoint is the state at one temperature for fixed potentials.
type ProfilePoint struct {
	Temperature           float64 `json:"temperature" yaml:"temperature"`
	Beta                  float64 `json:"beta" yaml:"beta"`
	TotalConcentration    float64 `json:"totalConcentration" yaml:"totalConcentration"`
	MeanFormationEnthalpy float64 `json:"meanFormationEnthalpy" yaml:"meanFormationEnthalpy"`
	MeanFormationVolume   float64 `json:"meanFormationVolume" yaml:"meanFormationVolume"`
	Fluctuation           float64 `json:"fluctuation" yaml:"fluctuation"`
}

// TimestepPoint is the state of one timestep at the solved potentials.
type TimestepPoint struct {
	Timestep              int     `json:"timestep" yaml:"timestep"`
	Samples               int     `json:"samples" yaml:"samples"`
	Empty                 bool    `json:"empty,omitempty" yaml:"empty,omitempty"`
	TotalConcentration    float64 `json:"totalConcentration" yaml:"totalConcentration"`
	MeanFormationEnthalpy float64 `json:"meanFormationEnthalpy" yaml:"meanFormationEnthalpy"`
	MeanFormationVolume   float64 `json:"meanFormationVolume" yaml:"meanFormationVolume"`
}

// ReferenceTimestep holds the reference potentials fitted to one timestep.
type ReferenceTimestep struct {
	Timestep int  `json:"timestep" yaml:"timestep"`
	Samples  int  `json:"samples" yaml:"samples"`
	Empty    bool `json:"empty,omitempty" yaml:"empty,omitempty"`
	// +optional
	EnthalpyPerAtom *float64 `json:"enthalpyPerAtom,omitempty" yaml:"enthalpyPerAtom,omitempty"`
	// +optional
	ChemicalPotentials map[string]float64 `json:"chemicalPotentials,omitempty" yaml:"chemicalPotentials,omitempty"`
	// +optional
	States []ReferenceState `json:"states,omitempty" yaml:"states,omitempty"`
	// Error says why no potentials were fitted.
	// +optional
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ReferenceState is a timestep's state at its reference potentials.
type ReferenceState struct {
	Temperature           float64            `json:"temperature" yaml:"temperature"`
	Concentrations        map[string]float64 `json:"concentrations" yaml:"concentrations"`
	TotalConcentration    float64            `json:"totalConcentration" yaml:"totalConcentration"`
	MeanFormationEnthalpy float64            `json:"meanFormationEnthalpy" yaml:"meanFormationEnthalpy"`
	MeanFormationVolume   float64            `json:"meanFormationVolume" yaml:"meanFormationVolume"`
}

// Fluctuation is the occupation-number covariance at the solved state.
type Fluctuation struct {
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Magnitude   float64 `json:"magnitude" yaml:"magnitude"`
	// Species orders the rows and columns of Covariance.
	Species    []string    `json:"species" yaml:"species"`
	Covariance [][]float64 `json:"covariance" yaml:"covariance"`
}

// SweepPoint is one independently solved point of a sweep.
type SweepPoint struct {
	Temperature        float64            `json:"temperature" yaml:"temperature"`
	Targets            map[string]float64 `json:"targets" yaml:"targets"`
	ChemicalPotentials map[string]float64 `json:"chemicalPotentials,omitempty" yaml:"chemicalPotentials,omitempty"`
	Concentrations     map[string]float64 `json:"concentrations,omitempty" yaml:"concentrations,omitempty"`
	// Error is set when the point failed.
	// +optional
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ConditionStatus is True, False or Unknown.
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "True"
	ConditionFalse   ConditionStatus = "False"
	ConditionUnknown ConditionStatus = "Unknown"
)

// Condition is one observation about the run.
type Condition struct {
	Type               string          `json:"type" yaml:"type"`
	Status             ConditionStatus `json:"status" yaml:"status"`
	Reason             string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message            string          `json:"message,omitempty" yaml:"message,omitempty"`
	LastTransitionTime time.Time       `json:"lastTransitionTime" yaml:"lastTransitionTime"`
}

// AnalysisReport is the document produced by one analysis run.
type AnalysisReport struct {
	TypeMeta `json:",inline" yaml:",inline"`
	Metadata ReportMeta `json:"metadata" yaml:"metadata"`

	// Spec records the inputs of the run.
	Spec AnalysisSpec `json:"spec" yaml:"spec"`

	// Status holds the results.
	Status AnalysisStatus `json:"status" yaml:"status"`
}

// NewAnalysisReport returns an empty report with its type metadata set.
func NewAnalysisReport(runID, system string, createdAt time.Time) *AnalysisReport {
	return &AnalysisReport{
		TypeMeta: TypeMeta{APIVersion: GroupVersion, Kind: KindAnalysisReport},
		Metadata: ReportMeta{RunID: runID, System: system, CreatedAt: createdAt.UTC()},
	}
}

// Condition Types for AnalysisReport
const (
	// TypeSamplesAvailable indicates whether ingestion produced any samples
	TypeSamplesAvailable = "SamplesAvailable"
	// TypeSolved indicates whether the chemical potentials were solved
	TypeSolved = "Solved"
	// TypeConsistent indicates whether the evaluated state matched its targets
	TypeConsistent = "Consistent"
)

// Condition Reasons for SamplesAvailable
const (
	ReasonSamplesFound   = "SamplesFound"
	ReasonNoSamples      = "NoSamples"
	ReasonEmptyTimesteps = "EmptyTimesteps"
)

// Condition Reasons for Solved and Consistent
const (
	ReasonSolveSucceeded       = "SolveSucceeded"
	ReasonTargetUnreachable    = "TargetUnreachable"
	ReasonInsufficientSamples  = "InsufficientSamples"
	ReasonMaxIterations        = "MaxIterationsExceeded"
	ReasonSolveFailed          = "SolveFailed"
	ReasonStateConsistent      = "StateConsistent"
	ReasonInconsistentState    = "InconsistentState"
	ReasonInvalidConfiguration = "InvalidConfiguration"
)

// SetCondition adds c or replaces the condition of the same type. The
// transition time only moves when the status changes.
func (s *AnalysisStatus) SetCondition(c Condition) {
	if c.LastTransitionTime.IsZero() {
		c.LastTransitionTime = time.Now().UTC()
	}
	for i := range s.Conditions {
		if s.Conditions[i].Type != c.Type {
			continue
		}
		if s.Conditions[i].Status == c.Status {
			c.LastTransitionTime = s.Conditions[i].LastTransitionTime
		}
		s.Conditions[i] = c
		return
	}
	s.Conditions = append(s.Conditions, c)
}

// GetCondition returns the condition of type t, or nil.
func (s *AnalysisStatus) GetCondition(t string) *Condition {
	for i := range s.Conditions {
		if s.Conditions[i].Type == t {
			return &s.Conditions[i]
		}
	}
	return nil
}

// Format names a report encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Marshal encodes r. JSON output is indented.
func (r *AnalysisReport) Marshal(f Format) ([]byte, error) {
	switch f {
	case FormatJSON, "":
		return json.MarshalIndent(r, "", "  ")
	case FormatYAML:
		return yaml.Marshal(r)
	default:
		return nil, fmt.Errorf("v1alpha1: unknown report format %q", f)
	}
}

// Unmarshal decodes data into a report and checks its type metadata.
func Unmarshal(data []byte, f Format) (*AnalysisReport, error) {
	var r AnalysisReport
	var err error
	switch f {
	case FormatJSON, "":
		err = json.Unmarshal(data, &r)
	case FormatYAML:
		err = yaml.Unmarshal(data, &r)
	default:
		return nil, fmt.Errorf("v1alpha1: unknown report format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("v1alpha1: decode report: %w", err)
	}
	if r.APIVersion != GroupVersion || r.Kind != KindAnalysisReport {
		return nil, fmt.Errorf("v1alpha1: unexpected document %s/%s", r.APIVersion, r.Kind)
	}
	return &r, nil
}
