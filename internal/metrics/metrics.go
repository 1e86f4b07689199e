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

// Package metrics records run metrics on a private Prometheus registry.
//
// Runs are batch jobs, so metrics are not served. They are written as a
// node-exporter textfile or dumped in the text exposition format.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/vacthermo/vacthermo/pkg/core"
	"github.com/vacthermo/vacthermo/pkg/solver"
)

const namespace = "vacthermo"

// Solve outcomes used as the outcome label.
const (
	OutcomeOK            = "ok"
	OutcomeUnreachable   = "unreachable"
	OutcomeInsufficient  = "insufficient_samples"
	OutcomeMaxIterations = "max_iterations"
	OutcomeError         = "error"
)

// Recorder holds the run metrics.
type Recorder struct {
	registry *prometheus.Registry

	samplesIngested   *prometheus.CounterVec
	warnings          *prometheus.CounterVec
	emptyTimesteps    *prometheus.GaugeVec
	solves            *prometheus.CounterVec
	outerIterations   prometheus.Histogram
	rootIterations    prometheus.Histogram
	stageDuration     *prometheus.HistogramVec
	concentration     *prometheus.GaugeVec
	chemicalPotential *prometheus.GaugeVec
	formationEnthalpy *prometheus.GaugeVec
	formationVolume   *prometheus.GaugeVec
	fluctuation       *prometheus.GaugeVec
}

// NewRecorder registers all metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		samplesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "samples_total",
			Help: "Insertion samples ingested.",
		}, []string{"system"}),
		warnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "warnings_total",
			Help: "Ingestion warnings by kind.",
		}, []string{"system", "kind"}),
		emptyTimesteps: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "empty_timesteps",
			Help: "Timesteps without samples in the last ingestion.",
		}, []string{"system"}),
		solves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "solver", Name: "solves_total",
			Help: "Chemical-potential solves by outcome.",
		}, []string{"outcome"}),
		outerIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "solver", Name: "outer_iterations",
			Help:    "Outer sweeps per successful solve.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		rootIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "solver", Name: "root_iterations",
			Help:    "Root-finder steps per successful solve.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		concentration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "vacancy_concentration",
			Help: "Vacancy concentration per species at the solved state.",
		}, []string{"system", "species"}),
		chemicalPotential: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "chemical_potential_ev",
			Help: "Solved chemical potential per species.",
		}, []string{"system", "species"}),
		formationEnthalpy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "formation_enthalpy_ev",
			Help: "Effective vacancy formation enthalpy.",
		}, []string{"system"}),
		formationVolume: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "formation_volume",
			Help: "Effective vacancy formation volume.",
		}, []string{"system"}),
		fluctuation: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "occupation_fluctuation",
			Help: "Scalar occupation-number fluctuation at the solved state.",
		}, []string{"system"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveIngest records one ingestion. warnings is keyed by warning kind.
func (r *Recorder) ObserveIngest(system string, samples, emptyTimesteps int, warnings map[string]int) {
	r.samplesIngested.WithLabelValues(system).Add(float64(samples))
	r.emptyTimesteps.WithLabelValues(system).Set(float64(emptyTimesteps))
	for kind, n := range warnings {
		r.warnings.WithLabelValues(system, kind).Add(float64(n))
	}
}

// ObserveSolve records a solve result and its error, if any.
func (r *Recorder) ObserveSolve(res solver.Result, err error) {
	outcome := Outcome(err)
	r.solves.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		r.outerIterations.Observe(float64(res.OuterIterations))
		r.rootIterations.Observe(float64(res.RootIterations))
	}
}

// Outcome classifies a solve error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, solver.ErrTargetUnreachable):
		return OutcomeUnreachable
	case errors.Is(err, solver.ErrInsufficientSamples):
		return OutcomeInsufficient
	case errors.Is(err, solver.ErrMaxIterationsExceeded):
		return OutcomeMaxIterations
	default:
		return OutcomeError
	}
}

// StartStage returns a func that records the stage's duration when called.
func (r *Recorder) StartStage(stage string) func() {
	start := time.Now()
	return func() {
		r.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// SetState publishes the solved state of system.
func (r *Recorder) SetState(system string, state core.ThermodynamicState) {
	for s, c := range state.VacancyConcentration {
		r.concentration.WithLabelValues(system, string(s)).Set(c)
	}
	for s, mu := range state.ChemicalPotentials {
		r.chemicalPotential.WithLabelValues(system, string(s)).Set(mu)
	}
	r.formationEnthalpy.WithLabelValues(system).Set(state.MeanFormationEnthalpy)
	r.formationVolume.WithLabelValues(system).Set(state.MeanFormationVolume)
}

// SetFluctuation publishes the scalar fluctuation of system.
func (r *Recorder) SetFluctuation(system string, magnitude float64) {
	r.fluctuation.WithLabelValues(system).Set(magnitude)
}

// WriteTextfile writes all metrics to path for the node-exporter textfile
// collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

// Dump writes all metrics to w in the text exposition format.
func (r *Recorder) Dump(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
