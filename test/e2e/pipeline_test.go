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

package e2e

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vacthermo/vacthermo/api/v1alpha1"
	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/collector"
	"github.com/vacthermo/vacthermo/internal/engines/pipeline"
	"github.com/vacthermo/vacthermo/internal/metrics"
	"github.com/vacthermo/vacthermo/internal/report"
	"github.com/vacthermo/vacthermo/pkg/config"
	"github.com/vacthermo/vacthermo/pkg/core"
)

func put(ctx context.Context, store blob.Store, key, content string) {
	_, err := store.Put(ctx, key, strings.NewReader(content), blob.PutOptions{ContentType: "text/plain"})
	Expect(err).NotTo(HaveOccurred())
}

// table renders n insertion records alternating between species.
func table(n int, species []string, enthalpy func(i int) float64) string {
	var b strings.Builder
	b.WriteString("# columns: site_id species formation_enthalpy formation_volume\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d %s %.6f 0.8\n", i/len(species), species[i%len(species)], enthalpy(i))
	}
	return b.String()
}

func newEngine(rec *metrics.Recorder) *pipeline.Engine {
	eng, err := pipeline.NewEngine(config.DefaultSolverConfig(), pipeline.WithRecorder(rec))
	Expect(err).NotTo(HaveOccurred())
	return eng
}

var _ = Describe("Analysis pipeline", Ordered, func() {
	var (
		ctx   context.Context
		store blob.Store
	)

	BeforeAll(func() {
		ctx = testContext()
		store = openStore(ctx, "e2e-"+uuid.NewString())
	})

	Context("with an empty timestep among populated ones", func() {
		var out *pipeline.Output

		BeforeAll(func() {
			By("writing artifacts with 0, 5 and 10 samples")
			species := []string{"Fe", "Al"}
			put(ctx, store, "sparse/insertions_0.txt", "# no insertions completed\n")
			put(ctx, store, "sparse/insertions_5.txt", table(5, species, func(i int) float64 { return 1 + 0.05*float64(i) }))
			put(ctx, store, "sparse/insertions_10.txt", table(10, species, func(i int) float64 { return 0.9 + 0.04*float64(i) }))

			src, err := collector.NewSampleSource(collector.SourceColumnar, store, collector.SourceOptions{})
			Expect(err).NotTo(HaveOccurred())

			By("running every stage")
			out, err = newEngine(metrics.NewRecorder()).Run(ctx, pipeline.Request{
				System:       "sparse",
				Source:       src,
				Conditions:   config.Conditions{Temperature: 1000, Targets: map[core.Species]float64{"Fe": 1e-3, "Al": 1e-3}},
				Bins:         config.FixedCount(4),
				Temperatures: []float64{800, 1200},
				TimeResolved: true,
				SweepPoints: []config.Conditions{
					{Temperature: 900, Targets: map[core.Species]float64{"Fe": 1e-4, "Al": 1e-4}},
				},
				Concurrency: 3,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps the empty timestep as a zero-sample entry", func() {
			Expect(out.Dataset.Timesteps()).To(Equal([]int{0, 5, 10}))
			Expect(out.Dataset.EmptyTimesteps()).To(Equal([]int{0}))
			e, ok := out.Dataset.Entry(0)
			Expect(ok).To(BeTrue())
			Expect(e.Samples).To(BeEmpty())
			Expect(out.Dataset.SampleCount()).To(Equal(15))
		})

		It("carries the empty entry through histograms and time resolution", func() {
			for _, set := range out.Histograms {
				Expect(set.PerTimestep).To(HaveLen(3))
				Expect(set.PerTimestep[0].Timestep).To(Equal(0))
				Expect(set.PerTimestep[0].Histogram.Total()).To(BeZero())
			}
			Expect(out.Histograms[0].Pooled.Total()).To(Equal(15))

			Expect(out.TimeResolved).To(HaveLen(3))
			Expect(out.TimeResolved[0].Empty).To(BeTrue())
			Expect(out.TimeResolved[0].State).To(Equal(core.ThermodynamicState{}))
			Expect(out.TimeResolved[1].Samples).To(Equal(5))
			Expect(out.TimeResolved[2].Samples).To(Equal(10))
		})

		It("solves and evaluates the later stages", func() {
			Expect(out.SolveErr).NotTo(HaveOccurred())
			Expect(out.State.VacancyConcentration["Fe"]).To(BeNumerically("~", 1e-3, 1e-3*config.DefaultTolerance*10))
			Expect(out.Profile).To(HaveLen(2))
			Expect(out.Fluctuation).NotTo(BeNil())
			Expect(out.Sweep).To(HaveLen(1))
			Expect(out.Sweep[0].Err).NotTo(HaveOccurred())
		})

		It("publishes a report that reads back from every sink", func() {
			rep := report.Build(out)
			Expect(rep.Status.Ingestion.EmptyTimesteps).To(Equal([]int{0}))
			Expect(rep.Status.GetCondition(v1alpha1.TypeSamplesAvailable).Reason).To(Equal(v1alpha1.ReasonEmptyTimesteps))

			results := openResults(ctx)
			pub := &report.Publisher{Store: store, Results: results, Format: v1alpha1.FormatYAML}
			published, err := pub.Publish(ctx, rep, "reports/sparse/report.yaml")
			Expect(err).NotTo(HaveOccurred())
			Expect(published.Persisted).To(BeTrue())

			fromStore, err := report.Load(ctx, store, "reports/sparse/report.yaml")
			Expect(err).NotTo(HaveOccurred())
			Expect(fromStore.Status.Solution).To(Equal(rep.Status.Solution))
			Expect(fromStore.Status.TimeResolved[0].Empty).To(BeTrue())

			fromDB, err := results.GetReport(ctx, out.RunID)
			Expect(err).NotTo(HaveOccurred())
			Expect(fromDB.Metadata.RunID).To(Equal(out.RunID.String()))
			Expect(fromDB.Status.Ingestion.EmptyTimesteps).To(Equal([]int{0}))

			species, err := results.SpeciesResults(ctx, out.RunID)
			Expect(err).NotTo(HaveOccurred())
			Expect(species).To(HaveLen(2))
		})
	})

	Context("with 1000 uniform enthalpies", func() {
		It("converges inside the padded enthalpy bracket", func() {
			rng := rand.New(rand.NewSource(2025))
			values := make([]float64, 1000)
			for i := range values {
				values[i] = rng.Float64()
			}
			put(ctx, store, "uniform/insertions_0.txt", table(len(values), []string{"Ni"}, func(i int) float64 { return values[i] }))

			src, err := collector.NewSampleSource(collector.SourceColumnar, store, collector.SourceOptions{})
			Expect(err).NotTo(HaveOccurred())
			out, err := newEngine(metrics.NewRecorder()).Run(ctx, pipeline.Request{
				System:     "uniform",
				Source:     src,
				Timesteps:  []int{0},
				Conditions: config.Conditions{Temperature: 1000, Targets: map[core.Species]float64{"Ni": 0.01}},
				Bins:       config.FixedCount(10),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.SolveErr).NotTo(HaveOccurred())

			lo, hi := math.Inf(1), math.Inf(-1)
			for _, s := range out.Dataset.Samples() {
				lo, hi = math.Min(lo, s.FormationEnthalpy), math.Max(hi, s.FormationEnthalpy)
			}
			Expect(out.Dataset.SampleCount()).To(Equal(1000))

			cfg := config.DefaultSolverConfig()
			Expect(out.Solve.OuterIterations).To(BeNumerically("<=", cfg.MaxOuterIterations))
			Expect(out.Solve.RootIterations).To(BeNumerically("<=", cfg.MaxIterations*cfg.MaxOuterIterations))

			mu := out.Solve.ChemicalPotentials["Ni"]
			Expect(mu).To(BeNumerically(">=", lo-10))
			Expect(mu).To(BeNumerically("<=", hi+10))
			Expect(out.State.VacancyConcentration["Ni"]).To(BeNumerically("~", 0.01, 0.01*cfg.Tolerance*10))
		})
	})
})
