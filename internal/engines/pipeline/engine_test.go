package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vacthermo/vacthermo/internal/aggregator"
	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/collector"
	runconfig "github.com/vacthermo/vacthermo/internal/config"
	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/internal/metrics"
	"github.com/vacthermo/vacthermo/pkg/config"
	"github.com/vacthermo/vacthermo/pkg/core"
	"github.com/vacthermo/vacthermo/pkg/solver"
)

// columnarArtifact writes sites Fe and Al candidates with enthalpies rising
// by 10 meV per site.
func columnarArtifact(sites int) string {
	var b strings.Builder
	b.WriteString("# columns: site_id species formation_enthalpy formation_volume\n")
	for s := 0; s < sites; s++ {
		fmt.Fprintf(&b, "%d Fe %.4f 0.80\n", s, 1.0+0.01*float64(s))
		fmt.Fprintf(&b, "%d Al %.4f 0.60\n", s, 0.8+0.01*float64(s))
	}
	return b.String()
}

func newColumnarSource(store *blob.MemoryStore) collector.SampleSource {
	src, err := collector.NewSampleSource(collector.SourceColumnar, store, collector.SourceOptions{})
	Expect(err).NotTo(HaveOccurred())
	return src
}

func within(x, target float64) bool {
	return x >= target*(1-config.DefaultTolerance) && x <= target*(1+config.DefaultTolerance)
}

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		store    *blob.MemoryStore
		recorder *metrics.Recorder
		engine   *Engine
		req      Request
		runID    uuid.UUID
	)

	BeforeEach(func() {
		ctx = logging.IntoContext(context.Background(), logging.NewTestLogger(GinkgoWriter))
		store = blob.NewMemory()
		store.PutString("feal/insertions_0.txt", "# nothing survived this timestep\n")
		store.PutString("feal/insertions_5.txt", columnarArtifact(30))
		store.PutString("feal/insertions_10.txt", columnarArtifact(40))

		recorder = metrics.NewRecorder()
		runID = uuid.New()
		var err error
		engine, err = NewEngine(config.DefaultSolverConfig(),
			WithRecorder(recorder),
			WithRunIDs(func() uuid.UUID { return runID }),
			WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }))
		Expect(err).NotTo(HaveOccurred())

		req = Request{
			System:       "feal",
			Source:       newColumnarSource(store),
			Timesteps:    []int{10, 0, 5, 15},
			Conditions:   config.Conditions{Temperature: 1000, Targets: map[core.Species]float64{"Fe": 1e-3, "Al": 2e-3}},
			Bins:         config.FixedCount(10),
			Temperatures: []float64{800, 1000, 1200},
			TimeResolved: true,
			SweepPoints: []config.Conditions{
				{Temperature: 900, Targets: map[core.Species]float64{"Fe": 1e-4}},
				{Temperature: 900, Targets: map[core.Species]float64{"Fe": 2}},
			},
			Concurrency: 3,
		}
	})

	Context("with a complete request", func() {
		It("should run every stage", func() {
			out, err := engine.Run(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.RunID).To(Equal(runID))
			Expect(out.Solved()).To(BeTrue())

			By("keeping empty and missing timesteps in order")
			Expect(out.Dataset.Timesteps()).To(Equal([]int{0, 5, 10, 15}))
			Expect(out.Dataset.EmptyTimesteps()).To(Equal([]int{0, 15}))
			Expect(collector.CountByKind(out.Warnings)[collector.EmptyTimestepWarning]).To(Equal(2))
			Expect(out.Species).To(Equal([]core.Species{"Al", "Fe"}))

			By("reproducing every target")
			for s, x := range req.Conditions.Targets {
				Expect(within(out.State.VacancyConcentration[s], x)).To(BeTrue(), "species %s", s)
			}
			Expect(out.State.MeanFormationVolume).To(BeNumerically(">", 0.6))
			Expect(out.State.MeanFormationVolume).To(BeNumerically("<", 0.8))

			By("building pooled and per-species histograms")
			Expect(out.Histograms).To(HaveLen(4))
			Expect(out.Histograms[0].Pooled.Total()).To(Equal(140))
			Expect(out.Histograms[0].PerTimestep).To(HaveLen(4))
			Expect(out.Histograms[2].Species).To(Equal([]core.Species{"Al"}))
			Expect(out.Histograms[3].Pooled.Total()).To(Equal(70))

			By("evaluating the profiles at the solved potentials")
			Expect(out.Profile).To(HaveLen(3))
			Expect(out.Profile[0].State.TotalConcentration).To(BeNumerically("<", out.Profile[2].State.TotalConcentration))
			Expect(out.TimeResolved).To(HaveLen(4))
			Expect(out.TimeResolved[0].Empty).To(BeTrue())
			Expect(out.TimeResolved[2].Samples).To(Equal(80))

			Expect(out.Fluctuation).NotTo(BeNil())
			Expect(out.Fluctuation.Magnitude).To(BeNumerically(">", 0))
			Expect(out.Fluctuation.Magnitude).To(BeNumerically("<", 1))

			By("solving sweep points independently")
			Expect(out.Sweep).To(HaveLen(2))
			Expect(out.Sweep[0].Err).NotTo(HaveOccurred())
			Expect(out.Sweep[1].Err).To(MatchError(solver.ErrTargetUnreachable))

			Expect(out.Reference).To(BeNil())
			Expect(out.FinishedAt).To(Equal(out.StartedAt))
		})

		It("should record metrics for every stage", func() {
			_, err := engine.Run(ctx, req)
			Expect(err).NotTo(HaveOccurred())

			n, err := testutil.GatherAndCount(recorder.Registry(), "vacthermo_pipeline_stage_duration_seconds")
			Expect(err).NotTo(HaveOccurred())
			// ingest, histogram, solve, profile, time_resolved, fluctuation, sweep
			Expect(n).To(Equal(7))
			n, err = testutil.GatherAndCount(recorder.Registry(), "vacthermo_solver_solves_total")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
		})
	})

	It("should report an unreachable main target without failing the run", func() {
		req.Conditions.Targets = map[core.Species]float64{"Fe": 1.5}
		out, err := engine.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Solved()).To(BeFalse())
		Expect(out.SolveErr).To(MatchError(solver.ErrTargetUnreachable))
		Expect(out.Fluctuation).To(BeNil())
		Expect(out.Profile).To(BeEmpty())
		Expect(out.Sweep).To(HaveLen(2))
	})

	It("should solve on histograms when asked", func() {
		req.UseHistograms = true
		req.Bins = config.FixedWidth(0.02)
		out, err := engine.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Solved()).To(BeTrue())
		Expect(within(out.State.VacancyConcentration["Fe"], 1e-3)).To(BeTrue())
	})

	It("should drop excluded species", func() {
		req.Overrides = runconfig.ParseSpeciesOverrides(ctx, map[string]string{
			"aluminium": "species: Al\nexclude: true",
		})
		out, err := engine.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Excluded).To(Equal([]core.Species{"Al"}))
		Expect(out.Dataset.Species()).To(Equal([]core.Species{"Fe"}))
		Expect(out.Conditions.Targets).To(Equal(map[core.Species]float64{"Fe": 1e-3}))
		Expect(out.Solved()).To(BeTrue())
	})

	It("should fail when overrides remove every target", func() {
		req.Conditions.Targets = map[core.Species]float64{"Al": 1e-3}
		req.Overrides = runconfig.SpeciesOverrideData{"Al": {Species: "Al", Exclude: ptrTo(true)}}
		_, err := engine.Run(ctx, req)
		Expect(err).To(MatchError(ErrInvalidRequest))
	})

	DescribeTable("should reject invalid requests",
		func(mutate func(*Request)) {
			mutate(&req)
			_, err := engine.Run(ctx, req)
			Expect(err).To(MatchError(ErrInvalidRequest))
		},
		Entry("no system", func(r *Request) { r.System = "" }),
		Entry("no source", func(r *Request) { r.Source = nil }),
		Entry("no targets", func(r *Request) { r.Conditions.Targets = nil }),
		Entry("bad sweep point", func(r *Request) { r.SweepPoints[0].Temperature = 0 }),
		Entry("bad profile temperature", func(r *Request) { r.Temperatures = []float64{-1} }),
	)

	It("should stop on cancellation", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := engine.Run(cctx, req)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("should discover timesteps when none are given", func() {
		req.Timesteps = nil
		out, err := engine.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Dataset.Timesteps()).To(Equal([]int{0, 5, 10}))
	})
})

func ptrTo[T any](v T) *T { return &v }

const fealData = `LAMMPS data file

2000 atoms
2 atom types

Masses

1 55.845
2 26.9815
`

// putLegacy writes energetics arrays for sites whose Fe and Al formation
// enthalpies are hFe+0.01*s and hAl+0.01*s.
func putLegacy(store *blob.MemoryStore, t, sites int, hFe, hAl float64) {
	var vacant, occFe, occAl strings.Builder
	for s := 0; s < sites; s++ {
		v := -8000.0 + float64(s)
		fmt.Fprintf(&vacant, "%.4f\n", v)
		fmt.Fprintf(&occFe, "%.4f\n", v-(hFe+0.01*float64(s)))
		fmt.Fprintf(&occAl, "%.4f\n", v-(hAl+0.01*float64(s)))
	}
	store.PutString(collector.LegacyKey("", "energetics_data", "feal", "vacant", t), vacant.String())
	store.PutString(collector.LegacyKey("", "energetics_data", "feal", "occupying1", t), occFe.String())
	store.PutString(collector.LegacyKey("", "energetics_data", "feal", "occupying2", t), occAl.String())
	store.PutString(collector.LegacyKey("", "energetics_data", "feal", "enthalpy", t), "-4.9\n")
}

var _ = Describe("RequestFromConfig", func() {
	var (
		ctx   context.Context
		store *blob.MemoryStore
		cfg   runconfig.RunConfig
	)

	BeforeEach(func() {
		ctx = logging.IntoContext(context.Background(), logging.NewTestLogger(GinkgoWriter))
		store = blob.NewMemory()
		store.PutString("data/feal.data", fealData)
		store.PutString("time.txt", "0 5\n")
		putLegacy(store, 0, 25, 1.2, 0.9)
		putLegacy(store, 5, 25, 1.1, 0.8)

		cfg = runconfig.RunConfig{
			System:        "feal",
			Source:        runconfig.SourceConfig{Kind: "legacy"},
			DataFile:      "data/feal.data",
			TimestepsFile: "time.txt",
			Temperature:   1100,
			Targets:       []string{"Fe=1e-3", "Al=1e-3"},
			Composition:   []string{"Fe=0.75", "Al=0.25"},
			Solver:        config.DefaultSolverConfig(),
			Bins:          config.DefaultBinSpec(),
			Concurrency:   2,
			Sweep:         runconfig.SweepConfig{Temperatures: []float64{900, 1300}},
		}
		cfg.Solver.SeedFromReference = true
	})

	It("should resolve the legacy layout and seed from reference potentials", func() {
		req, err := RequestFromConfig(ctx, cfg, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Timesteps).To(Equal([]int{0, 5}))
		Expect(req.Source.Name()).To(Equal("legacy"))
		Expect(req.SweepPoints).To(HaveLen(2))
		Expect(req.Composition).To(HaveKeyWithValue(core.Species("Fe"), 0.75))

		engine, err := NewEngine(cfg.Solver)
		Expect(err).NotTo(HaveOccurred())
		out, err := engine.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		Expect(out.Dataset.SampleCount()).To(Equal(100))
		// volumetrics are absent: one warning per timestep
		Expect(collector.CountByKind(out.Warnings)[collector.IngestionWarning]).To(Equal(2))
		Expect(out.EnthalpyPerAtom).NotTo(BeNil())
		Expect(*out.EnthalpyPerAtom).To(BeNumerically("~", -4.9, 1e-12))
		Expect(out.ReferenceErr).NotTo(HaveOccurred())
		Expect(out.Reference).To(HaveLen(2))
		// mean H_Fe - H_Al is 0.3 eV on every site
		Expect(out.Reference["Fe"] - out.Reference["Al"]).To(BeNumerically("~", 0.3, 1e-9))
		Expect(out.Solved()).To(BeTrue())
		Expect(out.Sweep).To(HaveLen(2))
	})

	It("should evaluate the reference potentials across temperatures", func() {
		cfg.Temperatures = []float64{900, 1100, 1300}
		req, err := RequestFromConfig(ctx, cfg, store)
		Expect(err).NotTo(HaveOccurred())
		// the profile must not depend on the main solve
		req.Conditions.Targets = map[core.Species]float64{"Fe": 1.5}

		engine, err := NewEngine(cfg.Solver)
		Expect(err).NotTo(HaveOccurred())
		out, err := engine.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Solved()).To(BeFalse())
		Expect(out.Profile).To(BeEmpty())

		Expect(out.Reference).To(HaveLen(2))
		Expect(out.ReferenceProfile).To(HaveLen(3))
		for i, p := range out.ReferenceProfile {
			Expect(p.State.Temperature).To(Equal(cfg.Temperatures[i]))
			Expect(p.State.ChemicalPotentials).To(Equal(out.Reference))
			Expect(p.State.TotalConcentration).To(BeNumerically(">", 0))
			Expect(p.Beta).To(BeNumerically("~", 1/(core.BoltzmannConstant*cfg.Temperatures[i]), 1e-9))
		}
		Expect(out.ReferenceTimeResolved).To(BeNil())
	})

	It("should fit reference potentials per timestep", func() {
		putLegacy(store, 10, 25, 1.3, 1.0)
		_, err := store.Delete(ctx, collector.LegacyKey("", "energetics_data", "feal", "enthalpy", 10))
		Expect(err).NotTo(HaveOccurred())
		store.PutString("time.txt", "0 5 10 20\n")
		cfg.Temperatures = []float64{900, 1300}
		cfg.ReferenceTimeResolved = true

		req, err := RequestFromConfig(ctx, cfg, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.ReferenceTimeResolved).To(BeTrue())
		engine, err := NewEngine(cfg.Solver)
		Expect(err).NotTo(HaveOccurred())
		out, err := engine.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		rts := out.ReferenceTimeResolved
		Expect(rts).To(HaveLen(4))
		for _, rt := range rts[:2] {
			Expect(rt.Err).NotTo(HaveOccurred(), "timestep %d", rt.Timestep)
			Expect(*rt.EnthalpyPerAtom).To(BeNumerically("~", -4.9, 1e-12))
			Expect(rt.Potentials["Fe"] - rt.Potentials["Al"]).To(BeNumerically("~", 0.3, 1e-9))
			Expect(0.75*rt.Potentials["Fe"] + 0.25*rt.Potentials["Al"]).To(BeNumerically("~", 4.9, 1e-9))
			Expect(rt.States).To(HaveLen(2))
			Expect(rt.States[0].Temperature).To(Equal(900.0))
			Expect(rt.States[1].Temperature).To(Equal(1300.0))
			Expect(rt.States[1].ChemicalPotentials).To(Equal(rt.Potentials))
		}

		By("keeping timesteps without an enthalpy")
		Expect(rts[2].Timestep).To(Equal(10))
		Expect(rts[2].Samples).To(Equal(50))
		Expect(rts[2].EnthalpyPerAtom).To(BeNil())
		Expect(rts[2].Err).To(MatchError(aggregator.ErrNoEnthalpyPerAtom))
		Expect(rts[3].Timestep).To(Equal(20))
		Expect(rts[3].Empty).To(BeTrue())
		Expect(rts[3].Err).To(MatchError(aggregator.ErrNoEnthalpyPerAtom))

		By("pooling only the timesteps that carry an enthalpy")
		Expect(*out.EnthalpyPerAtom).To(BeNumerically("~", -4.9, 1e-12))
		Expect(out.ReferenceProfile).To(HaveLen(2))
	})

	It("should fit per timestep at the main temperature without a profile", func() {
		cfg.ReferenceTimeResolved = true
		req, err := RequestFromConfig(ctx, cfg, store)
		Expect(err).NotTo(HaveOccurred())
		engine, err := NewEngine(cfg.Solver)
		Expect(err).NotTo(HaveOccurred())
		out, err := engine.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		Expect(out.ReferenceProfile).To(BeEmpty())
		Expect(out.ReferenceTimeResolved).To(HaveLen(2))
		for _, rt := range out.ReferenceTimeResolved {
			Expect(rt.States).To(HaveLen(1))
			Expect(rt.States[0].Temperature).To(Equal(1100.0))
		}
	})

	It("should fail on a type count mismatch", func() {
		cfg.TypeMap = "1=Fe,2=Al,3=Ni"
		_, err := RequestFromConfig(ctx, cfg, store)
		Expect(err).To(HaveOccurred())
	})

	It("should fail when the data file is missing", func() {
		cfg.DataFile = "data/missing.data"
		_, err := RequestFromConfig(ctx, cfg, store)
		Expect(err).To(MatchError(blob.ErrNotFound))
	})
})
