package solver

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vacthermo/vacthermo/pkg/config"
	"github.com/vacthermo/vacthermo/pkg/core"
)

func constantEnsemble(n int, sp core.Species, h float64) *Ensemble {
	samples := make([]core.InsertionSample, n)
	for i := range samples {
		samples[i] = core.InsertionSample{Timestep: 0, SiteID: i, Species: sp, FormationEnthalpy: h, FormationVolume: 0.7}
	}
	return EnsembleFromSamples(samples)
}

func uniformEnsemble(n int, seed int64) (*Ensemble, []float64) {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]core.InsertionSample, n)
	hs := make([]float64, n)
	for i := range samples {
		hs[i] = rng.Float64()
		samples[i] = core.InsertionSample{Timestep: i % 3, SiteID: i, Species: "Fe", FormationEnthalpy: hs[i]}
	}
	return EnsembleFromSamples(samples), hs
}

func newSolver(t *testing.T, mutate func(*config.SolverConfig)) *Solver {
	t.Helper()
	cfg := config.DefaultSolverConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSolver(cfg)
	require.NoError(t, err)
	return s
}

func TestSolveClosedForm(t *testing.T) {
	const c = 1.3
	ens := constantEnsemble(50, "Ni", c)
	for _, method := range []string{"bisection", "illinois"} {
		for _, x := range []float64{1e-8, 1e-3, 0.2, 0.5, 0.9} {
			for _, temp := range []float64{300, 1200} {
				s := newSolver(t, func(cfg *config.SolverConfig) { cfg.RootMethod = method })
				res, err := s.Solve(context.Background(), ens, config.Conditions{
					Temperature: temp,
					Targets:     map[core.Species]float64{"Ni": x},
				})
				require.NoError(t, err, "method=%s x=%g T=%g", method, x, temp)

				kT := core.BoltzmannConstant * temp
				want := c + kT*math.Log(x/(1-x))
				// relative tolerance eps on c maps to roughly eps*kT on mu
				assert.InDelta(t, want, res.ChemicalPotentials["Ni"], 4*config.DefaultTolerance*kT+1e-12,
					"method=%s x=%g T=%g", method, x, temp)
				assert.InEpsilon(t, x, res.Concentrations["Ni"], config.DefaultTolerance)
			}
		}
	}
}

func TestSolveDiluteClosedForm(t *testing.T) {
	ens := constantEnsemble(10, "Fe", 0.9)
	s := newSolver(t, func(cfg *config.SolverConfig) { cfg.Weighting = "dilute" })
	res, err := s.Solve(context.Background(), ens, config.Conditions{
		Temperature: 800,
		Targets:     map[core.Species]float64{"Fe": 1e-5},
	})
	require.NoError(t, err)
	kT := core.BoltzmannConstant * 800
	assert.InDelta(t, 0.9+kT*math.Log(1e-5), res.ChemicalPotentials["Fe"], 1e-6)
}

func TestSolveMonotoneInTarget(t *testing.T) {
	ens, _ := uniformEnsemble(200, 3)
	s := newSolver(t, nil)
	prev := math.Inf(-1)
	for _, x := range []float64{1e-6, 1e-4, 1e-3, 0.01, 0.05, 0.2, 0.6} {
		res, err := s.Solve(context.Background(), ens, config.Conditions{
			Temperature: 1000,
			Targets:     map[core.Species]float64{"Fe": x},
		})
		require.NoError(t, err)
		mu := res.ChemicalPotentials["Fe"]
		assert.GreaterOrEqual(t, mu, prev, "target %g", x)
		prev = mu
	}
}

func TestSolveUniformWithinBracket(t *testing.T) {
	ens, hs := uniformEnsemble(1000, 11)
	s := newSolver(t, nil)
	res, err := s.Solve(context.Background(), ens, config.Conditions{
		Temperature: 1000,
		Targets:     map[core.Species]float64{"Fe": 0.01},
	})
	require.NoError(t, err)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, h := range hs {
		lo, hi = math.Min(lo, h), math.Max(hi, h)
	}
	mu := res.ChemicalPotentials["Fe"]
	assert.GreaterOrEqual(t, mu, lo-10)
	assert.LessOrEqual(t, mu, hi+10)
	assert.LessOrEqual(t, res.OuterIterations, config.DefaultMaxOuterIterations)
	assert.InEpsilon(t, 0.01, res.Concentrations["Fe"], config.DefaultTolerance)
}

func TestSolveErrors(t *testing.T) {
	ens := constantEnsemble(5, "Fe", 1)
	s := newSolver(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		ens     *Ensemble
		targets map[core.Species]float64
		wantErr error
	}{
		{name: "Test case 1: Target above one", ens: ens, targets: map[core.Species]float64{"Fe": 1.5}, wantErr: ErrTargetUnreachable},
		{name: "Test case 2: Target of exactly one", ens: ens, targets: map[core.Species]float64{"Fe": 1}, wantErr: ErrTargetUnreachable},
		{name: "Test case 3: Zero target", ens: ens, targets: map[core.Species]float64{"Fe": 0}, wantErr: ErrTargetUnreachable},
		{name: "Test case 4: Negative target", ens: ens, targets: map[core.Species]float64{"Fe": -0.1}, wantErr: ErrTargetUnreachable},
		{name: "Test case 5: Species without samples", ens: ens, targets: map[core.Species]float64{"Al": 0.01}, wantErr: ErrInsufficientSamples},
		{name: "Test case 6: Empty ensemble", ens: EnsembleFromSamples(nil), targets: map[core.Species]float64{"Fe": 0.01}, wantErr: ErrInsufficientSamples},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Solve(ctx, tt.ens, config.Conditions{Temperature: 1000, Targets: tt.targets})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			var se *SpeciesError
			assert.True(t, errors.As(err, &se))
		})
	}
}

func TestSolveTargetAboveSiteFraction(t *testing.T) {
	// Fe candidates sit on 2 of 4 sites, so c_Fe can never exceed one half.
	samples := []core.InsertionSample{
		{SiteID: 0, Species: "Fe", FormationEnthalpy: 1},
		{SiteID: 1, Species: "Fe", FormationEnthalpy: 1},
		{SiteID: 2, Species: "Al", FormationEnthalpy: 1},
		{SiteID: 3, Species: "Al", FormationEnthalpy: 1},
	}
	s := newSolver(t, nil)
	_, err := s.Solve(context.Background(), EnsembleFromSamples(samples), config.Conditions{
		Temperature: 1000,
		Targets:     map[core.Species]float64{"Fe": 0.7},
	})
	assert.ErrorIs(t, err, ErrTargetUnreachable)
}

func TestSolveMaxIterations(t *testing.T) {
	ens, _ := uniformEnsemble(100, 5)
	s := newSolver(t, func(cfg *config.SolverConfig) {
		cfg.MaxIterations = 2
		cfg.RootMethod = "bisection"
	})
	_, err := s.Solve(context.Background(), ens, config.Conditions{
		Temperature: 1000,
		Targets:     map[core.Species]float64{"Fe": 0.01},
	})
	assert.ErrorIs(t, err, ErrMaxIterationsExceeded)
}

// competingEnsemble puts one Fe and one Al candidate on every site.
func competingEnsemble() *Ensemble {
	rng := rand.New(rand.NewSource(21))
	var samples []core.InsertionSample
	for site := 0; site < 300; site++ {
		samples = append(samples,
			core.InsertionSample{SiteID: site, Species: "Fe", FormationEnthalpy: 1.0 + 0.3*rng.Float64()},
			core.InsertionSample{SiteID: site, Species: "Al", FormationEnthalpy: 0.6 + 0.3*rng.Float64()},
		)
	}
	return EnsembleFromSamples(samples)
}

func TestSolveCoupledSpecies(t *testing.T) {
	ens := competingEnsemble()
	cases := []struct {
		name     string
		targets  map[core.Species]float64
		maxOuter int
	}{
		{name: "dilute", targets: map[core.Species]float64{"Fe": 0.05, "Al": 0.2}, maxOuter: 10},
		{name: "half filled", targets: map[core.Species]float64{"Fe": 0.45, "Al": 0.45}, maxOuter: 10},
		// sites almost all vacant: per-species sweeps alone stall here
		{name: "crowded", targets: map[core.Species]float64{"Fe": 0.3, "Al": 0.69}, maxOuter: 20},
	}
	for _, tc := range cases {
		for _, method := range []string{"bisection", "illinois"} {
			t.Run(tc.name+"/"+method, func(t *testing.T) {
				s := newSolver(t, func(cfg *config.SolverConfig) { cfg.RootMethod = method })
				res, err := s.Solve(context.Background(), ens, config.Conditions{Temperature: 1100, Targets: tc.targets})
				require.NoError(t, err)
				assert.LessOrEqual(t, res.OuterIterations, tc.maxOuter)

				obs := ens.Observe(s.Weighting(), res.ChemicalPotentials, res.ThermalEnergy)
				for sp, x := range tc.targets {
					assert.InEpsilon(t, x, obs.Concentration[sp], config.DefaultTolerance, "species %s", sp)
				}
			})
		}
	}
}

// halfDilute is dilute with every Boltzmann factor halved.
type halfDilute struct{}

func (halfDilute) Name() string { return "half-dilute" }

func (halfDilute) Site(logits, logp, response []float64) {
	for i, a := range logits {
		logp[i] = a - math.Ln2
		response[i] = 1
	}
}

func TestSolveWithInjectedWeighting(t *testing.T) {
	ens := constantEnsemble(50, "Ni", 1.2)
	cond := config.Conditions{Temperature: 1000, Targets: map[core.Species]float64{"Ni": 1e-3}}

	base, err := NewSolver(config.SolverConfig{Weighting: "dilute"})
	require.NoError(t, err)
	want, err := base.Solve(context.Background(), ens, cond)
	require.NoError(t, err)

	s, err := NewSolver(config.DefaultSolverConfig(), WithWeighting(halfDilute{}))
	require.NoError(t, err)
	assert.Equal(t, "half-dilute", s.Config().Weighting)
	assert.Equal(t, "half-dilute", s.Weighting().Name())
	got, err := s.Solve(context.Background(), ens, cond)
	require.NoError(t, err)
	// halving every factor costs kT ln 2 of chemical potential
	assert.InDelta(t, want.ChemicalPotentials["Ni"]+got.ThermalEnergy*math.Ln2, got.ChemicalPotentials["Ni"], 1e-6)
}

func TestSolveSeedAndCancel(t *testing.T) {
	ens := constantEnsemble(20, "Co", 1.1)
	s := newSolver(t, nil)
	cond := config.Conditions{Temperature: 900, Targets: map[core.Species]float64{"Co": 0.01}}

	base, err := s.Solve(context.Background(), ens, cond)
	require.NoError(t, err)
	seeded, err := s.SolveFrom(context.Background(), ens, cond, core.ChemicalPotentialVector{"Co": 1e6})
	require.NoError(t, err)
	assert.InDelta(t, base.ChemicalPotentials["Co"], seeded.ChemicalPotentials["Co"], 1e-6)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Solve(ctx, ens, cond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolveFromHistograms(t *testing.T) {
	h, err := core.NewHistogram([]float64{0.5, 1.5}, []int{40}, 40)
	require.NoError(t, err)
	ens := EnsembleFromHistograms(map[core.Species]core.Histogram{"Cr": h})
	assert.Equal(t, 1, ens.Sites())
	assert.Equal(t, 40.0, ens.TotalWeight())

	s := newSolver(t, nil)
	res, err := s.Solve(context.Background(), ens, config.Conditions{
		Temperature: 1000,
		Targets:     map[core.Species]float64{"Cr": 0.1},
	})
	require.NoError(t, err)
	kT := core.BoltzmannConstant * 1000
	assert.InDelta(t, 1.0+kT*math.Log(0.1/0.9), res.ChemicalPotentials["Cr"], 1e-6)
}

func TestNewSolverRejectsUnknownStrategies(t *testing.T) {
	cfg := config.DefaultSolverConfig()
	cfg.Weighting = "semi-grand"
	_, err := NewSolver(cfg)
	assert.ErrorIs(t, err, ErrUnknownWeighting)

	cfg = config.DefaultSolverConfig()
	cfg.RootMethod = "newton"
	_, err = NewSolver(cfg)
	assert.ErrorIs(t, err, ErrUnknownRootMethod)

	cfg = config.DefaultSolverConfig()
	cfg.Tolerance = -1
	_, err = NewSolver(cfg)
	assert.Error(t, err)
}
