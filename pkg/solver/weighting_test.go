package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vacthermo/vacthermo/pkg/core"
)

func TestNewWeighting(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		wantErr  bool
		strategy WeightingStrategy
	}{
		{name: "Test case 1: Empty name defaults to grand-canonical", input: "", want: "grand-canonical", strategy: GrandCanonicalStrategy},
		{name: "Test case 2: Dilute alias", input: "Boltzmann", want: "dilute", strategy: DiluteStrategy},
		{name: "Test case 3: Independent-site", input: "independent-site", want: "independent-site", strategy: IndependentSiteStrategy},
		{name: "Test case 4: Unknown name", input: "semi-grand", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWeightingByName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownWeighting)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Name())
			assert.Equal(t, tt.want, tt.strategy.String())
		})
	}

	_, err := NewWeighting(WeightingStrategy(42))
	assert.ErrorIs(t, err, ErrUnknownWeighting)
}

func TestGrandCanonicalSite(t *testing.T) {
	w, err := NewWeighting(GrandCanonicalStrategy)
	require.NoError(t, err)

	logits := []float64{0, math.Log(2), math.Inf(-1)}
	logp := make([]float64, 3)
	resp := make([]float64, 3)
	w.Site(logits, logp, resp)

	// weights 1 (occupied), 1, 2, 0 -> probabilities 1/4, 2/4, 0
	assert.InDelta(t, 0.25, math.Exp(logp[0]), 1e-12)
	assert.InDelta(t, 0.5, math.Exp(logp[1]), 1e-12)
	assert.Equal(t, 0.0, math.Exp(logp[2]))
	for _, r := range resp {
		assert.InDelta(t, 0.25, r, 1e-12)
	}
}

func TestSitesDoNotOverflow(t *testing.T) {
	logits := []float64{800, 750}
	logp := make([]float64, 2)
	resp := make([]float64, 2)
	for _, strategy := range []WeightingStrategy{GrandCanonicalStrategy, IndependentSiteStrategy} {
		w, err := NewWeighting(strategy)
		require.NoError(t, err)
		w.Site(logits, logp, resp)
		for i := range logp {
			assert.False(t, math.IsNaN(logp[i]) || math.IsInf(logp[i], 0), "%s logp[%d]=%g", w.Name(), i, logp[i])
			assert.LessOrEqual(t, logp[i], 0.0)
			assert.False(t, math.IsNaN(resp[i]), "%s resp[%d]", w.Name(), i)
		}
	}
}

func TestIndependentSiteMatchesLogistic(t *testing.T) {
	w, err := NewWeighting(IndependentSiteStrategy)
	require.NoError(t, err)
	logits := []float64{-3, 0, 2.5}
	logp := make([]float64, 3)
	resp := make([]float64, 3)
	w.Site(logits, logp, resp)
	for i, a := range logits {
		p := 1 / (1 + math.Exp(-a))
		assert.InDelta(t, p, math.Exp(logp[i]), 1e-12)
		assert.InDelta(t, 1-p, resp[i], 1e-12)
	}
}

func TestObserveFormationAverages(t *testing.T) {
	// two independent sites with distinct enthalpies and volumes
	samples := []core.InsertionSample{
		{SiteID: 0, Species: "Fe", FormationEnthalpy: 1.0, FormationVolume: 0.5},
		{SiteID: 1, Species: "Fe", FormationEnthalpy: 1.4, FormationVolume: 0.9},
	}
	ens := EnsembleFromSamples(samples)
	w, err := NewWeighting(DiluteStrategy)
	require.NoError(t, err)

	kT := 0.1
	mu := core.ChemicalPotentialVector{"Fe": 0.2}
	obs := ens.Observe(w, mu, kT)

	z0 := math.Exp(-(1.0 - 0.2) / kT)
	z1 := math.Exp(-(1.4 - 0.2) / kT)
	assert.InEpsilon(t, (z0+z1)/2, obs.Concentration["Fe"], 1e-12)
	assert.InEpsilon(t, obs.Concentration["Fe"], obs.Total, 1e-12)
	assert.InEpsilon(t, (0.8*z0+1.2*z1)/(z0+z1), obs.MeanEnthalpy, 1e-12)
	assert.InEpsilon(t, (0.5*z0+0.9*z1)/(z0+z1), obs.MeanVolume, 1e-12)
}

func TestParseRootMethod(t *testing.T) {
	m, err := ParseRootMethod("Bisection")
	require.NoError(t, err)
	assert.Equal(t, Bisection, m)
	m, err = ParseRootMethod("")
	require.NoError(t, err)
	assert.Equal(t, Illinois, m)
	assert.Equal(t, "illinois", m.String())
	_, err = ParseRootMethod("brent")
	assert.ErrorIs(t, err, ErrUnknownRootMethod)
}
