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

package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/vacthermo/vacthermo/pkg/core"
)

// Candidate is one way a site can become vacant.
type Candidate struct {
	Species core.Species
	// Enthalpy is the formation enthalpy (eV) before the chemical potential is applied.
	Enthalpy float64
	// Volume is the formation volume (Å^3).
	Volume float64
}

// Ensemble is the immutable, compiled form of the samples the solver reweights.
// Candidates that share a site compete for it. Sites carry a multiplicity weight,
// which is 1 for sample-built ensembles and the bin count for histogram-built ones.
type Ensemble struct {
	candidates []Candidate
	// shifted[i] = candidates[i].Enthalpy - shift
	shifted    []float64
	shift      float64
	sites      [][]int
	siteWeight []float64
	logTotal   float64
	bySpecies  map[core.Species][]int
	species    []core.Species
}

// EnsembleFromDataset groups the dataset's samples into sites keyed by (timestep, site id).
func EnsembleFromDataset(ds core.TimestepDataset) *Ensemble {
	return EnsembleFromSamples(ds.Samples())
}

// EnsembleFromSamples groups samples into sites keyed by (timestep, site id),
// in order of first appearance.
func EnsembleFromSamples(samples []core.InsertionSample) *Ensemble {
	b := newBuilder()
	index := make(map[core.SiteKey]int)
	for _, s := range samples {
		site, ok := index[s.Key()]
		if !ok {
			site = b.addSite(1)
			index[s.Key()] = site
		}
		b.addCandidate(site, Candidate{Species: s.Species, Enthalpy: s.FormationEnthalpy, Volume: s.FormationVolume})
	}
	return b.build()
}

// EnsembleFromHistograms turns per-species enthalpy histograms into independent
// sites, one per non-empty bin, placed at the bin centre and weighted by the count.
// Volumes are unknown in this form and are set to zero.
func EnsembleFromHistograms(hists map[core.Species]core.Histogram) *Ensemble {
	b := newBuilder()
	for _, s := range core.SortedSpecies(hists) {
		h := hists[s]
		centers := h.Centers()
		for i, c := range h.Counts() {
			if c == 0 {
				continue
			}
			site := b.addSite(float64(c))
			b.addCandidate(site, Candidate{Species: s, Enthalpy: centers[i]})
		}
	}
	return b.build()
}

type builder struct {
	e *Ensemble
}

func newBuilder() *builder {
	return &builder{e: &Ensemble{bySpecies: make(map[core.Species][]int)}}
}

func (b *builder) addSite(weight float64) int {
	b.e.sites = append(b.e.sites, nil)
	b.e.siteWeight = append(b.e.siteWeight, weight)
	return len(b.e.sites) - 1
}

func (b *builder) addCandidate(site int, c Candidate) {
	if math.IsNaN(c.Enthalpy) || math.IsInf(c.Enthalpy, 0) {
		return
	}
	i := len(b.e.candidates)
	b.e.candidates = append(b.e.candidates, c)
	b.e.sites[site] = append(b.e.sites[site], i)
	b.e.bySpecies[c.Species] = append(b.e.bySpecies[c.Species], i)
}

func (b *builder) build() *Ensemble {
	e := b.e
	// sites whose only candidates were non-finite still count as occupied sites
	e.species = core.SortedSpecies(e.bySpecies)
	e.shift = 0
	if len(e.candidates) > 0 {
		e.shift = math.Inf(1)
		for _, c := range e.candidates {
			e.shift = math.Min(e.shift, c.Enthalpy)
		}
	}
	e.shifted = make([]float64, len(e.candidates))
	for i, c := range e.candidates {
		e.shifted[i] = c.Enthalpy - e.shift
	}
	total := floats.SumCompensated(e.siteWeight)
	e.logTotal = math.Inf(-1)
	if total > 0 {
		e.logTotal = math.Log(total)
	}
	return e
}

// Len returns the number of candidates.
func (e *Ensemble) Len() int { return len(e.candidates) }

// Sites returns the number of sites.
func (e *Ensemble) Sites() int { return len(e.sites) }

// TotalWeight returns the summed site weight.
func (e *Ensemble) TotalWeight() float64 { return math.Exp(e.logTotal) }

// Species returns the species present, in lexical order.
func (e *Ensemble) Species() []core.Species {
	out := make([]core.Species, len(e.species))
	copy(out, e.species)
	return out
}

// Count returns the number of candidates of species s.
func (e *Ensemble) Count(s core.Species) int { return len(e.bySpecies[s]) }

// Candidates returns a copy of the candidates.
func (e *Ensemble) Candidates() []Candidate {
	out := make([]Candidate, len(e.candidates))
	copy(out, e.candidates)
	return out
}

// EnthalpyRange returns the minimum and maximum enthalpy of species s.
func (e *Ensemble) EnthalpyRange(s core.Species) (lo, hi float64, ok bool) {
	idx := e.bySpecies[s]
	if len(idx) == 0 {
		return 0, 0, false
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		lo = math.Min(lo, e.candidates[i].Enthalpy)
		hi = math.Max(hi, e.candidates[i].Enthalpy)
	}
	return lo, hi, true
}

// Observables are ensemble averages at fixed chemical potentials.
type Observables struct {
	// Concentration is the vacancy site fraction per species.
	Concentration map[core.Species]float64
	// LogConcentration is ln Concentration, finite even when Concentration underflows.
	LogConcentration map[core.Species]float64
	// Total is the sum of Concentration.
	Total float64
	// MeanEnthalpy is -d ln c / d beta, the effective formation enthalpy H - mu (eV).
	MeanEnthalpy float64
	// MeanVolume is the matching formation volume average (Å^3).
	MeanVolume float64
}

// Observe evaluates concentrations and formation averages. Species missing from mu
// do not vacate sites.
func (e *Ensemble) Observe(w Weighting, mu core.ChemicalPotentialVector, kT float64) Observables {
	n := len(e.candidates)
	logp := make([]float64, n)
	resp := make([]float64, n)
	e.evaluate(w, mu, kT, logp, resp)

	logTerms := make(map[core.Species][]float64, len(e.species))
	var hTerms, vTerms, pTerms []float64
	for si, site := range e.sites {
		lw := math.Log(e.siteWeight[si])
		for _, i := range site {
			c := e.candidates[i]
			logTerms[c.Species] = append(logTerms[c.Species], lw+logp[i])
			m, ok := mu[c.Species]
			if !ok {
				continue
			}
			q := math.Exp(lw+logp[i]-e.logTotal) * resp[i]
			hTerms = append(hTerms, q*(c.Enthalpy-m))
			vTerms = append(vTerms, q*c.Volume)
			pTerms = append(pTerms, math.Exp(lw+logp[i]-e.logTotal))
		}
	}

	obs := Observables{
		Concentration:    make(map[core.Species]float64, len(e.species)),
		LogConcentration: make(map[core.Species]float64, len(e.species)),
	}
	for _, s := range e.species {
		lc := logSumExp(logTerms[s]) - e.logTotal
		obs.LogConcentration[s] = lc
		obs.Concentration[s] = math.Exp(lc)
	}
	obs.Total = floats.SumCompensated(pTerms)
	if obs.Total > 0 {
		obs.MeanEnthalpy = floats.SumCompensated(hTerms) / obs.Total
		obs.MeanVolume = floats.SumCompensated(vTerms) / obs.Total
	}
	return obs
}

// logConcentration returns ln c_s at mu.
func (e *Ensemble) logConcentration(w Weighting, mu core.ChemicalPotentialVector, kT float64, s core.Species) float64 {
	logp := make([]float64, len(e.candidates))
	resp := make([]float64, len(e.candidates))
	e.evaluate(w, mu, kT, logp, resp)
	terms := make([]float64, 0, len(e.bySpecies[s]))
	for si, site := range e.sites {
		lw := math.Log(e.siteWeight[si])
		for _, i := range site {
			if e.candidates[i].Species == s {
				terms = append(terms, lw+logp[i])
			}
		}
	}
	return logSumExp(terms) - e.logTotal
}

// ProbabilityShares returns pi_s = Z_s / sum_t Z_t with Z_s = sum_{i in s} w_i e^{a_i},
// the species shares of the normalised partition estimate.
func (e *Ensemble) ProbabilityShares(mu core.ChemicalPotentialVector, kT float64) map[core.Species]float64 {
	logZ := make(map[core.Species]float64, len(e.species))
	var all []float64
	for _, s := range e.species {
		m, ok := mu[s]
		if !ok {
			continue
		}
		terms := make([]float64, 0, len(e.bySpecies[s]))
		for si, site := range e.sites {
			lw := math.Log(e.siteWeight[si])
			for _, i := range site {
				if e.candidates[i].Species == s {
					terms = append(terms, lw+(m-e.shift-e.shifted[i])/kT)
				}
			}
		}
		logZ[s] = logSumExp(terms)
		all = append(all, logZ[s])
	}
	total := logSumExp(all)
	out := make(map[core.Species]float64, len(logZ))
	for s, lz := range logZ {
		out[s] = math.Exp(lz - total)
	}
	return out
}

// evaluate fills ln p and response factors for every candidate.
func (e *Ensemble) evaluate(w Weighting, mu core.ChemicalPotentialVector, kT float64, logp, resp []float64) {
	var logits []float64
	for _, site := range e.sites {
		logits = logits[:0]
		for _, i := range site {
			m, ok := mu[e.candidates[i].Species]
			if !ok {
				logits = append(logits, math.Inf(-1))
				continue
			}
			// a = -(H - mu)/kT evaluated on minimum-shifted enthalpies
			logits = append(logits, ((m-e.shift)-e.shifted[i])/kT)
		}
		lp := make([]float64, len(site))
		rs := make([]float64, len(site))
		w.Site(logits, lp, rs)
		for k, i := range site {
			logp[i] = lp[k]
			resp[i] = rs[k]
		}
	}
}

func logSumExp(terms []float64) float64 {
	if len(terms) == 0 {
		return math.Inf(-1)
	}
	return floats.LogSumExp(terms)
}

func (e *Ensemble) String() string {
	return fmt.Sprintf("Ensemble{candidates: %d, sites: %d, species: %v}", len(e.candidates), len(e.sites), e.species)
}
