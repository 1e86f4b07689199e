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
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Weighting turns the reduced logits a_i = -(H_i - mu_i)/kT of the candidates
// competing for one site into occupation probabilities.
type Weighting interface {
	// Name returns the strategy name used in configuration.
	Name() string
	// Site writes ln p_i into logp and the response factor r_i into response.
	// r_i is defined by dP/da_i = p_i * r_i, where P is the site's total vacancy probability.
	// All three slices have the same length.
	Site(logits, logp, response []float64)
}

// WeightingStrategy is an enumeration of the available weighting schemes.
type WeightingStrategy int

// enumeration of WeightingStrategy
const (
	GrandCanonicalStrategy WeightingStrategy = iota
	DiluteStrategy
	IndependentSiteStrategy
)

var weightingNames = map[WeightingStrategy]string{
	GrandCanonicalStrategy:  "grand-canonical",
	DiluteStrategy:          "dilute",
	IndependentSiteStrategy: "independent-site",
}

func (s WeightingStrategy) String() string {
	if n, ok := weightingNames[s]; ok {
		return n
	}
	return fmt.Sprintf("WeightingStrategy(%d)", int(s))
}

// ParseWeightingStrategy maps a configuration name onto a strategy.
func ParseWeightingStrategy(name string) (WeightingStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "grand-canonical", "grandcanonical", "gc":
		return GrandCanonicalStrategy, nil
	case "dilute", "boltzmann":
		return DiluteStrategy, nil
	case "independent-site", "independent", "fermi":
		return IndependentSiteStrategy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownWeighting, name)
	}
}

// NewWeighting is a factory that creates a Weighting for the provided strategy
func NewWeighting(strategy WeightingStrategy) (Weighting, error) {
	switch strategy {
	case GrandCanonicalStrategy:
		return grandCanonical{}, nil
	case DiluteStrategy:
		return dilute{}, nil
	case IndependentSiteStrategy:
		return independentSite{}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownWeighting, strategy)
	}
}

// NewWeightingByName parses name and builds the matching Weighting.
func NewWeightingByName(name string) (Weighting, error) {
	s, err := ParseWeightingStrategy(name)
	if err != nil {
		return nil, err
	}
	return NewWeighting(s)
}

// grandCanonical lets the candidates of a site compete: the site is either
// occupied (weight 1) or vacant through exactly one candidate (weight e^a_i).
type grandCanonical struct{}

func (grandCanonical) Name() string { return "grand-canonical" }

func (grandCanonical) Site(logits, logp, response []float64) {
	terms := make([]float64, len(logits)+1)
	copy(terms[1:], logits)
	lse := floats.LogSumExp(terms)
	// 1 - P is the occupied-site probability e^{-lse}
	r := math.Exp(-lse)
	for i, a := range logits {
		logp[i] = a - lse
		response[i] = r
	}
}

// dilute uses bare Boltzmann factors, the low-concentration limit of grandCanonical.
type dilute struct{}

func (dilute) Name() string { return "dilute" }

func (dilute) Site(logits, logp, response []float64) {
	for i, a := range logits {
		logp[i] = a
		response[i] = 1
	}
}

// independentSite treats every candidate as its own two-state site.
type independentSite struct{}

func (independentSite) Name() string { return "independent-site" }

func (independentSite) Site(logits, logp, response []float64) {
	for i, a := range logits {
		// ln sigma(a) = -softplus(-a)
		logp[i] = -softplus(-a)
		response[i] = math.Exp(-softplus(a))
	}
}

func softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}
