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
)

// RootMethod selects the one-dimensional bracketing root finder.
type RootMethod int

const (
	// Bisection halves the bracket every step.
	Bisection RootMethod = iota
	// Illinois is regula falsi with the Illinois modification against stagnant endpoints.
	Illinois
)

func (m RootMethod) String() string {
	switch m {
	case Bisection:
		return "bisection"
	case Illinois:
		return "illinois"
	default:
		return fmt.Sprintf("RootMethod(%d)", int(m))
	}
}

// ParseRootMethod maps a configuration name onto a RootMethod.
func ParseRootMethod(name string) (RootMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "illinois", "secant", "regula-falsi":
		return Illinois, nil
	case "bisection", "bisect":
		return Bisection, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRootMethod, name)
	}
}

// rootProblem is a monotone increasing function bracketed by f(lo) <= 0 <= f(hi).
type rootProblem struct {
	f      func(x float64) float64
	done   func(fx float64) bool
	lo, hi float64
	flo    float64
	fhi    float64
}

// find returns x with done(f(x)) and the number of evaluations used.
func (p rootProblem) find(method RootMethod, maxIter int) (float64, int, error) {
	if p.done(p.flo) {
		return p.lo, 0, nil
	}
	if p.done(p.fhi) {
		return p.hi, 0, nil
	}
	a, b, fa, fb := p.lo, p.hi, p.flo, p.fhi
	side := 0
	for iter := 1; iter <= maxIter; iter++ {
		x := 0.5 * (a + b)
		if method == Illinois {
			if s := (a*fb - b*fa) / (fb - fa); s > a && s < b {
				x = s
			}
		}
		fx := p.f(x)
		if p.done(fx) {
			return x, iter, nil
		}
		if math.IsNaN(fx) {
			return x, iter, fmt.Errorf("%w: residual is NaN at %g", ErrMaxIterationsExceeded, x)
		}
		if fx < 0 {
			a, fa = x, fx
			if side == -1 {
				fb *= 0.5
			}
			side = -1
		} else {
			b, fb = x, fx
			if side == 1 {
				fa *= 0.5
			}
			side = 1
		}
		if b-a <= 4*epsilon*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
			return x, iter, fmt.Errorf("%w: bracket [%g, %g] collapsed before tolerance was met", ErrMaxIterationsExceeded, a, b)
		}
	}
	return 0.5 * (a + b), maxIter, fmt.Errorf("%w: %d root iterations, bracket [%g, %g]", ErrMaxIterationsExceeded, maxIter, a, b)
}

const epsilon = 2.220446049250313e-16
