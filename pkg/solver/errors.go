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
	"errors"
	"fmt"

	"github.com/vacthermo/vacthermo/pkg/core"
)

var (
	// ErrInsufficientSamples is returned when a targeted species has no samples to reweight.
	ErrInsufficientSamples = errors.New("solver: insufficient samples")
	// ErrTargetUnreachable is returned when a target lies outside the achievable concentration range.
	ErrTargetUnreachable = errors.New("solver: target concentration unreachable")
	// ErrMaxIterationsExceeded is returned when a root find or the outer loop runs out of budget.
	ErrMaxIterationsExceeded = errors.New("solver: maximum iterations exceeded")
	// ErrUnknownWeighting is returned by the weighting factory for unsupported names.
	ErrUnknownWeighting = errors.New("solver: unknown weighting strategy")
	// ErrUnknownRootMethod is returned for unsupported root-finding methods.
	ErrUnknownRootMethod = errors.New("solver: unknown root method")
	// ErrRankDeficient is returned when the reference system does not determine every potential.
	ErrRankDeficient = errors.New("solver: reference system is rank deficient")
)

// SpeciesError attaches the species and a detail message to a solver sentinel.
type SpeciesError struct {
	Species core.Species
	Detail  string
	Err     error
}

func (e *SpeciesError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (species %s)", e.Err, e.Species)
	}
	return fmt.Sprintf("%v (species %s): %s", e.Err, e.Species, e.Detail)
}

func (e *SpeciesError) Unwrap() error {
	return e.Err
}

func speciesErr(s core.Species, err error, format string, args ...any) error {
	return &SpeciesError{Species: s, Err: err, Detail: fmt.Sprintf(format, args...)}
}
