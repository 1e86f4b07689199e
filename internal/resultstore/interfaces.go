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

// Package resultstore persists analysis reports to SQL databases.
package resultstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vacthermo/vacthermo/api/v1alpha1"
)

// ErrNotFound is returned when a run is not stored.
var ErrNotFound = errors.New("resultstore: run not found")

// RunSummary is the indexed view of one stored report.
type RunSummary struct {
	RunID     uuid.UUID
	System    string
	CreatedAt time.Time
	// Temperature of the main solve (K).
	Temperature float64
	Solved      bool
	// TotalConcentration is nil when the run has no solution.
	TotalConcentration *float64
}

// SpeciesResult is one species row of a solved run.
type SpeciesResult struct {
	Species           string
	Target            float64
	ChemicalPotential float64
	Concentration     float64
}

// Reader provides read-only access to stored results.
type Reader interface {
	// GetReport returns the full report of a run.
	GetReport(ctx context.Context, runID uuid.UUID) (*v1alpha1.AnalysisReport, error)

	// ListRuns returns runs of system, newest first. An empty system lists all runs.
	ListRuns(ctx context.Context, system string) ([]RunSummary, error)

	// SpeciesResults returns the per-species rows of a run, sorted by species.
	SpeciesResults(ctx context.Context, runID uuid.UUID) ([]SpeciesResult, error)
}

// Writer stores results.
type Writer interface {
	// SaveReport inserts or replaces the report keyed by its run ID.
	SaveReport(ctx context.Context, report *v1alpha1.AnalysisReport) error
}

// ReadWriter combines both read and write access.
type ReadWriter interface {
	Reader
	Writer
}
