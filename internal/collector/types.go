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

package collector

import (
	"fmt"
	"strconv"
	"strings"
)

// WarningKind classifies a non-fatal ingestion problem.
type WarningKind string

const (
	// IngestionWarning marks a malformed record that was skipped.
	IngestionWarning WarningKind = "ingestion"
	// EmptyTimestepWarning marks a timestep that produced no samples.
	EmptyTimestepWarning WarningKind = "empty_timestep"
)

// Warning is returned alongside successful ingestion output.
type Warning struct {
	Kind     WarningKind `json:"kind" yaml:"kind"`
	Timestep int         `json:"timestep" yaml:"timestep"`
	// Key is the artifact the warning refers to.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
	// Line is the 1-based line number, 0 when not tied to a line.
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`
	Message string `json:"message" yaml:"message"`
}

func (w Warning) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: timestep %d", w.Kind, w.Timestep)
	if w.Key != "" {
		b.WriteString(" ")
		b.WriteString(w.Key)
		if w.Line > 0 {
			b.WriteString(":")
			b.WriteString(strconv.Itoa(w.Line))
		}
	}
	b.WriteString(": ")
	b.WriteString(w.Message)
	return b.String()
}

// CountByKind tallies warnings per kind.
func CountByKind(warnings []Warning) map[WarningKind]int {
	out := make(map[WarningKind]int, 2)
	for _, w := range warnings {
		out[w.Kind]++
	}
	return out
}
