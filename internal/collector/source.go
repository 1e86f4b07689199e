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
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/utils/typemap"
	"github.com/vacthermo/vacthermo/pkg/core"
)

// SourceKind selects a SampleSource implementation.
type SourceKind string

const (
	SourceColumnar SourceKind = "columnar"
	SourceLegacy   SourceKind = "legacy"
)

// SampleSource reads the insertion samples of one timestep.
//
// Read returns an error wrapping blob.ErrNotFound when the timestep's artifact
// does not exist. Malformed records are reported as warnings, not errors.
type SampleSource interface {
	// Name returns the source kind.
	Name() string

	// Read extracts the samples of a timestep.
	Read(ctx context.Context, tag string, timestep int) ([]core.InsertionSample, []Warning, error)

	// Timesteps lists the timesteps that have artifacts for tag, ascending.
	Timesteps(ctx context.Context, tag string) ([]int, error)
}

// EnthalpySource is implemented by sources that also carry the enthalpy per
// atom of the equilibrated configuration.
type EnthalpySource interface {
	EnthalpyPerAtom(ctx context.Context, tag string, timestep int) (float64, error)
}

// SourceOptions configure a SampleSource.
type SourceOptions struct {
	// Prefix is prepended to every artifact key.
	Prefix string
	// TypeMap labels numeric atom types. Required by the legacy source. The
	// columnar source uses it for species columns that hold type numbers.
	TypeMap typemap.TypeMap
}

// NewSampleSource returns the source for kind. An empty kind selects columnar.
func NewSampleSource(kind SourceKind, store blob.Store, opts SourceOptions) (SampleSource, error) {
	if store == nil {
		return nil, fmt.Errorf("collector: nil store")
	}
	switch kind {
	case "", SourceColumnar:
		return &columnarSource{store: store, prefix: opts.Prefix, types: opts.TypeMap}, nil
	case SourceLegacy:
		if err := opts.TypeMap.Validate(); err != nil {
			return nil, fmt.Errorf("collector: legacy source needs a type map: %w", err)
		}
		return &legacySource{store: store, prefix: opts.Prefix, types: opts.TypeMap.Clone()}, nil
	default:
		return nil, fmt.Errorf("collector: unknown source kind %q", kind)
	}
}

// timestepsFromKeys extracts <t> from keys named <dir>/<stem><t>.txt.
func timestepsFromKeys(infos []blob.Info, dir, stem string) []int {
	seen := map[int]struct{}{}
	for _, info := range infos {
		rest, ok := strings.CutPrefix(info.Key, dir+"/"+stem)
		if !ok {
			continue
		}
		num, ok := strings.CutSuffix(rest, ".txt")
		if !ok {
			continue
		}
		t, err := strconv.Atoi(num)
		if err != nil || t < 0 {
			continue
		}
		seen[t] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// ParseTimesteps reads a whitespace-separated list of timesteps, the format of
// the time.txt files that drive the insertion runs. '#' starts a comment.
func ParseTimesteps(r io.Reader) ([]int, error) {
	var out []int
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		body, _, _ := strings.Cut(sc.Text(), "#")
		for _, f := range strings.Fields(body) {
			t, err := parseTimestep(f)
			if err != nil {
				return nil, fmt.Errorf("collector: line %d: %w", line, err)
			}
			out = append(out, t)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseTimestep accepts integers written as floats ("5000", "5e3", "5000.0").
func parseTimestep(s string) (int, error) {
	if t, err := strconv.Atoi(s); err == nil {
		if t < 0 {
			return 0, fmt.Errorf("%w: %d", core.ErrNegativeTimestep, t)
		}
		return t, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("invalid timestep %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: %g", core.ErrNegativeTimestep, f)
	}
	return int(f), nil
}
