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

package typemap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/pkg/core"
)

// Discovery is what a LAMMPS data or input file says about its atom types.
type Discovery struct {
	// NumTypes is the number of mass entries found.
	NumTypes int
	// Labels holds species names taken from trailing "# Co" comments on
	// mass entries. It is nil unless every entry carries one.
	Labels TypeMap
}

// Discover counts atom types in r. Two forms are recognised: entries of a
// data file's "Masses" section ("1 58.933 # Co") and input-script "mass"
// commands ("mass 1 58.933").
func Discover(ctx context.Context, r io.Reader) (Discovery, error) {
	log := logging.FromContext(ctx)

	var (
		d         Discovery
		labels    = TypeMap{}
		unlabeled bool
		inMasses  bool
		seenBody  bool
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		body, comment, _ := strings.Cut(line, "#")
		fields := strings.Fields(body)

		if len(fields) == 0 {
			// blank lines separate the section header from its body
			if inMasses && seenBody {
				inMasses = false
			}
			continue
		}
		if len(fields) == 1 && fields[0] == "Masses" {
			inMasses, seenBody = true, false
			continue
		}
		var typeField string
		switch {
		case inMasses:
			if _, err := strconv.Atoi(fields[0]); err != nil {
				// next section header
				inMasses = false
				continue
			}
			seenBody = true
			typeField = fields[0]
		case fields[0] == "mass" && len(fields) >= 3:
			typeField = fields[1]
		default:
			continue
		}

		d.NumTypes++
		t, err := strconv.Atoi(typeField)
		label := strings.TrimSpace(comment)
		if err != nil || label == "" {
			unlabeled = true
			continue
		}
		labels[t] = core.Species(strings.Fields(label)[0])
	}
	if err := sc.Err(); err != nil {
		return Discovery{}, fmt.Errorf("typemap: read: %w", err)
	}
	if d.NumTypes == 0 {
		return Discovery{}, ErrNoTypes
	}
	if !unlabeled && labels.Validate() == nil && labels.Len() == d.NumTypes {
		d.Labels = labels
	}
	log.V(logging.DEBUG).Info("discovered atom types", "numTypes", d.NumTypes, "labels", d.Labels.String())
	return d, nil
}

// Resolve picks the type map for a system. An explicit map wins, then labels
// found in the data file, then the built-in map for system, and finally
// sequential numeric labels. numTypes, when positive, must match the result.
func Resolve(system string, explicit TypeMap, discovered *Discovery) (TypeMap, error) {
	numTypes := 0
	if discovered != nil {
		numTypes = discovered.NumTypes
	}
	var m TypeMap
	switch {
	case len(explicit) > 0:
		m = explicit.Clone()
	case discovered != nil && discovered.Labels != nil:
		m = discovered.Labels.Clone()
	default:
		if b, ok := Lookup(system); ok {
			m = b
		} else if numTypes > 0 {
			m = Sequential(numTypes)
		} else {
			return nil, fmt.Errorf("%w: no type map for system %q", ErrNoTypes, system)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if numTypes > 0 && m.Len() != numTypes {
		return nil, fmt.Errorf("typemap: system %q maps %d types but the data file declares %d", system, m.Len(), numTypes)
	}
	return m, nil
}
