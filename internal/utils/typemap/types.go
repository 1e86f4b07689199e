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

// Package typemap maps numeric LAMMPS atom types to species labels.
package typemap

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vacthermo/vacthermo/pkg/core"
)

var (
	// ErrUnknownType is returned when a type has no label.
	ErrUnknownType = errors.New("typemap: unknown atom type")
	// ErrNoTypes is returned when a data file declares no atom types.
	ErrNoTypes = errors.New("typemap: num types not found")
)

// TypeMap maps 1-based atom types to species.
type TypeMap map[int]core.Species

// Built-in maps for the alloy systems the insertion runs were set up for.
var builtin = map[string]TypeMap{
	"cantor": {1: "Co", 2: "Ni", 3: "Cr", 4: "Fe", 5: "Mn"},
	"feal":   {1: "Fe", 2: "Al"},
}

// Lookup returns a copy of the built-in map for system, matched case-insensitively.
func Lookup(system string) (TypeMap, bool) {
	m, ok := builtin[strings.ToLower(system)]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Systems lists the names of the built-in maps.
func Systems() []string {
	out := make([]string, 0, len(builtin))
	for k := range builtin {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Sequential labels types 1..n with their own number.
func Sequential(n int) TypeMap {
	m := make(TypeMap, n)
	for k := 1; k <= n; k++ {
		m[k] = core.Species(strconv.Itoa(k))
	}
	return m
}

// Parse reads "1=Co,2=Ni" style maps.
func Parse(s string) (TypeMap, error) {
	m := TypeMap{}
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("typemap: entry %q is not type=species", field)
		}
		t, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || t < 1 {
			return nil, fmt.Errorf("typemap: invalid type in %q", field)
		}
		label := strings.TrimSpace(v)
		if label == "" {
			return nil, fmt.Errorf("typemap: empty species in %q", field)
		}
		if _, dup := m[t]; dup {
			return nil, fmt.Errorf("typemap: type %d mapped twice", t)
		}
		m[t] = core.Species(label)
	}
	return m, m.Validate()
}

// Validate checks that the map covers 1..Len() with distinct labels.
func (m TypeMap) Validate() error {
	if len(m) == 0 {
		return ErrNoTypes
	}
	seen := make(map[core.Species]int, len(m))
	for k := 1; k <= len(m); k++ {
		s, ok := m[k]
		if !ok {
			return fmt.Errorf("%w: types must be numbered 1..%d, %d is missing", ErrUnknownType, len(m), k)
		}
		if prev, dup := seen[s]; dup {
			return fmt.Errorf("typemap: species %s used by types %d and %d", s, prev, k)
		}
		seen[s] = k
	}
	return nil
}

// Len is the number of types.
func (m TypeMap) Len() int { return len(m) }

// Resolve returns the species for atom type t.
func (m TypeMap) Resolve(t int) (core.Species, error) {
	s, ok := m[t]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	return s, nil
}

// Species returns the labels in type order.
func (m TypeMap) Species() []core.Species {
	types := make([]int, 0, len(m))
	for k := range m {
		types = append(types, k)
	}
	sort.Ints(types)
	out := make([]core.Species, len(types))
	for i, k := range types {
		out[i] = m[k]
	}
	return out
}

func (m TypeMap) Clone() TypeMap {
	out := make(TypeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m TypeMap) String() string {
	types := make([]int, 0, len(m))
	for k := range m {
		types = append(types, k)
	}
	sort.Ints(types)
	parts := make([]string, len(types))
	for i, k := range types {
		parts[i] = fmt.Sprintf("%d=%s", k, m[k])
	}
	return strings.Join(parts, ",")
}
