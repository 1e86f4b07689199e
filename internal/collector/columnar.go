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
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/utils/typemap"
	"github.com/vacthermo/vacthermo/pkg/core"
)

// Column names understood in a "# columns:" header.
const (
	ColumnSiteID            = "site_id"
	ColumnSpecies           = "species"
	ColumnFormationEnthalpy = "formation_enthalpy"
	ColumnFormationVolume   = "formation_volume"
	ColumnTimestep          = "timestep"

	columnsDirective = "columns:"
)

var defaultColumns = []string{ColumnSiteID, ColumnSpecies, ColumnFormationEnthalpy, ColumnFormationVolume}

type columnarSource struct {
	store  blob.Store
	prefix string
	types  typemap.TypeMap
}

func (c *columnarSource) Name() string { return string(SourceColumnar) }

// ColumnarKey is the artifact key of a timestep's table.
func ColumnarKey(prefix, tag string, timestep int) string {
	return blob.Join(prefix, tag, fmt.Sprintf("insertions_%d.txt", timestep))
}

func (c *columnarSource) Timesteps(ctx context.Context, tag string) ([]int, error) {
	dir := blob.Join(c.prefix, tag)
	infos, err := c.store.List(ctx, dir+"/")
	if err != nil {
		return nil, fmt.Errorf("collector: list %s: %w", dir, err)
	}
	return timestepsFromKeys(infos, dir, "insertions_"), nil
}

func (c *columnarSource) Read(ctx context.Context, tag string, timestep int) ([]core.InsertionSample, []Warning, error) {
	key := ColumnarKey(c.prefix, tag, timestep)
	data, err := blob.ReadAll(ctx, c.store, key)
	if err != nil {
		return nil, nil, err
	}
	samples, warnings := parseColumnar(data, key, timestep, c.types)
	return samples, warnings, nil
}

// columnLayout maps column names to field positions.
type columnLayout struct {
	width    int
	site     int
	species  int
	enthalpy int
	volume   int
	timestep int
}

func newColumnLayout(names []string) (columnLayout, error) {
	l := columnLayout{width: len(names), site: -1, species: -1, enthalpy: -1, volume: -1, timestep: -1}
	for i, n := range names {
		var slot *int
		switch strings.ToLower(n) {
		case ColumnSiteID:
			slot = &l.site
		case ColumnSpecies:
			slot = &l.species
		case ColumnFormationEnthalpy:
			slot = &l.enthalpy
		case ColumnFormationVolume:
			slot = &l.volume
		case ColumnTimestep:
			slot = &l.timestep
		default:
			return l, fmt.Errorf("unknown column %q", n)
		}
		if *slot >= 0 {
			return l, fmt.Errorf("column %q repeated", n)
		}
		*slot = i
	}
	if l.site < 0 || l.species < 0 || l.enthalpy < 0 {
		return l, fmt.Errorf("columns must include %s, %s and %s", ColumnSiteID, ColumnSpecies, ColumnFormationEnthalpy)
	}
	return l, nil
}

// parseColumnar never fails. Every rejected line becomes a warning.
func parseColumnar(data []byte, key string, timestep int, types typemap.TypeMap) ([]core.InsertionSample, []Warning) {
	var (
		samples  []core.InsertionSample
		warnings []Warning
		layout   columnLayout
		explicit bool
		// records before a header use the default layout, with an optional timestep column
		seenRecord bool
	)
	layout, _ = newColumnLayout(defaultColumns)
	warn := func(line int, format string, args ...any) {
		warnings = append(warnings, Warning{
			Kind: IngestionWarning, Timestep: timestep, Key: key, Line: line,
			Message: fmt.Sprintf(format, args...),
		})
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			body := strings.TrimSpace(strings.TrimPrefix(text, "#"))
			rest, ok := strings.CutPrefix(body, columnsDirective)
			if !ok {
				continue
			}
			if seenRecord || explicit {
				warn(line, "columns header after the first record ignored")
				continue
			}
			l, err := newColumnLayout(strings.Fields(rest))
			if err != nil {
				warn(line, "bad columns header: %v", err)
				continue
			}
			layout, explicit = l, true
			continue
		}
		seenRecord = true

		fields := strings.Fields(text)
		if len(fields) != layout.width {
			// the default layout also accepts a trailing timestep column
			if explicit || len(fields) != layout.width+1 {
				warn(line, "expected %d fields, got %d", layout.width, len(fields))
				continue
			}
		}
		s, err := parseRecord(fields, layout, !explicit && len(fields) == layout.width+1, timestep, types)
		if err != nil {
			warn(line, "%v", err)
			continue
		}
		samples = append(samples, s)
	}
	if err := sc.Err(); err != nil {
		warn(line+1, "read stopped: %v", err)
	}
	return samples, warnings
}

func parseRecord(fields []string, l columnLayout, trailingTimestep bool, timestep int, types typemap.TypeMap) (core.InsertionSample, error) {
	s := core.InsertionSample{Timestep: timestep}

	site, err := strconv.Atoi(fields[l.site])
	if err != nil || site < 0 {
		return s, fmt.Errorf("invalid site id %q", fields[l.site])
	}
	s.SiteID = site

	species, err := resolveSpecies(fields[l.species], types)
	if err != nil {
		return s, err
	}
	s.Species = species

	if s.FormationEnthalpy, err = parseFinite(fields[l.enthalpy], ColumnFormationEnthalpy); err != nil {
		return s, err
	}
	if l.volume >= 0 {
		if s.FormationVolume, err = parseFinite(fields[l.volume], ColumnFormationVolume); err != nil {
			return s, err
		}
	}

	tsField := l.timestep
	if trailingTimestep {
		tsField = l.width
	}
	if tsField >= 0 {
		t, err := parseTimestep(fields[tsField])
		if err != nil {
			return s, err
		}
		if t != timestep {
			return s, fmt.Errorf("%w: record says %d", core.ErrTimestepMismatch, t)
		}
	}
	return s, nil
}

// resolveSpecies maps numeric labels through types when a map is configured.
func resolveSpecies(field string, types typemap.TypeMap) (core.Species, error) {
	if len(types) > 0 {
		if k, err := strconv.Atoi(field); err == nil {
			return types.Resolve(k)
		}
	}
	return core.Species(field), nil
}

func parseFinite(field, column string) (float64, error) {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", column, field)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite %s %q", column, field)
	}
	return v, nil
}
