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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/utils/typemap"
	"github.com/vacthermo/vacthermo/pkg/core"
)

const (
	energeticsDir  = "energetics_data"
	volumetricsDir = "volumetrics_data"
)

// legacySource reads per-type arrays: vacant_<t>.txt holds one value per site
// for the configuration with the site emptied, occupying<k>_<t>.txt the value
// with the site held by type k.
type legacySource struct {
	store  blob.Store
	prefix string
	types  typemap.TypeMap
}

func (l *legacySource) Name() string { return string(SourceLegacy) }

// LegacyKey is the key of one legacy array. kind is "vacant", "enthalpy" or
// "occupying<k>".
func LegacyKey(prefix, dir, tag, kind string, timestep int) string {
	return blob.Join(prefix, dir, tag, fmt.Sprintf("%s_%d.txt", kind, timestep))
}

func occupying(k int) string { return "occupying" + strconv.Itoa(k) }

func (l *legacySource) Timesteps(ctx context.Context, tag string) ([]int, error) {
	dir := blob.Join(l.prefix, energeticsDir, tag)
	infos, err := l.store.List(ctx, dir+"/")
	if err != nil {
		return nil, fmt.Errorf("collector: list %s: %w", dir, err)
	}
	return timestepsFromKeys(infos, dir, "vacant_"), nil
}

// maxArrayLine bounds a single line of a value file.
const maxArrayLine = 1 << 24

// array is a parsed value file. bad marks entries that did not parse. err is
// set when reading stopped early, so values are incomplete.
type array struct {
	key    string
	values []float64
	bad    []bool
	err    error
}

// firstTruncated returns the first array whose read stopped early.
func firstTruncated(arrays ...array) (array, bool) {
	for _, a := range arrays {
		if a.err != nil {
			return a, true
		}
	}
	return array{}, false
}

func (l *legacySource) readArray(ctx context.Context, dir, tag, kind string, timestep int) (array, error) {
	key := LegacyKey(l.prefix, dir, tag, kind, timestep)
	data, err := blob.ReadAll(ctx, l.store, key)
	if err != nil {
		return array{key: key}, err
	}
	return parseArray(key, data), nil
}

// readSet loads vacant and occupying arrays from dir. A missing occupying
// array is reported through missing rather than as an error.
func (l *legacySource) readSet(ctx context.Context, dir, tag string, timestep int) (vacant array, occ []array, missing string, err error) {
	vacant, err = l.readArray(ctx, dir, tag, "vacant", timestep)
	if err != nil {
		return vacant, nil, "", err
	}
	occ = make([]array, l.types.Len())
	for k := 1; k <= l.types.Len(); k++ {
		a, err := l.readArray(ctx, dir, tag, occupying(k), timestep)
		if errors.Is(err, blob.ErrNotFound) {
			return vacant, nil, a.key, nil
		}
		if err != nil {
			return vacant, nil, "", err
		}
		occ[k-1] = a
	}
	return vacant, occ, "", nil
}

func (l *legacySource) Read(ctx context.Context, tag string, timestep int) ([]core.InsertionSample, []Warning, error) {
	var warnings []Warning
	warn := func(key string, format string, args ...any) {
		warnings = append(warnings, Warning{
			Kind: IngestionWarning, Timestep: timestep, Key: key, Message: fmt.Sprintf(format, args...),
		})
	}

	vacantH, occH, missing, err := l.readSet(ctx, energeticsDir, tag, timestep)
	if err != nil {
		return nil, nil, err
	}
	if missing != "" {
		warn(missing, "occupying array missing, timestep dropped")
		return nil, warnings, nil
	}
	if a, ok := firstTruncated(append([]array{vacantH}, occH...)...); ok {
		warn(a.key, "read stopped: %v, timestep dropped", a.err)
		return nil, warnings, nil
	}
	n := len(vacantH.values)
	for _, a := range occH {
		if len(a.values) != n {
			warn(a.key, "%d values but %s has %d, timestep dropped", len(a.values), vacantH.key, n)
			return nil, warnings, nil
		}
	}

	vacantV, occV, missing, err := l.readSet(ctx, volumetricsDir, tag, timestep)
	withVolumes := true
	switch {
	case errors.Is(err, blob.ErrNotFound):
		warn(vacantV.key, "volumetrics missing, formation volumes set to 0")
		withVolumes = false
	case err != nil:
		return nil, nil, err
	case missing != "":
		warn(missing, "volumetrics incomplete, formation volumes set to 0")
		withVolumes = false
	default:
		if a, ok := firstTruncated(append([]array{vacantV}, occV...)...); ok {
			warn(a.key, "read stopped: %v, timestep dropped", a.err)
			return nil, warnings, nil
		}
		for _, a := range append([]array{vacantV}, occV...) {
			if len(a.values) != n {
				warn(a.key, "%d values but %s has %d, timestep dropped", len(a.values), vacantH.key, n)
				return nil, warnings, nil
			}
		}
	}

	samples := make([]core.InsertionSample, 0, n*len(occH))
	for site := 0; site < n; site++ {
		for k := 1; k <= len(occH); k++ {
			if bad := firstBad(site, vacantH, occH[k-1]); bad != "" {
				warn(bad, "site %d: non-numeric value, sample for type %d dropped", site, k)
				continue
			}
			s := core.InsertionSample{
				Timestep:          timestep,
				SiteID:            site,
				Species:           l.types[k],
				FormationEnthalpy: vacantH.values[site] - occH[k-1].values[site],
			}
			if withVolumes {
				if bad := firstBad(site, vacantV, occV[k-1]); bad != "" {
					warn(bad, "site %d: non-numeric value, sample for type %d dropped", site, k)
					continue
				}
				s.FormationVolume = vacantV.values[site] - occV[k-1].values[site]
			}
			samples = append(samples, s)
		}
	}
	return samples, warnings, nil
}

// EnthalpyPerAtom reads enthalpy_<t>.txt, a single value.
func (l *legacySource) EnthalpyPerAtom(ctx context.Context, tag string, timestep int) (float64, error) {
	a, err := l.readArray(ctx, energeticsDir, tag, "enthalpy", timestep)
	if err != nil {
		return 0, err
	}
	if a.err != nil {
		return 0, fmt.Errorf("collector: read %s: %w", a.key, a.err)
	}
	if len(a.values) == 0 || a.bad[0] {
		return 0, fmt.Errorf("collector: %s holds no numeric value", a.key)
	}
	return a.values[0], nil
}

func firstBad(site int, arrays ...array) string {
	for _, a := range arrays {
		if a.bad[site] {
			return a.key
		}
	}
	return ""
}

func parseArray(key string, data []byte) array {
	a := array{key: key}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxArrayLine)
	for sc.Scan() {
		body, _, _ := strings.Cut(sc.Text(), "#")
		for _, f := range strings.Fields(body) {
			v, err := strconv.ParseFloat(f, 64)
			bad := err != nil || math.IsNaN(v) || math.IsInf(v, 0)
			a.values = append(a.values, v)
			a.bad = append(a.bad, bad)
		}
	}
	a.err = sc.Err()
	return a
}
