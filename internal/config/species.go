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

package config

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"

	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/pkg/core"
)

// GlobalDefaultsKey is the override entry applied to every species.
const GlobalDefaultsKey = "default"

// SpeciesOverride adjusts how one species is analysed and presented.
type SpeciesOverride struct {
	// Species is the label the override applies to (only used in override entries).
	Species core.Species `yaml:"species,omitempty" json:"species,omitempty"`

	// Target replaces the run-level target concentration.
	Target *float64 `yaml:"target,omitempty" json:"target,omitempty"`

	// Exclude drops the species' samples from the analysis.
	Exclude *bool `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	// Color and Label are carried into the report for plotting.
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// SpeciesOverrideData maps species (or GlobalDefaultsKey) to overrides.
type SpeciesOverrideData map[string]SpeciesOverride

// Validate checks for invalid override values.
func (o *SpeciesOverride) Validate() error {
	if o.Target != nil {
		t := *o.Target
		if math.IsNaN(t) || t <= 0 || t >= 1 {
			return fmt.Errorf("target must be in (0, 1), got %g", t)
		}
	}
	return nil
}

// ParseSpeciesOverrides parses override entries, each a YAML document:
//   - "default": applied to every species
//   - "<any-name>": per-species override with a species field
//
// Bad entries are logged and skipped. When two entries name the same species
// the first key in sorted order wins.
func ParseSpeciesOverrides(ctx context.Context, data map[string]string) SpeciesOverrideData {
	log := logging.FromContext(ctx)
	out := make(SpeciesOverrideData)
	if data == nil {
		return out
	}
	speciesToKey := make(map[core.Species]string)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var o SpeciesOverride
		if err := yaml.Unmarshal([]byte(data[key]), &o); err != nil {
			log.Info("Failed to parse species override entry, skipping", "key", key, "error", err)
			continue
		}
		if err := o.Validate(); err != nil {
			log.Info("Invalid species override entry, skipping", "key", key, "error", err)
			continue
		}
		if key == GlobalDefaultsKey {
			out[GlobalDefaultsKey] = o
			continue
		}
		if o.Species == "" {
			log.Info("Skipping species override without species field", "key", key)
			continue
		}
		if winner, exists := speciesToKey[o.Species]; exists {
			log.Info("Duplicate species in overrides - first key wins",
				"species", o.Species, "winningKey", winner, "duplicateKey", key)
			continue
		}
		speciesToKey[o.Species] = key
		out[string(o.Species)] = o
	}

	log.V(logging.DEBUG).Info("Parsed species overrides", "count", len(out))
	return out
}

// For returns the effective override for species s, merged over the defaults.
func (data SpeciesOverrideData) For(s core.Species) SpeciesOverride {
	result := data[GlobalDefaultsKey]
	result.Species = s
	o, ok := data[string(s)]
	if !ok {
		return result
	}
	if o.Target != nil {
		result.Target = o.Target
	}
	if o.Exclude != nil {
		result.Exclude = o.Exclude
	}
	if o.Color != "" {
		result.Color = o.Color
	}
	if o.Label != "" {
		result.Label = o.Label
	}
	return result
}

// Excluded reports whether s is dropped from the analysis.
func (data SpeciesOverrideData) Excluded(s core.Species) bool {
	return ptr.Deref(data.For(s).Exclude, false)
}

// ApplyTargets returns targets with override targets applied. A default-entry
// target only fills species present in species but missing from targets.
func (data SpeciesOverrideData) ApplyTargets(targets map[core.Species]float64, species []core.Species) map[core.Species]float64 {
	out := make(map[core.Species]float64, len(targets))
	for s, x := range targets {
		out[s] = x
	}
	for _, s := range species {
		if _, ok := out[s]; ok {
			continue
		}
		if t := data[GlobalDefaultsKey].Target; t != nil {
			out[s] = *t
		}
	}
	for key, o := range data {
		if key == GlobalDefaultsKey || o.Target == nil {
			continue
		}
		out[o.Species] = *o.Target
	}
	for s := range out {
		if data.Excluded(s) {
			delete(out, s)
		}
	}
	return out
}

// defaultColors are the plotting colours used for the alloy elements when no
// override sets one.
var defaultColors = map[core.Species]string{
	"Co": "#ff6666",
	"Ni": "#6666ff",
	"Cr": "#ffff00",
	"Fe": "#ff66ff",
	"Mn": "#66ff33",
	"Al": "#00ffff",
}

// Presentation returns the colour and label for s.
func (data SpeciesOverrideData) Presentation(s core.Species) (color, label string) {
	o := data.For(s)
	color, label = o.Color, o.Label
	if color == "" {
		color = defaultColors[s]
	}
	if label == "" {
		label = string(s)
	}
	return color, label
}
