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

package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/vacthermo/vacthermo/api/v1alpha1"
	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/internal/metrics"
	"github.com/vacthermo/vacthermo/internal/resultstore"
)

// Publisher writes reports to every configured sink.
type Publisher struct {
	// Store receives the encoded report. Nil skips it.
	Store blob.Store
	// Results indexes the run. Nil skips it.
	Results resultstore.Writer
	// Recorder is written to MetricsTextfile when both are set.
	Recorder        *metrics.Recorder
	MetricsTextfile string
	// Format of the stored document. Empty means JSON.
	Format v1alpha1.Format
}

// Published describes where a report went.
type Published struct {
	Info        *blob.Info
	Persisted   bool
	MetricsFile string
}

// Publish encodes rep and writes it to key and the other sinks, in order:
// artifact store, result store, metrics textfile. The first failure stops it.
func (p *Publisher) Publish(ctx context.Context, rep *v1alpha1.AnalysisReport, key string) (Published, error) {
	log := logging.FromContext(ctx).WithValues("runID", rep.Metadata.RunID)
	var res Published

	if p.Store != nil {
		data, err := rep.Marshal(p.Format)
		if err != nil {
			return res, fmt.Errorf("report: encode: %w", err)
		}
		info, err := p.Store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
			ContentType: p.Format.ContentType(),
			Metadata: map[string]string{
				"run-id": rep.Metadata.RunID,
				"system": rep.Metadata.System,
				"kind":   rep.Kind,
			},
		})
		if err != nil {
			return res, fmt.Errorf("report: store %s: %w", key, err)
		}
		res.Info = &info
		log.Info("Wrote report", "key", info.Key, "bytes", info.Size, "driver", p.Store.Driver())
	}

	if p.Results != nil {
		if err := p.Results.SaveReport(ctx, rep); err != nil {
			return res, err
		}
		res.Persisted = true
		log.V(logging.DEBUG).Info("Persisted report")
	}

	if p.Recorder != nil && p.MetricsTextfile != "" {
		if err := p.Recorder.WriteTextfile(p.MetricsTextfile); err != nil {
			return res, err
		}
		res.MetricsFile = p.MetricsTextfile
		log.V(logging.DEBUG).Info("Wrote metrics textfile", "path", p.MetricsTextfile)
	}
	return res, nil
}

// Load reads a stored report back.
func Load(ctx context.Context, store blob.Store, key string) (*v1alpha1.AnalysisReport, error) {
	info, err := store.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := blob.ReadAll(ctx, store, key)
	if err != nil {
		return nil, err
	}
	f := v1alpha1.FormatJSON
	if info.ContentType == v1alpha1.FormatYAML.ContentType() {
		f = v1alpha1.FormatYAML
	}
	return v1alpha1.Unmarshal(data, f)
}
