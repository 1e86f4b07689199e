// Package collector ingests insertion samples from the artifact store.
//
// The collector reads one artifact set per timestep through a pluggable
// SampleSource and assembles a core.TimestepDataset:
//
//	src, err := collector.NewSampleSource(collector.SourceColumnar, store, collector.SourceOptions{})
//	ds, warnings, err := collector.Ingest(ctx, src, "cantor", []int{0, 5, 10}, 4)
//
// # Sources
//
//   - columnar: one whitespace-separated table per timestep at
//     <tag>/insertions_<timestep>.txt, optionally led by a "# columns:" header.
//   - legacy: the per-type arrays written by the insertion runs under
//     energetics_data/<tag>/ and volumetrics_data/<tag>/. Sample (site, type k)
//     has H = vacant - occupying_k and V likewise.
//
// # Warnings
//
// Bad records never fail ingestion. They are skipped and reported as
// IngestionWarning. A timestep that ends up with no samples, including one whose
// artifact is missing, is kept as an empty entry with an EmptyTimestepWarning.
// Only store errors other than not-found are fatal.
package collector
