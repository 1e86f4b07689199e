// Package report turns pipeline output into AnalysisReport documents and
// publishes them.
//
// # Architecture
//
// Publishing fans one report out to every configured sink:
//
//	pipeline.Output → Build → AnalysisReport → Publisher → {artifact store, SQL, metrics textfile}
//
// The artifact store receives the encoded document under the report key,
// with the run ID and system as object metadata. The SQL result store indexes
// the run and its per-species results. The metrics textfile carries the
// recorder's gauges for the node-exporter textfile collector.
//
// # Conditions
//
// Build sets three conditions on the report status:
//
//	SamplesAvailable  SamplesFound | EmptyTimesteps | NoSamples
//	Solved            SolveSucceeded | TargetUnreachable | InsufficientSamples | MaxIterationsExceeded | InconsistentState | SolveFailed
//	Consistent        StateConsistent | InconsistentState
//
// Consistent is Unknown when the solve failed before the state was evaluated.
//
// # Usage Example
//
//	rep := report.Build(out)
//	pub := &report.Publisher{Store: store, Results: db, Recorder: rec, Format: v1alpha1.FormatJSON}
//	res, err := pub.Publish(ctx, rep, cfg.ReportKey())
//
// Every sink is optional. A nil Store, Results or Recorder is skipped.
package report
