// Package pipeline runs a complete vacancy-thermodynamics analysis.
//
// A run moves through fixed stages, each a pure transformation of the
// previous stage's output:
//
//	ingest → histogram → reference → solve → profile → time_resolved → fluctuation → sweep
//
// Ingestion and the main solve decide what follows. A run with no samples, or
// whose targets cannot be met, still completes: Output.SolveErr holds the
// reason and the stages that need solved potentials are skipped. Sweep points
// are solved independently of the main solve.
//
// Example usage:
//
//	eng, err := pipeline.NewEngine(cfg.Solver, pipeline.WithRecorder(rec))
//	if err != nil {
//	    return err
//	}
//	req, err := pipeline.RequestFromConfig(ctx, cfg, store)
//	if err != nil {
//	    return err
//	}
//	out, err := eng.Run(ctx, req)
//
// Every stage's wall time is recorded on the engine's metrics.Recorder.
package pipeline
