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

package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/vacthermo/vacthermo/api/v1alpha1"
)

// Dialect names a supported database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("resultstore: unknown dialect %q", d)
	}
}

// createdAtLayout is fixed width so that text order is time order. Reads
// accept any RFC 3339 fraction.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		system TEXT NOT NULL,
		created_at TEXT NOT NULL,
		temperature DOUBLE PRECISION NOT NULL,
		solved INTEGER NOT NULL,
		total_concentration DOUBLE PRECISION,
		report TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_system_idx ON runs (system, created_at)`,
	`CREATE TABLE IF NOT EXISTS species_results (
		run_id TEXT NOT NULL,
		species TEXT NOT NULL,
		target DOUBLE PRECISION NOT NULL,
		chemical_potential DOUBLE PRECISION NOT NULL,
		concentration DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, species)
	)`,
}

// SQLStore implements ReadWriter on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ ReadWriter = (*SQLStore)(nil)

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, errors.New("resultstore: dsn required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("resultstore: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resultstore: ping %s: %w", dialect, err)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("resultstore: apply schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) SaveReport(ctx context.Context, report *v1alpha1.AnalysisReport) (retErr error) {
	if report == nil {
		return errors.New("resultstore: nil report")
	}
	runID, err := uuid.Parse(report.Metadata.RunID)
	if err != nil {
		return fmt.Errorf("resultstore: run id %q: %w", report.Metadata.RunID, err)
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("resultstore: encode report: %w", err)
	}

	var total sql.NullFloat64
	solved := 0
	if sol := report.Status.Solution; sol != nil {
		total = sql.NullFloat64{Float64: sol.TotalConcentration, Valid: true}
		solved = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resultstore: begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO runs (run_id, system, created_at, temperature, solved, total_concentration, report)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			system = excluded.system,
			created_at = excluded.created_at,
			temperature = excluded.temperature,
			solved = excluded.solved,
			total_concentration = excluded.total_concentration,
			report = excluded.report`),
		runID.String(), report.Metadata.System, report.Metadata.CreatedAt.UTC().Format(createdAtLayout),
		report.Spec.Temperature, solved, total, string(payload))
	if err != nil {
		return fmt.Errorf("resultstore: upsert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM species_results WHERE run_id = ?`), runID.String()); err != nil {
		return fmt.Errorf("resultstore: clear species: %w", err)
	}
	if sol := report.Status.Solution; sol != nil {
		names := make([]string, 0, len(sol.ChemicalPotentials))
		for sp := range sol.ChemicalPotentials {
			names = append(names, sp)
		}
		sort.Strings(names)
		for _, sp := range names {
			_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO species_results (run_id, species, target, chemical_potential, concentration)
				VALUES (?, ?, ?, ?, ?)`),
				runID.String(), sp, report.Spec.Targets[sp], sol.ChemicalPotentials[sp], sol.Concentrations[sp])
			if err != nil {
				return fmt.Errorf("resultstore: insert species %s: %w", sp, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("resultstore: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) GetReport(ctx context.Context, runID uuid.UUID) (*v1alpha1.AnalysisReport, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT report FROM runs WHERE run_id = ?`), runID.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("resultstore: select report: %w", err)
	}
	return v1alpha1.Unmarshal([]byte(payload), v1alpha1.FormatJSON)
}

func (s *SQLStore) ListRuns(ctx context.Context, system string) ([]RunSummary, error) {
	query := `SELECT run_id, system, created_at, temperature, solved, total_concentration FROM runs`
	var args []any
	if system != "" {
		query += ` WHERE system = ?`
		args = append(args, system)
	}
	query += ` ORDER BY created_at DESC, run_id`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("resultstore: select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunSummary
	for rows.Next() {
		var (
			id, created string
			solved      int
			total       sql.NullFloat64
			r           RunSummary
		)
		if err := rows.Scan(&id, &r.System, &created, &r.Temperature, &solved, &total); err != nil {
			return nil, fmt.Errorf("resultstore: scan run: %w", err)
		}
		if r.RunID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("resultstore: stored run id %q: %w", id, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("resultstore: stored timestamp %q: %w", created, err)
		}
		r.Solved = solved != 0
		if total.Valid {
			v := total.Float64
			r.TotalConcentration = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) SpeciesResults(ctx context.Context, runID uuid.UUID) ([]SpeciesResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT species, target, chemical_potential, concentration
		FROM species_results WHERE run_id = ? ORDER BY species`), runID.String())
	if err != nil {
		return nil, fmt.Errorf("resultstore: select species: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SpeciesResult
	for rows.Next() {
		var r SpeciesResult
		if err := rows.Scan(&r.Species, &r.Target, &r.ChemicalPotential, &r.Concentration); err != nil {
			return nil, fmt.Errorf("resultstore: scan species: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
