package resultstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vacthermo/vacthermo/api/v1alpha1"
)

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), DialectSQLite, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func solvedReport(id uuid.UUID, system string, created time.Time) *v1alpha1.AnalysisReport {
	r := v1alpha1.NewAnalysisReport(id.String(), system, created)
	r.Spec.Temperature = 1000
	r.Spec.Targets = map[string]float64{"Fe": 1e-3, "Al": 2e-3}
	r.Status.Solution = &v1alpha1.Solution{
		Temperature:        1000,
		ChemicalPotentials: map[string]float64{"Fe": -0.42, "Al": -0.31},
		Concentrations:     map[string]float64{"Fe": 1e-3, "Al": 2e-3},
		TotalConcentration: 3e-3,
	}
	return r
}

func TestSaveAndGetReport(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	id := uuid.New()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveReport(ctx, solvedReport(id, "feal", created)))

	got, err := s.GetReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "feal", got.Metadata.System)
	assert.True(t, created.Equal(got.Metadata.CreatedAt))
	require.NotNil(t, got.Status.Solution)
	assert.InDelta(t, -0.42, got.Status.Solution.ChemicalPotentials["Fe"], 1e-15)

	rows, err := s.SpeciesResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, SpeciesResult{Species: "Al", Target: 2e-3, ChemicalPotential: -0.31, Concentration: 2e-3}, rows[0])
	assert.Equal(t, "Fe", rows[1].Species)

	_, err = s.GetReport(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReplacesRun(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	id := uuid.New()
	r := solvedReport(id, "feal", time.Now())
	require.NoError(t, s.SaveReport(ctx, r))

	// a re-run without a solution clears the species rows
	r.Status.Solution = nil
	require.NoError(t, s.SaveReport(ctx, r))

	rows, err := s.SpeciesResults(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, rows)

	runs, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Solved)
	assert.Nil(t, runs[0].TotalConcentration)
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	require.NoError(t, s.SaveReport(ctx, solvedReport(ids[0], "feal", base)))
	require.NoError(t, s.SaveReport(ctx, solvedReport(ids[1], "cantor", base.Add(time.Hour))))
	require.NoError(t, s.SaveReport(ctx, solvedReport(ids[2], "feal", base.Add(2*time.Hour))))

	runs, err := s.ListRuns(ctx, "feal")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[0], runs[1].RunID)
	require.NotNil(t, runs[0].TotalConcentration)
	assert.InDelta(t, 3e-3, *runs[0].TotalConcentration, 1e-15)
	assert.True(t, runs[0].Solved)

	all, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// a whole second must still sort before a later fractional second
	whole, fractional := uuid.New(), uuid.New()
	require.NoError(t, s.SaveReport(ctx, solvedReport(whole, "nico", base)))
	require.NoError(t, s.SaveReport(ctx, solvedReport(fractional, "nico", base.Add(100*time.Millisecond))))
	runs, err = s.ListRuns(ctx, "nico")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, fractional, runs[0].RunID)
	assert.Equal(t, whole, runs[1].RunID)
	assert.True(t, base.Equal(runs[1].CreatedAt))
}

func TestSaveRejectsBadRunID(t *testing.T) {
	s := openSQLite(t)
	r := v1alpha1.NewAnalysisReport("not-a-uuid", "feal", time.Now())
	assert.Error(t, s.SaveReport(context.Background(), r))
	assert.Error(t, s.SaveReport(context.Background(), nil))
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), Dialect("oracle"), "x")
	assert.Error(t, err)
	_, err = Open(context.Background(), DialectSQLite, "")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := &SQLStore{dialect: DialectSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
