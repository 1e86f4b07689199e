package collector

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vacthermo/vacthermo/internal/blob"
	"github.com/vacthermo/vacthermo/internal/utils/typemap"
	"github.com/vacthermo/vacthermo/pkg/core"
)

func columnar(t *testing.T, store blob.Store) SampleSource {
	t.Helper()
	src, err := NewSampleSource(SourceColumnar, store, SourceOptions{})
	require.NoError(t, err)
	return src
}

func TestParseColumnarDefaultLayout(t *testing.T) {
	data := `# insertion energies
0 Fe 1.25 0.91
0 Al 0.80 0.70 5

1 Fe not-a-number 0.9
2 Fe 1.1
3 Al 0.7 0.6 10
4 Al NaN 0.6
`
	samples, warnings := parseColumnar([]byte(data), "fe/insertions_5.txt", 5, nil)
	want := []core.InsertionSample{
		{Timestep: 5, SiteID: 0, Species: "Fe", FormationEnthalpy: 1.25, FormationVolume: 0.91},
		{Timestep: 5, SiteID: 0, Species: "Al", FormationEnthalpy: 0.80, FormationVolume: 0.70},
	}
	if diff := cmp.Diff(want, samples); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, warnings, 4)
	lines := []int{}
	for _, w := range warnings {
		assert.Equal(t, IngestionWarning, w.Kind)
		assert.Equal(t, 5, w.Timestep)
		lines = append(lines, w.Line)
	}
	assert.Equal(t, []int{5, 6, 7, 8}, lines)
	assert.Contains(t, warnings[2].Message, "does not match")
}

func TestParseColumnarHeader(t *testing.T) {
	data := `# columns: species site_id formation_enthalpy timestep
2 0 1.5 10
1 0 1.2 10
7 1 1.0 10
# columns: site_id species formation_enthalpy
`
	types := typemap.TypeMap{1: "Fe", 2: "Al"}
	samples, warnings := parseColumnar([]byte(data), "k", 10, types)
	require.Len(t, samples, 2)
	assert.Equal(t, core.Species("Al"), samples[0].Species)
	assert.Equal(t, core.Species("Fe"), samples[1].Species)
	assert.Equal(t, 0.0, samples[0].FormationVolume)

	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0].Message, "unknown atom type")
	assert.Contains(t, warnings[1].Message, "ignored")

	_, warnings = parseColumnar([]byte("# columns: site_id energy\n0 1\n"), "k", 0, nil)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0].Message, "bad columns header")
}

func TestIngestKeepsEmptyTimesteps(t *testing.T) {
	store := blob.NewMemory()
	store.PutString("feal/insertions_0.txt", "# nothing recorded\n")
	store.PutString("feal/insertions_5.txt", "0 Fe 1.2 0.9\n0 Al 0.8 0.7\n")
	store.PutString("feal/insertions_10.txt", "0 Fe 1.1 0.9\n1 Fe 1.3 0.8\n1 Al 0.9 0.6\n")

	src := columnar(t, store)
	ds, warnings, err := Ingest(context.Background(), src, "feal", []int{10, 0, 5}, 3)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 5, 10}, ds.Timesteps())
	assert.Equal(t, []int{0}, ds.EmptyTimesteps())
	assert.Equal(t, 5, ds.SampleCount())
	require.Len(t, warnings, 1)
	assert.Equal(t, EmptyTimestepWarning, warnings[0].Kind)
	assert.Equal(t, 0, warnings[0].Timestep)
}

func TestIngestMissingArtifactIsEmpty(t *testing.T) {
	store := blob.NewMemory()
	store.PutString("feal/insertions_5.txt", "0 Fe 1.2 0.9\n")

	ds, warnings, err := Ingest(context.Background(), columnar(t, store), "feal", []int{0, 5}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, ds.EmptyTimesteps())
	require.Len(t, warnings, 1)
	assert.Equal(t, EmptyTimestepWarning, warnings[0].Kind)
	assert.Contains(t, warnings[0].Message, "artifact missing")
}

func TestIngestIsOrderIndependent(t *testing.T) {
	store := blob.NewMemory()
	for _, ts := range []string{"0", "5", "10", "15"} {
		store.PutString("fe/insertions_"+ts+".txt", "0 Fe 1.0 0.9\n1 Fe 1.1 0.9\nbad\n")
	}
	src := columnar(t, store)
	a, wa, err := Ingest(context.Background(), src, "fe", []int{0, 5, 10, 15}, 1)
	require.NoError(t, err)
	b, wb, err := Ingest(context.Background(), src, "fe", []int{15, 10, 5, 0}, 4)
	require.NoError(t, err)
	assert.Equal(t, a.Entries(), b.Entries())
	assert.Equal(t, wa, wb)
	assert.Equal(t, map[WarningKind]int{IngestionWarning: 4}, CountByKind(wa))
}

func TestIngestRejectsBadTimesteps(t *testing.T) {
	src := columnar(t, blob.NewMemory())
	_, _, err := Ingest(context.Background(), src, "fe", []int{0, -5}, 1)
	assert.ErrorIs(t, err, core.ErrNegativeTimestep)
	_, _, err = Ingest(context.Background(), src, "fe", []int{5, 5}, 1)
	assert.ErrorIs(t, err, core.ErrUnorderedTimesteps)
}

type brokenStore struct{ blob.Store }

var errUnavailable = errors.New("unavailable")

func (brokenStore) Get(context.Context, string) (blob.Info, io.ReadCloser, error) {
	return blob.Info{}, nil, errUnavailable
}

func TestIngestStoreFailureIsFatal(t *testing.T) {
	src := columnar(t, brokenStore{blob.NewMemory()})
	_, _, err := Ingest(context.Background(), src, "fe", []int{0}, 1)
	assert.ErrorIs(t, err, errUnavailable)
}

func TestIngestAllDiscoversTimesteps(t *testing.T) {
	store := blob.NewMemory()
	store.PutString("fe/insertions_20.txt", "0 Fe 1 1\n")
	store.PutString("fe/insertions_3.txt", "0 Fe 1 1\n")
	store.PutString("fe/notes.txt", "x")
	store.PutString("fe2/insertions_1.txt", "0 Fe 1 1\n")

	ds, _, err := IngestAll(context.Background(), columnar(t, store), "fe", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 20}, ds.Timesteps())
}

func putLegacy(store *blob.MemoryStore, dir, kind string, t int, content string) {
	store.PutString(LegacyKey("", dir, "feal", kind, t), content)
}

func TestLegacySource(t *testing.T) {
	store := blob.NewMemory()
	putLegacy(store, energeticsDir, "vacant", 0, "-100.0 -100.5\n-101.0\n")
	putLegacy(store, energeticsDir, "occupying1", 0, "-101.5 -102.0 -102.5\n")
	putLegacy(store, energeticsDir, "occupying2", 0, "-101.0 oops -101.8\n")
	putLegacy(store, energeticsDir, "enthalpy", 0, "-4.2\n")
	putLegacy(store, volumetricsDir, "vacant", 0, "10 10 10\n")
	putLegacy(store, volumetricsDir, "occupying1", 0, "9 9.2 9.1\n")
	putLegacy(store, volumetricsDir, "occupying2", 0, "9.5 9.4 9.3\n")

	src, err := NewSampleSource(SourceLegacy, store, SourceOptions{TypeMap: typemap.TypeMap{1: "Fe", 2: "Al"}})
	require.NoError(t, err)

	samples, warnings, err := src.Read(context.Background(), "feal", 0)
	require.NoError(t, err)
	require.Len(t, samples, 5)
	assert.Equal(t, core.Species("Fe"), samples[0].Species)
	assert.InDelta(t, 1.5, samples[0].FormationEnthalpy, 1e-12)
	assert.InDelta(t, 1.0, samples[0].FormationVolume, 1e-12)
	assert.Equal(t, core.Species("Al"), samples[1].Species)
	assert.InDelta(t, 1.0, samples[1].FormationEnthalpy, 1e-12)
	// site 1 keeps only its Fe sample
	assert.Equal(t, 1, samples[2].SiteID)
	assert.Equal(t, core.Species("Fe"), samples[2].Species)
	assert.Equal(t, 2, samples[3].SiteID)

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Key, "occupying2_0.txt")

	h, err := src.(EnthalpySource).EnthalpyPerAtom(context.Background(), "feal", 0)
	require.NoError(t, err)
	assert.Equal(t, -4.2, h)

	ts, err := src.Timesteps(context.Background(), "feal")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, ts)
}

func TestLegacySourceDropsMismatchedTimestep(t *testing.T) {
	store := blob.NewMemory()
	putLegacy(store, energeticsDir, "vacant", 5, "1 2 3\n")
	putLegacy(store, energeticsDir, "occupying1", 5, "0 1\n")
	putLegacy(store, energeticsDir, "occupying2", 5, "0 1 2\n")

	src, err := NewSampleSource(SourceLegacy, store, SourceOptions{TypeMap: typemap.TypeMap{1: "Fe", 2: "Al"}})
	require.NoError(t, err)

	ds, warnings, err := Ingest(context.Background(), src, "feal", []int{5}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, ds.EmptyTimesteps())
	kinds := CountByKind(warnings)
	assert.Equal(t, 1, kinds[IngestionWarning])
	assert.Equal(t, 1, kinds[EmptyTimestepWarning])
}

func TestLegacySourceWithoutVolumetrics(t *testing.T) {
	store := blob.NewMemory()
	putLegacy(store, energeticsDir, "vacant", 5, "1 2\n")
	putLegacy(store, energeticsDir, "occupying1", 5, "0 1\n")

	src, err := NewSampleSource(SourceLegacy, store, SourceOptions{TypeMap: typemap.TypeMap{1: "Ni"}})
	require.NoError(t, err)
	samples, warnings, err := src.Read(context.Background(), "feal", 5)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 0.0, samples[1].FormationVolume)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "volumetrics missing")
}

func TestLegacySourceDropsTruncatedArray(t *testing.T) {
	store := blob.NewMemory()
	putLegacy(store, energeticsDir, "vacant", 5, "1 2\n")
	putLegacy(store, energeticsDir, "occupying1", 5, "0 1\n"+strings.Repeat("0 ", maxArrayLine/2+1)+"\n")
	putLegacy(store, energeticsDir, "enthalpy", 5, strings.Repeat("-4.2 ", maxArrayLine/5+1)+"\n")

	src, err := NewSampleSource(SourceLegacy, store, SourceOptions{TypeMap: typemap.TypeMap{1: "Ni"}})
	require.NoError(t, err)
	samples, warnings, err := src.Read(context.Background(), "feal", 5)
	require.NoError(t, err)
	assert.Empty(t, samples)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Key, "occupying1_5.txt")
	assert.Contains(t, warnings[0].Message, "read stopped")

	_, err = src.(EnthalpySource).EnthalpyPerAtom(context.Background(), "feal", 5)
	assert.Error(t, err)
}

func TestNewSampleSource(t *testing.T) {
	_, err := NewSampleSource(SourceLegacy, blob.NewMemory(), SourceOptions{})
	assert.ErrorIs(t, err, typemap.ErrNoTypes)
	_, err = NewSampleSource("parquet", blob.NewMemory(), SourceOptions{})
	assert.Error(t, err)
	_, err = NewSampleSource(SourceColumnar, nil, SourceOptions{})
	assert.Error(t, err)
}

func TestParseTimesteps(t *testing.T) {
	got, err := ParseTimesteps(strings.NewReader("0\n5000 1e4 # tail\n15000.0\n"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 5000, 10000, 15000}, got)

	_, err = ParseTimesteps(strings.NewReader("1.5\n"))
	assert.Error(t, err)
	_, err = ParseTimesteps(strings.NewReader("-1\n"))
	assert.ErrorIs(t, err, core.ErrNegativeTimestep)
}

func TestWarningString(t *testing.T) {
	w := Warning{Kind: IngestionWarning, Timestep: 5, Key: "fe/insertions_5.txt", Line: 3, Message: "bad"}
	assert.Equal(t, "ingestion: timestep 5 fe/insertions_5.txt:3: bad", w.String())
}
