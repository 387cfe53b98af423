package normalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/database"
	"github.com/smukkama/flight-analytics/internal/rawstore"
)

var window = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const day = "year=2024/month=05/day=01"

func writeRaw(t *testing.T, store rawstore.Store, name, body string) string {
	t.Helper()
	key := day + "/" + name
	require.NoError(t, store.Write(context.Background(), key, []byte(body)))
	return key
}

func newFixture(t *testing.T) (*rawstore.FSStore, *database.MemStore) {
	t.Helper()
	return rawstore.NewFSStore(t.TempDir()), database.NewMemStore()
}

// flakyLedger fails the first failures AppendAll calls.
type flakyLedger struct {
	*database.MemStore
	failures int
}

func (f *flakyLedger) AppendAll(ctx context.Context, files []string, at time.Time) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("ledger write interrupted")
	}
	return f.MemStore.AppendAll(ctx, files, at)
}

type failingSink struct{}

func (failingSink) AppendStateVectors(context.Context, []database.StateVector) error {
	return errors.New("table unavailable")
}

func TestNormalizer_SnapshotToStateVector(t *testing.T) {
	raw, mem := newFixture(t)
	key := writeRaw(t, raw, "opensky_120000.json",
		`{"time":200,"states":[["a1","CALL1 ","IN",100,200,68.5,10.0,null,false,250.0,90.0,0.0,null,1000.0,null,false,0]]}`)

	n := NewNormalizer(raw, mem, mem, zap.NewNop())
	ingested := time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
	n.now = func() time.Time { return ingested }

	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsWritten)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.False(t, res.NoNewData())

	rows := mem.StateVectors()
	require.Len(t, rows, 1)
	assert.Equal(t, "a1", rows[0].ICAO24)
	assert.Equal(t, "CALL1", *rows[0].Callsign)
	assert.False(t, *rows[0].OnGround)
	assert.Equal(t, 1000.0, *rows[0].GeoAltitude)
	assert.Equal(t, key, rows[0].SourceFile)
	assert.Equal(t, ingested, rows[0].IngestionTime)

	ledger := mem.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, key, ledger[0].SourceFile)
}

func TestNormalizer_SecondRunIsNoOp(t *testing.T) {
	raw, mem := newFixture(t)
	writeRaw(t, raw, "opensky_120000.json", `{"states":[["abc",null,"IN",1,2,68.1,10.2]]}`)
	writeRaw(t, raw, "opensky_121500.json", `{"states":[["def",null,"IN",1,2,69.1,11.2]]}`)
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	first, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 2, first.RowsWritten)

	second, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.True(t, second.NoNewData())
	assert.Equal(t, 0, second.RowsWritten)
	assert.Equal(t, 2, second.FilesSkipped)

	assert.Len(t, mem.StateVectors(), 2)
	assert.Len(t, mem.Ledger(), 2)
}

func TestNormalizer_OnlyNewFilesAreProcessed(t *testing.T) {
	raw, mem := newFixture(t)
	writeRaw(t, raw, "opensky_120000.json", `{"states":[["abc",null,"IN",1,2,68.1,10.2]]}`)
	n := NewNormalizer(raw, mem, mem, zap.NewNop())
	_, err := n.Run(context.Background(), window)
	require.NoError(t, err)

	writeRaw(t, raw, "opensky_121500.json", `{"states":[["def",null,"IN",1,2,69.1,11.2]]}`)
	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesSkipped)
	assert.Equal(t, 1, res.FilesProcessed)

	rows := mem.StateVectors()
	require.Len(t, rows, 2)
	assert.Equal(t, "def", rows[1].ICAO24)
}

func TestNormalizer_RetryAfterLedgerFailure(t *testing.T) {
	raw, mem := newFixture(t)
	key := writeRaw(t, raw, "opensky_120000.json", `{"states":[["abc",null,"IN",1,2,68.1,10.2]]}`)
	ledger := &flakyLedger{MemStore: mem, failures: 1}
	n := NewNormalizer(raw, ledger, mem, zap.NewNop())

	_, err := n.Run(context.Background(), window)
	var partial *PartialCommitError
	require.True(t, errors.As(err, &partial), "got %v", err)
	assert.True(t, partial.RowsCommitted)
	assert.Empty(t, mem.Ledger())

	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed, "file must be reprocessed, not skipped")

	entries := mem.Ledger()
	require.Len(t, entries, 1)
	assert.Equal(t, key, entries[0].SourceFile)
	// Duplicate rows from the retried file are tolerated.
	assert.Len(t, mem.StateVectors(), 2)

	third, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.True(t, third.NoNewData())
	assert.Len(t, mem.Ledger(), 1)
}

func TestNormalizer_RowAppendFailureLeavesLedgerUntouched(t *testing.T) {
	raw, mem := newFixture(t)
	writeRaw(t, raw, "opensky_120000.json", `{"states":[["abc",null,"IN",1,2,68.1,10.2]]}`)
	n := NewNormalizer(raw, mem, failingSink{}, zap.NewNop())

	_, err := n.Run(context.Background(), window)
	var partial *PartialCommitError
	require.True(t, errors.As(err, &partial), "got %v", err)
	assert.False(t, partial.RowsCommitted)
	assert.Empty(t, mem.Ledger())
}

func TestNormalizer_DropsRowsMissingRequiredFields(t *testing.T) {
	raw, mem := newFixture(t)
	writeRaw(t, raw, "opensky_120000.json",
		`{"states":[["abc",null,null,null,null,68.1,10.2],[null,null,null,null,null,70,12]]}`)
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsWritten)
	assert.Equal(t, 1, res.RowsDropped)

	for _, row := range mem.StateVectors() {
		assert.NotEmpty(t, row.ICAO24)
	}
	require.Len(t, mem.StateVectors(), 1)
	assert.Equal(t, 68.1, mem.StateVectors()[0].Longitude)
}

func TestNormalizer_FileWithNoValidRowsIsStillMarked(t *testing.T) {
	raw, mem := newFixture(t)
	key := writeRaw(t, raw, "opensky_120000.json", `{"states":[[null,null,null,null,null,70,12],"garbage"]}`)
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowsWritten)
	assert.Equal(t, 2, res.RowsDropped)
	assert.Equal(t, 1, res.FilesProcessed)

	require.Len(t, mem.Ledger(), 1)
	assert.Equal(t, key, mem.Ledger()[0].SourceFile)
}

func TestNormalizer_CastErrorsAreCounted(t *testing.T) {
	raw, mem := newFixture(t)
	writeRaw(t, raw, "opensky_120000.json", `{"states":[["abc",null,"IN","soon",2,68.1,10.2,"high"]]}`)
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CastErrors)
	require.Len(t, mem.StateVectors(), 1)
	assert.Nil(t, mem.StateVectors()[0].TimePosition)
}

func TestNormalizer_MissingPrefix(t *testing.T) {
	raw, mem := newFixture(t)
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	_, err := n.Run(context.Background(), window)
	assert.True(t, errors.Is(err, ErrRawStoreUnavailable), "got %v", err)
	assert.True(t, errors.Is(err, rawstore.ErrPrefixNotFound))
	assert.False(t, errors.Is(err, ErrEmptyRawData))
}

func TestNormalizer_EmptyPrefix(t *testing.T) {
	raw, mem := newFixture(t)
	// Only a non-snapshot file: the partition exists but has nothing eligible.
	writeRaw(t, raw, "README.txt", "not a snapshot")
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	_, err := n.Run(context.Background(), window)
	assert.True(t, errors.Is(err, ErrEmptyRawData), "got %v", err)
	assert.False(t, errors.Is(err, ErrRawStoreUnavailable))
}

func TestNormalizer_AllFilesCorrupt(t *testing.T) {
	raw, mem := newFixture(t)
	writeRaw(t, raw, "opensky_120000.json", `{"states":[`)
	writeRaw(t, raw, "opensky_121500.json", `[1,2,3]`)
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	_, err := n.Run(context.Background(), window)
	assert.True(t, errors.Is(err, ErrEmptyRawData), "got %v", err)
	assert.Len(t, mem.Ledger(), 2)
	assert.Empty(t, mem.StateVectors())

	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.True(t, res.NoNewData())
	assert.Equal(t, 2, res.FilesSkipped)
}

func TestNormalizer_CorruptFileIsMarkedOnce(t *testing.T) {
	raw, mem := newFixture(t)
	writeRaw(t, raw, "opensky_120000.json", `{"states":[["abc",null,"IN",1,2,68.1,10.2]]}`)
	writeRaw(t, raw, "opensky_121500.json", `{"states":`)
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 1, res.FilesCorrupt)
	assert.Zero(t, res.FilesUnreadable)
	assert.Len(t, mem.Ledger(), 2)
	assert.Len(t, mem.StateVectors(), 1)

	res, err = n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.True(t, res.NoNewData(), "a corrupt file must not keep the partition busy")
	assert.Equal(t, 2, res.FilesSkipped)
}

// failingReads fails Read for the keys in bad.
type failingReads struct {
	*rawstore.FSStore
	bad map[string]bool
}

func (f *failingReads) Read(ctx context.Context, key string) ([]byte, error) {
	if f.bad[key] {
		return nil, errors.New("input/output error")
	}
	return f.FSStore.Read(ctx, key)
}

func TestNormalizer_ReadFailureIsRetried(t *testing.T) {
	fs, mem := newFixture(t)
	writeRaw(t, fs, "opensky_120000.json", `{"states":[["abc",null,"IN",1,2,68.1,10.2]]}`)
	flaky := writeRaw(t, fs, "opensky_121500.json", `{"states":[["def",null,"IN",1,2,70.5,11.0]]}`)
	raw := &failingReads{FSStore: fs, bad: map[string]bool{flaky: true}}
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 1, res.FilesUnreadable)
	assert.Len(t, mem.Ledger(), 1)
	assert.False(t, res.NoNewData())

	raw.bad = nil
	res, err = n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 1, res.FilesSkipped)
	assert.Len(t, mem.Ledger(), 2)
	assert.Len(t, mem.StateVectors(), 2)
}

func TestNormalizer_LedgerIsGlobalAcrossWindows(t *testing.T) {
	raw, mem := newFixture(t)
	key := writeRaw(t, raw, "opensky_120000.json", `{"states":[["abc",null,"IN",1,2,68.1,10.2]]}`)
	require.NoError(t, mem.AppendAll(context.Background(), []string{key}, window.Add(-24*time.Hour)))
	n := NewNormalizer(raw, mem, mem, zap.NewNop())

	res, err := n.Run(context.Background(), window)
	require.NoError(t, err)
	assert.True(t, res.NoNewData())
	assert.Empty(t, mem.StateVectors())
}
