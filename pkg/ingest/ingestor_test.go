package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventlake/eventlake/pkg/model"
)

func testIngestor(events *memEventStore, runs *memRunStore, cfg Config) *Ingestor {
	return NewIngestor(events, runs, NewMemoryFileLocker(), cfg, zap.NewNop())
}

func eventLine(id uuid.UUID) string {
	return fmt.Sprintf(
		`{"event_id":%q,"event_time":"2026-02-18T12:00:00Z","event_name":"view","user_id":7,"session_id":%q,"payload":{"source":"test"}}`,
		id, uuid.New(),
	)
}

func writeBatchFile(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestIngestFilePartialBatch(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{BatchSize: 4, FinalizeTimeout: time.Second})

	// 3 events already persisted by an earlier run.
	preexisting := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	events.seed(preexisting...)

	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, eventLine(uuid.New()))
	}
	for _, id := range preexisting {
		lines = append(lines, eventLine(id))
	}
	lines = append(lines, "{broken")
	lines = append(lines, `{"event_id":"nope","event_name":"view"}`)

	path := writeBatchFile(t, t.TempDir(), "events_partial.jsonl", lines)

	run, err := ingestor.IngestFile(context.Background(), path)
	require.NoError(t, err, "a run degraded only by invalid rows completes without an infrastructure error")

	assert.Equal(t, model.RunPartial, run.Status)
	assert.Equal(t, 15, run.RowsInFile)
	assert.Equal(t, 10, run.RowsLoaded)
	assert.Equal(t, 3, run.RowsDeduped)
	assert.Contains(t, run.ErrorMessage, "2 of 15 rows failed validation")
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 13, events.size())
}

func TestIngestFileIdempotence(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{BatchSize: 3, FinalizeTimeout: time.Second})

	var lines []string
	for i := 0; i < 8; i++ {
		lines = append(lines, eventLine(uuid.New()))
	}
	path := writeBatchFile(t, t.TempDir(), "events_idem.jsonl", lines)

	first, err := ingestor.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, first.Status)
	assert.Equal(t, 8, first.RowsLoaded)
	assert.Equal(t, 0, first.RowsDeduped)

	second, err := ingestor.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, second.Status)
	assert.Equal(t, 0, second.RowsLoaded)
	assert.Equal(t, 8, second.RowsDeduped)

	assert.Equal(t, 8, events.size(), "re-ingesting the same file must not change the store")
	assert.Len(t, runs.all(), 2, "every attempt gets its own audit record")
}

func TestIngestFileConservation(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{BatchSize: 5, FinalizeTimeout: time.Second})

	dup := uuid.New()
	events.seed(dup)

	lines := []string{
		eventLine(uuid.New()),
		eventLine(dup),
		"not json at all",
		eventLine(uuid.New()),
	}
	path := writeBatchFile(t, t.TempDir(), "events_cons.jsonl", lines)

	run, err := ingestor.IngestFile(context.Background(), path)
	require.NoError(t, err)

	invalid := run.RowsInFile - run.RowsLoaded - run.RowsDeduped
	assert.Equal(t, 1, invalid)
	assert.Equal(t, 4, run.RowsInFile)
	assert.Equal(t, 2, run.RowsLoaded)
	assert.Equal(t, 1, run.RowsDeduped)
}

func TestIngestFileEmptySucceeds(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{FinalizeTimeout: time.Second})

	path := filepath.Join(t.TempDir(), "events_empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	run, err := ingestor.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, 0, run.RowsInFile)
}

func TestIngestFileUnreadableSourceFails(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{FinalizeTimeout: time.Second})

	run, err := ingestor.IngestFile(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)

	assert.Equal(t, model.RunFailed, run.Status)
	assert.Equal(t, 0, run.RowsInFile)
	assert.Contains(t, run.ErrorMessage, "open batch source")
	require.NotNil(t, run.FinishedAt, "even a failed run is finalized")
	assert.Len(t, runs.all(), 1)
}

func TestIngestFilePersistenceFailureIsPartial(t *testing.T) {
	events := newMemEventStore()
	events.failOn = 2 // first batch commits, second hits an infrastructure fault
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{BatchSize: 5, FinalizeTimeout: time.Second})

	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, eventLine(uuid.New()))
	}
	path := writeBatchFile(t, t.TempDir(), "events_persist.jsonl", lines)

	run, err := ingestor.IngestFile(context.Background(), path)
	require.Error(t, err)

	assert.Equal(t, model.RunPartial, run.Status, "committed progress before the fault makes the run partial")
	assert.Equal(t, 5, run.RowsLoaded)
	assert.Equal(t, 0, run.RowsDeduped)
	assert.Equal(t, 10, run.RowsInFile, "rows observed up to the fault are preserved")
	assert.Contains(t, run.ErrorMessage, "connection reset")
}

func TestIngestFilePersistenceFailureWithoutProgressFails(t *testing.T) {
	events := newMemEventStore()
	events.failOn = 1
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{BatchSize: 2, FinalizeTimeout: time.Second})

	path := writeBatchFile(t, t.TempDir(), "events_down.jsonl", []string{
		eventLine(uuid.New()), eventLine(uuid.New()), eventLine(uuid.New()),
	})

	run, err := ingestor.IngestFile(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Equal(t, 0, run.RowsLoaded)
}

func TestIngestFileLockConflict(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()
	locker := NewMemoryFileLocker()
	ingestor := NewIngestor(events, runs, locker, Config{FinalizeTimeout: time.Second}, zap.NewNop())

	path := writeBatchFile(t, t.TempDir(), "events_locked.jsonl", []string{eventLine(uuid.New())})

	release, err := locker.Acquire(context.Background(), "events_locked.jsonl")
	require.NoError(t, err)
	defer release()

	_, err = ingestor.IngestFile(context.Background(), path)
	assert.ErrorIs(t, err, ErrFileLocked)
	assert.Empty(t, runs.all(), "a rejected attempt never opens an audit record")
	assert.Equal(t, 0, events.size())
}

func TestIngestFileCancelledContextFinalizes(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{FinalizeTimeout: time.Second})

	path := writeBatchFile(t, t.TempDir(), "events_cancel.jsonl", []string{eventLine(uuid.New())})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := ingestor.IngestFile(ctx, path)
	require.Error(t, err)
	assert.True(t, run.Status.Terminal(), "cancellation must still produce a terminal audit record")
	assert.Equal(t, model.RunFailed, run.Status)
}

func TestIngestFileArchivesOnSuccess(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()

	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	ingestor := testIngestor(events, runs, Config{
		FinalizeTimeout: time.Second,
		ArchiveDir:      archiveDir,
	})

	path := writeBatchFile(t, dir, "events_done.jsonl", []string{eventLine(uuid.New())})

	run, err := ingestor.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, model.RunSucceeded, run.Status)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "source file must be moved")
	_, statErr = os.Stat(filepath.Join(archiveDir, "events_done.jsonl"))
	assert.NoError(t, statErr)
}

func TestIngestFilePartialIsNotArchived(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()

	dir := t.TempDir()
	ingestor := testIngestor(events, runs, Config{
		FinalizeTimeout: time.Second,
		ArchiveDir:      filepath.Join(dir, "archive"),
	})

	path := writeBatchFile(t, dir, "events_stay.jsonl", []string{eventLine(uuid.New()), "{broken"})

	run, err := ingestor.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, model.RunPartial, run.Status)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "partial files stay put so a re-run can rely on idempotence")
}

func TestIngestAllProcessesEveryFile(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{BatchSize: 2, FinalizeTimeout: time.Second})

	dir := t.TempDir()
	var paths []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("events_%d.jsonl", i)
		paths = append(paths, writeBatchFile(t, dir, name, []string{
			eventLine(uuid.New()), eventLine(uuid.New()),
		}))
	}

	results := ingestor.IngestAll(context.Background(), paths, 3)
	require.Len(t, results, 5)

	for _, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, model.RunSucceeded, res.Run.Status)
	}
	assert.Equal(t, 10, events.size())
	assert.Len(t, runs.all(), 5, "exactly one audit record per attempt")
}

// Two files carrying the same event_id: exactly one run reports it inserted,
// the other reports it deduped, regardless of interleaving.
func TestConcurrentDuplicateClassifiedOnce(t *testing.T) {
	events := newMemEventStore()
	runs := newMemRunStore()
	ingestor := testIngestor(events, runs, Config{BatchSize: 1, FinalizeTimeout: time.Second})

	shared := uuid.New()
	dir := t.TempDir()
	paths := []string{
		writeBatchFile(t, dir, "events_a.jsonl", []string{eventLine(shared)}),
		writeBatchFile(t, dir, "events_b.jsonl", []string{eventLine(shared)}),
	}

	results := ingestor.IngestAll(context.Background(), paths, 2)
	require.Len(t, results, 2)

	totalLoaded, totalDeduped := 0, 0
	for _, res := range results {
		require.NoError(t, res.Err)
		totalLoaded += res.Run.RowsLoaded
		totalDeduped += res.Run.RowsDeduped
	}
	assert.Equal(t, 1, totalLoaded)
	assert.Equal(t, 1, totalDeduped)
	assert.Equal(t, 1, events.size())
}
