package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eventlake/eventlake/pkg/metrics"
	"github.com/eventlake/eventlake/pkg/model"
)

// EventWriter is the store contract the loader depends on. Both methods rely
// on the event_id uniqueness constraint to classify duplicates; neither ever
// checks for existence before inserting.
type EventWriter interface {
	// InsertBatch writes a batch and returns the exact number of rows newly
	// inserted and the number skipped as duplicates.
	InsertBatch(ctx context.Context, events []*model.Event) (inserted, deduped int, err error)

	// Insert writes one row and reports whether it was new. A duplicate
	// event_id is not an error.
	Insert(ctx context.Context, ev *model.Event) (inserted bool, err error)
}

// Loader buffers validated events and writes them in transactional batches,
// keeping exact loaded/deduped counts. It stamps ingestion_time at the moment
// a row is handed over, monotonically non-decreasing within the run.
type Loader struct {
	writer    EventWriter
	batchSize int
	log       *zap.Logger

	pending []*model.Event
	loaded  int
	deduped int

	lastStamp time.Time
	now       func() time.Time
}

func NewLoader(writer EventWriter, batchSize int, log *zap.Logger) *Loader {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Loader{
		writer:    writer,
		batchSize: batchSize,
		log:       log,
		pending:   make([]*model.Event, 0, batchSize),
		now:       time.Now,
	}
}

// Add stamps the event and queues it, flushing when the batch is full. An
// error means a persistence failure: remaining work must be abandoned and the
// error surfaced to the orchestrator.
func (l *Loader) Add(ctx context.Context, ev *model.Event) error {
	ev.IngestionTime = l.stamp()

	if l.batchSize == 1 {
		inserted, err := l.writer.Insert(ctx, ev)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.EventID, err)
		}
		l.count(inserted, 1)
		return nil
	}

	l.pending = append(l.pending, ev)
	if len(l.pending) >= l.batchSize {
		return l.Flush(ctx)
	}
	return nil
}

// Flush writes any buffered events.
func (l *Loader) Flush(ctx context.Context) error {
	if len(l.pending) == 0 {
		return nil
	}

	start := l.now()
	inserted, deduped, err := l.writer.InsertBatch(ctx, l.pending)
	if err != nil {
		return fmt.Errorf("insert batch of %d events: %w", len(l.pending), err)
	}
	metrics.BatchInsertDuration.Observe(l.now().Sub(start).Seconds())

	l.loaded += inserted
	l.deduped += deduped
	l.log.Debug("batch flushed",
		zap.Int("batch_size", len(l.pending)),
		zap.Int("inserted", inserted),
		zap.Int("deduped", deduped))
	l.pending = l.pending[:0]
	return nil
}

// Counts returns the rows newly persisted and the rows skipped as duplicates
// so far. Buffered but unflushed rows are in neither count.
func (l *Loader) Counts() (loaded, deduped int) {
	return l.loaded, l.deduped
}

func (l *Loader) count(inserted bool, n int) {
	if inserted {
		l.loaded += n
	} else {
		l.deduped += n
	}
}

// stamp returns the current time, clamped so that ingestion_time never moves
// backwards within one run.
func (l *Loader) stamp() time.Time {
	t := l.now().UTC()
	if t.Before(l.lastStamp) {
		t = l.lastStamp
	}
	l.lastStamp = t
	return t
}
