package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventlake/eventlake/pkg/model"
)

const rawEventsPKey = "raw_events_pkey"

const eventColumns = "event_id, event_time, ingestion_time, event_name, user_id, session_id, product_id, price, device, payload"

type EventRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewEventRepository(db *gorm.DB, log *zap.Logger) *EventRepository {
	return &EventRepository{db: db, log: log}
}

// InsertBatch writes a batch of events in one statement, skipping rows whose
// event_id already exists. The uniqueness constraint is the single source of
// truth: the statement never checks for existence first. Returns the exact
// number of rows inserted and the number skipped as duplicates.
func (r *EventRepository) InsertBatch(ctx context.Context, events []*model.Event) (int, int, error) {
	if len(events) == 0 {
		return 0, 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO raw_events (")
	sb.WriteString(eventColumns)
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(events)*10)
	for i, ev := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			ev.EventID, ev.EventTime, ev.IngestionTime, ev.EventName,
			ev.UserID, ev.SessionID, ev.ProductID, ev.Price, ev.Device, ev.Payload,
		)
	}
	sb.WriteString(" ON CONFLICT (event_id) DO NOTHING")

	res := r.db.WithContext(ctx).Exec(sb.String(), args...)
	if res.Error != nil {
		return 0, 0, res.Error
	}

	inserted := int(res.RowsAffected)
	return inserted, len(events) - inserted, nil
}

// Insert writes a single event without a conflict clause and classifies a
// primary-key violation as a duplicate instead of an error. Any other
// constraint violation is surfaced as-is.
func (r *EventRepository) Insert(ctx context.Context, ev *model.Event) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		"INSERT INTO raw_events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		ev.EventID, ev.EventTime, ev.IngestionTime, ev.EventName,
		ev.UserID, ev.SessionID, ev.ProductID, ev.Price, ev.Device, ev.Payload,
	)
	if res.Error == nil {
		return true, nil
	}
	if IsDuplicateKey(res.Error, rawEventsPKey) {
		return false, nil
	}
	return false, res.Error
}

// Count returns the total number of persisted events.
func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM raw_events").Scan(&count).Error
	return count, err
}

// IsDuplicateKey reports whether err is a unique violation on the named
// constraint. An empty constraint matches any unique violation.
func IsDuplicateKey(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
