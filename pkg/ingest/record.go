package ingest

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/eventlake/eventlake/pkg/model"
)

// RawRecord is one candidate record as decoded from a batch line, before
// validation. Pointer fields distinguish absent from zero values.
type RawRecord struct {
	EventID   string                 `json:"event_id"`
	EventTime string                 `json:"event_time"`
	EventName string                 `json:"event_name"`
	UserID    *int64                 `json:"user_id"`
	SessionID string                 `json:"session_id"`
	ProductID *int64                 `json:"product_id"`
	Price     *float64               `json:"price"`
	Device    *string                `json:"device"`
	Payload   map[string]interface{} `json:"payload"`
}

// ValidationError names the first field of a candidate record that violated
// its rule. Validation errors are per-row: they are counted, never fatal.
type ValidationError struct {
	Line   int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: invalid %s: %s", e.Line, e.Field, e.Reason)
}

func invalidField(line int, field, reason string) *ValidationError {
	return &ValidationError{Line: line, Field: field, Reason: reason}
}

// Validate turns a candidate record into a persistable Event or reports which
// field failed. IngestionTime is left zero; the loader stamps it at the moment
// of persistence.
func (r *RawRecord) Validate(line int) (*model.Event, error) {
	eventID, err := uuid.Parse(r.EventID)
	if err != nil {
		return nil, invalidField(line, "event_id", "must be a UUID")
	}

	eventTime, err := time.Parse(time.RFC3339Nano, r.EventTime)
	if err != nil {
		return nil, invalidField(line, "event_time", "must be an RFC 3339 timestamp")
	}

	if r.EventName == "" {
		return nil, invalidField(line, "event_name", "must be non-empty")
	}

	if r.UserID == nil {
		return nil, invalidField(line, "user_id", "is required")
	}

	sessionID, err := uuid.Parse(r.SessionID)
	if err != nil {
		return nil, invalidField(line, "session_id", "must be a UUID")
	}

	if r.Price != nil {
		if *r.Price < 0 {
			return nil, invalidField(line, "price", "must be non-negative")
		}
		cents := *r.Price * 100
		if math.Abs(cents-math.Round(cents)) > 1e-9 {
			return nil, invalidField(line, "price", "must have at most 2 fractional digits")
		}
	}

	payload := model.JSONB(r.Payload)
	if payload == nil {
		payload = model.JSONB{}
	}

	return &model.Event{
		EventID:   eventID,
		EventTime: eventTime,
		EventName: r.EventName,
		UserID:    *r.UserID,
		SessionID: sessionID,
		ProductID: r.ProductID,
		Price:     r.Price,
		Device:    r.Device,
		Payload:   payload,
	}, nil
}
