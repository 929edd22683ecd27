package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is one raw analytics event. Rows are written once, keyed by EventID,
// and are never updated or deleted by the pipeline.
type Event struct {
	EventID       uuid.UUID `gorm:"type:uuid;primary_key"`
	EventTime     time.Time `gorm:"not null;index"`
	IngestionTime time.Time `gorm:"not null"`
	EventName     string    `gorm:"type:varchar(255);not null"`
	UserID        int64     `gorm:"not null;index"`
	SessionID     uuid.UUID `gorm:"type:uuid;not null;index"`
	ProductID     *int64
	Price         *float64 `gorm:"type:numeric(12,2)"`
	Device        *string  `gorm:"type:varchar(64)"`
	Payload       JSONB    `gorm:"type:jsonb;not null"`
}

func (Event) TableName() string {
	return "raw_events"
}
