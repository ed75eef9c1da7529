package model

import "time"

// OutboxEvent is a domain event waiting to be relayed downstream. Rows are
// relayed in ID order so one aggregate's events keep their order.
type OutboxEvent struct {
	ID          int64  `json:"id" gorm:"primaryKey"`
	EventType   string `json:"event_type" gorm:"size:64;index"`
	AggregateID string `json:"aggregate_id" gorm:"size:64;index"`
	Payload     string `json:"payload" gorm:"type:mediumtext"`
	Status      int    `json:"status" gorm:"index"`
	RetryCount  int    `json:"retry_count" gorm:"default:0"`
	TraceID     string `json:"trace_id" gorm:"size:64;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	StatusPending   = 0
	StatusCompleted = 1
	StatusFailed    = 2
)
