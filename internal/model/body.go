package model

import "time"

// MessageBody is the stored payload of one processing attempt.
type MessageBody struct {
	ID              string    `gorm:"primaryKey;size:128"`
	FailedMessageID string    `gorm:"size:36;index"`
	ContentType     string    `gorm:"size:128"`
	Body            []byte    `gorm:"type:longblob"`
	Size            int
	CreatedAt       time.Time
}

func BodyRef(failedMessageID string, timeOfFailure time.Time) string {
	return failedMessageID + "/" + timeOfFailure.UTC().Format("20060102T150405.000000000")
}
